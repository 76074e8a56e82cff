package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for calls created in Range.
// Tenant isolation: TenantID is required.
type CallsSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`

	// Tag narrows the summary to calls carrying the tag.
	Tag string `json:"tag,omitempty"`
}

type CallsSummary struct {
	TenantID string    `json:"tenant_id"`
	Tag      string    `json:"tag,omitempty"`
	Range    TimeRange `json:"range"`

	TotalCalls     int `json:"total_calls"`
	InboundCalls   int `json:"inbound_calls"`
	OutboundCalls  int `json:"outbound_calls"`
	RingingCalls   int `json:"ringing_calls"`
	ConnectedCalls int `json:"connected_calls"`
	EndedCalls     int `json:"ended_calls"`
	MissedCalls    int `json:"missed_calls"`
	BusyCalls      int `json:"busy_calls"`
	FailedCalls    int `json:"failed_calls"`

	// AnsweredCalls counts calls that ever connected, whatever their current status.
	AnsweredCalls int     `json:"answered_calls"`
	AnswerRate    float64 `json:"answer_rate"`

	TotalTalkSeconds     int64 `json:"total_talk_seconds"`
	AverageTalkSeconds   int64 `json:"average_talk_seconds"`
	AverageAnswerSeconds int64 `json:"average_answer_seconds"`
}

// AgentLoad is the per-agent slice of a summary.
type AgentLoad struct {
	AgentID          string `json:"agent_id"`
	Calls            int    `json:"calls"`
	AnsweredCalls    int    `json:"answered_calls"`
	TotalTalkSeconds int64  `json:"total_talk_seconds"`
}
