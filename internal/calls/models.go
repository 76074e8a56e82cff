package calls

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Call represents a tenant-scoped contact-center call.
//
// Multi-tenant invariant: TenantID is required on every call.
// Identity fields (ID, TenantID, Direction, CreatedAt) never change after creation;
// everything else moves only through the orchestrator's transitions.
type Call struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	AgentID  string `json:"agent_id,omitempty" db:"agent_id"`

	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	CustomerName  string `json:"customer_name,omitempty" db:"customer_name"`
	CustomerEmail string `json:"customer_email,omitempty" db:"customer_email"`
	CustomerPhone string `json:"customer_phone,omitempty" db:"customer_phone"`

	Tags []string `json:"tags" db:"tags"`

	// Metadata is an opaque JSON document supplied by the caller.
	Metadata json.RawMessage `json:"metadata,omitempty" db:"metadata"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type Status string

const (
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusEnded     Status = "ended"
	StatusMissed    Status = "missed"
	StatusBusy      Status = "busy"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further status changes are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusMissed, StatusBusy, StatusFailed:
		return true
	default:
		return false
	}
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// HasTag reports whether the call carries tag (case-insensitive).
func (c Call) HasTag(tag string) bool {
	return slices.ContainsFunc(c.Tags, func(t string) bool { return strings.EqualFold(t, tag) })
}

// Clone returns a deep copy so snapshots handed to collaborators never alias live state.
func (c Call) Clone() Call {
	out := c
	out.Tags = slices.Clone(c.Tags)
	if c.Metadata != nil {
		out.Metadata = slices.Clone(c.Metadata)
	}
	if c.AnsweredAt != nil {
		t := *c.AnsweredAt
		out.AnsweredAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	return out
}

// NormalizeTags lower-cases, trims and de-duplicates tags, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
