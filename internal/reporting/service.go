package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"contact-center/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Implementations must enforce tenant filtering.
// - The range is half-open on created_at: [from, to).
type Repository interface {
	ListCalls(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, clock: time.Now} }

func (s *Service) WithClock(now func() time.Time) *Service {
	s.clock = now
	return s
}

// DefaultRange is the last 24 hours.
func (s *Service) DefaultRange() TimeRange {
	to := s.clock().UTC()
	return TimeRange{From: to.Add(-24 * time.Hour), To: to}
}

func (s *Service) list(ctx context.Context, tenantID string, r TimeRange, tag string) ([]calls.Call, error) {
	if tenantID == "" {
		return nil, ErrInvalidRequest
	}
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, tenantID, r.From, r.To)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		return rows, nil
	}
	out := rows[:0]
	for _, c := range rows {
		if c.HasTag(tag) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	rows, err := s.list(ctx, req.TenantID, req.Range, req.Tag)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{TenantID: req.TenantID, Tag: req.Tag, Range: req.Range}
	var answerSeconds int64
	for _, c := range rows {
		out.TotalCalls++
		if c.Direction == calls.DirectionOutbound {
			out.OutboundCalls++
		} else {
			out.InboundCalls++
		}
		switch c.Status {
		case calls.StatusRinging:
			out.RingingCalls++
		case calls.StatusConnected:
			out.ConnectedCalls++
		case calls.StatusEnded:
			out.EndedCalls++
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		}
		if c.AnsweredAt != nil {
			out.AnsweredCalls++
			answerSeconds += int64(c.AnsweredAt.Sub(c.CreatedAt) / time.Second)
			out.TotalTalkSeconds += talkSeconds(c)
		}
	}
	if out.TotalCalls > 0 {
		out.AnswerRate = float64(out.AnsweredCalls) / float64(out.TotalCalls)
	}
	if out.AnsweredCalls > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / int64(out.AnsweredCalls)
		out.AverageAnswerSeconds = answerSeconds / int64(out.AnsweredCalls)
	}
	return out, nil
}

// AgentLoads breaks the range down per assigned agent, busiest first. Unassigned calls are
// left out.
func (s *Service) AgentLoads(ctx context.Context, req CallsSummaryRequest) ([]AgentLoad, error) {
	rows, err := s.list(ctx, req.TenantID, req.Range, req.Tag)
	if err != nil {
		return nil, err
	}

	byAgent := map[string]*AgentLoad{}
	for _, c := range rows {
		if c.AgentID == "" {
			continue
		}
		l := byAgent[c.AgentID]
		if l == nil {
			l = &AgentLoad{AgentID: c.AgentID}
			byAgent[c.AgentID] = l
		}
		l.Calls++
		if c.AnsweredAt != nil {
			l.AnsweredCalls++
			l.TotalTalkSeconds += talkSeconds(c)
		}
	}

	out := make([]AgentLoad, 0, len(byAgent))
	for _, l := range byAgent {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}

// talkSeconds is answered to ended; calls still connected count nothing yet.
func talkSeconds(c calls.Call) int64 {
	if c.AnsweredAt == nil || c.EndedAt == nil || c.EndedAt.Before(*c.AnsweredAt) {
		return 0
	}
	return int64(c.EndedAt.Sub(*c.AnsweredAt) / time.Second)
}
