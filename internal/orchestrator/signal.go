package orchestrator

import (
	"context"
	"fmt"
	"time"

	"contact-center/internal/calls"
	"contact-center/internal/events"
	"contact-center/internal/signaling"
)

// Signal types accepted on the HTTP signaling surface.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
)

// Signal is one offer, answer or ICE candidate for a call.
type Signal struct {
	CallID    string
	Type      string
	SDP       string
	Candidate string
	Timestamp time.Time
}

// HandleOffer applies an offer. The first offer opens the call's connection, which takes a
// limiter slot, and emits call_ringing.
func (s *Service) HandleOffer(ctx context.Context, sig Signal) (signaling.Response, error) {
	if sig.CallID == "" || sig.SDP == "" {
		return signaling.Response{}, fmt.Errorf("%w: callId and sdp required", ErrInvalidArgument)
	}
	rec, ok := s.get(sig.CallID)
	if !ok {
		return signaling.Response{}, ErrCallNotFound
	}
	c := s.snapshot(rec)
	if c.Status.Terminal() {
		return signaling.Response{}, fmt.Errorf("%w: call is %s", signaling.ErrInvalidState, c.Status)
	}

	_, exists := s.engine.Connection(c.ID)
	acquired := false
	if !exists {
		if err := s.acquireSlot(ctx, c.TenantID); err != nil {
			return signaling.Response{}, err
		}
		acquired = true
	}

	resp, err := s.engine.HandleOffer(c.ID, sig.SDP)
	if err != nil || !resp.Created {
		// Another offer opened the connection first, or the engine refused.
		if acquired {
			s.releaseSlot(ctx, c.TenantID, c.ID)
		}
		if err != nil {
			return signaling.Response{}, err
		}
		return resp, nil
	}

	rec.mu.Lock()
	ended := rec.call.Status.Terminal()
	if !ended {
		rec.slotHeld = acquired
	}
	rec.mu.Unlock()
	if ended {
		// The call finished while this offer was in flight.
		s.engine.Close(c.ID)
		if acquired {
			s.releaseSlot(ctx, c.TenantID, c.ID)
		}
		return signaling.Response{}, fmt.Errorf("%w: call finished during offer", signaling.ErrInvalidState)
	}

	s.events.Emit(ctx, c.TenantID, c.ID, events.CallRinging, map[string]any{
		"connection_id": resp.ConnectionID,
	})
	return resp, nil
}

// HandleAnswer applies an answer and mirrors a connected connection into the call status.
func (s *Service) HandleAnswer(ctx context.Context, sig Signal) (signaling.Response, error) {
	if sig.CallID == "" || sig.SDP == "" {
		return signaling.Response{}, fmt.Errorf("%w: callId and sdp required", ErrInvalidArgument)
	}
	rec, ok := s.get(sig.CallID)
	if !ok {
		return signaling.Response{}, ErrCallNotFound
	}

	resp, err := s.engine.HandleAnswer(sig.CallID, sig.SDP)
	if err != nil {
		return signaling.Response{}, err
	}

	now := s.now()
	changed := false
	rec.mu.Lock()
	if resp.State == signaling.StateConnected && !rec.call.Status.Terminal() && rec.call.Status != calls.StatusConnected {
		rec.call.Status = calls.StatusConnected
		rec.call.AnsweredAt = &now
		rec.call.UpdatedAt = now
		changed = true
	}
	c := rec.call.Clone()
	rec.mu.Unlock()

	if changed {
		s.record(ctx, c)
		s.events.Emit(ctx, c.TenantID, c.ID, events.CallAnswered, map[string]any{
			"connection_id": resp.ConnectionID,
			"agent_id":      c.AgentID,
		})
		s.log.Info("call answered", "tenant_id", c.TenantID, "call_id", c.ID)
	}
	return resp, nil
}

// HandleICECandidate forwards a candidate to the engine. Candidates may race ahead of the
// call's offer, so unknown calls are accepted and ignored.
func (s *Service) HandleICECandidate(ctx context.Context, sig Signal) (signaling.Response, error) {
	if sig.CallID == "" {
		return signaling.Response{}, fmt.Errorf("%w: callId required", ErrInvalidArgument)
	}
	return s.engine.HandleICECandidate(sig.CallID, sig.Candidate), nil
}

// HandleSignal dispatches on sig.Type.
func (s *Service) HandleSignal(ctx context.Context, sig Signal) (signaling.Response, error) {
	switch sig.Type {
	case SignalOffer:
		return s.HandleOffer(ctx, sig)
	case SignalAnswer:
		return s.HandleAnswer(ctx, sig)
	case SignalICECandidate:
		return s.HandleICECandidate(ctx, sig)
	default:
		return signaling.Response{}, fmt.Errorf("%w: unknown signal type %q", ErrInvalidArgument, sig.Type)
	}
}
