package orchestrator

import (
	"context"
	"fmt"

	"contact-center/internal/calls"
	"contact-center/internal/events"
	"contact-center/internal/signaling"
)

const escalationTag = "escalation"

// RouteCall asks the matcher for an agent for a queued call. ok=false means no agent is
// free yet and the call stays queued.
func (s *Service) RouteCall(ctx context.Context, callID string) (calls.Call, bool, error) {
	rec, ok := s.get(callID)
	if !ok {
		return calls.Call{}, false, ErrCallNotFound
	}
	c := s.snapshot(rec)
	if c.Status.Terminal() {
		return c, false, nil
	}

	agentID, ok, err := s.matcher.RouteCall(ctx, c.ID, c.TenantID)
	if err != nil || !ok {
		return c, false, err
	}
	c, assigned := s.assign(ctx, rec, agentID)
	return c, assigned, nil
}

// AssignNext serves the agent-pull flow: the best queued call the agent can take is
// dequeued and assigned to them.
func (s *Service) AssignNext(ctx context.Context, tenantID, agentID string) (calls.Call, bool, error) {
	entry, ok, err := s.matcher.NextCallForAgent(ctx, tenantID, agentID)
	if err != nil || !ok {
		return calls.Call{}, false, err
	}
	rec, found := s.get(entry.CallID)
	if !found {
		s.log.Warn("dequeued call has no record", "tenant_id", tenantID, "call_id", entry.CallID)
		s.matcher.ReleaseAgent(ctx, tenantID, agentID, false)
		return calls.Call{}, false, nil
	}
	c, assigned := s.assign(ctx, rec, agentID)
	return c, assigned, nil
}

// assign records agentID on the call and emits call_transferred (queue to agent). The
// matcher's claim on the agent moves to the call and is released by finish.
func (s *Service) assign(ctx context.Context, rec *callRecord, agentID string) (calls.Call, bool) {
	now := s.now()
	rec.mu.Lock()
	if rec.call.Status.Terminal() {
		c := rec.call.Clone()
		rec.mu.Unlock()
		s.matcher.ReleaseAgent(ctx, c.TenantID, agentID, false)
		return c, false
	}
	previous := rec.call.AgentID
	previousClaimed := rec.agentClaimed
	rec.call.AgentID = agentID
	rec.call.UpdatedAt = now
	rec.agentClaimed = true
	c := rec.call.Clone()
	rec.mu.Unlock()

	if previousClaimed && previous != "" {
		s.matcher.ReleaseAgent(ctx, c.TenantID, previous, false)
	}

	s.record(ctx, c)
	s.events.Emit(ctx, c.TenantID, c.ID, events.CallTransferred, map[string]any{
		"agent_id":      agentID,
		"from_agent_id": previous,
	})
	s.log.Info("call assigned", "tenant_id", c.TenantID, "call_id", c.ID, "agent_id", agentID)
	return c, true
}

// EscalateCall tags the call for escalation and, while it is still queued, moves it ahead
// with the escalation bonus. Escalating an escalated call is a no-op.
func (s *Service) EscalateCall(ctx context.Context, callID, reason string) (calls.Call, error) {
	rec, ok := s.get(callID)
	if !ok {
		return calls.Call{}, ErrCallNotFound
	}

	rec.mu.Lock()
	if rec.call.Status.Terminal() {
		status := rec.call.Status
		rec.mu.Unlock()
		return calls.Call{}, fmt.Errorf("%w: call is %s", signaling.ErrInvalidState, status)
	}
	if rec.call.HasTag(escalationTag) {
		c := rec.call.Clone()
		rec.mu.Unlock()
		return c, nil
	}
	rec.call.Tags = append(rec.call.Tags, escalationTag)
	rec.call.UpdatedAt = s.now()
	c := rec.call.Clone()
	rec.mu.Unlock()

	entry, queued := s.queue.Rescore(c)
	s.record(ctx, c)
	data := map[string]any{"reason": reason, "queued": queued}
	if queued {
		data["priority"] = entry.Priority
	}
	s.events.Emit(ctx, c.TenantID, c.ID, events.CallEscalated, data)
	s.log.Info("call escalated", "tenant_id", c.TenantID, "call_id", c.ID, "queued", queued)
	return c, nil
}
