package routing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"contact-center/internal/queue"
)

// Matcher pairs queued calls with available agents.
//
// Priority:
//  1. Hard filter: active, online, below max concurrent calls, holding every required skill
//  2. Fewest current calls
//  3. Lowest total calls handled
//  4. Agent id, so the choice is deterministic
//
// A routed or pulled call holds one claim on the agent's current_calls in the directory
// until the caller hands it back with ReleaseAgent.
type Matcher struct {
	Directory AgentDirectory
	Queue     *queue.Manager

	log *slog.Logger
}

func NewMatcher(dir AgentDirectory, q *queue.Manager, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{Directory: dir, Queue: q, log: log}
}

// RouteCall picks an agent for a queued call. When no agent qualifies it returns ok=false
// and leaves the call queued so the caller can retry. A call that is not queued (already
// routed, ended or evicted) also yields ok=false.
func (m *Matcher) RouteCall(ctx context.Context, callID, tenantID string) (agentID string, ok bool, err error) {
	if tenantID == "" || callID == "" {
		return "", false, errors.New("routing: tenant_id and call_id required")
	}
	if m.Directory == nil || m.Queue == nil {
		return "", false, errors.New("routing: matcher not configured")
	}

	entry, queued := m.Queue.Peek(tenantID, callID)
	if !queued {
		return "", false, nil
	}

	// Roster lookup is I/O; no queue lock is held here.
	agents, err := m.Directory.ListAgents(ctx, tenantID)
	if err != nil {
		return "", false, fmt.Errorf("routing: list agents: %w", err)
	}

	var best Agent
	found := false
	for _, a := range rankAgents(agents, tenantID, entry.RequiredSkills) {
		claimed, err := m.Directory.ClaimCall(ctx, tenantID, a.ID)
		if err != nil {
			return "", false, fmt.Errorf("routing: claim agent: %w", err)
		}
		// A stale roster read loses the race to another router; try the next agent.
		if claimed {
			best, found = a, true
			break
		}
	}
	if !found {
		m.log.Debug("no agent available", "tenant_id", tenantID, "call_id", callID, "required_skills", entry.RequiredSkills)
		return "", false, nil
	}

	// Another router or the agent-pull flow may have claimed the entry meanwhile.
	if !m.Queue.Remove(tenantID, callID) {
		m.ReleaseAgent(ctx, tenantID, best.ID, false)
		return "", false, nil
	}
	m.log.Info("call routed", "tenant_id", tenantID, "call_id", callID, "agent_id", best.ID, "priority", entry.Priority)
	return best.ID, true, nil
}

// NextCallForAgent serves the agent-pull flow: the highest-priority call the agent is
// skilled for is dequeued and returned.
func (m *Matcher) NextCallForAgent(ctx context.Context, tenantID, agentID string) (queue.Entry, bool, error) {
	if tenantID == "" || agentID == "" {
		return queue.Entry{}, false, errors.New("routing: tenant_id and agent_id required")
	}
	if m.Directory == nil || m.Queue == nil {
		return queue.Entry{}, false, errors.New("routing: matcher not configured")
	}

	a, err := m.Directory.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return queue.Entry{}, false, err
	}
	if a.TenantID != "" && a.TenantID != tenantID {
		return queue.Entry{}, false, ErrAgentNotFound
	}
	if !a.Available() {
		return queue.Entry{}, false, ErrAgentUnavailable
	}

	claimed, err := m.Directory.ClaimCall(ctx, tenantID, agentID)
	if err != nil {
		return queue.Entry{}, false, fmt.Errorf("routing: claim agent: %w", err)
	}
	if !claimed {
		return queue.Entry{}, false, ErrAgentUnavailable
	}

	e, ok := m.Queue.DequeueBest(tenantID, a.SkillSet())
	if !ok {
		m.ReleaseAgent(ctx, tenantID, agentID, false)
		return queue.Entry{}, false, nil
	}
	m.log.Info("call pulled", "tenant_id", tenantID, "call_id", e.CallID, "agent_id", agentID, "priority", e.Priority)
	return e, true, nil
}

// ReleaseAgent hands back a claim taken by RouteCall or NextCallForAgent. handled counts
// the call toward the agent's total. Failures are logged.
func (m *Matcher) ReleaseAgent(ctx context.Context, tenantID, agentID string, handled bool) {
	if m == nil || m.Directory == nil || agentID == "" {
		return
	}
	if err := m.Directory.ReleaseCall(ctx, tenantID, agentID, handled); err != nil {
		m.log.Warn("agent release failed", "tenant_id", tenantID, "agent_id", agentID, "err", err)
	}
}

// rankAgents returns the qualifying agents, best first.
func rankAgents(agents []Agent, tenantID string, required []string) []Agent {
	candidates := make([]Agent, 0, len(agents))
	for _, a := range agents {
		if a.TenantID != "" && a.TenantID != tenantID {
			continue
		}
		if !a.Available() || !a.HasSkills(required) {
			continue
		}
		candidates = append(candidates, a)
	}
	slices.SortFunc(candidates, func(a, b Agent) int {
		return cmp.Or(
			cmp.Compare(a.CurrentCalls, b.CurrentCalls),
			cmp.Compare(a.TotalCallsHandled, b.TotalCallsHandled),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return candidates
}
