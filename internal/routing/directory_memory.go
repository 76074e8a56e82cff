package routing

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryDirectory is an in-memory AgentDirectory keyed by tenant.
// It backs tests and STORAGE_DRIVER=memory.
type MemoryDirectory struct {
	mu     sync.RWMutex
	agents map[string]map[string]Agent
}

func NewMemoryDirectory(agents ...Agent) *MemoryDirectory {
	d := &MemoryDirectory{agents: map[string]map[string]Agent{}}
	for _, a := range agents {
		d.Put(a)
	}
	return d
}

// Put inserts or replaces an agent.
func (d *MemoryDirectory) Put(a Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byID := d.agents[a.TenantID]
	if byID == nil {
		byID = map[string]Agent{}
		d.agents[a.TenantID] = byID
	}
	a.Skills = slices.Clone(a.Skills)
	byID[a.ID] = a
}

func (d *MemoryDirectory) ListAgents(ctx context.Context, tenantID string) ([]Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Agent, 0, len(d.agents[tenantID]))
	for _, a := range d.agents[tenantID] {
		a.Skills = slices.Clone(a.Skills)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryDirectory) GetAgent(ctx context.Context, tenantID, agentID string) (Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[tenantID][agentID]
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	a.Skills = slices.Clone(a.Skills)
	return a, nil
}

func (d *MemoryDirectory) ClaimCall(ctx context.Context, tenantID, agentID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[tenantID][agentID]
	if !ok {
		return false, ErrAgentNotFound
	}
	if a.CurrentCalls >= a.MaxConcurrentCalls {
		return false, nil
	}
	a.CurrentCalls++
	d.agents[tenantID][agentID] = a
	return true, nil
}

func (d *MemoryDirectory) ReleaseCall(ctx context.Context, tenantID, agentID string, handled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[tenantID][agentID]
	if !ok {
		return ErrAgentNotFound
	}
	if a.CurrentCalls > 0 {
		a.CurrentCalls--
	}
	if handled {
		a.TotalCallsHandled++
	}
	d.agents[tenantID][agentID] = a
	return nil
}
