package queue

import (
	"slices"
	"sort"
	"sync"
	"time"

	"contact-center/internal/calls"
)

// Entry is a queued, unassigned call.
type Entry struct {
	CallID         string    `json:"call_id"`
	TenantID       string    `json:"tenant_id"`
	Priority       int       `json:"priority"`
	RequiredSkills []string  `json:"required_skills"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

func (e Entry) clone() Entry {
	e.RequiredSkills = slices.Clone(e.RequiredSkills)
	return e
}

// Stats is a point-in-time view of one tenant's queue.
type Stats struct {
	TenantID           string    `json:"tenant_id"`
	Count              int       `json:"count"`
	HighPriorityCount  int       `json:"high_priority_count"`
	AverageWaitSeconds int64     `json:"average_wait_seconds"`
	Timestamp          time.Time `json:"timestamp"`
}

// Manager holds one priority-ordered queue per tenant.
//
// Concurrency:
// - the tenant map lock is held only to find or create a tenant's queue;
// - each tenant queue has its own RWMutex: Stats/Peek share it, mutations take it exclusively.
// Tenants never contend with each other.
type Manager struct {
	mu      sync.RWMutex
	tenants map[string]*tenantQueue

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type tenantQueue struct {
	mu sync.RWMutex
	// entries is sorted by priority descending; equal priorities keep insertion order.
	entries []Entry
	index   map[string]struct{}
}

func NewManager() *Manager {
	return &Manager{tenants: map[string]*tenantQueue{}, clock: time.Now}
}

// WithClock overrides the time source. Intended for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.clock = now
	return m
}

func (m *Manager) tenant(tenantID string, create bool) *tenantQueue {
	m.mu.RLock()
	q := m.tenants[tenantID]
	m.mu.RUnlock()
	if q != nil || !create {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q = m.tenants[tenantID]; q == nil {
		q = &tenantQueue{index: map[string]struct{}{}}
		m.tenants[tenantID] = q
	}
	return q
}

// Enqueue adds the call to its tenant's queue. It is idempotent per call id:
// if the call is already queued the existing entry is returned unchanged.
func (m *Manager) Enqueue(c calls.Call) Entry {
	e := Entry{
		CallID:         c.ID,
		TenantID:       c.TenantID,
		Priority:       Priority(c),
		RequiredSkills: RequiredSkills(c),
		EnqueuedAt:     m.clock().UTC(),
	}

	q := m.tenant(c.TenantID, true)
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[c.ID]; ok {
		for _, existing := range q.entries {
			if existing.CallID == c.ID {
				return existing.clone()
			}
		}
	}

	pos := sort.Search(len(q.entries), func(i int) bool { return q.entries[i].Priority < e.Priority })
	q.entries = slices.Insert(q.entries, pos, e)
	q.index[c.ID] = struct{}{}
	return e.clone()
}

// DequeueBest removes and returns the highest-priority entry whose required skills
// are covered by skills. Ties resolve to the earliest enqueued entry.
// An unknown tenant behaves as an empty queue.
func (m *Manager) DequeueBest(tenantID string, skills Skills) (Entry, bool) {
	q := m.tenant(tenantID, false)
	if q == nil {
		return Entry{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if !skills.Covers(e.RequiredSkills) {
			continue
		}
		q.entries = slices.Delete(q.entries, i, i+1)
		delete(q.index, e.CallID)
		return e, true
	}
	return Entry{}, false
}

// Peek returns the queued entry for callID without removing it.
func (m *Manager) Peek(tenantID, callID string) (Entry, bool) {
	q := m.tenant(tenantID, false)
	if q == nil {
		return Entry{}, false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()

	if _, ok := q.index[callID]; !ok {
		return Entry{}, false
	}
	for _, e := range q.entries {
		if e.CallID == callID {
			return e.clone(), true
		}
	}
	return Entry{}, false
}

// Remove deletes callID from the tenant queue. It reports whether this caller removed it,
// so two concurrent removers can never both claim the same entry.
func (m *Manager) Remove(tenantID, callID string) bool {
	q := m.tenant(tenantID, false)
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[callID]; !ok {
		return false
	}
	for i, e := range q.entries {
		if e.CallID == callID {
			q.entries = slices.Delete(q.entries, i, i+1)
			delete(q.index, callID)
			return true
		}
	}
	return false
}

// Rescore recomputes the priority of a queued call, for example after it was escalated.
// The entry keeps its EnqueuedAt and moves behind earlier entries of equal priority.
// ok=false means the call is not queued.
func (m *Manager) Rescore(c calls.Call) (Entry, bool) {
	q := m.tenant(c.TenantID, false)
	if q == nil {
		return Entry{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[c.ID]; !ok {
		return Entry{}, false
	}
	i := slices.IndexFunc(q.entries, func(e Entry) bool { return e.CallID == c.ID })
	if i < 0 {
		return Entry{}, false
	}
	e := q.entries[i]
	q.entries = slices.Delete(q.entries, i, i+1)
	e.Priority = Priority(c)
	e.RequiredSkills = RequiredSkills(c)

	pos := sort.Search(len(q.entries), func(j int) bool {
		o := q.entries[j]
		return o.Priority < e.Priority || (o.Priority == e.Priority && o.EnqueuedAt.After(e.EnqueuedAt))
	})
	q.entries = slices.Insert(q.entries, pos, e)
	return e.clone(), true
}

func (m *Manager) Stats(tenantID string) Stats {
	now := m.clock().UTC()
	st := Stats{TenantID: tenantID, Timestamp: now}

	q := m.tenant(tenantID, false)
	if q == nil {
		return st
	}
	q.mu.RLock()
	defer q.mu.RUnlock()

	var waited int64
	for _, e := range q.entries {
		if e.Priority >= HighPriorityCutoff {
			st.HighPriorityCount++
		}
		if d := now.Sub(e.EnqueuedAt); d > 0 {
			waited += int64(d / time.Second)
		}
	}
	st.Count = len(q.entries)
	if st.Count > 0 {
		st.AverageWaitSeconds = waited / int64(st.Count)
	}
	return st
}

// EvictWaitingSince removes every entry, across all tenants, enqueued before cutoff.
func (m *Manager) EvictWaitingSince(cutoff time.Time) []Entry {
	m.mu.RLock()
	queues := make([]*tenantQueue, 0, len(m.tenants))
	for _, q := range m.tenants {
		queues = append(queues, q)
	}
	m.mu.RUnlock()

	var evicted []Entry
	for _, q := range queues {
		q.mu.Lock()
		kept := q.entries[:0]
		for _, e := range q.entries {
			if e.EnqueuedAt.Before(cutoff) {
				evicted = append(evicted, e)
				delete(q.index, e.CallID)
				continue
			}
			kept = append(kept, e)
		}
		clear(q.entries[len(kept):])
		q.entries = kept
		q.mu.Unlock()
	}
	return evicted
}
