package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"contact-center/internal/calls"
)

// MemoryRecorder keeps the latest snapshot of each call. Used for tests and
// STORAGE_DRIVER=memory.
type MemoryRecorder struct {
	mu    sync.Mutex
	calls map[string]calls.Call
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{calls: map[string]calls.Call{}}
}

// Record keeps c unless a newer snapshot of the same call is already stored.
func (r *MemoryRecorder) Record(ctx context.Context, c calls.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.calls[c.ID]; ok && cur.UpdatedAt.After(c.UpdatedAt) {
		return nil
	}
	r.calls[c.ID] = c.Clone()
	return nil
}

func (r *MemoryRecorder) Get(callID string) (calls.Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	return c.Clone(), ok
}

// ListCalls returns the tenant's calls created in [from, to), oldest first.
func (r *MemoryRecorder) ListCalls(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []calls.Call
	for _, c := range r.calls {
		if c.TenantID != tenantID || c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
