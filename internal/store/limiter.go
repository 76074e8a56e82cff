package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"contact-center/pkg/utils"
)

const slotScope = "webrtc_connections"

// SlotLimiter caps open signaling connections per tenant across every API instance,
// using the Redis counters in pkg/utils.
type SlotLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

// NewSlotLimiter returns a limiter allowing limit connections per tenant. ttl bounds how
// long a slot leaked by a crashed process can linger.
func NewSlotLimiter(rdb *redis.Client, limit int, ttl time.Duration) *SlotLimiter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SlotLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func (l *SlotLimiter) Acquire(ctx context.Context, tenantID string) (bool, error) {
	return utils.AcquireSlot(ctx, l.rdb, utils.SlotKey(slotScope, tenantID), l.limit, l.ttl)
}

func (l *SlotLimiter) Release(ctx context.Context, tenantID string) error {
	return utils.ReleaseSlot(ctx, l.rdb, utils.SlotKey(slotScope, tenantID))
}

// MemoryLimiter is the single-process equivalent of SlotLimiter.
type MemoryLimiter struct {
	mu    sync.Mutex
	limit int
	used  map[string]int
}

func NewMemoryLimiter(limit int) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, used: map[string]int{}}
}

func (l *MemoryLimiter) Acquire(ctx context.Context, tenantID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used[tenantID] >= l.limit {
		return false, nil
	}
	l.used[tenantID]++
	return true, nil
}

func (l *MemoryLimiter) Release(ctx context.Context, tenantID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used[tenantID] <= 1 {
		delete(l.used, tenantID)
		return nil
	}
	l.used[tenantID]--
	return nil
}

func (l *MemoryLimiter) InUse(tenantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[tenantID]
}
