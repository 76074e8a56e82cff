package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix is prepended to the tenant id to form the pub/sub channel.
const DefaultChannelPrefix = "call_events:"

// RedisRepo publishes each event on a per-tenant channel for the notification collaborator.
// Publishing is fire-and-forget: Redis keeps nothing for subscribers that are not listening.
type RedisRepo struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisRepo(rdb *redis.Client, prefix string) *RedisRepo {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisRepo{rdb: rdb, prefix: prefix}
}

// Channel returns the pub/sub channel for a tenant.
func (r *RedisRepo) Channel(tenantID string) string { return r.prefix + tenantID }

func (r *RedisRepo) Append(ctx context.Context, e Event) error {
	if r.rdb == nil {
		return fmt.Errorf("events: redis client is nil")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.Channel(e.TenantID), payload).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}
