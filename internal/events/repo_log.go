package events

import (
	"context"
	"log/slog"
)

// LogRepo writes events to a logger at debug level. It backs STORAGE_DRIVER=memory when no
// Redis is configured, so events stay visible without accumulating in memory.
type LogRepo struct {
	log *slog.Logger
}

func NewLogRepo(log *slog.Logger) *LogRepo {
	if log == nil {
		log = slog.Default()
	}
	return &LogRepo{log: log}
}

func (r *LogRepo) Append(ctx context.Context, e Event) error {
	r.log.DebugContext(ctx, "call event",
		"event_id", e.ID,
		"tenant_id", e.TenantID,
		"call_id", e.CallID,
		"event_type", e.Type,
		"data", string(e.Data),
	)
	return nil
}
