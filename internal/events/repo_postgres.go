package events

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends events to the call_events table.
// The table is INSERT-only; a duplicate id is ignored so retried appends stay idempotent.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (id, call_id, tenant_id, event_type, data, timestamp)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`
	var data any
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	if _, err := r.db.ExecContext(ctx, q, e.ID, e.CallID, e.TenantID, string(e.Type), data, e.Timestamp); err != nil {
		return fmt.Errorf("events: insert call_event: %w", err)
	}
	return nil
}
