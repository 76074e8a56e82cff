package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"contact-center/internal/calls"
	"contact-center/internal/routing"
	"contact-center/pkg/utils"
)

// NOTE: This store assumes the schema in migrations/ (see Migrate):
// - calls (one row per call, upserted on every change)
// - agents (roster written by PutAgents; live counters by ClaimCall/ReleaseCall)

// Postgres persists call snapshots and reads the agent roster.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Record upserts the call. Snapshots older than the stored row are ignored, so concurrent
// writers for the same call cannot move it backwards.
func (p *Postgres) Record(ctx context.Context, c calls.Call) error {
	const q = `
INSERT INTO calls (
	id, tenant_id, agent_id, direction, status,
	customer_name, customer_email, customer_phone,
	tags, metadata, created_at, updated_at, answered_at, ended_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
	agent_id = EXCLUDED.agent_id,
	status = EXCLUDED.status,
	tags = EXCLUDED.tags,
	metadata = EXCLUDED.metadata,
	updated_at = EXCLUDED.updated_at,
	answered_at = EXCLUDED.answered_at,
	ended_at = EXCLUDED.ended_at
WHERE calls.updated_at <= EXCLUDED.updated_at
`
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, q,
		c.ID,
		c.TenantID,
		nullString(c.AgentID),
		string(c.Direction),
		string(c.Status),
		nullString(c.CustomerName),
		nullString(c.CustomerEmail),
		nullString(c.CustomerPhone),
		string(tagsJSON),
		nullJSON(c.Metadata),
		c.CreatedAt,
		c.UpdatedAt,
		nullTime(c.AnsweredAt),
		nullTime(c.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert call: %w", err)
	}
	return nil
}

const callColumns = `id, tenant_id, agent_id, direction, status, customer_name, customer_email, customer_phone,
	tags, metadata, created_at, updated_at, answered_at, ended_at`

// ListCalls returns the tenant's calls created in [from, to), oldest first.
func (p *Postgres) ListCalls(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at, id`
	rows, err := p.db.QueryContext(ctx, q, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("store: list calls: %w", err)
	}
	defer rows.Close()

	var out []calls.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCall(s scanner) (calls.Call, error) {
	var (
		c                           calls.Call
		agentID, name, email, phone sql.NullString
		direction, status           string
		tags, metadata              []byte
		answeredAt, endedAt         sql.NullTime
	)
	if err := s.Scan(
		&c.ID,
		&c.TenantID,
		&agentID,
		&direction,
		&status,
		&name,
		&email,
		&phone,
		&tags,
		&metadata,
		&c.CreatedAt,
		&c.UpdatedAt,
		&answeredAt,
		&endedAt,
	); err != nil {
		return calls.Call{}, err
	}
	c.AgentID = agentID.String
	c.Direction = calls.Direction(direction)
	c.Status = calls.Status(status)
	c.CustomerName = name.String
	c.CustomerEmail = email.String
	c.CustomerPhone = phone.String
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &c.Tags); err != nil {
			return calls.Call{}, fmt.Errorf("store: call %s tags: %w", c.ID, err)
		}
	}
	if len(metadata) > 0 {
		c.Metadata = json.RawMessage(metadata)
	}
	if answeredAt.Valid {
		t := answeredAt.Time.UTC()
		c.AnsweredAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		c.EndedAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

const agentColumns = `id, tenant_id, status, is_active, skills, max_concurrent_calls, current_calls, total_calls_handled`

func (p *Postgres) ListAgents(ctx context.Context, tenantID string) ([]routing.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE tenant_id = $1 ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	var out []routing.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) GetAgent(ctx context.Context, tenantID, agentID string) (routing.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE tenant_id = $1 AND id = $2`
	a, err := scanAgent(p.db.QueryRowContext(ctx, q, tenantID, agentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return routing.Agent{}, routing.ErrAgentNotFound
		}
		return routing.Agent{}, err
	}
	return a, nil
}

// PutAgents upserts a roster in one transaction. Live counters (current_calls,
// total_calls_handled) are left untouched on existing rows.
func (p *Postgres) PutAgents(ctx context.Context, agents []routing.Agent) error {
	const q = `
INSERT INTO agents (id, tenant_id, status, is_active, skills, max_concurrent_calls, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (tenant_id, id) DO UPDATE SET
    status = EXCLUDED.status,
    is_active = EXCLUDED.is_active,
    skills = EXCLUDED.skills,
    max_concurrent_calls = EXCLUDED.max_concurrent_calls,
    updated_at = now()`

	return utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return fmt.Errorf("store: prepare agent upsert: %w", err)
		}
		defer stmt.Close()

		for _, a := range agents {
			skills := a.Skills
			if skills == nil {
				skills = []string{}
			}
			b, err := json.Marshal(skills)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, a.ID, a.TenantID, string(a.Status), a.Active, string(b), a.MaxConcurrentCalls); err != nil {
				return fmt.Errorf("store: upsert agent %s/%s: %w", a.TenantID, a.ID, err)
			}
		}
		return nil
	})
}

// ClaimCall takes one call slot on the agent. The WHERE clause keeps concurrent API
// instances from pushing an agent past max_concurrent_calls.
func (p *Postgres) ClaimCall(ctx context.Context, tenantID, agentID string) (bool, error) {
	const q = `
UPDATE agents
SET current_calls = current_calls + 1, updated_at = now()
WHERE tenant_id = $1 AND id = $2 AND current_calls < max_concurrent_calls`

	res, err := p.db.ExecContext(ctx, q, tenantID, agentID)
	if err != nil {
		return false, fmt.Errorf("store: claim agent %s/%s: %w", tenantID, agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := p.GetAgent(ctx, tenantID, agentID); err != nil {
		return false, err
	}
	return false, nil
}

func (p *Postgres) ReleaseCall(ctx context.Context, tenantID, agentID string, handled bool) error {
	const q = `
UPDATE agents
SET current_calls = GREATEST(current_calls - 1, 0),
    total_calls_handled = total_calls_handled + CASE WHEN $3 THEN 1 ELSE 0 END,
    updated_at = now()
WHERE tenant_id = $1 AND id = $2`

	res, err := p.db.ExecContext(ctx, q, tenantID, agentID, handled)
	if err != nil {
		return fmt.Errorf("store: release agent %s/%s: %w", tenantID, agentID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return routing.ErrAgentNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(s scanner) (routing.Agent, error) {
	var (
		a      routing.Agent
		status string
		skills []byte
	)
	if err := s.Scan(
		&a.ID,
		&a.TenantID,
		&status,
		&a.Active,
		&skills,
		&a.MaxConcurrentCalls,
		&a.CurrentCalls,
		&a.TotalCallsHandled,
	); err != nil {
		return routing.Agent{}, err
	}
	a.Status = routing.AgentStatus(status)
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &a.Skills); err != nil {
			return routing.Agent{}, fmt.Errorf("store: agent %s skills: %w", a.ID, err)
		}
	}
	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
