package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxTenantID
	ctxAgentID
	ctxRole
)

// Identity is the verified caller of a request.
type Identity struct {
	UserID   string
	TenantID string
	AgentID  string
	Role     string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, id.UserID)
	ctx = context.WithValue(ctx, ctxTenantID, id.TenantID)
	ctx = context.WithValue(ctx, ctxAgentID, id.AgentID)
	ctx = context.WithValue(ctx, ctxRole, id.Role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	return stringValue(ctx, ctxUserID, "user_id not in context")
}

func TenantID(ctx context.Context) (string, error) {
	return stringValue(ctx, ctxTenantID, "tenant_id not in context")
}

// AgentID returns the agent bound to the caller, if any.
func AgentID(ctx context.Context) (string, error) {
	return stringValue(ctx, ctxAgentID, "agent_id not in context")
}

func Role(ctx context.Context) (string, error) {
	return stringValue(ctx, ctxRole, "role not in context")
}

func stringValue(ctx context.Context, k ctxKey, msg string) (string, error) {
	if s, ok := ctx.Value(k).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New(msg)
}
