package routing

import (
	"context"
	"errors"
	"slices"

	"contact-center/internal/queue"
)

type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentBusy    AgentStatus = "busy"
	AgentAway    AgentStatus = "away"
	AgentOffline AgentStatus = "offline"
)

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentOnline, AgentBusy, AgentAway, AgentOffline:
		return true
	default:
		return false
	}
}

var (
	ErrAgentNotFound    = errors.New("routing: agent not found")
	ErrAgentUnavailable = errors.New("routing: agent unavailable")
)

// Agent is the roster view the matcher needs. The Identity & Tenant Store owns the record.
type Agent struct {
	ID                 string      `json:"id"`
	TenantID           string      `json:"tenant_id"`
	Status             AgentStatus `json:"status"`
	Active             bool        `json:"is_active"`
	Skills             []string    `json:"skills"`
	MaxConcurrentCalls int         `json:"max_concurrent_calls"`
	CurrentCalls       int         `json:"current_calls"`
	TotalCallsHandled  int64       `json:"total_calls_handled"`
}

// Available reports whether the agent can take another call right now.
func (a Agent) Available() bool {
	return a.Active && a.Status == AgentOnline && a.CurrentCalls < a.MaxConcurrentCalls
}

// HasSkills reports whether the agent holds every required skill.
func (a Agent) HasSkills(required []string) bool {
	for _, r := range required {
		if !slices.Contains(a.Skills, r) {
			return false
		}
	}
	return true
}

func (a Agent) SkillSet() queue.Skills { return queue.NewSkills(a.Skills...) }

// AgentDirectory resolves a tenant's agent roster and tracks live agent load.
//
// GetAgent returns ErrAgentNotFound when the agent does not exist in the tenant.
// ClaimCall atomically adds one to current_calls unless the agent is already at
// max_concurrent_calls; ok=false means no claim was taken. ReleaseCall gives a claim back
// and, when handled is set, adds one to total_calls_handled. current_calls never goes
// below zero.
type AgentDirectory interface {
	ListAgents(ctx context.Context, tenantID string) ([]Agent, error)
	GetAgent(ctx context.Context, tenantID, agentID string) (Agent, error)
	ClaimCall(ctx context.Context, tenantID, agentID string) (ok bool, err error)
	ReleaseCall(ctx context.Context, tenantID, agentID string, handled bool) error
}
