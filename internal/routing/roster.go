package routing

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// rosterFile is the AGENTS_FILE layout:
//
//	agents:
//	  - id: a-1
//	    tenant_id: t1
//	    status: online
//	    is_active: true
//	    skills: [billing_support]
//	    max_concurrent_calls: 2
type rosterFile struct {
	Agents []rosterAgent `yaml:"agents"`
}

type rosterAgent struct {
	ID                 string   `yaml:"id"`
	TenantID           string   `yaml:"tenant_id"`
	Status             string   `yaml:"status"`
	Active             *bool    `yaml:"is_active"`
	Skills             []string `yaml:"skills"`
	MaxConcurrentCalls int      `yaml:"max_concurrent_calls"`
}

// LoadRoster reads and validates an agent roster file.
func LoadRoster(path string) ([]Agent, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("routing: read roster: %w", err)
	}
	return ParseRoster(b)
}

// ParseRoster decodes a YAML roster. Status defaults to offline, is_active to true and
// max_concurrent_calls to 1. Duplicate (tenant, id) pairs are rejected.
func ParseRoster(b []byte) ([]Agent, error) {
	var f rosterFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("routing: parse roster: %w", err)
	}

	var errs []error
	seen := map[string]struct{}{}
	out := make([]Agent, 0, len(f.Agents))
	for i, ra := range f.Agents {
		a := Agent{
			ID:                 strings.TrimSpace(ra.ID),
			TenantID:           strings.TrimSpace(ra.TenantID),
			Status:             AgentStatus(strings.ToLower(strings.TrimSpace(ra.Status))),
			Active:             ra.Active == nil || *ra.Active,
			Skills:             ra.Skills,
			MaxConcurrentCalls: ra.MaxConcurrentCalls,
		}
		if a.Status == "" {
			a.Status = AgentOffline
		}
		if a.MaxConcurrentCalls == 0 {
			a.MaxConcurrentCalls = 1
		}

		switch {
		case a.ID == "" || a.TenantID == "":
			errs = append(errs, fmt.Errorf("agent %d: id and tenant_id required", i))
			continue
		case !a.Status.Valid():
			errs = append(errs, fmt.Errorf("agent %s: unknown status %q", a.ID, a.Status))
			continue
		case a.MaxConcurrentCalls < 0:
			errs = append(errs, fmt.Errorf("agent %s: max_concurrent_calls must be >= 0", a.ID))
			continue
		}
		key := a.TenantID + "/" + a.ID
		if _, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("agent %s: duplicate in tenant %s", a.ID, a.TenantID))
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("routing: invalid roster: %w", errors.Join(errs...))
	}
	return out, nil
}
