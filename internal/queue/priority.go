package queue

import (
	"encoding/json"
	"strings"

	"contact-center/internal/calls"
)

// Scoring constants. Priority is computed at enqueue and again only on escalation
// (Manager.Rescore); there is no aging.
const (
	BasePriority        = 100
	VIPBonus            = 50
	InboundBonus        = 25
	HighPriorityCutoff  = 150
	requiredSkillsField = "required_skills"
)

var tagBonuses = map[string]int{
	"urgent":        75,
	"high_priority": 50,
	"escalation":    100,
}

// Priority scores a call for queue ordering.
func Priority(c calls.Call) int {
	p := BasePriority

	email := strings.ToLower(c.CustomerEmail)
	if strings.Contains(email, "vip") || strings.Contains(email, "premium") {
		p += VIPBonus
	}
	if c.Direction == calls.DirectionInbound {
		p += InboundBonus
	}
	for _, t := range calls.NormalizeTags(c.Tags) {
		p += tagBonuses[t]
	}
	return p
}

// RequiredSkills derives the skills an agent must hold to take the call:
// metadata.required_skills plus hints from the customer email.
func RequiredSkills(c calls.Call) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if len(c.Metadata) > 0 {
		var md map[string]json.RawMessage
		if err := json.Unmarshal(c.Metadata, &md); err == nil {
			var skills []any
			if raw, ok := md[requiredSkillsField]; ok && json.Unmarshal(raw, &skills) == nil {
				for _, s := range skills {
					if str, ok := s.(string); ok {
						add(str)
					}
				}
			}
		}
	}

	email := strings.ToLower(c.CustomerEmail)
	if strings.Contains(email, "technical") {
		add("technical_support")
	}
	if strings.Contains(email, "billing") {
		add("billing_support")
	}
	return out
}
