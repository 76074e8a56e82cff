package queue

// Skills is the skill set an agent offers when pulling work.
// The zero value holds no skills and only matches entries that require none.
type Skills struct {
	set map[string]struct{}
	any bool
}

// AnySkills matches every entry regardless of its requirements.
func AnySkills() Skills { return Skills{any: true} }

func NewSkills(skills ...string) Skills {
	s := Skills{set: make(map[string]struct{}, len(skills))}
	for _, k := range skills {
		if k != "" {
			s.set[k] = struct{}{}
		}
	}
	return s
}

// Covers reports whether required is a subset of s.
func (s Skills) Covers(required []string) bool {
	if s.any {
		return true
	}
	for _, r := range required {
		if _, ok := s.set[r]; !ok {
			return false
		}
	}
	return true
}
