package terminate

import "strings"

// DefaultSensitivePatterns match launchers that respawn or re-bind ports
// immediately after losing them.
var DefaultSensitivePatterns = []string{"steam", "game", "epic", "battle.net"}

// Policy flags process names that need sibling processes swept before a
// per-port closure.
type Policy struct {
	patterns []string
}

// NewPolicy builds a policy from case-insensitive substring patterns.
func NewPolicy(patterns []string) Policy {
	p := Policy{}
	for _, pat := range patterns {
		pat = strings.ToLower(strings.TrimSpace(pat))
		if pat != "" {
			p.patterns = append(p.patterns, pat)
		}
	}
	return p
}

// DefaultPolicy uses DefaultSensitivePatterns.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultSensitivePatterns)
}

// Match returns the first pattern contained in name.
func (p Policy) Match(name string) (string, bool) {
	lower := strings.ToLower(name)
	if lower == "" {
		return "", false
	}
	for _, pat := range p.patterns {
		if strings.Contains(lower, pat) {
			return pat, true
		}
	}
	return "", false
}
