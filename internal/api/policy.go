package api

import (
	"github.com/ryanuber/go-glob"

	"github.com/kenneth/nac-producer/internal/ndn"
)

// NamePolicy restricts which content names the service will produce.
// Patterns are shell-style globs over the name URI, where * matches any
// run of characters including slashes. An empty policy allows every name.
type NamePolicy struct {
	patterns []string
}

// NewNamePolicy builds a policy from glob patterns such as "/alice/*".
func NewNamePolicy(patterns []string) *NamePolicy {
	return &NamePolicy{patterns: append([]string(nil), patterns...)}
}

// Allows reports whether name matches at least one pattern.
func (p *NamePolicy) Allows(name ndn.Name) bool {
	if p == nil || len(p.patterns) == 0 {
		return true
	}
	uri := name.String()
	for _, pattern := range p.patterns {
		if glob.Glob(pattern, uri) {
			return true
		}
	}
	return false
}
