package scanner

import (
	"strings"

	"github.com/yairfalse/horros/types"
)

// ScopeFilter narrows discovered scopes before fan-out. Deny wins over
// allow; an empty allow list admits everything. Patterns match the
// scope ID and label case-insensitively, with * wildcards.
type ScopeFilter struct {
	Allow []string
	Deny  []string
}

// Empty reports whether the filter admits all scopes.
func (f ScopeFilter) Empty() bool {
	return len(f.Allow) == 0 && len(f.Deny) == 0
}

// Match reports whether the scope passes the filter.
func (f ScopeFilter) Match(scope types.ScanScope) bool {
	id := strings.ToLower(scope.ID)
	label := strings.ToLower(scope.Label)

	for _, pattern := range f.Deny {
		p := strings.ToLower(pattern)
		if matchesGlob(id, p) || (label != "" && matchesGlob(label, p)) {
			return false
		}
	}

	if len(f.Allow) == 0 {
		return true
	}
	for _, pattern := range f.Allow {
		p := strings.ToLower(pattern)
		if matchesGlob(id, p) || (label != "" && matchesGlob(label, p)) {
			return true
		}
	}
	return false
}

// Apply returns the scopes admitted by the filter, preserving order.
func (f ScopeFilter) Apply(scopes []types.ScanScope) []types.ScanScope {
	if f.Empty() {
		return scopes
	}
	kept := make([]types.ScanScope, 0, len(scopes))
	for _, scope := range scopes {
		if f.Match(scope) {
			kept = append(kept, scope)
		}
	}
	return kept
}

// matchesGlob performs simple glob matching (* wildcards)
func matchesGlob(text, pattern string) bool {
	if pattern == "*" || pattern == text {
		return true
	}

	if strings.Contains(pattern, "*") {
		parts := strings.Split(pattern, "*")
		if len(parts) == 2 {
			return strings.HasPrefix(text, parts[0]) && strings.HasSuffix(text, parts[1])
		}
	}

	return false
}
