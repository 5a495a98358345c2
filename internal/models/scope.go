package models

import "strings"

// ParseScope splits a space-delimited scope string into its distinct
// values, keeping first-seen order.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]

	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}

		seen[f] = struct{}{}
		out = append(out, f)
	}

	return out
}

// FormatScope joins scope values with single spaces.
func FormatScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ScopeSubset reports whether every value in sub appears in super.
func ScopeSubset(sub, super []string) bool {
	allowed := make(map[string]struct{}, len(super))
	for _, s := range super {
		allowed[s] = struct{}{}
	}

	for _, s := range sub {
		if _, ok := allowed[s]; !ok {
			return false
		}
	}

	return true
}

// HasScope reports whether the space-delimited scope contains want.
func HasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}

	return false
}
