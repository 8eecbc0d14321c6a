package identity

import "strings"

// NormalizeHandle resolves a user-supplied hint to a canonical handle by
// appending the configured host suffix when the hint does not already
// include it. A single trailing separator is stripped first so that
// "alice." does not become "alice..pds.example".
func NormalizeHandle(hint, suffix string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" || suffix == "" || strings.Contains(hint, suffix) {
		return hint
	}

	hint = strings.TrimSuffix(hint, ".")

	return hint + "." + suffix
}
