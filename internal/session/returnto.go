package session

import "strings"

// ValidateReturnTo restricts a post-login redirect hint to a same-site
// relative path. Anything else, including protocol-relative "//host" forms,
// falls back to the site root.
func ValidateReturnTo(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return "/"
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}

	return raw
}
