// x/strx/strx.go

// Package strx holds small string helpers shared across services.
package strx

import "strings"

// Coalesce returns s if non-empty, otherwise d.
func Coalesce(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

// IsPathElem reports whether s can name one element of a slash-separated
// path: non-empty, not "." or "..", and free of '/'.
func IsPathElem(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.Contains(s, "/")
}
