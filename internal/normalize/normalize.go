// Package normalize holds the pure helpers that canonicalize identifiers,
// dates, names, and registry flag values before they touch the cache or the
// report writers.
package normalize

import "strings"

// NormalizeNPI trims whitespace and strips the trailing ".0" that float-typed
// source columns leave behind. Returns "" when nothing usable remains.
func NormalizeNPI(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ".0")
	return s
}

// IsWellFormedNPI reports whether s is exactly ten ASCII digits.
func IsWellFormedNPI(s string) bool {
	if len(s) != 10 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeHCPCS canonicalizes a procedure code for API and fallback lookups:
// all whitespace removed, trailing ".0" stripped, uppercased. Returns "" unless
// the result is exactly five alphanumeric characters.
func NormalizeHCPCS(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			b.WriteRune(r)
		}
	}
	s := strings.TrimSuffix(b.String(), ".0")
	s = strings.ToUpper(s)
	if len(s) != 5 {
		return ""
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return ""
		}
	}
	return s
}

// CodeKey uppercases a trimmed code. Cache lookups and batch responses are
// keyed case-insensitively; claims data mixes cases for the same code.
func CodeKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
