package normalize

import "strings"

// ParseBoolFlag interprets the boolean-ish strings registry payloads use for
// obsolete and NOC markers. Unrecognized values return ok=false so callers can
// fall back to a default.
func ParseBoolFlag(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "1", "yes", "y":
		return true, true
	case "false", "f", "0", "no", "n":
		return false, true
	}
	return false, false
}
