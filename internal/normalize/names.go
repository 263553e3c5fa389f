package normalize

import (
	"regexp"
	"strings"
)

var multiSpace = regexp.MustCompile(`\s+`)

// ComposeProviderName builds the display name for an NPI record. Organizations
// use their registered name; individuals get "First Last". Whitespace is
// collapsed and trimmed. Returns "" when no usable name is present.
func ComposeProviderName(orgName, firstName, lastName string) string {
	if n := cleanName(orgName); n != "" {
		return n
	}
	return cleanName(firstName + " " + lastName)
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return multiSpace.ReplaceAllString(s, " ")
}
