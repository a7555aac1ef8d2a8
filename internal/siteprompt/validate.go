package siteprompt

import (
	"regexp"
	"strings"
)

// PatternError explains why a pattern was rejected.
type PatternError struct {
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string { return e.Reason }

var invalidPatternChars = regexp.MustCompile(`(?i)[^a-z0-9.*\-_]`)

// ValidateSitePattern rejects empty patterns, characters outside
// [a-z0-9.*-_], "**", wildcards anywhere but the first position and wildcard
// patterns without a dot.
func ValidateSitePattern(pattern string) error {
	p := strings.TrimSpace(pattern)
	fail := func(reason string) error { return &PatternError{Pattern: pattern, Reason: reason} }

	switch {
	case p == "":
		return fail("Pattern cannot be empty")
	case invalidPatternChars.MatchString(p):
		return fail("Pattern contains invalid characters")
	case strings.Contains(p, "**"):
		return fail("Multiple consecutive wildcards not allowed")
	case strings.Index(p, "*") > 0:
		return fail("Wildcard (*) must be at the beginning")
	case strings.Contains(p, "*") && !strings.Contains(p, "."):
		return fail("Wildcard pattern must include domain (e.g., *.example.com)")
	}
	return nil
}

// NormalizeSitePattern trims and lowercases a pattern for storage.
func NormalizeSitePattern(pattern string) string {
	return strings.ToLower(strings.TrimSpace(pattern))
}
