package provider

import (
	"regexp"
	"strings"
)

// ValidateConfig checks cfg against the fields d requires and returns every
// violation found. An empty result means cfg may be dispatched.
func ValidateConfig(d Descriptor, cfg Config) []string {
	var problems []string
	for _, f := range d.ConfigFields() {
		switch f {
		case FieldAPIKey:
			pattern := d.APIKeyPattern()
			if pattern == nil {
				continue
			}
			if cfg.APIKey == "" {
				problems = append(problems, "API key is required")
			} else if !pattern.MatchString(cfg.APIKey) {
				problems = append(problems, "Invalid API key format")
			}
		case FieldEndpoint:
			if strings.TrimSpace(cfg.Endpoint) == "" {
				problems = append(problems, "Endpoint URL is required")
			}
		}
	}
	return problems
}

func validate(d Descriptor, cfg Config) error {
	if problems := ValidateConfig(d, cfg); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

var (
	leadingFence  = regexp.MustCompile("^```\\w*\\n")
	trailingFence = regexp.MustCompile("\\n```$")
)

// StripCodeFences removes one leading ```lang line and one trailing ``` line,
// then trims surrounding whitespace.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = leadingFence.ReplaceAllString(s, "")
	s = trailingFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseResponse runs the provider parser and normalizes the result.
func ParseResponse(d Descriptor, raw []byte) (string, error) {
	text, err := d.ParseResponse(raw)
	if err != nil {
		return "", err
	}
	return StripCodeFences(text), nil
}
