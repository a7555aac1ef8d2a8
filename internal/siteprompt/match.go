// Package siteprompt selects custom instructions for the page a failure was
// captured on, based on user-defined hostname patterns.
package siteprompt

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// Entry maps a hostname pattern to a custom prompt.
//
// Patterns are an exact hostname ("rport.io"), a subdomain wildcard
// ("*.example.com") or a prefix wildcard ("*github.com", which also matches
// "github.com" itself).
type Entry struct {
	Pattern string `json:"pattern"`
	Name    string `json:"name,omitempty"`
	Prompt  string `json:"prompt"`
	Enabled bool   `json:"enabled"`
}

// MatchHostnamePattern reports whether hostname matches pattern, ignoring
// case. Patterns without '*' match only the identical hostname.
func MatchHostnamePattern(hostname, pattern string) bool {
	if hostname == "" || pattern == "" {
		return false
	}
	hostname = strings.ToLower(hostname)
	pattern = strings.ToLower(pattern)

	if hostname == pattern {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	pieces := strings.Split(pattern, "*")
	for i, p := range pieces {
		pieces[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(pieces, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(hostname)
}

// Hostname reduces a URL to its lowercase ASCII hostname. Input that does not
// parse as a URL is treated as a bare hostname.
func Hostname(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	host := ""
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Hostname()
	} else if !strings.Contains(rawURL, "://") {
		if u, err := url.Parse("//" + rawURL); err == nil {
			host = u.Hostname()
		}
	}
	if host == "" {
		host = rawURL
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return strings.ToLower(host)
}

// specificity ranks a matching pattern. Exact patterns always outrank
// wildcards; among each kind, longer patterns win.
func specificity(pattern string) int {
	if strings.Contains(pattern, "*") {
		return len(pattern)
	}
	return 1000 + len(pattern)
}

// FindMatchingPrompt returns the enabled entry whose pattern most
// specifically matches the URL's hostname. Ties keep the earlier entry.
func FindMatchingPrompt(rawURL string, entries []Entry) (Entry, bool) {
	if rawURL == "" || len(entries) == 0 {
		return Entry{}, false
	}
	hostname := Hostname(rawURL)

	var best Entry
	bestScore := -1
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		if !MatchHostnamePattern(hostname, e.Pattern) {
			continue
		}
		if s := specificity(e.Pattern); s > bestScore {
			best, bestScore = e, s
		}
	}
	return best, bestScore >= 0
}

// GetPromptForURL returns the prompt of the best match, or defaultPrompt when
// nothing matches or the match has an empty prompt.
func GetPromptForURL(rawURL string, entries []Entry, defaultPrompt string) string {
	if e, ok := FindMatchingPrompt(rawURL, entries); ok && e.Prompt != "" {
		return e.Prompt
	}
	return defaultPrompt
}
