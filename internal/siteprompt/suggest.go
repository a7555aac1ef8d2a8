package siteprompt

import (
	"fmt"
	"net"

	"golang.org/x/net/publicsuffix"
)

// SuggestPattern proposes a wildcard pattern covering the registrable domain
// of rawURL, e.g. "*.example.co.uk" for "https://ci.build.example.co.uk/x".
// IP addresses and single-label hosts are returned as exact patterns.
func SuggestPattern(rawURL string) (string, error) {
	host := Hostname(rawURL)
	if host == "" {
		return "", fmt.Errorf("no hostname in %q", rawURL)
	}
	if net.ParseIP(host) != nil {
		return host, nil
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// localhost, intranet names and bare suffixes.
		if ValidateSitePattern(host) == nil {
			return host, nil
		}
		return "", fmt.Errorf("suggesting pattern for %q: %w", host, err)
	}
	return "*." + domain, nil
}
