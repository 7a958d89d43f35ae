package utils

import (
	"errors"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var ErrEmptyDomain = errors.New("empty domain")

// NormalizeDomain reduces a domain or URL to its lowercase ASCII host.
func NormalizeDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyDomain
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", err
		}
		raw = parsed.Hostname()
	} else if idx := strings.IndexAny(raw, "/?#"); idx >= 0 {
		raw = raw[:idx]
	}

	host := strings.TrimSuffix(strings.ToLower(raw), ".")
	if host == "" {
		return "", ErrEmptyDomain
	}
	asciiHost, err := idna.ToASCII(host)
	if err == nil {
		host = asciiHost
	}
	return host, nil
}

// NormalizeDomains normalises every entry and drops duplicates and invalid ones.
func NormalizeDomains(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		domain, err := NormalizeDomain(entry)
		if err != nil {
			continue
		}
		if _, ok := seen[domain]; ok {
			continue
		}
		seen[domain] = struct{}{}
		out = append(out, domain)
	}
	return out
}
