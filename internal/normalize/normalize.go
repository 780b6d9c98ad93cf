// Package normalize canonicalizes hostnames and URLs before they are
// compared against domain lists.
package normalize

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrEmptyHost is returned when no hostname is present.
	ErrEmptyHost = errors.New("empty host")
	// ErrInvalidHost is returned when a hostname cannot be converted to its
	// ASCII form.
	ErrInvalidHost = errors.New("invalid host")
)

// Host returns the canonical form of a hostname: lower-cased, without a
// port or trailing dot, with internationalized labels converted to
// punycode. IP literals are returned unchanged apart from bracket removal.
func Host(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", ErrEmptyHost
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", ErrEmptyHost
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidHost, raw, err)
	}
	return strings.ToLower(ascii), nil
}

// HostFromURL extracts and canonicalizes the hostname of an absolute URL.
func HostFromURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q: %w", raw, ErrEmptyHost)
	}
	return Host(u.Hostname())
}

// Hosts canonicalizes a list of hostnames, dropping blanks and entries
// that fail to normalize. Rejected entries are returned separately so the
// caller can report them.
func Hosts(entries []string) (hosts []string, rejected []string) {
	hosts = make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e) == "" {
			continue
		}
		h, err := Host(e)
		if err != nil {
			rejected = append(rejected, e)
			continue
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		hosts = append(hosts, h)
	}
	return hosts, rejected
}
