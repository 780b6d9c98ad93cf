// Package redact strips credentials from page URLs before they are written
// to the audit log.
package redact

import (
	"net/url"
	"regexp"
	"strings"
)

var sensitivePatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	// Basic auth in URLs
	{regexp.MustCompile(`(?i)([a-z][a-z0-9+.-]*://)[^/@\s]+@`), "${1}" + redactedPlaceholder + "@"},

	// Token-like parameters
	{regexp.MustCompile(`(?i)((?:^|[?&;#\s])(?:access_token|id_token|refresh_token|token|api_key|apikey|key|secret|password|passwd|pwd|auth|session|sessionid|sid|code|sig|signature)=)[^&#\s]*`), "${1}" + redactedPlaceholder},

	// Bearer tokens
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{20,}=*`), redactedPlaceholder},

	// JWTs
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`), redactedPlaceholder},
}

var sensitiveParams = map[string]bool{
	"access_token":  true,
	"id_token":      true,
	"refresh_token": true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"key":           true,
	"secret":        true,
	"password":      true,
	"passwd":        true,
	"pwd":           true,
	"auth":          true,
	"session":       true,
	"sessionid":     true,
	"sid":           true,
	"code":          true,
	"sig":           true,
	"signature":     true,
}

const redactedPlaceholder = "[REDACTED]"

// Redact replaces credential-looking substrings of free text.
func Redact(input string) string {
	result := input
	for _, p := range sensitivePatterns {
		result = p.re.ReplaceAllString(result, p.repl)
	}
	return result
}

// URL removes userinfo and sensitive query values from rawURL. Input that
// does not parse as a URL falls back to Redact.
func URL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Redact(rawURL)
	}

	if u.User != nil {
		u.User = url.User(redactedPlaceholder)
	}

	u.RawQuery = redactParams(u.RawQuery)
	if u.Fragment != "" {
		u.Fragment = Redact(redactParams(u.Fragment))
		u.RawFragment = ""
	}
	return u.String()
}

// redactParams blanks the values of sensitive name=value pairs in an
// &-separated list.
func redactParams(raw string) string {
	if raw == "" {
		return raw
	}
	parts := strings.Split(raw, "&")
	for i, p := range parts {
		name, _, found := strings.Cut(p, "=")
		if !found {
			continue
		}
		decoded, err := url.QueryUnescape(name)
		if err != nil {
			decoded = name
		}
		if sensitiveParams[strings.ToLower(decoded)] {
			parts[i] = name + "=" + redactedPlaceholder
		}
	}
	return strings.Join(parts, "&")
}
