// Package origin validates browser Origin headers for the relay's HTTP and
// WebSocket surfaces.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port]) and the host[:port]
// portion for same-host comparisons. The special Origin value "null" is
// allowed and returned as-is.
func Normalize(originHeader string) (normalized string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", "", false
	}

	var port uint64
	if rawPort := u.Port(); rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host = hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether the normalized origin may access the given
// request host.
//
// With a non-empty allowlist, each entry must be "*" or a normalized origin
// string as produced by Normalize. With an empty allowlist the policy is
// same-host only (default ports treated as equivalent).
func IsAllowed(normalized, originHost, requestHost string, allowed []string) bool {
	if len(allowed) > 0 {
		for _, entry := range allowed {
			if entry == "*" || entry == normalized {
				return true
			}
		}
		return false
	}
	if normalized == "null" {
		return false
	}
	return equalHost(originHost, requestHost)
}

func equalHost(a, b string) bool {
	return strings.EqualFold(stripDefaultPort(a), stripDefaultPort(b))
}

func stripDefaultPort(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ":80")
	return strings.TrimSuffix(h, ":443")
}
