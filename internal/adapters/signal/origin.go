package signal

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// originChecker accepts listed origins or bare hosts, "*" accepts anything.
// Both sides are normalized first, so scheme and host case and default
// ports do not matter. With no list the upgrader's same-origin check applies.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	wildcard := false
	origins := make(map[string]struct{}, len(allowed))
	hosts := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "*":
			wildcard = true
		case strings.Contains(a, "://") || a == "null":
			if o, _, ok := normalizeOrigin(a); ok {
				origins[o] = struct{}{}
			}
		default:
			if h, ok := normalizeHost(a, ""); ok {
				hosts[h] = struct{}{}
			}
		}
	}
	return func(r *http.Request) bool {
		header := strings.TrimSpace(r.Header.Get("Origin"))
		if header == "" {
			return true
		}
		o, host, ok := normalizeOrigin(header)
		if !ok {
			return false
		}
		if wildcard {
			return true
		}
		if _, ok := origins[o]; ok {
			return true
		}
		_, ok = hosts[host]
		return ok && host != ""
	}
}

// normalizeOrigin validates a browser Origin value and returns it as
// scheme://host[:port] together with its host[:port]. Paths, queries,
// credentials and fragments are refused. "null" passes as itself.
func normalizeOrigin(raw string) (origin, host string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "null" {
		return "null", "", true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// normalizeHost lowercases host[:port] and drops the port when it is the
// default for scheme.
func normalizeHost(raw, scheme string) (string, bool) {
	name, port, ok := splitHostPort(strings.ToLower(raw))
	if !ok || name == "" {
		return "", false
	}
	var n uint64
	if port != "" {
		var err error
		n, err = strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
	}
	if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
		n = 0
	}
	if strings.Contains(name, ":") {
		name = "[" + name + "]"
	}
	if n != 0 {
		name += ":" + strconv.FormatUint(n, 10)
	}
	return name, true
}

// splitHostPort splits an authority. IPv6 literals come back without
// brackets; a missing port is returned empty.
func splitHostPort(raw string) (name, port string, ok bool) {
	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", "", false
		}
		name = raw[1:end]
		rest := raw[end+1:]
		if rest == "" {
			return name, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return name, rest[1:], true
	}
	switch strings.Count(raw, ":") {
	case 0:
		return raw, "", true
	case 1:
		name, port, _ = strings.Cut(raw, ":")
		if name == "" || port == "" {
			return "", "", false
		}
		return name, port, true
	default:
		return "", "", false
	}
}
