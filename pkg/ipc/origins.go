package ipc

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy is the parsed form of the allowed-origins setting.
type originPolicy struct {
	wildcard bool
	entries  []originEntry
}

type originEntry struct {
	scheme  string
	name    string
	port    string // empty when the entry gave no port
	anyPort bool   // loopback entries without a port accept every port
}

func newOriginPolicy(allowed []string) originPolicy {
	var p originPolicy
	for _, raw := range allowed {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if raw == "*" {
			p.wildcard = true
			continue
		}
		scheme, name, port, ok := parseOrigin(raw)
		if !ok {
			continue
		}
		entry := originEntry{scheme: scheme, name: name, port: port}
		if port == "" {
			if isLoopbackName(name) {
				entry.anyPort = true
			} else {
				entry.port = schemePort(scheme)
			}
		}
		p.entries = append(p.entries, entry)
	}
	return p
}

// allows reports whether origin may call the API. viaWildcard is true when
// only the "*" entry matched.
func (p originPolicy) allows(origin string) (ok, viaWildcard bool) {
	scheme, name, port, parsed := parseOrigin(origin)
	if !parsed {
		return false, false
	}
	if port == "" {
		port = schemePort(scheme)
	}
	for _, e := range p.entries {
		if e.scheme != scheme || !strings.EqualFold(e.name, name) {
			continue
		}
		if e.anyPort || e.port == port {
			return true, false
		}
	}
	return p.wildcard, p.wildcard
}

// allowsUpgrade gates WebSocket upgrades. Browsers always send Origin, so a
// missing header means a non-browser client such as `tandem attach`.
// Same-host origins are always accepted.
func (p originPolicy) allowsUpgrade(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	ok, _ := p.allows(origin)
	return ok
}

// parseOrigin splits "scheme://host[:port]" into lowercase scheme, host name
// and port.
func parseOrigin(origin string) (scheme, name, port string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", "", false
	}
	return strings.ToLower(u.Scheme), u.Hostname(), u.Port(), true
}

func isLoopbackName(name string) bool {
	if strings.EqualFold(name, "localhost") {
		return true
	}
	ip := net.ParseIP(name)
	return ip != nil && ip.IsLoopback()
}

func schemePort(scheme string) string {
	if scheme == "https" || scheme == "wss" {
		return "443"
	}
	return "80"
}
