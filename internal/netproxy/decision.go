package netproxy

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/ngoclaw/codexcore/internal/globmatch"
)

// BlockReason names why host_blocked returned Blocked.
type BlockReason string

const (
	ReasonDenied          BlockReason = "denied"
	ReasonNotAllowed      BlockReason = "not_allowed"
	ReasonNotAllowedLocal BlockReason = "not_allowed_local"
)

// Decision is the result of host_blocked: exactly one of Allowed or a
// Reason is meaningful.
type Decision struct {
	Allowed bool
	Reason  BlockReason
}

func allowed() Decision               { return Decision{Allowed: true} }
func blocked(r BlockReason) Decision  { return Decision{Allowed: false, Reason: r} }

// dnsLookupTimeout bounds the best-effort resolution used to classify
// hostnames as local (§5 timeouts: "DNS lookups in the proxy use a 2s
// timeout").
const dnsLookupTimeout = 2 * time.Second

// HostBlocked implements the decision function from §4.C: deny-wins,
// then a local/private-network guard (with DNS resolution), then the
// allow-list.
func HostBlocked(ctx context.Context, cfg Config, host string, port int) Decision {
	host = strings.TrimSuffix(host, ".")

	if globmatch.MatchAny(cfg.Policy.DeniedDomains, host) {
		return blocked(ReasonDenied)
	}

	if !cfg.Policy.AllowLocalBinding {
		if isLocalHost(ctx, host) {
			// A local host is allowed only via an explicit, non-wildcard
			// allow-list entry.
			if hasExplicitEntry(cfg.Policy.AllowedDomains, host) {
				return allowed()
			}
			return blocked(ReasonNotAllowedLocal)
		}
	}

	if len(cfg.Policy.AllowedDomains) == 0 || !globmatch.MatchAny(cfg.Policy.AllowedDomains, host) {
		return blocked(ReasonNotAllowed)
	}

	return allowed()
}

// hasExplicitEntry reports whether host appears verbatim (case
// insensitive, no wildcard) in patterns.
func hasExplicitEntry(patterns []string, host string) bool {
	host = strings.ToLower(host)
	for _, p := range patterns {
		if strings.Contains(p, "*") {
			continue
		}
		if strings.ToLower(p) == host {
			return true
		}
	}
	return false
}

// isLocalHost classifies host as local/private per §4.C: IP literals
// (including scoped IPv6 like "fe80::1%lo0") are checked directly;
// hostnames are best-effort resolved with a short timeout, and any
// resulting address that is non-public marks the host local. DNS
// failure falls through (not treated as local).
func isLocalHost(ctx context.Context, host string) bool {
	if host == "localhost" {
		return true
	}

	if ip := parseIPLiteral(host); ip != nil {
		return !isPublicIP(ip)
	}

	lctx, cancel := context.WithTimeout(ctx, dnsLookupTimeout)
	defer cancel()

	resolver := net.DefaultResolver
	addrs, err := resolver.LookupIPAddr(lctx, host)
	if err != nil {
		return false // DNS failure falls through, not local
	}
	for _, a := range addrs {
		if !isPublicIP(a.IP) {
			return true
		}
	}
	return false
}

// parseIPLiteral parses host as an IP literal, stripping an IPv6 zone
// suffix ("%lo0") if present.
func parseIPLiteral(host string) net.IP {
	h := host
	if idx := strings.IndexByte(h, '%'); idx >= 0 {
		h = h[:idx]
	}
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	return net.ParseIP(h)
}

// isPublicIP reports whether ip is a globally routable address, i.e. NOT
// loopback, private, link-local (unicast or multicast), unspecified, or
// interface-local multicast.
func isPublicIP(ip net.IP) bool {
	switch {
	case ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsUnspecified(),
		ip.IsInterfaceLocalMulticast():
		return false
	default:
		return true
	}
}

// IsUnixSocketAllowed reports whether path is permitted, canonicalizing
// both the request and every configured entry so symlink tricks cannot
// bypass the allow-list. Only meaningful on platforms with Unix sockets.
func IsUnixSocketAllowed(cfg Config, path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		canonical = filepath.Clean(path)
	}
	for _, allowed := range cfg.Policy.AllowUnixSockets {
		allowedCanon, err := filepath.EvalSymlinks(allowed)
		if err != nil {
			allowedCanon = filepath.Clean(allowed)
		}
		if allowedCanon == canonical {
			return true
		}
	}
	return false
}

// MethodAllowed delegates to mode.AllowsMethod.
func MethodAllowed(cfg Config, method string) bool {
	return cfg.Mode.AllowsMethod(method)
}
