// Package netproxy implements the in-process network-proxy policy core:
// the host_blocked decision function, hot reload on config mtime change,
// and the bounded blocked-request ring buffer.
//
// Grounded on the teacher's internal/infrastructure/llm/sideload_proxy.go
// (an HTTP-proxy-fronted LLM dispatch path) generalized from "route to a
// sideload module or fall back" into the spec's deny/local/allow host
// gate, and on the original Rust network-proxy/src/runtime.rs for the
// exact decision ordering and ring-buffer bound.
package netproxy

// Mode selects how permissive the proxy is.
type Mode string

const (
	ModeFull    Mode = "full"
	ModeLimited Mode = "limited"
)

// allowedMethods lists the HTTP methods permitted under each mode. Full
// mode allows everything; limited mode restricts to safe/idempotent verbs.
var allowedMethods = map[Mode]map[string]bool{
	ModeFull: nil, // nil means "all methods"
	ModeLimited: {
		"GET": true, "HEAD": true, "OPTIONS": true,
	},
}

// AllowsMethod reports whether mode permits method.
func (m Mode) AllowsMethod(method string) bool {
	set, ok := allowedMethods[m]
	if !ok || set == nil {
		return true
	}
	return set[method]
}

// Policy is the per-config network policy: allow/deny domain globs, the
// local-binding relaxation, and explicitly allowed Unix sockets.
type Policy struct {
	AllowedDomains   []string
	DeniedDomains    []string
	AllowLocalBinding bool
	AllowUnixSockets  []string // absolute paths
}

// Config is the full network-proxy configuration, as read from the
// layered config engine.
type Config struct {
	Enabled                           bool
	Mode                              Mode
	Policy                            Policy
	AllowUpstreamProxy                bool
	DangerouslyAllowNonLoopbackAdmin  bool
}

// Constraints describes which fields are pinned by managed config layers,
// mirroring layeredconfig.Constraint but scoped to the fields this
// package cares about (allowed/denied domain lists).
type Constraints struct {
	AllowedDomainsPinned []string // nil = not pinned
	DeniedDomainsPinned  []string // nil = not pinned
}
