// Package globmatch implements the subdomain-wildcard glob semantics shared
// by the layered config engine's managed-constraint narrowing checks and
// the network-proxy policy's allow/deny domain sets.
//
// Semantics: case-insensitive. "*.example.com" matches strict subdomains
// of example.com but not the apex. "**.example.com" matches subdomains
// AND the apex. A bare "*" matches everything. There is no other glob
// syntax (no mid-label wildcards).
package globmatch

import (
	"fmt"
	"strings"
)

// Validate reports whether pattern is a well-formed domain glob. Invalid
// patterns cause config validation to fail per §4.C.
func Validate(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty domain pattern")
	}
	if pattern == "*" {
		return nil
	}
	p := pattern
	if strings.HasPrefix(p, "**.") {
		p = p[3:]
	} else if strings.HasPrefix(p, "*.") {
		p = p[2:]
	}
	if strings.Contains(p, "*") {
		return fmt.Errorf("invalid domain pattern %q: wildcard only allowed as a leading '*.' or '**.' label", pattern)
	}
	if p == "" {
		return fmt.Errorf("invalid domain pattern %q: empty suffix", pattern)
	}
	return nil
}

// MatchHost reports whether host matches pattern under the rules above.
func MatchHost(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "**.") {
		suffix := pattern[3:]
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[2:]
		return host != suffix && strings.HasSuffix(host, "."+suffix)
	}
	return host == pattern
}

// MatchAny reports whether host matches any pattern in the set.
func MatchAny(patterns []string, host string) bool {
	for _, p := range patterns {
		if MatchHost(p, host) {
			return true
		}
	}
	return false
}

// Covers reports whether everything matched by userPattern is also matched
// by managedPattern — the "narrowing" relation used to validate that a
// user-supplied allow-list entry does not widen a managed pin (§4.B.2).
//
// A concrete host is covered when the managed pattern matches it directly.
// A "*.X" user pattern is covered only by a managed pattern with an equal
// or broader suffix match ("*.X", "**.X", or "*"). A "**.X" user pattern
// (which additionally matches the apex) is covered only by "**.X" or "*".
func Covers(managedPattern, userPattern string) bool {
	managedPattern = strings.ToLower(managedPattern)
	userPattern = strings.ToLower(userPattern)

	if managedPattern == "*" {
		return true
	}

	switch {
	case strings.HasPrefix(userPattern, "**."):
		return managedPattern == userPattern
	case strings.HasPrefix(userPattern, "*."):
		suffix := userPattern[2:]
		return managedPattern == userPattern || managedPattern == "**."+suffix
	default:
		return MatchHost(managedPattern, userPattern)
	}
}

// CoversAny reports whether userPattern is covered by at least one pattern
// in managedPatterns.
func CoversAny(managedPatterns []string, userPattern string) bool {
	for _, mp := range managedPatterns {
		if Covers(mp, userPattern) {
			return true
		}
	}
	return false
}
