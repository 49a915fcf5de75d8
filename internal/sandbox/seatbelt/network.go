package seatbelt

import (
	"fmt"
	"strings"

	"github.com/ngoclaw/codexcore/internal/netproxy"
)

// networkPolicyTail is appended whenever any network access (full or
// proxy-scoped) is granted: DNS resolution and the handful of mach
// services networking needs beyond the base policy.
const networkPolicyTail = `(allow network* (remote ip "*:53"))
(allow mach-lookup (global-name "com.apple.SystemConfiguration.configd"))
`

// NetworkPolicyText renders the §4.D dynamic network policy decision into
// Seatbelt profile text, mirroring dynamic_network_policy's four branches:
// proxy ports present, proxy configured without usable ports (fail
// closed), managed network enforced without a proxy (fail closed), or full
// access.
func NetworkPolicyText(d netproxy.DynamicNetworkDecision) string {
	if len(d.LocalhostPorts) > 0 {
		var b strings.Builder
		b.WriteString("; allow outbound access only to configured loopback proxy endpoints\n")
		if d.AllowLoopbackBind {
			b.WriteString("; allow localhost-only binding and loopback traffic\n")
			b.WriteString("(allow network-bind (local ip \"localhost:*\"))\n")
			b.WriteString("(allow network-inbound (local ip \"localhost:*\"))\n")
			b.WriteString("(allow network-outbound (remote ip \"localhost:*\"))\n")
		}
		for _, port := range d.LocalhostPorts {
			fmt.Fprintf(&b, "(allow network-outbound (remote ip \"localhost:%d\"))\n", port)
		}
		b.WriteString(networkPolicyTail)
		return b.String()
	}

	if d.FullOutbound || d.FullInbound {
		var b strings.Builder
		if d.FullOutbound {
			b.WriteString("(allow network-outbound)\n")
		}
		if d.FullInbound {
			b.WriteString("(allow network-inbound)\n")
		}
		b.WriteString(networkPolicyTail)
		return b.String()
	}

	return ""
}
