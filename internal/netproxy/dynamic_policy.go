package netproxy

// ProxyNetworkInputs are the inputs to the dynamic network policy
// decision consumed by internal/sandbox/seatbelt (§4.D.1). Kept in this
// package because the proxy is the thing that knows its own resolved
// ports and config shape.
type ProxyNetworkInputs struct {
	HasFullNetworkAccess bool
	EnforceManagedNetwork bool
	Ports                []int
	HasProxyConfig       bool
	AllowLocalBinding    bool
}

// DynamicNetworkDecision is the resolved outbound network policy for a
// sandboxed command.
type DynamicNetworkDecision struct {
	LocalhostPorts    []int // per-port "(allow network-outbound (remote ip \"localhost:P\"))"
	AllowLoopbackBind bool  // additionally allow loopback bind/inbound/outbound
	FullOutbound      bool  // blanket allow, only when neither proxy nor managed-network apply
	FullInbound       bool
}

// ResolveDynamicNetworkPolicy implements the fail-closed decision table
// from §4.D.1:
//
//   - proxy.ports non-empty            → per-port localhost allow, no blanket outbound
//   - proxy.has_proxy_config, no ports → empty policy (fail closed)
//   - enforce_managed_network, no proxy → empty policy (fail closed)
//   - neither                          → full access iff has_full_network_access
func ResolveDynamicNetworkPolicy(in ProxyNetworkInputs) DynamicNetworkDecision {
	if len(in.Ports) > 0 {
		return DynamicNetworkDecision{
			LocalhostPorts:    in.Ports,
			AllowLoopbackBind: in.AllowLocalBinding,
		}
	}
	if in.HasProxyConfig {
		return DynamicNetworkDecision{}
	}
	if in.EnforceManagedNetwork {
		return DynamicNetworkDecision{}
	}
	if in.HasFullNetworkAccess {
		return DynamicNetworkDecision{FullOutbound: true, FullInbound: true}
	}
	return DynamicNetworkDecision{}
}
