package seatbelt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ngoclaw/codexcore/internal/netproxy"
)

func identity(p string) string { return p }

func TestBuildArgs_ReadOnlySubpathCarvesOutOfWritableRoot(t *testing.T) {
	fs := FilesystemPolicy{
		WritableRoots: []WritableRoot{
			{
				Root: "/tmp/ws",
				ReadOnlySubpaths: []ReadOnlySubpath{
					{Path: "/tmp/ws/.git"},
					{Path: "/tmp/ws/.codex"},
				},
			},
			{Root: "/tmp/empty"},
		},
	}

	args := BuildArgs([]string{"bash", "-c", "echo hi"}, fs, "", identity)

	policy := args[1]
	assert.Contains(t, policy, `(require-all (subpath (param "WRITABLE_ROOT_0")) (require-not (subpath (param "WRITABLE_ROOT_0_RO_0"))) (require-not (subpath (param "WRITABLE_ROOT_0_RO_1"))) )`)
	assert.Contains(t, policy, `(subpath (param "WRITABLE_ROOT_1"))`)

	assert.Contains(t, args, "-DWRITABLE_ROOT_0=/tmp/ws")
	assert.Contains(t, args, "-DWRITABLE_ROOT_0_RO_0=/tmp/ws/.git")
	assert.Contains(t, args, "-DWRITABLE_ROOT_0_RO_1=/tmp/ws/.codex")
	assert.Contains(t, args, "-DWRITABLE_ROOT_1=/tmp/empty")

	assert.Equal(t, "--", args[len(args)-4])
	assert.Equal(t, []string{"bash", "-c", "echo hi"}, args[len(args)-3:])
}

func TestBuildArgs_FullDiskAccess(t *testing.T) {
	fs := FilesystemPolicy{FullDiskRead: true, FullDiskWrite: true}
	args := BuildArgs([]string{"ls"}, fs, "", identity)
	policy := args[1]
	assert.Contains(t, policy, "(allow file-read*)")
	assert.Contains(t, policy, `(allow file-write* (regex #"^/"))`)
}

func TestNetworkPolicyText_ProxyPortsOnly(t *testing.T) {
	d := netproxy.DynamicNetworkDecision{LocalhostPorts: []int{43128, 48081}}
	p := NetworkPolicyText(d)
	assert.Contains(t, p, `(allow network-outbound (remote ip "localhost:43128"))`)
	assert.Contains(t, p, `(allow network-outbound (remote ip "localhost:48081"))`)
	assert.NotContains(t, p, "\n(allow network-outbound)\n")
	assert.NotContains(t, p, `(allow network-bind (local ip "localhost:*"))`)
}

func TestNetworkPolicyText_ProxyPortsWithLoopbackBind(t *testing.T) {
	d := netproxy.DynamicNetworkDecision{LocalhostPorts: []int{43128}, AllowLoopbackBind: true}
	p := NetworkPolicyText(d)
	assert.Contains(t, p, `(allow network-bind (local ip "localhost:*"))`)
	assert.Contains(t, p, `(allow network-inbound (local ip "localhost:*"))`)
	assert.Contains(t, p, `(allow network-outbound (remote ip "localhost:*"))`)
}

func TestNetworkPolicyText_FailsClosedWhenEmpty(t *testing.T) {
	p := NetworkPolicyText(netproxy.DynamicNetworkDecision{})
	assert.Empty(t, p)
}

func TestNetworkPolicyText_FullAccess(t *testing.T) {
	p := NetworkPolicyText(netproxy.DynamicNetworkDecision{FullOutbound: true, FullInbound: true})
	assert.Contains(t, p, "(allow network-outbound)\n")
	assert.Contains(t, p, "(allow network-inbound)\n")
}

func TestResolveThenRender_ManagedNetworkEnforcedFailsClosedEvenWithFullAccess(t *testing.T) {
	d := netproxy.ResolveDynamicNetworkPolicy(netproxy.ProxyNetworkInputs{
		HasFullNetworkAccess:  true,
		EnforceManagedNetwork: true,
	})
	assert.Empty(t, NetworkPolicyText(d))
}
