package netproxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() Config {
	return Config{
		Enabled: true,
		Mode:    ModeFull,
		Policy: Policy{
			AllowedDomains:    []string{"*.example.com"},
			DeniedDomains:     []string{},
			AllowLocalBinding: false,
		},
	}
}

// Invariant 5: deny always wins, regardless of allow-list breadth —
// widening the allow list never overrides an explicit deny entry.
func TestHostBlocked_DenyWinsOverAllow(t *testing.T) {
	cfg := baseConfig()
	cfg.Policy.AllowedDomains = []string{"*"}
	cfg.Policy.DeniedDomains = []string{"evil.example.com"}

	d := HostBlocked(context.Background(), cfg, "evil.example.com", 443)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDenied, d.Reason)

	d2 := HostBlocked(context.Background(), cfg, "fine.example.com", 443)
	assert.True(t, d2.Allowed)
}

func TestHostBlocked_DenySubdomainWildcard(t *testing.T) {
	cfg := baseConfig()
	cfg.Policy.DeniedDomains = []string{"*.blocked.com"}

	d := HostBlocked(context.Background(), cfg, "api.blocked.com", 443)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDenied, d.Reason)
}

// Invariant 6: when allow_local_binding is false, a loopback/private host
// is blocked with not_allowed_local even if a wildcard pattern would
// otherwise match it — only an explicit, non-wildcard allow entry permits it.
func TestHostBlocked_LocalBindingDisallowed_WildcardDoesNotCoverLocal(t *testing.T) {
	cfg := baseConfig()
	cfg.Policy.AllowLocalBinding = false
	cfg.Policy.AllowedDomains = []string{"*"}

	d := HostBlocked(context.Background(), cfg, "127.0.0.1", 8080)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotAllowedLocal, d.Reason)
}

func TestHostBlocked_LocalBindingDisallowed_ExplicitEntryPermitted(t *testing.T) {
	cfg := baseConfig()
	cfg.Policy.AllowLocalBinding = false
	cfg.Policy.AllowedDomains = []string{"localhost"}

	d := HostBlocked(context.Background(), cfg, "localhost", 8080)
	assert.True(t, d.Allowed)
}

func TestHostBlocked_LocalBindingAllowed(t *testing.T) {
	cfg := baseConfig()
	cfg.Policy.AllowLocalBinding = true
	cfg.Policy.AllowedDomains = []string{"*.example.com"}

	d := HostBlocked(context.Background(), cfg, "localhost", 8080)
	// Not denied, not local-guarded, but still must satisfy the allow list.
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotAllowed, d.Reason)
}

func TestHostBlocked_NotInAllowList(t *testing.T) {
	cfg := baseConfig()
	d := HostBlocked(context.Background(), cfg, "other.org", 443)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotAllowed, d.Reason)
}

func TestBlockedRing_BoundedAndFIFO(t *testing.T) {
	r := newBlockedRing()
	for i := 0; i < maxBlockedEvents+10; i++ {
		r.record(BlockedRequest{Host: "h", Port: i, At: time.Now()})
	}
	drained := r.drain()
	require.Len(t, drained, maxBlockedEvents)
	assert.Equal(t, 10, drained[0].Port) // oldest 10 evicted

	assert.Empty(t, r.drain())
}

// E2E-3: a proxy configured with a fixed set of upstream ports (as set via
// HTTPS_PROXY-style env at the app layer) only opens localhost access to
// those ports, and denies everything else even under full network access.
func TestResolveDynamicNetworkPolicy_ProxyPortsOnlyOpensThosePorts(t *testing.T) {
	d := ResolveDynamicNetworkPolicy(ProxyNetworkInputs{
		HasFullNetworkAccess: true,
		Ports:                []int{8080, 8443},
	})
	assert.Equal(t, []int{8080, 8443}, d.LocalhostPorts)
	assert.False(t, d.FullOutbound)
}

func TestResolveDynamicNetworkPolicy_ProxyConfigWithoutPortsFailsClosed(t *testing.T) {
	d := ResolveDynamicNetworkPolicy(ProxyNetworkInputs{
		HasFullNetworkAccess: true,
		HasProxyConfig:       true,
	})
	assert.Empty(t, d.LocalhostPorts)
	assert.False(t, d.FullOutbound)
}

func TestResolveDynamicNetworkPolicy_ManagedNetworkEnforcedFailsClosed(t *testing.T) {
	d := ResolveDynamicNetworkPolicy(ProxyNetworkInputs{
		HasFullNetworkAccess:  true,
		EnforceManagedNetwork: true,
	})
	assert.False(t, d.FullOutbound)
}

func TestResolveDynamicNetworkPolicy_FullAccessNoProxyNoManaged(t *testing.T) {
	d := ResolveDynamicNetworkPolicy(ProxyNetworkInputs{HasFullNetworkAccess: true})
	assert.True(t, d.FullOutbound)
	assert.True(t, d.FullInbound)
}

func TestState_SetNetworkModeAndHostBlocked(t *testing.T) {
	cfg := baseConfig()
	cfg.Policy.DeniedDomains = []string{"bad.example.com"}
	load := func() (Config, Constraints, error) { return cfg, Constraints{}, nil }

	s, err := NewState(load, "", nil)
	require.NoError(t, err)

	d := s.HostBlocked(context.Background(), "bad.example.com", 443)
	assert.False(t, d.Allowed)

	drained := s.DrainBlocked()
	require.Len(t, drained, 1)
	assert.Equal(t, "bad.example.com", drained[0].Host)
}

func TestState_SetNetworkMode_RejectsWideningWhenPinned(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = ModeLimited
	load := func() (Config, Constraints, error) {
		return cfg, Constraints{AllowedDomainsPinned: []string{"*.example.com"}}, nil
	}

	s, err := NewState(load, "", nil)
	require.NoError(t, err)

	err = s.SetNetworkMode(ModeFull)
	assert.Error(t, err)
}
