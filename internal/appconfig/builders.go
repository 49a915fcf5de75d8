package appconfig

import (
	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/llmclient"
	"github.com/ngoclaw/codexcore/internal/netproxy"
	"github.com/ngoclaw/codexcore/internal/sandbox/process"
	"github.com/ngoclaw/codexcore/internal/sandbox/seatbelt"
)

// NetworkConfig builds a netproxy.Config from the decoded Network block.
func (c *Config) NetworkConfig() netproxy.Config {
	mode := netproxy.ModeLimited
	if c.Network.Mode == string(netproxy.ModeFull) {
		mode = netproxy.ModeFull
	}
	return netproxy.Config{
		Enabled: c.Network.Enabled,
		Mode:    mode,
		Policy: netproxy.Policy{
			AllowedDomains:    c.Network.AllowedDomains,
			DeniedDomains:     c.Network.DeniedDomains,
			AllowLocalBinding: c.Network.AllowLocalBinding,
			AllowUnixSockets:  c.Network.AllowUnixSockets,
		},
	}
}

// NetworkConstraints builds the netproxy.Constraints a netproxy.Loader
// must also return, derived from whichever managed layers pinned the
// allow/deny lists (§4.B.2, consumed by §4.C's own pin-narrowing checks).
func NetworkConstraints(managed Config) netproxy.Constraints {
	return netproxy.Constraints{
		AllowedDomainsPinned: managed.Network.AllowedDomains,
		DeniedDomainsPinned:  managed.Network.DeniedDomains,
	}
}

// ProcessPolicy builds the process.Policy a toolexec.Dispatcher execs
// shell/patch commands under, from the Sandbox block plus the already
// resolved dynamic network decision (§4.D.1's ResolveDynamicNetworkPolicy
// output, computed by the caller from live netproxy/proxy-env state).
func (c *Config) ProcessPolicy(network netproxy.DynamicNetworkDecision) process.Policy {
	var roSubpaths []seatbelt.ReadOnlySubpath
	for _, sub := range c.Sandbox.ReadOnlySubpaths {
		roSubpaths = append(roSubpaths, seatbelt.ReadOnlySubpath{Path: sub})
	}
	fs := seatbelt.FilesystemPolicy{
		FullDiskRead:  c.Sandbox.FullDiskRead,
		FullDiskWrite: c.Sandbox.FullDiskWrite,
	}
	for _, root := range c.Sandbox.WritableRoots {
		fs.WritableRoots = append(fs.WritableRoots, seatbelt.WritableRoot{Root: root, ReadOnlySubpaths: roSubpaths})
	}
	return process.Policy{Filesystem: fs, Network: network}
}

// ProviderConfigs converts the decoded Providers block into the
// llmclient.ProviderConfig slice a Router is built from, in priority
// order (highest Priority first), matching Router.AddProvider's
// "callers add in priority order" contract.
func (c *Config) ProviderConfigs() []llmclient.ProviderConfig {
	specs := make([]ProviderSpec, len(c.Providers))
	copy(specs, c.Providers)
	for i := 0; i < len(specs); i++ {
		for j := i + 1; j < len(specs); j++ {
			if specs[j].Priority > specs[i].Priority {
				specs[i], specs[j] = specs[j], specs[i]
			}
		}
	}
	out := make([]llmclient.ProviderConfig, 0, len(specs))
	for _, s := range specs {
		out = append(out, llmclient.ProviderConfig{
			Name:     s.Name,
			Type:     s.Type,
			BaseURL:  s.BaseURL,
			APIKey:   s.APIKey,
			Models:   s.Models,
			Priority: s.Priority,
		})
	}
	return out
}

// BuildRouter constructs a Router and registers one provider per
// ProviderConfig, using whichever factory internal/llmclient/{openai,
// anthropic,gemini} registered under ProviderSpec.Type.
func (c *Config) BuildRouter(logger *zap.Logger) *llmclient.Router {
	router := llmclient.NewRouter(logger)
	for _, pc := range c.ProviderConfigs() {
		p, err := llmclient.CreateProvider(pc, logger)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping provider with unknown type", zap.String("name", pc.Name), zap.String("type", pc.Type), zap.Error(err))
			}
			continue
		}
		router.AddProvider(p)
	}
	return router
}
