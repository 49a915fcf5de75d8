// Package appconfig is the typed schema the layered config engine's
// effective table round-trips through on every read/write (§4.B:
// "validate, if non-nil, is called on the recomputed effective config").
//
// Grounded on the teacher's internal/infrastructure/config.Config struct
// (the thing viper.Unmarshal decodes into): the same "one struct, one
// nested block per concern" shape, decoded here from a layeredconfig.Table
// instead of viper's own unmarshal path. No pack example ships a
// map-to-struct decoder independent of viper (viper itself was dropped --
// see DESIGN.md), so the decode step uses a JSON round-trip over the
// standard library; this is the one place this module falls back to
// stdlib for something a library would ordinarily do.
package appconfig

import (
	"encoding/json"
	"fmt"

	"github.com/ngoclaw/codexcore/internal/layeredconfig"
)

// ProviderSpec configures one llmclient provider instance.
type ProviderSpec struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	BaseURL  string   `json:"base_url"`
	APIKey   string   `json:"api_key"`
	Models   []string `json:"models"`
	Priority int      `json:"priority"`
}

// SandboxSpec controls the filesystem/network policy a spawned tool
// command runs under.
type SandboxSpec struct {
	WritableRoots      []string `json:"writable_roots"`
	ReadOnlySubpaths   []string `json:"read_only_subpaths"`
	FullDiskRead       bool     `json:"full_disk_read"`
	FullDiskWrite      bool     `json:"full_disk_write"`
	HasFullNetwork     bool     `json:"has_full_network_access"`
	EnforceManagedNet  bool     `json:"enforce_managed_network"`
}

// NetworkSpec mirrors netproxy.Config's on-disk shape.
type NetworkSpec struct {
	Enabled           bool     `json:"enabled"`
	Mode              string   `json:"mode"`
	AllowedDomains    []string `json:"allowed_domains"`
	DeniedDomains     []string `json:"denied_domains"`
	AllowLocalBinding bool     `json:"allow_local_binding"`
	AllowUnixSockets  []string `json:"allow_unix_sockets"`
}

// AgentSpec names the default model and instructions/personality pair
// the turn engine opens each session with.
type AgentSpec struct {
	DefaultModel string `json:"default_model"`
	Instructions string `json:"instructions"`
	Personality  string `json:"personality"`
}

// Config is the full decoded effective configuration.
type Config struct {
	Agent     AgentSpec      `json:"agent"`
	Providers []ProviderSpec `json:"providers"`
	Sandbox   SandboxSpec    `json:"sandbox"`
	Network   NetworkSpec    `json:"network"`
}

// Decode converts a layeredconfig.Table (already a plain map[string]any)
// into a typed Config via a JSON round-trip.
func Decode(t layeredconfig.Table) (*Config, error) {
	raw, err := json.Marshal(map[string]any(t))
	if err != nil {
		return nil, fmt.Errorf("appconfig: encode effective table: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("appconfig: decode effective table: %w", err)
	}
	return &cfg, nil
}

// Validate is the closure layeredconfig.NewEngine wants: it rejects any
// effective table that does not decode into Config.
func Validate(t layeredconfig.Table) error {
	_, err := Decode(t)
	return err
}

// PinSpec declares which dotted key paths managed layers may narrow,
// per spec §8 testable property 3 (allowed_domains narrowing).
func PinSpec() map[string]layeredconfig.ConstraintKind {
	return map[string]layeredconfig.ConstraintKind{
		"network.allowed_domains": layeredconfig.AllowListPin,
		"network.denied_domains":  layeredconfig.DenyListPin,
	}
}

// Default returns the zero-value effective config a fresh $CODEX_HOME
// gets before any config.toml exists.
func Default() Config {
	return Config{
		Agent: AgentSpec{
			DefaultModel: "openai/gpt-4.1",
			Instructions: "You are codexcore, a terminal coding agent.",
		},
		Network: NetworkSpec{
			Mode: "limited",
		},
	}
}
