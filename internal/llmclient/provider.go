// Package llmclient drives model streaming requests against one or more
// HTTP-based providers (OpenAI-compatible, Anthropic, Gemini), routing
// between them with circuit-breaker failover and exposing a
// turn.ModelClientSession per turn so the turn engine can retry within a
// turn without losing sticky provider selection or its sequence counter.
//
// Grounded on the teacher's internal/infrastructure/llm package: the
// Provider/ProviderFactory registry, Router's failover loop, and
// CircuitBreaker are carried over near verbatim; Session is new, adapting
// the router's per-call provider selection into the spec's per-turn
// sticky session.
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/turn"
)

// ToolDef describes one callable tool offered to the model. Supplied to a
// Session at construction (from the turn's tool registry) rather than
// per-request, since the available toolset doesn't change mid-turn.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Request is one streaming request issued to a Provider: the filtered
// prompt plus the sequence number of this attempt within the owning
// turn (first attempt is 1; each OpenStream retry increments it).
type Request struct {
	Model        string
	Instructions string
	Personality  string
	Input        []itemstore.Item
	Tools        []ToolDef
	Sequence     int64
}

// Provider serves streaming model requests for one backend. Name/Models/
// SupportsModel/IsAvailable let a Router pick among several without
// issuing a request first.
type Provider interface {
	Name() string
	Models() []string
	SupportsModel(model string) bool
	IsAvailable(ctx context.Context) bool
	OpenStream(ctx context.Context, req Request) (turn.EventStream, error)
}

// ProviderConfig configures one provider instance, independent of its
// wire format.
type ProviderConfig struct {
	Name     string
	Type     string // registered factory key: "openai", "anthropic", "gemini"
	BaseURL  string
	APIKey   string
	Models   []string
	Priority int
}

// ProviderFactory builds a Provider from config. Backends self-register
// one of these via RegisterFactory from an init() func, the same pattern
// the teacher's provider sub-packages use.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var factories = map[string]ProviderFactory{}

// RegisterFactory registers a provider factory under providerType. Called
// from sub-package init() funcs; panics on duplicate registration since
// that only happens from a programming error, never user input.
func RegisterFactory(providerType string, factory ProviderFactory) {
	if _, exists := factories[providerType]; exists {
		panic(fmt.Sprintf("llmclient: duplicate provider factory %q", providerType))
	}
	factories[providerType] = factory
}

// CreateProvider builds a Provider from cfg using the factory registered
// for cfg.Type.
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("llmclient: no provider factory registered for type %q", cfg.Type)
	}
	return factory(cfg, logger), nil
}
