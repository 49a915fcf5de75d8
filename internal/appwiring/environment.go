// Package appwiring is the composition root: it loads the layered config
// engine, network-proxy state, LLM provider router, and tool dispatcher
// once per process and hands out a fresh turn.Runner per conversation
// turn. Grounded on the teacher's internal/application.App (the single
// struct every cmd/ entrypoint builds once and threads through its
// REPL/HTTP/gRPC surfaces); this generalizes that composition-root shape
// to the new engine's components instead of the teacher's DB/TG/HTTP
// dependencies.
package appwiring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/appconfig"
	"github.com/ngoclaw/codexcore/internal/compact"
	"github.com/ngoclaw/codexcore/internal/execevents"
	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/layeredconfig"
	"github.com/ngoclaw/codexcore/internal/llmclient"
	"github.com/ngoclaw/codexcore/internal/netproxy"
	"github.com/ngoclaw/codexcore/internal/toolexec"
	"github.com/ngoclaw/codexcore/internal/turn"

	// Provider backends self-register via init(); importing for side
	// effects is the teacher's own pattern for wiring optional backends.
	_ "github.com/ngoclaw/codexcore/internal/llmclient/anthropic"
	_ "github.com/ngoclaw/codexcore/internal/llmclient/gemini"
	_ "github.com/ngoclaw/codexcore/internal/llmclient/openai"
)

// defaultToolOutputTokenBudget is the per-item truncation budget used
// when a turn's context doesn't override it (spec §4.A step 2: "a
// configured per-item budget", left to the caller).
const defaultToolOutputTokenBudget = 10_000

// Environment is the process-wide composition root.
type Environment struct {
	CodexHome string
	Logger    *zap.Logger

	ConfigEngine *layeredconfig.Engine
	NetworkState *netproxy.State
	Registry     *toolexec.Registry
	MCP          toolexec.MCPClient
}

// Load builds an Environment rooted at codexHome. If codexHome is "",
// $CODEX_HOME is consulted, then ~/.codexcore.
func Load(codexHome string, logger *zap.Logger) (*Environment, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if codexHome == "" {
		codexHome = ResolveCodexHome()
	}
	if err := os.MkdirAll(filepath.Join(codexHome, ".sandbox"), 0o755); err != nil {
		return nil, fmt.Errorf("appwiring: create sandbox state dir: %w", err)
	}

	sources := []layeredconfig.LayerSource{
		{Source: layeredconfig.SourceManagedMDM, Path: managedMDMPath()},
		{Source: layeredconfig.SourceManagedSystemFile, Path: managedSystemFilePath()},
		{Source: layeredconfig.SourceSessionFlags}, // in-memory only
		{Source: layeredconfig.SourceUserFile, Path: filepath.Join(codexHome, "config.toml")},
		{Source: layeredconfig.SourceLegacyManaged, Path: filepath.Join(codexHome, "openclaw.json")},
	}

	engine := layeredconfig.NewEngine(sources, appconfig.PinSpec(), appconfig.Validate, logger)

	loader := func() (netproxy.Config, netproxy.Constraints, error) {
		res, err := engine.Read(false)
		if err != nil {
			return netproxy.Config{}, netproxy.Constraints{}, err
		}
		cfg, err := appconfig.Decode(res.Config)
		if err != nil {
			return netproxy.Config{}, netproxy.Constraints{}, err
		}
		managed, err := appconfig.Decode(engine.ManagedEffective())
		if err != nil {
			return netproxy.Config{}, netproxy.Constraints{}, err
		}
		return cfg.NetworkConfig(), appconfig.NetworkConstraints(*managed), nil
	}

	netState, err := netproxy.NewState(loader, filepath.Join(codexHome, "config.toml"), logger)
	if err != nil {
		return nil, fmt.Errorf("appwiring: init network proxy state: %w", err)
	}

	return &Environment{
		CodexHome:    codexHome,
		Logger:       logger,
		ConfigEngine: engine,
		NetworkState: netState,
		Registry:     toolexec.NewRegistry(),
		MCP:          toolexec.NoMCPClient{},
	}, nil
}

// ResolveCodexHome implements the $CODEX_HOME / ~/.codexcore fallback
// from spec §6's "CODEX_HOME (primary path)".
func ResolveCodexHome() string {
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".codexcore"
	}
	return filepath.Join(dir, ".codexcore")
}

func managedMDMPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "/Library/Managed Preferences/com.codexcore.plist.toml"
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "codexcore", "managed_mdm.toml")
	default:
		return "/etc/codexcore/managed_mdm.toml"
	}
}

func managedSystemFilePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "codexcore", "managed_config.toml")
	default:
		return "/etc/codexcore/managed_config.toml"
	}
}

// EffectiveConfig re-reads the config engine and decodes the effective
// table, the step every turn/config-read path needs before building
// sandbox policy, network policy, or a provider router.
func (e *Environment) EffectiveConfig() (*appconfig.Config, *layeredconfig.ReadResult, error) {
	res, err := e.ConfigEngine.Read(true)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := appconfig.Decode(res.Config)
	if err != nil {
		return nil, nil, err
	}
	return cfg, res, nil
}

// TurnDeps bundles what NewTurnRunner needs beyond the Environment's own
// long-lived state: the conversation history, workspace root, and a
// model override (falls back to the configured default model).
//
// ThreadEvents/OnThreadEvent are optional: when both are set, the
// dispatcher's exec/MCP/patch-apply activity and the turn's own
// started/complete/error lifecycle are aggregated into stable
// execevents.ThreadEvent values and delivered to OnThreadEvent, the way
// a caller (e.g. the app server's turn/start handler) streams tool
// activity back over its own connection.
type TurnDeps struct {
	History      *itemstore.ContextManager
	Workspace    string
	Model        string
	Notifier     turn.Notifier
	Tools        []llmclient.ToolDef
	ThreadEvents *execevents.Aggregator
	OnThreadEvent func(execevents.ThreadEvent)
}

// NewTurnRunner builds one turn.Runner wired against this Environment's
// config, sandbox policy, and a fresh provider router. Routers are cheap
// (no I/O at construction) so building one per turn keeps provider
// circuit-breaker state scoped sensibly without needing a long-lived
// singleton the way the history store is.
func (e *Environment) NewTurnRunner(deps TurnDeps) (*turn.Runner, error) {
	cfg, _, err := e.EffectiveConfig()
	if err != nil {
		return nil, err
	}

	model := deps.Model
	if model == "" {
		model = cfg.Agent.DefaultModel
	}

	dynamicNet := netproxy.ResolveDynamicNetworkPolicy(netproxy.ProxyNetworkInputs{
		HasFullNetworkAccess: cfg.Sandbox.HasFullNetwork,
		EnforceManagedNetwork: cfg.Sandbox.EnforceManagedNet,
		AllowLocalBinding:     cfg.Network.AllowLocalBinding,
	})
	policy := cfg.ProcessPolicy(dynamicNet)

	router := cfg.BuildRouter(e.Logger)
	session := llmclient.NewSession(router, model, deps.Tools)
	dispatcher := toolexec.NewDispatcher(policy, deps.Workspace, e.Registry, e.MCP, e.Logger)
	dispatcher.Events = deps.ThreadEvents
	dispatcher.OnThreadEvent = deps.OnThreadEvent

	runnerCfg := turn.Config{
		History:      deps.History,
		Session:      session,
		Dispatcher:   dispatcher,
		Notifier:     bridgeThreadEvents(deps.Notifier, deps.ThreadEvents, deps.OnThreadEvent),
		Logger:       e.Logger,
		Instructions: cfg.Agent.Instructions,
		Personality:  cfg.Agent.Personality,
		RecordPolicy: itemstore.DefaultRecordPolicy(defaultToolOutputTokenBudget),
	}
	return turn.NewRunner(runnerCfg), nil
}

// bridgeThreadEvents wraps inner so every TurnEvent also feeds the
// aggregator's turn-lifecycle rules (started/complete/retrying/
// critical-error), the RawEvent kinds that only the turn engine itself
// -- never the dispatcher -- can observe. A nil aggregator or sink makes
// this the identity wrap.
func bridgeThreadEvents(inner turn.Notifier, agg *execevents.Aggregator, onThreadEvent func(execevents.ThreadEvent)) turn.Notifier {
	if agg == nil || onThreadEvent == nil {
		return inner
	}
	return turn.NotifierFunc(func(e turn.TurnEvent) {
		if inner != nil {
			inner.Notify(e)
		}
		var raw *execevents.RawEvent
		switch e.Outcome {
		case turn.OutcomeTurnStarted:
			raw = &execevents.RawEvent{Kind: execevents.RawTurnStarted}
		case turn.OutcomeTurnComplete:
			raw = &execevents.RawEvent{Kind: execevents.RawTurnComplete, Usage: execevents.Usage{OutputTokens: e.TokenUsage}}
		case turn.OutcomeTurnRetrying:
			raw = &execevents.RawEvent{Kind: execevents.RawTurnRetrying, Attempt: e.Attempt, MaxAttempts: e.MaxAttempts}
		case turn.OutcomeTurnError:
			raw = &execevents.RawEvent{Kind: execevents.RawCriticalError, Message: e.Err.Error()}
		}
		if raw == nil {
			return
		}
		for _, te := range agg.Handle(*raw) {
			onThreadEvent(te)
		}
	})
}

// NewCompactor builds an internal/compact Compactor whose nested turns
// are produced by NewTurnRunner against a scratch history, per §4.F's
// "run a nested turn via §4.E in isolation" requirement.
func (e *Environment) NewCompactor(history *itemstore.ContextManager, deps TurnDeps, notifier turn.Notifier) *compact.Compactor {
	newRunner := func(scratch *itemstore.ContextManager) *turn.Runner {
		scratchDeps := deps
		scratchDeps.History = scratch
		r, err := e.NewTurnRunner(scratchDeps)
		if err != nil {
			// Compactor's RunnerFactory has no error return; an
			// unreachable config-decode failure here would already have
			// surfaced from the very first NewTurnRunner call this
			// process made, so panic is appropriate rather than
			// threading an error path the teacher's own compaction
			// helper never had either.
			panic(fmt.Sprintf("appwiring: rebuild runner for compaction: %v", err))
		}
		return r
	}
	return compact.New(history, newRunner, notifier, e.Logger)
}

// Close flushes anything Environment owns that needs a clean shutdown.
func (e *Environment) Close(ctx context.Context) error {
	_ = ctx
	return e.Logger.Sync()
}
