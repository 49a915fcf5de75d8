package appwiring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/turn"
)

func TestResolveCodexHome_PrefersEnvVar(t *testing.T) {
	t.Setenv("CODEX_HOME", "/tmp/custom-codex-home")
	assert.Equal(t, "/tmp/custom-codex-home", ResolveCodexHome())
}

func TestResolveCodexHome_FallsBackToDotCodexcore(t *testing.T) {
	t.Setenv("CODEX_HOME", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".codexcore"), ResolveCodexHome())
}

func TestLoad_BuildsEnvironmentAgainstAFreshCodexHome(t *testing.T) {
	dir := t.TempDir()
	env, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, dir, env.CodexHome)
	assert.NotNil(t, env.ConfigEngine)
	assert.NotNil(t, env.NetworkState)
	assert.NotNil(t, env.Registry)
}

func TestLoad_WritesUserConfigAndReReadsEffectiveDefaultModel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"),
		[]byte("[agent]\ndefault_model = \"openai/gpt-4.1-mini\"\n"), 0o644))

	env, err := Load(dir, nil)
	require.NoError(t, err)

	cfg, _, err := env.EffectiveConfig()
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4.1-mini", cfg.Agent.DefaultModel)
}

func TestNewTurnRunner_BuildsARunnerFromEffectiveConfig(t *testing.T) {
	dir := t.TempDir()
	env, err := Load(dir, nil)
	require.NoError(t, err)

	history := itemstore.NewContextManager(nil, false)
	runner, err := env.NewTurnRunner(TurnDeps{
		History:   history,
		Workspace: dir,
		Model:     "openai/gpt-4.1",
		Notifier:  turn.NotifierFunc(func(turn.TurnEvent) {}),
	})
	require.NoError(t, err)
	assert.NotNil(t, runner)
}

func TestNewCompactor_BuildsACompactorThatRebuildsRunnersOnDemand(t *testing.T) {
	dir := t.TempDir()
	env, err := Load(dir, nil)
	require.NoError(t, err)

	history := itemstore.NewContextManager(nil, false)
	compactor := env.NewCompactor(history, TurnDeps{Workspace: dir, Model: "openai/gpt-4.1"}, nil)
	assert.NotNil(t, compactor)
}
