package process

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/codexcore/internal/netproxy"
)

func TestRunPlain_CapturesStdoutAndExitCode(t *testing.T) {
	r, err := runPlain(context.Background(), Request{
		Command: []string{"sh", "-c", "echo hello; exit 3"},
		Cwd:     os.TempDir(),
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, r.Stdout, "hello")
	assert.Equal(t, 3, r.ExitCode)
	assert.Equal(t, "process-group", r.Backend)
}

func TestRunPlain_TimesOut(t *testing.T) {
	r, err := runPlain(context.Background(), Request{
		Command: []string{"sh", "-c", "sleep 5"},
		Cwd:     os.TempDir(),
		Timeout: 50 * time.Millisecond,
	}, nil)
	require.Error(t, err)
	require.NotNil(t, r)
	assert.True(t, r.Killed)
}

func TestBuildEnv_OmitsProxyVarsWhenNetworkClosed(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://127.0.0.1:8080")
	env := BuildEnv(os.TempDir(), netproxy.DynamicNetworkDecision{})
	for _, e := range env {
		assert.NotContains(t, e, "HTTPS_PROXY")
	}
}

func TestBuildEnv_IncludesProxyVarsWhenPortsGranted(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://127.0.0.1:8080")
	env := BuildEnv(os.TempDir(), netproxy.DynamicNetworkDecision{LocalhostPorts: []int{8080}})
	found := false
	for _, e := range env {
		if e == "HTTPS_PROXY=http://127.0.0.1:8080" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestScriptTempFile_WritesContent(t *testing.T) {
	dir := t.TempDir()
	path, err := ScriptTempFile(dir, "#!/bin/sh\necho hi\n")
	require.NoError(t, err)
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "echo hi")
}
