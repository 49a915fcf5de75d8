package toolexec

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/codexcore/internal/execevents"
	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/netproxy"
	"github.com/ngoclaw/codexcore/internal/sandbox/process"
	"github.com/ngoclaw/codexcore/internal/turn"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	policy := process.Policy{Network: netproxy.DynamicNetworkDecision{}}
	return NewDispatcher(policy, t.TempDir(), nil, nil, nil)
}

func TestDispatch_ShellFunctionCallRunsCommandAndReportsSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell command")
	}
	d := newTestDispatcher(t)
	call := turn.ToolCall{
		Kind:      itemstore.KindFunctionCall,
		CallID:    "call-1",
		Name:      "shell",
		Arguments: `{"command":["echo","hello"]}`,
	}
	out, err := d.Dispatch(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, itemstore.KindFunctionCallOutput, out.Kind)
	assert.Equal(t, "call-1", out.CallID)
	require.NotNil(t, out.Output.Success)
	assert.True(t, *out.Output.Success)
	assert.Contains(t, out.Output.Text, "hello")
}

func TestDispatch_ShellWithEmptyCommandFailsWithoutExecing(t *testing.T) {
	d := newTestDispatcher(t)
	call := turn.ToolCall{
		Kind:      itemstore.KindFunctionCall,
		Name:      "shell",
		Arguments: `{"command":[]}`,
	}
	out, err := d.Dispatch(context.Background(), call)
	require.NoError(t, err)
	require.NotNil(t, out.Output.Success)
	assert.False(t, *out.Output.Success)
	assert.Contains(t, out.Output.Text, "empty command")
}

func TestDispatch_CustomToolRoutesToRegistry(t *testing.T) {
	d := newTestDispatcher(t)
	d.Registry.Register(FuncTool{
		ToolName: "echo_tool",
		Fn: func(ctx context.Context, input string) (string, bool, error) {
			return "got: " + input, true, nil
		},
	})
	call := turn.ToolCall{Kind: itemstore.KindCustomToolCall, CallID: "c2", Name: "echo_tool", Input: "ping"}
	out, err := d.Dispatch(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, itemstore.KindCustomToolCallOut, out.Kind)
	assert.Equal(t, "got: ping", out.Output.Text)
}

func TestDispatch_CustomToolNotFoundReportsFailureNotError(t *testing.T) {
	d := newTestDispatcher(t)
	call := turn.ToolCall{Kind: itemstore.KindCustomToolCall, Name: "missing_tool"}
	out, err := d.Dispatch(context.Background(), call)
	require.NoError(t, err)
	require.NotNil(t, out.Output.Success)
	assert.False(t, *out.Output.Success)
	assert.Contains(t, out.Output.Text, "not found")
}

func TestDispatch_UnsupportedKindReturnsError(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), turn.ToolCall{Kind: itemstore.KindMessage})
	assert.ErrorIs(t, err, errUnsupportedToolCall)
}

func TestDispatch_ShellEmitsExecBeginAndEndThreadEvents(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell command")
	}
	d := newTestDispatcher(t)
	d.Events = execevents.New(nil)
	var got []execevents.ThreadEvent
	d.OnThreadEvent = func(te execevents.ThreadEvent) { got = append(got, te) }

	call := turn.ToolCall{Kind: itemstore.KindFunctionCall, CallID: "call-2", Name: "shell", Arguments: `{"command":["echo","hi"]}`}
	_, err := d.Dispatch(context.Background(), call)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, execevents.EventItemStarted, got[0].Kind)
	assert.Equal(t, execevents.ItemCommandExecution, got[0].Item.Kind)
	assert.Equal(t, execevents.EventItemCompleted, got[1].Kind)
	assert.Contains(t, got[1].Item.AggregatedOutput, "hi")
}

func TestDispatch_WithoutEventsConfiguredEmitIsANoop(t *testing.T) {
	d := newTestDispatcher(t)
	assert.Nil(t, d.Events)
	assert.Nil(t, d.OnThreadEvent)
	d.emit(execevents.RawEvent{Kind: execevents.RawTurnStarted})
}

func TestParsePatchChanges_ClassifiesAddUpdateDelete(t *testing.T) {
	patch := "--- /dev/null\n+++ b/new.go\n@@\n" +
		"--- a/old.go\n+++ b/old.go\n@@\n" +
		"--- a/gone.go\n+++ /dev/null\n@@\n"
	changes := parsePatchChanges(patch)
	require.Len(t, changes, 3)
	assert.Equal(t, execevents.PathChange{Path: "new.go", Kind: execevents.FileChangeAdd}, changes[0])
	assert.Equal(t, execevents.PathChange{Path: "old.go", Kind: execevents.FileChangeUpdate}, changes[1])
	assert.Equal(t, execevents.PathChange{Path: "gone.go", Kind: execevents.FileChangeDelete}, changes[2])
}

func TestParseMCPName(t *testing.T) {
	server, tool, ok := parseMCPName("mcp__fs__read_file")
	require.True(t, ok)
	assert.Equal(t, "fs", server)
	assert.Equal(t, "read_file", tool)

	_, _, ok = parseMCPName("mcp__malformed")
	assert.False(t, ok)
}
