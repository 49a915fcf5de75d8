package execevents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecCommand_BeginThenEnd(t *testing.T) {
	a := New(nil)

	started := a.Handle(RawEvent{Kind: RawExecCommandBegin, CallID: "c1", Command: []string{"echo", "hello world"}})
	require.Len(t, started, 1)
	assert.Equal(t, EventItemStarted, started[0].Kind)
	assert.Equal(t, ItemCommandExecution, started[0].Item.Kind)
	assert.Equal(t, StatusInProgress, started[0].Item.Status)
	assert.Equal(t, "echo 'hello world'", started[0].Item.Command)
	itemID := started[0].Item.ID

	completed := a.Handle(RawEvent{Kind: RawExecCommandEnd, CallID: "c1", ExitCode: 0, AggregatedOutput: "hello world\n"})
	require.Len(t, completed, 1)
	assert.Equal(t, EventItemCompleted, completed[0].Kind)
	assert.Equal(t, itemID, completed[0].Item.ID)
	assert.Equal(t, StatusCompleted, completed[0].Item.Status)
	require.NotNil(t, completed[0].Item.ExitCode)
	assert.Equal(t, 0, *completed[0].Item.ExitCode)
}

func TestExecCommand_NonZeroExitIsFailed(t *testing.T) {
	a := New(nil)
	a.Handle(RawEvent{Kind: RawExecCommandBegin, CallID: "c1", Command: []string{"false"}})
	completed := a.Handle(RawEvent{Kind: RawExecCommandEnd, CallID: "c1", ExitCode: 1})
	require.Len(t, completed, 1)
	assert.Equal(t, StatusFailed, completed[0].Item.Status)
}

func TestExecCommand_OrphanEndIsSkipped(t *testing.T) {
	a := New(nil)
	events := a.Handle(RawEvent{Kind: RawExecCommandEnd, CallID: "never-started", ExitCode: 0})
	assert.Empty(t, events)
}

func TestExecCommand_UnfinishedAtTurnCompleteIsForceCompletedWithNoExitCode(t *testing.T) {
	a := New(nil)
	a.Handle(RawEvent{Kind: RawExecCommandBegin, CallID: "c1", Command: []string{"sleep", "100"}})

	events := a.Handle(RawEvent{Kind: RawTurnComplete})
	var found bool
	for _, ev := range events {
		if ev.Kind == EventItemCompleted && ev.Item.Kind == ItemCommandExecution {
			found = true
			assert.Nil(t, ev.Item.ExitCode)
			assert.Equal(t, StatusCompleted, ev.Item.Status)
		}
	}
	assert.True(t, found, "expected the still-running command to be force-completed")
}

func TestMcpToolCall_BeginThenEndSuccess(t *testing.T) {
	a := New(nil)
	started := a.Handle(RawEvent{Kind: RawMcpToolCallBegin, CallID: "m1", Server: "git", Tool: "status"})
	require.Len(t, started, 1)
	itemID := started[0].Item.ID

	completed := a.Handle(RawEvent{Kind: RawMcpToolCallEnd, CallID: "m1", Success: true, Result: []byte(`{"clean":true}`)})
	require.Len(t, completed, 1)
	assert.Equal(t, itemID, completed[0].Item.ID)
	assert.Equal(t, StatusCompleted, completed[0].Item.Status)
	assert.Equal(t, "git", completed[0].Item.Server)
	assert.JSONEq(t, `{"clean":true}`, string(completed[0].Item.Result))
}

func TestMcpToolCall_EndWithoutBeginSynthesizesItem(t *testing.T) {
	a := New(nil)
	completed := a.Handle(RawEvent{Kind: RawMcpToolCallEnd, CallID: "orphan", Server: "git", Tool: "log", Success: false, Error: "timeout"})
	require.Len(t, completed, 1)
	assert.Equal(t, StatusFailed, completed[0].Item.Status)
	assert.Equal(t, "timeout", completed[0].Item.ErrorMessage)
	assert.NotEmpty(t, completed[0].Item.ID)
}

func TestPlanUpdate_CoalescesIntoOneItemUntilTurnComplete(t *testing.T) {
	a := New(nil)
	first := a.Handle(RawEvent{Kind: RawPlanUpdate, Steps: []TodoStep{{Text: "step one"}}})
	require.Len(t, first, 1)
	assert.Equal(t, EventItemStarted, first[0].Kind)
	itemID := first[0].Item.ID

	second := a.Handle(RawEvent{Kind: RawPlanUpdate, Steps: []TodoStep{{Text: "step one", Completed: true}, {Text: "step two"}}})
	require.Len(t, second, 1)
	assert.Equal(t, EventItemUpdated, second[0].Kind)
	assert.Equal(t, itemID, second[0].Item.ID)
	assert.Len(t, second[0].Item.Todos, 2)

	final := a.Handle(RawEvent{Kind: RawTurnComplete})
	var sawCompletedTodo bool
	for _, ev := range final {
		if ev.Kind == EventItemCompleted && ev.Item.Kind == ItemTodoList {
			sawCompletedTodo = true
			assert.Equal(t, itemID, ev.Item.ID)
			assert.Len(t, ev.Item.Todos, 2)
		}
	}
	assert.True(t, sawCompletedTodo)
}

func TestPatchApply_OnlyEmittedOnEnd(t *testing.T) {
	a := New(nil)
	changes := []PathChange{{Path: "a.go", Kind: FileChangeUpdate}, {Path: "b.go", Kind: FileChangeAdd}}
	begin := a.Handle(RawEvent{Kind: RawPatchApplyBegin, CallID: "p1", Changes: changes})
	assert.Empty(t, begin)

	end := a.Handle(RawEvent{Kind: RawPatchApplyEnd, CallID: "p1", PatchSucceeded: true})
	require.Len(t, end, 1)
	assert.Equal(t, EventItemCompleted, end[0].Kind)
	assert.Equal(t, StatusCompleted, end[0].Item.Status)
	assert.Equal(t, changes, end[0].Item.Changes)
}

func TestPatchApply_EndWithoutBeginEmitsNothing(t *testing.T) {
	a := New(nil)
	end := a.Handle(RawEvent{Kind: RawPatchApplyEnd, CallID: "never-began", PatchSucceeded: true})
	assert.Empty(t, end)
}

func TestWebSearch_BeginThenEnd(t *testing.T) {
	a := New(nil)
	started := a.Handle(RawEvent{Kind: RawWebSearchBegin, CallID: "w1"})
	require.Len(t, started, 1)
	itemID := started[0].Item.ID

	completed := a.Handle(RawEvent{Kind: RawWebSearchEnd, CallID: "w1", Query: "golang context", Action: "search"})
	require.Len(t, completed, 1)
	assert.Equal(t, itemID, completed[0].Item.ID)
	assert.Equal(t, "golang context", completed[0].Item.Query)
}

func TestTurnComplete_WithoutCriticalErrorReportsUsage(t *testing.T) {
	a := New(nil)
	a.Handle(RawEvent{Kind: RawTurnStarted})
	events := a.Handle(RawEvent{Kind: RawTurnComplete, Usage: Usage{InputTokens: 100, OutputTokens: 20}})
	require.Len(t, events, 1)
	assert.Equal(t, EventTurnCompleted, events[0].Kind)
	assert.Equal(t, Usage{InputTokens: 100, OutputTokens: 20}, events[0].Usage)
}

func TestTurnRetrying_ReportsAttemptAndMaxAttempts(t *testing.T) {
	a := New(nil)
	a.Handle(RawEvent{Kind: RawTurnStarted})
	events := a.Handle(RawEvent{Kind: RawTurnRetrying, Attempt: 2, MaxAttempts: 5})
	require.Len(t, events, 1)
	assert.Equal(t, EventTurnRetrying, events[0].Kind)
	assert.Equal(t, 2, events[0].Attempt)
	assert.Equal(t, 5, events[0].MaxAttempts)
}

func TestTurnComplete_AfterCriticalErrorReportsTurnFailed(t *testing.T) {
	a := New(nil)
	a.Handle(RawEvent{Kind: RawTurnStarted})
	errEvents := a.Handle(RawEvent{Kind: RawCriticalError, Message: "model stream disconnected"})
	require.Len(t, errEvents, 1)
	assert.Equal(t, EventError, errEvents[0].Kind)

	events := a.Handle(RawEvent{Kind: RawTurnComplete})
	require.Len(t, events, 1)
	assert.Equal(t, EventTurnFailed, events[0].Kind)
	assert.Equal(t, "model stream disconnected", events[0].ErrorMessage)
}

func TestTurnStarted_ClearsCriticalErrorFromAPriorTurn(t *testing.T) {
	a := New(nil)
	a.Handle(RawEvent{Kind: RawTurnStarted})
	a.Handle(RawEvent{Kind: RawCriticalError, Message: "boom"})
	a.Handle(RawEvent{Kind: RawTurnComplete}) // consumes the error

	a.Handle(RawEvent{Kind: RawTurnStarted})
	events := a.Handle(RawEvent{Kind: RawTurnComplete})
	require.Len(t, events, 1)
	assert.Equal(t, EventTurnCompleted, events[0].Kind)
}
