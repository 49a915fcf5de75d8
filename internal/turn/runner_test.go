package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/codexcore/internal/itemstore"
)

// fakeStream replays a fixed, per-round sequence of (event, error) pairs.
// Each call to openStream on fakeSession advances to the next round.
type fakeStream struct {
	events []StreamEvent
	errs   []error
	pos    int
}

func (s *fakeStream) Next(ctx context.Context) (StreamEvent, error) {
	if ctx.Err() != nil {
		return StreamEvent{}, ErrInterrupted
	}
	if s.pos >= len(s.events) && s.pos >= len(s.errs) {
		return StreamEvent{}, errors.New("fakeStream exhausted")
	}
	var ev StreamEvent
	if s.pos < len(s.events) {
		ev = s.events[s.pos]
	}
	var err error
	if s.pos < len(s.errs) {
		err = s.errs[s.pos]
	}
	s.pos++
	return ev, err
}

func (s *fakeStream) Close() error { return nil }

// round describes one OpenStream call's worth of scripted events.
type round struct {
	events []StreamEvent
	failAt int   // index (within events) whose event is replaced by err; -1 = none
	err    error // non-nil only when failAt >= 0, or failAt == len(events) to fail after all events
}

type fakeSession struct {
	rounds []round
	calls  int
}

func (s *fakeSession) OpenStream(ctx context.Context, req StreamRequest) (EventStream, error) {
	if s.calls >= len(s.rounds) {
		return nil, errors.New("fakeSession: no more scripted rounds")
	}
	rd := s.rounds[s.calls]
	s.calls++

	fs := &fakeStream{}
	for i, ev := range rd.events {
		if rd.err != nil && i == rd.failAt {
			fs.errs = append(fs.errs, rd.err)
			fs.events = append(fs.events, StreamEvent{})
			return fs, nil
		}
		fs.events = append(fs.events, ev)
		fs.errs = append(fs.errs, nil)
	}
	if rd.err != nil && rd.failAt == len(rd.events) {
		fs.events = append(fs.events, StreamEvent{})
		fs.errs = append(fs.errs, rd.err)
	}
	return fs, nil
}

type fakeDispatcher struct {
	result itemstore.Item
	err    error
	calls  []ToolCall
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, call ToolCall) (itemstore.Item, error) {
	d.calls = append(d.calls, call)
	if d.err != nil {
		return itemstore.Item{}, d.err
	}
	return d.result, nil
}

func newHistory() *itemstore.ContextManager {
	return itemstore.NewContextManager(nil, false)
}

func userMessage(text string) itemstore.Item {
	return itemstore.Item{
		Kind:    itemstore.KindMessage,
		Role:    itemstore.RoleUser,
		Content: []itemstore.ContentItem{itemstore.InputText(text)},
	}
}

func assistantDone(text string) StreamEvent {
	return StreamEvent{
		Kind: EventOutputItemDone,
		Item: itemstore.Item{
			Kind:    itemstore.KindMessage,
			Role:    itemstore.RoleAssistant,
			EndTurn: true,
			Content: []itemstore.ContentItem{itemstore.OutputText(text)},
		},
	}
}

func completedEvent(tokens int) StreamEvent {
	return StreamEvent{Kind: EventCompleted, TokenUsage: tokens}
}

func functionCallEvent(callID, name, args string) StreamEvent {
	return StreamEvent{
		Kind: EventOutputItemDone,
		Item: itemstore.Item{Kind: itemstore.KindFunctionCall, CallID: callID, Name: name, Arguments: args},
	}
}

func TestRun_SingleRoundSuccess(t *testing.T) {
	history := newHistory()
	session := &fakeSession{rounds: []round{
		{events: []StreamEvent{assistantDone("hi"), completedEvent(42)}, failAt: -1},
	}}
	r := NewRunner(Config{History: history, Session: session, RecordPolicy: itemstore.DefaultRecordPolicy(100000)})

	err := r.Run(context.Background(), []itemstore.Item{userMessage("hello")})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, r.sm.State())
	assert.Equal(t, 1, session.calls)

	items := history.Snapshot()
	require.Len(t, items, 2)
	assert.True(t, items[0].IsUserMessage())
	assert.Equal(t, itemstore.RoleAssistant, items[1].Role)
}

func TestRun_ToolCallTriggersSecondRound(t *testing.T) {
	history := newHistory()
	session := &fakeSession{rounds: []round{
		{events: []StreamEvent{functionCallEvent("call-1", "read_file", `{"path":"a"}`), completedEvent(10)}, failAt: -1},
		{events: []StreamEvent{assistantDone("done"), completedEvent(5)}, failAt: -1},
	}}
	dispatcher := &fakeDispatcher{result: itemstore.Item{
		Kind: itemstore.KindFunctionCallOutput, CallID: "call-1",
		Output: itemstore.FunctionCallOutputPayload{Text: "file contents"},
	}}
	r := NewRunner(Config{History: history, Session: session, Dispatcher: dispatcher, RecordPolicy: itemstore.DefaultRecordPolicy(100000)})

	err := r.Run(context.Background(), []itemstore.Item{userMessage("read a")})
	require.NoError(t, err)
	assert.Equal(t, 2, session.calls)
	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, "read_file", dispatcher.calls[0].Name)

	items := history.Snapshot()
	var sawOutput, sawAssistant bool
	for _, it := range items {
		if it.Kind == itemstore.KindFunctionCallOutput && it.CallID == "call-1" {
			sawOutput = true
		}
		if it.Kind == itemstore.KindMessage && it.Role == itemstore.RoleAssistant {
			sawAssistant = true
		}
	}
	assert.True(t, sawOutput)
	assert.True(t, sawAssistant)
}

func TestRun_Interrupted_PropagatesUnchanged(t *testing.T) {
	history := newHistory()
	session := &fakeSession{rounds: []round{
		{events: []StreamEvent{assistantDone("partial")}, failAt: 1, err: ErrInterrupted},
	}}
	r := NewRunner(Config{History: history, Session: session, RecordPolicy: itemstore.DefaultRecordPolicy(100000)})

	err := r.Run(context.Background(), []itemstore.Item{userMessage("hi")})
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, StateAborted, r.sm.State())
}

func TestRun_ContextWindowExceeded_TrimsOldestAndRetries(t *testing.T) {
	history := newHistory()
	// Pre-seed history so there is something to trim beyond the new user item.
	history.RecordItems([]itemstore.Item{userMessage("older message")}, itemstore.DefaultRecordPolicy(100000))

	session := &fakeSession{rounds: []round{
		{events: []StreamEvent{}, failAt: 0, err: ErrContextWindowExceeded},
		{events: []StreamEvent{assistantDone("ok now"), completedEvent(1)}, failAt: -1},
	}}

	r := NewRunner(Config{History: history, Session: session, RecordPolicy: itemstore.DefaultRecordPolicy(100000)})

	err := r.Run(context.Background(), []itemstore.Item{userMessage("newer message")})
	require.NoError(t, err)
	assert.Equal(t, 2, session.calls)
	assert.Equal(t, StateComplete, r.sm.State())
}

func TestRun_ContextWindowExceeded_FatalWhenHistoryTooSmall(t *testing.T) {
	history := newHistory()
	session := &fakeSession{rounds: []round{
		{events: []StreamEvent{}, failAt: 0, err: ErrContextWindowExceeded},
	}}
	r := NewRunner(Config{History: history, Session: session, RecordPolicy: itemstore.DefaultRecordPolicy(100000)})

	err := r.Run(context.Background(), []itemstore.Item{userMessage("only message")})
	assert.ErrorIs(t, err, ErrContextWindowExceeded)
	assert.Equal(t, StateError, r.sm.State())
}

func TestRun_OtherStreamError_RetriesThenGivesUpAfterMaxRetries(t *testing.T) {
	history := newHistory()
	transient := errors.New("temporary upstream 503")
	rounds := make([]round, 0, 4)
	for i := 0; i < 4; i++ {
		rounds = append(rounds, round{events: []StreamEvent{}, failAt: 0, err: transient})
	}
	session := &fakeSession{rounds: rounds}
	var notices []TurnEvent
	notifier := NotifierFunc(func(e TurnEvent) {
		if e.Outcome == OutcomeTurnRetrying {
			notices = append(notices, e)
		}
	})
	r := NewRunner(Config{
		History: history, Session: session, Notifier: notifier,
		Retry:        RetryConfig{MaxRetries: 3, BaseWait: time.Millisecond, MaxWait: 2 * time.Millisecond},
		RecordPolicy: itemstore.DefaultRecordPolicy(100000),
	})

	err := r.Run(context.Background(), []itemstore.Item{userMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, transient, err)
	assert.Equal(t, StateError, r.sm.State())
	assert.Equal(t, 4, session.calls) // initial attempt + 3 retries
	require.Len(t, notices, 3)        // one reconnecting notice per retry, none after the final give-up
	assert.Equal(t, []int{1, 2, 3}, []int{notices[0].Attempt, notices[1].Attempt, notices[2].Attempt})
}

func TestRun_OtherStreamError_FailsOnceThenSucceeds_EmitsExactlyOneReconnectingNotice(t *testing.T) {
	history := newHistory()
	transient := errors.New("temporary upstream 503")
	session := &fakeSession{rounds: []round{
		{events: []StreamEvent{}, failAt: 0, err: transient},
		{events: []StreamEvent{assistantDone("recovered"), completedEvent(3)}, failAt: -1},
	}}

	var notices []TurnEvent
	notifier := NotifierFunc(func(e TurnEvent) {
		if e.Outcome == OutcomeTurnRetrying {
			notices = append(notices, e)
		}
	})

	r := NewRunner(Config{
		History: history, Session: session, Notifier: notifier,
		Retry:        RetryConfig{MaxRetries: 3, BaseWait: time.Millisecond, MaxWait: 2 * time.Millisecond},
		RecordPolicy: itemstore.DefaultRecordPolicy(100000),
	})

	err := r.Run(context.Background(), []itemstore.Item{userMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, r.sm.State())
	assert.Equal(t, 2, session.calls)

	require.Len(t, notices, 1)
	assert.Equal(t, 1, notices[0].Attempt)
	assert.Equal(t, 3, notices[0].MaxAttempts)
	assert.Equal(t, transient, notices[0].Err)
}

func TestRun_LoopDetector_InjectsReflectionWithoutAborting(t *testing.T) {
	history := newHistory()
	rounds := []round{}
	for i := 0; i < 4; i++ {
		rounds = append(rounds, round{
			events: []StreamEvent{functionCallEvent("call", "list_dir", `{}`), completedEvent(1)}, failAt: -1,
		})
	}
	rounds = append(rounds, round{events: []StreamEvent{assistantDone("stopping"), completedEvent(1)}, failAt: -1})
	session := &fakeSession{rounds: rounds}
	dispatcher := &fakeDispatcher{result: itemstore.Item{Kind: itemstore.KindFunctionCallOutput, CallID: "call", Output: itemstore.FunctionCallOutputPayload{Text: "same result"}}}

	r := NewRunner(Config{
		History: history, Session: session, Dispatcher: dispatcher,
		LoopDetector: NewLoopDetector(10, 3, 3, nil),
		RecordPolicy: itemstore.DefaultRecordPolicy(100000),
	})

	err := r.Run(context.Background(), []itemstore.Item{userMessage("list things")})
	require.NoError(t, err)

	var sawReflection bool
	for _, it := range history.Snapshot() {
		if it.Kind == itemstore.KindMessage && it.Role == itemstore.RoleDeveloper {
			sawReflection = true
		}
	}
	assert.True(t, sawReflection)
}

func TestRun_AbortsImmediatelyOnCancelledContext(t *testing.T) {
	history := newHistory()
	session := &fakeSession{rounds: []round{{events: []StreamEvent{assistantDone("x"), completedEvent(1)}, failAt: -1}}}
	r := NewRunner(Config{History: history, Session: session, RecordPolicy: itemstore.DefaultRecordPolicy(100000)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, []itemstore.Item{userMessage("hi")})
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 0, session.calls)
}
