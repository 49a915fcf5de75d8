package appwiring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/codexcore/internal/execevents"
	"github.com/ngoclaw/codexcore/internal/turn"
)

func TestBridgeThreadEvents_NilAggregatorReturnsInnerUnchanged(t *testing.T) {
	assert.Nil(t, bridgeThreadEvents(nil, nil, nil))

	var called bool
	inner := turn.NotifierFunc(func(turn.TurnEvent) { called = true })
	notifier := bridgeThreadEvents(inner, nil, nil)
	notifier.Notify(turn.TurnEvent{Outcome: turn.OutcomeTurnStarted})
	assert.True(t, called)
}

func TestBridgeThreadEvents_TranslatesTurnLifecycleIntoRawEvents(t *testing.T) {
	agg := execevents.New(nil)
	var seen []execevents.ThreadEvent
	var innerCalls int
	inner := turn.NotifierFunc(func(turn.TurnEvent) { innerCalls++ })

	notifier := bridgeThreadEvents(inner, agg, func(te execevents.ThreadEvent) { seen = append(seen, te) })

	notifier.Notify(turn.TurnEvent{Outcome: turn.OutcomeTurnStarted})
	notifier.Notify(turn.TurnEvent{Outcome: turn.OutcomeTurnComplete, TokenUsage: 42})

	require.Len(t, seen, 2)
	assert.Equal(t, execevents.EventTurnStarted, seen[0].Kind)
	assert.Equal(t, execevents.EventTurnCompleted, seen[1].Kind)
	assert.Equal(t, 42, seen[1].Usage.OutputTokens)
	assert.Equal(t, 2, innerCalls)
}

func TestBridgeThreadEvents_TurnRetryingCarriesAttempt(t *testing.T) {
	agg := execevents.New(nil)
	var seen []execevents.ThreadEvent
	notifier := bridgeThreadEvents(nil, agg, func(te execevents.ThreadEvent) { seen = append(seen, te) })

	notifier.Notify(turn.TurnEvent{Outcome: turn.OutcomeTurnRetrying, Attempt: 1, MaxAttempts: 3, Err: errors.New("temporary upstream 503")})

	require.Len(t, seen, 1)
	assert.Equal(t, execevents.EventTurnRetrying, seen[0].Kind)
	assert.Equal(t, 1, seen[0].Attempt)
	assert.Equal(t, 3, seen[0].MaxAttempts)
}

func TestBridgeThreadEvents_TurnErrorBecomesCriticalError(t *testing.T) {
	agg := execevents.New(nil)
	var seen []execevents.ThreadEvent
	notifier := bridgeThreadEvents(nil, agg, func(te execevents.ThreadEvent) { seen = append(seen, te) })

	notifier.Notify(turn.TurnEvent{Outcome: turn.OutcomeTurnError, Err: errors.New("boom")})

	require.Len(t, seen, 1)
	assert.Equal(t, execevents.EventError, seen[0].Kind)
	assert.Equal(t, "boom", seen[0].ErrorMessage)
}
