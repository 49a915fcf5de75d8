// Package turn implements the conversation turn engine: the streaming
// drain loop, retry/backoff on transient stream errors, the context-window
// trim-and-retry recovery, and tool dispatch after each output item.
//
// Grounded on the teacher's internal/domain/service package: StateMachine
// is adapted from state_machine.go (states renamed from the teacher's
// chat-loop vocabulary to the streaming-turn vocabulary this engine uses),
// MiddlewarePipeline/guardrails are adapted from middleware.go/guardrails.go,
// and the dangling-tool-call repair informs itemstore.Normalize rather than
// living here (history already guarantees pairing by the time a turn runs).
package turn

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a turn's position in its run.
type State string

const (
	StateIdle       State = "idle"
	StateStreaming  State = "streaming"
	StateToolExec   State = "tool_exec"
	StateRetrying   State = "retrying"
	StateComplete   State = "complete"
	StateError      State = "error"
	StateAborted    State = "aborted"
)

var validTransitions = map[State]map[State]bool{
	StateIdle: {
		StateStreaming: true,
	},
	StateStreaming: {
		StateToolExec: true,
		StateRetrying: true,
		StateComplete: true,
		StateError:    true,
		StateAborted:  true,
	},
	StateToolExec: {
		StateStreaming: true,
		StateError:     true,
		StateAborted:   true,
	},
	StateRetrying: {
		StateStreaming: true,
		StateError:     true,
		StateAborted:   true,
	},
	StateComplete: {},
	StateError:    {},
	StateAborted:  {},
}

// Snapshot captures a turn's runtime counters at a point in time.
type Snapshot struct {
	State      State
	RetryCount int
	ToolCalls  int
	TokensUsed int
	Elapsed    time.Duration
}

// StateMachine tracks one turn's progress through the streaming loop.
type StateMachine struct {
	mu         sync.RWMutex
	state      State
	retryCount int
	toolCalls  int
	tokensUsed int
	startTime  time.Time
	logger     *zap.Logger
	listeners  []func(from, to State, snap Snapshot)
}

func NewStateMachine(logger *zap.Logger) *StateMachine {
	return &StateMachine{state: StateIdle, startTime: time.Now(), logger: logger}
}

func (sm *StateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

func (sm *StateMachine) Snapshot() Snapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snapshotLocked()
}

func (sm *StateMachine) snapshotLocked() Snapshot {
	return Snapshot{
		State:      sm.state,
		RetryCount: sm.retryCount,
		ToolCalls:  sm.toolCalls,
		TokensUsed: sm.tokensUsed,
		Elapsed:    time.Since(sm.startTime),
	}
}

// Transition moves to a new state, rejecting transitions not present in
// validTransitions.
func (sm *StateMachine) Transition(to State) error {
	sm.mu.Lock()
	from := sm.state
	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		sm.mu.Unlock()
		err := fmt.Errorf("invalid turn state transition: %s -> %s", from, to)
		if sm.logger != nil {
			sm.logger.Error("turn state machine violation", zap.Error(err))
		}
		return err
	}
	sm.state = to
	snap := sm.snapshotLocked()
	listeners := make([]func(from, to State, snap Snapshot), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	if sm.logger != nil {
		sm.logger.Debug("turn state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	}
	for _, fn := range listeners {
		fn(from, to, snap)
	}
	return nil
}

func (sm *StateMachine) OnTransition(fn func(from, to State, snap Snapshot)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

func (sm *StateMachine) RecordRetry() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.retryCount++
}

func (sm *StateMachine) ResetRetries() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.retryCount = 0
}

func (sm *StateMachine) RecordToolCall() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.toolCalls++
}

func (sm *StateMachine) AddTokens(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.tokensUsed += n
}

func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	switch sm.state {
	case StateComplete, StateError, StateAborted:
		return true
	}
	return false
}
