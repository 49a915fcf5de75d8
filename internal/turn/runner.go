// Package turn implements the turn engine: the loop that drives one
// model streaming request (and any tool round-trips it triggers) to
// completion, retrying on transient stream errors and recovering from
// context-window overflow by trimming history.
//
// Grounded on the teacher's internal/domain/service package: the chat
// loop shape (state_machine.go, llm_caller.go) generalized from
// LLMMessage/*LLMResponse to itemstore.Item, the middleware pipeline
// (middleware.go) reused with the same before/after ordering, and the
// guardrails trio (guardrails.go) carried over with its reflection-prompt
// approach to loop detection rather than hard termination. The dangling
// tool-call repair in middleware.go informed itemstore.ContextManager's
// Normalize instead of living in this package, since here the pairing
// invariant is owned by the history store, not a middleware stage.
package turn

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/itemstore"
)

// ctxSleep waits for d or ctx cancellation, whichever comes first.
// Returns ctx.Err() on cancellation, nil after a full sleep.
func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Compactor replaces the runner's history with a compacted version when
// ContextGuard signals the hard threshold. Implemented by internal/compact;
// a nil Compactor means overflow is handled purely by the trim-oldest
// recovery of step 2.f.
type Compactor interface {
	Compact(ctx context.Context) error
}

// Config wires together everything one Runner needs. Fields left zero
// take the documented defaults.
type Config struct {
	History      *itemstore.ContextManager
	Session      ModelClientSession
	Dispatcher   ToolDispatcher
	Middleware   *Pipeline
	Retry        RetryConfig
	CostGuard    *CostGuard
	ContextGuard *ContextGuard
	LoopDetector *LoopDetector
	Compactor    Compactor
	Notifier     Notifier
	Logger       *zap.Logger
	Instructions string
	Personality  string
	RecordPolicy itemstore.RecordPolicy
}

// Runner drives one turn to completion against the wiring in Config.
type Runner struct {
	cfg   Config
	sm    *StateMachine
	retry RetryConfig
}

func NewRunner(cfg Config) *Runner {
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Middleware == nil {
		cfg.Middleware = NewPipeline()
	}
	return &Runner{cfg: cfg, sm: NewStateMachine(cfg.Logger), retry: cfg.Retry}
}

func (r *Runner) notify(e TurnEvent) {
	if r.cfg.Notifier != nil {
		r.cfg.Notifier.Notify(e)
	}
}

func (r *Runner) logger() *zap.Logger {
	if r.cfg.Logger != nil {
		return r.cfg.Logger
	}
	return zap.NewNop()
}

// Run executes one turn per §4.E: insert userInput into history, then
// loop opening streaming requests against Session until a round ends
// with a Completed event and no tool call was dispatched in that round
// (EndTurn on the assistant message is not consulted), a fatal error
// occurs, or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, userInput []itemstore.Item) error {
	r.notify(TurnEvent{Outcome: OutcomeTurnStarted})

	if len(userInput) > 0 {
		r.cfg.History.RecordItems(userInput, r.cfg.RecordPolicy)
	}

	retryCount := 0
	for {
		if err := ctx.Err(); err != nil {
			r.sm.Transition(StateAborted)
			r.notify(TurnEvent{Outcome: OutcomeTurnAborted, Err: ErrInterrupted})
			return ErrInterrupted
		}

		if r.cfg.ContextGuard != nil && r.cfg.Compactor != nil {
			check := r.cfg.ContextGuard.Check(r.cfg.History.Snapshot())
			if check.NeedCompaction {
				if err := r.cfg.Compactor.Compact(ctx); err != nil {
					r.sm.Transition(StateError)
					r.notify(TurnEvent{Outcome: OutcomeTurnError, Err: err})
					return err
				}
			}
		}

		if r.cfg.CostGuard != nil {
			if err := r.cfg.CostGuard.CheckBudget(); err != nil {
				r.sm.Transition(StateError)
				r.notify(TurnEvent{Outcome: OutcomeTurnError, Err: err})
				return err
			}
		}

		r.sm.Transition(StateStreaming)

		prompt := r.cfg.History.ForPrompt()
		prompt = r.cfg.Middleware.RunBeforeModel(ctx, prompt, retryCount)

		stream, err := r.cfg.Session.OpenStream(ctx, StreamRequest{
			Instructions: r.cfg.Instructions,
			Personality:  r.cfg.Personality,
			Input:        prompt,
		})
		if err != nil {
			_, fatalErr := r.handleStreamError(ctx, err, &retryCount)
			if fatalErr != nil {
				return fatalErr
			}
			continue // OpenStream itself never yields a stream to drain
		}

		completedRound, dispatchedTool, roundErr := r.drain(ctx, stream)
		stream.Close()

		if roundErr != nil {
			again, fatalErr := r.handleStreamError(ctx, roundErr, &retryCount)
			if fatalErr != nil {
				return fatalErr
			}
			if again {
				continue
			}
		}

		if !completedRound {
			continue
		}

		retryCount = 0
		r.sm.ResetRetries()

		if dispatchedTool {
			r.sm.Transition(StateToolExec)
			continue // tool outputs appended; rebuild prompt and go another round
		}

		r.sm.Transition(StateComplete)
		r.notify(TurnEvent{Outcome: OutcomeTurnComplete, TokenUsage: r.cfg.History.TotalTokens()})
		return nil
	}
}

// drain reads one stream to completion, appending OutputItemDone items
// to history and synchronously dispatching any tool calls among them.
// completed reports whether a Completed event was observed (as opposed to
// a stream error); dispatchedTool reports whether at least one tool call
// was executed this round.
func (r *Runner) drain(ctx context.Context, stream EventStream) (completed bool, dispatchedTool bool, err error) {
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return completed, dispatchedTool, err
		}

		switch ev.Kind {
		case EventOutputItemDone:
			r.cfg.History.RecordItems([]itemstore.Item{ev.Item}, r.cfg.RecordPolicy)

			if call, ok := toolCallFrom(ev.Item); ok {
				dispatchedTool = true
				r.sm.RecordToolCall()
				r.runToolCall(ctx, call)
			}

		case EventServerReasoningIncluded:
			// server-side reasoning flag is informational only; nothing to
			// persist beyond the reasoning item itself (already recorded
			// above when it arrives as an OutputItemDone).

		case EventRateLimits:
			// transport metadata only; callers that care can read it off
			// the event stream directly (e.g. to surface in a status line).
			_ = ev.RateLimits

		case EventCompleted:
			if r.cfg.CostGuard != nil {
				_ = r.cfg.CostGuard.AddTokens(int64(ev.TokenUsage))
			}
			r.sm.AddTokens(ev.TokenUsage)
			r.cfg.History.RecordUsage(ev.TokenUsage)
			return true, dispatchedTool, nil

		default:
			// ignore unrecognized event kinds
		}
	}
}

// runToolCall dispatches one tool call and appends its output item,
// recording the result with the loop detector and injecting a reflection
// message into history if a loop is suspected.
func (r *Runner) runToolCall(ctx context.Context, call ToolCall) {
	var out itemstore.Item
	if r.cfg.Dispatcher == nil {
		out = toolOutputItem(call, errorOutputPayload(errors.New("no tool dispatcher configured")))
	} else {
		result, err := r.cfg.Dispatcher.Dispatch(ctx, call)
		if err != nil {
			out = toolOutputItem(call, errorOutputPayload(err))
		} else {
			out = result
		}
	}
	r.cfg.History.RecordItems([]itemstore.Item{out}, r.cfg.RecordPolicy)

	if r.cfg.LoopDetector == nil {
		return
	}
	if prompt := r.cfg.LoopDetector.RecordName(call.Name); prompt != "" {
		r.injectReflection(prompt)
		return
	}
	if prompt := r.cfg.LoopDetector.Record(call.Name, call.Arguments+call.Input); prompt != "" {
		r.injectReflection(prompt)
	}
}

func (r *Runner) injectReflection(text string) {
	r.cfg.History.RecordItems([]itemstore.Item{{
		Kind:    itemstore.KindMessage,
		Role:    itemstore.RoleDeveloper,
		Content: []itemstore.ContentItem{itemstore.InputText(text)},
	}}, r.cfg.RecordPolicy)
}

// handleStreamError implements steps 2.e/2.f/2.g: Interrupted propagates
// unchanged, ContextWindowExceeded trims the oldest history item and
// resets the retry counter, anything else backs off and retries up to
// Retry.MaxRetries. A non-nil fatal return means Run must stop; a true
// retry return means the caller should loop back to step 2.a.
func (r *Runner) handleStreamError(ctx context.Context, err error, retryCount *int) (retry bool, fatal error) {
	if errors.Is(err, ErrInterrupted) || ctx.Err() != nil {
		r.sm.Transition(StateAborted)
		r.notify(TurnEvent{Outcome: OutcomeTurnAborted, Err: ErrInterrupted})
		return false, ErrInterrupted
	}

	if IsContextOverflowError(err) {
		if r.cfg.History.Len() > 1 {
			r.cfg.History.RemoveFirstItem()
			*retryCount = 0
			r.sm.ResetRetries()
			r.logger().Info("trimmed oldest history item after context window overflow")
			return true, nil
		}
		r.sm.Transition(StateError)
		r.notify(TurnEvent{Outcome: OutcomeTurnError, Err: err})
		return false, err
	}

	r.sm.Transition(StateRetrying)
	*retryCount++
	r.sm.RecordRetry()
	if *retryCount > r.retry.MaxRetries {
		r.sm.Transition(StateError)
		r.notify(TurnEvent{Outcome: OutcomeTurnError, Err: err})
		return false, err
	}

	wait := r.retry.Backoff(*retryCount - 1)
	r.logger().Warn("stream error, retrying after backoff", zap.Error(err), zap.Int("attempt", *retryCount), zap.Duration("wait", wait))
	r.notify(TurnEvent{Outcome: OutcomeTurnRetrying, Attempt: *retryCount, MaxAttempts: r.retry.MaxRetries, Err: err})
	if sleepErr := ctxSleep(ctx, wait); sleepErr != nil {
		r.sm.Transition(StateAborted)
		r.notify(TurnEvent{Outcome: OutcomeTurnAborted, Err: ErrInterrupted})
		return false, ErrInterrupted
	}
	return true, nil
}
