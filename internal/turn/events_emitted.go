package turn

import "github.com/ngoclaw/codexcore/internal/itemstore"

// Outcome is the event kind a Runner publishes to its Notifier. Distinct
// from StreamEvent (which comes from the model), this is the turn's own
// lifecycle signal.
type Outcome string

const (
	OutcomeTurnStarted  Outcome = "turn_started"
	OutcomeTurnComplete Outcome = "turn_complete"
	OutcomeTurnError    Outcome = "turn_error"
	OutcomeTurnAborted  Outcome = "turn_aborted"

	// OutcomeTurnRetrying is the user-visible "reconnecting N/M" notice
	// emitted between attempts after a transient stream error, before
	// the backoff sleep (see Runner.handleStreamError).
	OutcomeTurnRetrying Outcome = "turn_retrying"

	// OutcomeCompactionStarted/Complete bracket an auto-compaction pass
	// (internal/compact), distinct from the turn it runs internally to
	// produce the summary.
	OutcomeCompactionStarted  Outcome = "compaction_started"
	OutcomeCompactionComplete Outcome = "compaction_complete"
)

// TurnEvent is one lifecycle notification emitted by Runner.Run.
type TurnEvent struct {
	Outcome     Outcome
	Item        itemstore.Item // not set on any event Runner.Run emits
	TokenUsage  int            // set on OutcomeTurnComplete
	Err         error          // set on OutcomeTurnError
	Attempt     int            // set on OutcomeTurnRetrying: this retry's 1-based attempt number
	MaxAttempts int            // set on OutcomeTurnRetrying: Retry.MaxRetries
}

// Notifier receives turn lifecycle events as they happen. A nil Notifier
// is valid; Runner treats it as "nobody is listening".
type Notifier interface {
	Notify(TurnEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(TurnEvent)

func (f NotifierFunc) Notify(e TurnEvent) { f(e) }
