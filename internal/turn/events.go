package turn

import (
	"context"

	"github.com/ngoclaw/codexcore/internal/itemstore"
)

// EventKind discriminates the events a model stream can emit, per the
// drain loop in §4.E step 2.c.
type EventKind string

const (
	EventOutputItemDone          EventKind = "output_item_done"
	EventServerReasoningIncluded EventKind = "server_reasoning_included"
	EventRateLimits              EventKind = "rate_limits"
	EventCompleted                EventKind = "completed"
)

// RateLimitSnapshot is propagated unchanged to the caller on EventRateLimits.
type RateLimitSnapshot struct {
	RequestsRemaining int
	TokensRemaining   int
	ResetsAt          string
}

// StreamEvent is one event drained from an open model stream. Exactly one
// of the payload fields is meaningful, selected by Kind — same tagged-
// struct idiom as itemstore.Item rather than an event-per-type interface.
type StreamEvent struct {
	Kind            EventKind
	Item            itemstore.Item
	ServerReasoning bool
	RateLimits      *RateLimitSnapshot
	TokenUsage      int
}

// StreamRequest carries the per-request inputs: the filtered prompt and
// base instructions/personality. Turn-scoped state (sticky routing,
// sequence) lives on the ModelClientSession that opens the stream, not
// here.
type StreamRequest struct {
	Instructions string
	Personality  string
	Input        []itemstore.Item
}

// EventStream is a single open streaming request. Next blocks until the
// next event, a terminal error, or ctx cancellation.
type EventStream interface {
	Next(ctx context.Context) (StreamEvent, error)
	Close() error
}

// ModelClientSession opens streaming requests against one model/provider,
// preserving any turn-scoped state (sticky routing, websocket sequence)
// across the retries the runner performs within a single turn.
type ModelClientSession interface {
	OpenStream(ctx context.Context, req StreamRequest) (EventStream, error)
}
