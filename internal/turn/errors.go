package turn

import (
	"errors"
	"strings"
)

// ErrInterrupted signals cooperative cancellation at a suspension point
// (network await, tool await). Never retried; propagated unchanged.
var ErrInterrupted = errors.New("turn interrupted")

// ErrContextWindowExceeded signals the provider rejected the request as
// too large for the model's context window.
var ErrContextWindowExceeded = errors.New("context window exceeded")

// IsContextOverflowError reports whether err's message matches one of the
// known provider phrasings for "request too large for context window".
// Ported from the teacher's IsContextOverflowError (overflow_detect.go),
// unchanged in behavior.
func IsContextOverflowError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContextWindowExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context length exceeded") ||
		strings.Contains(msg, "maximum context length") ||
		strings.Contains(msg, "request_too_large") ||
		strings.Contains(msg, "request exceeds the maximum size") ||
		strings.Contains(msg, "prompt is too long") ||
		strings.Contains(msg, "exceeds model context window") ||
		strings.Contains(msg, "context overflow") ||
		(strings.Contains(msg, "request size exceeds") && strings.Contains(msg, "context window")) ||
		(strings.Contains(msg, "413") && strings.Contains(msg, "too large"))
}
