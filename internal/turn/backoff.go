package turn

import (
	"math/rand"
	"time"
)

// RetryConfig bounds the stream-error retry loop of §4.E step 2.g.
type RetryConfig struct {
	MaxRetries int
	BaseWait   time.Duration
	MaxWait    time.Duration
}

// DefaultRetryConfig mirrors the teacher's RuntimeConfig defaults
// (MaxRetries/RetryBaseWait) from internal/domain/service/llm_caller.go.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, BaseWait: 500 * time.Millisecond, MaxWait: 30 * time.Second}
}

// Backoff returns the delay before retry attempt n (0-indexed),
// exponential with jitter, capped at MaxWait.
func (c RetryConfig) Backoff(n int) time.Duration {
	wait := c.BaseWait << n
	if wait <= 0 || wait > c.MaxWait {
		wait = c.MaxWait
	}
	jitter := time.Duration(rand.Int63n(int64(wait) / 4 + 1))
	return wait - jitter/2
}
