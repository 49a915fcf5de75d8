// Package safego launches goroutines that recover from panics instead of
// crashing the process, logging the recovered value through zap.
package safego

import (
	"go.uber.org/zap"
)

// Go launches fn in a new goroutine. A panic inside fn is recovered and
// logged under the given name rather than taking down the process.
//
// Usage:
//
//	safego.Go(logger, "turn-stream-pump", func() {
//	    // work that might panic
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
