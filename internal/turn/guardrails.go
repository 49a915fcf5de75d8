package turn

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/itemstore"
)

var (
	ErrTokenBudgetExceeded = fmt.Errorf("token budget exceeded")
	ErrTimeBudgetExceeded  = fmt.Errorf("run time budget exceeded")
)

// CostGuard enforces the turn's token/time budgets. Adapted from the
// teacher's CostGuard (guardrails.go); atomic counter kept as-is since
// multiple goroutines (the stream reader and a cancellation watcher) may
// read usage concurrently.
type CostGuard struct {
	maxTokens     int64
	currentTokens atomic.Int64
	maxDuration   time.Duration
	startTime     time.Time
	logger        *zap.Logger
}

func NewCostGuard(maxTokens int64, maxDuration time.Duration, logger *zap.Logger) *CostGuard {
	return &CostGuard{maxTokens: maxTokens, maxDuration: maxDuration, startTime: time.Now(), logger: logger}
}

func (g *CostGuard) AddTokens(n int64) error {
	current := g.currentTokens.Add(n)
	if g.maxTokens > 0 && current > g.maxTokens {
		if g.logger != nil {
			g.logger.Warn("token budget exceeded", zap.Int64("current", current), zap.Int64("max", g.maxTokens))
		}
		return ErrTokenBudgetExceeded
	}
	return nil
}

func (g *CostGuard) CheckBudget() error {
	if g.maxDuration > 0 && time.Since(g.startTime) > g.maxDuration {
		return ErrTimeBudgetExceeded
	}
	return nil
}

func (g *CostGuard) Usage() (tokens int64, elapsed time.Duration) {
	return g.currentTokens.Load(), time.Since(g.startTime)
}

// ContextGuard monitors estimated prompt size against the model's context
// window and signals when auto-compaction should run. Adapted from the
// teacher's ContextGuard, delegating token estimation to
// itemstore.EstimateTokens instead of a local heuristic.
type ContextGuard struct {
	maxTokens int
	warnRatio float64
	hardRatio float64
	logger    *zap.Logger
}

func NewContextGuard(maxTokens int, warnRatio, hardRatio float64, logger *zap.Logger) *ContextGuard {
	return &ContextGuard{maxTokens: maxTokens, warnRatio: warnRatio, hardRatio: hardRatio, logger: logger}
}

type ContextCheckResult struct {
	EstimatedTokens int
	MaxTokens       int
	Ratio           float64
	NeedCompaction  bool
	Warning         bool
}

func (g *ContextGuard) Check(items []itemstore.Item) ContextCheckResult {
	estimated := itemstore.EstimateTokens(items)
	ratio := float64(estimated) / float64(g.maxTokens)
	result := ContextCheckResult{EstimatedTokens: estimated, MaxTokens: g.maxTokens, Ratio: ratio}

	switch {
	case ratio > g.hardRatio:
		result.NeedCompaction = true
		if g.logger != nil {
			g.logger.Warn("context window exceeds hard threshold", zap.Int("tokens", estimated), zap.Int("max", g.maxTokens), zap.Float64("ratio", ratio))
		}
	case ratio > g.warnRatio:
		result.Warning = true
		if g.logger != nil {
			g.logger.Info("context window approaching limit", zap.Int("tokens", estimated), zap.Int("max", g.maxTokens), zap.Float64("ratio", ratio))
		}
	}
	return result
}

// LoopDetector flags repeated tool-call patterns using two strategies: a
// name-only sliding-window frequency count, and an exact-match
// (name+args) consecutive-run count. Neither terminates the turn — both
// return a reflection prompt to inject into history so the model can
// self-correct. Adapted from the teacher's LoopDetector.
type LoopDetector struct {
	recentCalls   []string
	windowSize    int
	threshold     int
	nameThreshold int
	nameHistory   []string
	logger        *zap.Logger
}

func NewLoopDetector(windowSize, threshold, nameThreshold int, logger *zap.Logger) *LoopDetector {
	return &LoopDetector{
		recentCalls:   make([]string, 0, windowSize),
		windowSize:    windowSize,
		threshold:     threshold,
		nameThreshold: nameThreshold,
		logger:        logger,
	}
}

// RecordName tracks tool-name frequency in the window, returning a
// reflection prompt once the same tool appears nameThreshold times within
// it, even with other tools interleaved.
func (d *LoopDetector) RecordName(toolName string) string {
	d.nameHistory = append(d.nameHistory, toolName)
	if len(d.nameHistory) > d.windowSize {
		d.nameHistory = d.nameHistory[1:]
	}

	count := 0
	for _, name := range d.nameHistory {
		if name == toolName {
			count++
		}
	}

	if count >= d.nameThreshold {
		if d.logger != nil {
			d.logger.Warn("same tool dominates sliding window", zap.String("tool", toolName), zap.Int("count_in_window", count))
		}
		return fmt.Sprintf(
			"[SYSTEM] The tool %q has been called %d times in the last %d calls. "+
				"You are likely stuck in a retry loop. Stop calling tools and tell the user: "+
				"(1) what you were attempting, (2) what is failing, (3) how they might help resolve it.",
			toolName, count, len(d.nameHistory),
		)
	}
	return ""
}

// Record tracks exact (name, args) signatures and returns a reflection
// prompt once the same call repeats threshold times consecutively.
func (d *LoopDetector) Record(toolName string, args ...string) string {
	sig := toolName
	if len(args) > 0 && args[0] != "" {
		sig = toolName + "|" + args[0]
	}

	d.recentCalls = append(d.recentCalls, sig)
	if len(d.recentCalls) > d.windowSize {
		d.recentCalls = d.recentCalls[1:]
	}
	if len(d.recentCalls) < d.threshold {
		return ""
	}

	tail := d.recentCalls[len(d.recentCalls)-d.threshold:]
	for _, s := range tail {
		if s != tail[0] {
			return ""
		}
	}

	if d.logger != nil {
		d.logger.Warn("exact tool call loop detected", zap.String("tool", toolName), zap.Int("consecutive_calls", d.threshold))
	}
	return fmt.Sprintf(
		"[SYSTEM] The tool %q was called %d times in a row with identical arguments; the result will not change. "+
			"Stop repeating the call and either try a different approach or report the result to the user.",
		toolName, d.threshold,
	)
}

func (d *LoopDetector) Reset() {
	d.recentCalls = d.recentCalls[:0]
	d.nameHistory = d.nameHistory[:0]
}
