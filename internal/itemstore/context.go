package itemstore

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// TruncationBudget selects the unit used to cap tool-output size.
type TruncationBudget int

const (
	BudgetTokens TruncationBudget = iota // default
	BudgetBytes
)

// RecordPolicy controls how record_items truncates oversize tool outputs.
type RecordPolicy struct {
	Budget    TruncationBudget
	MaxTokens int // used when Budget == BudgetTokens
	MaxBytes  int // used when Budget == BudgetBytes
}

// DefaultRecordPolicy mirrors the spec's stated default (token budget).
func DefaultRecordPolicy(maxTokens int) RecordPolicy {
	return RecordPolicy{Budget: BudgetTokens, MaxTokens: maxTokens}
}

// ContextManager owns the single-writer ordered sequence of ResponseItems
// for one conversation, plus cached token usage. Concurrent read snapshots
// are cheap clones; all mutation goes through the exported operations
// below, which maintain the call/output pairing invariant (§4.A).
type ContextManager struct {
	mu         sync.RWMutex
	items      []Item
	lastUsage  int // last reported usage tokens from the provider, if any
	usageMark  int // index into items at the time lastUsage was recorded
	debugPanic bool // debug builds panic on invariant violation instead of repairing
	logger     *zap.Logger
}

// NewContextManager creates an empty history. debugPanic=true reproduces
// the debug-build behavior of panicking on invariant violations instead
// of repairing them in normalize().
func NewContextManager(logger *zap.Logger, debugPanic bool) *ContextManager {
	return &ContextManager{logger: logger, debugPanic: debugPanic}
}

// Snapshot returns a cheap copy of the current item sequence.
func (cm *ContextManager) Snapshot() []Item {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]Item, len(cm.items))
	copy(out, cm.items)
	return out
}

// Len returns the number of items.
func (cm *ContextManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.items)
}

// RecordItems appends items, truncating any FunctionCallOutput /
// CustomToolCallOutput whose plain-text body exceeds policy's budget;
// outputs carried as structured content are appended unchanged.
func (cm *ContextManager) RecordItems(items []Item, policy RecordPolicy) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, it := range items {
		cm.items = append(cm.items, truncateIfNeeded(it, policy))
	}
}

// truncateIfNeeded keeps a head and tail of an oversize output body and
// inserts a "…N tokens truncated…" marker carrying the dropped count.
func truncateIfNeeded(it Item, policy RecordPolicy) Item {
	if it.Kind != KindFunctionCallOutput && it.Kind != KindCustomToolCallOut {
		return it
	}

	text := it.Output.Text
	if len(it.Output.Content) > 0 {
		// Structured payloads are returned unchanged: neither their text
		// parts nor their images are truncated, whatever their size.
		return it
	}

	switch policy.Budget {
	case BudgetBytes:
		if policy.MaxBytes <= 0 || len(text) <= policy.MaxBytes {
			return it
		}
		return truncateBytes(it, text, policy.MaxBytes)
	default:
		total := EstimateTextTokens(text)
		if policy.MaxTokens <= 0 || total <= policy.MaxTokens {
			return it
		}
		return truncateTokens(it, text, total, policy.MaxTokens)
	}
}

func truncateTokens(it Item, text string, total, maxTokens int) Item {
	dropped := total - maxTokens
	// Keep roughly half the budget as head, half as tail, in bytes (4
	// bytes/token approximation matches EstimateTextTokens's formula).
	keepBytes := maxTokens * 4
	head := keepBytes / 2
	tail := keepBytes - head
	if head+tail >= len(text) {
		return it
	}
	marker := fmt.Sprintf("\n…%d tokens truncated…\n", dropped)
	newText := text[:head] + marker + text[len(text)-tail:]
	it.Output.Text = newText
	return it
}

func truncateBytes(it Item, text string, maxBytes int) Item {
	dropped := len(text) - maxBytes
	head := maxBytes / 2
	tail := maxBytes - head
	marker := fmt.Sprintf("\n…%d tokens truncated…\n", EstimateTextTokens(text[head:len(text)-tail]))
	_ = dropped
	it.Output.Text = text[:head] + marker + text[len(text)-tail:]
	return it
}

// RemoveFirstItem removes the oldest item. If it is half of a call/output
// pair, the matching half is removed too.
func (cm *ContextManager) RemoveFirstItem() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if len(cm.items) == 0 {
		return
	}
	removed := cm.items[0]
	cm.items = cm.items[1:]
	cm.removePairOf(removed)
}

// RemoveLastItem removes the newest item, also removing its pair partner.
func (cm *ContextManager) RemoveLastItem() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if len(cm.items) == 0 {
		return
	}
	removed := cm.items[len(cm.items)-1]
	cm.items = cm.items[:len(cm.items)-1]
	cm.removePairOf(removed)
}

// removePairOf drops the other half of removed's call/output pair, if any
// remains in the sequence. Must be called with mu held.
func (cm *ContextManager) removePairOf(removed Item) {
	if callID, ok := removed.IsCall(); ok && callID != "" {
		for i, it := range cm.items {
			if id, isOut := it.IsOutput(); isOut && id == callID {
				cm.items = append(cm.items[:i], cm.items[i+1:]...)
				return
			}
		}
	}
	if callID, ok := removed.IsOutput(); ok && callID != "" {
		for i, it := range cm.items {
			if id, isCall := it.IsCall(); isCall && id == callID {
				cm.items = append(cm.items[:i], cm.items[i+1:]...)
				return
			}
		}
	}
}

// DropLastNUserTurns removes the last n real user turns, plus everything
// after each, but never crosses into items marked as session prefix.
func (cm *ContextManager) DropLastNUserTurns(n int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if n <= 0 {
		return
	}
	removed := 0
	for removed < n {
		idx := -1
		for i := len(cm.items) - 1; i >= 0; i-- {
			if cm.items[i].IsSessionPrefix() {
				break
			}
			if cm.items[i].IsUserMessage() {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		cm.items = cm.items[:idx]
		removed++
	}
}

// ReplaceLastTurnImages rewrites InputImage content inside tool-output
// payloads of the latest turn to InputText{placeholder}; user-authored
// images are left untouched.
func (cm *ContextManager) ReplaceLastTurnImages(placeholder string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	start := lastTurnStart(cm.items)
	for i := start; i < len(cm.items); i++ {
		it := &cm.items[i]
		if it.Kind != KindFunctionCallOutput && it.Kind != KindCustomToolCallOut {
			continue
		}
		for j, c := range it.Output.Content {
			if c.Kind == ContentInputImage {
				it.Output.Content[j] = InputText(placeholder)
			}
		}
	}
}

// lastTurnStart finds the index of the most recent user message, or 0.
func lastTurnStart(items []Item) int {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].IsUserMessage() {
			return i
		}
	}
	return 0
}

// ForPrompt produces the prompt input sequence: GhostSnapshot and system
// messages are excluded; everything else passes through in order.
func (cm *ContextManager) ForPrompt() []Item {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]Item, 0, len(cm.items))
	for _, it := range cm.items {
		if it.Kind == KindGhostSnapshot {
			continue
		}
		if it.Kind == KindMessage && it.Role == RoleSystem {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Normalize repairs orphan calls by appending a synthetic output item
// carrying text "aborted" (release behavior), or panics to surface the
// invariant violation when the manager was constructed with debugPanic.
func (cm *ContextManager) Normalize() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	paired := make(map[string]bool)
	for _, it := range cm.items {
		if callID, ok := it.IsOutput(); ok && callID != "" {
			paired[callID] = true
		}
	}

	var orphans []Item
	kept := cm.items[:0:0]
	for _, it := range cm.items {
		kept = append(kept, it)
		if callID, ok := it.IsCall(); ok && callID != "" && !paired[callID] {
			orphans = append(orphans, it)
		}
	}
	cm.items = kept

	if len(orphans) == 0 {
		return
	}

	if cm.debugPanic {
		panic(fmt.Sprintf("itemstore: %d orphan call(s) without matching output", len(orphans)))
	}

	for _, o := range orphans {
		callID, _ := o.IsCall()
		var repair Item
		if o.Kind == KindCustomToolCall {
			repair = Item{Kind: KindCustomToolCallOut, CallID: callID, Output: FunctionCallOutputPayload{Text: "aborted"}}
		} else {
			repair = Item{Kind: KindFunctionCallOutput, CallID: callID, Output: FunctionCallOutputPayload{Text: "aborted"}}
		}
		cm.items = append(cm.items, repair)
		if cm.logger != nil {
			cm.logger.Warn("repaired orphan call with synthetic aborted output",
				zap.String("call_id", callID))
		}
	}
}

// EstimateTokenCountWithBaseInstructions returns a lower-bound estimate of
// history tokens plus the caller-provided base instructions blob.
func (cm *ContextManager) EstimateTokenCountWithBaseInstructions(base string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return EstimateTokens(cm.items) + EstimateTextTokens(base)
}

// RecordUsage caches the last reported usage and the point in history it
// covers, so aggregate totals can add the tokens of items produced since.
func (cm *ContextManager) RecordUsage(tokens int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastUsage = tokens
	cm.usageMark = len(cm.items)
}

// TotalTokens returns the last reported usage plus the estimated tokens of
// items appended since that usage was recorded.
func (cm *ContextManager) TotalTokens() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	trailing := 0
	if cm.usageMark < len(cm.items) {
		trailing = EstimateTokens(cm.items[cm.usageMark:])
	}
	return cm.lastUsage + trailing
}

// DetachTrailingModelSwitchUpdate removes a model-switch developer notice
// that sits after the last real user-turn boundary, if one is present, and
// returns it so the caller can re-attach it after compaction (§4.F step 1).
func (cm *ContextManager) DetachTrailingModelSwitchUpdate() (Item, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	start := lastTurnStart(cm.items)
	for i := len(cm.items) - 1; i > start; i-- {
		if IsModelSwitchUpdate(cm.items[i]) {
			detached := cm.items[i]
			cm.items = append(cm.items[:i], cm.items[i+1:]...)
			return detached, true
		}
	}
	return Item{}, false
}

// SessionPrefixItems returns every item flagged as session prefix
// (canonical system/developer/environment preamble), wherever it sits in
// history, in order.
func (cm *ContextManager) SessionPrefixItems() []Item {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	var out []Item
	for _, it := range cm.items {
		if it.IsSessionPrefix() {
			out = append(out, it)
		}
	}
	return out
}

// GhostSnapshots returns all GhostSnapshot items currently in history, in
// order, so compaction can re-attach them unchanged (§4.F step 4).
func (cm *ContextManager) GhostSnapshots() []Item {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	var out []Item
	for _, it := range cm.items {
		if it.Kind == KindGhostSnapshot {
			out = append(out, it)
		}
	}
	return out
}

// RecentUserMessages returns user messages newest-first, excluding any
// recognized as a previous summary, for the caller to budget and re-order.
func (cm *ContextManager) RecentUserMessages() []Item {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	var out []Item
	for i := len(cm.items) - 1; i >= 0; i-- {
		it := cm.items[i]
		if !it.IsUserMessage() {
			continue
		}
		if IsSummaryMessage(messageText(it)) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// ReplaceAll swaps the entire history for newItems and resets the usage
// tracking mark, used by compaction to install the rebuilt history.
func (cm *ContextManager) ReplaceAll(newItems []Item) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.items = newItems
	cm.lastUsage = 0
	cm.usageMark = 0
}
