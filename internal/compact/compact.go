// Package compact implements auto-compaction: replacing a conversation's
// history with a model-generated summary plus a budgeted tail of recent
// user messages once the estimated prompt would exceed the model's
// context window, or when the user invokes compaction manually.
//
// Grounded on the teacher's compactMessages/tryLLMSummarize
// (internal/domain/service/compaction.go) — system-preserving,
// keep-last-N, LLM-summarize-with-fallback — generalized to the exact
// detach/run-nested-turn/rebuild algorithm this engine specifies, which
// additionally must survive retries and context-window overflow the way
// a normal turn does (internal/turn).
package compact

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/turn"
)

// MaxUserMessageTokens bounds how much of the recent user-message tail is
// carried into the rebuilt history, newest-first.
const MaxUserMessageTokens = 20_000

// summarizationPrompt is sent as the sole user input of the nested
// compaction turn. Kept as an inline const, matching the teacher's own
// compressionPrompt const in compaction.go rather than an embedded file,
// since that is the prompt-template idiom this codebase actually uses.
const summarizationPrompt = `Summarize this conversation so it can continue in a fresh context window.

Produce a compact, information-dense summary covering:
- The task or tasks currently being worked on, and their status.
- Key decisions made and why, including any the user corrected.
- Files created, modified, or inspected, with enough detail to resume work on them.
- Open questions, blockers, or next steps that still need attention.

Omit pleasantries, restated instructions, and intermediate debugging output.
Write only the summary; do not add a preamble or ask follow-up questions.`

const noSummaryAvailable = "(no summary available)"

// RunnerFactory builds a turn.Runner that will execute the nested
// compaction turn against the given scratch history and a fresh client
// session, as required by "a fresh client session" in the compaction
// algorithm — reusing the caller's session would let turn-scoped
// retry/routing state leak between the compaction turn and whatever comes
// after it. The scratch history is a throwaway clone seeded by Compact,
// never the live conversation history: the compaction prompt and its
// reply must not appear in the live history or in the next real turn's
// user-message budget.
type RunnerFactory func(scratch *itemstore.ContextManager) *turn.Runner

// Compactor implements turn.Compactor, replacing the shared history in
// place when Compact runs.
type Compactor struct {
	History   *itemstore.ContextManager
	NewRunner RunnerFactory
	Logger    *zap.Logger
	Notifier  turn.Notifier
}

func New(history *itemstore.ContextManager, newRunner RunnerFactory, notifier turn.Notifier, logger *zap.Logger) *Compactor {
	return &Compactor{History: history, NewRunner: newRunner, Notifier: notifier, Logger: logger}
}

func (c *Compactor) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// Compact runs the full §4.F algorithm against a scratch clone of History:
// detach any trailing model-switch update, run a nested turn (with its own
// retry/backoff/context-trim behavior, via a fresh Runner) carrying the
// summarization prompt, extract the resulting summary, rebuild history
// under the user-message token budget, and re-attach the detached item and
// any ghost snapshots — only then replacing the live History.
func (c *Compactor) Compact(ctx context.Context) error {
	// Work on a scratch clone throughout: the live history is left
	// completely untouched until the rebuilt history is installed at the
	// very end, so a failed compaction (interrupted, retries exhausted)
	// leaves the conversation exactly as it was.
	scratch := itemstore.NewContextManager(c.logger(), false)
	scratch.ReplaceAll(c.History.Snapshot())

	detached, hadDetached := scratch.DetachTrailingModelSwitchUpdate()

	// Everything the rebuilt history needs is read from the scratch clone
	// now, before the nested turn runs, so the synthetic compaction prompt
	// and its reply never leak into the session prefix, the recent-user-
	// message budget, or the ghost snapshot list.
	sessionPrefix := scratch.SessionPrefixItems()
	ghosts := scratch.GhostSnapshots()
	recentUsers := scratch.RecentUserMessages() // newest-first

	if c.Notifier != nil {
		c.Notifier.Notify(turn.TurnEvent{Outcome: turn.OutcomeCompactionStarted})
	}

	runner := c.NewRunner(scratch)
	promptInput := []itemstore.Item{{
		Kind:    itemstore.KindMessage,
		Role:    itemstore.RoleUser,
		Content: []itemstore.ContentItem{itemstore.InputText(summarizationPrompt)},
	}}

	if err := runner.Run(ctx, promptInput); err != nil {
		c.logger().Error("compaction turn failed", zap.Error(err))
		return err
	}

	summaryBody := lastAssistantMessageText(scratch.Snapshot())
	if summaryBody == "" {
		summaryBody = noSummaryAvailable
	}
	summaryText := fmt.Sprintf("%s\n%s", itemstore.SummaryPrefix, summaryBody)

	newHistory := buildCompactedHistory(sessionPrefix, recentUsers, summaryText, MaxUserMessageTokens)

	if hadDetached {
		newHistory = append(newHistory, detached)
	}
	newHistory = append(newHistory, ghosts...)

	c.History.ReplaceAll(newHistory)
	if c.Notifier != nil {
		c.Notifier.Notify(turn.TurnEvent{Outcome: turn.OutcomeCompactionComplete})
	}
	c.logger().Info("compaction complete",
		zap.Int("recent_user_messages_kept", len(recentUsers)),
		zap.Bool("detached_model_switch_update", hadDetached),
		zap.Int("ghost_snapshots", len(ghosts)),
	)
	return nil
}

// lastAssistantMessageText returns the text of the last assistant message
// in items, or "" if none is present.
func lastAssistantMessageText(items []itemstore.Item) string {
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.Kind != itemstore.KindMessage || it.Role != itemstore.RoleAssistant {
			continue
		}
		var text string
		for _, c := range it.Content {
			if c.Kind == itemstore.ContentOutputText || c.Kind == itemstore.ContentInputText {
				text += c.Text
			}
		}
		return text
	}
	return ""
}

// buildCompactedHistory assembles: session prefix, then as many recent
// user messages (given newest-first) as fit within maxTokens (truncating
// and stopping at the first message that would overflow), restored to
// chronological order, then a single user message carrying summaryText.
func buildCompactedHistory(sessionPrefix []itemstore.Item, recentUsersNewestFirst []itemstore.Item, summaryText string, maxTokens int) []itemstore.Item {
	out := make([]itemstore.Item, 0, len(sessionPrefix)+len(recentUsersNewestFirst)+1)
	out = append(out, sessionPrefix...)

	var selected []itemstore.Item // collected newest-first, reversed before appending
	remaining := maxTokens
	for _, msg := range recentUsersNewestFirst {
		if remaining <= 0 {
			break
		}
		text := userMessageText(msg)
		tokens := itemstore.EstimateTextTokens(text)
		if tokens <= remaining {
			selected = append(selected, msg)
			remaining -= tokens
			continue
		}
		truncated := truncateToTokens(text, remaining)
		selected = append(selected, itemstore.Item{
			Kind:    itemstore.KindMessage,
			Role:    itemstore.RoleUser,
			Content: []itemstore.ContentItem{itemstore.InputText(truncated)},
		})
		break
	}
	for i := len(selected) - 1; i >= 0; i-- {
		out = append(out, selected[i])
	}

	out = append(out, itemstore.Item{
		Kind:    itemstore.KindMessage,
		Role:    itemstore.RoleUser,
		Content: []itemstore.ContentItem{itemstore.InputText(summaryText)},
	})
	return out
}

func userMessageText(it itemstore.Item) string {
	var text string
	for _, c := range it.Content {
		if c.Kind == itemstore.ContentInputText || c.Kind == itemstore.ContentOutputText {
			text += c.Text
		}
	}
	return text
}

// truncateToTokens trims text to approximately maxTokens tokens using the
// same 4-bytes-per-token estimate as itemstore.EstimateTextTokens.
func truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	maxBytes := maxTokens * 4
	if maxBytes >= len(text) {
		return text
	}
	return text[:maxBytes]
}
