package compact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/turn"
)

// singleReplyStream emits one assistant message then completes, enough to
// drive a nested compaction turn to success without exercising retries
// (those are turn package's own responsibility and already tested there).
type singleReplyStream struct {
	replyText string
	sent      bool
}

func (s *singleReplyStream) Next(ctx context.Context) (turn.StreamEvent, error) {
	if !s.sent {
		s.sent = true
		return turn.StreamEvent{
			Kind: turn.EventOutputItemDone,
			Item: itemstore.Item{
				Kind:    itemstore.KindMessage,
				Role:    itemstore.RoleAssistant,
				EndTurn: true,
				Content: []itemstore.ContentItem{itemstore.OutputText(s.replyText)},
			},
		}, nil
	}
	return turn.StreamEvent{Kind: turn.EventCompleted, TokenUsage: 7}, nil
}

func (s *singleReplyStream) Close() error { return nil }

type singleReplySession struct {
	replyText string
	prompts   [][]itemstore.Item // records what was sent each OpenStream call
}

func (s *singleReplySession) OpenStream(ctx context.Context, req turn.StreamRequest) (turn.EventStream, error) {
	s.prompts = append(s.prompts, req.Input)
	return &singleReplyStream{replyText: s.replyText}, nil
}

func newTestHistory() *itemstore.ContextManager {
	return itemstore.NewContextManager(nil, false)
}

func sessionPrefixMessage(text string) itemstore.Item {
	it := itemstore.Item{
		Kind:    itemstore.KindMessage,
		Role:    itemstore.RoleSystem,
		Content: []itemstore.ContentItem{itemstore.InputText(text)},
	}
	it.MarkSessionPrefix()
	return it
}

func userMsg(text string) itemstore.Item {
	return itemstore.Item{Kind: itemstore.KindMessage, Role: itemstore.RoleUser, Content: []itemstore.ContentItem{itemstore.InputText(text)}}
}

func assistantMsg(text string) itemstore.Item {
	return itemstore.Item{Kind: itemstore.KindMessage, Role: itemstore.RoleAssistant, EndTurn: true, Content: []itemstore.ContentItem{itemstore.OutputText(text)}}
}

func TestCompact_RebuildsHistoryWithSummaryAndRecentUsers(t *testing.T) {
	history := newTestHistory()
	policy := itemstore.DefaultRecordPolicy(1000000)
	history.RecordItems([]itemstore.Item{
		sessionPrefixMessage("you are a helpful assistant"),
		userMsg("please do task A"),
		assistantMsg("working on task A"),
		userMsg("now also do task B"),
		assistantMsg("working on task B"),
	}, policy)

	session := &singleReplySession{replyText: "Task A and B are both in progress."}
	var notified []turn.Outcome
	notifier := turn.NotifierFunc(func(e turn.TurnEvent) { notified = append(notified, e.Outcome) })

	c := New(history, func(scratch *itemstore.ContextManager) *turn.Runner {
		return turn.NewRunner(turn.Config{History: scratch, Session: session, RecordPolicy: policy})
	}, notifier, nil)

	err := c.Compact(context.Background())
	require.NoError(t, err)

	items := history.Snapshot()
	require.NotEmpty(t, items)
	assert.True(t, items[0].IsSessionPrefix(), "session prefix must remain first")

	var sawSummary bool
	for _, it := range items {
		if it.IsUserMessage() {
			text := userMessageText(it)
			if itemstore.IsSummaryMessage(text) {
				sawSummary = true
				assert.Contains(t, text, "Task A and B are both in progress.")
			}
		}
	}
	assert.True(t, sawSummary, "rebuilt history must contain the summary message")
	assert.Contains(t, notified, turn.OutcomeCompactionStarted)
	assert.Contains(t, notified, turn.OutcomeCompactionComplete)

	// The summary comes from exactly one nested-turn request.
	require.Len(t, session.prompts, 1)
}

func TestCompact_DetachesAndReattachesModelSwitchUpdate(t *testing.T) {
	history := newTestHistory()
	policy := itemstore.DefaultRecordPolicy(1000000)
	modelSwitch := itemstore.Item{
		Kind: itemstore.KindMessage, Role: itemstore.RoleDeveloper,
		Content: []itemstore.ContentItem{itemstore.InputText(itemstore.ModelSwitchPrefix + "\nYou are now running as a different model.")},
	}
	history.RecordItems([]itemstore.Item{
		userMsg("hello"),
		assistantMsg("hi there"),
		modelSwitch,
	}, policy)

	session := &singleReplySession{replyText: "greeted the user"}
	c := New(history, func(scratch *itemstore.ContextManager) *turn.Runner {
		return turn.NewRunner(turn.Config{History: scratch, Session: session, RecordPolicy: policy})
	}, nil, nil)

	err := c.Compact(context.Background())
	require.NoError(t, err)

	// The nested turn's prompt must not contain the detached model-switch item.
	for _, it := range session.prompts[0] {
		assert.False(t, itemstore.IsModelSwitchUpdate(it))
	}

	items := history.Snapshot()
	var sawReattached bool
	for _, it := range items {
		if itemstore.IsModelSwitchUpdate(it) {
			sawReattached = true
		}
	}
	assert.True(t, sawReattached, "model switch update must be re-attached after compaction")
}

func TestCompact_NoAssistantReplyFallsBackToNoSummaryAvailable(t *testing.T) {
	history := newTestHistory()
	policy := itemstore.DefaultRecordPolicy(1000000)
	history.RecordItems([]itemstore.Item{userMsg("hi")}, policy)

	session := &singleReplySession{replyText: ""}
	c := New(history, func(scratch *itemstore.ContextManager) *turn.Runner {
		return turn.NewRunner(turn.Config{History: scratch, Session: session, RecordPolicy: policy})
	}, nil, nil)

	require.NoError(t, c.Compact(context.Background()))

	var sawFallback bool
	for _, it := range history.Snapshot() {
		if it.IsUserMessage() && itemstore.IsSummaryMessage(userMessageText(it)) {
			assert.Contains(t, userMessageText(it), noSummaryAvailable)
			sawFallback = true
		}
	}
	assert.True(t, sawFallback)
}

func TestBuildCompactedHistory_TruncatesAtTokenBudget(t *testing.T) {
	recent := []itemstore.Item{
		userMsg("this is the newest message and should be kept in full"),
		userMsg("this is an older message that will be truncated because the budget runs out"),
	}
	// Budget large enough for the first (newest) message's tokens but not
	// enough for the second in full.
	newestTokens := itemstore.EstimateTextTokens(userMessageText(recent[0]))
	out := buildCompactedHistory(nil, recent, "## Conversation summary\nbody", newestTokens+2)

	require.True(t, len(out) >= 2)
	assert.Equal(t, "## Conversation summary\nbody", userMessageText(out[len(out)-1]))
	// The newest message appears before the summary, un-truncated.
	assert.Contains(t, userMessageText(out[len(out)-2]), "newest message")
}

func TestBuildCompactedHistory_ZeroBudgetKeepsOnlySummary(t *testing.T) {
	recent := []itemstore.Item{userMsg("anything")}
	out := buildCompactedHistory(nil, recent, "summary only", 0)
	require.Len(t, out, 1)
	assert.Equal(t, "summary only", userMessageText(out[0]))
}

func TestProcessRemoteCompactedTranscript_DropsDeveloperAndSessionPrefixUser(t *testing.T) {
	initialContext := []itemstore.Item{sessionPrefixMessage("fresh canonical context")}
	staleUserPrefix := userMsg("stale session prefix")
	staleUserPrefix.MarkSessionPrefix()
	transcript := []itemstore.Item{
		staleUserPrefix,
		{Kind: itemstore.KindMessage, Role: itemstore.RoleDeveloper, Content: []itemstore.ContentItem{itemstore.InputText("stale developer note")}},
		userMsg("real user question"),
		assistantMsg("real assistant answer"),
	}

	out := ProcessRemoteCompactedTranscript(transcript, initialContext)

	var texts []string
	for _, it := range out {
		texts = append(texts, itemKindAndText(it))
	}

	assert.NotContains(t, texts, "message:stale session prefix")
	assert.NotContains(t, texts, "message:stale developer note")
	assert.Contains(t, texts, "message:real user question")
	assert.Contains(t, texts, "message:real assistant answer")
	assert.Contains(t, texts, "message:fresh canonical context")

	// canonical context must land before the last real user message.
	var ctxIdx, lastUserIdx int
	for i, it := range out {
		if userMessageText(it) == "fresh canonical context" {
			ctxIdx = i
		}
		if it.IsUserMessage() {
			lastUserIdx = i
		}
	}
	assert.Less(t, ctxIdx, lastUserIdx)
}

func TestProcessRemoteCompactedTranscript_NoUserMessageAppendsAtEnd(t *testing.T) {
	initialContext := []itemstore.Item{sessionPrefixMessage("fresh context")}
	transcript := []itemstore.Item{assistantMsg("only assistant content")}

	out := ProcessRemoteCompactedTranscript(transcript, initialContext)
	require.Len(t, out, 2)
	assert.Equal(t, "only assistant content", func() string {
		for _, c := range out[0].Content {
			if c.Kind == itemstore.ContentOutputText {
				return c.Text
			}
		}
		return ""
	}())
}

func itemKindAndText(it itemstore.Item) string {
	return "message:" + userMessageText(it)
}
