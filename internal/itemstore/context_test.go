package itemstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *ContextManager {
	t.Helper()
	return NewContextManager(zap.NewNop(), false)
}

func TestRecordItems_PairingInvariant(t *testing.T) {
	cm := newTestManager(t)
	cm.RecordItems([]Item{
		{Kind: KindMessage, Role: RoleUser, Content: []ContentItem{InputText("hi")}},
		{Kind: KindFunctionCall, CallID: "call-1", Name: "bash"},
		{Kind: KindFunctionCallOutput, CallID: "call-1", Output: FunctionCallOutputPayload{Text: "ok"}},
	}, DefaultRecordPolicy(10000))

	items := cm.Snapshot()
	require.Len(t, items, 3)

	callID, isCall := items[1].IsCall()
	require.True(t, isCall)
	outID, isOut := items[2].IsOutput()
	require.True(t, isOut)
	assert.Equal(t, callID, outID)
}

func TestRemoveFirstItem_RemovesPairedOutputToo(t *testing.T) {
	cm := newTestManager(t)
	cm.RecordItems([]Item{
		{Kind: KindFunctionCall, CallID: "call-1", Name: "bash"},
		{Kind: KindFunctionCallOutput, CallID: "call-1", Output: FunctionCallOutputPayload{Text: "ok"}},
		{Kind: KindMessage, Role: RoleAssistant, Content: []ContentItem{OutputText("done")}},
	}, DefaultRecordPolicy(10000))

	cm.RemoveFirstItem()

	items := cm.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, KindMessage, items[0].Kind)
}

func TestNormalize_RepairsOrphanCallWithAbortedOutput(t *testing.T) {
	cm := newTestManager(t)
	cm.RecordItems([]Item{
		{Kind: KindFunctionCall, CallID: "call-orphan", Name: "bash"},
	}, DefaultRecordPolicy(10000))

	cm.Normalize()

	items := cm.Snapshot()
	require.Len(t, items, 2)
	assert.Equal(t, KindFunctionCallOutput, items[1].Kind)
	assert.Equal(t, "aborted", items[1].Output.Text)
}

func TestNormalize_DebugBuildsPanicOnOrphan(t *testing.T) {
	cm := NewContextManager(zap.NewNop(), true)
	cm.RecordItems([]Item{
		{Kind: KindFunctionCall, CallID: "call-orphan", Name: "bash"},
	}, DefaultRecordPolicy(10000))

	assert.Panics(t, func() { cm.Normalize() })
}

func TestRecordItems_TruncatesOversizeToolOutput(t *testing.T) {
	cm := newTestManager(t)
	body := strings.Repeat("x", 4000)
	cm.RecordItems([]Item{
		{Kind: KindFunctionCall, CallID: "call-1", Name: "bash"},
		{Kind: KindFunctionCallOutput, CallID: "call-1", Output: FunctionCallOutputPayload{Text: body}},
	}, DefaultRecordPolicy(100))

	items := cm.Snapshot()
	out := items[1].Output.Text
	assert.Contains(t, out, "tokens truncated")
	assert.LessOrEqual(t, EstimateTextTokens(out), 100+20) // marker itself adds a few tokens
}

func TestForPrompt_ExcludesGhostSnapshotAndSystemMessages(t *testing.T) {
	cm := newTestManager(t)
	cm.RecordItems([]Item{
		{Kind: KindMessage, Role: RoleSystem, Content: []ContentItem{InputText("sys")}},
		{Kind: KindMessage, Role: RoleUser, Content: []ContentItem{InputText("hi")}},
		{Kind: KindGhostSnapshot, GhostCommit: "deadbeef"},
	}, DefaultRecordPolicy(10000))

	prompt := cm.ForPrompt()
	require.Len(t, prompt, 1)
	assert.Equal(t, RoleUser, prompt[0].Role)
}

func TestDropLastNUserTurns_NeverCrossesSessionPrefix(t *testing.T) {
	cm := newTestManager(t)
	prefix := Item{Kind: KindMessage, Role: RoleUser, Content: []ContentItem{InputText("AGENTS.md")}}
	prefix.MarkSessionPrefix()
	cm.RecordItems([]Item{
		prefix,
		{Kind: KindMessage, Role: RoleUser, Content: []ContentItem{InputText("turn 1")}},
		{Kind: KindMessage, Role: RoleAssistant, Content: []ContentItem{OutputText("reply 1")}},
		{Kind: KindMessage, Role: RoleUser, Content: []ContentItem{InputText("turn 2")}},
	}, DefaultRecordPolicy(10000))

	cm.DropLastNUserTurns(5) // more than available real turns

	items := cm.Snapshot()
	require.Len(t, items, 1)
	assert.True(t, items[0].IsSessionPrefix())
}

func TestIsSummaryMessage(t *testing.T) {
	assert.True(t, IsSummaryMessage(SummaryPrefix+"\nbody"))
	assert.False(t, IsSummaryMessage("not a summary"))
}
