package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/codexcore/internal/itemstore"
)

func TestBuildMessages_FunctionCallBecomesToolUseBlock(t *testing.T) {
	items := []itemstore.Item{
		{Kind: itemstore.KindMessage, Role: itemstore.RoleUser, Content: []itemstore.ContentItem{itemstore.InputText("hi")}},
		{Kind: itemstore.KindFunctionCall, CallID: "c1", Name: "shell", Arguments: `{"command":["ls"]}`},
		{Kind: itemstore.KindFunctionCallOutput, CallID: "c1", Output: itemstore.FunctionCallOutputPayload{Text: "file.go"}},
	}
	msgs := buildMessages(items)
	require.Len(t, msgs, 3)

	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "text", msgs[0].Content[0].Type)

	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "tool_use", msgs[1].Content[0].Type)
	assert.Equal(t, "c1", msgs[1].Content[0].ID)
	assert.Equal(t, []interface{}{"ls"}, msgs[1].Content[0].Input["command"])

	assert.Equal(t, "user", msgs[2].Role)
	assert.Equal(t, "tool_result", msgs[2].Content[0].Type)
	assert.Equal(t, "c1", msgs[2].Content[0].ToolUseID)
	assert.Equal(t, "file.go", msgs[2].Content[0].Content)
}

func TestDecodeArgs_EmptyStringReturnsNil(t *testing.T) {
	assert.Nil(t, decodeArgs(""))
}

func TestEncodeArgs_EmptyMapReturnsEmptyObject(t *testing.T) {
	assert.Equal(t, "{}", encodeArgs(nil))
	assert.Equal(t, "{}", encodeArgs(map[string]interface{}{}))
}

func TestEncodeArgs_RoundTripsThroughDecodeArgs(t *testing.T) {
	args := map[string]interface{}{"path": "/tmp/file"}
	decoded := decodeArgs(encodeArgs(args))
	assert.Equal(t, args, decoded)
}

func TestRoleString_OnlyAssistantIsDistinct(t *testing.T) {
	assert.Equal(t, "assistant", roleString(itemstore.RoleAssistant))
	assert.Equal(t, "user", roleString(itemstore.RoleUser))
	assert.Equal(t, "user", roleString(itemstore.RoleSystem))
}

func TestFunctionCallItem_EncodesInputAsArguments(t *testing.T) {
	item := functionCallItem("c1", "shell", map[string]interface{}{"command": "ls"})
	assert.Equal(t, itemstore.KindFunctionCall, item.Kind)
	assert.JSONEq(t, `{"command":"ls"}`, item.Arguments)
}
