package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/llmclient"
)

func TestBuildMessages_PrependsInstructionsAndPersonalityAsSystemMessages(t *testing.T) {
	msgs := buildMessages("be helpful", "terse", nil)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "be helpful", msgs[0].Content)
	assert.Equal(t, "system", msgs[1].Role)
	assert.Equal(t, "terse", msgs[1].Content)
}

func TestBuildMessages_MapsFunctionCallAndOutputPair(t *testing.T) {
	items := []itemstore.Item{
		{Kind: itemstore.KindMessage, Role: itemstore.RoleUser, Content: []itemstore.ContentItem{itemstore.InputText("hi")}},
		{Kind: itemstore.KindFunctionCall, CallID: "c1", Name: "shell", Arguments: `{"command":["ls"]}`},
		{Kind: itemstore.KindFunctionCallOutput, CallID: "c1", Output: itemstore.FunctionCallOutputPayload{Text: "file.go"}},
	}
	msgs := buildMessages("", "", items)
	require.Len(t, msgs, 3)

	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)

	assert.Equal(t, "assistant", msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "shell", msgs[1].ToolCalls[0].Function.Name)

	assert.Equal(t, "tool", msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "file.go", msgs[2].Content)
}

func TestBuildMessages_CustomToolCallUsesInputAsArguments(t *testing.T) {
	items := []itemstore.Item{
		{Kind: itemstore.KindCustomToolCall, CallID: "c2", Name: "web_search", Input: "query text"},
		{Kind: itemstore.KindCustomToolCallOut, CallID: "c2", Output: itemstore.FunctionCallOutputPayload{
			Content: []itemstore.ContentItem{itemstore.OutputText("results")},
		}},
	}
	msgs := buildMessages("", "", items)
	require.Len(t, msgs, 2)
	assert.Equal(t, "query text", msgs[0].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "results", msgs[1].Content)
}

func TestRoleString_MapsDeveloperAndSystemToSystem(t *testing.T) {
	assert.Equal(t, "system", roleString(itemstore.RoleDeveloper))
	assert.Equal(t, "system", roleString(itemstore.RoleSystem))
	assert.Equal(t, "user", roleString(itemstore.RoleUser))
	assert.Equal(t, "assistant", roleString(itemstore.RoleAssistant))
	assert.Equal(t, "user", roleString(itemstore.Role("unknown")))
}

func TestBuildTools_AttachesFunctionSchema(t *testing.T) {
	tools := buildTools([]llmclient.ToolDef{
		{Name: "shell", Description: "run a command", Parameters: nil},
	})
	require.Len(t, tools, 1)
	assert.Equal(t, "function", tools[0].Type)
	assert.Equal(t, "shell", tools[0].Function.Name)
	assert.Equal(t, "object", tools[0].Function.Parameters["type"])
}

func TestBuildTools_EmptyInputReturnsNil(t *testing.T) {
	assert.Nil(t, buildTools(nil))
}

func TestConvertSchema_AddsMissingTypeKey(t *testing.T) {
	out := ConvertSchema(map[string]interface{}{"properties": map[string]interface{}{}})
	assert.Equal(t, "object", out["type"])
}

func TestUsage_TotalFallsBackAcrossFields(t *testing.T) {
	assert.Equal(t, 30, Usage{TotalTokens: 30}.Total())
	assert.Equal(t, 15, Usage{PromptTokens: 10, CompletionTokens: 5}.Total())
	assert.Equal(t, 0, Usage{}.Total())
}

func TestFunctionCallItemAndAssistantMessageItem(t *testing.T) {
	call := functionCallItem("c1", "shell", `{"command":["ls"]}`)
	assert.Equal(t, itemstore.KindFunctionCall, call.Kind)
	assert.Equal(t, "shell", call.Name)

	msg := assistantMessageItem("done")
	assert.Equal(t, itemstore.KindMessage, msg.Kind)
	assert.True(t, msg.EndTurn)
	assert.Equal(t, "done", msg.Content[0].Text)
}
