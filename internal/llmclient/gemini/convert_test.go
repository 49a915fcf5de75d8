package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/codexcore/internal/itemstore"
)

func TestBuildContents_MapsRolesAndFunctionCallPair(t *testing.T) {
	items := []itemstore.Item{
		{Kind: itemstore.KindMessage, Role: itemstore.RoleAssistant, Content: []itemstore.ContentItem{itemstore.OutputText("ok")}},
		{Kind: itemstore.KindFunctionCall, Name: "shell", Arguments: `{"command":["ls"]}`},
		{Kind: itemstore.KindFunctionCallOutput, Name: "shell", Output: itemstore.FunctionCallOutputPayload{Text: "file.go"}},
	}
	out := buildContents(items)
	require.Len(t, out, 3)

	assert.Equal(t, "model", out[0].Role)
	assert.Equal(t, "ok", out[0].Parts[0].Text)

	assert.Equal(t, "model", out[1].Role)
	require.NotNil(t, out[1].Parts[0].FunctionCall)
	assert.Equal(t, "shell", out[1].Parts[0].FunctionCall.Name)
	assert.Equal(t, []interface{}{"ls"}, out[1].Parts[0].FunctionCall.Args["command"])

	assert.Equal(t, "user", out[2].Role)
	require.NotNil(t, out[2].Parts[0].FunctionResponse)
	assert.Equal(t, "file.go", out[2].Parts[0].FunctionResponse.Response["result"])
}

func TestRoleString_DefaultsNonAssistantToUser(t *testing.T) {
	assert.Equal(t, "model", roleString(itemstore.RoleAssistant))
	assert.Equal(t, "user", roleString(itemstore.RoleUser))
	assert.Equal(t, "user", roleString(itemstore.RoleDeveloper))
}

func TestFunctionCallItem_GeneratesAUniqueCallIDPerSequenceNumber(t *testing.T) {
	a := functionCallItem("shell", map[string]interface{}{"x": 1}, 1)
	b := functionCallItem("shell", map[string]interface{}{"x": 1}, 2)
	assert.NotEqual(t, a.CallID, b.CallID)
	assert.JSONEq(t, `{"x":1}`, a.Arguments)
}

func TestEncodeArgs_EmptyMapReturnsEmptyObjectLiteral(t *testing.T) {
	assert.Equal(t, "{}", encodeArgs(nil))
}
