package anthropic

import (
	"encoding/json"

	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/llmclient"
)

// buildMessages flattens a prompt into Anthropic messages. It returns
// messages only; instructions and personality go into the request's
// top-level system string, which the provider builds itself. Reasoning,
// local-shell-call, and ghost-snapshot items carry no representation in
// this wire format and are dropped.
func buildMessages(items []itemstore.Item) []Message {
	var msgs []Message

	for _, it := range items {
		switch it.Kind {
		case itemstore.KindMessage:
			msgs = append(msgs, Message{
				Role:    roleString(it.Role),
				Content: []ContentBlock{{Type: "text", Text: messageText(it)}},
			})

		case itemstore.KindFunctionCall:
			msgs = append(msgs, Message{
				Role: "assistant",
				Content: []ContentBlock{{
					Type:  "tool_use",
					ID:    it.CallID,
					Name:  it.Name,
					Input: decodeArgs(it.Arguments),
				}},
			})

		case itemstore.KindFunctionCallOutput:
			msgs = append(msgs, Message{
				Role: "user",
				Content: []ContentBlock{{
					Type:      "tool_result",
					ToolUseID: it.CallID,
					Content:   outputText(it),
				}},
			})

		case itemstore.KindCustomToolCall:
			msgs = append(msgs, Message{
				Role: "assistant",
				Content: []ContentBlock{{
					Type:  "tool_use",
					ID:    it.CallID,
					Name:  it.Name,
					Input: decodeArgs(it.Input),
				}},
			})

		case itemstore.KindCustomToolCallOut:
			msgs = append(msgs, Message{
				Role: "user",
				Content: []ContentBlock{{
					Type:      "tool_result",
					ToolUseID: it.CallID,
					Content:   outputText(it),
				}},
			})
		}
	}

	return msgs
}

func decodeArgs(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var out map[string]interface{}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func encodeArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func roleString(r itemstore.Role) string {
	switch r {
	case itemstore.RoleAssistant:
		return "assistant"
	default:
		// Anthropic messages are only "user"/"assistant"; developer and
		// system messages from the prompt are sent as user turns.
		return "user"
	}
}

func messageText(it itemstore.Item) string {
	var out string
	for _, c := range it.Content {
		if c.Kind == itemstore.ContentInputText || c.Kind == itemstore.ContentOutputText {
			out += c.Text
		}
	}
	return out
}

func outputText(it itemstore.Item) string {
	if len(it.Output.Content) > 0 {
		var out string
		for _, c := range it.Output.Content {
			if c.Kind == itemstore.ContentInputText || c.Kind == itemstore.ContentOutputText {
				out += c.Text
			}
		}
		return out
	}
	return it.Output.Text
}

func buildTools(tools []llmclient.ToolDef) []Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]Tool, 0, len(tools))
	for _, td := range tools {
		out = append(out, Tool{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: ConvertSchema(td.Parameters),
		})
	}
	return out
}

func functionCallItem(id, name string, input map[string]interface{}) itemstore.Item {
	return itemstore.Item{
		Kind:      itemstore.KindFunctionCall,
		CallID:    id,
		Name:      name,
		Arguments: encodeArgs(input),
	}
}

func assistantMessageItem(text string) itemstore.Item {
	return itemstore.Item{
		Kind:    itemstore.KindMessage,
		Role:    itemstore.RoleAssistant,
		Content: []itemstore.ContentItem{itemstore.OutputText(text)},
		EndTurn: true,
	}
}
