package openai

import (
	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/llmclient"
)

// buildMessages flattens a prompt (instructions + personality + items)
// into chat-completions messages. Reasoning, local-shell-call, and
// ghost-snapshot items carry no representation in this wire format and
// are dropped; custom tool calls/outputs are mapped onto the same
// function-call/tool-message shape as ordinary function calls, since a
// chat-completions backend has no separate concept for them.
func buildMessages(instructions, personality string, items []itemstore.Item) []Message {
	var msgs []Message

	if instructions != "" {
		msgs = append(msgs, Message{Role: "system", Content: instructions})
	}
	if personality != "" {
		msgs = append(msgs, Message{Role: "system", Content: personality})
	}

	for _, it := range items {
		switch it.Kind {
		case itemstore.KindMessage:
			msgs = append(msgs, Message{Role: roleString(it.Role), Content: messageText(it)})

		case itemstore.KindFunctionCall:
			msgs = append(msgs, Message{
				Role: "assistant",
				ToolCalls: []ToolCall{{
					ID:   it.CallID,
					Type: "function",
					Function: ToolCallFunc{
						Name:      it.Name,
						Arguments: it.Arguments,
					},
				}},
			})

		case itemstore.KindFunctionCallOutput:
			msgs = append(msgs, Message{
				Role:       "tool",
				ToolCallID: it.CallID,
				Content:    outputText(it),
			})

		case itemstore.KindCustomToolCall:
			msgs = append(msgs, Message{
				Role: "assistant",
				ToolCalls: []ToolCall{{
					ID:   it.CallID,
					Type: "function",
					Function: ToolCallFunc{
						Name:      it.Name,
						Arguments: it.Input,
					},
				}},
			})

		case itemstore.KindCustomToolCallOut:
			msgs = append(msgs, Message{
				Role:       "tool",
				ToolCallID: it.CallID,
				Content:    outputText(it),
			})
		}
	}

	return msgs
}

func roleString(r itemstore.Role) string {
	switch r {
	case itemstore.RoleUser:
		return "user"
	case itemstore.RoleAssistant:
		return "assistant"
	case itemstore.RoleDeveloper:
		return "system"
	case itemstore.RoleSystem:
		return "system"
	default:
		return "user"
	}
}

// messageText concatenates a Message item's text content parts. Image
// content is dropped; the chat-completions wire format used here is
// text-only.
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
			Type: "function",
			Function: ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  ConvertSchema(td.Parameters),
			},
		})
	}
	return out
}

// functionCallItem builds the itemstore.Item a completed tool call
// becomes, once an SSE stream finishes accumulating its arguments.
func functionCallItem(callID, name, arguments string) itemstore.Item {
	return itemstore.Item{
		Kind:      itemstore.KindFunctionCall,
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
	}
}

// assistantMessageItem builds the itemstore.Item for accumulated
// assistant text, once a stream finishes.
func assistantMessageItem(text string) itemstore.Item {
	return itemstore.Item{
		Kind:    itemstore.KindMessage,
		Role:    itemstore.RoleAssistant,
		Content: []itemstore.ContentItem{itemstore.OutputText(text)},
		EndTurn: true,
	}
}
