package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/llmclient"
)

// buildContents flattens a prompt into Gemini contents. It returns
// contents only; instructions and personality go into the request's
// systemInstruction, which the provider builds itself. Reasoning, local-shell-call,
// and ghost-snapshot items carry no representation in this wire format
// and are dropped.
func buildContents(items []itemstore.Item) []Content {
	var out []Content

	for _, it := range items {
		switch it.Kind {
		case itemstore.KindMessage:
			out = append(out, Content{Role: roleString(it.Role), Parts: []Part{{Text: messageText(it)}}})

		case itemstore.KindFunctionCall:
			out = append(out, Content{Role: "model", Parts: []Part{{
				FunctionCall: &FunctionCall{Name: it.Name, Args: decodeArgs(it.Arguments)},
			}}})

		case itemstore.KindFunctionCallOutput:
			out = append(out, Content{Role: "user", Parts: []Part{{
				FunctionResponse: &FunctionResponse{Name: it.Name, Response: map[string]interface{}{"result": outputText(it)}},
			}}})

		case itemstore.KindCustomToolCall:
			out = append(out, Content{Role: "model", Parts: []Part{{
				FunctionCall: &FunctionCall{Name: it.Name, Args: decodeArgs(it.Input)},
			}}})

		case itemstore.KindCustomToolCallOut:
			out = append(out, Content{Role: "user", Parts: []Part{{
				FunctionResponse: &FunctionResponse{Name: it.Name, Response: map[string]interface{}{"result": outputText(it)}},
			}}})
		}
	}

	return out
}

func decodeArgs(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var out map[string]interface{}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func roleString(r itemstore.Role) string {
	switch r {
	case itemstore.RoleAssistant:
		return "model"
	default:
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

func buildTools(tools []llmclient.ToolDef) []ToolDeclaration {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]FunctionDeclarationSpec, 0, len(tools))
	for _, td := range tools {
		decls = append(decls, FunctionDeclarationSpec{
			Name:        td.Name,
			Description: td.Description,
			Parameters:  ConvertSchema(td.Parameters),
		})
	}
	return []ToolDeclaration{{FunctionDeclarations: decls}}
}

func functionCallItem(name string, args map[string]interface{}, seq int) itemstore.Item {
	return itemstore.Item{
		Kind:      itemstore.KindFunctionCall,
		CallID:    fmt.Sprintf("call_%s_%d", name, seq),
		Name:      name,
		Arguments: encodeArgs(args),
	}
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

func assistantMessageItem(text string) itemstore.Item {
	return itemstore.Item{
		Kind:    itemstore.KindMessage,
		Role:    itemstore.RoleAssistant,
		Content: []itemstore.ContentItem{itemstore.OutputText(text)},
		EndTurn: true,
	}
}
