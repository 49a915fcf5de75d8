// Package openai implements the llmclient.Provider interface against any
// OpenAI-compatible chat-completions endpoint (OpenAI, Bailian/Qwen,
// MiniMax, DeepSeek, Ollama, vLLM -- anything serving POST
// /chat/completions with the same request/response shape).
//
// Grounded on the teacher's internal/infrastructure/llm/openai package:
// the wire types, HTTP client tuning, and SSE parsing loop are carried
// over near verbatim; buildAPIRequest/parseAPIResponse are rewritten to
// convert itemstore.Item sequences and turn.StreamEvent instead of the
// teacher's service.LLMRequest/LLMResponse.
package openai

// Request is a chat-completions request body.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// StreamRequest wraps Request with the streaming-mode fields.
type StreamRequest struct {
	*Request
	Stream        bool                   `json:"stream"`
	StreamOptions map[string]interface{} `json:"stream_options,omitempty"`
}

// Message is one chat-completions message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Tool is a function-tool definition.
type Tool struct {
	Type     string       `json:"type"` // "function"
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is an assistant-issued function call, either complete (from a
// non-streaming response) or accumulated across SSE deltas.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Index    int          `json:"index"`
	Type     string       `json:"type,omitempty"`
	Function ToolCallFunc `json:"function"`
}

type ToolCallFunc struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Response is a non-streaming chat-completions response.
type Response struct {
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Message      Message `json:"message"`
	FinishReason *string `json:"finish_reason"`
}

// Usage reports token consumption. Some OpenAI-compatible gateways omit
// prompt_tokens/completion_tokens and report only total_tokens, or vice
// versa; Total() falls back across whichever fields are populated.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	if u.PromptTokens > 0 || u.CompletionTokens > 0 {
		return u.PromptTokens + u.CompletionTokens
	}
	return 0
}

// StreamChunkData is one SSE "data:" payload.
type StreamChunkData struct {
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage         `json:"usage"`
}

type StreamChoice struct {
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type StreamDelta struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ConvertSchema ensures a tool's parameter schema has a "type" key, since
// some model backends reject a schema without one.
func ConvertSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}
	result := make(map[string]interface{}, len(schema)+1)
	for k, v := range schema {
		result[k] = v
	}
	if _, ok := result["type"]; !ok {
		result["type"] = "object"
	}
	return result
}
