// Package itemstore implements the conversation history store: a typed
// sequence of ResponseItem values, the call/output pairing invariant,
// token estimation, and the session-prefix/prompt-filter rules used to
// build model input.
//
// Grounded on the teacher's context pruner (internal/domain/context/pruner.go)
// generalized from an importance-scored trimmer into the spec's typed
// item model and invariant-preserving operations.
package itemstore

import "fmt"

// Role is the speaker of a Message item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
	RoleSystem    Role = "system"
)

// ContentKind tags a ContentItem variant.
type ContentKind string

const (
	ContentInputText  ContentKind = "input_text"
	ContentOutputText ContentKind = "output_text"
	ContentInputImage ContentKind = "input_image"
)

// ContentItem is one piece of a Message's content sequence.
type ContentItem struct {
	Kind     ContentKind
	Text     string // InputText / OutputText
	ImageURL string // InputImage
}

func InputText(text string) ContentItem  { return ContentItem{Kind: ContentInputText, Text: text} }
func OutputText(text string) ContentItem { return ContentItem{Kind: ContentOutputText, Text: text} }
func InputImage(url string) ContentItem  { return ContentItem{Kind: ContentInputImage, ImageURL: url} }

// SummaryPart and ReasoningPart make up a Reasoning item's summary/content.
type SummaryPart struct{ Text string }
type ReasoningPart struct{ Text string }

// LocalShellAction describes what a LocalShellCall asked to run.
type LocalShellAction struct {
	Command []string
	Cwd     string
	Timeout int // seconds, 0 = no timeout
}

// FunctionCallOutputPayload is the body of a FunctionCallOutput /
// CustomToolCallOutput. It carries either plain text or a content-item
// list (text and/or images), plus an optional success flag.
type FunctionCallOutputPayload struct {
	Text    string
	Content []ContentItem // non-nil when structured (text+image) output is used
	Success *bool         // nil = unknown/not applicable
}

// Kind tags a ResponseItem variant.
type Kind string

const (
	KindMessage             Kind = "message"
	KindReasoning           Kind = "reasoning"
	KindFunctionCall        Kind = "function_call"
	KindFunctionCallOutput  Kind = "function_call_output"
	KindCustomToolCall      Kind = "custom_tool_call"
	KindCustomToolCallOut   Kind = "custom_tool_call_output"
	KindLocalShellCall      Kind = "local_shell_call"
	KindGhostSnapshot       Kind = "ghost_snapshot"
	KindOther               Kind = "other"
)

// Item is a tagged variant ResponseItem. Only the fields relevant to
// Kind are populated; dispatch happens on Kind via the Is* helpers
// below, mirroring a Go match-on-tag sum type.
type Item struct {
	Kind Kind

	// Message
	Role     Role
	Content  []ContentItem
	EndTurn  bool
	Phase    string

	// Reasoning
	ID               string
	Summary          []SummaryPart
	ReasoningContent []ReasoningPart
	EncryptedContent string

	// FunctionCall / CustomToolCall / LocalShellCall
	CallID    string
	Name      string
	Arguments string // JSON, FunctionCall
	Input     string // CustomToolCall
	Status    string // CustomToolCall / LocalShellCall
	Action    LocalShellAction

	// FunctionCallOutput / CustomToolCallOutput
	Output FunctionCallOutputPayload
	// CustomToolCallOutput uses plain text; stored in Output.Text.

	// GhostSnapshot
	GhostCommit string

	// session-prefix tagging (see IsSessionPrefix)
	sessionPrefix bool
}

// MarkSessionPrefix flags an item as part of the canonical/session prefix
// (environment context, instructions, AGENTS.md, skills, shell envelopes)
// so drop_last_n_user_turns never removes it. Identified by the caller at
// construction time, not inferred from position.
func (it *Item) MarkSessionPrefix() *Item {
	it.sessionPrefix = true
	return it
}

func (it Item) IsSessionPrefix() bool { return it.sessionPrefix }

// IsCall reports whether the item is a call variant that participates in
// the call/output pairing invariant and returns its call id (possibly
// empty, meaning it is opaque to pairing per §4.A edge cases).
func (it Item) IsCall() (callID string, ok bool) {
	switch it.Kind {
	case KindFunctionCall, KindCustomToolCall, KindLocalShellCall:
		return it.CallID, true
	default:
		return "", false
	}
}

// IsOutput reports whether the item is an output variant.
func (it Item) IsOutput() (callID string, ok bool) {
	switch it.Kind {
	case KindFunctionCallOutput, KindCustomToolCallOut:
		return it.CallID, true
	default:
		return "", false
	}
}

// IsUserMessage reports whether this is a real user-authored message
// (role=user) as opposed to any other message role.
func (it Item) IsUserMessage() bool {
	return it.Kind == KindMessage && it.Role == RoleUser
}

const summaryPrefix = "## Conversation summary"

// SummaryPrefix is exported for compaction (§4.F) to build summary_text.
const SummaryPrefix = summaryPrefix

// IsSummaryMessage reports whether text begins with the summary prefix
// followed by a newline, per §4.A edge cases.
func IsSummaryMessage(text string) bool {
	prefixed := summaryPrefix + "\n"
	return len(text) >= len(prefixed) && text[:len(prefixed)] == prefixed
}

const modelSwitchPrefix = "## Model switch notice"

// ModelSwitchPrefix tags a developer message that informs the model it has
// just been swapped mid-conversation. Compaction (§4.F) detaches the item
// carrying this prefix before building the compaction prompt, since it
// would otherwise read as out-of-distribution input to the summarizer.
const ModelSwitchPrefix = modelSwitchPrefix

// IsModelSwitchUpdate reports whether a developer message is a
// model-switch notice, by the same prefix-tag convention as
// IsSummaryMessage.
func IsModelSwitchUpdate(it Item) bool {
	if it.Kind != KindMessage || it.Role != RoleDeveloper {
		return false
	}
	text := messageText(it)
	prefixed := modelSwitchPrefix + "\n"
	return len(text) >= len(prefixed) && text[:len(prefixed)] == prefixed
}

// messageText concatenates a message's textual content parts (input/output
// text only; images contribute nothing to text extraction).
func messageText(it Item) string {
	var out string
	for _, c := range it.Content {
		if c.Kind == ContentInputText || c.Kind == ContentOutputText {
			out += c.Text
		}
	}
	return out
}

func (it Item) String() string {
	return fmt.Sprintf("Item{kind=%s call_id=%s}", it.Kind, it.CallID)
}
