package turn

import (
	"context"

	"github.com/ngoclaw/codexcore/internal/itemstore"
)

// ToolCall is the subset of an itemstore.Item the dispatcher needs to
// execute a function/custom-tool/local-shell call.
type ToolCall struct {
	Kind      itemstore.Kind
	CallID    string
	Name      string
	Arguments string
	Input     string
	Action    itemstore.LocalShellAction
}

// ToolDispatcher synchronously executes one tool call and returns the
// matching output item, per §4.E step 3. Implementations cover shell exec
// (via the sandbox constructors), MCP, custom tools, and patch apply;
// approval-policy gating (unchanged by this engine) wraps a dispatcher
// rather than living inside it.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call ToolCall) (itemstore.Item, error)
}

// toolCallFrom extracts a ToolCall view from a call-variant item. ok is
// false for non-call items.
func toolCallFrom(it itemstore.Item) (ToolCall, bool) {
	callID, isCall := it.IsCall()
	if !isCall {
		return ToolCall{}, false
	}
	return ToolCall{
		Kind:      it.Kind,
		CallID:    callID,
		Name:      it.Name,
		Arguments: it.Arguments,
		Input:     it.Input,
		Action:    it.Action,
	}, true
}

// toolOutputItem builds the output item matching a call's kind.
func toolOutputItem(call ToolCall, payload itemstore.FunctionCallOutputPayload) itemstore.Item {
	switch call.Kind {
	case itemstore.KindCustomToolCall:
		return itemstore.Item{Kind: itemstore.KindCustomToolCallOut, CallID: call.CallID, Output: payload}
	default: // KindFunctionCall, KindLocalShellCall
		return itemstore.Item{Kind: itemstore.KindFunctionCallOutput, CallID: call.CallID, Output: payload}
	}
}

func errorOutputPayload(err error) itemstore.FunctionCallOutputPayload {
	ok := false
	return itemstore.FunctionCallOutputPayload{Text: err.Error(), Success: &ok}
}
