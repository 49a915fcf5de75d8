package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/execevents"
	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/sandbox/process"
	"github.com/ngoclaw/codexcore/internal/turn"
)

// errUnsupportedToolCall is returned for a call kind Dispatch has no
// route for (CustomToolCallOut/FunctionCallOutput items never reach here
// -- only call-variants do, per turn.toolCallFrom).
var errUnsupportedToolCall = fmt.Errorf("toolexec: unsupported tool call kind")

// Dispatcher implements turn.ToolDispatcher. One Dispatcher is shared
// across a conversation's turns; the sandbox Policy it exec's under is
// fixed at construction (mirroring the teacher's Executor, which is
// likewise built once per session against one sandbox.ProcessSandbox).
type Dispatcher struct {
	Policy   process.Policy
	Cwd      string
	Registry *Registry
	MCP      MCPClient
	Logger   *zap.Logger

	// Events and OnThreadEvent are optional: when both are set, Dispatch
	// reports exec/MCP/patch-apply begin/end pairs through Events (§4.H's
	// Aggregator) and forwards every resulting ThreadEvent to
	// OnThreadEvent, the way the app server surfaces a running
	// conversation's tool activity over its own connection.
	Events       *execevents.Aggregator
	OnThreadEvent func(execevents.ThreadEvent)
}

// NewDispatcher builds a Dispatcher. registry and mcp may be nil (an
// empty registry / NoMCPClient are substituted).
func NewDispatcher(policy process.Policy, cwd string, registry *Registry, mcp MCPClient, logger *zap.Logger) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	if mcp == nil {
		mcp = NoMCPClient{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{Policy: policy, Cwd: cwd, Registry: registry, MCP: mcp, Logger: logger}
}

var _ turn.ToolDispatcher = (*Dispatcher)(nil)

// shellArgs is the JSON shape of a function-call-style shell invocation
// (as opposed to a native LocalShellCall item, which already carries a
// structured itemstore.LocalShellAction).
type shellArgs struct {
	Command []string `json:"command"`
	Cwd     string   `json:"cwd"`
	Timeout int      `json:"timeout"`
}

// patchArgs is the JSON shape of an apply_patch function call.
type patchArgs struct {
	Patch string `json:"patch"`
	Cwd   string `json:"cwd"`
}

const mcpNamePrefix = "mcp__"

// Dispatch routes call by kind/name and returns the matching output item,
// per spec §4.E step 3 / §4.H's exec/MCP/patch-apply rules.
func (d *Dispatcher) Dispatch(ctx context.Context, call turn.ToolCall) (itemstore.Item, error) {
	switch call.Kind {
	case itemstore.KindLocalShellCall:
		return d.dispatchShell(ctx, call, call.Action.Command, call.Action.Cwd, call.Action.Timeout)

	case itemstore.KindCustomToolCall:
		return d.dispatchCustom(ctx, call)

	case itemstore.KindFunctionCall:
		switch {
		case call.Name == "shell" || call.Name == "exec" || call.Name == "bash":
			var args shellArgs
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				return d.functionOutput(call, "invalid shell arguments: "+err.Error(), false), nil
			}
			return d.dispatchShell(ctx, call, args.Command, args.Cwd, args.Timeout)

		case call.Name == "apply_patch":
			var args patchArgs
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				return d.functionOutput(call, "invalid apply_patch arguments: "+err.Error(), false), nil
			}
			cwd := args.Cwd
			if cwd == "" {
				cwd = d.Cwd
			}
			d.emit(execevents.RawEvent{Kind: execevents.RawPatchApplyBegin, CallID: call.CallID, Changes: parsePatchChanges(args.Patch)})
			out, ok, err := ApplyPatch(ctx, args.Patch, cwd, d.Policy, d.Logger)
			d.emit(execevents.RawEvent{Kind: execevents.RawPatchApplyEnd, CallID: call.CallID, PatchSucceeded: ok})
			if err != nil {
				return d.functionOutput(call, err.Error(), false), nil
			}
			return d.functionOutput(call, out, ok), nil

		case strings.HasPrefix(call.Name, mcpNamePrefix):
			server, tool, ok := parseMCPName(call.Name)
			if !ok {
				return d.functionOutput(call, "malformed MCP tool name: "+call.Name, false), nil
			}
			d.emit(execevents.RawEvent{Kind: execevents.RawMcpToolCallBegin, CallID: call.CallID, Server: server, Tool: tool, Arguments: json.RawMessage(call.Arguments)})
			out, success, err := d.MCP.CallTool(ctx, server, tool, call.Arguments)
			errMsg := ""
			if err != nil {
				errMsg = err.Error()
			}
			resultJSON, _ := json.Marshal(out)
			d.emit(execevents.RawEvent{Kind: execevents.RawMcpToolCallEnd, CallID: call.CallID, Success: success && err == nil, Result: resultJSON, Error: errMsg})
			if err != nil {
				return d.functionOutput(call, err.Error(), false), nil
			}
			return d.functionOutput(call, out, success), nil

		default:
			return d.dispatchCustom(ctx, call)
		}

	default:
		return itemstore.Item{}, errUnsupportedToolCall
	}
}

func (d *Dispatcher) dispatchShell(ctx context.Context, call turn.ToolCall, command []string, cwd string, timeoutSeconds int) (itemstore.Item, error) {
	if len(command) == 0 {
		return d.functionOutput(call, "empty command", false), nil
	}
	if cwd == "" {
		cwd = d.Cwd
	}
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	req := process.Request{
		Command: command,
		Cwd:     cwd,
		Env:     process.BuildEnv(cwd, d.Policy.Network),
		Timeout: timeout,
		Policy:  d.Policy,
	}
	d.emit(execevents.RawEvent{Kind: execevents.RawExecCommandBegin, CallID: call.CallID, Command: command})
	result, err := process.Run(ctx, req, d.Logger)
	if result == nil {
		d.emit(execevents.RawEvent{Kind: execevents.RawExecCommandEnd, CallID: call.CallID, ExitCode: -1, AggregatedOutput: "exec failed: " + err.Error()})
		return d.functionOutput(call, "exec failed: "+err.Error(), false), nil
	}

	out := result.Stdout
	if result.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += result.Stderr
	}
	success := err == nil && result.ExitCode == 0 && !result.Killed
	d.emit(execevents.RawEvent{Kind: execevents.RawExecCommandEnd, CallID: call.CallID, ExitCode: result.ExitCode, AggregatedOutput: out})
	return d.functionOutput(call, out, success), nil
}

// emit feeds ev through the Aggregator, if one is configured, and
// forwards every resulting ThreadEvent to OnThreadEvent. A nil Events or
// OnThreadEvent makes this a no-op, so a Dispatcher built without event
// reporting pays nothing for it.
func (d *Dispatcher) emit(ev execevents.RawEvent) {
	if d.Events == nil || d.OnThreadEvent == nil {
		return
	}
	for _, te := range d.Events.Handle(ev) {
		d.OnThreadEvent(te)
	}
}

// parsePatchChanges scans a unified diff for its per-file +++ / --- lines
// and classifies each path as added, deleted, or updated, the same
// three-way distinction spec §4.H's file-change item carries. Best
// effort: a patch this can't parse yields no changes rather than an
// error, since the apply itself is still attempted independently.
func parsePatchChanges(patch string) []execevents.PathChange {
	var changes []execevents.PathChange
	lines := strings.Split(patch, "\n")
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "--- ") || i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
			continue
		}
		oldPath := strings.TrimPrefix(lines[i], "--- ")
		newPath := strings.TrimPrefix(lines[i+1], "+++ ")
		kind := execevents.FileChangeUpdate
		path := trimDiffPathPrefix(newPath)
		switch {
		case strings.HasPrefix(oldPath, "/dev/null"):
			kind = execevents.FileChangeAdd
		case strings.HasPrefix(newPath, "/dev/null"):
			kind = execevents.FileChangeDelete
			path = trimDiffPathPrefix(oldPath)
		}
		if path != "" {
			changes = append(changes, execevents.PathChange{Path: path, Kind: kind})
		}
		i++
	}
	return changes
}

func trimDiffPathPrefix(p string) string {
	p = strings.TrimSpace(p)
	if idx := strings.IndexByte(p, '\t'); idx >= 0 {
		p = p[:idx]
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(p, prefix) {
			return p[len(prefix):]
		}
	}
	return p
}

func (d *Dispatcher) dispatchCustom(ctx context.Context, call turn.ToolCall) (itemstore.Item, error) {
	tool, ok := d.Registry.Get(call.Name)
	if !ok {
		return d.outputFor(call, call.Name+" not found", false), nil
	}
	input := call.Input
	if input == "" {
		input = call.Arguments
	}
	out, success, err := tool.Execute(ctx, input)
	if err != nil {
		return d.outputFor(call, err.Error(), false), nil
	}
	return d.outputFor(call, out, success), nil
}

// functionOutput builds a FunctionCallOutput item (used for
// KindFunctionCall/KindLocalShellCall calls).
func (d *Dispatcher) functionOutput(call turn.ToolCall, text string, success bool) itemstore.Item {
	s := success
	return itemstore.Item{
		Kind:   itemstore.KindFunctionCallOutput,
		CallID: call.CallID,
		Output: itemstore.FunctionCallOutputPayload{Text: text, Success: &s},
	}
}

// outputFor builds the output item matching call's own kind, so a
// CustomToolCall gets a CustomToolCallOutput in return.
func (d *Dispatcher) outputFor(call turn.ToolCall, text string, success bool) itemstore.Item {
	if call.Kind == itemstore.KindCustomToolCall {
		s := success
		return itemstore.Item{
			Kind:   itemstore.KindCustomToolCallOut,
			CallID: call.CallID,
			Output: itemstore.FunctionCallOutputPayload{Text: text, Success: &s},
		}
	}
	return d.functionOutput(call, text, success)
}

func parseMCPName(name string) (server, tool string, ok bool) {
	rest := strings.TrimPrefix(name, mcpNamePrefix)
	idx := strings.Index(rest, "__")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+2:], true
}
