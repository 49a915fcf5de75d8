package execevents

import "encoding/json"

// RawKind tags the internal signal an Aggregator consumes. Each variant
// corresponds to one protocol::EventMsg case this engine's six
// aggregation rules care about; everything else in the real internal
// event stream is outside this package's scope and never reaches it.
type RawKind string

const (
	RawExecCommandBegin RawKind = "exec_command_begin"
	RawExecCommandEnd   RawKind = "exec_command_end"
	RawMcpToolCallBegin RawKind = "mcp_tool_call_begin"
	RawMcpToolCallEnd   RawKind = "mcp_tool_call_end"
	RawPlanUpdate       RawKind = "plan_update"
	RawPatchApplyBegin  RawKind = "patch_apply_begin"
	RawPatchApplyEnd    RawKind = "patch_apply_end"
	RawWebSearchBegin   RawKind = "web_search_begin"
	RawWebSearchEnd     RawKind = "web_search_end"
	RawTurnStarted      RawKind = "turn_started"
	RawTurnComplete     RawKind = "turn_complete"
	RawTurnRetrying     RawKind = "turn_retrying"
	RawCriticalError    RawKind = "critical_error"
)

// RawEvent is one internal signal fed to Aggregator.Handle.
type RawEvent struct {
	Kind   RawKind
	CallID string

	// ExecCommandBegin
	Command []string

	// ExecCommandEnd
	ExitCode         int
	AggregatedOutput string

	// McpToolCallBegin
	Server    string
	Tool      string
	Arguments json.RawMessage

	// McpToolCallEnd
	Success bool
	Result  json.RawMessage
	Error   string

	// PlanUpdate
	Steps []TodoStep

	// PatchApplyBegin
	Changes []PathChange
	// PatchApplyEnd
	PatchSucceeded bool

	// WebSearchEnd
	Query  string
	Action string

	// TurnComplete
	Usage Usage

	// TurnRetrying
	Attempt     int
	MaxAttempts int

	// CriticalError
	Message string
}
