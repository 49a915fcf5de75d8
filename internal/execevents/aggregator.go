package execevents

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type runningCommand struct {
	itemID           string
	command          string
	aggregatedOutput string
}

type runningMcpCall struct {
	itemID    string
	server    string
	tool      string
	arguments []byte
}

type runningTodoList struct {
	itemID string
	steps  []TodoStep
}

// Aggregator coalesces the internal begin/end event stream into stable
// ThreadEvents, one call id at a time. Handle holds mu for its whole
// body, so concurrent Handle calls from multiple goroutines are
// serialized.
type Aggregator struct {
	mu sync.Mutex

	nextItemID int

	runningCommands  map[string]*runningCommand
	runningMcpCalls  map[string]*runningMcpCall
	runningTodo      *runningTodoList
	runningPatches   map[string][]PathChange
	runningWebSearch map[string]string // call id -> item id

	lastCriticalError string
	hasCriticalError  bool

	logger *zap.Logger
}

func New(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		runningCommands:  make(map[string]*runningCommand),
		runningMcpCalls:  make(map[string]*runningMcpCall),
		runningPatches:   make(map[string][]PathChange),
		runningWebSearch: make(map[string]string),
		logger:           logger,
	}
}

func (a *Aggregator) nextID() string {
	a.nextItemID++
	return fmt.Sprintf("item_%d", a.nextItemID)
}

// Handle consumes one RawEvent and returns zero or more ThreadEvents.
func (a *Aggregator) Handle(ev RawEvent) []ThreadEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Kind {
	case RawExecCommandBegin:
		return a.handleExecBegin(ev)
	case RawExecCommandEnd:
		return a.handleExecEnd(ev)
	case RawMcpToolCallBegin:
		return a.handleMcpBegin(ev)
	case RawMcpToolCallEnd:
		return a.handleMcpEnd(ev)
	case RawPlanUpdate:
		return a.handlePlanUpdate(ev)
	case RawPatchApplyBegin:
		a.runningPatches[ev.CallID] = ev.Changes
		return nil
	case RawPatchApplyEnd:
		return a.handlePatchEnd(ev)
	case RawWebSearchBegin:
		return a.handleWebSearchBegin(ev)
	case RawWebSearchEnd:
		return a.handleWebSearchEnd(ev)
	case RawTurnStarted:
		a.hasCriticalError = false
		a.lastCriticalError = ""
		return []ThreadEvent{{Kind: EventTurnStarted}}
	case RawTurnComplete:
		return a.handleTurnComplete(ev)
	case RawTurnRetrying:
		return []ThreadEvent{{Kind: EventTurnRetrying, Attempt: ev.Attempt, MaxAttempts: ev.MaxAttempts}}
	case RawCriticalError:
		a.hasCriticalError = true
		a.lastCriticalError = ev.Message
		return []ThreadEvent{{Kind: EventError, ErrorMessage: ev.Message}}
	default:
		return nil
	}
}

func (a *Aggregator) handleExecBegin(ev RawEvent) []ThreadEvent {
	itemID := a.nextID()
	command := joinShellCommand(ev.Command)
	a.runningCommands[ev.CallID] = &runningCommand{itemID: itemID, command: command}
	return []ThreadEvent{{
		Kind: EventItemStarted,
		Item: ThreadItem{ID: itemID, Kind: ItemCommandExecution, Status: StatusInProgress, Command: command},
	}}
}

func (a *Aggregator) handleExecEnd(ev RawEvent) []ThreadEvent {
	running, ok := a.runningCommands[ev.CallID]
	if !ok {
		a.logger.Warn("exec command end without a matching begin; dropping orphan", zap.String("call_id", ev.CallID))
		return nil
	}
	delete(a.runningCommands, ev.CallID)

	output := running.aggregatedOutput
	if ev.AggregatedOutput != "" {
		output = ev.AggregatedOutput
	}
	status := StatusCompleted
	if ev.ExitCode != 0 {
		status = StatusFailed
	}
	exitCode := ev.ExitCode
	return []ThreadEvent{{
		Kind: EventItemCompleted,
		Item: ThreadItem{
			ID: running.itemID, Kind: ItemCommandExecution, Status: status,
			Command: running.command, AggregatedOutput: output, ExitCode: &exitCode,
		},
	}}
}

func (a *Aggregator) handleMcpBegin(ev RawEvent) []ThreadEvent {
	itemID := a.nextID()
	a.runningMcpCalls[ev.CallID] = &runningMcpCall{itemID: itemID, server: ev.Server, tool: ev.Tool, arguments: ev.Arguments}
	return []ThreadEvent{{
		Kind: EventItemStarted,
		Item: ThreadItem{ID: itemID, Kind: ItemMcpToolCall, Status: StatusInProgress, Server: ev.Server, Tool: ev.Tool, Arguments: ev.Arguments},
	}}
}

func (a *Aggregator) handleMcpEnd(ev RawEvent) []ThreadEvent {
	running, ok := a.runningMcpCalls[ev.CallID]
	var itemID, server, tool string
	var arguments []byte
	if ok {
		delete(a.runningMcpCalls, ev.CallID)
		itemID, server, tool, arguments = running.itemID, running.server, running.tool, running.arguments
	} else {
		a.logger.Warn("mcp tool call end without a matching begin; synthesizing item", zap.String("call_id", ev.CallID))
		itemID, server, tool, arguments = a.nextID(), ev.Server, ev.Tool, ev.Arguments
	}

	status := StatusCompleted
	errMsg := ""
	result := ev.Result
	if !ev.Success {
		status = StatusFailed
		errMsg = ev.Error
		result = nil
	}
	return []ThreadEvent{{
		Kind: EventItemCompleted,
		Item: ThreadItem{
			ID: itemID, Kind: ItemMcpToolCall, Status: status,
			Server: server, Tool: tool, Arguments: arguments, Result: result, ErrorMessage: errMsg,
		},
	}}
}

func (a *Aggregator) handlePlanUpdate(ev RawEvent) []ThreadEvent {
	if a.runningTodo != nil {
		a.runningTodo.steps = ev.Steps
		return []ThreadEvent{{
			Kind: EventItemUpdated,
			Item: ThreadItem{ID: a.runningTodo.itemID, Kind: ItemTodoList, Status: StatusInProgress, Todos: ev.Steps},
		}}
	}
	itemID := a.nextID()
	a.runningTodo = &runningTodoList{itemID: itemID, steps: ev.Steps}
	return []ThreadEvent{{
		Kind: EventItemStarted,
		Item: ThreadItem{ID: itemID, Kind: ItemTodoList, Status: StatusInProgress, Todos: ev.Steps},
	}}
}

func (a *Aggregator) handlePatchEnd(ev RawEvent) []ThreadEvent {
	changes, ok := a.runningPatches[ev.CallID]
	if !ok {
		return nil
	}
	delete(a.runningPatches, ev.CallID)

	status := StatusCompleted
	if !ev.PatchSucceeded {
		status = StatusFailed
	}
	return []ThreadEvent{{
		Kind: EventItemCompleted,
		Item: ThreadItem{ID: a.nextID(), Kind: ItemFileChange, Status: status, Changes: changes},
	}}
}

func (a *Aggregator) handleWebSearchBegin(ev RawEvent) []ThreadEvent {
	if _, exists := a.runningWebSearch[ev.CallID]; exists {
		return nil
	}
	itemID := a.nextID()
	a.runningWebSearch[ev.CallID] = itemID
	return []ThreadEvent{{
		Kind: EventItemStarted,
		Item: ThreadItem{ID: itemID, Kind: ItemWebSearch, Status: StatusInProgress, CallID: ev.CallID},
	}}
}

func (a *Aggregator) handleWebSearchEnd(ev RawEvent) []ThreadEvent {
	itemID, ok := a.runningWebSearch[ev.CallID]
	if ok {
		delete(a.runningWebSearch, ev.CallID)
	} else {
		itemID = a.nextID()
	}
	return []ThreadEvent{{
		Kind: EventItemCompleted,
		Item: ThreadItem{ID: itemID, Kind: ItemWebSearch, Status: StatusCompleted, CallID: ev.CallID, Query: ev.Query, Action: ev.Action},
	}}
}

func (a *Aggregator) handleTurnComplete(ev RawEvent) []ThreadEvent {
	var events []ThreadEvent

	if a.runningTodo != nil {
		events = append(events, ThreadEvent{
			Kind: EventItemCompleted,
			Item: ThreadItem{ID: a.runningTodo.itemID, Kind: ItemTodoList, Status: StatusCompleted, Todos: a.runningTodo.steps},
		})
		a.runningTodo = nil
	}

	for callID, running := range a.runningCommands {
		delete(a.runningCommands, callID)
		events = append(events, ThreadEvent{
			Kind: EventItemCompleted,
			Item: ThreadItem{
				ID: running.itemID, Kind: ItemCommandExecution, Status: StatusCompleted,
				Command: running.command, AggregatedOutput: running.aggregatedOutput, ExitCode: nil,
			},
		})
	}

	if a.hasCriticalError {
		events = append(events, ThreadEvent{Kind: EventTurnFailed, ErrorMessage: a.lastCriticalError})
		a.hasCriticalError = false
		a.lastCriticalError = ""
	} else {
		events = append(events, ThreadEvent{Kind: EventTurnCompleted, Usage: ev.Usage})
	}

	return events
}

// joinShellCommand renders an argv slice as a shell-quoted string for
// display, quoting only words that need it. Grounded on the teacher's
// shellQuote (internal/infrastructure/tool/lintfix_tool.go), generalized
// from always-quote-the-one-path to a word-by-word join across an
// arbitrary argv.
func joinShellCommand(argv []string) string {
	words := make([]string, len(argv))
	for i, word := range argv {
		words[i] = quoteShellWord(word)
	}
	return strings.Join(words, " ")
}

func quoteShellWord(word string) string {
	if word != "" && !strings.ContainsAny(word, " \t\n\"'\\$`!*?[]{}()<>|;&~") {
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", "'\\''") + "'"
}
