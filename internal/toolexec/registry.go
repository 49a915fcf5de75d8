// Package toolexec implements turn.ToolDispatcher: it turns one
// itemstore-shaped tool call into the matching output item, covering
// shell exec (routed through internal/sandbox/process), custom tools
// (an in-module registry), MCP calls (a thin calling-convention
// interface -- the registry itself is a non-goal), and unified-diff
// patch apply.
//
// Grounded on the teacher's internal/infrastructure/tool package: Registry
// generalizes tool.Registry's name->implementation map, and Dispatcher
// generalizes Executor's policy-check/execute/format-result flow to the
// call-kind switch the spec's ResponseItem variants require.
package toolexec

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CustomTool is one native tool callable as a CustomToolCall. input is
// the call's raw (non-JSON-schema-validated) string payload; output is
// returned as plain text.
type CustomTool interface {
	Name() string
	Execute(ctx context.Context, input string) (output string, success bool, err error)
}

// Registry holds the custom tools available to a turn, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]CustomTool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]CustomTool)}
}

// Register adds tool under its own Name(), overwriting any prior
// registration under that name -- the same last-registration-wins
// semantics as the teacher's RegisterAllTools call sequence.
func (r *Registry) Register(tool CustomTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (CustomTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name, sorted, for deterministic
// listing (e.g. in a `tool count` banner or `config/read`-adjacent
// diagnostics).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FuncTool adapts a plain function into a CustomTool, the same shape as
// the teacher's inline tool registrations (a name plus a closure).
type FuncTool struct {
	ToolName string
	Fn       func(ctx context.Context, input string) (string, bool, error)
}

func (f FuncTool) Name() string { return f.ToolName }
func (f FuncTool) Execute(ctx context.Context, input string) (string, bool, error) {
	return f.Fn(ctx, input)
}

var errNotFound = func(name string) error { return fmt.Errorf("toolexec: tool %q not found", name) }
