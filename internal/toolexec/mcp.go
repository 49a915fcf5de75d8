package toolexec

import "context"

// MCPClient is the calling convention a dispatcher needs to route a tool
// call to an MCP server. The registry that maps server/tool names to
// live connections is explicitly a non-goal of this engine (spec §1); a
// caller wires in whatever registry it has by implementing this
// interface. Tool calls reach it under names namespaced
// "mcp__<server>__<tool>" (spec §4.H), which the dispatcher splits into
// the server and tool arguments.
type MCPClient interface {
	CallTool(ctx context.Context, server, tool, arguments string) (output string, success bool, err error)
}

// NoMCPClient rejects every call; used when the caller hasn't wired an
// MCP registry at all.
type NoMCPClient struct{}

func (NoMCPClient) CallTool(ctx context.Context, server, tool, arguments string) (string, bool, error) {
	return "MCP is not configured", false, nil
}
