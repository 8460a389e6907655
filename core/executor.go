package core

import "context"

// ToolResult is the outcome of a single tool invocation as reported by the
// tool executor. Success=false with a populated Error is an ordinary tool
// failure; a non-nil error from Execute is an infrastructure failure
// (transport, panic, cancellation).
type ToolResult struct {
	Success bool        `json:"success"`
	Output  string      `json:"output"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ToolExecutor is the sole inbound capability of the integration layer.
// It invokes a named business tool with resolved parameters. The layer
// treats the executor as opaque and fallible and never inspects
// tool-specific semantics.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, params map[string]interface{}) (*ToolResult, error)
}

// ToolExecutorFunc adapts a function to the ToolExecutor interface.
type ToolExecutorFunc func(ctx context.Context, toolName string, params map[string]interface{}) (*ToolResult, error)

func (f ToolExecutorFunc) Execute(ctx context.Context, toolName string, params map[string]interface{}) (*ToolResult, error) {
	return f(ctx, toolName, params)
}
