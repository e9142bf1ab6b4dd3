// Package tool implements the callable capabilities an agent may invoke
// during reasoning: the Tool interface, a function adapter with schema
// validated arguments, and the dispatcher that makes every invocation safe
// for the reasoning loop.
package tool

import (
	"context"
	"fmt"

	"github.com/loomlab/loom/internal/util"
)

// Tool is a capability an agent can call during a run.
//
// Implementations should:
//   - use descriptive snake_case names
//   - describe expected arguments with a minimal JSON schema
//   - respect context cancellation in Call
//   - be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier used by the model to request the tool.
	Name() string

	// Description is surfaced to the model so it knows when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input.
	Parameters() map[string]any

	// Call executes the tool. The context carries the run's cancellation signal.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError re-exports the shared schema validation error type.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
