package registry

import (
	"context"

	"github.com/loomlab/loom/internal/util"
	"github.com/loomlab/loom/tool"
)

// validatedTool checks call arguments against a JSON schema before
// delegating. Validation failures are the one error class the registry
// surfaces to callers directly rather than folding into tool output.
type validatedTool struct {
	inner  tool.Tool
	schema map[string]any
}

// WrapForValidation decorates t so that Call rejects arguments that fail
// the schema with a VALIDATION_ERROR before the inner tool runs. Name,
// Description and Parameters delegate unchanged.
func WrapForValidation(t tool.Tool, schema map[string]any) tool.Tool {
	return &validatedTool{inner: t, schema: schema}
}

func (v *validatedTool) Name() string               { return v.inner.Name() }
func (v *validatedTool) Description() string        { return v.inner.Description() }
func (v *validatedTool) Parameters() map[string]any { return v.schema }

func (v *validatedTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, v.schema); err != nil {
		return nil, &tool.ToolError{
			Tool:    v.inner.Name(),
			Message: err.Error(),
			Code:    "VALIDATION_ERROR",
		}
	}
	return v.inner.Call(ctx, args)
}
