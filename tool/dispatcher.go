package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/loomlab/loom/internal/metrics"
	"github.com/loomlab/loom/logging"
)

// Resolver supplies tools by name. The registry implements this; tests can
// substitute a map-backed fake.
type Resolver interface {
	ResolveTool(name string) (Tool, bool)
	ToolNames() []string
}

// MapResolver is a trivial Resolver over a fixed set of tools.
type MapResolver map[string]Tool

// ResolveTool implements Resolver.
func (m MapResolver) ResolveTool(name string) (Tool, bool) {
	t, ok := m[name]
	return t, ok
}

// ToolNames implements Resolver, returning names in sorted order.
func (m MapResolver) ToolNames() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatcher resolves a tool by name and invokes it safely. Every failure
// mode is converted into an observation string so the reasoning loop can
// recover from bad tool calls; Execute never returns an error.
type Dispatcher struct {
	resolver Resolver
	logger   logging.Logger
}

// NewDispatcher constructs a Dispatcher over the given resolver.
func NewDispatcher(resolver Resolver, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Dispatcher{resolver: resolver, logger: logger}
}

// Execute runs the named tool with the given input and returns the
// observation text fed back into the reasoning loop.
//
// Failure semantics:
//   - unknown name: an observation enumerating the currently available tools
//   - execution or validation error: `Error executing tool "<name>": <message>`
func (d *Dispatcher) Execute(ctx context.Context, name string, input map[string]any) string {
	t, ok := d.resolver.ResolveTool(name)
	if !ok {
		available := strings.Join(d.resolver.ToolNames(), ", ")
		if available == "" {
			available = "(none)"
		}
		d.logger.Warn("tool.dispatch.unknown", "tool", name)
		metrics.RecordToolCall(name, "unknown")
		return fmt.Sprintf("Tool %q not found. Available tools: %s", name, available)
	}

	start := time.Now()
	result, err := t.Call(ctx, input)
	if err != nil {
		d.logger.Warn("tool.dispatch.failed", "tool", name, "error", err.Error(), "duration_ms", time.Since(start).Milliseconds())
		metrics.RecordToolCall(name, "error")
		return fmt.Sprintf("Error executing tool %q: %s", name, errorMessage(err))
	}

	d.logger.Debug("tool.dispatch.success", "tool", name, "duration_ms", time.Since(start).Milliseconds())
	metrics.RecordToolCall(name, "ok")
	return formatResult(result)
}

// errorMessage prefers the bare message of a ToolError over its decorated form.
func errorMessage(err error) string {
	if toolErr, ok := err.(*ToolError); ok {
		return toolErr.Message
	}
	return err.Error()
}

// formatResult renders a tool result as observation text. Strings pass
// through; everything else is JSON-encoded.
func formatResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
