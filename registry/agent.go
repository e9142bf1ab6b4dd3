package registry

import (
	"github.com/loomlab/loom/logging"
	"github.com/loomlab/loom/tool"
)

// BaseAgent is the default registrable agent. It carries the merged
// configuration, its resolved tools and a scoped logger; the runner reads
// its description and toolset to drive the reasoning loop. Embed it to add
// behavior while keeping the registry wiring.
type BaseAgent struct {
	id     string
	cfg    Config
	tools  []tool.Tool
	logger logging.Logger
}

// NewBaseAgent returns an unconfigured agent suitable as a factory result.
func NewBaseAgent() *BaseAgent { return &BaseAgent{logger: logging.NoOpLogger{}} }

// Configure implements Configurable.
func (a *BaseAgent) Configure(cfg Config, id string, logger logging.Logger) error {
	a.cfg = cfg
	a.id = id
	if logger != nil {
		a.logger = logger
	}
	return nil
}

// SetTools implements ToolCarrier.
func (a *BaseAgent) SetTools(tools []tool.Tool) { a.tools = tools }

// ID returns the instance id assigned at resolution.
func (a *BaseAgent) ID() string { return a.id }

// Name returns the configured display name.
func (a *BaseAgent) Name() string { return a.cfg.Name }

// Description returns the configured behavior description used as the
// agent's system prompt preamble.
func (a *BaseAgent) Description() string { return a.cfg.Description }

// Tools returns the resolved, validation-wrapped toolset.
func (a *BaseAgent) Tools() []tool.Tool { return a.tools }

// Config returns the merged configuration.
func (a *BaseAgent) Config() Config { return a.cfg }

// Logger returns the logger injected at resolution.
func (a *BaseAgent) Logger() logging.Logger { return a.logger }
