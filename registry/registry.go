// Package registry binds tokens to agent and tool instances. Entries are
// registered explicitly at startup and resolved into process-lifetime
// singletons; resolving merges configuration through the extends chain and
// injects the merged config, a stable id, a logger and dependency tools.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/loomlab/loom/core"
	"github.com/loomlab/loom/logging"
	"github.com/loomlab/loom/tool"
)

// Config declares an agent or tool registration. Resolving a config
// deep-merges the extends base (resolved recursively) with the override:
// array fields are concatenated, scalars are replaced, maps merge by key.
type Config struct {
	Name         string         `yaml:"name" json:"name"`
	Description  string         `yaml:"description" json:"description"`
	Extends      string         `yaml:"extends,omitempty" json:"extends,omitempty"`
	Tools        []string       `yaml:"tools,omitempty" json:"tools,omitempty"`
	InputSchema  map[string]any `yaml:"input_schema,omitempty" json:"input_schema,omitempty"`
	ConfigSchema map[string]any `yaml:"config_schema,omitempty" json:"config_schema,omitempty"`
	Enabled      *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Settings     map[string]any `yaml:"settings,omitempty" json:"settings,omitempty"`
}

// IsEnabled treats an absent flag as enabled.
func (c Config) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// Configurable receives its merged configuration during resolution.
type Configurable interface {
	Configure(cfg Config, id string, logger logging.Logger) error
}

// ToolCarrier receives its resolved dependency tools during resolution.
type ToolCarrier interface {
	SetTools(tools []tool.Tool)
}

type entryKind int

const (
	kindAgent entryKind = iota
	kindTool
)

type entry struct {
	kind    entryKind
	factory func() any
	config  Config
}

// Registry stores factory entries and memoizes resolved instances. Safe for
// concurrent use; instances live for the process lifetime.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	instances map[string]any
	logger    logging.Logger
}

// New constructs an empty registry.
func New(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Registry{
		entries:   make(map[string]*entry),
		instances: make(map[string]any),
		logger:    logger,
	}
}

// RegisterAgent stores an agent factory under token. The config's Tools list
// names the dependency tokens resolved and injected at resolution time.
func (r *Registry) RegisterAgent(token string, factory func() any, cfg Config) error {
	return r.register(token, &entry{kind: kindAgent, factory: factory, config: cfg})
}

// RegisterTool stores a tool factory under token.
func (r *Registry) RegisterTool(token string, factory func() tool.Tool, cfg Config) error {
	return r.register(token, &entry{kind: kindTool, factory: func() any { return factory() }, config: cfg})
}

func (r *Registry) register(token string, e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[token]; exists {
		return fmt.Errorf("token %q already registered", token)
	}
	r.entries[token] = e
	r.logger.Debug("registry.register", "token", token)
	return nil
}

// Resolve returns the configured singleton for token, constructing it on
// first use. Repeated resolution returns the same instance.
func (r *Registry) Resolve(token string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(token, map[string]bool{})
}

func (r *Registry) resolveLocked(token string, resolving map[string]bool) (any, error) {
	if inst, ok := r.instances[token]; ok {
		return inst, nil
	}
	if resolving[token] {
		return nil, fmt.Errorf("dependency cycle at token %q", token)
	}
	resolving[token] = true
	defer delete(resolving, token)

	e, ok := r.entries[token]
	if !ok {
		return nil, fmt.Errorf("token %q not registered", token)
	}

	cfg, err := r.mergedConfigLocked(token, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("token %q is disabled", token)
	}

	inst := e.factory()

	if c, ok := inst.(Configurable); ok {
		id := token + "-" + core.NewID()
		if err := c.Configure(cfg, id, r.logger); err != nil {
			return nil, fmt.Errorf("configure %q: %w", token, err)
		}
	}

	if carrier, ok := inst.(ToolCarrier); ok && len(cfg.Tools) > 0 {
		tools := make([]tool.Tool, 0, len(cfg.Tools))
		for _, depToken := range cfg.Tools {
			dep, err := r.resolveLocked(depToken, resolving)
			if err != nil {
				return nil, fmt.Errorf("resolve dependency %q of %q: %w", depToken, token, err)
			}
			depTool, ok := dep.(tool.Tool)
			if !ok {
				return nil, fmt.Errorf("dependency %q of %q is not a tool", depToken, token)
			}
			tools = append(tools, r.wrapToolLocked(depToken, depTool))
		}
		carrier.SetTools(tools)
	}

	// Tools are stored wrapped so every caller goes through input validation.
	if e.kind == kindTool {
		if t, ok := inst.(tool.Tool); ok {
			inst = r.wrapToolWithConfig(t, cfg)
		}
	}

	r.instances[token] = inst
	r.logger.Debug("registry.resolve", "token", token)
	return inst, nil
}

// mergedConfigLocked merges the config through the extends chain, base first.
func (r *Registry) mergedConfigLocked(token string, visited map[string]bool) (Config, error) {
	e, ok := r.entries[token]
	if !ok {
		return Config{}, fmt.Errorf("token %q not registered", token)
	}
	if visited[token] {
		return Config{}, fmt.Errorf("extends cycle at token %q", token)
	}
	visited[token] = true

	cfg := e.config
	if cfg.Extends == "" {
		return cfg, nil
	}

	base, err := r.mergedConfigLocked(cfg.Extends, visited)
	if err != nil {
		return Config{}, fmt.Errorf("resolve extends %q of %q: %w", cfg.Extends, token, err)
	}
	return mergeConfig(base, cfg), nil
}

// mergeConfig applies override on top of base: scalars from the override
// when set, arrays concatenated, maps deep-merged.
func mergeConfig(base, override Config) Config {
	merged := base
	merged.Extends = ""

	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Description != "" {
		merged.Description = override.Description
	}
	if override.Enabled != nil {
		merged.Enabled = override.Enabled
	}
	merged.Tools = append(append([]string{}, base.Tools...), override.Tools...)
	merged.InputSchema = mergeMaps(base.InputSchema, override.InputSchema)
	merged.ConfigSchema = mergeMaps(base.ConfigSchema, override.ConfigSchema)
	merged.Settings = mergeMaps(base.Settings, override.Settings)

	return merged
}

func mergeMaps(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return nil
	}
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		baseChild, okBase := merged[k].(map[string]any)
		overrideChild, okOverride := v.(map[string]any)
		if okBase && okOverride {
			merged[k] = mergeMaps(baseChild, overrideChild)
			continue
		}
		if baseList, okList := merged[k].([]any); okList {
			if overrideList, ok := v.([]any); ok {
				merged[k] = append(append([]any{}, baseList...), overrideList...)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

// MergedConfig exposes the post-inheritance config for a token.
func (r *Registry) MergedConfig(token string) (Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergedConfigLocked(token, map[string]bool{})
}

// ResolveTool implements tool.Resolver over registered tool entries.
func (r *Registry) ResolveTool(name string) (tool.Tool, bool) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok || e.kind != kindTool {
		return nil, false
	}
	inst, err := r.Resolve(name)
	if err != nil {
		r.logger.Warn("registry.resolve_tool", "token", name, "error", err.Error())
		return nil, false
	}
	t, ok := inst.(tool.Tool)
	return t, ok
}

// ToolNames implements tool.Resolver, listing registered tool tokens sorted.
func (r *Registry) ToolNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for token, e := range r.entries {
		if e.kind == kindTool && e.config.IsEnabled() {
			names = append(names, token)
		}
	}
	sort.Strings(names)
	return names
}

func (r *Registry) wrapToolLocked(token string, t tool.Tool) tool.Tool {
	cfg, err := r.mergedConfigLocked(token, map[string]bool{})
	if err != nil {
		return t
	}
	return r.wrapToolWithConfig(t, cfg)
}

func (r *Registry) wrapToolWithConfig(t tool.Tool, cfg Config) tool.Tool {
	if wrapped, ok := t.(*validatedTool); ok {
		return wrapped
	}
	schema := cfg.InputSchema
	if schema == nil {
		schema = t.Parameters()
	}
	return WrapForValidation(t, schema)
}
