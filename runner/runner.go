// Package runner drives the bounded reason-and-act loop for a conversation:
// it appends the user turn plus a placeholder reply, iterates model calls and
// tool dispatches until a final answer or the iteration budget runs out, and
// pushes progress over the conversation's stream channel.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loomlab/loom/conversation"
	"github.com/loomlab/loom/core"
	"github.com/loomlab/loom/internal/metrics"
	"github.com/loomlab/loom/logging"
	"github.com/loomlab/loom/memory"
	"github.com/loomlab/loom/model"
	"github.com/loomlab/loom/react"
	"github.com/loomlab/loom/registry"
	"github.com/loomlab/loom/stream"
	"github.com/loomlab/loom/tool"
)

// DefaultMaxIterations bounds the reasoning loop when no override is set.
const DefaultMaxIterations = 5

// ExhaustedMessage is persisted when the loop spends its budget without
// reaching a final answer.
const ExhaustedMessage = "I was unable to produce a final answer within the allowed number of reasoning steps."

// NoResponseMessage is persisted when the model returns empty content.
const NoResponseMessage = "No response was generated. Please try again."

// Agent is what the runner needs from a resolved agent instance.
type Agent interface {
	Name() string
	Description() string
	Tools() []tool.Tool
}

// AgentResolver maps a conversation's agent token to an Agent.
type AgentResolver interface {
	ResolveAgent(token string) (Agent, error)
}

type registryAgents struct{ reg *registry.Registry }

// ResolverFromRegistry adapts a registry into an AgentResolver.
func ResolverFromRegistry(reg *registry.Registry) AgentResolver {
	return &registryAgents{reg: reg}
}

func (r *registryAgents) ResolveAgent(token string) (Agent, error) {
	inst, err := r.reg.Resolve(token)
	if err != nil {
		return nil, err
	}
	agent, ok := inst.(Agent)
	if !ok {
		return nil, fmt.Errorf("token %q does not resolve to an agent", token)
	}
	return agent, nil
}

// Options configure a Runner.
type Options struct {
	// MaxIterations bounds the reasoning loop. Zero keeps the default.
	MaxIterations int
	// Temperature is forwarded to every model call.
	Temperature float64
	// NewMemory builds the context strategy for each run. Defaults to the
	// full-history buffer.
	NewMemory func() memory.Memory
	// Logger receives run diagnostics.
	Logger *logging.LoomLogger
}

type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner owns run lifecycle per conversation. A conversation has at most one
// active run; starting a new one cancels and replaces the old.
type Runner struct {
	model     model.Model
	store     core.ConversationStore
	states    *conversation.Manager
	transport *stream.Transport
	agents    AgentResolver

	maxIterations int
	temperature   float64
	newMemory     func() memory.Memory
	logger        *logging.LoomLogger

	mu     sync.Mutex
	active map[string]*runHandle
}

// New constructs a Runner.
func New(m model.Model, store core.ConversationStore, states *conversation.Manager, transport *stream.Transport, agents AgentResolver, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxIterations: DefaultMaxIterations,
		NewMemory:     func() memory.Memory { return memory.NewBuffer() },
		Logger:        logging.NewLogger(logging.DefaultLoggerConfig()),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.NewMemory == nil {
		opts.NewMemory = func() memory.Memory { return memory.NewBuffer() }
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(logging.DefaultLoggerConfig())
	}
	return &Runner{
		model:         m,
		store:         store,
		states:        states,
		transport:     transport,
		agents:        agents,
		maxIterations: opts.MaxIterations,
		temperature:   opts.Temperature,
		newMemory:     opts.NewMemory,
		logger:        opts.Logger.WithComponent("runner"),
		active:        make(map[string]*runHandle),
	}
}

// Start appends the user turn and a loading placeholder to the conversation,
// then launches the run asynchronously. An active run for the same
// conversation is cancelled and replaced. The placeholder message is returned
// so callers can hand its id to clients immediately.
func (r *Runner) Start(ctx context.Context, conversationID, userText string) (*core.Message, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	agent, err := r.agents.ResolveAgent(conv.Agent)
	if err != nil {
		return nil, fmt.Errorf("resolve agent %q: %w", conv.Agent, err)
	}

	userMsg, err := r.store.AddMessage(ctx, conversationID, core.RoleUser, userText)
	if err != nil {
		return nil, err
	}
	placeholder, err := r.store.AddMessage(ctx, conversationID, core.RoleAssistant, "")
	if err != nil {
		return nil, err
	}
	placeholder, err = r.store.UpdateMessageMeta(ctx, placeholder.ID, map[string]any{core.MetaLoading: true})
	if err != nil {
		return nil, err
	}

	state, err := r.states.GetOrLoad(conversationID, func() (*conversation.State, error) {
		history, err := r.store.Messages(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		return conversation.New(conversationID, history), nil
	})
	if err != nil {
		return nil, err
	}
	if cur, ok := state.CurrentMessage(); !ok || cur.ID != placeholder.ID {
		state.AddMessage(*userMsg)
		state.AddMessage(*placeholder)
	}

	// The run outlives the request; only explicit cancellation stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := &runHandle{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if prev, ok := r.active[conversationID]; ok {
		prev.cancel()
	}
	r.active[conversationID] = handle
	r.mu.Unlock()

	go func() {
		defer close(handle.done)
		defer r.release(conversationID, handle)
		r.run(runCtx, conv, agent, state, placeholder.ID)
	}()

	return placeholder, nil
}

// Cancel stops the active run for a conversation. It reports whether a run
// was active.
func (r *Runner) Cancel(conversationID string) bool {
	r.mu.Lock()
	handle, ok := r.active[conversationID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	handle.cancel()
	return true
}

// Running reports whether a run is active for the conversation.
func (r *Runner) Running(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[conversationID]
	return ok
}

// Wait blocks until the active run for the conversation finishes. It returns
// immediately when none is active.
func (r *Runner) Wait(conversationID string) {
	r.mu.Lock()
	handle, ok := r.active[conversationID]
	r.mu.Unlock()
	if ok {
		<-handle.done
	}
}

func (r *Runner) release(conversationID string, handle *runHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.active[conversationID]; ok && current == handle {
		delete(r.active, conversationID)
	}
}

func (r *Runner) run(ctx context.Context, conv *core.Conversation, agent Agent, state *conversation.State, placeholderID string) {
	runID := core.NewID()
	logger := r.logger.WithRun(conv.ID, runID)
	logger.Info("run.start", "agent", conv.Agent)

	tools := agent.Tools()
	dispatcher := tool.NewDispatcher(resolverForTools(tools), logger)

	mem := r.newMemory()
	mem.SetConversationID(conv.ID)
	mem.SetUserID(conv.UserID)
	mem.Store([]core.Message{core.NewMessage(conv.ID, core.RoleSystem, react.BuildSystemPrompt(agent.Description(), tools))})
	for _, msg := range state.ChainMessages() {
		if msg.MetaBool(core.MetaLoading) || msg.ID == placeholderID {
			continue
		}
		mem.Store([]core.Message{msg})
	}

	var trace []map[string]any
	provider := r.model.Info().Provider

	for i := 0; i < r.maxIterations; i++ {
		select {
		case <-ctx.Done():
			r.finishCancelled(conv.ID, placeholderID, i, logger)
			return
		default:
		}

		start := time.Now()
		respCh, errCh := r.model.Generate(ctx, model.Request{
			Messages:    mem.Summarize(),
			Temperature: r.temperature,
			Stop:        []string{react.ObservationMarker},
			Stream:      true,
		})
		text, err := model.Collect(ctx, respCh, errCh)
		metrics.RecordModelCall(provider, time.Since(start))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				r.finishCancelled(conv.ID, placeholderID, i+1, logger)
				return
			}
			r.finishFailed(conv.ID, placeholderID, i+1, err, logger)
			return
		}

		text = strings.TrimSpace(text)
		if text == "" {
			r.finishFinal(conv.ID, state, placeholderID, NoResponseMessage, trace, i+1, metrics.OutcomeError, logger)
			return
		}

		mem.Store([]core.Message{core.NewMessage(conv.ID, core.RoleAssistant, text)})

		step, perr := react.Parse(text)
		if perr != nil {
			observation := react.ObservationMarker + " " + perr.Error()
			logger.Warn("run.parse_failed", "error", perr.Error())
			trace = append(trace, map[string]any{"type": "parse_error", "text": perr.Error()})
			mem.Store([]core.Message{core.NewMessage(conv.ID, core.RoleUser, observation)})
			r.transport.Send(conv.ID, stream.Delta(observation+"\n"))
			continue
		}

		switch s := step.(type) {
		case react.ThoughtStep:
			trace = append(trace, map[string]any{"type": "thought", "text": s.Text})
			r.transport.Send(conv.ID, stream.Delta(s.Text+"\n"))

		case react.ActionStep:
			input, _ := json.Marshal(s.Input)
			trace = append(trace, map[string]any{"type": "action", "tool": s.Tool, "input": s.Input})
			r.transport.Send(conv.ID, stream.Delta(fmt.Sprintf("Action: %s\nAction Input: %s\n", s.Tool, input)))

			result := dispatcher.Execute(ctx, s.Tool, s.Input)
			observation := react.ObservationMarker + " " + result
			trace = append(trace, map[string]any{"type": "observation", "text": result})
			mem.Store([]core.Message{core.NewMessage(conv.ID, core.RoleUser, observation)})
			r.transport.Send(conv.ID, stream.Delta(observation+"\n"))

		case react.FinalAnswerStep:
			trace = append(trace, map[string]any{"type": "final_answer", "text": s.Text})
			r.finishFinal(conv.ID, state, placeholderID, s.Text, trace, i+1, metrics.OutcomeFinal, logger)
			return
		}
	}

	r.finishFinal(conv.ID, state, placeholderID, ExhaustedMessage, trace, r.maxIterations, metrics.OutcomeExhausted, logger)
}

// finishFinal persists the answer into the placeholder and terminates the
// stream. When the conversation's current tip is no longer the placeholder
// the run raced a branch edit; the result is dropped instead of written onto
// the wrong node.
func (r *Runner) finishFinal(conversationID string, state *conversation.State, placeholderID, answer string, trace []map[string]any, iterations int, outcome string, logger *logging.LoomLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cur, ok := state.CurrentMessage(); !ok || cur.ID != placeholderID {
		logger.Warn("run.diverged", "placeholder_id", placeholderID)
		r.transport.Send(conversationID, stream.Done())
		metrics.RecordRun(metrics.OutcomeDiverged, iterations)
		return
	}

	state.UpdateCurrentMessage(answer)
	if _, err := r.store.UpdateMessage(ctx, placeholderID, answer); err != nil {
		logger.Error("run.persist_failed", "error", err.Error())
	}
	if _, err := r.store.UpdateMessageMeta(ctx, placeholderID, map[string]any{
		core.MetaLoading: false,
		core.MetaSteps:   trace,
	}); err != nil {
		logger.Error("run.persist_meta_failed", "error", err.Error())
	}

	r.transport.Send(conversationID, stream.Delta(answer))
	r.transport.Send(conversationID, stream.Done())
	metrics.RecordRun(outcome, iterations)
	logger.Info("run.done", "iterations", iterations, "outcome", outcome)
}

func (r *Runner) finishFailed(conversationID, placeholderID string, iterations int, err error, logger *logging.LoomLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Error("run.model_failed", "error", err.Error())
	if _, metaErr := r.store.UpdateMessageMeta(ctx, placeholderID, map[string]any{
		core.MetaLoading: false,
		core.MetaError:   true,
	}); metaErr != nil {
		logger.Error("run.persist_meta_failed", "error", metaErr.Error())
	}

	r.transport.Send(conversationID, stream.Errored(err.Error()))
	metrics.RecordRun(metrics.OutcomeError, iterations)
}

// finishCancelled ends the run cleanly: the loading flag is cleared and a
// done event terminates this run's stream. Cancellation is not an error.
func (r *Runner) finishCancelled(conversationID, placeholderID string, iterations int, logger *logging.LoomLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("run.cancelled", "iterations", iterations)
	if _, err := r.store.UpdateMessageMeta(ctx, placeholderID, map[string]any{core.MetaLoading: false}); err != nil {
		logger.Error("run.persist_meta_failed", "error", err.Error())
	}
	r.transport.Send(conversationID, stream.Done())
	metrics.RecordRun(metrics.OutcomeCancelled, iterations)
}

func resolverForTools(tools []tool.Tool) tool.Resolver {
	m := make(tool.MapResolver, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return m
}
