// Package loom provides a high-level façade over the conversation engine:
// branchable conversation state, the bounded reason-and-act runner, the
// plugin registry and the per-conversation push stream. Most applications
// interact with this package by:
//  1. Creating a Loom via New() (optionally overriding the default in-memory store)
//  2. Registering agents and tools on the registry
//  3. Creating conversations and sending messages (Send / SendSync)
//
// Defaults are safe for local development and testing; production deployments
// typically supply a durable store and a structured logger.
package loom

import (
	"context"

	"github.com/loomlab/loom/conversation"
	"github.com/loomlab/loom/core"
	"github.com/loomlab/loom/logging"
	"github.com/loomlab/loom/memory"
	"github.com/loomlab/loom/model"
	"github.com/loomlab/loom/registry"
	"github.com/loomlab/loom/runner"
	"github.com/loomlab/loom/server"
	"github.com/loomlab/loom/store"
	"github.com/loomlab/loom/stream"
	"github.com/loomlab/loom/tool"
)

// Options configures the Loom instance.
type Options struct {
	// Store persists conversations. Defaults to the in-memory store.
	Store core.ConversationStore
	// Model produces completions. Defaults to a MockModel, suitable only for
	// tests and offline development.
	Model model.Model
	// Logger receives structured diagnostics. Defaults to text on stderr.
	Logger *logging.LoomLogger
	// MaxIterations bounds the reasoning loop per run.
	MaxIterations int
	// Temperature is forwarded to every model call.
	Temperature float64
	// NewMemory selects the context strategy per run.
	NewMemory func() memory.Memory
}

// Loom aggregates the engine collaborators behind one constructor.
type Loom struct {
	store     core.ConversationStore
	states    *conversation.Manager
	transport *stream.Transport
	registry  *registry.Registry
	runner    *runner.Runner
	logger    *logging.LoomLogger
}

// New creates a Loom instance with optional overrides.
func New(optFns ...func(o *Options)) *Loom {
	opts := Options{
		Store:         store.NewInMemory(),
		Model:         model.NewMockModel("mock"),
		Logger:        logging.NewLogger(logging.DefaultLoggerConfig()),
		MaxIterations: runner.DefaultMaxIterations,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(logging.DefaultLoggerConfig())
	}

	states := conversation.NewManager()
	transport := stream.NewTransport(func(o *stream.Options) {
		o.Logger = opts.Logger.WithComponent("stream")
	})
	reg := registry.New(opts.Logger.WithComponent("registry"))
	r := runner.New(opts.Model, opts.Store, states, transport, runner.ResolverFromRegistry(reg), func(o *runner.Options) {
		o.MaxIterations = opts.MaxIterations
		o.Temperature = opts.Temperature
		o.NewMemory = opts.NewMemory
		o.Logger = opts.Logger
	})

	return &Loom{
		store:     opts.Store,
		states:    states,
		transport: transport,
		registry:  reg,
		runner:    r,
		logger:    opts.Logger,
	}
}

// RegisterAgent registers an agent factory under token.
func (l *Loom) RegisterAgent(token string, factory func() any, cfg registry.Config) error {
	return l.registry.RegisterAgent(token, factory, cfg)
}

// RegisterTool registers a tool factory under token.
func (l *Loom) RegisterTool(token string, factory func() tool.Tool, cfg registry.Config) error {
	return l.registry.RegisterTool(token, factory, cfg)
}

// NewConversation creates a conversation bound to the named agent.
func (l *Loom) NewConversation(ctx context.Context, agentToken, userID string) (*core.Conversation, error) {
	return l.store.CreateConversation(ctx, core.Conversation{Agent: agentToken, UserID: userID})
}

// Send appends the user message and starts a run asynchronously, returning
// the placeholder assistant message. Progress arrives over the
// conversation's stream channel.
func (l *Loom) Send(ctx context.Context, conversationID, text string) (*core.Message, error) {
	return l.runner.Start(ctx, conversationID, text)
}

// SendSync sends the message and blocks until the run finishes, returning
// the assistant reply as persisted.
func (l *Loom) SendSync(ctx context.Context, conversationID, text string) (*core.Message, error) {
	placeholder, err := l.runner.Start(ctx, conversationID, text)
	if err != nil {
		return nil, err
	}
	l.runner.Wait(conversationID)

	msgs, err := l.store.Messages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ID == placeholder.ID {
			out := msgs[i].Clone()
			return &out, nil
		}
	}
	return nil, core.ErrMessageNotFound
}

// Cancel stops the active run for a conversation.
func (l *Loom) Cancel(conversationID string) bool { return l.runner.Cancel(conversationID) }

// Subscribe registers sink as the conversation's sole stream channel.
func (l *Loom) Subscribe(conversationID string, sink stream.Sink) {
	l.transport.InitConnection(conversationID, sink)
}

// Server builds the HTTP server hosting this instance on addr.
func (l *Loom) Server(addr string) *server.Server {
	return server.New(addr, l.store, l.states, l.runner, l.transport, func(o *server.Options) {
		o.Logger = l.logger
	})
}

// Registry exposes the plugin registry.
func (l *Loom) Registry() *registry.Registry { return l.registry }

// Store exposes the conversation store.
func (l *Loom) Store() core.ConversationStore { return l.store }

// States exposes the live conversation state manager.
func (l *Loom) States() *conversation.Manager { return l.states }

// Transport exposes the stream transport.
func (l *Loom) Transport() *stream.Transport { return l.transport }
