package runner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlab/loom/conversation"
	"github.com/loomlab/loom/core"
	"github.com/loomlab/loom/model"
	"github.com/loomlab/loom/store"
	"github.com/loomlab/loom/stream"
	"github.com/loomlab/loom/tool"
)

type capturingSink struct {
	mu     sync.Mutex
	events []stream.Event
}

func (s *capturingSink) Write(ctx context.Context, frame []byte) error {
	var ev stream.Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return err
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *capturingSink) Close() error { return nil }

func (s *capturingSink) byType(t stream.EventType) []stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stream.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type staticAgent struct {
	name        string
	description string
	tools       []tool.Tool
}

func (a *staticAgent) Name() string        { return a.name }
func (a *staticAgent) Description() string { return a.description }
func (a *staticAgent) Tools() []tool.Tool  { return a.tools }

type staticResolver struct{ agent Agent }

func (r *staticResolver) ResolveAgent(token string) (Agent, error) {
	if r.agent == nil {
		return nil, errors.New("no agent")
	}
	return r.agent, nil
}

func echoTool() tool.Tool {
	return tool.NewFunctionTool("echo", "echoes its text argument", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []any{"text"},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return args["text"], nil
	})
}

type harness struct {
	model     *model.MockModel
	store     *store.InMemory
	states    *conversation.Manager
	transport *stream.Transport
	runner    *Runner
	sink      *capturingSink
	conv      *core.Conversation
}

func newHarness(t *testing.T, agent Agent, optFns ...func(o *Options)) *harness {
	t.Helper()
	h := &harness{
		model:     model.NewMockModel("test"),
		store:     store.NewInMemory(),
		states:    conversation.NewManager(),
		transport: stream.NewTransport(),
		sink:      &capturingSink{},
	}
	h.runner = New(h.model, h.store, h.states, h.transport, &staticResolver{agent: agent}, optFns...)

	conv, err := h.store.CreateConversation(context.Background(), core.Conversation{Agent: "assistant"})
	require.NoError(t, err)
	h.conv = conv
	h.transport.InitConnection(conv.ID, h.sink)
	return h
}

func (h *harness) startAndWait(t *testing.T, text string) *core.Message {
	t.Helper()
	placeholder, err := h.runner.Start(context.Background(), h.conv.ID, text)
	require.NoError(t, err)
	h.runner.Wait(h.conv.ID)
	return placeholder
}

func TestRunner_FinalAnswerFirstIteration(t *testing.T) {
	agent := &staticAgent{name: "assistant", description: "You are helpful."}
	h := newHarness(t, agent)
	h.model.Enqueue("Final Answer: hello")

	placeholder := h.startAndWait(t, "hi")

	msgs, err := h.store.Messages(context.Background(), h.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, placeholder.ID, msgs[1].ID)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.False(t, msgs[1].MetaBool(core.MetaLoading))
	assert.NotNil(t, msgs[1].Meta[core.MetaSteps])

	assert.Equal(t, 1, h.model.CallCount())
	deltas := h.sink.byType(stream.EventDelta)
	require.NotEmpty(t, deltas)
	assert.Equal(t, "hello", deltas[len(deltas)-1].Content)
	assert.Len(t, h.sink.byType(stream.EventDone), 1)
	assert.Empty(t, h.sink.byType(stream.EventError))
}

func TestRunner_SystemPromptAndStopSequence(t *testing.T) {
	agent := &staticAgent{name: "assistant", description: "You are helpful.", tools: []tool.Tool{echoTool()}}
	h := newHarness(t, agent)
	h.model.Enqueue("Final Answer: done")

	h.startAndWait(t, "hi")

	calls := h.model.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"Observation:"}, calls[0].Stop)
	require.NotEmpty(t, calls[0].Messages)
	system := calls[0].Messages[0]
	assert.Equal(t, core.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "You are helpful.")
	assert.Contains(t, system.Content, "echo")
	last := calls[0].Messages[len(calls[0].Messages)-1]
	assert.Equal(t, "hi", last.Content, "loading placeholder stays out of the prompt")
}

func TestRunner_ToolLoop(t *testing.T) {
	agent := &staticAgent{name: "assistant", tools: []tool.Tool{echoTool()}}
	h := newHarness(t, agent)
	h.model.Enqueue(
		"Action: echo\nAction Input: {\"text\": \"ping\"}",
		"Final Answer: pong",
	)

	h.startAndWait(t, "echo ping back")

	calls := h.model.Calls()
	require.Len(t, calls, 2)
	second := calls[1].Messages
	require.NotEmpty(t, second)
	assert.Equal(t, "Observation: ping", second[len(second)-1].Content)
	assert.Equal(t, core.RoleUser, second[len(second)-1].Role)

	msgs, err := h.store.Messages(context.Background(), h.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "pong", msgs[1].Content)
}

func TestRunner_UnknownToolRecovery(t *testing.T) {
	agent := &staticAgent{name: "assistant", tools: []tool.Tool{echoTool()}}
	h := newHarness(t, agent)
	h.model.Enqueue(
		"Action: missing\nAction Input: {}",
		"Final Answer: recovered",
	)

	h.startAndWait(t, "go")

	calls := h.model.Calls()
	require.Len(t, calls, 2)
	second := calls[1].Messages
	obs := second[len(second)-1].Content
	assert.Contains(t, obs, `Tool "missing" not found`)
	assert.Contains(t, obs, "echo")

	msgs, _ := h.store.Messages(context.Background(), h.conv.ID)
	assert.Equal(t, "recovered", msgs[1].Content)
	assert.Len(t, h.sink.byType(stream.EventDone), 1)
}

func TestRunner_ParseErrorFeedsObservation(t *testing.T) {
	agent := &staticAgent{name: "assistant"}
	h := newHarness(t, agent)
	h.model.Enqueue(
		"complete gibberish with no markers",
		"Final Answer: ok",
	)

	h.startAndWait(t, "go")

	calls := h.model.Calls()
	require.Len(t, calls, 2)
	second := calls[1].Messages
	obs := second[len(second)-1].Content
	assert.Contains(t, obs, "Observation:")
	assert.Contains(t, obs, "Unrecognized response structure")
}

func TestRunner_IterationBudgetExhausted(t *testing.T) {
	agent := &staticAgent{name: "assistant"}
	h := newHarness(t, agent, func(o *Options) { o.MaxIterations = 2 })
	h.model.SetFallback("Thought: still thinking")

	h.startAndWait(t, "go")

	assert.Equal(t, 2, h.model.CallCount())
	msgs, _ := h.store.Messages(context.Background(), h.conv.ID)
	assert.Equal(t, ExhaustedMessage, msgs[1].Content)
	assert.False(t, msgs[1].MetaBool(core.MetaLoading))
	assert.Len(t, h.sink.byType(stream.EventDone), 1)
	assert.Empty(t, h.sink.byType(stream.EventError))
}

func TestRunner_EmptyCompletionTerminates(t *testing.T) {
	agent := &staticAgent{name: "assistant"}
	h := newHarness(t, agent)

	h.startAndWait(t, "go")

	assert.Equal(t, 1, h.model.CallCount())
	msgs, _ := h.store.Messages(context.Background(), h.conv.ID)
	assert.Equal(t, NoResponseMessage, msgs[1].Content)
	assert.Len(t, h.sink.byType(stream.EventDone), 1)
}

func TestRunner_ModelFailure(t *testing.T) {
	agent := &staticAgent{name: "assistant"}
	h := newHarness(t, agent)
	h.model.Fail(errors.New("upstream unavailable"))

	h.startAndWait(t, "go")

	msgs, _ := h.store.Messages(context.Background(), h.conv.ID)
	assert.Empty(t, msgs[1].Content)
	assert.True(t, msgs[1].MetaBool(core.MetaError))
	assert.False(t, msgs[1].MetaBool(core.MetaLoading))

	failures := h.sink.byType(stream.EventError)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error, "upstream unavailable")
	assert.Empty(t, h.sink.byType(stream.EventDone))
}

func TestRunner_UnknownConversation(t *testing.T) {
	agent := &staticAgent{name: "assistant"}
	h := newHarness(t, agent)
	_, err := h.runner.Start(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
}

// gatedModel blocks every generation until released, then settles with the
// scripted text. The pending counter lets tests wait for abandoned
// generations to drain before releasing.
type gatedModel struct {
	release chan string
	pending atomic.Int32
}

func (g *gatedModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	g.pending.Add(1)
	go func() {
		defer g.pending.Add(-1)
		defer close(respCh)
		defer close(errCh)
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case text := <-g.release:
			respCh <- model.Response{ID: core.NewID(), Content: text, FinishReason: "stop"}
		}
	}()
	return respCh, errCh
}

func (g *gatedModel) Info() model.Info { return model.Info{Name: "gated", Provider: "mock"} }

func TestRunner_CancelReplacesActiveRun(t *testing.T) {
	agent := &staticAgent{name: "assistant"}
	gated := &gatedModel{release: make(chan string)}

	st := store.NewInMemory()
	states := conversation.NewManager()
	transport := stream.NewTransport()
	sink := &capturingSink{}
	r := New(gated, st, states, transport, &staticResolver{agent: agent})

	conv, err := st.CreateConversation(context.Background(), core.Conversation{Agent: "assistant"})
	require.NoError(t, err)
	transport.InitConnection(conv.ID, sink)

	first, err := r.Start(context.Background(), conv.ID, "first")
	require.NoError(t, err)
	assert.True(t, r.Running(conv.ID))

	second, err := r.Start(context.Background(), conv.ID, "second")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// The first run was cancelled; its placeholder loses the loading flag.
	assert.Eventually(t, func() bool {
		msgs, err := st.Messages(context.Background(), conv.ID)
		if err != nil {
			return false
		}
		for _, msg := range msgs {
			if msg.ID == first.ID {
				return !msg.MetaBool(core.MetaLoading)
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	// Let the abandoned generation notice its cancelled context before
	// releasing, so the value reaches the live run.
	assert.Eventually(t, func() bool { return gated.pending.Load() == 1 }, time.Second, 10*time.Millisecond)

	gated.release <- "Final Answer: from the second run"
	r.Wait(conv.ID)

	msgs, err := st.Messages(context.Background(), conv.ID)
	require.NoError(t, err)
	var secondStored *core.Message
	for i := range msgs {
		if msgs[i].ID == second.ID {
			secondStored = &msgs[i]
		}
	}
	require.NotNil(t, secondStored)
	assert.Equal(t, "from the second run", secondStored.Content)
	// One clean terminal event per run: the cancelled first and the
	// completed second.
	assert.Len(t, sink.byType(stream.EventDone), 2)
	assert.False(t, r.Running(conv.ID))
}

func TestRunner_CancelWithoutActiveRun(t *testing.T) {
	agent := &staticAgent{name: "assistant"}
	h := newHarness(t, agent)
	assert.False(t, h.runner.Cancel(h.conv.ID))
}

func TestRunner_BranchEditDropsLateAnswer(t *testing.T) {
	agent := &staticAgent{name: "assistant"}
	gated := &gatedModel{release: make(chan string)}

	st := store.NewInMemory()
	states := conversation.NewManager()
	transport := stream.NewTransport()
	sink := &capturingSink{}
	r := New(gated, st, states, transport, &staticResolver{agent: agent})

	conv, err := st.CreateConversation(context.Background(), core.Conversation{Agent: "assistant"})
	require.NoError(t, err)
	transport.InitConnection(conv.ID, sink)

	placeholder, err := r.Start(context.Background(), conv.ID, "hello")
	require.NoError(t, err)

	// The user rewinds the conversation while the model is still working.
	state, ok := states.Get(conv.ID)
	require.True(t, ok)
	require.True(t, state.TimeTravel(0))

	gated.release <- "Final Answer: too late"
	r.Wait(conv.ID)

	msgs, err := st.Messages(context.Background(), conv.ID)
	require.NoError(t, err)
	for _, msg := range msgs {
		if msg.ID == placeholder.ID {
			assert.Empty(t, msg.Content, "late answer must not land on an abandoned node")
		}
	}
	for _, ev := range sink.byType(stream.EventDelta) {
		assert.NotEqual(t, "too late", ev.Content)
	}
	assert.Len(t, sink.byType(stream.EventDone), 1)
}
