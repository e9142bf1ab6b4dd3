// Package memory defines the pluggable strategy deciding what context a
// model actually sees. The runner only ever goes through Summarize, so the
// strategy can be swapped without touching the reasoning loop.
package memory

import (
	"sync"

	"github.com/loomlab/loom/core"
)

// Memory supplies the working context for a run. Store appends turns;
// Summarize returns the message list handed to the model, which may be the
// full history, a rolling window, or a reduction.
type Memory interface {
	SetConversationID(id string)
	SetUserID(id string)
	Store(messages []core.Message)
	Summarize() []core.Message
}

// Buffer keeps the entire history and returns it unchanged. Safe for
// concurrent use.
type Buffer struct {
	mu             sync.RWMutex
	conversationID string
	userID         string
	messages       []core.Message
}

// NewBuffer constructs an empty full-history memory.
func NewBuffer() *Buffer { return &Buffer{} }

// SetConversationID records the owning conversation.
func (b *Buffer) SetConversationID(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversationID = id
}

// SetUserID records the owning user.
func (b *Buffer) SetUserID(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userID = id
}

// Store appends messages to the history.
func (b *Buffer) Store(messages []core.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, msg := range messages {
		b.messages = append(b.messages, msg.Clone())
	}
}

// Summarize returns a copy of the full history.
func (b *Buffer) Summarize() []core.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Message, 0, len(b.messages))
	for _, msg := range b.messages {
		out = append(out, msg.Clone())
	}
	return out
}

// Window returns the leading system messages plus the last N non-system
// turns, bounding prompt growth for long conversations.
type Window struct {
	*Buffer
	size int
}

// NewWindow constructs a rolling-window memory keeping the last size turns.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 10
	}
	return &Window{Buffer: NewBuffer(), size: size}
}

// Summarize returns system preamble plus the last size non-system messages.
func (w *Window) Summarize() []core.Message {
	all := w.Buffer.Summarize()

	var system, rest []core.Message
	for _, msg := range all {
		if msg.Role == core.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(rest) > w.size {
		rest = rest[len(rest)-w.size:]
	}
	return append(system, rest...)
}

// Focus reduces the context to the system preamble and the most recent user
// turn, the cheapest strategy for stateless question answering.
type Focus struct {
	*Buffer
}

// NewFocus constructs a system-plus-last-user reduction memory.
func NewFocus() *Focus { return &Focus{Buffer: NewBuffer()} }

// Summarize returns the system messages and the last user message only.
func (f *Focus) Summarize() []core.Message {
	all := f.Buffer.Summarize()

	var out []core.Message
	for _, msg := range all {
		if msg.Role == core.RoleSystem {
			out = append(out, msg)
		}
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Role == core.RoleUser {
			out = append(out, all[i])
			break
		}
	}
	return out
}
