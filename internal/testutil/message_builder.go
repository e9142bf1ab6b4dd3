package testutil

import (
	"github.com/loomlab/loom/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder("conv-1").User("hello").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	msg core.Message
}

// NewMessageBuilder creates a builder bound to a conversation id.
func NewMessageBuilder(conversationID string) *MessageBuilder {
	return &MessageBuilder{msg: core.NewMessage(conversationID, core.RoleUser, "")}
}

// ID overrides the auto-generated message id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.msg.ID = id; return b }

// System sets the role to system with the given content (chainable).
func (b *MessageBuilder) System(content string) *MessageBuilder {
	b.msg.Role = core.RoleSystem
	b.msg.Content = content
	return b
}

// User sets the role to user with the given content (chainable).
func (b *MessageBuilder) User(content string) *MessageBuilder {
	b.msg.Role = core.RoleUser
	b.msg.Content = content
	return b
}

// Assistant sets the role to assistant with the given content (chainable).
func (b *MessageBuilder) Assistant(content string) *MessageBuilder {
	b.msg.Role = core.RoleAssistant
	b.msg.Content = content
	return b
}

// Meta sets a metadata key (chainable).
func (b *MessageBuilder) Meta(key string, value any) *MessageBuilder {
	b.msg.SetMeta(key, value)
	return b
}

// Loading flags the message as a run placeholder (chainable).
func (b *MessageBuilder) Loading() *MessageBuilder {
	b.msg.SetMeta(core.MetaLoading, true)
	return b
}

// Build returns the constructed message.
func (b *MessageBuilder) Build() core.Message { return b.msg }

// History builds an alternating user/assistant message list rooted at an
// optional system prompt. Contents are consumed in order starting with a
// user turn.
func History(conversationID, system string, turns ...string) []core.Message {
	var out []core.Message
	if system != "" {
		out = append(out, NewMessageBuilder(conversationID).System(system).Build())
	}
	for i, content := range turns {
		b := NewMessageBuilder(conversationID)
		if i%2 == 0 {
			b.User(content)
		} else {
			b.Assistant(content)
		}
		out = append(out, b.Build())
	}
	return out
}
