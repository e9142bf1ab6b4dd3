package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message within a conversation.
type Role string

const (
	// RoleSystem marks instructions injected by the platform.
	RoleSystem Role = "system"
	// RoleUser marks an inbound human turn.
	RoleUser Role = "user"
	// RoleAssistant marks a turn produced by an agent run.
	RoleAssistant Role = "assistant"
)

// Well-known metadata keys. Meta is an open bag; these are the keys the core
// itself reads or writes.
const (
	// MetaLoading flags a placeholder assistant message whose run is still
	// producing content.
	MetaLoading = "loading"
	// MetaStreaming flags a message whose content is being mutated by a live run.
	MetaStreaming = "streaming"
	// MetaError flags a message whose run ended in a model failure.
	MetaError = "error"
	// MetaSteps carries the structured reasoning trace accumulated by a run.
	MetaSteps = "steps"
)

// Message is one turn in a conversation. Content is mutable while a run is
// streaming into it; Meta is an open bag for loading/error flags and the
// structured step trace.
//
// Contract:
//   - ID is stable for the lifetime of the message
//   - Content may change until the owning run terminates
//   - Meta values must be JSON-serializable
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Meta           map[string]any `json:"meta,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewMessage constructs a message with a generated id and UTC timestamp.
func NewMessage(conversationID string, role Role, content string) Message {
	return Message{
		ID:             NewID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Meta:           map[string]any{},
		CreatedAt:      time.Now().UTC(),
	}
}

// SetMeta assigns a metadata key, allocating the bag lazily.
func (m *Message) SetMeta(key string, value any) {
	if m.Meta == nil {
		m.Meta = map[string]any{}
	}
	m.Meta[key] = value
}

// MetaBool reads a boolean metadata flag, treating absence as false.
func (m *Message) MetaBool(key string) bool {
	if m.Meta == nil {
		return false
	}
	v, ok := m.Meta[key].(bool)
	return ok && v
}

// Clone returns a deep copy safe for independent mutation.
func (m Message) Clone() Message {
	c := m
	if m.Meta != nil {
		c.Meta = make(map[string]any, len(m.Meta))
		for k, v := range m.Meta {
			c.Meta[k] = v
		}
	}
	return c
}

// NewID generates a unique identifier for messages, conversations and runs.
func NewID() string { return uuid.NewString() }
