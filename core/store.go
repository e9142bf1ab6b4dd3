package core

import (
	"context"
	"errors"
	"time"
)

// Store errors shared by all persistence implementations.
var (
	// ErrConversationNotFound is returned when a conversation id is unknown.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound is returned when a message id is unknown.
	ErrMessageNotFound = errors.New("message not found")
)

// Conversation is the persisted container a run operates on: an identity, the
// owning user, and the registry token of the agent configured to answer.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Agent     string    `json:"agent"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationStore is the persistence collaborator consumed by the runner.
// The core calls these operations; storage layout, schema and transactions
// are the implementation's concern.
//
// Contract:
//   - GetConversation returns ErrConversationNotFound for unknown ids
//   - Messages returns the full message log in insertion order
//   - AddMessage assigns id and timestamp and returns the stored message
//   - UpdateMessage / UpdateMessageMeta return the message as stored
//   - TruncateMessages drops every message after index keeping [0..index]
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	AddMessage(ctx context.Context, conversationID string, role Role, content string) (*Message, error)
	UpdateMessage(ctx context.Context, messageID string, content string) (*Message, error)
	UpdateMessageMeta(ctx context.Context, messageID string, meta map[string]any) (*Message, error)
	TruncateMessages(ctx context.Context, conversationID string, index int) error
}
