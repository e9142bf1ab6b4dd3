// Package store provides conversation persistence backends. The in-memory
// implementation here backs tests and single-process deployments; the redis
// and sqlite subpackages persist across restarts.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/loomlab/loom/core"
)

// InMemory is a map-backed ConversationStore. Safe for concurrent use. All
// returned values are copies; mutating them does not affect stored state.
type InMemory struct {
	mu            sync.RWMutex
	conversations map[string]core.Conversation
	messages      map[string][]core.Message
	byMessageID   map[string]string
}

// NewInMemory constructs an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		conversations: make(map[string]core.Conversation),
		messages:      make(map[string][]core.Message),
		byMessageID:   make(map[string]string),
	}
}

// CreateConversation stores the conversation, assigning id and timestamp
// when absent.
func (s *InMemory) CreateConversation(ctx context.Context, conv core.Conversation) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ID == "" {
		conv.ID = core.NewID()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	s.conversations[conv.ID] = conv
	out := conv
	return &out, nil
}

// GetConversation returns the conversation or ErrConversationNotFound.
func (s *InMemory) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, core.ErrConversationNotFound
	}
	out := conv
	return &out, nil
}

// Messages returns the message log in insertion order.
func (s *InMemory) Messages(ctx context.Context, conversationID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, core.ErrConversationNotFound
	}
	log := s.messages[conversationID]
	out := make([]core.Message, 0, len(log))
	for _, msg := range log {
		out = append(out, msg.Clone())
	}
	return out, nil
}

// AddMessage appends a new message with a fresh id and timestamp.
func (s *InMemory) AddMessage(ctx context.Context, conversationID string, role core.Role, content string) (*core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, core.ErrConversationNotFound
	}
	msg := core.NewMessage(conversationID, role, content)
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.byMessageID[msg.ID] = conversationID
	out := msg.Clone()
	return &out, nil
}

// UpdateMessage replaces a message's content.
func (s *InMemory) UpdateMessage(ctx context.Context, messageID string, content string) (*core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.findLocked(messageID)
	if err != nil {
		return nil, err
	}
	msg.Content = content
	out := msg.Clone()
	return &out, nil
}

// UpdateMessageMeta merges the given keys into a message's metadata.
func (s *InMemory) UpdateMessageMeta(ctx context.Context, messageID string, meta map[string]any) (*core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.findLocked(messageID)
	if err != nil {
		return nil, err
	}
	for k, v := range meta {
		msg.SetMeta(k, v)
	}
	out := msg.Clone()
	return &out, nil
}

// TruncateMessages drops every message after index, keeping [0..index].
// Index -1 clears the log.
func (s *InMemory) TruncateMessages(ctx context.Context, conversationID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.messages[conversationID]
	if !ok {
		if _, exists := s.conversations[conversationID]; !exists {
			return core.ErrConversationNotFound
		}
		return nil
	}
	if index >= len(log)-1 {
		return nil
	}
	if index < -1 {
		index = -1
	}
	for _, msg := range log[index+1:] {
		delete(s.byMessageID, msg.ID)
	}
	s.messages[conversationID] = log[:index+1]
	return nil
}

func (s *InMemory) findLocked(messageID string) (*core.Message, error) {
	conversationID, ok := s.byMessageID[messageID]
	if !ok {
		return nil, core.ErrMessageNotFound
	}
	log := s.messages[conversationID]
	for i := range log {
		if log[i].ID == messageID {
			return &log[i], nil
		}
	}
	return nil, core.ErrMessageNotFound
}
