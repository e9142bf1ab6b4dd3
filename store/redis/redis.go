// Package redis persists conversations in Redis. Conversations and messages
// are stored as JSON strings; the per-conversation message order lives in a
// list of message ids.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomlab/loom/core"
)

// DefaultKeyPrefix namespaces all keys written by the store.
const DefaultKeyPrefix = "loom:"

// Options configure a Store.
type Options struct {
	// KeyPrefix overrides the key namespace. Empty keeps the default.
	KeyPrefix string
}

// Store is a Redis-backed ConversationStore.
type Store struct {
	client *redis.Client
	prefix string
}

// Config holds connection settings for New.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(cfg Config, optFns ...func(o *Options)) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewFromClient(client, optFns...), nil
}

// NewFromClient wraps an existing client, useful for tests and shared pools.
func NewFromClient(client *redis.Client, optFns ...func(o *Options)) *Store {
	opts := Options{KeyPrefix: DefaultKeyPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: opts.KeyPrefix}
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) conversationKey(id string) string { return s.prefix + "conv:" + id }
func (s *Store) orderKey(conversationID string) string {
	return s.prefix + "msgs:" + conversationID
}
func (s *Store) messageKey(id string) string { return s.prefix + "msg:" + id }

// CreateConversation implements core.ConversationStore.
func (s *Store) CreateConversation(ctx context.Context, conv core.Conversation) (*core.Conversation, error) {
	if conv.ID == "" {
		conv.ID = core.NewID()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation: %w", err)
	}
	if err := s.client.Set(ctx, s.conversationKey(conv.ID), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("store conversation: %w", err)
	}
	out := conv
	return &out, nil
}

// GetConversation implements core.ConversationStore.
func (s *Store) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	data, err := s.client.Get(ctx, s.conversationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	var conv core.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &conv, nil
}

// Messages implements core.ConversationStore.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]core.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	ids, err := s.client.LRange(ctx, s.orderKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load message order: %w", err)
	}
	out := make([]core.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.loadMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, nil
}

// AddMessage implements core.ConversationStore.
func (s *Store) AddMessage(ctx context.Context, conversationID string, role core.Role, content string) (*core.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	msg := core.NewMessage(conversationID, role, content)
	if err := s.saveMessage(ctx, &msg); err != nil {
		return nil, err
	}
	if err := s.client.RPush(ctx, s.orderKey(conversationID), msg.ID).Err(); err != nil {
		return nil, fmt.Errorf("append message order: %w", err)
	}
	out := msg.Clone()
	return &out, nil
}

// UpdateMessage implements core.ConversationStore.
func (s *Store) UpdateMessage(ctx context.Context, messageID string, content string) (*core.Message, error) {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	msg.Content = content
	if err := s.saveMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// UpdateMessageMeta implements core.ConversationStore.
func (s *Store) UpdateMessageMeta(ctx context.Context, messageID string, meta map[string]any) (*core.Message, error) {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	for k, v := range meta {
		msg.SetMeta(k, v)
	}
	if err := s.saveMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// TruncateMessages implements core.ConversationStore.
func (s *Store) TruncateMessages(ctx context.Context, conversationID string, index int) error {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return err
	}
	key := s.orderKey(conversationID)
	dropped, err := s.client.LRange(ctx, key, int64(index+1), -1).Result()
	if err != nil {
		return fmt.Errorf("load message order: %w", err)
	}
	if len(dropped) == 0 {
		return nil
	}
	for _, id := range dropped {
		if err := s.client.Del(ctx, s.messageKey(id)).Err(); err != nil {
			return fmt.Errorf("drop message %s: %w", id, err)
		}
	}
	if index < 0 {
		return s.client.Del(ctx, key).Err()
	}
	return s.client.LTrim(ctx, key, 0, int64(index)).Err()
}

func (s *Store) loadMessage(ctx context.Context, id string) (*core.Message, error) {
	data, err := s.client.Get(ctx, s.messageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	var msg core.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

func (s *Store) saveMessage(ctx context.Context, msg *core.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := s.client.Set(ctx, s.messageKey(msg.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	return nil
}
