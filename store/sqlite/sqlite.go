// Package sqlite persists conversations in SQLite through GORM. It is the
// zero-dependency durable backend for single-node deployments.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/loomlab/loom/core"
)

type conversationRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"index;size:64"`
	Agent     string `gorm:"size:128"`
	Title     string
	CreatedAt time.Time
}

func (conversationRecord) TableName() string { return "conversations" }

type messageRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	ConversationID string `gorm:"index;size:64"`
	Seq            int64  `gorm:"index"`
	Role           string `gorm:"size:32"`
	Content        string
	Meta           string
	CreatedAt      time.Time
}

func (messageRecord) TableName() string { return "messages" }

// Store is a SQLite-backed ConversationStore.
type Store struct {
	db *gorm.DB
}

// New opens the database at path and migrates the schema. Use ":memory:"
// for an ephemeral database.
func New(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer, and a pooled :memory: handle would give each
	// connection its own database.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return NewFromDB(db)
}

// NewFromDB wraps an existing GORM handle and migrates the schema.
func NewFromDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&conversationRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateConversation implements core.ConversationStore.
func (s *Store) CreateConversation(ctx context.Context, conv core.Conversation) (*core.Conversation, error) {
	if conv.ID == "" {
		conv.ID = core.NewID()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	rec := conversationRecord{
		ID:        conv.ID,
		UserID:    conv.UserID,
		Agent:     conv.Agent,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	out := conv
	return &out, nil
}

// GetConversation implements core.ConversationStore.
func (s *Store) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	var rec conversationRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return &core.Conversation{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Agent:     rec.Agent,
		Title:     rec.Title,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// Messages implements core.ConversationStore.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]core.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	var recs []messageRecord
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq asc").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	out := make([]core.Message, 0, len(recs))
	for _, rec := range recs {
		msg, err := toMessage(rec)
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

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&messageRecord{}).
			Where("conversation_id = ?", conversationID).
			Select("coalesce(max(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		rec, err := toRecord(msg, maxSeq+1)
		if err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	out := msg.Clone()
	return &out, nil
}

// UpdateMessage implements core.ConversationStore.
func (s *Store) UpdateMessage(ctx context.Context, messageID string, content string) (*core.Message, error) {
	return s.mutate(ctx, messageID, func(msg *core.Message) {
		msg.Content = content
	})
}

// UpdateMessageMeta implements core.ConversationStore.
func (s *Store) UpdateMessageMeta(ctx context.Context, messageID string, meta map[string]any) (*core.Message, error) {
	return s.mutate(ctx, messageID, func(msg *core.Message) {
		for k, v := range meta {
			msg.SetMeta(k, v)
		}
	})
}

func (s *Store) mutate(ctx context.Context, messageID string, apply func(msg *core.Message)) (*core.Message, error) {
	var out *core.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec messageRecord
		err := tx.First(&rec, "id = ?", messageID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		msg, err := toMessage(rec)
		if err != nil {
			return err
		}
		apply(msg)
		updated, err := toRecord(*msg, rec.Seq)
		if err != nil {
			return err
		}
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		out = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TruncateMessages implements core.ConversationStore.
func (s *Store) TruncateMessages(ctx context.Context, conversationID string, index int) error {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seqs []int64
		if err := tx.Model(&messageRecord{}).
			Where("conversation_id = ?", conversationID).
			Order("seq asc").
			Pluck("seq", &seqs).Error; err != nil {
			return err
		}
		if index >= len(seqs)-1 {
			return nil
		}
		cutoff := int64(0)
		if index >= 0 {
			cutoff = seqs[index]
		}
		return tx.
			Where("conversation_id = ? AND seq > ?", conversationID, cutoff).
			Delete(&messageRecord{}).Error
	})
}

func toRecord(msg core.Message, seq int64) (*messageRecord, error) {
	meta := ""
	if len(msg.Meta) > 0 {
		data, err := json.Marshal(msg.Meta)
		if err != nil {
			return nil, fmt.Errorf("marshal message meta: %w", err)
		}
		meta = string(data)
	}
	return &messageRecord{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Seq:            seq,
		Role:           string(msg.Role),
		Content:        msg.Content,
		Meta:           meta,
		CreatedAt:      msg.CreatedAt,
	}, nil
}

func toMessage(rec messageRecord) (*core.Message, error) {
	msg := core.Message{
		ID:             rec.ID,
		ConversationID: rec.ConversationID,
		Role:           core.Role(rec.Role),
		Content:        rec.Content,
		CreatedAt:      rec.CreatedAt,
	}
	if rec.Meta != "" {
		if err := json.Unmarshal([]byte(rec.Meta), &msg.Meta); err != nil {
			return nil, fmt.Errorf("decode message meta: %w", err)
		}
	}
	return &msg, nil
}
