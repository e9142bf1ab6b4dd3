package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlab/loom/core"
)

func newConversation(t *testing.T, s *InMemory) *core.Conversation {
	t.Helper()
	conv, err := s.CreateConversation(context.Background(), core.Conversation{
		UserID: "u1",
		Agent:  "assistant",
	})
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	require.False(t, conv.CreatedAt.IsZero())
	return conv
}

func TestInMemory_GetConversationUnknown(t *testing.T) {
	s := NewInMemory()
	_, err := s.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
}

func TestInMemory_MessageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	conv := newConversation(t, s)

	first, err := s.AddMessage(ctx, conv.ID, core.RoleUser, "hello")
	require.NoError(t, err)
	second, err := s.AddMessage(ctx, conv.ID, core.RoleAssistant, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	updated, err := s.UpdateMessage(ctx, second.ID, "hi there")
	require.NoError(t, err)
	assert.Equal(t, "hi there", updated.Content)

	flagged, err := s.UpdateMessageMeta(ctx, second.ID, map[string]any{core.MetaLoading: false})
	require.NoError(t, err)
	assert.False(t, flagged.MetaBool(core.MetaLoading))

	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi there", msgs[1].Content)
}

func TestInMemory_UpdateUnknownMessage(t *testing.T) {
	s := NewInMemory()
	_, err := s.UpdateMessage(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, core.ErrMessageNotFound)
}

func TestInMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	conv := newConversation(t, s)

	msg, err := s.AddMessage(ctx, conv.ID, core.RoleUser, "original")
	require.NoError(t, err)
	msg.Content = "mutated"

	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", msgs[0].Content)
}

func TestInMemory_Truncate(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	conv := newConversation(t, s)

	for _, content := range []string{"a", "b", "c", "d"} {
		_, err := s.AddMessage(ctx, conv.ID, core.RoleUser, content)
		require.NoError(t, err)
	}

	require.NoError(t, s.TruncateMessages(ctx, conv.ID, 1))
	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[1].Content)

	dropped := msgs[1].ID
	require.NoError(t, s.TruncateMessages(ctx, conv.ID, -1))
	msgs, err = s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = s.UpdateMessage(ctx, dropped, "x")
	assert.ErrorIs(t, err, core.ErrMessageNotFound)
}

func TestInMemory_TruncateBeyondEndIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	conv := newConversation(t, s)
	_, err := s.AddMessage(ctx, conv.ID, core.RoleUser, "a")
	require.NoError(t, err)

	require.NoError(t, s.TruncateMessages(ctx, conv.ID, 5))
	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
