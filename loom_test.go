package loom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlab/loom/core"
	"github.com/loomlab/loom/model"
	"github.com/loomlab/loom/registry"
	"github.com/loomlab/loom/tool"
)

func TestLoom_SendSyncRoundTrip(t *testing.T) {
	mock := model.NewMockModel("test").Enqueue(
		"Action: get_time\nAction Input: {}",
		"Final Answer: it is late",
	)
	l := New(func(o *Options) { o.Model = mock })

	require.NoError(t, l.RegisterTool("get_time", func() tool.Tool { return tool.NewClockTool() }, registry.Config{}))
	require.NoError(t, l.RegisterAgent("assistant", func() any { return registry.NewBaseAgent() }, registry.Config{
		Name:        "Assistant",
		Description: "You answer briefly.",
		Tools:       []string{"get_time"},
	}))

	ctx := context.Background()
	conv, err := l.NewConversation(ctx, "assistant", "u1")
	require.NoError(t, err)

	reply, err := l.SendSync(ctx, conv.ID, "what time is it?")
	require.NoError(t, err)
	assert.Equal(t, "it is late", reply.Content)
	assert.Equal(t, core.RoleAssistant, reply.Role)
	assert.False(t, reply.MetaBool(core.MetaLoading))
	assert.Equal(t, 2, mock.CallCount())
}

func TestLoom_SendUnknownConversation(t *testing.T) {
	l := New()
	_, err := l.Send(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
}
