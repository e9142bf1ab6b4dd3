package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlab/loom/core"
	"github.com/loomlab/loom/internal/testutil"
)

func turns() []core.Message {
	return testutil.History("c1", "You are helpful",
		"turn 0", "turn 1", "turn 2", "turn 3", "turn 4", "turn 5")
}

func TestBuffer_ReturnsFullHistory(t *testing.T) {
	b := NewBuffer()
	b.SetConversationID("c1")
	b.Store(turns())

	got := b.Summarize()

	require.Len(t, got, 7)
	assert.Equal(t, "You are helpful", got[0].Content)
	assert.Equal(t, "turn 5", got[6].Content)
}

func TestBuffer_SummarizeCopies(t *testing.T) {
	b := NewBuffer()
	b.Store(turns())

	got := b.Summarize()
	got[0].Content = "mutated"

	assert.Equal(t, "You are helpful", b.Summarize()[0].Content)
}

func TestWindow_KeepsSystemAndTail(t *testing.T) {
	w := NewWindow(2)
	w.Store(turns())

	got := w.Summarize()

	require.Len(t, got, 3)
	assert.Equal(t, core.RoleSystem, got[0].Role)
	assert.Equal(t, "turn 4", got[1].Content)
	assert.Equal(t, "turn 5", got[2].Content)
}

func TestWindow_ShorterHistoryUntouched(t *testing.T) {
	w := NewWindow(50)
	w.Store(turns())

	assert.Len(t, w.Summarize(), 7)
}

func TestFocus_SystemPlusLastUser(t *testing.T) {
	f := NewFocus()
	f.Store(turns())

	got := f.Summarize()

	require.Len(t, got, 2)
	assert.Equal(t, core.RoleSystem, got[0].Role)
	assert.Equal(t, core.RoleUser, got[1].Role)
	assert.Equal(t, "turn 4", got[1].Content)
}
