package conversation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlab/loom/core"
)

func msg(content string) core.Message {
	return core.NewMessage("conv-1", core.RoleUser, content)
}

func buildState(n int) *State {
	msgs := make([]core.Message, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, msg(fmt.Sprintf("m%d", i)))
	}
	return New("conv-1", msgs)
}

func TestNew_EmptyState(t *testing.T) {
	s := New("conv-1", nil)

	assert.Nil(t, s.Current())
	assert.Nil(t, s.Head())
	assert.Zero(t, s.Len())
	assert.False(t, s.UpdateCurrentMessage("x"))
	assert.Nil(t, s.Pop())
}

func TestNew_BuildsChainInOrder(t *testing.T) {
	s := buildState(3)

	nodes := s.AllNodes()
	require.Len(t, nodes, 3)
	for i, n := range nodes {
		assert.Equal(t, i, n.MessageIndex)
	}
	assert.Equal(t, nodes[2], s.Current())
	assert.Equal(t, nodes[0], s.Head())
}

func TestAddMessage_AdvancesCurrent(t *testing.T) {
	s := New("conv-1", nil)

	first := s.AddMessage(msg("hello"))
	assert.Equal(t, 0, first.MessageIndex)
	assert.Equal(t, first, s.Head())
	assert.Equal(t, first, s.Current())

	second := s.AddMessage(msg("world"))
	assert.Equal(t, 1, second.MessageIndex)
	assert.Equal(t, second, first.Next)
	assert.Equal(t, second, s.Current())
}

func TestTimeTravel_TruncatesLogAndChain(t *testing.T) {
	s := buildState(5)

	require.True(t, s.TimeTravel(2))

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 2, s.Current().MessageIndex)
	assert.Nil(t, s.Current().Next)
	assert.Len(t, s.AllNodes(), 3)
}

func TestTimeTravel_OutOfBounds(t *testing.T) {
	s := buildState(3)

	assert.False(t, s.TimeTravel(-1))
	assert.False(t, s.TimeTravel(3))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 2, s.Current().MessageIndex)
}

func TestAddMessage_AfterTimeTravelBranches(t *testing.T) {
	s := buildState(4)
	old := s.Messages()

	require.True(t, s.TimeTravel(1))
	branch := s.AddMessage(msg("branched"))

	got := s.Messages()
	require.Len(t, got, 3)
	assert.Equal(t, old[0].ID, got[0].ID)
	assert.Equal(t, old[1].ID, got[1].ID)
	assert.Equal(t, "branched", got[2].Content)

	// No node from the pre-travel forward branch is reachable from head.
	for _, n := range s.AllNodes() {
		assert.LessOrEqual(t, n.MessageIndex, branch.MessageIndex)
	}
	assert.Equal(t, branch, s.Current())
}

func TestTimeTravel_NearestPredecessorPolicy(t *testing.T) {
	s := buildState(3)

	// Pop then add creates a chain whose last node skips an index: the chain
	// covers indexes 0, 1, 3 over a four message log.
	require.NotNil(t, s.Pop())
	s.AddMessage(msg("skip"))
	require.Equal(t, 4, s.Len())

	// Index 2 has no exact node; the node with the greatest index <= 2 wins
	// even though the node at index 3 is nearer by absolute distance.
	require.True(t, s.TimeTravel(2))
	assert.Equal(t, 1, s.Current().MessageIndex)
	assert.Equal(t, 2, s.Len())
}

func TestPop_AtHeadReturnsNilWithoutMutation(t *testing.T) {
	s := buildState(1)

	before := s.Messages()
	assert.Nil(t, s.Pop())
	assert.Equal(t, before, s.Messages())
	assert.Equal(t, s.Head(), s.Current())
}

func TestPop_MovesCurrentBack(t *testing.T) {
	s := buildState(3)

	prev := s.Pop()
	require.NotNil(t, prev)
	assert.Equal(t, 1, prev.MessageIndex)
	assert.Equal(t, prev, s.Current())
	// Pop moves the pointer only; the log is untouched.
	assert.Equal(t, 3, s.Len())
}

func TestUpdateCurrentMessage_MutatesInPlace(t *testing.T) {
	s := buildState(2)
	before := s.Messages()

	require.True(t, s.UpdateCurrentMessage("edited"))

	after := s.Messages()
	assert.Equal(t, "edited", after[1].Content)
	assert.Equal(t, before[1].ID, after[1].ID)
	assert.Equal(t, before[1].Role, after[1].Role)
	assert.Equal(t, before[0].Content, after[0].Content)
}

func TestTimeTravelToMessageID(t *testing.T) {
	s := buildState(4)
	target := s.Messages()[1]

	assert.False(t, s.TimeTravelToMessageID("nope"))
	assert.Equal(t, 4, s.Len())

	require.True(t, s.TimeTravelToMessageID(target.ID))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.Current().MessageIndex)
}

func TestNewMessagesForNode(t *testing.T) {
	s := buildState(3)
	nodes := s.AllNodes()

	head := s.NewMessagesForNode(nodes[0])
	require.Len(t, head, 1)
	assert.Equal(t, "m0", head[0].Content)

	mid := s.NewMessagesForNode(nodes[1])
	require.Len(t, mid, 1)
	assert.Equal(t, "m1", mid[0].Content)

	assert.Nil(t, s.NewMessagesForNode(nil))
}

func TestNewMessagesForNode_SpansGap(t *testing.T) {
	s := buildState(2)
	require.NotNil(t, s.Pop())
	node := s.AddMessage(msg("tail"))
	require.Equal(t, 2, node.MessageIndex)

	// Predecessor covers index 0, so the slice spans the gap left by the
	// popped node.
	got := s.NewMessagesForNode(node)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].Content)
	assert.Equal(t, "tail", got[1].Content)
}

func TestInvariant_LengthTracksCurrentAfterTravel(t *testing.T) {
	s := buildState(6)

	for _, idx := range []int{4, 2, 0} {
		require.True(t, s.TimeTravel(idx))
		assert.Equal(t, idx+1, s.Len())
		assert.Equal(t, idx, s.Current().MessageIndex)
	}
}
