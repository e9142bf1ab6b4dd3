// Package conversation implements the versioned message timeline a run
// operates on. The message log is covered by a singly linked chain of
// version nodes; appending after time-travel cuts the old forward branch,
// which is how editing an earlier turn produces an alternate timeline.
package conversation

import (
	"sync"

	"github.com/loomlab/loom/core"
)

// VersionNode covers one message of the log. Nodes form an acyclic singly
// linked chain from head; the current pointer marks the active branch tip.
type VersionNode struct {
	MessageIndex int
	Next         *VersionNode
}

// State is the in-memory working copy of a conversation while a run is
// active. It owns the message slice and the version chain; persistence is
// mirrored by the caller, not held here.
//
// Contract:
//   - the chain is acyclic and current is always reachable from head
//   - operations that would violate index bounds return nil/false instead
//     of an error; callers must check return values
type State struct {
	mu             sync.RWMutex
	conversationID string
	messages       []core.Message
	head           *VersionNode
	current        *VersionNode
}

// New builds the chain deterministically from the initial messages in input
// order. current ends at the last node, or nil when the log is empty.
func New(conversationID string, initial []core.Message) *State {
	s := &State{conversationID: conversationID}
	for _, msg := range initial {
		s.AddMessage(msg)
	}
	return s
}

// ConversationID returns the id of the conversation this state belongs to.
func (s *State) ConversationID() string { return s.conversationID }

// AddMessage appends to the message log, creates a node at the new last
// index, links it as current.Next cutting any previously linked forward
// node, and advances current. The first message becomes head.
func (s *State) AddMessage(msg core.Message) *VersionNode {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
	node := &VersionNode{MessageIndex: len(s.messages) - 1}

	if s.current == nil {
		s.head = node
	} else {
		s.current.Next = node
	}
	s.current = node

	return node
}

// UpdateCurrentMessage mutates the content of the message at current's index
// in place, preserving every other field. Returns false when there is no
// current node.
func (s *State) UpdateCurrentMessage(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.MessageIndex >= len(s.messages) {
		return false
	}
	s.messages[s.current.MessageIndex].Content = content
	return true
}

// CurrentMessage returns a copy of the message current points at, or false
// when there is none.
func (s *State) CurrentMessage() (core.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil || s.current.MessageIndex >= len(s.messages) {
		return core.Message{}, false
	}
	return s.messages[s.current.MessageIndex].Clone(), true
}

// Pop moves current to its immediate predecessor. It returns nil without
// mutating state when current is already head or the chain is empty.
func (s *State) Pop() *VersionNode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current == s.head {
		return nil
	}
	prev := s.predecessorLocked(s.current)
	if prev == nil {
		return nil
	}
	s.current = prev
	return prev
}

// TimeTravel relocates current to the node covering index and truncates the
// log to [0..index]. When no node has that exact index, the node with the
// greatest MessageIndex <= index is used. Returns false without mutation for
// an out-of-bounds index.
func (s *State) TimeTravel(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeTravelLocked(index)
}

func (s *State) timeTravelLocked(index int) bool {
	if index < 0 || index >= len(s.messages) {
		return false
	}

	var target *VersionNode
	for n := s.head; n != nil; n = n.Next {
		if n.MessageIndex > index {
			break
		}
		target = n
	}
	if target == nil {
		return false
	}

	s.messages = s.messages[:target.MessageIndex+1]
	target.Next = nil
	s.current = target
	return true
}

// TimeTravelToMessageID locates the message with the given id and relocates
// current to the node covering its index, truncating everything after it.
// Returns false when the id is unknown.
func (s *State) TimeTravelToMessageID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, msg := range s.messages {
		if msg.ID == id {
			return s.timeTravelLocked(i)
		}
	}
	return false
}

// NewMessagesForNode returns the slice of messages strictly after the node's
// predecessor up to and including the node itself. With no predecessor the
// slice starts at index 0.
func (s *State) NewMessagesForNode(node *VersionNode) []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if node == nil || node.MessageIndex >= len(s.messages) {
		return nil
	}
	start := 0
	if prev := s.predecessorLocked(node); prev != nil {
		start = prev.MessageIndex + 1
	}
	out := make([]core.Message, 0, node.MessageIndex+1-start)
	for _, msg := range s.messages[start : node.MessageIndex+1] {
		out = append(out, msg.Clone())
	}
	return out
}

// AllNodes walks the chain from head in chronological insertion order.
func (s *State) AllNodes() []*VersionNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nodes []*VersionNode
	for n := s.head; n != nil; n = n.Next {
		nodes = append(nodes, n)
	}
	return nodes
}

// Messages returns a defensive copy of the message log.
func (s *State) Messages() []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, msg.Clone())
	}
	return out
}

// ChainMessages returns the messages along the active branch, walking the
// chain from head up to and including the current node. Popped messages and
// cut branches are excluded. This is the context a run feeds the model.
func (s *State) ChainMessages() []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Message
	for n := s.head; n != nil; n = n.Next {
		if n.MessageIndex < len(s.messages) {
			out = append(out, s.messages[n.MessageIndex].Clone())
		}
		if n == s.current {
			break
		}
	}
	return out
}

// Len returns the current length of the message log.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Current returns the node the active branch tip points at (nil when empty).
func (s *State) Current() *VersionNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Head returns the first node of the chain (nil when empty).
func (s *State) Head() *VersionNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

func (s *State) predecessorLocked(node *VersionNode) *VersionNode {
	if node == s.head {
		return nil
	}
	for n := s.head; n != nil; n = n.Next {
		if n.Next == node {
			return n
		}
	}
	return nil
}
