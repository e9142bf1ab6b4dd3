package conversation

import "sync"

// Manager holds the live State for each conversation so that runs and API
// handlers operate on the same branch structure. States are created lazily
// from persisted history and kept until evicted.
type Manager struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewManager constructs an empty state manager.
func NewManager() *Manager {
	return &Manager{states: make(map[string]*State)}
}

// Get returns the live state for a conversation if one is loaded.
func (m *Manager) Get(conversationID string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[conversationID]
	return s, ok
}

// GetOrLoad returns the live state, loading it through the callback when the
// conversation is not yet resident. The callback runs outside the lock;
// when concurrent misses race, the first registered state wins.
func (m *Manager) GetOrLoad(conversationID string, load func() (*State, error)) (*State, error) {
	m.mu.Lock()
	if s, ok := m.states[conversationID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := load()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.states[conversationID]; ok {
		return existing, nil
	}
	m.states[conversationID] = s
	return s, nil
}

// Evict drops the resident state for a conversation, forcing reload from
// persistence on next access.
func (m *Manager) Evict(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, conversationID)
}

// Loaded lists the ids with resident state.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	return ids
}
