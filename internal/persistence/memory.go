package persistence

import (
	"sync"

	"learning-agent/internal/domain"
)

// Ensure MemoryAdapter implements Adapter
var _ Adapter = (*MemoryAdapter)(nil)

// MemoryAdapter keeps state in process memory. Used for ephemeral sessions and tests.
type MemoryAdapter struct {
	mu     sync.Mutex
	state  *State
	closed bool

	// FailWrites makes every write return the given error when set
	FailWrites error
}

// NewMemoryAdapter returns an adapter seeded with state (nil for empty)
func NewMemoryAdapter(state *State) *MemoryAdapter {
	if state == nil {
		state = NewState()
	}
	return &MemoryAdapter{state: cloneState(state)}
}

func (m *MemoryAdapter) Load() (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return cloneState(m.state), nil
}

func (m *MemoryAdapter) Save(state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(); err != nil {
		return err
	}
	if state == nil {
		state = NewState()
	}
	m.state = cloneState(state)
	return nil
}

func (m *MemoryAdapter) SaveConversation(conv domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(); err != nil {
		return err
	}
	m.state.Conversations[conv.ID] = conv.Clone()
	return nil
}

func (m *MemoryAdapter) DeleteConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(); err != nil {
		return err
	}
	delete(m.state.Conversations, id)
	return nil
}

func (m *MemoryAdapter) SaveActive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable(); err != nil {
		return err
	}
	m.state.ActiveID = id
	return nil
}

func (m *MemoryAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Snapshot returns a copy of the stored state
func (m *MemoryAdapter) Snapshot() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state)
}

func (m *MemoryAdapter) writable() error {
	if m.closed {
		return ErrClosed
	}
	return m.FailWrites
}

func cloneState(s *State) *State {
	out := NewState()
	out.ActiveID = s.ActiveID
	for id, conv := range s.Conversations {
		out.Conversations[id] = conv.Clone()
	}
	return out
}
