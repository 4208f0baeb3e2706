// Package memory is an in-process interaction log for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"learning-agent/internal/repository/db"
)

var _ db.Database = (*DB)(nil)

// DB keeps interactions in insertion order
type DB struct {
	mu           sync.RWMutex
	interactions []db.Interaction
	nextID       int64
	now          func() time.Time
}

// New creates an empty in-memory database
func New() *DB {
	return &DB{nextID: 1, now: time.Now}
}

func (m *DB) CreateInteraction(ctx context.Context, in *db.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in.ID = m.nextID
	m.nextID++
	if in.Timestamp.IsZero() {
		in.Timestamp = m.now()
	}
	m.interactions = append(m.interactions, clone(*in))
	return nil
}

func (m *DB) GetInteractionByInteractionID(ctx context.Context, interactionID string) (*db.Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, in := range m.interactions {
		if in.InteractionID != nil && *in.InteractionID == interactionID {
			c := clone(in)
			return &c, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *DB) CompleteInteraction(ctx context.Context, id int64, c db.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.interactions {
		in := &m.interactions[i]
		if in.ID != id {
			continue
		}
		in.FinalPrompt = ptr(c.FinalPrompt)
		in.FinalAnswer = ptr(c.FinalAnswer)
		in.ChosenVersion = copyPtr(c.ChosenVersion)
		if c.SocraticSystemPrompt != nil {
			in.SocraticSystemPrompt = copyPtr(c.SocraticSystemPrompt)
		}
		return nil
	}
	return db.ErrNotFound
}

func (m *DB) NextTurnIndex(ctx context.Context, conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	next := 0
	for _, in := range m.interactions {
		if in.ConversationID == conversationID && in.TurnIndex >= next {
			next = in.TurnIndex + 1
		}
	}
	return next, nil
}

func (m *DB) GetRecentInteractions(ctx context.Context, conversationID string, limit int) ([]db.Interaction, error) {
	all := m.byConversation(conversationID, func(db.Interaction) bool { return true })
	if limit >= 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *DB) GetCompletedInteractionsAfter(ctx context.Context, conversationID string, turnIndex int) ([]db.Interaction, error) {
	out := m.byConversation(conversationID, func(in db.Interaction) bool {
		return in.TurnIndex > turnIndex && in.FinalAnswer != nil
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *DB) GetLatestSocraticInteraction(ctx context.Context, conversationID string) (*db.Interaction, error) {
	out := m.byConversation(conversationID, func(in db.Interaction) bool {
		return in.SocraticSystemPrompt != nil
	})
	if len(out) == 0 {
		return nil, db.ErrNotFound
	}
	return &out[len(out)-1], nil
}

func (m *DB) ClearSocraticPrompt(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.interactions {
		if m.interactions[i].ID == id {
			m.interactions[i].SocraticSystemPrompt = nil
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *DB) Ping(ctx context.Context) error { return nil }

func (m *DB) Close() error { return nil }

// All returns a copy of every interaction in insertion order
func (m *DB) All() []db.Interaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.Interaction, len(m.interactions))
	for i, in := range m.interactions {
		out[i] = clone(in)
	}
	return out
}

// byConversation returns matching interactions ordered by turn index, then id
func (m *DB) byConversation(conversationID string, keep func(db.Interaction) bool) []db.Interaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []db.Interaction
	for _, in := range m.interactions {
		if in.ConversationID == conversationID && keep(in) {
			out = append(out, clone(in))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TurnIndex == out[j].TurnIndex {
			return out[i].ID < out[j].ID
		}
		return out[i].TurnIndex < out[j].TurnIndex
	})
	return out
}

func clone(in db.Interaction) db.Interaction {
	out := in
	out.InteractionID = copyPtr(in.InteractionID)
	out.Mode = copyPtr(in.Mode)
	out.Intent = copyPtr(in.Intent)
	out.Topic = copyPtr(in.Topic)
	out.RewrittenPrompt = copyPtr(in.RewrittenPrompt)
	out.ChosenVersion = copyPtr(in.ChosenVersion)
	out.FinalPrompt = copyPtr(in.FinalPrompt)
	out.FinalAnswer = copyPtr(in.FinalAnswer)
	out.SocraticSystemPrompt = copyPtr(in.SocraticSystemPrompt)
	return out
}

func copyPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func ptr(s string) *string { return &s }
