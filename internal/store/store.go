// Package store holds the conversations of the current session and mirrors every change to a
// persistence adapter.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"learning-agent/internal/domain"
	"learning-agent/internal/logger"
	"learning-agent/internal/persistence"

	"github.com/sirupsen/logrus"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTurnNotFound         = errors.New("turn not found")
	ErrTurnExists           = errors.New("turn already exists in conversation")
	ErrInFlightTurn         = errors.New("turn is still classifying or awaiting a prompt choice")
	ErrNotPlaceholder       = errors.New("only placeholder conversation ids can be re-keyed")
)

// TurnPatch mutates a turn in place. Identity fields are restored after the patch runs.
type TurnPatch func(t *domain.Turn)

// Store keeps every conversation in memory plus a pointer to the active one.
// Reads never touch the adapter; each mutation writes the affected conversation through it.
type Store struct {
	mu            sync.Mutex
	adapter       persistence.Adapter
	conversations map[string]*domain.Conversation
	// placeholder id -> server id, so late updates addressed to the old id still land
	aliases map[string]string
	// ids deleted during this session; late results for them are refused
	deleted     map[string]bool
	activeID    string
	savedActive string
	now         func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New hydrates a store from the adapter
func New(adapter persistence.Adapter, opts ...Option) (*Store, error) {
	state, err := adapter.Load()
	if err != nil {
		return nil, fmt.Errorf("error loading conversations: %w", err)
	}

	s := &Store{
		adapter:       adapter,
		conversations: make(map[string]*domain.Conversation, len(state.Conversations)),
		aliases:       map[string]string{},
		deleted:       map[string]bool{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for id, conv := range state.Conversations {
		c := conv.Clone()
		c.ID = id
		for i := range c.Turns {
			c.Turns[i].Normalize()
			c.Turns[i].ConversationID = id
		}
		s.conversations[id] = &c
	}

	s.savedActive = state.ActiveID
	switch {
	case state.ActiveID == "":
	case s.conversations[state.ActiveID] != nil:
		s.activeID = state.ActiveID
	default:
		s.activeID = s.mostRecentLocked()
		logger.Log.WithFields(logrus.Fields{
			"stored_active": state.ActiveID,
			"fallback":      s.activeID,
		}).Warn("Active conversation missing from store, falling back")
	}

	logger.Log.WithFields(logrus.Fields{
		"conversations": len(s.conversations),
		"active":        s.activeID,
	}).Info("Conversation store hydrated")
	return s, nil
}

// EnsureActive returns the active conversation id, issuing a placeholder when the session
// is on a fresh, not yet materialised conversation.
func (s *Store) EnsureActive() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == "" {
		s.activeID = domain.NewPlaceholderID()
	}
	return s.activeID
}

// ActiveID returns the active conversation id; empty for a fresh conversation
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns the active id and a copy of its visible turns
func (s *Store) Active() (string, []domain.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversations[s.activeID]
	if conv == nil {
		return s.activeID, nil
	}
	return s.activeID, conv.Clone().Turns
}

// Resolve follows re-keys: a placeholder that was assigned a server id resolves to it
func (s *Store) Resolve(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(conversationID)
}

// Get returns a copy of a conversation
func (s *Store) Get(id string) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversations[s.resolveLocked(id)]
	if conv == nil {
		return domain.Conversation{}, false
	}
	return conv.Clone(), true
}

// FindTurn returns a copy of a turn
func (s *Store) FindTurn(conversationID, turnID string) (domain.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversations[s.resolveLocked(conversationID)]
	if conv == nil {
		return domain.Turn{}, false
	}
	i := conv.FindTurn(turnID)
	if i < 0 {
		return domain.Turn{}, false
	}
	return conv.Turns[i].Clone(), true
}

// List returns every conversation, most recently updated first
func (s *Store) List() []domain.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Summary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if conv.CompletedTurns() == 0 {
			continue
		}
		out = append(out, conv.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// AppendTurn adds a turn to a conversation, creating the conversation on first use.
// Turns still classifying or waiting for a prompt choice are rejected.
func (s *Store) AppendTurn(conversationID string, turn domain.Turn) error {
	if turn.Stage == domain.StageClassifying || turn.Stage == domain.StageRewritten {
		return ErrInFlightTurn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolveLocked(conversationID)
	if s.deleted[id] {
		return ErrConversationNotFound
	}
	conv := s.conversations[id]
	if conv == nil {
		conv = &domain.Conversation{ID: id}
		s.conversations[id] = conv
		logger.Log.WithField("conversation_id", id).Debug("Materialised conversation")
	}
	if conv.FindTurn(turn.ID) >= 0 {
		return ErrTurnExists
	}

	t := turn.Clone()
	t.ConversationID = id
	conv.Turns = append(conv.Turns, t)
	s.touchLocked(conv)

	return s.flushLocked(conv)
}

// UpdateTurn applies patch to a turn and returns the result.
// A missing conversation or turn leaves everything untouched and returns ErrTurnNotFound.
func (s *Store) UpdateTurn(conversationID, turnID string, patch TurnPatch) (domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversations[s.resolveLocked(conversationID)]
	if conv == nil {
		return domain.Turn{}, ErrTurnNotFound
	}
	i := conv.FindTurn(turnID)
	if i < 0 {
		return domain.Turn{}, ErrTurnNotFound
	}

	t := &conv.Turns[i]
	id, convID := t.ID, t.ConversationID
	patch(t)
	t.ID, t.ConversationID = id, convID

	s.touchLocked(conv)
	return t.Clone(), s.flushLocked(conv)
}

// AssignID re-keys a placeholder conversation to the id issued by the backend, keeping
// every turn already appended. The active pointer follows.
func (s *Store) AssignID(placeholderID, realID string) error {
	if realID == "" || placeholderID == realID {
		return nil
	}
	if !domain.IsPlaceholderID(placeholderID) {
		return ErrNotPlaceholder
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.resolveLocked(placeholderID)
	if from == realID {
		return nil
	}
	if s.deleted[from] {
		return ErrConversationNotFound
	}
	s.aliases[placeholderID] = realID
	if from != placeholderID {
		s.aliases[from] = realID
	}

	var errs []error
	if conv := s.conversations[from]; conv != nil {
		delete(s.conversations, from)
		wasPersisted := conv.CompletedTurns() > 0

		target := s.conversations[realID]
		if target == nil {
			conv.ID = realID
			target = conv
			s.conversations[realID] = target
		} else {
			for _, t := range conv.Turns {
				if target.FindTurn(t.ID) < 0 {
					target.Turns = append(target.Turns, t)
				}
			}
		}
		for i := range target.Turns {
			target.Turns[i].ConversationID = realID
		}
		if target.Title == "" {
			target.Title = conv.Title
		}

		if wasPersisted {
			if err := s.adapter.DeleteConversation(from); err != nil {
				errs = append(errs, err)
			}
		}
		if s.activeID == from {
			s.activeID = realID
		}
		if err := s.flushLocked(target); err != nil {
			errs = append(errs, err)
		}
	} else if s.activeID == from {
		s.activeID = realID
	}

	logger.Log.WithFields(logrus.Fields{
		"placeholder_id":  placeholderID,
		"conversation_id": realID,
	}).Debug("Conversation re-keyed")
	return errors.Join(errs...)
}

// SwitchActive makes a stored conversation active and returns its turns
func (s *Store) SwitchActive(conversationID string) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolveLocked(conversationID)
	conv := s.conversations[id]
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	for i := range conv.Turns {
		conv.Turns[i].Normalize()
	}
	s.activeID = id
	return conv.Clone().Turns, s.saveActiveLocked()
}

// DeleteConversation removes a conversation. When it was active, the most recently updated
// remaining conversation becomes active, or a fresh one when none remain.
func (s *Store) DeleteConversation(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.resolveLocked(conversationID)
	conv := s.conversations[id]
	if conv == nil && id != s.activeID {
		return ErrConversationNotFound
	}

	var errs []error
	s.deleted[id] = true
	if conv != nil {
		delete(s.conversations, id)
		if err := s.adapter.DeleteConversation(id); err != nil {
			errs = append(errs, fmt.Errorf("error deleting conversation: %w", err))
		}
	}
	for alias, target := range s.aliases {
		if target == id {
			delete(s.aliases, alias)
		}
	}
	if s.activeID == id {
		s.activeID = s.mostRecentLocked()
	}
	if err := s.saveActiveLocked(); err != nil {
		errs = append(errs, err)
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id": id,
		"active":          s.activeID,
	}).Info("Deleted conversation")
	return errors.Join(errs...)
}

// Deleted reports whether a conversation was deleted during this session
func (s *Store) Deleted(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted[s.resolveLocked(conversationID)]
}

// StartNew clears the active pointer. The next conversation is created lazily when its
// first turn is appended.
func (s *Store) StartNew() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = ""
	return s.saveActiveLocked()
}

func (s *Store) resolveLocked(id string) string {
	for i := 0; i < 8; i++ {
		next, ok := s.aliases[id]
		if !ok {
			return id
		}
		id = next
	}
	return id
}

func (s *Store) touchLocked(conv *domain.Conversation) {
	conv.UpdatedAt = s.now()
	if conv.Title == "" && conv.CompletedTurns() > 0 {
		conv.Title = domain.TitleFromPrompt(conv.Turns[0].OriginalPrompt)
	}
}

// flushLocked writes a conversation once it has a completed turn, and the active pointer
// when it changed since the last write.
func (s *Store) flushLocked(conv *domain.Conversation) error {
	if conv.CompletedTurns() == 0 {
		return nil
	}
	if err := s.adapter.SaveConversation(conv.Persistable()); err != nil {
		logger.Log.WithError(err).WithField("conversation_id", conv.ID).Error("Failed to persist conversation")
		return fmt.Errorf("error persisting conversation: %w", err)
	}
	if conv.ID == s.activeID {
		return s.saveActiveLocked()
	}
	return nil
}

// saveActiveLocked persists the active pointer. Placeholders that have not been written yet
// are stored as empty so a reload never points at a missing conversation.
func (s *Store) saveActiveLocked() error {
	active := s.activeID
	if conv := s.conversations[active]; conv == nil || conv.CompletedTurns() == 0 {
		active = ""
	}
	if active == s.savedActive {
		return nil
	}
	if err := s.adapter.SaveActive(active); err != nil {
		logger.Log.WithError(err).Error("Failed to persist active conversation")
		return fmt.Errorf("error persisting active conversation: %w", err)
	}
	s.savedActive = active
	return nil
}

func (s *Store) mostRecentLocked() string {
	var best *domain.Conversation
	for _, conv := range s.conversations {
		if conv.CompletedTurns() == 0 {
			continue
		}
		if best == nil || conv.UpdatedAt.After(best.UpdatedAt) ||
			(conv.UpdatedAt.Equal(best.UpdatedAt) && conv.ID < best.ID) {
			best = conv
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}
