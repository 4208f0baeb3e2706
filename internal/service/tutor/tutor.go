// Package tutor keeps conversation memory for the answering model: recent turns as history
// and the Socratic system prompt that persists across a few turns once chosen.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"learning-agent/internal/config"
	"learning-agent/internal/logger"
	"learning-agent/internal/repository/db"
	"learning-agent/internal/service/llm"
	"learning-agent/pkg/api"

	"github.com/sirupsen/logrus"
)

// Session is the answering context of one request
type Session struct {
	ConversationID string
	TurnIndex      int
	History        []llm.Message
	// SystemPrompt is the active Socratic prompt, empty when none applies
	SystemPrompt string

	socratic *db.Interaction
}

// Tutor loads and maintains conversation memory
type Tutor struct {
	db          db.Database
	cfg         config.TutorConfig
	stopPhrases []string
}

// New creates a Tutor
func New(database db.Database, cfg config.TutorConfig, stopPhrases []string) *Tutor {
	phrases := make([]string, 0, len(stopPhrases))
	for _, p := range stopPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			phrases = append(phrases, p)
		}
	}
	return &Tutor{db: database, cfg: cfg, stopPhrases: phrases}
}

// Begin loads the history and the Socratic prompt for a request answered at turnIndex.
// A Socratic prompt stored SocraticExpiryTurns or more turns ago is ignored.
func (t *Tutor) Begin(ctx context.Context, conversationID string, turnIndex int) (*Session, error) {
	s := &Session{ConversationID: conversationID, TurnIndex: turnIndex}

	socratic, err := t.db.GetLatestSocraticInteraction(ctx, conversationID)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return s, fmt.Errorf("error loading socratic prompt: %w", err)
	default:
		s.socratic = socratic
		s.SystemPrompt = deref(socratic.SocraticSystemPrompt)
	}

	recent, err := t.db.GetRecentInteractions(ctx, conversationID, t.cfg.HistoryTurns)
	if err != nil {
		return s, fmt.Errorf("error loading history: %w", err)
	}
	for _, in := range recent {
		if !in.Completed() {
			continue
		}
		s.History = append(s.History,
			llm.Message{Role: llm.RoleUser, Content: in.OriginalPrompt},
			llm.Message{Role: llm.RoleAssistant, Content: *in.FinalAnswer},
		)
	}

	if s.socratic != nil {
		since := turnIndex - s.socratic.TurnIndex
		if since >= t.cfg.SocraticExpiryTurns {
			logger.Log.WithFields(logrus.Fields{
				"conversation_id": conversationID,
				"turns_since":     since,
			}).Info("Socratic prompt expired")
			s.SystemPrompt = ""
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id":  conversationID,
		"turn_index":       turnIndex,
		"history_messages": len(s.History),
		"socratic_active":  s.SystemPrompt != "",
	}).Debug("Tutor session loaded")
	return s, nil
}

// ClearAfterPlainTurns drops the Socratic prompt once the user has sent SocraticClearAfter
// consecutive prompts with the enhancer off, counting the current one.
func (t *Tutor) ClearAfterPlainTurns(ctx context.Context, s *Session, enhancerEnabled bool) error {
	if s.SystemPrompt == "" || s.socratic == nil || enhancerEnabled {
		return nil
	}

	completed, err := t.db.GetCompletedInteractionsAfter(ctx, s.ConversationID, s.socratic.TurnIndex)
	if err != nil {
		return fmt.Errorf("error counting plain turns: %w", err)
	}
	plain := 1
	for _, in := range completed {
		if in.Enhanced() {
			break
		}
		plain++
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id": s.ConversationID,
		"plain_turns":     plain,
	}).Debug("Consecutive prompts without the enhancer since Socratic prompt")

	if plain < t.cfg.SocraticClearAfter {
		return nil
	}
	return t.clear(ctx, s, "enhancer off")
}

// HonorStopRequest drops the Socratic prompt when the user asks to stop being questioned
func (t *Tutor) HonorStopRequest(ctx context.Context, s *Session, prompt string) error {
	if s.SystemPrompt == "" || !t.IsStopRequest(prompt) {
		return nil
	}
	return t.clear(ctx, s, "stop requested")
}

// IsStopRequest reports whether prompt contains one of the stop phrases
func (t *Tutor) IsStopRequest(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, phrase := range t.stopPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ShouldStoreSocratic reports whether an answered turn starts a new Socratic prompt:
// Socratic mode, the rewritten prompt was chosen, and no unexpired prompt is stored.
func (t *Tutor) ShouldStoreSocratic(ctx context.Context, conversationID string, turnIndex int, mode api.Mode, chosen *api.Variant, rewritten *string) (bool, error) {
	if mode != api.ModeSocratic || chosen == nil || *chosen != api.VariantRewritten || rewritten == nil || *rewritten == "" {
		return false, nil
	}

	latest, err := t.db.GetLatestSocraticInteraction(ctx, conversationID)
	if errors.Is(err, db.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("error checking socratic prompt: %w", err)
	}
	return turnIndex-latest.TurnIndex >= t.cfg.SocraticExpiryTurns, nil
}

func (t *Tutor) clear(ctx context.Context, s *Session, reason string) error {
	s.SystemPrompt = ""
	if err := t.db.ClearSocraticPrompt(ctx, s.socratic.ID); err != nil {
		return fmt.Errorf("error clearing socratic prompt: %w", err)
	}
	logger.Log.WithFields(logrus.Fields{
		"conversation_id": s.ConversationID,
		"turn_index":      s.socratic.TurnIndex,
		"reason":          reason,
	}).Info("Socratic prompt cleared")
	s.socratic = nil
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
