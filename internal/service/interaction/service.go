// Package interaction implements the two backend use cases: interact (classify and rewrite,
// or answer directly when the enhancer is off) and answer (answer the prompt the user chose).
package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"learning-agent/internal/app"
	"learning-agent/internal/logger"
	"learning-agent/internal/reasoning"
	"learning-agent/internal/repository/db"
	"learning-agent/internal/service/enhancer"
	"learning-agent/internal/service/llm"
	"learning-agent/internal/service/tutor"
	"learning-agent/pkg/api"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	answerTemperature = 0.7
	noResponse        = "No response generated."
)

// ErrModeRequired is returned when the enhancer is enabled without a mode
var ErrModeRequired = errors.New("mode is required when enhancerEnabled is true")

// Service handles the business logic of the interaction endpoints
type Service struct {
	db       db.Database
	config   *app.Config
	llm      llm.LLMProvider
	enhancer *enhancer.Service
	tutor    *tutor.Tutor
	now      func() time.Time
}

// NewService creates a new interaction Service
func NewService(config *app.Config) *Service {
	prompts := config.Prompts()
	return &Service{
		db:       config.DB,
		config:   config,
		llm:      config.LLM,
		enhancer: enhancer.NewService(config.LLM, prompts),
		tutor:    tutor.New(config.DB, config.AppConfig.Tutor, prompts.SocraticStopPhrases),
		now:      time.Now,
	}
}

// Interact classifies and rewrites the prompt, or answers it right away when the enhancer is off.
// With the enhancer on, a stub interaction is logged and completed later by Answer.
func (s *Service) Interact(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
	if req.EnhancerEnabled && (req.Mode == nil || *req.Mode == "") {
		return nil, ErrModeRequired
	}

	interactionID := uuid.NewString()
	conversationID := deref(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
		logger.Log.WithField("conversation_id", conversationID).Info("Created new conversation")
	}

	logger.Log.WithFields(logrus.Fields{
		"interaction_id":   interactionID,
		"conversation_id":  conversationID,
		"enhancer_enabled": req.EnhancerEnabled,
		"prompt_length":    len(req.Prompt),
	}).Info("Interact request")

	turnIndex, err := s.db.NextTurnIndex(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to determine turn index: %w", err)
	}

	// Missing history degrades the answer but does not fail the request
	session, err := s.tutor.Begin(ctx, conversationID, turnIndex)
	if err != nil {
		logger.Log.WithError(err).Error("Error fetching conversation history")
	}
	if err := s.tutor.ClearAfterPlainTurns(ctx, session, req.EnhancerEnabled); err != nil {
		logger.Log.WithError(err).Error("Error clearing Socratic prompt")
	}
	if err := s.tutor.HonorStopRequest(ctx, session, req.Prompt); err != nil {
		logger.Log.WithError(err).Error("Error clearing Socratic prompt")
	}

	if !req.EnhancerEnabled {
		return s.interactDirect(ctx, req, session, interactionID)
	}

	mode := *req.Mode
	classification := s.enhancer.ClassifyIntent(ctx, req.Prompt)
	rewrite := s.enhancer.RewritePrompt(ctx, req.Prompt, classification.Intent, mode)

	stub := &db.Interaction{
		Timestamp:       s.now(),
		InteractionID:   &interactionID,
		ConversationID:  conversationID,
		TurnIndex:       turnIndex,
		OriginalPrompt:  req.Prompt,
		Mode:            strPtr(string(mode)),
		Intent:          &classification.Intent,
		Topic:           &classification.Topic,
		RewrittenPrompt: &rewrite.Prompt,
	}
	if err := s.db.CreateInteraction(ctx, stub); err != nil {
		logger.Log.WithError(err).WithField("interaction_id", interactionID).Error("Error logging stub interaction")
	} else {
		logger.Log.WithFields(logrus.Fields{
			"interaction_id": interactionID,
			"turn_index":     turnIndex,
		}).Info("Stub interaction logged")
	}

	intent, topic := classification.Intent, classification.Topic
	rewritten, strategy := rewrite.Prompt, rewrite.Strategy
	return &api.InteractResponse{
		InteractionID:     interactionID,
		ConversationID:    conversationID,
		Intent:            &intent,
		Topic:             &topic,
		RewrittenPrompt:   &rewritten,
		RewriteStrategy:   &strategy,
		DecisionRationale: enhancer.DecisionRationale(true, &mode, &intent, &rewritten, &strategy),
		PromptFeedback:    reasoning.FormatFeedback(rewrite.Feedback),
		ShowReasoning:     true,
	}, nil
}

func (s *Service) interactDirect(ctx context.Context, req api.InteractRequest, session *tutor.Session, interactionID string) (*api.InteractResponse, error) {
	answer := s.generateAnswer(ctx, req.Prompt, session)

	record := &db.Interaction{
		Timestamp:      s.now(),
		InteractionID:  &interactionID,
		ConversationID: session.ConversationID,
		TurnIndex:      session.TurnIndex,
		OriginalPrompt: req.Prompt,
		Mode:           strPtr(""),
		Intent:         strPtr(""),
		Topic:          strPtr(""),
		FinalAnswer:    strPtr(s.truncate(answer)),
	}
	if err := s.db.CreateInteraction(ctx, record); err != nil {
		logger.Log.WithError(err).WithField("interaction_id", interactionID).Error("Error logging interaction")
	}

	return &api.InteractResponse{
		InteractionID:     interactionID,
		ConversationID:    session.ConversationID,
		DecisionRationale: enhancer.DecisionRationale(false, nil, nil, nil, nil),
		FinalAnswer:       &answer,
		ShowReasoning:     false,
	}, nil
}

// Answer generates the final answer for the chosen prompt and completes the logged interaction.
// Failing to log the interaction does not fail the request.
func (s *Service) Answer(ctx context.Context, req api.AnswerRequest) (*api.AnswerResponse, error) {
	logger.Log.WithFields(logrus.Fields{
		"interaction_id":  deref(req.InteractionID),
		"conversation_id": deref(req.ConversationID),
		"chosen_version":  variantString(req.ChosenVersion),
		"prompt_length":   len(req.Prompt),
	}).Info("Answer request")

	var stub *db.Interaction
	conversationID := deref(req.ConversationID)
	if id := deref(req.InteractionID); id != "" {
		found, err := s.db.GetInteractionByInteractionID(ctx, id)
		switch {
		case errors.Is(err, db.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("error setting up conversation: %w", err)
		default:
			stub = found
			conversationID = found.ConversationID
		}
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
		logger.Log.WithField("conversation_id", conversationID).Info("Created new conversation")
	}

	var turnIndex int
	if stub != nil {
		turnIndex = stub.TurnIndex
	} else {
		next, err := s.db.NextTurnIndex(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("error setting up conversation: %w", err)
		}
		turnIndex = next
	}

	session, err := s.tutor.Begin(ctx, conversationID, turnIndex)
	if err != nil {
		return nil, fmt.Errorf("error setting up conversation: %w", err)
	}
	if err := s.tutor.HonorStopRequest(ctx, session, req.Prompt); err != nil {
		logger.Log.WithError(err).Error("Error clearing Socratic prompt")
	}

	answer := s.generateAnswer(ctx, req.Prompt, session)
	s.logAnswer(ctx, req, stub, conversationID, turnIndex, answer)

	return &api.AnswerResponse{FinalAnswer: answer}, nil
}

func (s *Service) logAnswer(ctx context.Context, req api.AnswerRequest, stub *db.Interaction, conversationID string, turnIndex int, answer string) {
	storeSocratic, err := s.tutor.ShouldStoreSocratic(ctx, conversationID, turnIndex, req.Mode, req.ChosenVersion, req.RewrittenPrompt)
	if err != nil {
		logger.Log.WithError(err).Error("Error logging to database")
		return
	}
	var socratic *string
	if storeSocratic {
		socratic = req.RewrittenPrompt
		logger.Log.WithField("turn_index", turnIndex).Info("Stored new Socratic prompt")
	}

	finalAnswer := s.truncate(answer)
	chosen := variantPtr(req.ChosenVersion)

	if stub != nil {
		err := s.db.CompleteInteraction(ctx, stub.ID, db.Completion{
			FinalPrompt:          req.Prompt,
			FinalAnswer:          finalAnswer,
			ChosenVersion:        chosen,
			SocraticSystemPrompt: socratic,
		})
		if err != nil {
			logger.Log.WithError(err).WithField("id", stub.ID).Error("Error logging to database")
			return
		}
		logger.Log.WithField("id", stub.ID).Info("Updated existing interaction")
		return
	}

	originalPrompt := req.Prompt
	if p := deref(req.OriginalPrompt); p != "" {
		originalPrompt = p
	}
	record := &db.Interaction{
		Timestamp:            s.now(),
		InteractionID:        emptyToNil(deref(req.InteractionID)),
		ConversationID:       conversationID,
		TurnIndex:            turnIndex,
		OriginalPrompt:       originalPrompt,
		Mode:                 strPtr(string(req.Mode)),
		Intent:               strPtr(req.Intent),
		Topic:                strPtr(req.Topic),
		RewrittenPrompt:      req.RewrittenPrompt,
		ChosenVersion:        chosen,
		FinalPrompt:          &req.Prompt,
		FinalAnswer:          &finalAnswer,
		SocraticSystemPrompt: socratic,
	}
	if err := s.db.CreateInteraction(ctx, record); err != nil {
		logger.Log.WithError(err).Error("Error logging to database")
		return
	}
	logger.Log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"turn_index":      turnIndex,
	}).Info("Interaction logged")
}

// generateAnswer asks the model for the final answer with the session's history.
// An active Socratic prompt replaces the default system prompt. Provider failures are
// reported in the answer text instead of failing the request.
func (s *Service) generateAnswer(ctx context.Context, prompt string, session *tutor.Session) string {
	messages := make([]llm.Message, 0, len(session.History)+1)
	messages = append(messages, session.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	systemPrompt := session.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = s.config.Prompts().DefaultSystemPrompt
	}

	logger.Log.WithFields(logrus.Fields{
		"history_messages": len(session.History),
		"socratic_active":  session.SystemPrompt != "",
	}).Debug("Generating final answer")

	reply, err := s.llm.ChatWithHistory(ctx, messages, llm.ChatOptions{
		SystemPrompt: systemPrompt,
		Temperature:  llm.Temperature(answerTemperature),
	})
	if err != nil {
		logger.Log.WithError(err).Error("Error getting LLM response")
		return api.AnswerFailurePrefix + err.Error()
	}
	if strings.TrimSpace(reply) == "" {
		return noResponse
	}
	return reply
}

// truncate shortens an answer to the stored length, counted in runes
func (s *Service) truncate(answer string) string {
	limit := s.config.AppConfig.Tutor.AnswerStoreLimit
	if limit <= 0 {
		return answer
	}
	runes := []rune(answer)
	if len(runes) <= limit {
		return answer
	}
	return string(runes[:limit])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string {
	return &s
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func variantPtr(v *api.Variant) *string {
	if v == nil {
		return nil
	}
	return strPtr(string(*v))
}

func variantString(v *api.Variant) string {
	if v == nil {
		return "NONE"
	}
	return string(*v)
}
