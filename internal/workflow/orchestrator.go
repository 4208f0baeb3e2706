// Package workflow drives a turn from submission to answer: classification and rewriting,
// the user's choice of prompt variant, and answer generation.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"learning-agent/internal/domain"
	"learning-agent/internal/logger"
	"learning-agent/internal/store"
	"learning-agent/pkg/api"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultRequestTimeout bounds every backend call
const DefaultRequestTimeout = 2 * time.Minute

var (
	ErrEmptyPrompt    = errors.New("prompt is empty")
	ErrModeRequired   = errors.New("mode is required when the enhancer is enabled")
	ErrInvalidVariant = errors.New("unknown prompt variant")
	ErrTurnPending    = errors.New("another turn is waiting for a prompt choice")
	ErrTurnNotFound   = errors.New("turn not found")
	ErrInvalidStage   = errors.New("operation not allowed in the turn's current stage")
	ErrClosed         = errors.New("orchestrator is closed")
	ErrAnswerFailed   = errors.New("backend could not answer")
)

// Backend is the remote classify/rewrite and answer service
type Backend interface {
	Interact(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error)
	Answer(ctx context.Context, req api.AnswerRequest) (*api.AnswerResponse, error)
}

// ConversationStore is the part of the conversation store the orchestrator writes to
type ConversationStore interface {
	EnsureActive() string
	Resolve(conversationID string) string
	Deleted(conversationID string) bool
	AppendTurn(conversationID string, turn domain.Turn) error
	UpdateTurn(conversationID, turnID string, patch store.TurnPatch) (domain.Turn, error)
	AssignID(placeholderID, realID string) error
}

// Orchestrator owns the single pending turn and every in-flight backend call.
// Public operations return immediately; backend calls run through the dispatcher and their
// results are applied only while the turn's generation still matches the one they were
// issued under.
type Orchestrator struct {
	mu      sync.Mutex
	backend Backend
	store   ConversationStore

	pending     *domain.Turn
	generations map[string]uint64
	cancels     map[string]context.CancelFunc

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	dispatch func(func())
	listener func(Event)
	timeout  time.Duration
	newID    func() string
	now      func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithDispatcher replaces the goroutine-per-call dispatcher
func WithDispatcher(dispatch func(func())) Option {
	return func(o *Orchestrator) { o.dispatch = dispatch }
}

// WithListener registers a callback for state changes. It is called outside internal locks.
func WithListener(listener func(Event)) Option {
	return func(o *Orchestrator) { o.listener = listener }
}

// WithRequestTimeout bounds each backend call; zero disables the bound
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = timeout }
}

// WithIDGenerator overrides turn id generation
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator
func New(backend Backend, conversations ConversationStore, opts ...Option) *Orchestrator {
	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		backend:     backend,
		store:       conversations,
		generations: map[string]uint64{},
		cancels:     map[string]context.CancelFunc{},
		ctx:         ctx,
		stop:        stop,
		dispatch:    func(f func()) { go f() },
		timeout:     DefaultRequestTimeout,
		newID:       uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Pending returns a copy of the turn waiting for classification or a prompt choice
func (o *Orchestrator) Pending() (domain.Turn, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return domain.Turn{}, false
	}
	return o.pending.Clone(), true
}

// Submit starts a new turn in the active conversation.
// With the enhancer off the turn goes straight to answering and is visible at once; with it
// on the turn becomes the pending turn while the prompt is classified and rewritten.
func (o *Orchestrator) Submit(prompt string, mode *api.Mode, enhancerEnabled bool) (domain.Turn, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.Turn{}, ErrEmptyPrompt
	}
	if enhancerEnabled && (mode == nil || !mode.Valid()) {
		return domain.Turn{}, ErrModeRequired
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.Turn{}, ErrClosed
	}
	if o.pending != nil {
		o.mu.Unlock()
		return domain.Turn{}, ErrTurnPending
	}

	convID := o.store.EnsureActive()
	turn := domain.Turn{
		ID:             o.newID(),
		ConversationID: convID,
		OriginalPrompt: prompt,
		EnhancerUsed:   enhancerEnabled,
		CreatedAt:      o.now(),
	}
	if enhancerEnabled {
		m := *mode
		turn.Mode = &m
		turn.Stage = domain.StageClassifying
		pending := turn.Clone()
		o.pending = &pending
	} else {
		turn.Stage = domain.StageAnswering
		turn.ChosenVariant = api.VariantPtr(api.VariantOriginal)
		if err := o.store.AppendTurn(convID, turn); err != nil {
			if errors.Is(err, store.ErrConversationNotFound) {
				o.mu.Unlock()
				return domain.Turn{}, fmt.Errorf("error adding turn: %w", err)
			}
			logger.Log.WithError(err).WithField("turn_id", turn.ID).Warn("Turn added but not persisted")
		}
	}

	req := api.InteractRequest{
		Prompt:          prompt,
		EnhancerEnabled: enhancerEnabled,
		Mode:            turn.Mode,
		ConversationID:  o.serverConversationID(convID),
	}
	gen, ctx := o.beginCallLocked(turn.ID)
	o.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{
		"turn_id":         turn.ID,
		"conversation_id": convID,
		"enhancer":        enhancerEnabled,
		"prompt_chars":    len(prompt),
	}).Info("Turn submitted")

	o.emit(Event{Kind: EventSubmitted, Turn: turn, Pending: enhancerEnabled})
	o.run(func() {
		resp, err := o.backend.Interact(ctx, req)
		if enhancerEnabled {
			o.applyRewrite(turn.ID, gen, resp, err)
		} else {
			o.applyDirectAnswer(convID, turn.ID, gen, resp, err)
		}
	})
	return turn, nil
}

// ChoosePromptVariant picks the prompt version to answer and starts answer generation.
// Choosing rewritten with a non-empty draft that differs from the rewrite records an edit.
func (o *Orchestrator) ChoosePromptVariant(turnID string, variant api.Variant, draft string) (domain.Turn, error) {
	if !variant.Valid() {
		return domain.Turn{}, ErrInvalidVariant
	}

	o.mu.Lock()
	p := o.pending
	if p == nil || p.ID != turnID {
		o.mu.Unlock()
		return domain.Turn{}, ErrTurnNotFound
	}
	if p.Stage != domain.StageRewritten {
		o.mu.Unlock()
		return domain.Turn{}, ErrInvalidStage
	}

	effective, edited, err := resolveVariant(variant, draft, p.RewrittenPrompt)
	if err != nil {
		o.mu.Unlock()
		return domain.Turn{}, err
	}
	p.ChosenVariant = &effective
	p.EditedPrompt = edited
	p.Stage = domain.StageAnswering
	turn := p.Clone()

	if err := o.store.AppendTurn(turn.ConversationID, turn); err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			o.discardPendingLocked()
			o.mu.Unlock()
			o.emit(Event{Kind: EventCancelled, Turn: turn})
			return turn, fmt.Errorf("error adding turn: %w", err)
		}
		logger.Log.WithError(err).WithField("turn_id", turn.ID).Warn("Turn added but not persisted")
	}
	o.pending = nil

	req := api.AnswerRequest{
		Prompt:          turn.ResolvedPrompt(),
		Mode:            *turn.Mode,
		Intent:          deref(turn.Intent),
		Topic:           deref(turn.Topic),
		ConversationID:  o.serverConversationID(turn.ConversationID),
		ChosenVersion:   turn.ChosenVariant,
		OriginalPrompt:  api.StringPtr(turn.OriginalPrompt),
		RewrittenPrompt: turn.RewrittenPrompt,
	}
	if turn.InteractionID != "" {
		req.InteractionID = api.StringPtr(turn.InteractionID)
	}
	gen, ctx := o.beginCallLocked(turn.ID)
	o.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{
		"turn_id": turn.ID,
		"variant": effective,
	}).Info("Prompt variant chosen")

	o.emit(Event{Kind: EventAnswering, Turn: turn})
	o.run(func() {
		resp, err := o.backend.Answer(ctx, req)
		o.applyAnswer(turn.ConversationID, turn.ID, gen, resp, err)
	})
	return turn, nil
}

// Regenerate asks for a fresh classification and rewrite of the pending turn.
// Only the response to the latest request is applied.
func (o *Orchestrator) Regenerate(turnID string) (domain.Turn, error) {
	o.mu.Lock()
	p := o.pending
	if p == nil || p.ID != turnID {
		o.mu.Unlock()
		return domain.Turn{}, ErrTurnNotFound
	}
	if p.Stage != domain.StageRewritten || !p.EnhancerUsed || p.Mode == nil {
		o.mu.Unlock()
		return domain.Turn{}, ErrInvalidStage
	}

	p.EditedPrompt = nil
	p.ChosenVariant = nil
	turn := p.Clone()
	req := api.InteractRequest{
		Prompt:          turn.OriginalPrompt,
		EnhancerEnabled: true,
		Mode:            turn.Mode,
		ConversationID:  o.serverConversationID(turn.ConversationID),
	}
	gen, ctx := o.beginCallLocked(turn.ID)
	o.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{
		"turn_id":    turn.ID,
		"generation": gen,
	}).Info("Regenerating rewrite")

	o.emit(Event{Kind: EventRegenerating, Turn: turn, Pending: true})
	o.run(func() {
		resp, err := o.backend.Interact(ctx, req)
		o.applyRewrite(turn.ID, gen, resp, err)
	})
	return turn, nil
}

// Cancel discards the pending turn and returns its original prompt so it can be restored
// to the input. Turns already in the conversation cannot be cancelled.
func (o *Orchestrator) Cancel(turnID string) (string, error) {
	o.mu.Lock()
	p := o.pending
	if p == nil || p.ID != turnID {
		o.mu.Unlock()
		return "", ErrTurnNotFound
	}
	turn := p.Clone()
	o.discardPendingLocked()
	o.mu.Unlock()

	logger.Log.WithField("turn_id", turnID).Info("Pending turn cancelled")
	o.emit(Event{Kind: EventCancelled, Turn: turn})
	return turn.OriginalPrompt, nil
}

// Wait blocks until every dispatched backend call has been applied
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels in-flight calls and waits for them to finish
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.stop()
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) applyRewrite(turnID string, gen uint64, resp *api.InteractResponse, callErr error) {
	o.mu.Lock()
	if !o.finishCallLocked(turnID, gen) {
		o.mu.Unlock()
		logStale(turnID, gen, "rewrite")
		return
	}
	p := o.pending
	if p == nil || p.ID != turnID {
		o.mu.Unlock()
		logStale(turnID, gen, "rewrite")
		return
	}
	if o.store.Deleted(p.ConversationID) {
		turn := p.Clone()
		o.discardPendingLocked()
		o.mu.Unlock()
		logger.Log.WithField("turn_id", turnID).Info("Conversation deleted while classifying, dropping turn")
		o.emit(Event{Kind: EventCancelled, Turn: turn})
		return
	}

	if callErr != nil {
		p.Intent = api.StringPtr(domain.IntentError)
		p.RewrittenPrompt = nil
		p.RewriteStrategy = nil
		p.DecisionRationale = nil
		p.PromptFeedback = nil
		p.ChosenVariant = nil
		p.EditedPrompt = nil
		p.FinalAnswer = api.StringPtr(domain.ErrorAnswer(callErr))
		p.Stage = domain.StageDone
		turn := p.Clone()
		o.discardPendingLocked()
		if err := o.store.AppendTurn(turn.ConversationID, turn); err != nil {
			logger.Log.WithError(err).WithField("turn_id", turnID).Warn("Failed to record classification failure")
		}
		o.mu.Unlock()

		logger.Log.WithError(callErr).WithField("turn_id", turnID).Error("Classification failed")
		o.emit(Event{Kind: EventFailed, Turn: turn, Err: callErr})
		return
	}

	o.adoptConversationIDLocked(p, resp.ConversationID)
	if resp.Intent != nil {
		p.Intent = api.StringPtr(*resp.Intent)
	}
	if resp.Topic != nil {
		p.Topic = api.StringPtr(*resp.Topic)
	}
	p.RewrittenPrompt = clone(resp.RewrittenPrompt)
	p.RewriteStrategy = clone(resp.RewriteStrategy)
	if p.RewrittenPrompt == nil {
		p.RewriteStrategy = nil
	}
	p.DecisionRationale = nil
	if resp.DecisionRationale != "" {
		p.DecisionRationale = api.StringPtr(resp.DecisionRationale)
	}
	p.PromptFeedback = clone(resp.PromptFeedback)
	p.EditedPrompt = nil
	p.ChosenVariant = nil
	p.ShowReasoning = resp.ShowReasoning
	p.InteractionID = resp.InteractionID
	p.Stage = domain.StageRewritten
	turn := p.Clone()
	o.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{
		"turn_id":  turnID,
		"intent":   deref(turn.Intent),
		"topic":    deref(turn.Topic),
		"strategy": deref(turn.RewriteStrategy),
	}).Info("Prompt classified and rewritten")
	o.emit(Event{Kind: EventRewritten, Turn: turn, Pending: true})
}

func (o *Orchestrator) applyDirectAnswer(convID, turnID string, gen uint64, resp *api.InteractResponse, callErr error) {
	o.mu.Lock()
	if !o.finishCallLocked(turnID, gen) {
		o.mu.Unlock()
		logStale(turnID, gen, "answer")
		return
	}
	delete(o.generations, turnID)

	if callErr == nil {
		o.assignIfPlaceholderLocked(convID, resp.ConversationID)
	}
	turn, err := o.store.UpdateTurn(convID, turnID, func(t *domain.Turn) {
		if callErr != nil {
			t.FinalAnswer = api.StringPtr(domain.ErrorAnswer(callErr))
		} else {
			t.FinalAnswer = api.StringPtr(deref(resp.FinalAnswer))
			t.InteractionID = resp.InteractionID
			t.ShowReasoning = resp.ShowReasoning
			if resp.DecisionRationale != "" {
				t.DecisionRationale = api.StringPtr(resp.DecisionRationale)
			}
		}
		t.Stage = domain.StageDone
	})
	o.mu.Unlock()

	o.finishTurn(turn, err, callErr)
}

func (o *Orchestrator) applyAnswer(convID, turnID string, gen uint64, resp *api.AnswerResponse, callErr error) {
	o.mu.Lock()
	if !o.finishCallLocked(turnID, gen) {
		o.mu.Unlock()
		logStale(turnID, gen, "answer")
		return
	}
	delete(o.generations, turnID)

	turn, err := o.store.UpdateTurn(convID, turnID, func(t *domain.Turn) {
		if callErr != nil {
			t.FinalAnswer = api.StringPtr(domain.ErrorAnswer(callErr))
		} else {
			t.FinalAnswer = api.StringPtr(resp.FinalAnswer)
		}
		t.Stage = domain.StageDone
	})
	o.mu.Unlock()

	o.finishTurn(turn, err, callErr)
}

func (o *Orchestrator) finishTurn(turn domain.Turn, storeErr, callErr error) {
	if errors.Is(storeErr, store.ErrTurnNotFound) {
		logger.Log.WithField("turn_id", turn.ID).Info("Turn no longer in store, dropping answer")
		return
	}
	if storeErr != nil {
		logger.Log.WithError(storeErr).WithField("turn_id", turn.ID).Warn("Answer applied but not persisted")
	}
	if callErr == nil && turn.HasError() {
		callErr = fmt.Errorf("%w: %s", ErrAnswerFailed, deref(turn.FinalAnswer))
	}
	if callErr != nil {
		logger.Log.WithError(callErr).WithField("turn_id", turn.ID).Error("Answer generation failed")
		o.emit(Event{Kind: EventFailed, Turn: turn, Err: callErr})
		return
	}
	logger.Log.WithFields(logrus.Fields{
		"turn_id":      turn.ID,
		"answer_chars": len(deref(turn.FinalAnswer)),
	}).Info("Turn completed")
	o.emit(Event{Kind: EventCompleted, Turn: turn})
}

// adoptConversationIDLocked moves the pending turn onto the server issued conversation id
func (o *Orchestrator) adoptConversationIDLocked(p *domain.Turn, serverID string) {
	if serverID == "" || p.ConversationID == serverID {
		return
	}
	current := o.store.Resolve(p.ConversationID)
	if !domain.IsPlaceholderID(current) {
		if current != serverID {
			logger.Log.WithFields(logrus.Fields{
				"conversation_id": current,
				"server_id":       serverID,
			}).Warn("Backend returned a different conversation id, keeping the local one")
		}
		p.ConversationID = current
		return
	}
	o.assignIfPlaceholderLocked(p.ConversationID, serverID)
	p.ConversationID = serverID
}

func (o *Orchestrator) assignIfPlaceholderLocked(convID, serverID string) {
	if serverID == "" || !domain.IsPlaceholderID(o.store.Resolve(convID)) {
		return
	}
	if err := o.store.AssignID(convID, serverID); err != nil {
		logger.Log.WithError(err).WithField("conversation_id", convID).Warn("Failed to re-key conversation")
	}
}

func (o *Orchestrator) serverConversationID(convID string) *string {
	id := o.store.Resolve(convID)
	if id == "" || domain.IsPlaceholderID(id) {
		return nil
	}
	return &id
}

// beginCallLocked bumps the turn's generation and supersedes any call still in flight
func (o *Orchestrator) beginCallLocked(turnID string) (uint64, context.Context) {
	if cancel := o.cancels[turnID]; cancel != nil {
		cancel()
	}
	gen := o.generations[turnID] + 1
	o.generations[turnID] = gen

	var ctx context.Context
	var cancel context.CancelFunc
	if o.timeout > 0 {
		ctx, cancel = context.WithTimeout(o.ctx, o.timeout)
	} else {
		ctx, cancel = context.WithCancel(o.ctx)
	}
	o.cancels[turnID] = cancel
	return gen, ctx
}

// finishCallLocked reports whether a result issued under gen is still current
func (o *Orchestrator) finishCallLocked(turnID string, gen uint64) bool {
	if o.generations[turnID] != gen {
		return false
	}
	if cancel := o.cancels[turnID]; cancel != nil {
		cancel()
		delete(o.cancels, turnID)
	}
	return true
}

func (o *Orchestrator) discardPendingLocked() {
	if o.pending == nil {
		return
	}
	id := o.pending.ID
	if cancel := o.cancels[id]; cancel != nil {
		cancel()
		delete(o.cancels, id)
	}
	delete(o.generations, id)
	o.pending = nil
}

func (o *Orchestrator) run(f func()) {
	o.wg.Add(1)
	o.dispatch(func() {
		defer o.wg.Done()
		f()
	})
}

func (o *Orchestrator) emit(ev Event) {
	if o.listener != nil {
		o.listener(ev)
	}
}

// resolveVariant applies the edit rule: a rewritten choice carrying a different non-empty
// draft becomes an edit. Every other choice is used as requested.
func resolveVariant(variant api.Variant, draft string, rewritten *string) (api.Variant, *string, error) {
	hasDraft := strings.TrimSpace(draft) != ""
	switch variant {
	case api.VariantRewritten:
		if hasDraft && (rewritten == nil || draft != *rewritten) {
			return api.VariantEdited, api.StringPtr(draft), nil
		}
		if rewritten == nil {
			return api.VariantOriginal, nil, nil
		}
		return api.VariantRewritten, nil, nil
	case api.VariantEdited:
		if !hasDraft {
			return "", nil, ErrEmptyPrompt
		}
		return api.VariantEdited, api.StringPtr(draft), nil
	default:
		return api.VariantOriginal, nil, nil
	}
}

func logStale(turnID string, gen uint64, call string) {
	logger.Log.WithFields(logrus.Fields{
		"turn_id":    turnID,
		"generation": gen,
		"call":       call,
	}).Debug("Dropping superseded response")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func clone(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
