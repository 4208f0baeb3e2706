package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"learning-agent/internal/reasoning"
	"learning-agent/pkg/api"
)

// Stage is the lifecycle position of a turn
type Stage string

const (
	StageClassifying Stage = "classifying"
	StageRewritten   Stage = "rewritten"
	StageAnswering   Stage = "answering"
	StageDone        Stage = "done"
)

// IntentError marks a turn whose classification call failed
const IntentError = "error"

// AnswerErrorPrefix starts every answer produced by a failed remote call
const AnswerErrorPrefix = "Error: "

var transitions = map[Stage][]Stage{
	StageClassifying: {StageRewritten, StageDone},
	StageRewritten:   {StageRewritten, StageAnswering, StageDone},
	StageAnswering:   {StageDone},
}

// CanTransition reports whether a turn may move from one stage to another.
// Done is terminal.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Turn is one prompt and its eventual answer
type Turn struct {
	ID                string       `json:"id"`
	ConversationID    string       `json:"conversationId"`
	OriginalPrompt    string       `json:"originalPrompt"`
	Mode              *api.Mode    `json:"mode,omitempty"`
	EnhancerUsed      bool         `json:"enhancerUsed"`
	Intent            *string      `json:"intent,omitempty"`
	Topic             *string      `json:"topic,omitempty"`
	RewrittenPrompt   *string      `json:"rewrittenPrompt,omitempty"`
	RewriteStrategy   *string      `json:"rewriteStrategy,omitempty"`
	DecisionRationale *string      `json:"decisionRationale,omitempty"`
	PromptFeedback    *string      `json:"promptFeedback,omitempty"`
	ChosenVariant     *api.Variant `json:"chosenVariant,omitempty"`
	EditedPrompt      *string      `json:"editedPrompt,omitempty"`
	FinalAnswer       *string      `json:"finalAnswer,omitempty"`
	Stage             Stage        `json:"stage,omitempty"`
	ShowReasoning     bool         `json:"showReasoning"`
	InteractionID     string       `json:"interactionId,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// UnmarshalJSON infers enhancerUsed from the mode for records that predate the flag
func (t *Turn) UnmarshalJSON(data []byte) error {
	type plain Turn
	aux := struct {
		*plain
		EnhancerUsed *bool `json:"enhancerUsed"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.EnhancerUsed != nil {
		t.EnhancerUsed = *aux.EnhancerUsed
	} else {
		t.EnhancerUsed = t.Mode != nil
	}
	return nil
}

// FeedbackBullets derives display bullets from the stored feedback text
func (t Turn) FeedbackBullets() []string {
	if t.PromptFeedback == nil {
		return nil
	}
	return reasoning.NormalizeFeedback(*t.PromptFeedback)
}

// ReasoningSummary is the one-line explanation shown above the prompt variants
func (t Turn) ReasoningSummary() string {
	return reasoning.Summarize(t.DecisionRationale, t.Intent)
}

// HasError reports whether the turn ended with a failure sentinel
func (t Turn) HasError() bool {
	if t.Intent != nil && *t.Intent == IntentError {
		return true
	}
	return t.FinalAnswer != nil && IsErrorAnswer(*t.FinalAnswer)
}

// ResolvedPrompt returns the text that is sent for answering under the chosen variant
func (t Turn) ResolvedPrompt() string {
	if t.ChosenVariant == nil {
		return t.OriginalPrompt
	}
	switch *t.ChosenVariant {
	case api.VariantEdited:
		if t.EditedPrompt != nil {
			return *t.EditedPrompt
		}
	case api.VariantRewritten:
		if t.RewrittenPrompt != nil {
			return *t.RewrittenPrompt
		}
	}
	return t.OriginalPrompt
}

// Clone returns a deep copy so callers cannot mutate shared pointers
func (t Turn) Clone() Turn {
	c := t
	c.Mode = clonePtr(t.Mode)
	c.Intent = clonePtr(t.Intent)
	c.Topic = clonePtr(t.Topic)
	c.RewrittenPrompt = clonePtr(t.RewrittenPrompt)
	c.RewriteStrategy = clonePtr(t.RewriteStrategy)
	c.DecisionRationale = clonePtr(t.DecisionRationale)
	c.PromptFeedback = clonePtr(t.PromptFeedback)
	c.ChosenVariant = clonePtr(t.ChosenVariant)
	c.EditedPrompt = clonePtr(t.EditedPrompt)
	c.FinalAnswer = clonePtr(t.FinalAnswer)
	return c
}

// Normalize fills defaults for turns written by older versions of the store and restores
// field invariants that older shapes did not enforce.
func (t *Turn) Normalize() {
	if t.Stage == "" {
		t.Stage = StageDone
	}
	if t.RewrittenPrompt == nil {
		t.RewriteStrategy = nil
	}
	if t.ChosenVariant == nil || *t.ChosenVariant != api.VariantEdited {
		t.EditedPrompt = nil
	}
	if t.ChosenVariant != nil && *t.ChosenVariant == api.VariantEdited && t.EditedPrompt == nil {
		v := api.VariantOriginal
		t.ChosenVariant = &v
	}
}

// Validate checks the field invariants of a turn
func (t Turn) Validate() error {
	var errs []error
	if t.ID == "" {
		errs = append(errs, errors.New("turn id is empty"))
	}
	if t.RewriteStrategy != nil && t.RewrittenPrompt == nil {
		errs = append(errs, errors.New("rewrite strategy set without a rewritten prompt"))
	}
	edited := t.ChosenVariant != nil && *t.ChosenVariant == api.VariantEdited
	if edited != (t.EditedPrompt != nil) {
		errs = append(errs, errors.New("edited prompt must be present exactly when the edited variant is chosen"))
	}
	if t.FinalAnswer != nil && t.Stage != StageDone {
		errs = append(errs, fmt.Errorf("final answer present in stage %q", t.Stage))
	}
	if t.EnhancerUsed && t.Mode == nil {
		errs = append(errs, errors.New("enhanced turn has no mode"))
	}
	return errors.Join(errs...)
}

// ErrorAnswer builds the sentinel answer stored when a remote call fails
func ErrorAnswer(err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return AnswerErrorPrefix + msg
}

// IsErrorAnswer reports whether an answer is a failure sentinel, either stored locally after
// a failed call or returned by the backend when its model call failed
func IsErrorAnswer(answer string) bool {
	return strings.HasPrefix(answer, AnswerErrorPrefix) || strings.HasPrefix(answer, api.AnswerFailurePrefix)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
