package validation

import (
	"errors"
	"sort"
	"strings"

	"learning-agent/pkg/api"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// InteractionValidator validates interact and answer requests
type InteractionValidator struct{}

// NewInteractionValidator creates a new InteractionValidator
func NewInteractionValidator() *InteractionValidator {
	return &InteractionValidator{}
}

var (
	notBlank = validation.By(func(value interface{}) error {
		if s, ok := value.(string); ok && s != "" && strings.TrimSpace(s) == "" {
			return errors.New("prompt cannot be blank")
		}
		return nil
	})
	validMode    = validation.In(api.ModeLearning, api.ModeSocratic).Error("mode must be one of: learning, socratic")
	validVariant = validation.In(api.VariantOriginal, api.VariantRewritten, api.VariantEdited).
			Error("chosen_version must be one of: original, rewritten, edited")
)

// ValidateInteract validates an interact request. A mode is required when the enhancer is enabled.
func (v *InteractionValidator) ValidateInteract(req api.InteractRequest) error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Prompt,
			validation.Required.Error("prompt cannot be empty"),
			notBlank,
		),
		validation.Field(&req.Mode,
			validation.When(req.EnhancerEnabled,
				validation.Required.Error("mode is required when enhancerEnabled is true"),
			),
			validMode,
		),
	)
}

// ValidateAnswer validates an answer request
func (v *InteractionValidator) ValidateAnswer(req api.AnswerRequest) error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Prompt,
			validation.Required.Error("prompt cannot be empty"),
			notBlank,
		),
		validation.Field(&req.Mode,
			validation.Required.Error("mode is required"),
			validMode,
		),
		validation.Field(&req.ChosenVersion, validVariant),
	)
}

// Message flattens a validation error into a single client-facing message.
// Field errors are joined in field order.
func Message(err error) string {
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(fieldErrs))
	for field := range fieldErrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	messages := make([]string, 0, len(fields))
	for _, field := range fields {
		if fieldErrs[field] != nil {
			messages = append(messages, fieldErrs[field].Error())
		}
	}
	return strings.Join(messages, "; ")
}
