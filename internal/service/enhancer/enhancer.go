// Package enhancer classifies a prompt's learning intent and rewrites it for the selected mode.
package enhancer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"learning-agent/internal/config"
	"learning-agent/internal/logger"
	"learning-agent/internal/reasoning"
	"learning-agent/internal/service/llm"
	"learning-agent/pkg/api"

	"github.com/sirupsen/logrus"
)

const (
	FallbackIntent = "other"
	FallbackTopic  = "general"

	classifyTemperature = 0.3
	rewriteTemperature  = 0.5
)

var errNoJSON = errors.New("no JSON object in model reply")

// Classification is the learning intent and topic of a prompt
type Classification struct {
	Intent string `json:"intent"`
	Topic  string `json:"topic"`
}

// Rewrite is the enhancer's proposed prompt and the feedback explaining it
type Rewrite struct {
	Prompt   string
	Strategy string
	Feedback []string
}

// Service runs classification and rewriting against an LLM provider
type Service struct {
	llm     llm.LLMProvider
	prompts *config.PromptCatalog
}

// NewService creates a new enhancer Service
func NewService(provider llm.LLMProvider, prompts *config.PromptCatalog) *Service {
	return &Service{llm: provider, prompts: prompts}
}

// ClassifyIntent asks the model for the prompt's intent and topic.
// Any failure yields the fallback classification.
func (s *Service) ClassifyIntent(ctx context.Context, prompt string) Classification {
	fallback := Classification{Intent: FallbackIntent, Topic: FallbackTopic}

	userMessage, err := s.prompts.RenderClassifier(config.ClassifierData{Prompt: prompt})
	if err != nil {
		logger.Log.WithError(err).Error("Failed to build classification prompt")
		return fallback
	}

	reply, err := s.llm.ChatWithHistory(ctx, []llm.Message{{Role: llm.RoleUser, Content: userMessage}}, llm.ChatOptions{
		SystemPrompt: s.prompts.Classifier.System,
		Temperature:  llm.Temperature(classifyTemperature),
		JSONMode:     true,
	})
	if err != nil {
		logger.Log.WithError(err).Warn("Classification failed, using fallback")
		return fallback
	}

	var result Classification
	if err := decodeJSON(reply, &result); err != nil {
		logger.Log.WithError(err).Warn("Classification reply was not valid JSON, using fallback")
		return fallback
	}

	result.Intent = strings.ToLower(strings.TrimSpace(result.Intent))
	if !s.prompts.IsKnownIntent(result.Intent) {
		result.Intent = FallbackIntent
	}
	result.Topic = strings.TrimSpace(result.Topic)
	if result.Topic == "" {
		result.Topic = FallbackTopic
	}

	logger.Log.WithFields(logrus.Fields{
		"intent": result.Intent,
		"topic":  result.Topic,
	}).Info("Intent classified")
	return result
}

type rewriteReply struct {
	RewrittenPrompt *string         `json:"rewrittenPrompt"`
	RewriteStrategy string          `json:"rewriteStrategy"`
	PromptFeedback  json.RawMessage `json:"promptFeedback"`
}

// RewritePrompt produces a learning-oriented version of prompt for mode.
// An unknown mode returns the original prompt with the "other" strategy; any model failure
// returns the original prompt with the mode's strategy and no feedback.
func (s *Service) RewritePrompt(ctx context.Context, prompt, intent string, mode api.Mode) Rewrite {
	modePrompt, ok := s.prompts.Mode(string(mode))
	if !ok {
		logger.Log.WithField("mode", mode).Warn("Unknown mode, returning original prompt")
		return Rewrite{Prompt: prompt, Strategy: api.StrategyOther}
	}
	fallback := Rewrite{Prompt: prompt, Strategy: modePrompt.Strategy}

	userMessage, err := s.prompts.RenderRewriter(config.RewriterData{
		Prompt:         prompt,
		Mode:           string(mode),
		Intent:         intent,
		IntentGuidance: s.prompts.IntentGuidance[intent],
		Instruction:    modePrompt.Instruction,
		Strategy:       modePrompt.Strategy,
	})
	if err != nil {
		logger.Log.WithError(err).Error("Failed to build rewrite prompt")
		return fallback
	}

	reply, err := s.llm.ChatWithHistory(ctx, []llm.Message{{Role: llm.RoleUser, Content: userMessage}}, llm.ChatOptions{
		SystemPrompt: s.prompts.Rewriter.System,
		Temperature:  llm.Temperature(rewriteTemperature),
		JSONMode:     true,
	})
	if err != nil {
		logger.Log.WithError(err).Warn("Rewrite failed, returning original prompt")
		return fallback
	}
	if strings.TrimSpace(reply) == "" {
		logger.Log.Warn("Empty rewrite reply, returning original prompt")
		return fallback
	}

	var parsed rewriteReply
	if err := decodeJSON(reply, &parsed); err != nil {
		logger.Log.WithError(err).WithField("reply_length", len(reply)).Error("Error parsing rewrite reply")
		return fallback
	}

	result := fallback
	if parsed.RewrittenPrompt != nil && strings.TrimSpace(*parsed.RewrittenPrompt) != "" {
		result.Prompt = strings.TrimSpace(*parsed.RewrittenPrompt)
	}
	if parsed.RewriteStrategy != "" {
		result.Strategy = parsed.RewriteStrategy
	}
	var bullets []string
	if len(parsed.PromptFeedback) > 0 && json.Unmarshal(parsed.PromptFeedback, &bullets) == nil {
		result.Feedback = reasoning.NormalizeBullets(bullets)
	}

	logger.Log.WithFields(logrus.Fields{
		"strategy":        result.Strategy,
		"rewrite_length":  len(result.Prompt),
		"feedback_points": len(result.Feedback),
	}).Info("Prompt rewritten")
	return result
}

// DecisionRationale explains in plain language what the agent did with the prompt
func DecisionRationale(enhancerEnabled bool, mode *api.Mode, intent, rewritten, strategy *string) string {
	if !enhancerEnabled {
		return "The enhancer is disabled, so the agent kept your original wording and sent it directly to the model."
	}
	if mode == nil || *mode == "" {
		return "The enhancer is enabled but no mode was specified."
	}
	if rewritten == nil || *rewritten == "" || strategy == nil || *strategy == "" {
		return fmt.Sprintf("You're in %s mode, so the agent kept your original wording and sent it directly to the model.", capitalize(string(*mode)))
	}

	switch *mode {
	case api.ModeLearning:
		switch deref(intent) {
		case "conceptual":
			return "Your question was classified as conceptual and you're in Learning mode, so the agent expanded your prompt to encourage a deeper explanation with examples and a small exercise."
		case "direct_answer":
			return "Your question was classified as requesting a direct answer, but you're in Learning mode, so the agent transformed it into a learning opportunity with structured explanations and examples."
		case "debugging":
			return "Your question was classified as debugging, and you're in Learning mode, so the agent rewrote your prompt to guide you toward understanding the root cause with examples."
		case "intuition":
			return "Your question was classified as seeking intuition, and you're in Learning mode, so the agent expanded your prompt to focus on building deep understanding of why things work."
		case "example":
			return "Your question was classified as requesting examples, and you're in Learning mode, so the agent structured your prompt to request examples with clear explanations."
		default:
			return "You're in Learning mode, so the agent expanded your prompt to encourage a deeper explanation with examples and a small exercise."
		}
	case api.ModeSocratic:
		return "Because you selected Socratic mode, the agent rewrote your prompt to encourage the model to ask you clarifying questions before explaining."
	default:
		return fmt.Sprintf("You're in %s mode, so the agent processed your prompt accordingly.", capitalize(string(*mode)))
	}
}

// decodeJSON unmarshals the first JSON object in reply, tolerating code fences around it
func decodeJSON(reply string, v any) error {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return errNoJSON
	}
	return json.Unmarshal([]byte(reply[start:end+1]), v)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
