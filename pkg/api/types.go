package api

// Mode selects how the enhancer rewrites a prompt
type Mode string

const (
	ModeLearning Mode = "learning"
	ModeSocratic Mode = "socratic"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m == ModeLearning || m == ModeSocratic
}

// Variant is the prompt version the user chose to send for answering
type Variant string

const (
	VariantOriginal  Variant = "original"
	VariantRewritten Variant = "rewritten"
	VariantEdited    Variant = "edited"
)

// Valid reports whether v is a known variant
func (v Variant) Valid() bool {
	return v == VariantOriginal || v == VariantRewritten || v == VariantEdited
}

// AnswerFailurePrefix starts the final_answer the backend returns, with status 200, when the
// model call behind it failed
const AnswerFailurePrefix = "Error getting LLM response: "

// Rewrite strategies reported by the backend
const (
	StrategyLearningExplanation = "learning_explanation"
	StrategySocraticQuestioning = "socratic_questioning"
	StrategyOther               = "other"
)

// InteractRequest is the body of POST /api/interact (classify + rewrite, or a direct answer
// when the enhancer is disabled)
type InteractRequest struct {
	Prompt          string  `json:"prompt"`
	EnhancerEnabled bool    `json:"enhancerEnabled"`
	Mode            *Mode   `json:"mode,omitempty"`
	ConversationID  *string `json:"conversationId,omitempty"`
}

// InteractResponse is returned by POST /api/interact
type InteractResponse struct {
	InteractionID     string  `json:"interaction_id"`
	ConversationID    string  `json:"conversationId"`
	Intent            *string `json:"intent"`
	Topic             *string `json:"topic"`
	RewrittenPrompt   *string `json:"rewritten_prompt"`
	RewriteStrategy   *string `json:"rewrite_strategy"`
	DecisionRationale string  `json:"decisionRationale"`
	PromptFeedback    *string `json:"promptFeedback"`
	FinalAnswer       *string `json:"final_answer"`
	ShowReasoning     bool    `json:"showReasoning"`
}

// AnswerRequest is the body of POST /api/answer
type AnswerRequest struct {
	Prompt          string   `json:"prompt"`
	Mode            Mode     `json:"mode"`
	Intent          string   `json:"intent"`
	Topic           string   `json:"topic"`
	InteractionID   *string  `json:"interaction_id,omitempty"`
	ConversationID  *string  `json:"conversationId,omitempty"`
	ChosenVersion   *Variant `json:"chosen_version,omitempty"`
	OriginalPrompt  *string  `json:"original_prompt,omitempty"`
	RewrittenPrompt *string  `json:"rewritten_prompt,omitempty"`
}

// AnswerResponse is returned by POST /api/answer
type AnswerResponse struct {
	FinalAnswer string `json:"final_answer"`
}

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// ModePtr returns a pointer to m
func ModePtr(m Mode) *Mode {
	return &m
}

// VariantPtr returns a pointer to v
func VariantPtr(v Variant) *Variant {
	return &v
}
