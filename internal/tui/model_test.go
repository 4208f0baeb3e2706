package tui

import (
	"context"
	"errors"
	"sync"
	"testing"

	"learning-agent/internal/domain"
	"learning-agent/internal/persistence"
	"learning-agent/internal/store"
	"learning-agent/internal/workflow"
	"learning-agent/pkg/api"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	mu          sync.Mutex
	interactErr error
	interacts   []api.InteractRequest
	answers     []api.AnswerRequest
}

func (b *stubBackend) Interact(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interacts = append(b.interacts, req)
	if b.interactErr != nil {
		return nil, b.interactErr
	}
	if !req.EnhancerEnabled {
		return &api.InteractResponse{
			InteractionID:  "direct",
			ConversationID: "conv-1",
			FinalAnswer:    api.StringPtr("Direct answer."),
		}, nil
	}
	return &api.InteractResponse{
		InteractionID:     "interaction-1",
		ConversationID:    "conv-1",
		Intent:            api.StringPtr("conceptual"),
		Topic:             api.StringPtr("binary search"),
		RewrittenPrompt:   api.StringPtr("Explain binary search with an example."),
		DecisionRationale: "Your question was classified as conceptual. It asks for an explanation.",
		PromptFeedback:    api.StringPtr("• Asked for an example"),
		ShowReasoning:     true,
	}, nil
}

func (b *stubBackend) Answer(ctx context.Context, req api.AnswerRequest) (*api.AnswerResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers = append(b.answers, req)
	return &api.AnswerResponse{FinalAnswer: "Binary search halves the range."}, nil
}

type chatHarness struct {
	model   Model
	store   *store.Store
	backend *stubBackend
	calls   []func()
}

// newChatHarness wires a model to a real orchestrator. With queued set, backend calls wait
// until flush runs them.
func newChatHarness(t *testing.T, queued bool) *chatHarness {
	t.Helper()
	st, err := store.New(persistence.NewMemoryAdapter(nil))
	require.NoError(t, err)

	h := &chatHarness{store: st, backend: &stubBackend{}}
	dispatch := func(f func()) { f() }
	if queued {
		dispatch = func(f func()) { h.calls = append(h.calls, f) }
	}
	orch := workflow.New(h.backend, st, workflow.WithDispatcher(dispatch))
	h.model = New(st, orch, Settings{Mode: api.ModeLearning, Enhancer: true, GlamourStyle: "notty"})
	h.send(tea.WindowSizeMsg{Width: 100, Height: 40})
	return h
}

func (h *chatHarness) send(msg tea.Msg) {
	next, _ := h.model.Update(msg)
	h.model = next.(Model)
}

func (h *chatHarness) typeText(s string) {
	h.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func (h *chatHarness) press(k tea.KeyType) {
	h.send(tea.KeyMsg{Type: k})
}

func (h *chatHarness) flush() {
	calls := h.calls
	h.calls = nil
	for _, f := range calls {
		f()
	}
	h.send(EventMsg{Event: workflow.Event{Kind: workflow.EventCompleted}})
}

func TestModel_EnhancedTurnChooseRewritten(t *testing.T) {
	h := newChatHarness(t, false)

	h.typeText("what is binary search")
	h.press(tea.KeyEnter)

	require.NotNil(t, h.model.pending)
	assert.Equal(t, domain.StageRewritten, h.model.pending.Stage)
	assert.True(t, h.model.choosing())
	assert.False(t, h.model.input.Focused())
	assert.Contains(t, h.model.View(), "Explain binary search with an example.")
	assert.Contains(t, h.model.View(), "Asked for an example")

	h.typeText("2")

	assert.Nil(t, h.model.pending)
	assert.True(t, h.model.input.Focused())
	_, turns := h.store.Active()
	require.Len(t, turns, 1)
	assert.Equal(t, domain.StageDone, turns[0].Stage)
	assert.Equal(t, api.VariantRewritten, *turns[0].ChosenVariant)
	require.Len(t, h.backend.answers, 1)
	assert.Equal(t, "Explain binary search with an example.", h.backend.answers[0].Prompt)
	assert.Contains(t, h.model.View(), "Binary search halves the range.")
}

func TestModel_ChooseOriginal(t *testing.T) {
	h := newChatHarness(t, false)

	h.typeText("what is binary search")
	h.press(tea.KeyEnter)
	h.typeText("1")

	require.Len(t, h.backend.answers, 1)
	assert.Equal(t, "what is binary search", h.backend.answers[0].Prompt)
	assert.Equal(t, api.VariantOriginal, *h.backend.answers[0].ChosenVersion)
}

func TestModel_EditRewrite(t *testing.T) {
	h := newChatHarness(t, false)

	h.typeText("what is binary search")
	h.press(tea.KeyEnter)
	h.typeText("3")

	assert.True(t, h.model.editing)
	assert.Equal(t, "Explain binary search with an example.", h.model.input.Value())

	h.typeText(" Use Go.")
	h.press(tea.KeyEnter)

	assert.False(t, h.model.editing)
	_, turns := h.store.Active()
	require.Len(t, turns, 1)
	assert.Equal(t, api.VariantEdited, *turns[0].ChosenVariant)
	assert.Equal(t, "Explain binary search with an example. Use Go.", *turns[0].EditedPrompt)
}

func TestModel_EscLeavesEditMode(t *testing.T) {
	h := newChatHarness(t, false)

	h.typeText("what is binary search")
	h.press(tea.KeyEnter)
	h.typeText("3")
	h.press(tea.KeyEsc)

	assert.False(t, h.model.editing)
	require.NotNil(t, h.model.pending)
	assert.True(t, h.model.choosing())
	assert.Empty(t, h.backend.answers)
}

func TestModel_CancelRestoresPrompt(t *testing.T) {
	h := newChatHarness(t, true)

	h.typeText("explain heaps")
	h.press(tea.KeyEnter)

	require.NotNil(t, h.model.pending)
	assert.Equal(t, domain.StageClassifying, h.model.pending.Stage)
	assert.Empty(t, h.model.input.Value())

	h.press(tea.KeyEsc)

	assert.Nil(t, h.model.pending)
	assert.Equal(t, "explain heaps", h.model.input.Value())
	assert.True(t, h.model.input.Focused())

	// the late rewrite must not bring the turn back
	h.flush()
	assert.Nil(t, h.model.pending)
	_, turns := h.store.Active()
	assert.Empty(t, turns)
}

func TestModel_EnhancerOff(t *testing.T) {
	h := newChatHarness(t, false)

	h.press(tea.KeyTab)
	assert.False(t, h.model.enhancer)
	assert.Contains(t, h.model.View(), "enhancer off")

	h.typeText("hi")
	h.press(tea.KeyEnter)

	assert.Nil(t, h.model.pending)
	require.Len(t, h.backend.interacts, 1)
	assert.False(t, h.backend.interacts[0].EnhancerEnabled)
	assert.Empty(t, h.backend.answers)

	_, turns := h.store.Active()
	require.Len(t, turns, 1)
	assert.Equal(t, "Direct answer.", *turns[0].FinalAnswer)
}

func TestModel_ToggleMode(t *testing.T) {
	h := newChatHarness(t, false)

	h.press(tea.KeyCtrlT)
	assert.Equal(t, api.ModeSocratic, h.model.mode)

	h.typeText("what is recursion")
	h.press(tea.KeyEnter)
	require.Len(t, h.backend.interacts, 1)
	assert.Equal(t, api.ModeSocratic, *h.backend.interacts[0].Mode)

	h.press(tea.KeyEsc)
	h.press(tea.KeyCtrlT)
	assert.Equal(t, api.ModeLearning, h.model.mode)
}

func TestModel_EmptySubmitIgnored(t *testing.T) {
	h := newChatHarness(t, false)

	h.typeText("   ")
	h.press(tea.KeyEnter)

	assert.Nil(t, h.model.pending)
	assert.Empty(t, h.backend.interacts)
	assert.False(t, h.model.statusErr)
}

func TestModel_FailedClassification(t *testing.T) {
	h := newChatHarness(t, true)
	h.backend.interactErr = errors.New("connection refused")

	h.typeText("explain tries")
	h.press(tea.KeyEnter)
	for _, f := range h.calls {
		f()
	}
	h.calls = nil
	h.send(EventMsg{Event: workflow.Event{Kind: workflow.EventFailed, Err: errors.New("connection refused")}})

	assert.Nil(t, h.model.pending)
	assert.True(t, h.model.statusErr)
	assert.Contains(t, h.model.status, "connection refused")
	assert.True(t, h.model.input.Focused())
}

func TestModel_ConversationKeys(t *testing.T) {
	h := newChatHarness(t, false)

	h.press(tea.KeyTab)
	h.typeText("first")
	h.press(tea.KeyEnter)
	first := h.store.ActiveID()
	require.NotEmpty(t, first)

	h.press(tea.KeyCtrlN)
	assert.Empty(t, h.store.ActiveID())
	assert.Contains(t, h.model.View(), "No messages yet")

	h.send(tea.KeyMsg{Type: tea.KeyCtrlO})
	assert.Equal(t, first, h.store.ActiveID())

	h.press(tea.KeyCtrlD)
	assert.Empty(t, h.store.List())
	assert.Empty(t, h.store.ActiveID())
}

func TestModel_ConversationKeysIgnoredWhilePending(t *testing.T) {
	h := newChatHarness(t, true)

	h.typeText("explain graphs")
	h.press(tea.KeyEnter)
	active := h.store.ActiveID()

	h.press(tea.KeyCtrlN)
	assert.Equal(t, active, h.store.ActiveID())
	require.NotNil(t, h.model.pending)
}

func TestTurnMeta(t *testing.T) {
	tests := []struct {
		name string
		turn domain.Turn
		want string
	}{
		{
			name: "enhancer off",
			turn: domain.Turn{EnhancerUsed: false},
			want: "enhancer off",
		},
		{
			name: "rewritten choice",
			turn: domain.Turn{
				EnhancerUsed:  true,
				Mode:          api.ModePtr(api.ModeLearning),
				Intent:        api.StringPtr("conceptual"),
				ChosenVariant: api.VariantPtr(api.VariantRewritten),
			},
			want: "Learning mode · Conceptual · sent rewritten prompt",
		},
		{
			name: "classification error hides intent",
			turn: domain.Turn{
				EnhancerUsed: true,
				Mode:         api.ModePtr(api.ModeSocratic),
				Intent:       api.StringPtr(domain.IntentError),
			},
			want: "Socratic mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TurnMeta(tt.turn))
		})
	}
}
