package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"learning-agent/internal/domain"
	"learning-agent/internal/persistence"
	"learning-agent/internal/store"
	"learning-agent/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu            sync.Mutex
	interactFunc  func(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error)
	answerFunc    func(ctx context.Context, req api.AnswerRequest) (*api.AnswerResponse, error)
	interactCalls []api.InteractRequest
	answerCalls   []api.AnswerRequest
}

func (f *fakeBackend) Interact(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
	f.mu.Lock()
	f.interactCalls = append(f.interactCalls, req)
	fn := f.interactFunc
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("not implemented")
	}
	return fn(ctx, req)
}

func (f *fakeBackend) Answer(ctx context.Context, req api.AnswerRequest) (*api.AnswerResponse, error) {
	f.mu.Lock()
	f.answerCalls = append(f.answerCalls, req)
	fn := f.answerFunc
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("not implemented")
	}
	return fn(ctx, req)
}

// queue holds dispatched calls until the test runs them, in any order
type queue struct {
	fns []func()
}

func (q *queue) dispatch(f func()) { q.fns = append(q.fns, f) }
func (q *queue) run(i int)         { q.fns[i]() }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

type harness struct {
	orch    *Orchestrator
	backend *fakeBackend
	store   *store.Store
	adapter *persistence.MemoryAdapter
	events  *recorder
	queue   *queue
}

func newHarness(t *testing.T, queued bool) *harness {
	t.Helper()
	adapter := persistence.NewMemoryAdapter(nil)
	st, err := store.New(adapter)
	require.NoError(t, err)

	h := &harness{backend: &fakeBackend{}, store: st, adapter: adapter, events: &recorder{}}
	opts := []Option{WithListener(h.events.listen)}
	if queued {
		h.queue = &queue{}
		opts = append(opts, WithDispatcher(h.queue.dispatch))
	} else {
		opts = append(opts, WithDispatcher(func(f func()) { f() }))
	}
	n := 0
	opts = append(opts, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("turn-%d", n)
	}))
	h.orch = New(h.backend, st, opts...)
	return h
}

func rlRewrite(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
	return &api.InteractResponse{
		InteractionID:     "interaction-1",
		ConversationID:    "server-conv",
		Intent:            api.StringPtr("conceptual"),
		Topic:             api.StringPtr("reinforcement learning"),
		RewrittenPrompt:   api.StringPtr("Explain reinforcement learning starting from intuition."),
		RewriteStrategy:   api.StringPtr(api.StrategyLearningExplanation),
		DecisionRationale: "Your question was classified as conceptual and you're in Learning mode. More text.",
		PromptFeedback:    api.StringPtr("• Asked for intuition first\n• Added a short exercise"),
		ShowReasoning:     true,
	}, nil
}

func answerEcho(ctx context.Context, req api.AnswerRequest) (*api.AnswerResponse, error) {
	return &api.AnswerResponse{FinalAnswer: "answer to: " + req.Prompt}, nil
}

var learning = api.ModePtr(api.ModeLearning)

func TestSubmit_EnhancerOff_AnswersDirectly(t *testing.T) {
	h := newHarness(t, false)
	h.backend.interactFunc = func(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
		return &api.InteractResponse{
			InteractionID:     "i-1",
			ConversationID:    "server-conv",
			DecisionRationale: "The enhancer is disabled, so the agent kept your original wording.",
			FinalAnswer:       api.StringPtr("Paris."),
		}, nil
	}

	turn, err := h.orch.Submit("Capital of France?", nil, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StageAnswering, turn.Stage)
	assert.False(t, turn.EnhancerUsed)

	_, pending := h.orch.Pending()
	assert.False(t, pending)

	require.Len(t, h.backend.interactCalls, 1)
	req := h.backend.interactCalls[0]
	assert.False(t, req.EnhancerEnabled)
	assert.Nil(t, req.Mode)
	assert.Nil(t, req.ConversationID, "placeholder ids are never sent to the backend")

	activeID, turns := h.store.Active()
	assert.Equal(t, "server-conv", activeID)
	require.Len(t, turns, 1)
	got := turns[0]
	assert.Equal(t, domain.StageDone, got.Stage)
	assert.Equal(t, "Paris.", *got.FinalAnswer)
	assert.Equal(t, api.VariantOriginal, *got.ChosenVariant)
	assert.Nil(t, got.Intent)
	assert.NoError(t, got.Validate())

	stored := h.adapter.Snapshot()
	require.Contains(t, stored.Conversations, "server-conv")
	assert.Equal(t, []EventKind{EventSubmitted, EventCompleted}, h.events.kinds())
}

func TestSubmit_EnhancerOn_ClassifiesAndRewrites(t *testing.T) {
	h := newHarness(t, false)
	h.backend.interactFunc = rlRewrite

	turn, err := h.orch.Submit("What is reinforcement learning?", learning, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StageClassifying, turn.Stage)

	pending, ok := h.orch.Pending()
	require.True(t, ok)
	assert.Equal(t, domain.StageRewritten, pending.Stage)
	assert.Equal(t, "conceptual", *pending.Intent)
	assert.Equal(t, "reinforcement learning", *pending.Topic)
	assert.Equal(t, api.StrategyLearningExplanation, *pending.RewriteStrategy)
	assert.Equal(t, "server-conv", pending.ConversationID)
	assert.Equal(t, "interaction-1", pending.InteractionID)
	assert.True(t, pending.ShowReasoning)
	assert.Equal(t, []string{"Asked for intuition first", "Added a short exercise"}, pending.FeedbackBullets())
	assert.Equal(t, "Your question was classified as conceptual and you're in Learning mode.", pending.ReasoningSummary())
	assert.NoError(t, pending.Validate())

	_, turns := h.store.Active()
	assert.Empty(t, turns, "pending turns stay out of the conversation")
	assert.Empty(t, h.adapter.Snapshot().Conversations)
	assert.Equal(t, "server-conv", h.store.ActiveID())
}

func TestChoosePromptVariant(t *testing.T) {
	const rewrite = "Explain reinforcement learning starting from intuition."
	tests := []struct {
		name        string
		variant     api.Variant
		draft       string
		wantVariant api.Variant
		wantPrompt  string
		wantEdited  bool
	}{
		{name: "original", variant: api.VariantOriginal, wantVariant: api.VariantOriginal, wantPrompt: "What is reinforcement learning?"},
		{name: "rewritten", variant: api.VariantRewritten, wantVariant: api.VariantRewritten, wantPrompt: rewrite},
		{name: "rewritten with identical draft", variant: api.VariantRewritten, draft: rewrite, wantVariant: api.VariantRewritten, wantPrompt: rewrite},
		{name: "rewritten with different draft", variant: api.VariantRewritten, draft: "Explain RL with a grid world.", wantVariant: api.VariantEdited, wantPrompt: "Explain RL with a grid world.", wantEdited: true},
		{name: "edited", variant: api.VariantEdited, draft: "My own words", wantVariant: api.VariantEdited, wantPrompt: "My own words", wantEdited: true},
		{name: "edited identical to rewrite", variant: api.VariantEdited, draft: rewrite, wantVariant: api.VariantEdited, wantPrompt: rewrite, wantEdited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false)
			h.backend.interactFunc = rlRewrite
			h.backend.answerFunc = answerEcho

			turn, err := h.orch.Submit("What is reinforcement learning?", learning, true)
			require.NoError(t, err)

			chosen, err := h.orch.ChoosePromptVariant(turn.ID, tt.variant, tt.draft)
			require.NoError(t, err)
			assert.Equal(t, domain.StageAnswering, chosen.Stage)

			require.Len(t, h.backend.answerCalls, 1)
			req := h.backend.answerCalls[0]
			assert.Equal(t, tt.wantPrompt, req.Prompt)
			assert.Equal(t, tt.wantVariant, *req.ChosenVersion)
			assert.Equal(t, api.ModeLearning, req.Mode)
			assert.Equal(t, "conceptual", req.Intent)
			assert.Equal(t, "reinforcement learning", req.Topic)
			assert.Equal(t, "interaction-1", *req.InteractionID)
			assert.Equal(t, "server-conv", *req.ConversationID)
			assert.Equal(t, "What is reinforcement learning?", *req.OriginalPrompt)

			got, ok := h.store.FindTurn("server-conv", turn.ID)
			require.True(t, ok)
			assert.Equal(t, domain.StageDone, got.Stage)
			assert.Equal(t, "answer to: "+tt.wantPrompt, *got.FinalAnswer)
			assert.Equal(t, tt.wantVariant, *got.ChosenVariant)
			assert.Equal(t, tt.wantEdited, got.EditedPrompt != nil)
			assert.NoError(t, got.Validate())

			_, pending := h.orch.Pending()
			assert.False(t, pending)
			assert.Len(t, h.adapter.Snapshot().Conversations["server-conv"].Turns, 1)
		})
	}
}

func TestChoosePromptVariant_EmptyEdit(t *testing.T) {
	h := newHarness(t, false)
	h.backend.interactFunc = rlRewrite
	turn, _ := h.orch.Submit("What is RL?", learning, true)

	_, err := h.orch.ChoosePromptVariant(turn.ID, api.VariantEdited, "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	pending, ok := h.orch.Pending()
	require.True(t, ok)
	assert.Equal(t, domain.StageRewritten, pending.Stage)
}

func TestChoosePromptVariant_StaleOrWrongStage(t *testing.T) {
	h := newHarness(t, true)
	h.backend.interactFunc = rlRewrite

	_, err := h.orch.ChoosePromptVariant("unknown", api.VariantOriginal, "")
	assert.ErrorIs(t, err, ErrTurnNotFound)

	turn, err := h.orch.Submit("What is RL?", learning, true)
	require.NoError(t, err)

	_, err = h.orch.ChoosePromptVariant(turn.ID, api.VariantOriginal, "")
	assert.ErrorIs(t, err, ErrInvalidStage, "cannot choose while still classifying")

	_, err = h.orch.ChoosePromptVariant(turn.ID, api.Variant("bogus"), "")
	assert.ErrorIs(t, err, ErrInvalidVariant)
	assert.Empty(t, h.backend.answerCalls)
}

func TestAnswerFailure_KeepsRewriteMetadata(t *testing.T) {
	h := newHarness(t, false)
	h.backend.interactFunc = rlRewrite
	h.backend.answerFunc = func(ctx context.Context, req api.AnswerRequest) (*api.AnswerResponse, error) {
		return nil, errors.New("backend returned status 500")
	}

	turn, _ := h.orch.Submit("What is RL?", learning, true)
	_, err := h.orch.ChoosePromptVariant(turn.ID, api.VariantRewritten, "")
	require.NoError(t, err)

	got, ok := h.store.FindTurn("server-conv", turn.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StageDone, got.Stage)
	assert.True(t, domain.IsErrorAnswer(*got.FinalAnswer))
	assert.Contains(t, *got.FinalAnswer, "status 500")
	assert.Equal(t, "conceptual", *got.Intent)
	assert.NotNil(t, got.RewrittenPrompt)
	assert.Equal(t, EventFailed, h.events.kinds()[len(h.events.kinds())-1])
}

func TestClassificationFailure(t *testing.T) {
	h := newHarness(t, false)
	h.backend.interactFunc = func(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
		return nil, errors.New("connection refused")
	}

	turn, err := h.orch.Submit("What is RL?", learning, true)
	require.NoError(t, err)

	_, pending := h.orch.Pending()
	assert.False(t, pending)

	_, turns := h.store.Active()
	require.Len(t, turns, 1)
	got := turns[0]
	assert.Equal(t, turn.ID, got.ID)
	assert.Equal(t, domain.StageDone, got.Stage)
	assert.Equal(t, domain.IntentError, *got.Intent)
	assert.Equal(t, "Error: connection refused", *got.FinalAnswer)
	assert.Nil(t, got.RewrittenPrompt)
	assert.True(t, got.HasError())
	assert.NoError(t, got.Validate())
	assert.Equal(t, []EventKind{EventSubmitted, EventFailed}, h.events.kinds())
}

func TestRegenerate_LatestResponseWins(t *testing.T) {
	h := newHarness(t, true)
	calls := 0
	h.backend.interactFunc = func(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
		calls++
		return &api.InteractResponse{
			InteractionID:     fmt.Sprintf("interaction-%d", calls),
			ConversationID:    "server-conv",
			Intent:            api.StringPtr("conceptual"),
			RewrittenPrompt:   api.StringPtr(fmt.Sprintf("rewrite-%d", calls)),
			RewriteStrategy:   api.StringPtr(api.StrategyLearningExplanation),
			DecisionRationale: "Rationale.",
			ShowReasoning:     true,
		}, nil
	}

	turn, err := h.orch.Submit("What is RL?", learning, true)
	require.NoError(t, err)
	h.queue.run(0)

	_, err = h.orch.Regenerate(turn.ID)
	require.NoError(t, err)
	_, err = h.orch.Regenerate(turn.ID)
	require.NoError(t, err)
	require.Len(t, h.queue.fns, 3)

	// newest request answers first, the superseded one arrives late
	h.queue.run(2)
	h.queue.run(1)

	pending, ok := h.orch.Pending()
	require.True(t, ok)
	assert.Equal(t, "rewrite-2", *pending.RewrittenPrompt)
	assert.Equal(t, "interaction-2", pending.InteractionID)
	assert.Equal(t, domain.StageRewritten, pending.Stage)
	assert.Equal(t, turn.ID, pending.ID)
	assert.Equal(t, "What is RL?", pending.OriginalPrompt)
}

func TestRegenerate_KeepsIntentWhenNotReturned(t *testing.T) {
	h := newHarness(t, false)
	h.backend.interactFunc = rlRewrite
	turn, _ := h.orch.Submit("What is RL?", learning, true)

	h.backend.interactFunc = func(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
		assert.Equal(t, "server-conv", *req.ConversationID)
		assert.True(t, req.EnhancerEnabled)
		return &api.InteractResponse{
			InteractionID:     "interaction-2",
			ConversationID:    "server-conv",
			Topic:             api.StringPtr("markov decision processes"),
			RewrittenPrompt:   api.StringPtr("A different rewrite"),
			DecisionRationale: "Second rationale.",
		}, nil
	}
	_, err := h.orch.Regenerate(turn.ID)
	require.NoError(t, err)

	pending, ok := h.orch.Pending()
	require.True(t, ok)
	assert.Equal(t, "conceptual", *pending.Intent)
	assert.Equal(t, "markov decision processes", *pending.Topic)
	assert.Equal(t, "A different rewrite", *pending.RewrittenPrompt)
	assert.Nil(t, pending.RewriteStrategy)
	assert.Nil(t, pending.PromptFeedback)
	assert.Nil(t, pending.EditedPrompt)
}

func TestRegenerate_Rejections(t *testing.T) {
	h := newHarness(t, true)
	h.backend.interactFunc = rlRewrite

	_, err := h.orch.Regenerate("nope")
	assert.ErrorIs(t, err, ErrTurnNotFound)

	turn, _ := h.orch.Submit("What is RL?", learning, true)
	_, err = h.orch.Regenerate(turn.ID)
	assert.ErrorIs(t, err, ErrInvalidStage)
}

func TestCancel_RestoresPromptAndDropsLateResponse(t *testing.T) {
	h := newHarness(t, true)
	var sawCancel bool
	h.backend.interactFunc = func(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
		sawCancel = ctx.Err() != nil
		return rlRewrite(ctx, req)
	}

	turn, err := h.orch.Submit("What is RL?", learning, true)
	require.NoError(t, err)

	prompt, err := h.orch.Cancel(turn.ID)
	require.NoError(t, err)
	assert.Equal(t, "What is RL?", prompt)

	h.queue.run(0)
	assert.True(t, sawCancel, "in-flight request context is cancelled")

	_, pending := h.orch.Pending()
	assert.False(t, pending)
	_, turns := h.store.Active()
	assert.Empty(t, turns)
	assert.Empty(t, h.adapter.Snapshot().Conversations)
	assert.Equal(t, []EventKind{EventSubmitted, EventCancelled}, h.events.kinds())

	// a new submission is accepted after cancelling
	_, err = h.orch.Submit("Another question", learning, true)
	assert.NoError(t, err)
}

func TestCancel_OnlyPendingTurns(t *testing.T) {
	h := newHarness(t, false)
	h.backend.interactFunc = func(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
		return &api.InteractResponse{InteractionID: "i", ConversationID: "c", FinalAnswer: api.StringPtr("a")}, nil
	}
	turn, _ := h.orch.Submit("plain", nil, false)

	_, err := h.orch.Cancel(turn.ID)
	assert.ErrorIs(t, err, ErrTurnNotFound)
	_, err = h.orch.Cancel("missing")
	assert.ErrorIs(t, err, ErrTurnNotFound)
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.orch.Submit("   ", learning, true)
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = h.orch.Submit("What is RL?", nil, true)
	assert.ErrorIs(t, err, ErrModeRequired)

	_, err = h.orch.Submit("What is RL?", api.ModePtr("lecture"), true)
	assert.ErrorIs(t, err, ErrModeRequired)

	assert.Empty(t, h.queue.fns)
}

func TestSubmit_SinglePendingTurn(t *testing.T) {
	h := newHarness(t, true)
	h.backend.interactFunc = rlRewrite

	_, err := h.orch.Submit("first", learning, true)
	require.NoError(t, err)
	_, err = h.orch.Submit("second", learning, true)
	assert.ErrorIs(t, err, ErrTurnPending)
	_, err = h.orch.Submit("third", nil, false)
	assert.ErrorIs(t, err, ErrTurnPending)

	h.queue.run(0)
	pending, ok := h.orch.Pending()
	require.True(t, ok)
	assert.Equal(t, "first", pending.OriginalPrompt)
}

func TestDeletedConversation_DropsLateAnswer(t *testing.T) {
	h := newHarness(t, true)
	h.backend.interactFunc = func(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
		return &api.InteractResponse{InteractionID: "i", ConversationID: "server-conv", FinalAnswer: api.StringPtr("late")}, nil
	}

	turn, err := h.orch.Submit("plain question", nil, false)
	require.NoError(t, err)
	require.NoError(t, h.store.DeleteConversation(turn.ConversationID))

	h.queue.run(0)

	_, ok := h.store.Get(turn.ConversationID)
	assert.False(t, ok)
	_, ok = h.store.Get("server-conv")
	assert.False(t, ok, "deleted conversation must not be resurrected")
	assert.Empty(t, h.adapter.Snapshot().Conversations)
	assert.Equal(t, []EventKind{EventSubmitted}, h.events.kinds())
}

func TestDeletedConversation_DropsPendingTurn(t *testing.T) {
	h := newHarness(t, true)
	h.backend.interactFunc = rlRewrite

	turn, err := h.orch.Submit("What is RL?", learning, true)
	require.NoError(t, err)
	require.NoError(t, h.store.DeleteConversation(turn.ConversationID))

	h.queue.run(0)
	_, pending := h.orch.Pending()
	assert.False(t, pending)
	assert.Equal(t, EventCancelled, h.events.kinds()[1])
}

func TestContinuesConversationWithServerID(t *testing.T) {
	h := newHarness(t, false)
	h.backend.interactFunc = func(ctx context.Context, req api.InteractRequest) (*api.InteractResponse, error) {
		return &api.InteractResponse{InteractionID: "i", ConversationID: "server-conv", FinalAnswer: api.StringPtr("a")}, nil
	}

	_, err := h.orch.Submit("first", nil, false)
	require.NoError(t, err)
	_, err = h.orch.Submit("second", nil, false)
	require.NoError(t, err)

	require.Len(t, h.backend.interactCalls, 2)
	assert.Nil(t, h.backend.interactCalls[0].ConversationID)
	require.NotNil(t, h.backend.interactCalls[1].ConversationID)
	assert.Equal(t, "server-conv", *h.backend.interactCalls[1].ConversationID)

	conv, ok := h.store.Get("server-conv")
	require.True(t, ok)
	assert.Len(t, conv.Turns, 2)
	assert.Equal(t, "first", conv.Title)
}

func TestGoroutineDispatcher(t *testing.T) {
	adapter := persistence.NewMemoryAdapter(nil)
	st, err := store.New(adapter)
	require.NoError(t, err)
	backend := &fakeBackend{interactFunc: rlRewrite, answerFunc: answerEcho}

	done := make(chan Event, 8)
	orch := New(backend, st, WithListener(func(ev Event) {
		if ev.Terminal() || ev.Kind == EventRewritten {
			done <- ev
		}
	}))
	defer orch.Close()

	turn, err := orch.Submit("What is RL?", learning, true)
	require.NoError(t, err)
	ev := <-done
	require.Equal(t, EventRewritten, ev.Kind)

	_, err = orch.ChoosePromptVariant(turn.ID, api.VariantRewritten, "")
	require.NoError(t, err)
	ev = <-done
	require.Equal(t, EventCompleted, ev.Kind)
	orch.Wait()

	got, ok := st.FindTurn("server-conv", turn.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StageDone, got.Stage)
}

func TestClose_RejectsSubmissions(t *testing.T) {
	h := newHarness(t, false)
	h.orch.Close()
	_, err := h.orch.Submit("p", nil, false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEventsCarryValidTurns(t *testing.T) {
	h := newHarness(t, false)
	h.backend.interactFunc = rlRewrite
	h.backend.answerFunc = answerEcho

	turn, _ := h.orch.Submit("What is RL?", learning, true)
	_, err := h.orch.ChoosePromptVariant(turn.ID, api.VariantEdited, "custom")
	require.NoError(t, err)

	assert.Equal(t, []EventKind{EventSubmitted, EventRewritten, EventAnswering, EventCompleted}, h.events.kinds())
	for _, ev := range h.events.events {
		assert.NoError(t, ev.Turn.Validate(), "event %s", ev.Kind)
		assert.True(t, ev.Turn.EnhancerUsed)
	}
}
