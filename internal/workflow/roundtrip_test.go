package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"learning-agent/internal/api/handlers"
	"learning-agent/internal/backend"
	"learning-agent/internal/domain"
	"learning-agent/internal/persistence"
	"learning-agent/internal/repository/memory"
	"learning-agent/internal/service/llm"
	"learning-agent/internal/store"
	"learning-agent/internal/testutil"
	"learning-agent/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServedOrchestrator runs the real handlers behind httptest and points an orchestrator at
// them through the HTTP client
func newServedOrchestrator(t *testing.T, reply func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error)) (*Orchestrator, *store.Store, *recorder) {
	t.Helper()
	config := testutil.NewMockConfig(memory.New())
	config.LLM = &testutil.MockLLMProvider{ChatWithHistoryFunc: reply}
	h := handlers.NewInteractionHandlers(config)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/interact", h.InteractHandler)
	mux.HandleFunc("POST /api/answer", h.AnswerHandler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	st, err := store.New(persistence.NewMemoryAdapter(nil))
	require.NoError(t, err)
	events := &recorder{}
	client := backend.NewClient(backend.Config{BaseURL: server.URL})
	orch := New(client, st, WithDispatcher(func(f func()) { f() }), WithListener(events.listen))
	t.Cleanup(orch.Close)
	return orch, st, events
}

// answersFail classifies and rewrites normally but fails every answer call
func answersFail(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	if opts.JSONMode && strings.Contains(opts.SystemPrompt, "classifier") {
		return `{"intent":"conceptual","topic":"recursion"}`, nil
	}
	if opts.JSONMode {
		return `{"rewrittenPrompt":"Explain recursion with a small example.","rewriteStrategy":"learning_explanation","promptFeedback":["Asked for an example"]}`, nil
	}
	return "", errors.New("upstream 503")
}

func TestRoundTrip_AnswerFailureEndsAsFailedTurn(t *testing.T) {
	tests := []struct {
		name     string
		enhancer bool
	}{
		{name: "chosen prompt", enhancer: true},
		{name: "enhancer off", enhancer: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch, st, events := newServedOrchestrator(t, answersFail)

			turn, err := orch.Submit("What is recursion?", learning, tt.enhancer)
			require.NoError(t, err)
			if tt.enhancer {
				_, err = orch.ChoosePromptVariant(turn.ID, api.VariantRewritten, "")
				require.NoError(t, err)
			}
			orch.Wait()

			_, turns := st.Active()
			require.Len(t, turns, 1)
			got := turns[0]
			assert.Equal(t, domain.StageDone, got.Stage)
			assert.True(t, got.HasError())
			assert.Equal(t, api.AnswerFailurePrefix+"upstream 503", *got.FinalAnswer)

			last := events.events[len(events.events)-1]
			assert.Equal(t, EventFailed, last.Kind)
			assert.ErrorIs(t, last.Err, ErrAnswerFailed)
		})
	}
}

func TestRoundTrip_AnswerSuccess(t *testing.T) {
	orch, st, events := newServedOrchestrator(t, func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
		if opts.JSONMode {
			return answersFail(ctx, messages, opts)
		}
		return "A function that calls itself.", nil
	})

	turn, err := orch.Submit("What is recursion?", learning, true)
	require.NoError(t, err)
	_, err = orch.ChoosePromptVariant(turn.ID, api.VariantRewritten, "")
	require.NoError(t, err)
	orch.Wait()

	id, turns := st.Active()
	assert.False(t, domain.IsPlaceholderID(id))
	require.Len(t, turns, 1)
	assert.False(t, turns[0].HasError())
	assert.Equal(t, "A function that calls itself.", *turns[0].FinalAnswer)
	assert.Equal(t, EventCompleted, events.kinds()[len(events.kinds())-1])
}
