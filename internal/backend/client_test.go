package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"learning-agent/internal/auth"
	"learning-agent/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestClient_InteractSendsContract(t *testing.T) {
	authenticator, err := auth.NewAuthenticator(secret, time.Minute)
	require.NoError(t, err)

	var got api.InteractRequest
	srv := httptest.NewServer(authenticator.Middleware(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/interact", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(api.InteractResponse{
			InteractionID:     "i-1",
			ConversationID:    "c-1",
			Intent:            api.StringPtr("conceptual"),
			Topic:             api.StringPtr("reinforcement learning"),
			RewrittenPrompt:   api.StringPtr("Explain RL intuitively"),
			RewriteStrategy:   api.StringPtr(api.StrategyLearningExplanation),
			DecisionRationale: "Your question was classified as conceptual.",
			ShowReasoning:     true,
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/", Authenticator: authenticator})
	resp, err := client.Interact(context.Background(), api.InteractRequest{
		Prompt:          "What is reinforcement learning?",
		EnhancerEnabled: true,
		Mode:            api.ModePtr(api.ModeLearning),
	})
	require.NoError(t, err)

	assert.Equal(t, "What is reinforcement learning?", got.Prompt)
	assert.True(t, got.EnhancerEnabled)
	require.NotNil(t, got.Mode)
	assert.Equal(t, api.ModeLearning, *got.Mode)
	assert.Nil(t, got.ConversationID)

	assert.Equal(t, "c-1", resp.ConversationID)
	assert.Equal(t, "reinforcement learning", *resp.Topic)
	assert.True(t, resp.ShowReasoning)
}

func TestClient_InteractMalformed(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		enhancer bool
	}{
		{name: "not json", body: "<html>", enhancer: true},
		{name: "missing ids", body: `{"intent":"other"}`, enhancer: true},
		{name: "direct answer missing", body: `{"interaction_id":"i","conversationId":"c"}`, enhancer: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(Config{BaseURL: srv.URL}).Interact(context.Background(), api.InteractRequest{
				Prompt:          "p",
				EnhancerEnabled: tt.enhancer,
			})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestClient_InteractDropsStrategyWithoutRewrite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"interaction_id":"i","conversationId":"c","rewrite_strategy":"other","rewritten_prompt":null}`))
	}))
	defer srv.Close()

	resp, err := NewClient(Config{BaseURL: srv.URL}).Interact(context.Background(), api.InteractRequest{Prompt: "p", EnhancerEnabled: true})
	require.NoError(t, err)
	assert.Nil(t, resp.RewriteStrategy)
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(api.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "Validation failed",
			Error:   "mode is required when enhancerEnabled is true",
		})
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).Interact(context.Background(), api.InteractRequest{Prompt: "p", EnhancerEnabled: true})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "mode is required")
}

func TestClient_Answer(t *testing.T) {
	var got api.AnswerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/answer", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"final_answer":"RL is learning from rewards."}`))
	}))
	defer srv.Close()

	resp, err := NewClient(Config{BaseURL: srv.URL}).Answer(context.Background(), api.AnswerRequest{
		Prompt:        "Explain RL",
		Mode:          api.ModeLearning,
		Intent:        "conceptual",
		Topic:         "reinforcement learning",
		ChosenVersion: api.VariantPtr(api.VariantRewritten),
	})
	require.NoError(t, err)
	assert.Equal(t, "RL is learning from rewards.", resp.FinalAnswer)
	assert.Equal(t, api.VariantRewritten, *got.ChosenVersion)
}

func TestClient_AnswerMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).Answer(context.Background(), api.AnswerRequest{Prompt: "p"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClient_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(Config{BaseURL: srv.URL}).Answer(ctx, api.AnswerRequest{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/api/health") {
			w.Write([]byte(`{"status":"ok"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(Config{BaseURL: srv.URL}).Health(context.Background()))
}
