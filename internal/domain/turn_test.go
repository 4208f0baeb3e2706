package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"learning-agent/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageClassifying, StageRewritten, true},
		{StageClassifying, StageDone, true},
		{StageClassifying, StageAnswering, false},
		{StageRewritten, StageRewritten, true},
		{StageRewritten, StageAnswering, true},
		{StageAnswering, StageDone, true},
		{StageAnswering, StageRewritten, false},
		{StageDone, StageAnswering, false},
		{StageDone, StageDone, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTurnValidate(t *testing.T) {
	edited := api.VariantEdited
	rewritten := api.VariantRewritten

	valid := Turn{ID: "t1", Stage: StageDone, FinalAnswer: api.StringPtr("answer")}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name string
		turn Turn
		want string
	}{
		{
			name: "strategy without rewrite",
			turn: Turn{ID: "t1", Stage: StageRewritten, RewriteStrategy: api.StringPtr("other")},
			want: "rewrite strategy",
		},
		{
			name: "edited variant without text",
			turn: Turn{ID: "t1", Stage: StageAnswering, ChosenVariant: &edited},
			want: "edited prompt",
		},
		{
			name: "edited text with other variant",
			turn: Turn{ID: "t1", Stage: StageAnswering, ChosenVariant: &rewritten, EditedPrompt: api.StringPtr("x")},
			want: "edited prompt",
		},
		{
			name: "answer before done",
			turn: Turn{ID: "t1", Stage: StageAnswering, FinalAnswer: api.StringPtr("x")},
			want: "final answer",
		},
		{
			name: "enhanced without mode",
			turn: Turn{ID: "t1", Stage: StageClassifying, EnhancerUsed: true},
			want: "no mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.turn.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTurnUnmarshal_LegacyRecords(t *testing.T) {
	var enhanced Turn
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","originalPrompt":"p","mode":"learning"}`), &enhanced))
	assert.True(t, enhanced.EnhancerUsed)

	var plain Turn
	require.NoError(t, json.Unmarshal([]byte(`{"id":"b","originalPrompt":"p"}`), &plain))
	assert.False(t, plain.EnhancerUsed)

	var explicit Turn
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c","mode":"socratic","enhancerUsed":false}`), &explicit))
	assert.False(t, explicit.EnhancerUsed)
}

func TestTurnNormalize(t *testing.T) {
	edited := api.VariantEdited
	turn := Turn{
		ID:              "t1",
		RewriteStrategy: api.StringPtr("other"),
		ChosenVariant:   &edited,
	}
	turn.Normalize()

	assert.Equal(t, StageDone, turn.Stage)
	assert.Nil(t, turn.RewriteStrategy)
	require.NotNil(t, turn.ChosenVariant)
	assert.Equal(t, api.VariantOriginal, *turn.ChosenVariant)
	assert.NoError(t, turn.Validate())
}

func TestTurnResolvedPrompt(t *testing.T) {
	turn := Turn{OriginalPrompt: "orig", RewrittenPrompt: api.StringPtr("rewritten")}
	assert.Equal(t, "orig", turn.ResolvedPrompt())

	turn.ChosenVariant = api.VariantPtr(api.VariantRewritten)
	assert.Equal(t, "rewritten", turn.ResolvedPrompt())

	turn.ChosenVariant = api.VariantPtr(api.VariantEdited)
	turn.EditedPrompt = api.StringPtr("mine")
	assert.Equal(t, "mine", turn.ResolvedPrompt())
}

func TestTurnClone_IsDeep(t *testing.T) {
	turn := Turn{ID: "t1", Intent: api.StringPtr("conceptual")}
	c := turn.Clone()
	*c.Intent = "changed"
	assert.Equal(t, "conceptual", *turn.Intent)
}

func TestErrorAnswer(t *testing.T) {
	answer := ErrorAnswer(errors.New("connection refused"))
	assert.Equal(t, "Error: connection refused", answer)
	assert.True(t, IsErrorAnswer(answer))
	assert.False(t, IsErrorAnswer("A regular answer"))

	turn := Turn{Intent: api.StringPtr(IntentError)}
	assert.True(t, turn.HasError())

	served := Turn{Stage: StageDone, FinalAnswer: api.StringPtr(api.AnswerFailurePrefix + "upstream 503")}
	assert.True(t, IsErrorAnswer(*served.FinalAnswer))
	assert.True(t, served.HasError())
}

func TestTitleFromPrompt(t *testing.T) {
	assert.Equal(t, "What is RL?", TitleFromPrompt("  What   is\nRL?  "))

	long := strings.Repeat("word ", 40)
	title := TitleFromPrompt(long)
	assert.True(t, strings.HasSuffix(title, "..."))
	assert.LessOrEqual(t, len([]rune(title)), MaxTitleLength)
}

func TestPlaceholderID(t *testing.T) {
	id := NewPlaceholderID()
	assert.True(t, IsPlaceholderID(id))
	assert.False(t, IsPlaceholderID("3f1c9a2e-0000-4000-8000-000000000000"))
	assert.NotEqual(t, id, NewPlaceholderID())
}

func TestConversationPersistable(t *testing.T) {
	conv := Conversation{
		ID: "c1",
		Turns: []Turn{
			{ID: "a", Stage: StageDone},
			{ID: "b", Stage: StageAnswering},
		},
	}
	p := conv.Persistable()
	require.Len(t, p.Turns, 1)
	assert.Equal(t, "a", p.Turns[0].ID)
	assert.Equal(t, 1, conv.CompletedTurns())
	assert.Equal(t, 1, conv.FindTurn("b"))
	assert.Equal(t, -1, conv.FindTurn("zzz"))
}
