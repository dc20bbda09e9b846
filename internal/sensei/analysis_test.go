package sensei

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/llm"
	"github.com/abhisek/dojo/internal/store"
)

func analysisJSON(text string, ready bool) llm.MockResponse {
	raw, _ := json.Marshal(map[string]any{"analysis": text, "ready_for_promotion": ready})
	return llm.MockResponse{Content: raw}
}

func TestAnalyze_ReportsThresholdsAndJudgement(t *testing.T) {
	h := newHarness(t, store.SessionTraining, analysisJSON("Strong loops, shaky closures.", true))
	ctx := context.Background()
	require.NoError(t, h.repos.Sessions.CompleteSession(ctx, h.caller.SessionID,
		store.Evaluation{Correctness: "pass", Quality: "good"}, "", now))

	a, err := h.sensei.Analyze(ctx, "u1", "go")
	require.NoError(t, err)
	assert.Equal(t, belt.White, a.CurrentBelt)
	assert.Equal(t, belt.Yellow, a.NextBelt)
	assert.False(t, a.Eligible)
	assert.Equal(t, belt.Names(), a.BeltOrder)
	assert.Zero(t, a.CurrentBeltIndex)
	assert.Equal(t, "Strong loops, shaky closures.", a.Analysis)
	assert.True(t, a.ReadyForPromotion)

	req, ok := h.mock.LastCall()
	require.True(t, ok)
	assert.Same(t, AnalysisSchema, req.Schema)
	require.Len(t, req.Messages, 1)
	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, "progress in Go")
	assert.Contains(t, prompt, "Current belt: white")
	assert.Contains(t, prompt, "Next belt: yellow")
	assert.Contains(t, prompt, "No concepts tracked yet")
	assert.Contains(t, prompt, "training, pass/good")

	// The model's opinion does not touch the enrollment.
	e, err := h.repos.Enrollments.GetByUserSkill(ctx, "u1", "go")
	require.NoError(t, err)
	assert.Equal(t, belt.White, e.CurrentBelt)
	assert.False(t, e.AssessmentAvailable)
}

func TestAnalyze_BlackBelt(t *testing.T) {
	h := newHarness(t, store.SessionTraining, analysisJSON("Nothing left to earn.", false))
	ctx := context.Background()
	e, err := h.repos.Enrollments.GetByUserSkill(ctx, "u1", "go")
	require.NoError(t, err)
	require.NoError(t, h.repos.Enrollments.ForceBelt(ctx, e.ID, belt.Black))

	a, err := h.sensei.Analyze(ctx, "u1", "go")
	require.NoError(t, err)
	assert.Empty(t, a.NextBelt)
	assert.Equal(t, len(belt.Order)-1, a.CurrentBeltIndex)

	req, _ := h.mock.LastCall()
	assert.Contains(t, req.Messages[0].Content, "Next belt: max belt reached")
}

func TestAnalyze_Errors(t *testing.T) {
	h := newHarness(t, store.SessionTraining, llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: errors.New("down")}})
	ctx := context.Background()

	_, err := h.sensei.Analyze(ctx, "u1", "go")
	assert.ErrorAs(t, err, new(*llm.ErrProviderUnavailable))

	_, err = h.sensei.Analyze(ctx, "u1", "rust")
	assert.ErrorIs(t, err, store.ErrNotFound)

	none := NewService(nil, nil, h.repos, Config{}, nil)
	_, err = none.Analyze(ctx, "u1", "go")
	assert.ErrorIs(t, err, ErrNoProvider)
}
