package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/dojo/internal/store"
	"github.com/abhisek/dojo/internal/store/memstore"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(store.StatusActive, store.StatusCompleted))
	assert.True(t, CanTransition(store.StatusActive, store.StatusAbandoned))
	assert.True(t, CanTransition(store.StatusCompleted, store.StatusActive))
	assert.False(t, CanTransition(store.StatusAbandoned, store.StatusActive))
	assert.False(t, CanTransition(store.StatusCompleted, store.StatusAbandoned))
}

func TestCompleteTwiceKeepsFirstEvaluation(t *testing.T) {
	repo := memstore.New().Repos().Sessions
	ctx := context.Background()
	s := &store.Session{EnrollmentID: "e1", UserID: "u1", Type: store.SessionTraining}
	require.NoError(t, repo.CreateSession(ctx, s))

	first := store.Evaluation{Correctness: "pass", Quality: "good"}
	require.NoError(t, Complete(ctx, repo, s.ID, first, "nice", time.Now()))

	err := Complete(ctx, repo, s.ID, store.Evaluation{Correctness: "fail", Quality: "needs_work"}, "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got.Evaluation)
	assert.Equal(t, "nice", got.Notes)
}

func TestReactivateAndAbandon(t *testing.T) {
	repo := memstore.New().Repos().Sessions
	ctx := context.Background()
	s := &store.Session{EnrollmentID: "e1", UserID: "u1", Type: store.SessionTraining}
	require.NoError(t, repo.CreateSession(ctx, s))

	assert.ErrorIs(t, Reactivate(ctx, repo, s.ID), ErrInvalidState)
	require.NoError(t, Abandon(ctx, repo, s.ID))

	_, err := RequireActive(ctx, repo, s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, Abandon(ctx, repo, s.ID), ErrInvalidState)

	_, err = RequireActive(ctx, repo, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
