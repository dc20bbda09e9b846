package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/dojo/internal/store"
)

// ErrInvalidState is returned for an operation the session's status does
// not allow.
var ErrInvalidState = errors.New("invalid session state")

// transitions lists the allowed status moves.
var transitions = map[store.SessionStatus][]store.SessionStatus{
	store.StatusActive:    {store.StatusCompleted, store.StatusAbandoned},
	store.StatusCompleted: {store.StatusActive},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to store.SessionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Complete flips an active session to completed and records the evaluation.
// A session that is no longer active yields ErrInvalidState and keeps its
// first evaluation.
func Complete(ctx context.Context, repo store.SessionRepo, id string, eval store.Evaluation, notes string, at time.Time) error {
	err := repo.CompleteSession(ctx, id, eval, notes, at)
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("complete session: %w", ErrInvalidState)
	}
	return err
}

// Reactivate reopens a completed session.
func Reactivate(ctx context.Context, repo store.SessionRepo, id string) error {
	return move(ctx, repo, id, store.StatusCompleted, store.StatusActive)
}

// Abandon soft-deletes an active session.
func Abandon(ctx context.Context, repo store.SessionRepo, id string) error {
	return move(ctx, repo, id, store.StatusActive, store.StatusAbandoned)
}

func move(ctx context.Context, repo store.SessionRepo, id string, from, to store.SessionStatus) error {
	err := repo.SetStatus(ctx, id, from, to)
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%s session: %w", to, ErrInvalidState)
	}
	return err
}

// RequireActive loads a session and checks it accepts new messages.
func RequireActive(ctx context.Context, repo store.SessionRepo, id string) (*store.Session, error) {
	s, err := repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != store.StatusActive {
		return nil, fmt.Errorf("session is %s: %w", s.Status, ErrInvalidState)
	}
	return s, nil
}
