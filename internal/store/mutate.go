package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds the optimistic-concurrency retry loop of MutateEnrollment.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64

	// OnConflict, when set, is called after each lost version race.
	OnConflict func(attempt int)
}

// DefaultRetryPolicy allows five attempts with 10ms..200ms exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		InitialWait: 10 * time.Millisecond,
		MaxWait:     200 * time.Millisecond,
		Multiplier:  2.0,
	}
}

// MutateEnrollment reads the enrollment, applies mutate to a fresh copy and
// saves it conditioned on the version that was read. A lost race re-reads and
// re-applies, up to policy.MaxAttempts times. The mutate callback must be
// safe to run more than once. Returning ErrNoChange from mutate ends the loop
// without writing and returns the enrollment as read.
func MutateEnrollment(ctx context.Context, repo EnrollmentRepo, id string, policy RetryPolicy, mutate func(e *Enrollment) error) (*Enrollment, error) {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := range attempts {
		e, err := repo.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load enrollment: %w", err)
		}

		if err := mutate(e); err != nil {
			if errors.Is(err, ErrNoChange) {
				return e, nil
			}
			return nil, err
		}

		err = repo.Save(ctx, e)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("save enrollment: %w", err)
		}

		if policy.OnConflict != nil {
			policy.OnConflict(attempt + 1)
		}
		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.backoff(attempt)):
		}
	}

	return nil, fmt.Errorf("save enrollment after %d attempts: %w", attempts, ErrConflict)
}

// backoff computes the wait duration for the given attempt with ±20% jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	wait := float64(p.InitialWait) * math.Pow(mult, float64(attempt))
	if p.MaxWait > 0 && wait > float64(p.MaxWait) {
		wait = float64(p.MaxWait)
	}
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
