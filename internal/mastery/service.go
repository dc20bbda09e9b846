package mastery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/metrics"
	"github.com/abhisek/dojo/internal/store"
)

// Service persists concept updates with bounded optimistic retries.
type Service struct {
	repo    store.EnrollmentRepo
	policy  store.RetryPolicy
	metrics *metrics.Metrics
	log     *zap.Logger

	// Now is the clock used for lastSeen and decay.
	Now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy overrides the default five-attempt retry policy.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock sets the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.Now = now }
}

// NewService creates a mastery service over repo.
func NewService(repo store.EnrollmentRepo, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		policy: store.DefaultRetryPolicy(),
		log:    zap.NewNop(),
		Now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Update is the outcome of UpdateMastery.
type Update struct {
	Key     string
	Concept store.Concept
	Version int64
}

// UpdateMastery records one exposure of the named concept. The write is
// retried on version conflicts; a conflict that outlives the retry policy is
// returned wrapping store.ErrConflict.
func (s *Service) UpdateMastery(ctx context.Context, enrollmentID, name string, x Exposure) (*Update, error) {
	if NormalizeKey(name) == "" {
		return nil, fmt.Errorf("update mastery: empty concept name")
	}

	var key string
	e, err := s.mutate(ctx, "update_mastery", enrollmentID, func(e *store.Enrollment) error {
		var c *store.Concept
		key, c = GetOrCreate(e, name, x.BeltLevel)
		RecordExposure(c, x, s.Now())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update mastery %s: %w", key, err)
	}

	s.log.Debug("mastery updated",
		zap.String("enrollment", enrollmentID),
		zap.String("concept", key),
		zap.Float64("mastery", e.Concepts[key].Mastery),
		zap.Int64("version", e.Version))

	return &Update{Key: key, Concept: *e.Concepts[key], Version: e.Version}, nil
}

// QueueReinforcement appends an explicit revisit request.
func (s *Service) QueueReinforcement(ctx context.Context, enrollmentID string, item store.ReinforcementItem) error {
	item.Concept = NormalizeKey(item.Concept)
	if item.Concept == "" {
		return fmt.Errorf("queue reinforcement: empty concept name")
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = s.Now().UTC()
	}
	_, err := s.mutate(ctx, "queue_reinforcement", enrollmentID, func(e *store.Enrollment) error {
		e.ReinforcementQueue = append(e.ReinforcementQueue, item)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue reinforcement %s: %w", item.Concept, err)
	}
	return nil
}

// TallyObservation records an observation severity on an existing concept.
// Unknown concepts are left alone.
func (s *Service) TallyObservation(ctx context.Context, enrollmentID, name, severity string) error {
	key := NormalizeKey(name)
	_, err := s.mutate(ctx, "record_observation", enrollmentID, func(e *store.Enrollment) error {
		c, ok := e.Concepts[key]
		if !ok {
			return store.ErrNoChange
		}
		TallyObservation(c, severity)
		return nil
	})
	if err != nil {
		return fmt.Errorf("tally observation %s: %w", key, err)
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, op, enrollmentID string, fn func(*store.Enrollment) error) (*store.Enrollment, error) {
	policy := s.policy
	policy.OnConflict = func(attempt int) {
		s.metrics.RecordWriteConflict(op)
		s.log.Debug("enrollment version conflict",
			zap.String("op", op),
			zap.String("enrollment", enrollmentID),
			zap.Int("attempt", attempt))
	}
	e, err := store.MutateEnrollment(ctx, s.repo, enrollmentID, policy, fn)
	if errors.Is(err, store.ErrConflict) {
		s.log.Warn("enrollment write gave up after retries",
			zap.String("op", op), zap.String("enrollment", enrollmentID))
	}
	return e, err
}
