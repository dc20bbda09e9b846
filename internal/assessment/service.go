// Package assessment owns belt eligibility and the audited belt transitions
// of an enrollment.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/activity"
	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/metrics"
	"github.com/abhisek/dojo/internal/store"
)

// ErrConcurrentModification is returned when a promotion's belt write loses
// a version race. The caller may retry the whole promotion.
var ErrConcurrentModification = fmt.Errorf("concurrent modification, please retry: %w", store.ErrConflict)

// ErrNotEligible is returned by Promote when the enrollment's assessment flag
// is not set.
var ErrNotEligible = errors.New("not eligible for promotion")

// Promotion describes a completed belt change.
type Promotion struct {
	FromBelt belt.Belt `json:"from_belt"`
	ToBelt   belt.Belt `json:"to_belt"`
	// Replayed is true when the promotion had already been applied for the
	// same source session.
	Replayed bool `json:"replayed,omitempty"`
}

// Service evaluates and applies belt transitions.
type Service struct {
	repos   store.Repos
	emitter activity.Emitter
	policy  store.RetryPolicy
	metrics *metrics.Metrics
	log     *zap.Logger

	// Now is the clock used for decay and history timestamps.
	Now func() time.Time
}

// NewService creates an assessment service.
func NewService(repos store.Repos, emitter activity.Emitter, m *metrics.Metrics, log *zap.Logger) *Service {
	if emitter == nil {
		emitter = activity.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repos:   repos,
		emitter: emitter,
		policy:  store.DefaultRetryPolicy(),
		metrics: m,
		log:     log,
		Now:     time.Now,
	}
}

// CheckEligibility evaluates the enrollment against its belt thresholds and
// stores the assessment flag when the outcome differs from the stored one.
func (s *Service) CheckEligibility(ctx context.Context, enrollmentID string) (mastery.Report, error) {
	completed, err := s.repos.Sessions.CountCompleted(ctx, enrollmentID)
	if err != nil {
		return mastery.Report{}, fmt.Errorf("count sessions: %w", err)
	}

	var report mastery.Report
	policy := s.policy
	policy.OnConflict = func(int) { s.metrics.RecordWriteConflict("check_eligibility") }
	_, err = store.MutateEnrollment(ctx, s.repos.Enrollments, enrollmentID, policy, func(e *store.Enrollment) error {
		report = mastery.Evaluate(e, completed, s.Now())
		if e.AssessmentAvailable == report.Eligible {
			return store.ErrNoChange
		}
		e.AssessmentAvailable = report.Eligible
		return nil
	})
	if err != nil {
		return mastery.Report{}, fmt.Errorf("check eligibility: %w", err)
	}

	s.metrics.RecordEligibility(report.Eligible)
	s.log.Debug("eligibility checked",
		zap.String("enrollment", enrollmentID),
		zap.Bool("eligible", report.Eligible),
		zap.Int("sessions", completed))
	return report, nil
}

// Promote advances the enrollment one belt. The assessment flag is checked
// on the same read the belt write is guarded by, so a flag cleared by a
// failed assessment cannot be raced past. The history entry is written
// first; if the version-guarded belt write then fails the entry is removed
// and ErrConcurrentModification is returned. Promote does not retry.
//
// A non-empty sourceSessionID makes the call idempotent: if that session
// already produced a promotion, it is returned with Replayed set.
func (s *Service) Promote(ctx context.Context, enrollmentID, sourceSessionID string) (*Promotion, error) {
	if sourceSessionID != "" {
		prev, err := s.repos.History.HistoryBySession(ctx, enrollmentID, sourceSessionID)
		if err != nil {
			return nil, fmt.Errorf("lookup promotion: %w", err)
		}
		if prev != nil {
			return &Promotion{FromBelt: prev.FromBelt, ToBelt: prev.ToBelt, Replayed: true}, nil
		}
	}

	e, err := s.repos.Enrollments.Get(ctx, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}

	from := e.CurrentBelt
	next, ok := belt.Next(from)
	if !ok {
		s.metrics.RecordPromotion(string(from), "max_belt")
		return nil, belt.ErrMaxBeltReached
	}
	if !e.AssessmentAvailable {
		s.metrics.RecordPromotion(string(next), "not_eligible")
		return nil, ErrNotEligible
	}

	entry := &store.BeltHistoryEntry{
		EnrollmentID:    e.ID,
		FromBelt:        from,
		ToBelt:          next,
		AchievedAt:      s.Now().UTC(),
		SourceSessionID: sourceSessionID,
		Reason:          "assessment passed",
	}
	if sourceSessionID == "" {
		entry.Reason = "manual promotion"
	}
	if err := s.repos.History.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}

	e.CurrentBelt = next
	e.AssessmentAvailable = false
	if err := s.repos.Enrollments.Save(ctx, e); err != nil {
		if derr := s.repos.History.DeleteHistory(ctx, entry.ID); derr != nil {
			s.log.Error("rollback promotion history failed",
				zap.String("enrollment", enrollmentID),
				zap.String("entry", entry.ID),
				zap.Error(derr))
		}
		if errors.Is(err, store.ErrConflict) {
			s.metrics.RecordPromotion(string(next), "conflict")
			return nil, ErrConcurrentModification
		}
		return nil, fmt.Errorf("save belt: %w", err)
	}

	s.metrics.RecordPromotion(string(next), "ok")
	s.log.Info("belt promoted",
		zap.String("enrollment", enrollmentID),
		zap.String("from", string(from)),
		zap.String("to", string(next)))

	name := s.skillName(ctx, e.SkillID)
	s.emitter.Emit(activity.BeltPromotion(e.UserID, e.SkillID, name, string(from), string(next)))
	if sourceSessionID != "" {
		s.emitter.Emit(activity.AssessmentPassed(e.UserID, e.SkillID, name, string(next)))
	}

	return &Promotion{FromBelt: from, ToBelt: next}, nil
}

// PromoteIfEligible promotes an enrollment whose assessment flag is set.
// Used for promotions that are not tied to an assessment session.
func (s *Service) PromoteIfEligible(ctx context.Context, enrollmentID string) (*Promotion, error) {
	return s.Promote(ctx, enrollmentID, "")
}

// Fail clears the assessment flag after a failed assessment.
func (s *Service) Fail(ctx context.Context, enrollmentID string) error {
	_, err := store.MutateEnrollment(ctx, s.repos.Enrollments, enrollmentID, s.policy, func(e *store.Enrollment) error {
		if !e.AssessmentAvailable {
			return store.ErrNoChange
		}
		e.AssessmentAvailable = false
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail assessment: %w", err)
	}
	return nil
}

// SetBelt places the enrollment directly on b, as done during onboarding.
// The change is audited in the belt history before the belt is written.
// Setting the current belt again is a no-op.
func (s *Service) SetBelt(ctx context.Context, enrollmentID string, b belt.Belt, reason, sessionID string) (*Promotion, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("set belt: unknown belt %q", b)
	}
	e, err := s.repos.Enrollments.Get(ctx, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if e.CurrentBelt == b {
		return &Promotion{FromBelt: b, ToBelt: b}, nil
	}

	entry := &store.BeltHistoryEntry{
		EnrollmentID:    e.ID,
		FromBelt:        e.CurrentBelt,
		ToBelt:          b,
		AchievedAt:      s.Now().UTC(),
		SourceSessionID: sessionID,
		Reason:          reason,
	}
	if err := s.repos.History.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}
	if err := s.repos.Enrollments.ForceBelt(ctx, e.ID, b); err != nil {
		return nil, fmt.Errorf("set belt: %w", err)
	}

	s.log.Info("belt set",
		zap.String("enrollment", enrollmentID),
		zap.String("from", string(e.CurrentBelt)),
		zap.String("to", string(b)),
		zap.String("reason", reason))
	return &Promotion{FromBelt: e.CurrentBelt, ToBelt: b}, nil
}

func (s *Service) skillName(ctx context.Context, skillID string) string {
	sk, err := s.repos.Skills.GetSkill(ctx, skillID)
	if err != nil {
		return skillID
	}
	return sk.Name
}
