// Package enrollment starts, lists and removes a user's skills and opens
// sessions against them.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/activity"
	"github.com/abhisek/dojo/internal/assessment"
	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/session"
	"github.com/abhisek/dojo/internal/store"
)

var (
	// ErrInvalidSkill is returned for a skill name with nothing to slug.
	ErrInvalidSkill = errors.New("invalid skill name")
	// ErrInvalidSessionType is returned for an unknown session type.
	ErrInvalidSessionType = errors.New("invalid session type")
)

// Started is the outcome of Start.
type Started struct {
	Enrollment *store.Enrollment `json:"enrollment"`
	Skill      store.Skill       `json:"skill"`
	// OnboardingSessionID is the session opened for belt placement.
	OnboardingSessionID string `json:"onboarding_session_id"`
}

// Service manages enrollments.
type Service struct {
	repos   store.Repos
	emitter activity.Emitter
	log     *zap.Logger

	Now func() time.Time
}

// NewService creates an enrollment service.
func NewService(repos store.Repos, emitter activity.Emitter, log *zap.Logger) *Service {
	if emitter == nil {
		emitter = activity.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repos: repos, emitter: emitter, log: log, Now: time.Now}
}

// Slug turns a skill name into a catalog id: lowercase letters and digits
// with single dashes between words. "#" and "+" are spelled out so that
// "C#" and "C++" stay distinct from "C".
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r == '#':
			b.WriteString("sharp")
			dash = false
		case r == '+':
			b.WriteString("p")
			dash = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Start enrolls the user in a skill at white belt. It records the initial
// belt in history, opens an onboarding session and emits skill_started. If
// any step after the enrollment insert fails the enrollment is removed.
func (s *Service) Start(ctx context.Context, userID, skillName string) (*Started, error) {
	slug := Slug(skillName)
	if slug == "" {
		return nil, fmt.Errorf("start skill %q: %w", skillName, ErrInvalidSkill)
	}
	if err := s.repos.Skills.EnsureSkill(ctx, store.Skill{ID: slug, Name: strings.TrimSpace(skillName)}); err != nil {
		return nil, fmt.Errorf("ensure skill: %w", err)
	}
	sk, err := s.repos.Skills.GetSkill(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("load skill: %w", err)
	}

	e := &store.Enrollment{UserID: userID, SkillID: slug, CurrentBelt: belt.White}
	if err := s.repos.Enrollments.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("start skill %s: %w", slug, err)
	}

	onboarding, err := s.initialize(ctx, e)
	if err != nil {
		if derr := s.repos.Enrollments.Delete(ctx, e.ID); derr != nil {
			s.log.Error("rollback enrollment failed", zap.String("enrollment", e.ID), zap.Error(derr))
		}
		return nil, err
	}

	s.log.Info("skill started", zap.String("user", userID), zap.String("skill", slug))
	s.emitter.Emit(activity.SkillStarted(userID, slug, sk.Name))
	return &Started{Enrollment: e, Skill: *sk, OnboardingSessionID: onboarding.ID}, nil
}

func (s *Service) initialize(ctx context.Context, e *store.Enrollment) (*store.Session, error) {
	err := s.repos.History.AppendHistory(ctx, &store.BeltHistoryEntry{
		EnrollmentID: e.ID,
		ToBelt:       belt.White,
		AchievedAt:   s.Now().UTC(),
		Reason:       "skill started",
	})
	if err != nil {
		return nil, fmt.Errorf("append initial history: %w", err)
	}
	sess := &store.Session{
		EnrollmentID: e.ID,
		UserID:       e.UserID,
		Type:         store.SessionOnboarding,
		Status:       store.StatusActive,
		CreatedAt:    s.Now().UTC(),
	}
	if err := s.repos.Sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("open onboarding session: %w", err)
	}
	return sess, nil
}

// Get returns the user's enrollment in a skill.
func (s *Service) Get(ctx context.Context, userID, skillID string) (*store.Enrollment, error) {
	e, err := s.repos.Enrollments.GetByUserSkill(ctx, userID, skillID)
	if err != nil {
		return nil, fmt.Errorf("load enrollment %s: %w", skillID, err)
	}
	return e, nil
}

// List returns every enrollment of the user.
func (s *Service) List(ctx context.Context, userID string) ([]*store.Enrollment, error) {
	return s.repos.Enrollments.ListByUser(ctx, userID)
}

// Remove deletes the user's enrollment with its history and sessions.
func (s *Service) Remove(ctx context.Context, userID, skillID string) error {
	e, err := s.Get(ctx, userID, skillID)
	if err != nil {
		return err
	}
	if err := s.repos.Enrollments.Delete(ctx, e.ID); err != nil {
		return fmt.Errorf("remove skill %s: %w", skillID, err)
	}
	s.log.Info("skill removed", zap.String("user", userID), zap.String("skill", skillID))
	return nil
}

// History returns the enrollment's belt changes, oldest first.
func (s *Service) History(ctx context.Context, userID, skillID string) ([]store.BeltHistoryEntry, error) {
	e, err := s.Get(ctx, userID, skillID)
	if err != nil {
		return nil, err
	}
	return s.repos.History.ListHistory(ctx, e.ID)
}

// OpenSession starts a new active session. Assessment sessions require the
// enrollment's assessment flag.
func (s *Service) OpenSession(ctx context.Context, userID, skillID string, typ store.SessionType) (*store.Session, error) {
	if typ == "" {
		typ = store.SessionTraining
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("open session %q: %w", typ, ErrInvalidSessionType)
	}
	e, err := s.Get(ctx, userID, skillID)
	if err != nil {
		return nil, err
	}
	if typ == store.SessionAssessment && !e.AssessmentAvailable {
		return nil, fmt.Errorf("open assessment: %w", assessment.ErrNotEligible)
	}
	sess := &store.Session{
		EnrollmentID: e.ID,
		UserID:       userID,
		Type:         typ,
		Status:       store.StatusActive,
		CreatedAt:    s.Now().UTC(),
	}
	if err := s.repos.Sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return sess, nil
}

// Session loads a session owned by the user within the skill.
func (s *Service) Session(ctx context.Context, userID, skillID, sessionID string) (*store.Session, error) {
	e, err := s.Get(ctx, userID, skillID)
	if err != nil {
		return nil, err
	}
	sess, err := s.repos.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.EnrollmentID != e.ID || sess.UserID != userID {
		return nil, fmt.Errorf("load session: %w", store.ErrNotFound)
	}
	return sess, nil
}

// Sessions lists the enrollment's sessions, newest first.
func (s *Service) Sessions(ctx context.Context, userID, skillID string, opts store.QueryOpts) ([]*store.Session, error) {
	e, err := s.Get(ctx, userID, skillID)
	if err != nil {
		return nil, err
	}
	return s.repos.Sessions.ListSessions(ctx, e.ID, opts)
}

// Reactivate reopens a completed session.
func (s *Service) Reactivate(ctx context.Context, userID, skillID, sessionID string) error {
	if _, err := s.Session(ctx, userID, skillID, sessionID); err != nil {
		return err
	}
	return session.Reactivate(ctx, s.repos.Sessions, sessionID)
}

// Abandon soft-deletes an active session.
func (s *Service) Abandon(ctx context.Context, userID, skillID, sessionID string) error {
	if _, err := s.Session(ctx, userID, skillID, sessionID); err != nil {
		return err
	}
	return session.Abandon(ctx, s.repos.Sessions, sessionID)
}
