package assessment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abhisek/dojo/internal/activity"
	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/store"
	"github.com/abhisek/dojo/internal/store/memstore"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type recordEmitter struct {
	mu     sync.Mutex
	events []activity.Event
}

func (r *recordEmitter) Emit(ev activity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// racingRepo lets another writer bump the version just before every Save.
type racingRepo struct {
	store.EnrollmentRepo
}

func (r racingRepo) Save(ctx context.Context, e *store.Enrollment) error {
	cur, err := r.EnrollmentRepo.Get(ctx, e.ID)
	if err != nil {
		return err
	}
	if err := r.EnrollmentRepo.ForceBelt(ctx, e.ID, cur.CurrentBelt); err != nil {
		return err
	}
	return r.EnrollmentRepo.Save(ctx, e)
}

// countingRepo counts Save calls.
type countingRepo struct {
	store.EnrollmentRepo
	saves int
}

func (r *countingRepo) Save(ctx context.Context, e *store.Enrollment) error {
	r.saves++
	return r.EnrollmentRepo.Save(ctx, e)
}

func setup(t *testing.T, b belt.Belt) (*Service, store.Repos, *store.Enrollment, *recordEmitter) {
	t.Helper()
	repos := memstore.New().Repos()
	ctx := context.Background()
	if err := repos.Skills.EnsureSkill(ctx, store.Skill{ID: "go", Name: "Go"}); err != nil {
		t.Fatal(err)
	}
	e := &store.Enrollment{UserID: "u1", SkillID: "go", CurrentBelt: b}
	if err := repos.Enrollments.Create(ctx, e); err != nil {
		t.Fatal(err)
	}
	em := &recordEmitter{}
	svc := NewService(repos, em, nil, nil)
	svc.Now = func() time.Time { return now }
	return svc, repos, e, em
}

// markEligible sets the assessment flag the way CheckEligibility would.
func markEligible(t *testing.T, repos store.Repos, id string) {
	t.Helper()
	cur, err := repos.Enrollments.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	cur.AssessmentAvailable = true
	if err := repos.Enrollments.Save(context.Background(), cur); err != nil {
		t.Fatal(err)
	}
}

func historyCount(t *testing.T, repos store.Repos, id string) int {
	t.Helper()
	h, err := repos.History.ListHistory(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return len(h)
}

func TestPromote_BlackBeltIsTerminal(t *testing.T) {
	svc, repos, e, em := setup(t, belt.Black)

	_, err := svc.Promote(context.Background(), e.ID, "s1")
	if !errors.Is(err, belt.ErrMaxBeltReached) {
		t.Fatalf("err = %v, want ErrMaxBeltReached", err)
	}
	if n := historyCount(t, repos, e.ID); n != 0 {
		t.Errorf("history entries = %d, want 0", n)
	}
	if len(em.events) != 0 {
		t.Errorf("unexpected events %v", em.events)
	}
}

func TestPromote_Success(t *testing.T) {
	svc, repos, e, em := setup(t, belt.White)
	markEligible(t, repos, e.ID)
	ctx := context.Background()

	p, err := svc.Promote(ctx, e.ID, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if p.FromBelt != belt.White || p.ToBelt != belt.Yellow {
		t.Errorf("promotion = %+v", p)
	}

	got, _ := repos.Enrollments.Get(ctx, e.ID)
	if got.CurrentBelt != belt.Yellow || got.AssessmentAvailable {
		t.Errorf("enrollment = belt %q available %v", got.CurrentBelt, got.AssessmentAvailable)
	}
	hist, _ := repos.History.ListHistory(ctx, e.ID)
	if len(hist) != 1 || hist[0].SourceSessionID != "s1" || hist[0].ToBelt != belt.Yellow {
		t.Errorf("history = %+v", hist)
	}
	if len(em.events) != 2 || em.events[0].Type != activity.TypeBeltPromotion || em.events[1].Type != activity.TypeAssessmentPassed {
		t.Errorf("events = %+v", em.events)
	}
	if em.events[0].Data["skill_name"] != "Go" {
		t.Errorf("skill name = %v", em.events[0].Data["skill_name"])
	}
}

func TestPromote_AtomicUnderVersionRace(t *testing.T) {
	svc, repos, e, em := setup(t, belt.White)
	markEligible(t, repos, e.ID)
	repos.Enrollments = racingRepo{repos.Enrollments}
	svc.repos = repos
	ctx := context.Background()

	before := historyCount(t, repos, e.ID)
	_, err := svc.Promote(ctx, e.ID, "s1")
	if !errors.Is(err, ErrConcurrentModification) || !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want ErrConcurrentModification", err)
	}
	if after := historyCount(t, repos, e.ID); after != before {
		t.Errorf("history count %d -> %d, want unchanged", before, after)
	}
	got, _ := repos.Enrollments.Get(ctx, e.ID)
	if got.CurrentBelt != belt.White {
		t.Errorf("belt = %q, want white", got.CurrentBelt)
	}
	if len(em.events) != 0 {
		t.Errorf("events emitted on failure: %v", em.events)
	}
}

func TestPromote_IdempotentPerSession(t *testing.T) {
	svc, repos, e, _ := setup(t, belt.White)
	markEligible(t, repos, e.ID)
	ctx := context.Background()

	if _, err := svc.Promote(ctx, e.ID, "s1"); err != nil {
		t.Fatal(err)
	}
	p, err := svc.Promote(ctx, e.ID, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Replayed || p.ToBelt != belt.Yellow {
		t.Errorf("replay = %+v", p)
	}
	got, _ := repos.Enrollments.Get(ctx, e.ID)
	if got.CurrentBelt != belt.Yellow {
		t.Errorf("belt = %q, want yellow", got.CurrentBelt)
	}
	if n := historyCount(t, repos, e.ID); n != 1 {
		t.Errorf("history entries = %d, want 1", n)
	}
}

func TestPromote_RequiresAssessmentFlag(t *testing.T) {
	svc, repos, e, em := setup(t, belt.White)
	ctx := context.Background()

	_, err := svc.Promote(ctx, e.ID, "s1")
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}

	markEligible(t, repos, e.ID)
	if err := svc.Fail(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Promote(ctx, e.ID, "s2"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("after Fail: err = %v, want ErrNotEligible", err)
	}

	got, _ := repos.Enrollments.Get(ctx, e.ID)
	if got.CurrentBelt != belt.White {
		t.Errorf("belt = %q, want white", got.CurrentBelt)
	}
	if n := historyCount(t, repos, e.ID); n != 0 {
		t.Errorf("history entries = %d, want 0", n)
	}
	if len(em.events) != 0 {
		t.Errorf("unexpected events %v", em.events)
	}
}

func TestPromoteIfEligible(t *testing.T) {
	svc, repos, e, _ := setup(t, belt.White)
	ctx := context.Background()

	if _, err := svc.PromoteIfEligible(ctx, e.ID); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}

	cur, _ := repos.Enrollments.Get(ctx, e.ID)
	cur.AssessmentAvailable = true
	if err := repos.Enrollments.Save(ctx, cur); err != nil {
		t.Fatal(err)
	}
	p, err := svc.PromoteIfEligible(ctx, e.ID)
	if err != nil || p.ToBelt != belt.Yellow {
		t.Fatalf("promote = %+v, %v", p, err)
	}
}

func TestCheckEligibility_WritesOnlyOnChange(t *testing.T) {
	svc, repos, e, _ := setup(t, belt.White)
	ctx := context.Background()
	counting := &countingRepo{EnrollmentRepo: repos.Enrollments}
	svc.repos.Enrollments = counting

	seen := now
	cur, _ := repos.Enrollments.Get(ctx, e.ID)
	for _, k := range []string{"a", "b", "c"} {
		cur.Concepts[k] = &store.Concept{Mastery: 0.95, ExposureCount: 10, SuccessCount: 9, LastSeen: &seen, BeltLevel: belt.White}
	}
	if err := repos.Enrollments.Save(ctx, cur); err != nil {
		t.Fatal(err)
	}

	r, err := svc.CheckEligibility(ctx, e.ID)
	if err != nil || r.Eligible {
		t.Fatalf("no sessions: %+v, %v", r, err)
	}
	if counting.saves != 0 {
		t.Errorf("saves = %d, want 0 when flag unchanged", counting.saves)
	}

	sess := &store.Session{EnrollmentID: e.ID, UserID: "u1", Type: store.SessionTraining}
	_ = repos.Sessions.CreateSession(ctx, sess)
	_ = repos.Sessions.CompleteSession(ctx, sess.ID, store.Evaluation{}, "", now)

	r, err = svc.CheckEligibility(ctx, e.ID)
	if err != nil || !r.Eligible || r.NextBelt != belt.Yellow {
		t.Fatalf("after session: %+v, %v", r, err)
	}
	if counting.saves != 1 {
		t.Errorf("saves = %d, want 1", counting.saves)
	}
	got, _ := repos.Enrollments.Get(ctx, e.ID)
	if !got.AssessmentAvailable {
		t.Error("flag not stored")
	}

	if _, err := svc.CheckEligibility(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if counting.saves != 1 {
		t.Errorf("saves = %d after unchanged recheck, want 1", counting.saves)
	}
}

func TestFail(t *testing.T) {
	svc, repos, e, _ := setup(t, belt.White)
	ctx := context.Background()
	cur, _ := repos.Enrollments.Get(ctx, e.ID)
	cur.AssessmentAvailable = true
	_ = repos.Enrollments.Save(ctx, cur)

	if err := svc.Fail(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := repos.Enrollments.Get(ctx, e.ID)
	if got.AssessmentAvailable {
		t.Error("flag still set after Fail")
	}
	if err := svc.Fail(ctx, e.ID); err != nil {
		t.Errorf("second Fail: %v", err)
	}
}

func TestSetBelt(t *testing.T) {
	svc, repos, e, _ := setup(t, belt.White)
	ctx := context.Background()

	p, err := svc.SetBelt(ctx, e.ID, belt.Green, "prior experience", "s0")
	if err != nil || p.ToBelt != belt.Green {
		t.Fatalf("set = %+v, %v", p, err)
	}
	got, _ := repos.Enrollments.Get(ctx, e.ID)
	if got.CurrentBelt != belt.Green {
		t.Errorf("belt = %q", got.CurrentBelt)
	}
	hist, _ := repos.History.ListHistory(ctx, e.ID)
	if len(hist) != 1 || hist[0].Reason != "prior experience" || hist[0].FromBelt != belt.White {
		t.Errorf("history = %+v", hist)
	}

	if _, err := svc.SetBelt(ctx, e.ID, belt.Green, "again", "s0"); err != nil {
		t.Fatal(err)
	}
	if n := historyCount(t, repos, e.ID); n != 1 {
		t.Errorf("same-belt set wrote history: %d entries", n)
	}

	if _, err := svc.SetBelt(ctx, e.ID, belt.Belt("rainbow"), "", ""); err == nil {
		t.Error("expected error for unknown belt")
	}
}
