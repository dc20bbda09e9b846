package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/abhisek/dojo/internal/belt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newEnrollment(t *testing.T, repos Repos, user, skill string) *Enrollment {
	t.Helper()
	e := &Enrollment{UserID: user, SkillID: skill}
	if err := repos.Enrollments.Create(context.Background(), e); err != nil {
		t.Fatalf("create enrollment: %v", err)
	}
	return e
}

func TestPragmasApplied(t *testing.T) {
	s := openTestStore(t)
	db := s.DB()

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"synchronous", "1"}, // NORMAL = 1
	}

	for _, tt := range tests {
		var got string
		err := db.QueryRow("PRAGMA " + tt.pragma).Scan(&got)
		if err != nil {
			t.Errorf("PRAGMA %s: %v", tt.pragma, err)
			continue
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

func TestMigrationCreatesTables(t *testing.T) {
	s := openTestStore(t)
	for _, table := range []string{"enrollments", "belt_history", "sessions", "activities", "user_stats", "llm_request_events"} {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestEnrollmentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	repos := s.Repos()
	ctx := context.Background()

	e := newEnrollment(t, repos, "u1", "go")
	if e.CurrentBelt != belt.White {
		t.Errorf("new enrollment belt = %q, want white", e.CurrentBelt)
	}

	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.Concepts["error_handling"] = &Concept{
		Mastery:       0.75,
		ExposureCount: 4,
		SuccessCount:  3,
		LastSeen:      &seen,
		Contexts:      []string{"http"},
		BeltLevel:     belt.White,
	}
	e.ReinforcementQueue = []ReinforcementItem{{Concept: "closures", Priority: PriorityHigh, AddedAt: seen}}
	if err := repos.Enrollments.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}
	if e.Version != 1 {
		t.Errorf("version after save = %d, want 1", e.Version)
	}

	got, err := repos.Enrollments.GetByUserSkill(ctx, "u1", "go")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	c := got.Concepts["error_handling"]
	if c == nil || c.Mastery != 0.75 || c.ExposureCount != 4 || !c.LastSeen.Equal(seen) {
		t.Errorf("concept round trip mismatch: %+v", c)
	}
	if len(got.ReinforcementQueue) != 1 || got.ReinforcementQueue[0].Priority != PriorityHigh {
		t.Errorf("queue round trip mismatch: %+v", got.ReinforcementQueue)
	}
}

func TestEnrollmentDuplicate(t *testing.T) {
	s := openTestStore(t)
	repos := s.Repos()
	newEnrollment(t, repos, "u1", "go")

	err := repos.Enrollments.Create(context.Background(), &Enrollment{UserID: "u1", SkillID: "go"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create error = %v, want ErrAlreadyExists", err)
	}
}

func TestEnrollmentSaveConflict(t *testing.T) {
	s := openTestStore(t)
	repos := s.Repos()
	ctx := context.Background()
	e := newEnrollment(t, repos, "u1", "go")

	a, _ := repos.Enrollments.Get(ctx, e.ID)
	b, _ := repos.Enrollments.Get(ctx, e.ID)

	a.AssessmentAvailable = true
	if err := repos.Enrollments.Save(ctx, a); err != nil {
		t.Fatalf("first save: %v", err)
	}
	b.CurrentBelt = belt.Yellow
	if err := repos.Enrollments.Save(ctx, b); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale save error = %v, want ErrConflict", err)
	}

	if err := repos.Enrollments.Save(ctx, &Enrollment{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("save missing error = %v, want ErrNotFound", err)
	}
}

func TestForceBeltBumpsVersion(t *testing.T) {
	s := openTestStore(t)
	repos := s.Repos()
	ctx := context.Background()
	e := newEnrollment(t, repos, "u1", "go")

	if err := repos.Enrollments.ForceBelt(ctx, e.ID, belt.Blue); err != nil {
		t.Fatalf("force belt: %v", err)
	}
	got, _ := repos.Enrollments.Get(ctx, e.ID)
	if got.CurrentBelt != belt.Blue || got.Version != 1 {
		t.Errorf("after ForceBelt: belt=%q version=%d", got.CurrentBelt, got.Version)
	}
	if err := repos.Enrollments.Save(ctx, e); !errors.Is(err, ErrConflict) {
		t.Errorf("save with stale version = %v, want ErrConflict", err)
	}
}

func TestMutateEnrollmentRetriesOnConflict(t *testing.T) {
	s := openTestStore(t)
	repos := s.Repos()
	ctx := context.Background()
	e := newEnrollment(t, repos, "u1", "go")

	calls := 0
	conflicts := 0
	policy := DefaultRetryPolicy()
	policy.OnConflict = func(int) { conflicts++ }

	got, err := MutateEnrollment(ctx, repos.Enrollments, e.ID, policy, func(e *Enrollment) error {
		calls++
		if calls == 1 {
			// Lose the race once.
			if err := repos.Enrollments.ForceBelt(ctx, e.ID, belt.White); err != nil {
				return err
			}
		}
		e.AssessmentAvailable = true
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if calls != 2 || conflicts != 1 {
		t.Errorf("calls=%d conflicts=%d, want 2 and 1", calls, conflicts)
	}
	if !got.AssessmentAvailable || got.Version != 2 {
		t.Errorf("result = available:%v version:%d", got.AssessmentAvailable, got.Version)
	}
}

func TestMutateEnrollmentNoChange(t *testing.T) {
	s := openTestStore(t)
	repos := s.Repos()
	e := newEnrollment(t, repos, "u1", "go")

	got, err := MutateEnrollment(context.Background(), repos.Enrollments, e.ID, DefaultRetryPolicy(), func(*Enrollment) error {
		return ErrNoChange
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if got.Version != 0 {
		t.Errorf("version = %d, want 0 (no write)", got.Version)
	}
}

func TestHistoryBySession(t *testing.T) {
	s := openTestStore(t)
	repos := s.Repos()
	ctx := context.Background()
	e := newEnrollment(t, repos, "u1", "go")

	h, err := repos.History.HistoryBySession(ctx, e.ID, "s1")
	if err != nil || h != nil {
		t.Fatalf("empty lookup = %v, %v", h, err)
	}

	entry := &BeltHistoryEntry{EnrollmentID: e.ID, FromBelt: belt.White, ToBelt: belt.Yellow, SourceSessionID: "s1"}
	if err := repos.History.AppendHistory(ctx, entry); err != nil {
		t.Fatalf("append: %v", err)
	}
	h, err = repos.History.HistoryBySession(ctx, e.ID, "s1")
	if err != nil || h == nil || h.ToBelt != belt.Yellow {
		t.Fatalf("lookup = %+v, %v", h, err)
	}

	if err := repos.History.DeleteHistory(ctx, entry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ := repos.History.ListHistory(ctx, e.ID)
	if len(list) != 0 {
		t.Errorf("history after delete = %d entries", len(list))
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	repos := s.Repos()
	ctx := context.Background()
	e := newEnrollment(t, repos, "u1", "go")

	sess := &Session{EnrollmentID: e.ID, UserID: "u1", Type: SessionTraining}
	if err := repos.Sessions.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := repos.Sessions.AppendObservation(ctx, sess.ID, Observation{Type: "strength", Concept: "loops", Severity: "info"}); err != nil {
		t.Fatalf("append observation: %v", err)
	}
	if err := repos.Sessions.SetMasteryUpdate(ctx, sess.ID, "loops", "50%"); err != nil {
		t.Fatal(err)
	}
	if err := repos.Sessions.SetMasteryUpdate(ctx, sess.ID, "loops", "65%"); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if err := repos.Sessions.CompleteSession(ctx, sess.ID, Evaluation{Correctness: "correct"}, "done", now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	err := repos.Sessions.CompleteSession(ctx, sess.ID, Evaluation{}, "", now)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second complete = %v, want ErrConflict", err)
	}

	got, err := repos.Sessions.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Errorf("status=%q completedAt=%v", got.Status, got.CompletedAt)
	}
	if got.MasteryUpdates["loops"] != "65%" || len(got.Observations) != 1 {
		t.Errorf("updates=%v observations=%v", got.MasteryUpdates, got.Observations)
	}

	n, _ := repos.Sessions.CountCompleted(ctx, e.ID)
	if n != 1 {
		t.Errorf("completed count = %d, want 1", n)
	}

	if err := repos.Sessions.SetStatus(ctx, sess.ID, StatusCompleted, StatusActive); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	got, _ = repos.Sessions.GetSession(ctx, sess.ID)
	if got.CompletedAt != nil {
		t.Error("reactivated session kept completedAt")
	}
}

func TestEnrollmentDeleteCascades(t *testing.T) {
	s := openTestStore(t)
	repos := s.Repos()
	ctx := context.Background()
	e := newEnrollment(t, repos, "u1", "go")

	sess := &Session{EnrollmentID: e.ID, UserID: "u1", Type: SessionTraining}
	_ = repos.Sessions.CreateSession(ctx, sess)
	_ = repos.History.AppendHistory(ctx, &BeltHistoryEntry{EnrollmentID: e.ID, ToBelt: belt.White})

	if err := repos.Enrollments.Delete(ctx, e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repos.Sessions.GetSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("session after delete = %v, want ErrNotFound", err)
	}
	if list, _ := repos.History.ListHistory(ctx, e.ID); len(list) != 0 {
		t.Errorf("history survived delete: %v", list)
	}
}

func TestActivityDedupAndStats(t *testing.T) {
	s := openTestStore(t)
	repos := s.Repos()
	ctx := context.Background()

	ok, _ := repos.Activities.ActivityExists(ctx, "u1", "streak_milestone", "7")
	if ok {
		t.Fatal("activity exists before append")
	}
	_ = repos.Activities.AppendActivity(ctx, &Activity{UserID: "u1", Type: "streak_milestone", DedupKey: "7", Data: map[string]any{"days": 7}})
	ok, _ = repos.Activities.ActivityExists(ctx, "u1", "streak_milestone", "7")
	if !ok {
		t.Error("activity missing after append")
	}

	st, err := repos.Activities.UserStats(ctx, "u1")
	if err != nil || st.CurrentStreak != 0 {
		t.Fatalf("empty stats = %+v, %v", st, err)
	}
	last := time.Now().UTC()
	st.CurrentStreak, st.LongestStreak, st.LastSession = 3, 5, &last
	if err := repos.Activities.SaveUserStats(ctx, st); err != nil {
		t.Fatal(err)
	}
	st.CurrentStreak = 4
	if err := repos.Activities.SaveUserStats(ctx, st); err != nil {
		t.Fatal(err)
	}
	got, _ := repos.Activities.UserStats(ctx, "u1")
	if got.CurrentStreak != 4 || got.LongestStreak != 5 || got.LastSession == nil {
		t.Errorf("stats = %+v", got)
	}
}

func TestLLMEvents(t *testing.T) {
	s := openTestStore(t)
	repo := s.Repos().Events
	ctx := context.Background()

	for _, model := range []string{"a", "b"} {
		if err := repo.AppendLLMRequest(ctx, LLMRequestEventData{Provider: "mock", Model: model, Purpose: "sensei", Success: true}); err != nil {
			t.Fatal(err)
		}
	}
	events, err := repo.QueryLLMEvents(ctx, QueryOpts{Limit: 1})
	if err != nil || len(events) != 1 || events[0].Model != "b" {
		t.Fatalf("query = %+v, %v", events, err)
	}
	ev, err := repo.GetLLMEvent(ctx, events[0].ID)
	if err != nil || ev == nil || !ev.Success {
		t.Fatalf("get = %+v, %v", ev, err)
	}
	if ev, _ := repo.GetLLMEvent(ctx, 999); ev != nil {
		t.Error("expected nil for missing event")
	}
}

func TestDefaultDBPathEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "dojo.db")
	t.Setenv("DOJO_DB", p)
	got, err := DefaultDBPath()
	if err != nil || got != p {
		t.Errorf("DefaultDBPath = %q, %v", got, err)
	}
}
