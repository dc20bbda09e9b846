// Package memstore is an in-process implementation of the store repositories.
// It keeps the same version and status preconditions as the SQLite store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/store"
)

// Store holds every record in maps guarded by a single mutex. Values are
// cloned on the way in and out so callers never share memory with it.
type Store struct {
	mu sync.Mutex

	enrollments map[string]*store.Enrollment
	history     []store.BeltHistoryEntry
	sessions    map[string]*sessionRecord
	skills      map[string]store.Skill
	activities  []store.Activity
	stats       map[string]store.UserStats
	events      []store.LLMEventRecord

	now func() time.Time
}

type sessionRecord struct {
	store.Session
	messages []store.Message
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		enrollments: map[string]*store.Enrollment{},
		sessions:    map[string]*sessionRecord{},
		skills:      map[string]store.Skill{},
		stats:       map[string]store.UserStats{},
		now:         time.Now,
	}
}

// Repos returns every repository backed by this store.
func (s *Store) Repos() store.Repos {
	return store.Repos{
		Enrollments: (*enrollments)(s),
		History:     (*history)(s),
		Sessions:    (*sessions)(s),
		Skills:      (*skills)(s),
		Activities:  (*activities)(s),
		Events:      (*events)(s),
	}
}

type enrollments Store

func (r *enrollments) Create(_ context.Context, e *store.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, x := range r.enrollments {
		if x.UserID == e.UserID && x.SkillID == e.SkillID {
			return fmt.Errorf("enroll %s in %s: %w", e.UserID, e.SkillID, store.ErrAlreadyExists)
		}
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CurrentBelt == "" {
		e.CurrentBelt = belt.White
	}
	if e.Concepts == nil {
		e.Concepts = map[string]*store.Concept{}
	}
	now := r.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	r.enrollments[e.ID] = e.Clone()
	return nil
}

func (r *enrollments) Get(_ context.Context, id string) (*store.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.Clone(), nil
}

func (r *enrollments) GetByUserSkill(_ context.Context, userID, skillID string) (*store.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.enrollments {
		if e.UserID == userID && e.SkillID == skillID {
			return e.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *enrollments) ListByUser(_ context.Context, userID string) ([]*store.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*store.Enrollment
	for _, e := range r.enrollments {
		if e.UserID == userID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *enrollments) Save(_ context.Context, e *store.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.enrollments[e.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != e.Version {
		return store.ErrConflict
	}
	e.Version++
	e.UpdatedAt = r.now().UTC()
	r.enrollments[e.ID] = e.Clone()
	return nil
}

func (r *enrollments) ForceBelt(_ context.Context, id string, b belt.Belt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.enrollments[id]
	if !ok {
		return store.ErrNotFound
	}
	cur.CurrentBelt = b
	cur.Version++
	cur.UpdatedAt = r.now().UTC()
	return nil
}

func (r *enrollments) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.enrollments[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.enrollments, id)
	for sid, sess := range r.sessions {
		if sess.EnrollmentID == id {
			delete(r.sessions, sid)
		}
	}
	kept := r.history[:0]
	for _, h := range r.history {
		if h.EnrollmentID != id {
			kept = append(kept, h)
		}
	}
	r.history = kept
	return nil
}

type history Store

func (r *history) AppendHistory(_ context.Context, entry *store.BeltHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.AchievedAt.IsZero() {
		entry.AchievedAt = r.now().UTC()
	}
	r.history = append(r.history, *entry)
	return nil
}

func (r *history) DeleteHistory(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.history {
		if h.ID == id {
			r.history = append(r.history[:i], r.history[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *history) ListHistory(_ context.Context, enrollmentID string) ([]store.BeltHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.BeltHistoryEntry
	for _, h := range r.history {
		if h.EnrollmentID == enrollmentID {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AchievedAt.Before(out[j].AchievedAt) })
	return out, nil
}

func (r *history) HistoryBySession(_ context.Context, enrollmentID, sessionID string) (*store.BeltHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.history {
		if h.EnrollmentID == enrollmentID && h.SourceSessionID == sessionID {
			out := h
			return &out, nil
		}
	}
	return nil, nil
}

type sessions Store

func (r *sessions) CreateSession(_ context.Context, sess *store.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = store.StatusActive
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = r.now().UTC()
	}
	r.sessions[sess.ID] = &sessionRecord{Session: cloneSession(sess)}
	return nil
}

func (r *sessions) GetSession(_ context.Context, id string) (*store.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSession(&rec.Session)
	return &out, nil
}

func (r *sessions) ListSessions(_ context.Context, enrollmentID string, opts store.QueryOpts) ([]*store.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*store.Session
	for _, rec := range r.sessions {
		if rec.EnrollmentID != enrollmentID {
			continue
		}
		if !opts.From.IsZero() && rec.CreatedAt.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && rec.CreatedAt.After(opts.To) {
			continue
		}
		s := cloneSession(&rec.Session)
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (r *sessions) CountCompleted(_ context.Context, enrollmentID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.sessions {
		if rec.EnrollmentID == enrollmentID && rec.Status == store.StatusCompleted {
			n++
		}
	}
	return n, nil
}

func (r *sessions) CompleteSession(_ context.Context, id string, eval store.Evaluation, notes string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status != store.StatusActive {
		return store.ErrConflict
	}
	rec.Status = store.StatusCompleted
	rec.Evaluation = eval
	rec.Notes = notes
	rec.CompletedAt = &at
	return nil
}

func (r *sessions) SetStatus(_ context.Context, id string, from, to store.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status != from {
		return store.ErrConflict
	}
	rec.Status = to
	if to == store.StatusActive {
		rec.CompletedAt = nil
	}
	return nil
}

func (r *sessions) SetProblem(_ context.Context, id string, p store.Problem) error {
	return r.update(id, func(rec *sessionRecord) { rec.Problem = p })
}

func (r *sessions) AppendObservation(_ context.Context, id string, o store.Observation) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.now().UTC()
	}
	return r.update(id, func(rec *sessionRecord) { rec.Observations = append(rec.Observations, o) })
}

func (r *sessions) SetMasteryUpdate(_ context.Context, id, concept, value string) error {
	return r.update(id, func(rec *sessionRecord) {
		if rec.MasteryUpdates == nil {
			rec.MasteryUpdates = map[string]string{}
		}
		rec.MasteryUpdates[concept] = value
	})
}

func (r *sessions) AppendMessage(_ context.Context, id string, m store.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now().UTC()
	}
	return r.update(id, func(rec *sessionRecord) { rec.messages = append(rec.messages, m) })
}

func (r *sessions) Messages(_ context.Context, id string) ([]store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return append([]store.Message(nil), rec.messages...), nil
}

func (r *sessions) update(id string, fn func(rec *sessionRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(rec)
	return nil
}

func cloneSession(s *store.Session) store.Session {
	out := *s
	out.Observations = append([]store.Observation(nil), s.Observations...)
	out.Problem.ConceptsTargeted = append([]string(nil), s.Problem.ConceptsTargeted...)
	out.MasteryUpdates = make(map[string]string, len(s.MasteryUpdates))
	for k, v := range s.MasteryUpdates {
		out.MasteryUpdates[k] = v
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

type skills Store

func (r *skills) EnsureSkill(_ context.Context, sk store.Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[sk.ID]; ok {
		return nil
	}
	if sk.Name == "" {
		sk.Name = sk.ID
	}
	r.skills[sk.ID] = sk
	return nil
}

func (r *skills) GetSkill(_ context.Context, id string) (*store.Skill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sk, ok := r.skills[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sk, nil
}

func (r *skills) SetTrainingContext(_ context.Context, id, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sk, ok := r.skills[id]
	if !ok {
		return store.ErrNotFound
	}
	sk.TrainingContext = text
	r.skills[id] = sk
	return nil
}

type activities Store

func (r *activities) AppendActivity(_ context.Context, a *store.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now().UTC()
	}
	r.activities = append(r.activities, *a)
	return nil
}

func (r *activities) ActivityExists(_ context.Context, userID, typ, dedupKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.activities {
		if a.UserID == userID && a.Type == typ && a.DedupKey == dedupKey {
			return true, nil
		}
	}
	return false, nil
}

func (r *activities) ListActivities(_ context.Context, userID string, opts store.QueryOpts) ([]store.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Activity
	for i := len(r.activities) - 1; i >= 0; i-- {
		a := r.activities[i]
		if a.UserID != userID {
			continue
		}
		if !opts.From.IsZero() && a.CreatedAt.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && a.CreatedAt.After(opts.To) {
			continue
		}
		out = append(out, a)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (r *activities) UserStats(_ context.Context, userID string) (*store.UserStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[userID]
	if !ok {
		return &store.UserStats{UserID: userID}, nil
	}
	return &st, nil
}

func (r *activities) SaveUserStats(_ context.Context, st *store.UserStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[st.UserID] = *st
	return nil
}

type events Store

func (r *events) AppendLLMRequest(_ context.Context, data store.LLMRequestEventData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, store.LLMEventRecord{
		ID:                  len(r.events) + 1,
		Timestamp:           r.now().UTC(),
		LLMRequestEventData: data,
	})
	return nil
}

func (r *events) QueryLLMEvents(_ context.Context, opts store.QueryOpts) ([]store.LLMEventRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.LLMEventRecord
	for i := len(r.events) - 1; i >= 0; i-- {
		ev := r.events[i]
		if !opts.From.IsZero() && ev.Timestamp.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && ev.Timestamp.After(opts.To) {
			continue
		}
		out = append(out, ev)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (r *events) GetLLMEvent(_ context.Context, id int) (*store.LLMEventRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 1 || id > len(r.events) {
		return nil, nil
	}
	ev := r.events[id-1]
	return &ev, nil
}
