package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/sensei"
	"github.com/abhisek/dojo/internal/spacedrep"
	"github.com/abhisek/dojo/internal/store"
	"github.com/abhisek/dojo/internal/tools"
)

type enrollmentView struct {
	ID                  string    `json:"id"`
	SkillID             string    `json:"skill_id"`
	CurrentBelt         belt.Belt `json:"current_belt"`
	AssessmentAvailable bool      `json:"assessment_available"`
	Concepts            int       `json:"concepts"`
	Queued              int       `json:"queued"`
	Version             int64     `json:"version"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func viewEnrollment(e *store.Enrollment) enrollmentView {
	return enrollmentView{
		ID:                  e.ID,
		SkillID:             e.SkillID,
		CurrentBelt:         e.CurrentBelt,
		AssessmentAvailable: e.AssessmentAvailable,
		Concepts:            len(e.Concepts),
		Queued:              len(e.ReinforcementQueue),
		Version:             e.Version,
		CreatedAt:           e.CreatedAt,
		UpdatedAt:           e.UpdatedAt,
	}
}

type sessionView struct {
	ID             string              `json:"id"`
	Type           store.SessionType   `json:"type"`
	Status         store.SessionStatus `json:"status"`
	Evaluation     store.Evaluation    `json:"evaluation"`
	Notes          string              `json:"notes,omitempty"`
	Problem        *store.Problem      `json:"problem,omitempty"`
	Observations   []store.Observation `json:"observations,omitempty"`
	MasteryUpdates map[string]string   `json:"mastery_updates,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

func viewSession(s *store.Session) sessionView {
	v := sessionView{
		ID:             s.ID,
		Type:           s.Type,
		Status:         s.Status,
		Evaluation:     s.Evaluation,
		Notes:          s.Notes,
		Observations:   s.Observations,
		MasteryUpdates: s.MasteryUpdates,
		CreatedAt:      s.CreatedAt,
		CompletedAt:    s.CompletedAt,
	}
	if s.Problem.Prompt != "" {
		p := s.Problem
		v.Problem = &p
	}
	return v
}

type historyView struct {
	FromBelt        belt.Belt `json:"from_belt,omitempty"`
	ToBelt          belt.Belt `json:"to_belt"`
	AchievedAt      time.Time `json:"achieved_at"`
	SourceSessionID string    `json:"source_session_id,omitempty"`
	Reason          string    `json:"reason"`
}

func (s *Server) handleStartSkill(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Skill string `json:"skill"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	started, err := s.enrollments.Start(r.Context(), userID(r), body.Skill)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"enrollment":            viewEnrollment(started.Enrollment),
		"skill":                 started.Skill.Name,
		"onboarding_session_id": started.OnboardingSessionID,
	})
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	list, err := s.enrollments.List(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]enrollmentView, 0, len(list))
	for _, e := range list {
		out = append(out, viewEnrollment(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": out})
}

func (s *Server) handleRemoveSkill(w http.ResponseWriter, r *http.Request) {
	if err := s.enrollments.Remove(r.Context(), userID(r), chi.URLParam(r, "skillID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProgress is a read-only view: it evaluates eligibility without
// persisting the flag.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	e, err := s.enrollments.Get(r.Context(), userID(r), chi.URLParam(r, "skillID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	completed, err := s.repos.Sessions.CountCompleted(r.Context(), e.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	now := s.now()
	suggestions := s.scheduler.Prioritize(e, now)
	if suggestions == nil {
		suggestions = []spacedrep.Suggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enrollment":          viewEnrollment(e),
		"eligibility":         mastery.Evaluate(e, completed, now),
		"concepts":            mastery.Snapshot(e, now),
		"reinforcement_queue": e.ReinforcementQueue,
		"suggestions":         suggestions,
	})
}

func (s *Server) handleCheckEligibility(w http.ResponseWriter, r *http.Request) {
	e, err := s.enrollments.Get(r.Context(), userID(r), chi.URLParam(r, "skillID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.assessment.CheckEligibility(r.Context(), e.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handlePromote promotes without an assessment session when the
// eligibility flag is already set.
func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	e, err := s.enrollments.Get(r.Context(), userID(r), chi.URLParam(r, "skillID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.assessment.PromoteIfEligible(r.Context(), e.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleAnalysis asks the sensei for a belt-readiness read. It never
// changes the belt.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.sensei == nil {
		s.writeError(w, r, sensei.ErrNoProvider)
		return
	}
	a, err := s.sensei.Analyze(r.Context(), userID(r), chi.URLParam(r, "skillID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"belt_analysis": a})
}

func (s *Server) handleBeltHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.enrollments.History(r.Context(), userID(r), chi.URLParam(r, "skillID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]historyView, 0, len(entries))
	for _, h := range entries {
		out = append(out, historyView{
			FromBelt:        h.FromBelt,
			ToBelt:          h.ToBelt,
			AchievedAt:      h.AchievedAt,
			SourceSessionID: h.SourceSessionID,
			Reason:          h.Reason,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type store.SessionType `json:"type"`
	}
	if err := decodeOptional(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.enrollments.OpenSession(r.Context(), userID(r), chi.URLParam(r, "skillID"), body.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSession(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	opts := store.QueryOpts{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, errBadRequest)
			return
		}
		opts.Limit = n
	}
	list, err := s.enrollments.Sessions(r.Context(), userID(r), chi.URLParam(r, "skillID"), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, viewSession(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.enrollments.Session(r.Context(), userID(r), chi.URLParam(r, "skillID"), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(sess))
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.enrollments.Reactivate)
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.enrollments.Abandon)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, move func(ctx context.Context, userID, skillID, sessionID string) error) {
	skillID, sessionID := chi.URLParam(r, "skillID"), chi.URLParam(r, "sessionID")
	if err := move(r.Context(), userID(r), skillID, sessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.enrollments.Session(r.Context(), userID(r), skillID, sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(sess))
}

func (s *Server) caller(r *http.Request) tools.Caller {
	return tools.Caller{
		UserID:    userID(r),
		SkillID:   chi.URLParam(r, "skillID"),
		SessionID: chi.URLParam(r, "sessionID"),
	}
}

// handleTools applies a batch of tool calls. Individual call failures are
// reported in the results; only a busy session fails the request.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Calls []tools.Call `json:"calls"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.gateway.Handle(r.Context(), s.caller(r), body.Calls...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type messageView struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	c := s.caller(r)
	if _, err := s.enrollments.Session(r.Context(), c.UserID, c.SkillID, c.SessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	msgs, err := s.repos.Sessions.Messages(r.Context(), c.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if s.sensei == nil {
		s.writeError(w, r, sensei.ErrNoProvider)
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Content == "" {
		s.writeError(w, r, fmt.Errorf("%w: content is required", errBadRequest))
		return
	}
	res, err := s.sensei.Turn(r.Context(), s.caller(r), body.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	opts := store.QueryOpts{Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, errBadRequest)
			return
		}
		opts.Limit = n
	}
	list, err := s.repos.Activities.ListActivities(r.Context(), userID(r), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, a := range list {
		out = append(out, map[string]any{
			"type":       a.Type,
			"data":       a.Data,
			"created_at": a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": out})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.repos.Activities.UserStats(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current_streak": st.CurrentStreak,
		"longest_streak": st.LongestStreak,
		"total_sessions": st.TotalSessions,
		"last_session":   st.LastSession,
	})
}
