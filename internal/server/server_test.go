package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/dojo/internal/assessment"
	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/enrollment"
	"github.com/abhisek/dojo/internal/llm"
	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/metrics"
	"github.com/abhisek/dojo/internal/sensei"
	"github.com/abhisek/dojo/internal/session"
	"github.com/abhisek/dojo/internal/store"
	"github.com/abhisek/dojo/internal/store/memstore"
	"github.com/abhisek/dojo/internal/tools"
)

type fixture struct {
	srv    *Server
	repos  store.Repos
	locker *session.MemoryLocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := memstore.New().Repos()
	asvc := assessment.NewService(repos, nil, nil, nil)
	locker := session.NewMemoryLocker()
	gw := tools.NewGateway(tools.Config{
		Repos:      repos,
		Mastery:    mastery.NewService(repos.Enrollments),
		Assessment: asvc,
		Locker:     locker,
	})
	srv := New(Deps{
		Repos:       repos,
		Enrollments: enrollment.NewService(repos, nil, nil),
		Assessment:  asvc,
		Gateway:     gw,
		Metrics:     metrics.NewMetrics(),
		Version:     "test",
	})
	return &fixture{srv: srv, repos: repos, locker: locker}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// start enrolls u1 in Go and returns the onboarding session id.
func (f *fixture) start(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/skills", map[string]string{"skill": "Go"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["onboarding_session_id"].(string)
}

func (f *fixture) openTraining(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/skills/go/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["id"].(string)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, true, body["db"])
	assert.Equal(t, false, body["sensei"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/skills", nil)

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dojo_http_requests_total")
}

func TestRequiresUser(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/skills", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSkillLifecycle(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	rec := f.do(t, http.MethodPost, "/api/skills", map[string]string{"skill": "go"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/skills", map[string]string{"skill": "!!!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/skills", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	skills := decode(t, rec)["skills"].([]any)
	require.Len(t, skills, 1)
	assert.Equal(t, "white", skills[0].(map[string]any)["current_belt"])

	rec = f.do(t, http.MethodGet, "/api/skills/go/belt-history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode(t, rec)["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "white", history[0].(map[string]any)["to_belt"])

	rec = f.do(t, http.MethodDelete, "/api/skills/go", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/skills/go/progress", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/skills", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToolsAndProgress(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	sid := f.openTraining(t)

	rec := f.do(t, http.MethodPost, "/api/skills/go/sessions/"+sid+"/tools", map[string]any{
		"calls": []map[string]any{
			{"name": "update_mastery", "input": map[string]any{"concept": "Closures", "success": true, "mastery": 0.9}},
			{"name": "queue_reinforcement", "input": map[string]any{"concept": "generics", "priority": "high"}},
			{"name": "update_mastery", "input": map[string]any{"success": true}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode(t, rec)["results"].([]any)
	require.Len(t, results, 3)
	assert.Equal(t, true, results[0].(map[string]any)["ok"])
	assert.Equal(t, true, results[1].(map[string]any)["ok"])
	assert.Equal(t, "invalid_input", results[2].(map[string]any)["code"])

	rec = f.do(t, http.MethodGet, "/api/skills/go/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	concepts := body["concepts"].([]any)
	require.Len(t, concepts, 1)
	assert.Equal(t, "closures", concepts[0].(map[string]any)["key"])
	assert.Equal(t, "strong", concepts[0].(map[string]any)["strength"])
	suggestions := body["suggestions"].([]any)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "generics", suggestions[0].(map[string]any)["concept"])
	assert.Equal(t, false, body["eligibility"].(map[string]any)["eligible"])
}

func TestCompleteTwiceReportsInvalidState(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	sid := f.openTraining(t)
	complete := map[string]any{"calls": []map[string]any{
		{"name": "complete_session", "input": map[string]any{"correctness": "pass", "quality": "good"}},
	}}

	rec := f.do(t, http.MethodPost, "/api/skills/go/sessions/"+sid+"/tools", complete)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["results"].([]any)[0].(map[string]any)["ok"])

	rec = f.do(t, http.MethodPost, "/api/skills/go/sessions/"+sid+"/tools", complete)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "invalid_state", decode(t, rec)["results"].([]any)[0].(map[string]any)["code"])

	rec = f.do(t, http.MethodGet, "/api/skills/go/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "pass", body["evaluation"].(map[string]any)["correctness"])
}

func TestBusySession(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	sid := f.openTraining(t)

	release, err := f.locker.TryLock(context.Background(), sid)
	require.NoError(t, err)
	defer release()

	rec := f.do(t, http.MethodPost, "/api/skills/go/sessions/"+sid+"/tools", map[string]any{"calls": []any{}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "session_busy", decode(t, rec)["code"])
}

func TestSessionTransitions(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	sid := f.openTraining(t)
	base := "/api/skills/go/sessions/" + sid

	rec := f.do(t, http.MethodPost, base+"/reactivate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/tools", map[string]any{"calls": []map[string]any{
		{"name": "complete_session", "input": map[string]any{"correctness": "partial", "quality": "acceptable"}},
	}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/reactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decode(t, rec)["status"])

	rec = f.do(t, http.MethodPost, base+"/abandon", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abandoned", decode(t, rec)["status"])

	rec = f.do(t, http.MethodPost, base+"/reactivate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/skills/go/sessions?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["sessions"].([]any), 2)

	rec = f.do(t, http.MethodGet, "/api/skills/go/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssessmentRequiresEligibility(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	rec := f.do(t, http.MethodPost, "/api/skills/go/sessions", map[string]string{"type": "assessment"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/skills/go/sessions", map[string]string{"type": "sparring"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/skills/go/promote", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/skills/go/eligibility", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["eligible"])
}

func TestMessagesWithoutProvider(t *testing.T) {
	f := newFixture(t)
	sid := f.start(t)

	rec := f.do(t, http.MethodPost, "/api/skills/go/sessions/"+sid+"/messages", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/skills/go/sessions/"+sid+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["messages"])
}

func TestBeltAnalysis(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	rec := f.do(t, http.MethodPost, "/api/skills/go/analysis", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(`{"analysis":"Keep going.","ready_for_promotion":false}`)})
	f.srv.sensei = sensei.NewService(mock, f.srv.gateway, f.repos, sensei.DefaultConfig(), nil)

	rec = f.do(t, http.MethodPost, "/api/skills/go/analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	a := decode(t, rec)["belt_analysis"].(map[string]any)
	assert.Equal(t, "white", a["current_belt"])
	assert.Equal(t, "yellow", a["next_belt"])
	assert.Equal(t, "Keep going.", a["analysis"])
	assert.Equal(t, false, a["ready_for_promotion"])

	rec = f.do(t, http.MethodPost, "/api/skills/rust/analysis", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, mock.CallCount())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", store.ErrNotFound), http.StatusNotFound},
		{session.ErrInvalidState, http.StatusConflict},
		{assessment.ErrConcurrentModification, http.StatusConflict},
		{store.ErrConflict, http.StatusConflict},
		{assessment.ErrNotEligible, http.StatusConflict},
		{session.ErrBusy, http.StatusTooManyRequests},
		{belt.ErrMaxBeltReached, http.StatusUnprocessableEntity},
		{tools.ErrInvalidInput, http.StatusBadRequest},
		{enrollment.ErrInvalidSkill, http.StatusBadRequest},
		{sensei.ErrNoProvider, http.StatusServiceUnavailable},
		{fmt.Errorf("sensei round 1: %w", &llm.ErrRateLimit{Err: errors.New("slow down")}), http.StatusServiceUnavailable},
		{&llm.ErrInvalidResponse{Err: errors.New("bad turn")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
