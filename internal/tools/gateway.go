// Package tools is the boundary between the sensei conversation loop and the
// mastery engine. Each structured tool call is validated, checked against
// the caller and routed to the concept store, the evaluator or the belt
// transactions, one session turn at a time.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/activity"
	"github.com/abhisek/dojo/internal/assessment"
	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/llm"
	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/metrics"
	"github.com/abhisek/dojo/internal/session"
	"github.com/abhisek/dojo/internal/store"
)

// ErrInvalidInput is returned for an unknown tool or a payload that does not
// match the tool's schema.
var ErrInvalidInput = errors.New("invalid tool input")

var tracer = otel.Tracer("github.com/abhisek/dojo/internal/tools")

// Caller identifies who is invoking a tool. It is supplied by the
// authenticated routing layer, never by the model.
type Caller struct {
	UserID    string
	SkillID   string
	SessionID string
}

// Call is one structured tool invocation.
type Call struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Result is reported back to the conversation loop for every call.
type Result struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Config holds the gateway's collaborators. Repos, Mastery and Assessment
// are required.
type Config struct {
	Repos      store.Repos
	Mastery    *mastery.Service
	Assessment *assessment.Service
	Locker     session.Locker
	Emitter    activity.Emitter
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Now        func() time.Time

	// PromoteAttempts bounds how often an assessment promotion is retried
	// after losing a version race. Zero means 3.
	PromoteAttempts int
}

// Gateway dispatches tool calls.
type Gateway struct {
	repos      store.Repos
	mastery    *mastery.Service
	assessment *assessment.Service
	locker     session.Locker
	emitter    activity.Emitter
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
	attempts   int
}

// NewGateway creates a gateway. A nil Locker defaults to an in-process one.
func NewGateway(cfg Config) *Gateway {
	g := &Gateway{
		repos:      cfg.Repos,
		mastery:    cfg.Mastery,
		assessment: cfg.Assessment,
		locker:     cfg.Locker,
		emitter:    cfg.Emitter,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		now:        cfg.Now,
		attempts:   cfg.PromoteAttempts,
	}
	if g.locker == nil {
		g.locker = session.NewMemoryLocker()
	}
	if g.emitter == nil {
		g.emitter = activity.Nop{}
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.attempts <= 0 {
		g.attempts = 3
	}
	return g
}

// BeginTurn takes the session's lock. A held lock fails at once with
// session.ErrBusy. The returned release must be deferred by the caller.
func (g *Gateway) BeginTurn(ctx context.Context, c Caller) (func(), error) {
	release, err := g.locker.TryLock(ctx, c.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			g.metrics.RecordSessionBusy()
			g.log.Info("session busy", zap.String("session", c.SessionID))
		}
		return nil, err
	}
	return release, nil
}

// Handle runs calls in order within one locked turn.
func (g *Gateway) Handle(ctx context.Context, c Caller, calls ...Call) ([]Result, error) {
	release, err := g.BeginTurn(ctx, c)
	if err != nil {
		return nil, err
	}
	defer release()

	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, g.Dispatch(ctx, c, call))
	}
	return results, nil
}

// Dispatch runs one tool call. The caller must hold the session's turn.
// Failures are reported in the Result, never as a panic.
func (g *Gateway) Dispatch(ctx context.Context, c Caller, call Call) (res Result) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "tool."+call.Name, trace.WithAttributes(
		attribute.String("dojo.session", c.SessionID),
		attribute.String("dojo.skill", c.SkillID),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			g.log.Error("tool handler panicked", zap.String("tool", call.Name), zap.Any("panic", r))
			res = Result{Name: call.Name, Error: "internal error", Code: "internal"}
		}
		outcome := "ok"
		if !res.OK {
			outcome = res.Code
			span.SetStatus(codes.Error, res.Error)
		}
		g.metrics.RecordToolCall(call.Name, outcome, time.Since(start).Seconds())
	}()

	data, err := g.dispatch(ctx, c, call)
	if err != nil {
		code, retryable := ErrorCode(err)
		span.RecordError(err)
		g.log.Info("tool call failed",
			zap.String("tool", call.Name),
			zap.String("session", c.SessionID),
			zap.String("code", code),
			zap.Error(err))
		return Result{Name: call.Name, Error: err.Error(), Code: code, Retryable: retryable, Data: data}
	}
	g.log.Debug("tool call", zap.String("tool", call.Name), zap.String("session", c.SessionID))
	return Result{Name: call.Name, OK: true, Data: data}
}

// ErrorCode maps an engine error to a stable result code and whether the
// conversation loop may retry the call.
func ErrorCode(err error) (code string, retryable bool) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input", false
	case errors.Is(err, session.ErrBusy):
		return "session_busy", true
	case errors.Is(err, store.ErrNotFound):
		return "not_found", false
	case errors.Is(err, session.ErrInvalidState):
		return "invalid_state", false
	case errors.Is(err, belt.ErrMaxBeltReached):
		return "max_belt_reached", false
	case errors.Is(err, assessment.ErrNotEligible):
		return "not_eligible", false
	case errors.Is(err, store.ErrConflict):
		return "conflict", true
	default:
		return "internal", false
	}
}

type handler func(ctx context.Context, t *turn, input json.RawMessage) (any, error)

// turn is the resolved state a handler works against.
type turn struct {
	caller     Caller
	session    *store.Session
	enrollment *store.Enrollment
}

func (g *Gateway) handlers() map[string]handler {
	return map[string]handler{
		UpdateMastery:      g.updateMastery,
		QueueReinforcement: g.queueReinforcement,
		CompleteSession:    g.completeSession,
		SetBelt:            g.setBelt,
		RecordObservation:  g.recordObservation,
		SetTrainingContext: g.setTrainingContext,
		PresentProblem:     g.presentProblem,
	}
}

func (g *Gateway) dispatch(ctx context.Context, c Caller, call Call) (any, error) {
	h, ok := g.handlers()[call.Name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q: %w", call.Name, ErrInvalidInput)
	}
	if len(call.Input) == 0 {
		call.Input = json.RawMessage(`{}`)
	}
	if err := llm.Validate(Schemas[call.Name], call.Input); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", call.Name, err, ErrInvalidInput)
	}

	t, err := g.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	return h(ctx, t, call.Input)
}

// resolve loads the caller's session and enrollment. Anything that does not
// belong to the caller is reported as not found.
func (g *Gateway) resolve(ctx context.Context, c Caller) (*turn, error) {
	s, err := g.repos.Sessions.GetSession(ctx, c.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s.UserID != c.UserID {
		return nil, fmt.Errorf("load session: %w", store.ErrNotFound)
	}
	e, err := g.repos.Enrollments.Get(ctx, s.EnrollmentID)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if e.UserID != c.UserID || e.SkillID != c.SkillID {
		return nil, fmt.Errorf("load enrollment: %w", store.ErrNotFound)
	}
	if s.Status != store.StatusActive {
		return nil, fmt.Errorf("session is %s: %w", s.Status, session.ErrInvalidState)
	}
	return &turn{caller: c, session: s, enrollment: e}, nil
}

func decode(name string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: %v: %w", name, err, ErrInvalidInput)
	}
	return nil
}

func requireConcept(name, concept string) (string, error) {
	key := mastery.NormalizeKey(concept)
	if key == "" {
		return "", fmt.Errorf("%s: concept name is blank: %w", name, ErrInvalidInput)
	}
	return key, nil
}

func requireOnboarding(name string, s *store.Session) error {
	if s.Type != store.SessionOnboarding {
		return fmt.Errorf("%s is only valid during onboarding: %w", name, session.ErrInvalidState)
	}
	return nil
}
