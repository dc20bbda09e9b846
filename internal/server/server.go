// Package server is the dojo HTTP API.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/assessment"
	"github.com/abhisek/dojo/internal/enrollment"
	"github.com/abhisek/dojo/internal/metrics"
	"github.com/abhisek/dojo/internal/sensei"
	"github.com/abhisek/dojo/internal/spacedrep"
	"github.com/abhisek/dojo/internal/store"
	"github.com/abhisek/dojo/internal/tools"
)

// Deps are the services the API exposes. Sensei may be nil when no LLM
// provider is configured.
type Deps struct {
	Repos       store.Repos
	Enrollments *enrollment.Service
	Assessment  *assessment.Service
	Gateway     *tools.Gateway
	Sensei      *sensei.Service
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	// Ping checks the backing store for /api/health.
	Ping func(context.Context) error
	// UserHeader names the header carrying the authenticated user id.
	UserHeader string
	Version    string
}

// Server is the dojo HTTP API server.
type Server struct {
	repos       store.Repos
	enrollments *enrollment.Service
	assessment  *assessment.Service
	gateway     *tools.Gateway
	sensei      *sensei.Service
	scheduler   *spacedrep.Scheduler
	metrics     *metrics.Metrics
	log         *zap.Logger
	ping        func(context.Context) error
	userHeader  string
	version     string
	started     time.Time
	router      chi.Router

	now func() time.Time
}

// New creates a Server.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.UserHeader == "" {
		d.UserHeader = "X-User-ID"
	}
	if d.Ping == nil {
		d.Ping = func(context.Context) error { return nil }
	}
	s := &Server{
		repos:       d.Repos,
		enrollments: d.Enrollments,
		assessment:  d.Assessment,
		gateway:     d.Gateway,
		sensei:      d.Sensei,
		scheduler:   spacedrep.NewScheduler(d.Logger),
		metrics:     d.Metrics,
		log:         d.Logger,
		ping:        d.Ping,
		userHeader:  d.UserHeader,
		version:     d.Version,
		started:     time.Now(),
		now:         time.Now,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler wraps the server with OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s, "dojo-http")
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/activities", s.handleListActivities)
			r.Get("/stats", s.handleUserStats)

			r.Post("/skills", s.handleStartSkill)
			r.Get("/skills", s.handleListSkills)
			r.Route("/skills/{skillID}", func(r chi.Router) {
				r.Delete("/", s.handleRemoveSkill)
				r.Get("/progress", s.handleProgress)
				r.Post("/eligibility", s.handleCheckEligibility)
				r.Post("/promote", s.handlePromote)
				r.Post("/analysis", s.handleAnalysis)
				r.Get("/belt-history", s.handleBeltHistory)

				r.Post("/sessions", s.handleOpenSession)
				r.Get("/sessions", s.handleListSessions)
				r.Route("/sessions/{sessionID}", func(r chi.Router) {
					r.Get("/", s.handleGetSession)
					r.Post("/reactivate", s.handleReactivate)
					r.Post("/abandon", s.handleAbandon)
					r.Post("/tools", s.handleTools)
					r.Get("/messages", s.handleListMessages)
					r.Post("/messages", s.handleSendMessage)
				})
			})
		})
	})

	s.router = r
}

// instrument records request counts and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			pattern = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Method, pattern, strconv.Itoa(status), time.Since(start).Seconds())
	})
}

type userKey struct{}

// requireUser trusts the upstream auth layer's user header.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get(s.userHeader)
		if uid == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + s.userHeader + " header"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, uid)))
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(userKey{}).(string)
	return uid
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.ping(r.Context()) == nil
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"sensei":  s.sensei != nil,
	})
}
