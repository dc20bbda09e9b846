package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/assessment"
	"github.com/abhisek/dojo/internal/belt"
	"github.com/abhisek/dojo/internal/enrollment"
	"github.com/abhisek/dojo/internal/llm"
	"github.com/abhisek/dojo/internal/sensei"
	"github.com/abhisek/dojo/internal/session"
	"github.com/abhisek/dojo/internal/store"
	"github.com/abhisek/dojo/internal/tools"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, tools.ErrInvalidInput),
		errors.Is(err, enrollment.ErrInvalidSkill),
		errors.Is(err, enrollment.ErrInvalidSessionType):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, belt.ErrMaxBeltReached):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, assessment.ErrNotEligible):
		return http.StatusConflict
	case errors.Is(err, sensei.ErrNoProvider),
		errors.As(err, new(*llm.ErrProviderUnavailable)),
		errors.As(err, new(*llm.ErrRateLimit)):
		return http.StatusServiceUnavailable
	case errors.As(err, new(*llm.ErrInvalidResponse)),
		errors.As(err, new(*llm.ErrMaxTokensExceeded)),
		errors.As(err, new(*llm.ErrRejected)):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal error"
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	body := map[string]any{"error": msg}
	if code, retryable := tools.ErrorCode(err); code != "internal" {
		body["code"] = code
		body["retryable"] = retryable
	}
	writeJSON(w, status, body)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

// decodeOptional is decodeBody that accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := decodeBody(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
