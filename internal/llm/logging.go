package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/dojo/internal/metrics"
	"github.com/abhisek/dojo/internal/store"
)

// LoggingProvider records each call three ways: a zap line, provider
// metrics and an llm_request_events row that `dojo llm` reads back.
type LoggingProvider struct {
	inner   Provider
	name    string
	events  store.EventRepo
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// WithLogging wraps p. events, m and log may each be nil.
func WithLogging(p Provider, name string, events store.EventRepo, m *metrics.Metrics, log *zap.Logger) Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingProvider{inner: p, name: name, events: events, metrics: m, log: log, now: time.Now}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := l.now()
	resp, err := l.inner.Generate(ctx, req)
	ev := store.LLMRequestEventData{
		Provider:    l.name,
		Model:       l.inner.ModelID(),
		Purpose:     PurposeFrom(ctx),
		LatencyMs:   l.now().Sub(start).Milliseconds(),
		Success:     err == nil,
		RequestBody: transcript(req),
	}
	if resp != nil {
		ev.Model = resp.Model
		ev.InputTokens = resp.Usage.InputTokens
		ev.OutputTokens = resp.Usage.OutputTokens
		ev.ResponseBody = string(resp.Content)
	}

	fields := []zap.Field{
		zap.String("provider", l.name),
		zap.String("model", ev.Model),
		zap.String("purpose", ev.Purpose),
		zap.Int64("latency_ms", ev.LatencyMs),
	}
	if err != nil {
		ev.ErrorMessage = err.Error()
		l.log.Warn("llm request failed", append(fields, zap.Error(err))...)
	} else {
		l.log.Debug("llm request", append(fields,
			zap.Int("input_tokens", ev.InputTokens),
			zap.Int("output_tokens", ev.OutputTokens),
			zap.Int("cached_tokens", resp.Usage.CachedTokens),
			zap.String("stop", string(resp.StopReason)))...)
	}

	l.metrics.RecordProviderRequest(l.name, ev.Model, ev.Success, ev.LatencyMs, ev.InputTokens, ev.OutputTokens)
	if l.events != nil {
		// A lost audit row never fails the sensei turn.
		if werr := l.events.AppendLLMRequest(ctx, ev); werr != nil {
			l.log.Warn("record llm request event", zap.Error(werr))
		}
	}
	return resp, err
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}

// transcript flattens a request into the text stored with its event.
func transcript(req Request) string {
	var b strings.Builder
	section := func(title, body string) {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", title, body)
	}
	if req.System != "" {
		section("system", req.System)
	}
	for _, m := range req.Messages {
		section(string(m.Role), m.Content)
	}
	if req.Schema != nil {
		if def, err := json.Marshal(req.Schema.Definition); err == nil {
			section("schema: "+req.Schema.Name, string(def))
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
