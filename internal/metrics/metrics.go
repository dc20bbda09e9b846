package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for dojo.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// Engine metrics
	ToolCalls       *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	WriteConflicts  *prometheus.CounterVec
	Promotions      *prometheus.CounterVec
	EligibilityRuns *prometheus.CounterVec
	SessionsBusy    prometheus.Counter

	// Activity metrics
	ActivitiesEmitted *prometheus.CounterVec
	ActivitiesDropped prometheus.Counter

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	ProviderTokens   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics on the default
// registry. Repeated calls return the same instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			ToolCalls: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dojo_tool_calls_total",
					Help: "Total number of sensei tool calls by outcome",
				},
				[]string{"tool", "result"},
			),
			ToolDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dojo_tool_call_duration_seconds",
					Help:    "Duration of sensei tool calls in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to 2s
				},
				[]string{"tool"},
			),
			WriteConflicts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dojo_enrollment_write_conflicts_total",
					Help: "Enrollment writes that lost an optimistic version race",
				},
				[]string{"operation"},
			),
			Promotions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dojo_belt_promotions_total",
					Help: "Belt promotions by resulting belt and result",
				},
				[]string{"to_belt", "result"},
			),
			EligibilityRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dojo_eligibility_checks_total",
					Help: "Eligibility evaluations by outcome",
				},
				[]string{"eligible"},
			),
			SessionsBusy: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "dojo_session_busy_total",
					Help: "Turns rejected because the session was already being processed",
				},
			),
			ActivitiesEmitted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dojo_activities_emitted_total",
					Help: "Activities delivered to sinks",
				},
				[]string{"type", "sink", "result"},
			),
			ActivitiesDropped: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "dojo_activities_dropped_total",
					Help: "Activities dropped because the dispatch buffer was full",
				},
			),
			ProviderRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dojo_provider_requests_total",
					Help: "Total number of LLM provider requests",
				},
				[]string{"provider", "model", "success"},
			),
			ProviderLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dojo_provider_latency_seconds",
					Help:    "LLM provider request latency in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to 51s
				},
				[]string{"provider", "model"},
			),
			ProviderTokens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dojo_provider_tokens_total",
					Help: "Tokens consumed by LLM requests",
				},
				[]string{"provider", "model", "direction"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dojo_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dojo_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordToolCall records one dispatched tool call.
func (m *Metrics) RecordToolCall(tool, result string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, result).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordWriteConflict records a lost version race for operation.
func (m *Metrics) RecordWriteConflict(operation string) {
	if m == nil {
		return
	}
	m.WriteConflicts.WithLabelValues(operation).Inc()
}

// RecordPromotion records a promotion attempt.
func (m *Metrics) RecordPromotion(toBelt, result string) {
	if m == nil {
		return
	}
	m.Promotions.WithLabelValues(toBelt, result).Inc()
}

// RecordEligibility records an eligibility evaluation.
func (m *Metrics) RecordEligibility(eligible bool) {
	if m == nil {
		return
	}
	m.EligibilityRuns.WithLabelValues(strconv.FormatBool(eligible)).Inc()
}

// RecordSessionBusy records a turn rejected by the session lock.
func (m *Metrics) RecordSessionBusy() {
	if m == nil {
		return
	}
	m.SessionsBusy.Inc()
}

// RecordActivity records an activity delivery attempt to a sink.
func (m *Metrics) RecordActivity(typ, sink string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.ActivitiesEmitted.WithLabelValues(typ, sink, result).Inc()
}

// RecordActivityDropped records an activity discarded under backpressure.
func (m *Metrics) RecordActivityDropped() {
	if m == nil {
		return
	}
	m.ActivitiesDropped.Inc()
}

// RecordProviderRequest records an LLM provider request.
func (m *Metrics) RecordProviderRequest(provider, model string, success bool, latencyMs int64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, model, strconv.FormatBool(success)).Inc()
	m.ProviderLatency.WithLabelValues(provider, model).Observe(float64(latencyMs) / 1000.0)
	if inputTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
