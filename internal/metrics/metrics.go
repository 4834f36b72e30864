package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the AgentLink
// service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Ledger instruction metrics.
	InstructionsTotal    *prometheus.CounterVec
	InstructionDuration  *prometheus.HistogramVec
	AmountLockedTotal    prometheus.Counter
	AmountReleasedTotal  *prometheus.CounterVec
	EventsCommittedTotal *prometheus.CounterVec

	// Webhook dispatcher metrics.
	WebhookDeliveriesTotal *prometheus.CounterVec

	// Rate limiting metrics.
	RateLimitRejectionsTotal prometheus.Counter

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentlink_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentlink_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		HTTPRequestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentlink_http_request_size_bytes",
			Help:    "HTTP request size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentlink_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path_pattern"}),

		InstructionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentlink_ledger_instructions_total",
			Help: "Total number of ledger instructions processed.",
		}, []string{"instruction", "status"}),

		InstructionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentlink_ledger_instruction_duration_seconds",
			Help:    "Ledger instruction execution time in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"instruction"}),

		AmountLockedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentlink_ledger_amount_locked_total",
			Help: "Cumulative amount locked into escrows.",
		}),

		AmountReleasedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentlink_ledger_amount_released_total",
			Help: "Cumulative amount released from escrows, by outcome.",
		}, []string{"outcome"}),

		EventsCommittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentlink_ledger_events_committed_total",
			Help: "Total number of ledger events committed.",
		}, []string{"event_type"}),

		WebhookDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentlink_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts.",
		}, []string{"event_type", "status"}),

		RateLimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentlink_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentlink_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentlink_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentlink_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	// Register all metrics.
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.InstructionsTotal,
		m.InstructionDuration,
		m.AmountLockedTotal,
		m.AmountReleasedTotal,
		m.EventsCommittedTotal,
		m.WebhookDeliveriesTotal,
		m.RateLimitRejectionsTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.ServerStartTime,
	)

	// Set server start time.
	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveInstruction records the outcome and duration of a ledger
// instruction.
func (m *Metrics) ObserveInstruction(instruction, status string, seconds float64) {
	m.InstructionsTotal.WithLabelValues(instruction, status).Inc()
	m.InstructionDuration.WithLabelValues(instruction).Observe(seconds)
}

// ObserveHTTP records a completed HTTP request.
func (m *Metrics) ObserveHTTP(method, pathPattern string, statusCode int, seconds, reqBytes, respBytes float64) {
	code := fmt.Sprintf("%d", statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
	if reqBytes > 0 {
		m.HTTPRequestSize.WithLabelValues(method, pathPattern).Observe(reqBytes)
	}
	if respBytes > 0 {
		m.HTTPResponseSize.WithLabelValues(method, pathPattern).Observe(respBytes)
	}
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection() {
	m.RateLimitRejectionsTotal.Inc()
}

// DeliverySucceeded records a successful webhook delivery.
func (m *Metrics) DeliverySucceeded(eventType string) {
	m.WebhookDeliveriesTotal.WithLabelValues(eventType, "ok").Inc()
}

// DeliveryFailed records a failed webhook delivery attempt.
func (m *Metrics) DeliveryFailed(eventType string) {
	m.WebhookDeliveriesTotal.WithLabelValues(eventType, "error").Inc()
}
