package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the worker.
type Metrics struct {
	config MetricsConfig

	invocationsStarted   *prometheus.CounterVec
	invocationsCompleted *prometheus.CounterVec
	invocationDuration   *prometheus.HistogramVec
	activeInvocations    prometheus.Gauge

	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec

	functionsLoaded prometheus.Gauge
	replayPasses    prometheus.Counter
	pendingActions  prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. With collection disabled all
// recording methods are no-ops.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		invocationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_started_total",
				Help:      "Total number of invocations started",
			},
			[]string{"function"},
		),
		invocationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_completed_total",
				Help:      "Total number of invocations completed",
			},
			[]string{"function", "status"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Duration of invocation execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"function"},
		),
		activeInvocations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "invocations_active",
				Help:      "Current number of running invocations",
			},
		),
		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of messages received from the host",
			},
			[]string{"type"},
		),
		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of messages sent to the host",
			},
			[]string{"type"},
		),
		functionsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "functions_loaded",
				Help:      "Number of functions loaded into the registry",
			},
		),
		replayPasses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replay_passes_total",
				Help:      "Total number of orchestration replay passes",
			},
		),
		pendingActions: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "replay_pending_actions",
				Help:      "Pending actions reported per replay pass",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
	}

	collectors := []prometheus.Collector{
		m.invocationsStarted, m.invocationsCompleted, m.invocationDuration,
		m.activeInvocations, m.messagesReceived, m.messagesSent,
		m.functionsLoaded, m.replayPasses, m.pendingActions,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// InvocationStarted records the start of an invocation.
func (m *Metrics) InvocationStarted(function string) {
	if m.registry == nil {
		return
	}
	m.invocationsStarted.WithLabelValues(function).Inc()
	m.activeInvocations.Inc()
}

// InvocationCompleted records the end of an invocation.
func (m *Metrics) InvocationCompleted(function, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.invocationsCompleted.WithLabelValues(function, status).Inc()
	m.invocationDuration.WithLabelValues(function).Observe(duration.Seconds())
	m.activeInvocations.Dec()
}

// MessageReceived records one inbound envelope.
func (m *Metrics) MessageReceived(messageType string) {
	if m.registry == nil {
		return
	}
	m.messagesReceived.WithLabelValues(messageType).Inc()
}

// MessageSent records one outbound envelope.
func (m *Metrics) MessageSent(messageType string) {
	if m.registry == nil {
		return
	}
	m.messagesSent.WithLabelValues(messageType).Inc()
}

// FunctionsLoaded records the registry size.
func (m *Metrics) FunctionsLoaded(n int) {
	if m.registry == nil {
		return
	}
	m.functionsLoaded.Set(float64(n))
}

// ReplayPass records one orchestration replay pass and its pending batch size.
func (m *Metrics) ReplayPass(pendingActions int) {
	if m.registry == nil {
		return
	}
	m.replayPasses.Inc()
	m.pendingActions.Observe(float64(pendingActions))
}

// Handler returns the HTTP handler serving the metrics endpoint, or nil when
// collection is disabled.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP listener. It blocks until the server stops.
func (m *Metrics) Serve() error {
	if m.registry == nil {
		return nil
	}
	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
