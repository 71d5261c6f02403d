// Package metrics owns the Prometheus registry of the API process.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zapcore"
)

const namespace = "tips"

// Metrics groups the collectors exported on /metrics.
type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	invitesCreated  prometheus.Counter
	redemptions     *prometheus.CounterVec
	logStatements   *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency of HTTP requests, by route and status.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		invitesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invites_created_total",
			Help:      "Number of group invites issued.",
		}),
		redemptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invite_redemptions_total",
				Help:      "Invite redemption attempts, by outcome.",
			},
			[]string{"outcome"},
		),
		logStatements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_statements_total",
				Help:      "Number of log statements, differentiated by log level.",
			},
			[]string{"level"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// InviteCreated counts an issued invite.
func (m *Metrics) InviteCreated() {
	m.invitesCreated.Inc()
}

// InviteRedeemed counts a redemption attempt with its outcome.
func (m *Metrics) InviteRedeemed(outcome string) {
	m.redemptions.WithLabelValues(outcome).Inc()
}

// LogHook counts log statements per level. Pass it to zap.Hooks.
func (m *Metrics) LogHook(entry zapcore.Entry) error {
	m.logStatements.WithLabelValues(entry.Level.String()).Inc()
	return nil
}
