// Package metrics exposes Prometheus collectors for the proctoring engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, so callers never need to check whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	ViolationsTotal        *prometheus.CounterVec
	DisqualificationsTotal prometheus.Counter
	AttemptsTotal          *prometheus.CounterVec
	IgnoredEventsTotal     prometheus.Counter
	ActiveSessions         *prometheus.GaugeVec
	QueueFailuresTotal     *prometheus.CounterVec
	RequestDuration        *prometheus.HistogramVec
}

// New creates the collectors and registers them on a private registry
// together with the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctor_violations_total",
				Help: "Integrity violations recorded, by type",
			},
			[]string{"type"},
		),
		DisqualificationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "proctor_disqualifications_total",
				Help: "Sessions that entered DISQUALIFIED",
			},
		),
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctor_attempts_graded_total",
				Help: "Graded attempts, by completion reason and disqualification",
			},
			[]string{"reason", "disqualified"},
		),
		IgnoredEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "proctor_ignored_events_total",
				Help: "Events for unknown or completed sessions",
			},
		),
		ActiveSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "proctor_live_sessions",
				Help: "Sessions not yet completed, by display status, as of the last sweep",
			},
			[]string{"status"},
		),
		QueueFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctor_queue_failures_total",
				Help: "Failed pushes to persistence queues or the event broker",
			},
			[]string{"queue"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ViolationsTotal,
		m.DisqualificationsTotal,
		m.AttemptsTotal,
		m.IgnoredEventsTotal,
		m.ActiveSessions,
		m.QueueFailuresTotal,
		m.RequestDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Violation(kind string) {
	if m == nil {
		return
	}
	m.ViolationsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) Disqualified() {
	if m == nil {
		return
	}
	m.DisqualificationsTotal.Inc()
}

func (m *Metrics) AttemptGraded(reason string, disqualified bool) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(reason, strconv.FormatBool(disqualified)).Inc()
}

func (m *Metrics) IgnoredEvent() {
	if m == nil {
		return
	}
	m.IgnoredEventsTotal.Inc()
}

func (m *Metrics) QueueFailure(queue string) {
	if m == nil {
		return
	}
	m.QueueFailuresTotal.WithLabelValues(queue).Inc()
}

// SetLiveSessions replaces the live-session gauge values.
func (m *Metrics) SetLiveSessions(byStatus map[string]int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Reset()
	for status, n := range byStatus {
		m.ActiveSessions.WithLabelValues(status).Set(float64(n))
	}
}

// Middleware records request durations by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
