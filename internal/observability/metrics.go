package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "broadcast_engine"

// Metrics stores Prometheus collectors used by the API and the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDuration         *prometheus.HistogramVec
	recipientsResolvedTotal     *prometheus.CounterVec
	installAttemptsTotal        *prometheus.CounterVec
	sendMessagesEnqueuedTotal   prometheus.Counter
	notificationsCompletedTotal *prometheus.CounterVec
	phaseDuration               *prometheus.HistogramVec
	prepareInflight             prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		recipientsResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "recipients_resolved_total",
				Help:      "Delivery records created by audience resolution, by audience source.",
			},
			[]string{"source"},
		),
		installAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "install_attempts_total",
				Help:      "Proactive app installation attempts by target type and result.",
			},
			[]string{"target", "result"},
		),
		sendMessagesEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "send_messages_enqueued_total",
				Help:      "Send messages published to the send queue.",
			},
		),
		notificationsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_completed_total",
				Help:      "Notifications that reached a terminal status, by status.",
			},
			[]string{"status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of preparation pipeline phases in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16),
			},
			[]string{"phase"},
		),
		prepareInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "prepare_inflight",
				Help:      "Preparation pipelines currently running in this process.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.recipientsResolvedTotal,
		m.installAttemptsTotal,
		m.sendMessagesEnqueuedTotal,
		m.notificationsCompletedTotal,
		m.phaseDuration,
		m.prepareInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) AddRecipientsResolved(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recipientsResolvedTotal.WithLabelValues(normalizeLabel(source)).Add(float64(n))
}

func (m *Metrics) IncInstallAttempt(target string, result string) {
	if m == nil {
		return
	}
	m.installAttemptsTotal.WithLabelValues(normalizeLabel(target), normalizeLabel(result)).Inc()
}

func (m *Metrics) AddMessagesEnqueued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sendMessagesEnqueuedTotal.Add(float64(n))
}

func (m *Metrics) IncNotificationCompleted(status string) {
	if m == nil {
		return
	}
	m.notificationsCompletedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) ObservePhaseDuration(phase string, duration time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(normalizeLabel(phase)).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncPrepareInFlight() {
	if m == nil {
		return
	}
	m.prepareInflight.Inc()
}

func (m *Metrics) DecPrepareInFlight() {
	if m == nil {
		return
	}
	m.prepareInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
