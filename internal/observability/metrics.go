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
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Metrics stores Prometheus collectors for the dispatch loop, the executor,
// and the inbound HTTP surface.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	emailsSentTotal     *prometheus.CounterVec
	sendsFailedTotal    *prometheus.CounterVec
	sendsSkippedTotal   *prometheus.CounterVec
	retriesTotal        *prometheus.CounterVec
	sendDuration        *prometheus.HistogramVec
	dispatchBatchSize   prometheus.Histogram
	executionsInFlight  prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sequencer",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sequencer",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		emailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sequencer",
				Name:      "emails_sent_total",
				Help:      "Total number of sequence emails sent successfully.",
			},
			[]string{"campaign"},
		),
		sendsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sequencer",
				Name:      "sends_failed_total",
				Help:      "Total number of queue items that ended in failed state.",
			},
			[]string{"campaign", "reason"},
		),
		sendsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sequencer",
				Name:      "sends_skipped_total",
				Help:      "Total number of sends skipped by policy (suppression, daily limit, terminal enrollment).",
			},
			[]string{"reason"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sequencer",
				Name:      "retries_scheduled_total",
				Help:      "Total number of queue items rescheduled for retry.",
			},
			[]string{"campaign"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sequencer",
				Name:      "send_duration_seconds",
				Help:      "Sender call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"campaign"},
		),
		dispatchBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sequencer",
				Name:      "dispatch_batch_size",
				Help:      "Number of due queue items processed per dispatch cycle.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		executionsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sequencer",
				Name:      "executions_in_flight",
				Help:      "Current number of queue items being executed.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.emailsSentTotal,
		m.sendsFailedTotal,
		m.sendsSkippedTotal,
		m.retriesTotal,
		m.sendDuration,
		m.dispatchBatchSize,
		m.executionsInFlight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FiberHandler exposes the scrape endpoint inside a fiber app.
func (m *Metrics) FiberHandler() fiber.Handler {
	scrape := fasthttpadaptor.NewFastHTTPHandler(m.Handler())
	return func(c *fiber.Ctx) error {
		scrape(c.Context())
		return nil
	}
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncEmailSent(campaignID string) {
	if m == nil {
		return
	}
	m.emailsSentTotal.WithLabelValues(campaignLabel(campaignID)).Inc()
}

func (m *Metrics) IncSendFailed(campaignID string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.sendsFailedTotal.WithLabelValues(campaignLabel(campaignID), reasonLabel).Inc()
}

func (m *Metrics) IncSendSkipped(reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.sendsSkippedTotal.WithLabelValues(reasonLabel).Inc()
}

func (m *Metrics) IncRetryScheduled(campaignID string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(campaignLabel(campaignID)).Inc()
}

func (m *Metrics) ObserveSendDuration(campaignID string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.WithLabelValues(campaignLabel(campaignID)).Observe(seconds)
}

func (m *Metrics) ObserveDispatchBatch(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.dispatchBatchSize.Observe(float64(count))
}

func (m *Metrics) IncExecutionsInFlight() {
	if m == nil {
		return
	}
	m.executionsInFlight.Inc()
}

func (m *Metrics) DecExecutionsInFlight() {
	if m == nil {
		return
	}
	m.executionsInFlight.Dec()
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

func campaignLabel(campaignID string) string {
	normalized := strings.TrimSpace(campaignID)
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
