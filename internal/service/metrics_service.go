package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deployops/approval-gate/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the approval
// lifecycle and the HTTP surface.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	pending         prometheus.Gauge
	decisions       *prometheus.CounterVec
	waitDuration    *prometheus.HistogramVec
	reminders       prometheus.Counter
	notifyFailures  prometheus.Counter
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "approval_pending_current",
		Help: "Approvals currently awaiting a decision",
	})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_decisions_total",
		Help: "Resolved approvals by outcome",
	}, []string{"outcome"})

	waitDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "approval_wait_duration_seconds",
		Help:    "Time from request to resolution in seconds",
		Buckets: []float64{1, 5, 15, 60, 300, 600, 1800, 3600, 7200},
	}, []string{"outcome"})

	reminders := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "approval_reminders_sent_total",
		Help: "Reminder notifications sent",
	})

	notifyFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "approval_notify_failures_total",
		Help: "Notification deliveries that exhausted their retries",
	})

	registry.MustRegister(
		requestDuration,
		requestTotal,
		pending,
		decisions,
		waitDuration,
		reminders,
		notifyFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		pending:         pending,
		decisions:       decisions,
		waitDuration:    waitDuration,
		reminders:       reminders,
		notifyFailures:  notifyFailures,
	}
}

// Handler exposes the scrape endpoint.
func (m *MetricsService) Handler() http.Handler {
	return m.handler
}

// ObserveRequest records one completed HTTP request.
func (m *MetricsService) ObserveRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, code).Inc()
}

// ApprovalCreated bumps the pending gauge.
func (m *MetricsService) ApprovalCreated() {
	m.pending.Inc()
}

// ObserveDecision records a resolution: outcome counter, pending gauge and
// time-to-decision.
func (m *MetricsService) ObserveDecision(rec *models.ApprovalRequest) {
	if rec == nil || !rec.Status.Resolved() {
		return
	}
	outcome := string(rec.Status)
	m.decisions.WithLabelValues(outcome).Inc()
	m.pending.Dec()
	if !rec.CreatedAt.IsZero() {
		resolvedAt := rec.UpdatedAt
		if resolvedAt.IsZero() {
			resolvedAt = time.Now()
		}
		m.waitDuration.WithLabelValues(outcome).Observe(resolvedAt.Sub(rec.CreatedAt).Seconds())
	}
}

// ReminderSent counts a delivered reminder.
func (m *MetricsService) ReminderSent() {
	m.reminders.Inc()
}

// NotifyFailed counts a notification dropped after retries.
func (m *MetricsService) NotifyFailed() {
	m.notifyFailures.Inc()
}
