package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "itsm_sla"

// Metrics exposes the service's prometheus collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	requestCount         *prometheus.CounterVec
	requestLatency       *prometheus.HistogramVec
	errorCount           *prometheus.CounterVec
	timersCreated        *prometheus.CounterVec
	timerTransitions     *prometheus.CounterVec
	escalations          *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	sweepDuration        prometheus.Histogram
	sweepRuns            *prometheus.CounterVec
}

// NewMetrics registers the collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "HTTP errors by route, method and error code.",
		}, []string{"path", "method", "code"}),
		timersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_created_total",
			Help:      "SLA timers created by type and priority.",
		}, []string{"timer_type", "priority"}),
		timerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_transitions_total",
			Help:      "SLA timer status transitions.",
		}, []string{"timer_type", "status"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Ticket escalations by level and reason.",
		}, []string{"level", "reason"}),
		notificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Escalation notifications that could not be delivered.",
		}, []string{"sink"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of SLA sweeper runs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		sweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "SLA sweeper runs by result.",
		}, []string{"result"}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// TimerCreated counts a materialised timer.
func (m *Metrics) TimerCreated(timerType, priority string) {
	if m == nil {
		return
	}
	m.timersCreated.WithLabelValues(timerType, priority).Inc()
}

// TimerTransition counts a timer entering status.
func (m *Metrics) TimerTransition(timerType, status string) {
	if m == nil {
		return
	}
	m.timerTransitions.WithLabelValues(timerType, status).Inc()
}

// Escalation counts a committed escalation.
func (m *Metrics) Escalation(level, reason string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(level, reason).Inc()
}

// NotificationFailed counts a delivery given up on.
func (m *Metrics) NotificationFailed(sink string) {
	if m == nil {
		return
	}
	m.notificationFailures.WithLabelValues(sink).Inc()
}

// SweepFinished records a sweeper run.
func (m *Metrics) SweepFinished(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
}
