// Package metrics exposes Prometheus collectors for the reply pipeline and
// the generative-text client.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chatreply/internal/llm"
	"github.com/chatreply/internal/selector"
)

const namespace = "chatreply"

// Metrics implements engine.Observer and llm.EventSink.
type Metrics struct {
	lockAttempts     *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryDuration prometheus.Histogram
	llmRequests      *prometheus.CounterVec
	llmRetries       *prometheus.CounterVec
	llmRepairs       *prometheus.CounterVec
	llmDuration      *prometheus.HistogramVec
	jobs             *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lockAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_lock_attempts_total",
			Help:      "Room lock acquisition attempts by result.",
		}, []string{"acquired"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_decisions_total",
			Help:      "Reply decisions by outcome and reason.",
		}, []string{"should_reply", "reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_deliveries_total",
			Help:      "Reply deliveries by status.",
		}, []string{"status"}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_delivery_duration_seconds",
			Help:      "Time spent generating, storing and publishing a reply.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Generative-text requests by backend, operation and status.",
		}, []string{"backend", "op", "status"}),
		llmRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_retries_total",
			Help:      "Generative-text retry attempts.",
		}, []string{"backend", "op"}),
		llmRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_json_repairs_total",
			Help:      "JSON responses that needed repair.",
		}, []string{"backend"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Generative-text request latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
		}, []string{"backend", "op"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Processed message-posted jobs by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.lockAttempts,
		m.decisions,
		m.deliveries,
		m.deliveryDuration,
		m.llmRequests,
		m.llmRetries,
		m.llmRepairs,
		m.llmDuration,
		m.jobs,
	)
	return m
}

func (m *Metrics) LockAttempt(acquired bool) {
	m.lockAttempts.WithLabelValues(strconv.FormatBool(acquired)).Inc()
}

func (m *Metrics) Decision(d selector.ReplyDecision) {
	m.decisions.WithLabelValues(strconv.FormatBool(d.ShouldReply), string(d.Reason)).Inc()
}

func (m *Metrics) Delivery(elapsed time.Duration, err error) {
	m.deliveries.WithLabelValues(status(err)).Inc()
	m.deliveryDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) GenerationRetried(backend, op string, _ int) {
	m.llmRetries.WithLabelValues(backend, op).Inc()
}

func (m *Metrics) GenerationRepaired(backend string, _ llm.JSONRepairStats) {
	m.llmRepairs.WithLabelValues(backend).Inc()
}

func (m *Metrics) GenerationFinished(backend, op string, _ int, elapsed time.Duration, err error) {
	m.llmRequests.WithLabelValues(backend, op, status(err)).Inc()
	m.llmDuration.WithLabelValues(backend, op).Observe(elapsed.Seconds())
}

// JobResult counts a finished job; result is one of "replied", "declined",
// "contended" or "failed".
func (m *Metrics) JobResult(result string) {
	m.jobs.WithLabelValues(result).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
