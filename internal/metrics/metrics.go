// Package metrics exposes Prometheus collectors for the call pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"call_analyzer/internal/jobs"
)

// Metrics holds the collectors. Each instance owns its registry so tests
// can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	submitted   *prometheus.CounterVec
	finished    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	stageTime   *prometheus.HistogramVec
	jobTime     prometheus.Histogram
	pollTries   prometheus.Histogram
	inFlight    prometheus.Gauge
	queueLen    prometheus.Gauge
	queueBusy   prometheus.Gauge

	mu   sync.Mutex
	runs map[string]stageMark
}

type stageMark struct {
	state jobs.State
	since time.Time
	start time.Time
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_analyzer_submissions_total",
			Help: "Call submissions by outcome.",
		}, []string{"outcome"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_analyzer_jobs_finished_total",
			Help: "Finished call jobs by terminal state and reason.",
		}, []string{"state", "reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_analyzer_transitions_total",
			Help: "State transitions by target state.",
		}, []string{"state"}),
		stageTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "call_analyzer_stage_seconds",
			Help:    "Time spent in each processing state.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"state"}),
		jobTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "call_analyzer_job_seconds",
			Help:    "Wall time from pending to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		}),
		pollTries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "call_analyzer_poll_attempts",
			Help:    "CRM poll attempts used per finished job.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "call_analyzer_in_flight",
			Help: "Calls currently registered as in flight.",
		}),
		queueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "call_analyzer_queue_length",
			Help: "Jobs waiting in the work queue.",
		}),
		queueBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "call_analyzer_queue_busy_workers",
			Help: "Workers currently executing a job.",
		}),
		runs: make(map[string]stageMark),
	}
	reg.MustRegister(m.submitted, m.finished, m.transitions, m.stageTime, m.jobTime, m.pollTries, m.inFlight, m.queueLen, m.queueBusy)
	return m
}

// Submitted counts a submission outcome: accepted, duplicate, rejected.
func (m *Metrics) Submitted(outcome string) {
	m.submitted.WithLabelValues(outcome).Inc()
}

// Transition records stage timing for the run and terminal outcomes.
func (m *Metrics) Transition(t jobs.Transition) {
	m.transitions.WithLabelValues(string(t.To)).Inc()

	m.mu.Lock()
	prev, ok := m.runs[t.RunID]
	if t.To.Terminal() {
		delete(m.runs, t.RunID)
	} else {
		start := t.At
		if ok {
			start = prev.start
		}
		m.runs[t.RunID] = stageMark{state: t.To, since: t.At, start: start}
	}
	m.mu.Unlock()

	if ok {
		m.stageTime.WithLabelValues(string(prev.state)).Observe(t.At.Sub(prev.since).Seconds())
	}
	if t.To.Terminal() {
		m.finished.WithLabelValues(string(t.To), string(t.Reason)).Inc()
		if ok {
			m.jobTime.Observe(t.At.Sub(prev.start).Seconds())
		}
		if t.Attempts > 0 {
			m.pollTries.Observe(float64(t.Attempts))
		}
	}
}

// SetQueue records queue and registry gauges.
func (m *Metrics) SetQueue(length, busy, inFlight int) {
	m.queueLen.Set(float64(length))
	m.queueBusy.Set(float64(busy))
	m.inFlight.Set(float64(inFlight))
}
