package lock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// Prometheus Metrics for the Lock Client
// ============================================================================

// Label constants for metrics.
const (
	LabelLevel   = "level"
	LabelOutcome = "outcome"
	LabelState   = "state"
)

// Outcome constants for lock acquisitions.
const (
	OutcomeLocal       = "local"
	OutcomeRemote      = "remote"
	OutcomeTimeout     = "timeout"
	OutcomeRefused     = "refused"
	OutcomeInterrupted = "interrupted"
	OutcomeAborted     = "aborted"
)

// Outcome constants for recalls.
const (
	RecallCommitted = "committed"
	RecallDeferred  = "deferred"
	RecallLeased    = "leased"
	RecallReflushed = "reflushed"
)

// Metrics provides Prometheus metrics for the lock client.
//
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	acquireTotal *prometheus.CounterVec
	releaseTotal *prometheus.CounterVec
	recallTotal  *prometheus.CounterVec
	staleTotal   *prometheus.CounterVec

	gcCollected prometheus.Counter

	coordinators  prometheus.Gauge
	greedyLocks   prometheus.Gauge
	managerState  *prometheus.GaugeVec
	blockedGauge  prometheus.Gauge
	waitingGauge  prometheus.Gauge
	blockDuration *prometheus.HistogramVec
	recallBatch   prometheus.Histogram
}

// NewMetrics creates and registers lock metrics.
// If registry is nil, metrics will be created but not registered (useful for testing).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "acquire_total",
				Help:      "Total number of lock acquisitions by level and outcome",
			},
			[]string{LabelLevel, LabelOutcome},
		),

		releaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "release_total",
				Help:      "Total number of lock releases",
			},
			[]string{LabelLevel},
		),

		recallTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "recall_total",
				Help:      "Total number of greedy recalls by outcome",
			},
			[]string{LabelOutcome},
		),

		staleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "stale_messages_total",
				Help:      "Server messages dropped as stale",
			},
			[]string{LabelState},
		),

		gcCollected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "gc_collected_total",
				Help:      "Total number of idle locks garbage collected",
			},
		),

		coordinators: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "tracked",
				Help:      "Number of locks with local state",
			},
		),

		greedyLocks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "greedy",
				Help:      "Number of locks granted greedily to this client at the last sweep",
			},
		),

		managerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dittolock",
				Subsystem: "manager",
				Name:      "state",
				Help:      "Current lifecycle state of the lock manager (1 = active)",
			},
			[]string{LabelState},
		),

		blockedGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "blocked",
				Help:      "Number of threads blocked acquiring a lock",
			},
		),

		waitingGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "waiting",
				Help:      "Number of threads blocked in wait()",
			},
		),

		blockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "blocking_duration_seconds",
				Help:      "Time spent blocked waiting for a lock",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{LabelLevel},
		),

		recallBatch: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dittolock",
				Subsystem: "locks",
				Name:      "recall_batch_size",
				Help:      "Number of recall commits sent in one batch",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.acquireTotal,
			m.releaseTotal,
			m.recallTotal,
			m.staleTotal,
			m.gcCollected,
			m.coordinators,
			m.greedyLocks,
			m.managerState,
			m.blockedGauge,
			m.waitingGauge,
			m.blockDuration,
			m.recallBatch,
		)
	}

	return m
}

// ObserveAcquire records a completed acquisition attempt.
func (m *Metrics) ObserveAcquire(level LockLevel, outcome string) {
	if m == nil {
		return
	}
	m.acquireTotal.WithLabelValues(level.String(), outcome).Inc()
}

// ObserveBlocked records the time a thread spent parked for a lock.
func (m *Metrics) ObserveBlocked(level LockLevel, d time.Duration) {
	if m == nil {
		return
	}
	m.blockDuration.WithLabelValues(level.String()).Observe(d.Seconds())
}

// ObserveRelease records a lock release.
func (m *Metrics) ObserveRelease(level LockLevel) {
	if m == nil {
		return
	}
	m.releaseTotal.WithLabelValues(level.String()).Inc()
}

// ObserveRecall records a recall outcome.
func (m *Metrics) ObserveRecall(outcome string) {
	if m == nil {
		return
	}
	m.recallTotal.WithLabelValues(outcome).Inc()
}

// ObserveStale records a dropped server message.
func (m *Metrics) ObserveStale(kind string) {
	if m == nil {
		return
	}
	m.staleTotal.WithLabelValues(kind).Inc()
}

// ObserveCollected records garbage collected locks.
func (m *Metrics) ObserveCollected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.gcCollected.Add(float64(n))
}

// SetTracked sets the number of locks with local state.
func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.coordinators.Set(float64(n))
}

// SetGreedy sets the number of greedily granted locks.
func (m *Metrics) SetGreedy(n int) {
	if m == nil {
		return
	}
	m.greedyLocks.Set(float64(n))
}

// IncBlocked increments the blocked threads gauge.
func (m *Metrics) IncBlocked() {
	if m == nil {
		return
	}
	m.blockedGauge.Inc()
}

// DecBlocked decrements the blocked threads gauge.
func (m *Metrics) DecBlocked() {
	if m == nil {
		return
	}
	m.blockedGauge.Dec()
}

// IncWaiting increments the waiting threads gauge.
func (m *Metrics) IncWaiting() {
	if m == nil {
		return
	}
	m.waitingGauge.Inc()
}

// DecWaiting decrements the waiting threads gauge.
func (m *Metrics) DecWaiting() {
	if m == nil {
		return
	}
	m.waitingGauge.Dec()
}

// SetManagerState marks state as the active lifecycle state.
func (m *Metrics) SetManagerState(state ManagerState) {
	if m == nil {
		return
	}
	for _, s := range allManagerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.managerState.WithLabelValues(s.String()).Set(v)
	}
}

// ObserveRecallBatch records the size of a recall commit batch.
func (m *Metrics) ObserveRecallBatch(n int) {
	if m == nil {
		return
	}
	m.recallBatch.Observe(float64(n))
}
