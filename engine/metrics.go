package engine

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects shard processing metrics.
//
// Metrics exposed (all namespaced with "shardflow_"):
//
//  1. events_handled_total (counter): events applied by a handler inside a batch.
//     Labels: type.
//  2. batch_latency_ms (histogram): duration of one transactional pass.
//     Labels: status (committed, failed).
//  3. external_queue_depth (gauge): events waiting in a shard's external queue.
//     Labels: shard.
//  4. transaction_failures_total (counter): aborted batches.
//     Labels: type (triggering event type).
//  5. callback_failures_total (counter): failed ready-jobs notifications.
//  6. ready_jobs_total (counter): jobs reported ready to the status callback.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := engine.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	eventsHandled       *prometheus.CounterVec
	batchLatency        *prometheus.HistogramVec
	externalQueueDepth  *prometheus.GaugeVec
	transactionFailures *prometheus.CounterVec
	callbackFailures    prometheus.Counter
	readyJobs           prometheus.Counter

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers the metrics with registry.
// A nil registry selects prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.eventsHandled = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shardflow",
		Name:      "events_handled_total",
		Help:      "Events applied by a handler inside a transactional batch",
	}, []string{"type"})

	pm.batchLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shardflow",
		Name:      "batch_latency_ms",
		Help:      "Duration of one transactional pass over an event group in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}, // 1ms to 10s
	}, []string{"status"}) // status: committed, failed

	pm.externalQueueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shardflow",
		Name:      "external_queue_depth",
		Help:      "Events waiting in a shard's external queue",
	}, []string{"shard"})

	pm.transactionFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shardflow",
		Name:      "transaction_failures_total",
		Help:      "Batches aborted by a handler or store failure",
	}, []string{"type"})

	pm.callbackFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "shardflow",
		Name:      "callback_failures_total",
		Help:      "Ready-jobs notifications that returned an error",
	})

	pm.readyJobs = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "shardflow",
		Name:      "ready_jobs_total",
		Help:      "Jobs reported ready to the status callback",
	})

	return pm
}

func (pm *PrometheusMetrics) active() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordEventHandled counts one handled event of type t.
func (pm *PrometheusMetrics) RecordEventHandled(t string) {
	if !pm.active() {
		return
	}
	pm.eventsHandled.WithLabelValues(t).Inc()
}

// RecordBatchLatency observes the duration of a batch with status
// "committed" or "failed".
func (pm *PrometheusMetrics) RecordBatchLatency(latency time.Duration, status string) {
	if !pm.active() {
		return
	}
	pm.batchLatency.WithLabelValues(status).Observe(float64(latency.Milliseconds()))
}

// UpdateExternalQueueDepth sets the external queue depth of a shard.
func (pm *PrometheusMetrics) UpdateExternalQueueDepth(shard, depth int) {
	if !pm.active() {
		return
	}
	pm.externalQueueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(depth))
}

// IncrementTransactionFailures counts an aborted batch triggered by type t.
func (pm *PrometheusMetrics) IncrementTransactionFailures(t string) {
	if !pm.active() {
		return
	}
	pm.transactionFailures.WithLabelValues(t).Inc()
}

// IncrementCallbackFailures counts a failed ready-jobs notification.
func (pm *PrometheusMetrics) IncrementCallbackFailures() {
	if !pm.active() {
		return
	}
	pm.callbackFailures.Inc()
}

// AddReadyJobs counts n jobs reported ready.
func (pm *PrometheusMetrics) AddReadyJobs(n int) {
	if !pm.active() {
		return
	}
	pm.readyJobs.Add(float64(n))
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset clears the queue depth gauges. Counters and histograms are cumulative
// and keep their values.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.externalQueueDepth.Reset()
}
