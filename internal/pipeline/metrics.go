package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the learning pipeline.
type Metrics struct {
	// Passes
	PassesTotal  prometheus.Counter
	PassDuration prometheus.Histogram

	// Items
	ItemsTotal     *prometheus.CounterVec
	AttemptsTotal  *prometheus.CounterVec
	AdditionsTotal *prometheus.CounterVec
	RollbacksTotal prometheus.Counter

	// Training
	TrainingRunsTotal *prometheus.CounterVec
	TrainingDuration  prometheus.Histogram
	ReloadFailures    prometheus.Counter
	ArchivedTotal     prometheus.Counter

	// State
	Threshold     prometheus.Gauge
	QueueDepth    prometheus.Gauge
	ExternalEdits prometheus.Counter
}

// NewMetrics creates and registers Prometheus metrics for the pipeline.
//
// Registration happens once per process; later calls return the same set.
//
// Metrics:
//   - learning_passes_total - Count of completed passes
//   - learning_pass_duration_seconds - Histogram of pass durations
//   - learning_items_total{outcome} - processed, duplicate, failed, rejected
//   - learning_attempts_total{result} - ok or the failure kind
//   - learning_additions_total{collection} - entries added to the knowledge base
//   - learning_rollbacks_total - Count of restored backups
//   - learning_training_runs_total{trigger,result}
//   - learning_training_duration_seconds
//   - learning_reload_failures_total
//   - learning_archived_total - Processed items moved to Removable
//   - learning_threshold - Threshold seen by the last cycle
//   - learning_queue_depth - Jobs running or pending in the worker queue
//   - learning_external_edits_total - Knowledge-base changes made outside the pipeline
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			PassesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "learning_passes_total",
					Help: "Total number of learning passes run",
				},
			),

			PassDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "learning_pass_duration_seconds",
					Help:    "Duration of learning passes in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
				},
			),

			ItemsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learning_items_total",
					Help: "Total number of feedback items handled, by outcome",
				},
				[]string{"outcome"}, // "processed", "duplicate", "failed", "rejected"
			),

			AttemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learning_attempts_total",
					Help: "Total number of regeneration attempts, by result",
				},
				[]string{"result"},
			),

			AdditionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learning_additions_total",
					Help: "Total number of knowledge-base entries added, by collection",
				},
				[]string{"collection"},
			),

			RollbacksTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "learning_rollbacks_total",
					Help: "Total number of knowledge-base rollbacks",
				},
			),

			TrainingRunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learning_training_runs_total",
					Help: "Total number of training runs, by trigger and result",
				},
				[]string{"trigger", "result"},
			),

			TrainingDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "learning_training_duration_seconds",
					Help:    "Duration of training runs in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5m
				},
			),

			ReloadFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "learning_reload_failures_total",
					Help: "Total number of failed model server reloads",
				},
			),

			ArchivedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "learning_archived_total",
					Help: "Total number of processed items archived after training",
				},
			),

			Threshold: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "learning_threshold",
					Help: "Training threshold observed by the last cycle",
				},
			),

			QueueDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "learning_queue_depth",
					Help: "Number of learning jobs running or pending",
				},
			),

			ExternalEdits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "learning_external_edits_total",
					Help: "Total number of knowledge-base file changes not made by the pipeline",
				},
			),
		}
	})

	return globalMetrics
}

// RecordAttempt records one regeneration attempt; err is nil on success.
func (m *Metrics) RecordAttempt(err error) {
	if err == nil {
		m.AttemptsTotal.WithLabelValues("ok").Inc()
		return
	}
	m.AttemptsTotal.WithLabelValues(kindLabel(err)).Inc()
}

// RecordItem records the final outcome of one item in a pass.
func (m *Metrics) RecordItem(outcome string) {
	m.ItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordAdditions records the entries a merge added.
func (m *Metrics) RecordAdditions(intents, responses, flows, rules int) {
	m.AdditionsTotal.WithLabelValues("intents").Add(float64(intents))
	m.AdditionsTotal.WithLabelValues("responses").Add(float64(responses))
	m.AdditionsTotal.WithLabelValues("flows").Add(float64(flows))
	m.AdditionsTotal.WithLabelValues("rules").Add(float64(rules))
}

// RecordTraining records one training run.
func (m *Metrics) RecordTraining(trigger string, success bool, durationSeconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.TrainingRunsTotal.WithLabelValues(trigger, result).Inc()
	m.TrainingDuration.Observe(durationSeconds)
}
