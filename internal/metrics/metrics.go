// Package metrics exposes prometheus collectors for cleaning jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dataset_cleaner"

// Removal reasons
const (
	ReasonDuplicate  = "duplicate"
	ReasonLowQuality = "low_quality"
)

// Metrics groups the collectors updated by the job runner
type Metrics struct {
	JobsSubmitted  prometheus.Counter
	JobsFinished   *prometheus.CounterVec
	JobsActive     prometheus.Gauge
	JobsQueued     prometheus.Gauge
	ImagesIngested prometheus.Counter
	ImagesRemoved  *prometheus.CounterVec
	ImagesRetained prometheus.Counter
	StageDuration  *prometheus.HistogramVec
	JobsSwept      prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Cleaning jobs accepted for processing.",
		}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Cleaning jobs that reached a terminal state.",
		}, []string{"status"}),
		JobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Cleaning jobs currently holding a worker slot.",
		}),
		JobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_queued",
			Help:      "Cleaning jobs waiting for a worker slot.",
		}),
		ImagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_ingested_total",
			Help:      "Valid images found during ingestion.",
		}),
		ImagesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_removed_total",
			Help:      "Images dropped by the pipeline, by reason.",
		}, []string{"reason"}),
		ImagesRetained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_retained_total",
			Help:      "Images written to result archives.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"stage"}),
		JobsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_swept_total",
			Help:      "Expired jobs removed by the retention sweeper.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.JobsSubmitted,
			m.JobsFinished,
			m.JobsActive,
			m.JobsQueued,
			m.ImagesIngested,
			m.ImagesRemoved,
			m.ImagesRetained,
			m.StageDuration,
			m.JobsSwept,
		)
	}
	return m
}

// ObserveStage records the duration of a stage that started at start
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
