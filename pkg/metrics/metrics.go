// Package metrics exposes Prometheus collectors for annotation jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_jobs_total",
		Help: "Total number of annotation jobs finished, by status",
	}, []string{"status"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "firewatch_job_duration_seconds",
		Help:    "Wall time of annotation runs",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_frames_total",
		Help: "Frames written to output videos, by kind (sampled, passthrough)",
	}, []string{"kind"})

	DetectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firewatch_detections_total",
		Help: "Detections drawn onto output frames",
	})

	DetectorErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firewatch_detector_errors_total",
		Help: "Detector failures that were passed through",
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firewatch_active_jobs",
		Help: "Number of annotation runs in progress",
	})

	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_exports_total",
		Help: "Result uploads to external storage, by outcome",
	}, []string{"outcome"})
)
