// Package metrics declares the Prometheus instruments exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job metrics
var (
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_jobs_active",
			Help: "Number of transcoding jobs not yet in a terminal state",
		},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hls_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"status"},
	)

	TranscodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hls_transcode_duration_seconds",
			Help:    "Wall time from job creation to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	OutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hls_output_bytes",
			Help:    "Size of completed HLS packages in bytes",
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 8),
		},
	)
)

// Persistence and fan-out metrics
var (
	CatalogWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_catalog_write_errors_total",
			Help: "Total number of failed catalog document writes",
		},
	)

	ObserversConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_observers_connected",
			Help: "Number of push channel subscribers",
		},
	)

	ObserversDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_observers_dropped_total",
			Help: "Subscribers disconnected because their buffer was full",
		},
	)

	MirrorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_mirror_errors_total",
			Help: "Job messages that could not be mirrored to Redis",
		},
	)
)
