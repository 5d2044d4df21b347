package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every facevec collector. It is written to a textfile after a run
// so a node-exporter textfile collector can pick it up.
var Registry = prometheus.NewRegistry()

// Extraction Prometheus metrics.
var (
	ImagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "facevec",
			Name:      "images_total",
			Help:      "Images processed, by outcome (embedded or skip reason)",
		},
		[]string{"outcome"},
	)

	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "facevec",
			Name:      "inference_duration_seconds",
			Help:      "Model forward pass duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"stage"}, // "detect" / "embed"
	)

	LastRunEmbeddings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "facevec",
			Name:      "last_run_embeddings",
			Help:      "Number of embeddings serialized by the last run",
		},
	)

	LastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "facevec",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		},
	)
)

func init() {
	Registry.MustRegister(ImagesTotal, InferenceDuration, LastRunEmbeddings, LastRunTimestamp)
}

// ObserveInference records the time elapsed since start for a model stage.
func ObserveInference(stage string, start time.Time) {
	InferenceDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordRun sets the last-run gauges.
func RecordRun(embeddings int, finished time.Time) {
	LastRunEmbeddings.Set(float64(embeddings))
	LastRunTimestamp.Set(float64(finished.Unix()))
}

// WriteTextfile writes the registry in Prometheus text format to path.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
