package monitoring

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks resolved track requests by final outcome
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracksync_requests_total",
			Help: "Total number of resolved track requests",
		},
		[]string{"outcome"},
	)

	// FetchAttemptsTotal tracks individual fetcher invocations by outcome kind
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracksync_fetch_attempts_total",
			Help: "Total number of fetch attempts",
		},
		[]string{"outcome"},
	)

	// FetchAttemptDuration tracks fetcher wall time
	FetchAttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracksync_fetch_attempt_duration_seconds",
			Help:    "Fetch attempt duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
	)

	// TagWritesTotal tracks tag writes by container and status
	TagWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracksync_tag_writes_total",
			Help: "Total number of tag writes",
		},
		[]string{"container", "status"},
	)

	// ArtworkTotal tracks artwork pairing and embedding results
	ArtworkTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracksync_artwork_total",
			Help: "Total number of artwork operations",
		},
		[]string{"result"},
	)

	// BatchProgress tracks the processed fraction of the running batch
	BatchProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracksync_batch_progress_ratio",
			Help: "Fraction of requests processed in the current batch",
		},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracksync_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordRequest records the final outcome of a track request
func RecordRequest(outcome string) {
	RequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordFetchAttempt records one fetcher invocation
func RecordFetchAttempt(outcome string, duration time.Duration) {
	FetchAttemptsTotal.WithLabelValues(outcome).Inc()
	FetchAttemptDuration.Observe(duration.Seconds())
}

// RecordTagWrite records a tag write for a container
func RecordTagWrite(container string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	TagWritesTotal.WithLabelValues(container, status).Inc()
}

// RecordArtwork records an artwork result such as "paired", "embedded" or "unmatched"
func RecordArtwork(result string) {
	ArtworkTotal.WithLabelValues(result).Inc()
}

// UpdateBatchProgress updates the progress gauge
func UpdateBatchProgress(processed, total int) {
	if total <= 0 {
		BatchProgress.Set(0)
		return
	}
	BatchProgress.Set(float64(processed) / float64(total))
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// FlushTextfile writes the default registry to path in the text exposition
// format, for pickup by a node exporter textfile collector. An empty path is a no-op.
func FlushTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
