package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Certificate ingest metrics (spec §4.1 add_batch)
	CertIngestBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parsec_cert_ingest_batch_duration_seconds",
			Help:    "Time taken to validate and apply a certificate batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	CertIngestRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parsec_cert_ingest_rejected_total",
			Help: "Total number of add_batch calls that failed on an invalid certificate; the topic label is always \"invalid\"",
		},
		[]string{"topic"},
	)

	// Manifest/block validator metrics (spec §4.2)
	ValidatorKeysBundleCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parsec_validator_keys_bundle_cache_total",
			Help: "Keys-bundle cache lookups by outcome (hit, miss, retry)",
		},
		[]string{"outcome"},
	)

	ValidatorManifestRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parsec_validator_manifest_rejected_total",
			Help: "Total number of manifests rejected by validate_manifest, by reason",
		},
		[]string{"reason"},
	)

	// Workspace-history cache metrics (spec §4.3)
	HistoryBlockCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parsec_history_block_cache_total",
			Help: "Block cache lookups by outcome (hit, miss)",
		},
		[]string{"outcome"},
	)

	HistoryResolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parsec_history_resolve_total",
			Help: "Manifest history resolve() calls by outcome (exists, not_found, cache_miss)",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(CertIngestBatchDuration)
	prometheus.MustRegister(CertIngestRejectedTotal)
	prometheus.MustRegister(ValidatorKeysBundleCacheTotal)
	prometheus.MustRegister(ValidatorManifestRejectedTotal)
	prometheus.MustRegister(HistoryBlockCacheTotal)
	prometheus.MustRegister(HistoryResolveTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
