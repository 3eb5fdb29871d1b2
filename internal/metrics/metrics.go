package metrics

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ArchivesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bird_survey",
		Name:      "archives_rejected_total",
		Help:      "Archives failing security validation.",
	})
	SuspiciousEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bird_survey",
		Name:      "suspicious_entries_total",
		Help:      "Archive entries with a suspicious compression ratio (observed, not rejected).",
	})
	ImagesExtracted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bird_survey",
		Name:      "images_extracted_total",
		Help:      "Images extracted from archives.",
	})
	EntriesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bird_survey",
		Name:      "entries_skipped_total",
		Help:      "Archive entries skipped as metadata or disallowed types.",
	})
	ImagesClassified = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bird_survey",
		Name:      "images_classified_total",
		Help:      "Images run through the counting model.",
	})
	ClassificationRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bird_survey",
		Name:      "classification_retries_total",
		Help:      "Retried counting-model invocations.",
	})
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bird_survey",
		Name:      "classification_cache_hits_total",
		Help:      "Counts served from the content-hash cache.",
	})
	BirdsDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bird_survey",
		Name:      "birds_detected_total",
		Help:      "Total birds reported across all images.",
	})
	FallbackRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bird_survey",
		Name:      "orchestrator_fallback_records_total",
		Help:      "Delayed-trigger and missing-notebook records written.",
	})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(
		ArchivesRejected, SuspiciousEntries, ImagesExtracted, EntriesSkipped,
		ImagesClassified, ClassificationRetries, CacheHits, BirdsDetected,
		FallbackRecords,
	)
}

// Serve starts a /metrics server on the given addr (e.g., ":9090"). Non-blocking when run in goroutine.
func Serve(addr string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, nil)
}

// AddrFromEnv returns listen address from METRICS_ADDR or default ":9090".
func AddrFromEnv() string {
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		return v
	}
	return ":9090"
}
