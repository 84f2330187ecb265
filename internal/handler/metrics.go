package handler

import (
	"fmt"
	"net/http"

	"github.com/credvault/credvault/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler. A nil snapshotter means
// metrics are disabled.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeOutcomes(w, "credvault_signups_total", snap.Signups)
	writeOutcomes(w, "credvault_logins_total", snap.Logins)
	writeOutcomes(w, "credvault_password_resets_total", snap.PasswordResets)
	writeOutcomes(w, "credvault_email_checks_total", snap.EmailChecks)

	writeMetric(w, "credvault_email_cache_hits_total %d\n", snap.EmailCacheHits)
	writeMetric(w, "credvault_email_cache_misses_total %d\n", snap.EmailCacheMisses)
	writeMetric(w, "credvault_email_cache_errors_total %d\n", snap.EmailCacheErrors)

	writeMetric(w, "credvault_password_hash_duration_seconds_count %d\n", snap.HashDurationCount)
	writeMetric(w, "credvault_password_hash_duration_seconds_sum %.6f\n", float64(snap.HashDurationTotalNs)/1e9)
}

func writeOutcomes(w http.ResponseWriter, name string, counts map[string]uint64) {
	for _, outcome := range metrics.Labels(counts) {
		writeMetric(w, "%s{outcome=%q} %d\n", name, outcome, counts[outcome])
	}
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
