// Package metrics exposes Prometheus collectors for scans and file reads.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scanCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionvault_scan_cycles_total",
		Help: "Sync cycles by outcome",
	}, []string{"status"})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sessionvault_scan_duration_seconds",
		Help:    "Sync cycle duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionvault_extractions_total",
		Help: "Extractor invocations by source and result",
	}, []string{"source", "result"})

	files = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionvault_scan_files_total",
		Help: "Candidate files seen by sync cycles, by classification",
	}, []string{"class"})

	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionvault_gate_decisions_total",
		Help: "File read authorization decisions by result",
	}, []string{"result"})

	sessionsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessionvault_sessions",
		Help: "Sessions present after the last sync cycle",
	})
)

// ObserveScan records one finished cycle. status is "ok", "error" or "canceled".
func ObserveScan(status string, d time.Duration) {
	scanCycles.WithLabelValues(status).Inc()
	scanDuration.Observe(d.Seconds())
}

// ObserveExtraction records one extractor invocation.
func ObserveExtraction(source string, ok bool) {
	result := "ok"
	if !ok {
		result = "skipped"
	}
	extractions.WithLabelValues(source, result).Inc()
}

// ObserveFiles records how a cycle classified its candidate files.
func ObserveFiles(newFiles, changed, unchanged int) {
	files.WithLabelValues("new").Add(float64(newFiles))
	files.WithLabelValues("changed").Add(float64(changed))
	files.WithLabelValues("unchanged").Add(float64(unchanged))
}

// ObserveGate records a gate decision. It matches the gate's observer signature.
func ObserveGate(result string) {
	gateDecisions.WithLabelValues(result).Inc()
}

// SetSessions records the session count after a cycle.
func SetSessions(n int) {
	sessionsStored.Set(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
