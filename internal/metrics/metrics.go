package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished analysis runs by final state.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicecat_analysis_runs_total",
			Help: "Total number of analysis runs by final state",
		},
		[]string{"state"},
	)

	// StageDuration observes the duration of each pipeline stage in seconds.
	// Labels: stage (aggregate/clustering/gender/speaker_reconcile/gender_reconcile/voice_index)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicecat_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"stage", "status"},
	)

	// MergesTotal counts aggregations by outcome.
	// Labels: result (cache_hit/merged/upload_failed)
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicecat_merges_total",
			Help: "Total number of embedding aggregations by result",
		},
		[]string{"result"},
	)

	// CatalogueWritesTotal counts catalogue write operations.
	// Labels: op (insert_speaker/update_speaker/update_gender), status (success/error)
	CatalogueWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicecat_catalogue_writes_total",
			Help: "Total number of catalogue write operations",
		},
		[]string{"op", "status"},
	)

	// UtterancesUpdatedTotal counts utterance rows changed by reconciliation.
	UtterancesUpdatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicecat_utterances_updated_total",
			Help: "Total number of utterance rows updated",
		},
		[]string{"op"},
	)

	// HTTPRequestsTotal counts API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicecat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordRun records a finished run in its final state.
func RecordRun(state string) {
	RunsTotal.WithLabelValues(state).Inc()
}

// RecordStage observes the time elapsed since start for stage.
func RecordStage(stage string, start time.Time, err error) {
	StageDuration.WithLabelValues(stage, status(err)).Observe(time.Since(start).Seconds())
}

// RecordMerge records an aggregation result.
func RecordMerge(result string) {
	MergesTotal.WithLabelValues(result).Inc()
}

// RecordCatalogueWrite records a catalogue write and the rows it changed.
func RecordCatalogueWrite(op string, rows int64, err error) {
	CatalogueWritesTotal.WithLabelValues(op, status(err)).Inc()
	if err == nil && rows > 0 {
		UtterancesUpdatedTotal.WithLabelValues(op).Add(float64(rows))
	}
}

// RecordHTTPRequest records a served API request.
func RecordHTTPRequest(method, route string, code int) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
