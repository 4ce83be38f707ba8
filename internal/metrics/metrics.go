// Package metrics exposes the editor's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ruleMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bre_rule_mutations_total",
		Help: "Rule collection mutations by operation",
	}, []string{"op"})

	validationRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bre_validation_rejections_total",
		Help: "Edits refused by a threshold validation",
	})

	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bre_snapshots_total",
		Help: "Snapshot attempts by result (written, skipped, failed)",
	}, []string{"result"})

	storeWriteSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bre_store_write_seconds",
		Help:    "Duration of whole-file rule collection rewrites",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpImport = "import"

	SnapshotWritten = "written"
	SnapshotSkipped = "skipped"
	SnapshotFailed  = "failed"
)

func RuleMutation(op string) {
	ruleMutationsTotal.WithLabelValues(op).Inc()
}

func ValidationRejected() {
	validationRejectionsTotal.Inc()
}

func Snapshot(result string) {
	snapshotsTotal.WithLabelValues(result).Inc()
}

// StoreWriteTimer starts timing a collection rewrite; call ObserveDuration
// on the result when the write finishes.
func StoreWriteTimer() *prometheus.Timer {
	return prometheus.NewTimer(storeWriteSeconds)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
