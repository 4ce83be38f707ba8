package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(ruleMutationsTotal.WithLabelValues(OpUpdate))
	RuleMutation(OpUpdate)
	if got := testutil.ToFloat64(ruleMutationsTotal.WithLabelValues(OpUpdate)); got != before+1 {
		t.Fatalf("expected update counter %v, got %v", before+1, got)
	}

	rejected := testutil.ToFloat64(validationRejectionsTotal)
	ValidationRejected()
	if got := testutil.ToFloat64(validationRejectionsTotal); got != rejected+1 {
		t.Fatalf("expected rejection counter %v, got %v", rejected+1, got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	Snapshot(SnapshotSkipped)
	StoreWriteTimer().ObserveDuration()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, name := range []string{"bre_snapshots_total", "bre_store_write_seconds"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}
