package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/quantedge/decision-engine/internal/metrics"
)

func TestObserveRequestIncrementsCounterAndHistogram(t *testing.T) {
	reg := metrics.New()

	reg.ObserveRequest("HOLD", 10*time.Millisecond)
	reg.ObserveRequest("BUY", 20*time.Millisecond)

	if got := testutil.ToFloat64(reg.RequestsTotal.WithLabelValues("HOLD")); got != 1 {
		t.Errorf("HOLD counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.RequestsTotal.WithLabelValues("BUY")); got != 1 {
		t.Errorf("BUY counter = %v, want 1", got)
	}
}

func TestObserveActionRecordsHoldReasonOnlyForHold(t *testing.T) {
	reg := metrics.New()

	reg.ObserveAction("eurusd", "HOLD", "degraded")
	reg.ObserveAction("eurusd", "BUY", "")

	if got := testutil.ToFloat64(reg.HoldReasons.WithLabelValues("degraded")); got != 1 {
		t.Errorf("hold reason counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.ActionsTotal.WithLabelValues("BUY", "eurusd")); got != 1 {
		t.Errorf("BUY action counter = %v, want 1", got)
	}
}
