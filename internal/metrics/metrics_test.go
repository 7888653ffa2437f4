package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should be tolerated: %v", err)
	}
}

func TestObserveInvestigationNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(investigationsTotal.WithLabelValues(OutcomeFailed))
	ObserveInvestigation(time.Second, "something-else")
	after := testutil.ToFloat64(investigationsTotal.WithLabelValues(OutcomeFailed))
	if after != before+1 {
		t.Fatalf("expected failed counter to increase, before=%v after=%v", before, after)
	}
}
