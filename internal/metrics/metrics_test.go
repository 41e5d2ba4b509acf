package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecomputeTriggersCounter(t *testing.T) {
	before := testutil.ToFloat64(RecomputeTriggers.WithLabelValues("coalesced"))
	RecomputeTriggers.WithLabelValues("coalesced").Inc()
	after := testutil.ToFloat64(RecomputeTriggers.WithLabelValues("coalesced"))
	if after-before != 1 {
		t.Fatalf("expected counter to advance by 1, got %v -> %v", before, after)
	}
}

func TestObserveSearch(t *testing.T) {
	ObserveSearch(time.Now().Add(-time.Millisecond), nil)
	ObserveSearch(time.Now(), errors.New("boom"))
	if got := testutil.CollectAndCount(SearchDuration); got < 2 {
		t.Fatalf("expected ok and error series, got %d", got)
	}
}

func TestResult(t *testing.T) {
	if Result(nil) != "ok" || Result(errors.New("x")) != "error" {
		t.Fatalf("unexpected result labels")
	}
}
