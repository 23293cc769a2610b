package notify

import (
	"errors"
	"testing"

	"github.com/Nbruchi/amazon-server/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBestEffortSwallowsErrors(t *testing.T) {
	before := testutil.ToFloat64(metrics.NotificationFailures.WithLabelValues(EventOrderConfirmation))

	// Must not panic or propagate; the failure only shows up in metrics.
	BestEffort(EventOrderConfirmation, func() error {
		return errors.New("broker unreachable")
	})

	after := testutil.ToFloat64(metrics.NotificationFailures.WithLabelValues(EventOrderConfirmation))
	if after != before+1 {
		t.Errorf("Expected failure counter to increment, got %v -> %v", before, after)
	}
}

func TestBestEffortSuccessCountsNothing(t *testing.T) {
	before := testutil.ToFloat64(metrics.NotificationFailures.WithLabelValues(EventWelcome))

	called := false
	BestEffort(EventWelcome, func() error {
		called = true
		return nil
	})

	if !called {
		t.Error("Dispatch function should run")
	}
	after := testutil.ToFloat64(metrics.NotificationFailures.WithLabelValues(EventWelcome))
	if after != before {
		t.Errorf("Expected failure counter unchanged, got %v -> %v", before, after)
	}
}
