package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{50 * time.Millisecond, 10 * time.Millisecond, 40 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	if tracker.Count() != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), tracker.Count())
	}
	if p50 := tracker.Percentile(50); p50 != 30*time.Millisecond {
		t.Fatalf("expected p50 30ms, got %v", p50)
	}
	if p95 := tracker.Percentile(95); p95 != 50*time.Millisecond {
		t.Fatalf("expected p95 50ms, got %v", p95)
	}
	if p0 := tracker.Percentile(0); p0 != 10*time.Millisecond {
		t.Fatalf("expected min 10ms, got %v", p0)
	}
}

func TestLatencyTrackerBoundedSize(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
	summary := tracker.Summary()
	if summary.P50 != 8*time.Millisecond || summary.Max != 9*time.Millisecond {
		t.Fatalf("expected only the newest samples, got %+v", summary)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(0)
	if tracker.Percentile(95) != 0 || tracker.Summary().Count != 0 {
		t.Fatalf("expected zero values without samples")
	}
}
