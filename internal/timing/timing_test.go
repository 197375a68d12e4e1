package timing

import (
	"testing"
	"time"
)

func TestHMS(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{90 * time.Second, "00:01:30"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "26:03:04"},
	}
	for _, tt := range tests {
		if got := HMS(tt.in); got != tt.want {
			t.Fatalf("HMS(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEstimateRemaining(t *testing.T) {
	if _, ok := EstimateRemaining(time.Minute, 0, 3); ok {
		t.Fatalf("expected no estimate before anything finished")
	}
	got, ok := EstimateRemaining(4*time.Minute, 2, 3)
	if !ok || got != 6*time.Minute {
		t.Fatalf("EstimateRemaining = %v, %v; want 6m, true", got, ok)
	}
}
