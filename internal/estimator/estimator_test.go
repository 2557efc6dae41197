package estimator

import (
	"math"
	"testing"
)

func TestDistance_ZeroRSSIIsUnknown(t *testing.T) {
	if got := Distance(0); got != Unknown {
		t.Fatalf("Distance(0) = %v, want %v", got, Unknown)
	}
}

func TestDistance_ReferencePowerIsOneMeter(t *testing.T) {
	got := Distance(-59)
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("Distance(-59) = %v, want 1.0", got)
	}
}

func TestDistance_KnownValues(t *testing.T) {
	tests := []struct {
		rssi int
		want float64
	}{
		{rssi: -39, want: 0.1},
		{rssi: -49, want: math.Pow(10, -0.5)},
		{rssi: -69, want: math.Pow(10, 0.5)},
		{rssi: -79, want: 10.0},
		{rssi: -99, want: 100.0},
	}
	for _, tt := range tests {
		got := Distance(tt.rssi)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Distance(%d) = %v, want %v", tt.rssi, got, tt.want)
		}
	}
}

func TestDistance_MonotonicInRSSI(t *testing.T) {
	// Stronger signal must never estimate farther away. RSSI 0 is the
	// "no reading" sentinel and is excluded from the sweep.
	prev := math.Inf(1)
	for rssi := -100; rssi <= 20; rssi++ {
		if rssi == 0 {
			continue
		}
		d := Distance(rssi)
		if d < 0 {
			t.Fatalf("Distance(%d) = %v, want non-negative", rssi, d)
		}
		if d > prev {
			t.Fatalf("Distance(%d) = %v exceeds Distance(%d) = %v", rssi, d, rssi-1, prev)
		}
		prev = d
	}
}
