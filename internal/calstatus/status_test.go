package calstatus

import (
	"testing"

	"github.com/relabs-tech/tofcal/internal/fixpoint"
)

func TestEvaluateRefRate(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		name  string
		rate  float64
		count int
		want  Status
	}{
		{"in band", 25.0, 10, Pass},
		{"lower edge", 10.0, 5, Pass},
		{"upper edge", 40.0, 5, Pass},
		{"too high", 40.1, 5, RateTooHigh},
		{"too low", 9.9, 48, RateTooLow},
		{"too few wins over rate", 25.0, 4, InsufficientElements},
		{"zero count", 0, 0, InsufficientElements},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := EvaluateRefRate(fixpoint.Mcps(c.rate), c.count, th); got != c.want {
				t.Fatalf("EvaluateRefRate(%v, %d) = %s, want %s", c.rate, c.count, got, c.want)
			}
		})
	}
}

func TestEvaluateOffset(t *testing.T) {
	th := DefaultThresholds()
	if got := EvaluateOffset(fixpoint.New88(12), fixpoint.Mcps(30), th); got != Pass {
		t.Fatalf("nominal offset = %s", got)
	}
	if got := EvaluateOffset(fixpoint.New88(4.5), fixpoint.Mcps(30), th); got != InsufficientMM1Elements {
		t.Fatalf("low spads = %s", got)
	}
	if got := EvaluateOffset(fixpoint.New88(12), fixpoint.Mcps(45), th); got != RateTooHigh {
		t.Fatalf("pileup = %s", got)
	}
	// Both conditions: SPAD check reported.
	if got := EvaluateOffset(fixpoint.New88(1), fixpoint.Mcps(45), th); got != InsufficientMM1Elements {
		t.Fatalf("both = %s", got)
	}
}

func TestCustomThresholds(t *testing.T) {
	th := DefaultThresholds()
	th.MinSPADs = 3
	th.MaxRate = fixpoint.Mcps(30)
	if got := EvaluateRefRate(fixpoint.Mcps(35), 3, th); got != RateTooHigh {
		t.Fatalf("got %s", got)
	}
}

func TestStatusText(t *testing.T) {
	b, err := RateTooLow.MarshalText()
	if err != nil || string(b) != "rate-too-low" {
		t.Fatalf("MarshalText = %q, %v", b, err)
	}
	if Pass.IsWarning() || !InsufficientElements.IsWarning() {
		t.Fatalf("IsWarning mismatch")
	}
}

func TestStatusTextRoundTrip(t *testing.T) {
	for s := Pass; s <= InsufficientMM1Elements; s++ {
		b, _ := s.MarshalText()
		var got Status
		if err := got.UnmarshalText(b); err != nil || got != s {
			t.Fatalf("%s: got %s, %v", s, got, err)
		}
	}
	var s Status
	if err := s.UnmarshalText([]byte("great")); err == nil {
		t.Fatalf("expected error for unknown name")
	}
}
