package tof

import (
	"errors"
	"math/bits"
	"testing"

	"github.com/relabs-tech/tofcal/internal/calstatus"
	"github.com/relabs-tech/tofcal/internal/regmap"
	"github.com/relabs-tech/tofcal/internal/simulator"
)

func refOnly(f func(location byte, spad int) float64) simulator.RateFunc {
	return func(array, location byte, spad int, on bool) float64 {
		if array != 1 || !on {
			return 0
		}
		return f(location, spad)
	}
}

func popcount(b [regmap.SPADEnablesRefLength]byte) int {
	n := 0
	for _, v := range b {
		n += bits.OnesCount8(v)
	}
	return n
}

func TestRefSPADCharPass(t *testing.T) {
	// 10 usable non-apertured SPADs at 2.5 Mcps each: 25 Mcps in band.
	d, sim := newSimDev(t, simulator.Config{Rate: refOnly(func(loc byte, spad int) float64 {
		if loc == 0 && spad < 10 {
			return 2.5
		}
		return 0
	})})

	status, err := d.RunRefSPADChar()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != calstatus.Pass {
		t.Fatalf("status %s, want pass", status)
	}

	got, ok := d.RefSPADData()
	if !ok {
		t.Fatalf("no ref spad data after pass")
	}
	want := RefSPADData{
		NumRefSPADs: 10,
		Location:    NonApertured,
		Enables:     [6]byte{0xFF, 0x03},
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	if regs := sim.Peek(regmap.SPADEnablesRef0, 6); regs[0] != 0xFF || regs[1] != 0x03 {
		t.Fatalf("enable registers % X", regs)
	}
	if n := sim.Peek(regmap.RefSPADNumRequested, 1)[0]; n != 10 {
		t.Fatalf("requested count %d", n)
	}
	if sim.PowerForced() {
		t.Fatalf("power force left on")
	}
}

func TestRefSPADCharStopsAtBand(t *testing.T) {
	// Default part: 6 Mcps per non-apertured SPAD, a 7th would pass 40 Mcps.
	d, _ := newSimDev(t, simulator.Config{})

	status, err := d.RunRefSPADChar()
	if err != nil || status != calstatus.Pass {
		t.Fatalf("got %s, %v", status, err)
	}
	got, _ := d.RefSPADData()
	if got.NumRefSPADs != 6 || got.Location != NonApertured {
		t.Fatalf("got %+v", got)
	}
	if spads := got.Enabled(); len(spads) != 6 || spads[5] != 5 {
		t.Fatalf("enabled %v", spads)
	}
}

func TestRefSPADCharNearZeroRate(t *testing.T) {
	d, _ := newSimDev(t, simulator.Config{Rate: refOnly(func(byte, int) float64 { return 0.01 })})

	status, err := d.RunRefSPADChar()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != calstatus.RateTooLow {
		t.Fatalf("status %s, want rate-too-low", status)
	}
	got, _ := d.RefSPADData()
	if got.Location != Apertured10x {
		t.Fatalf("location %s, want apertured-10x", got.Location)
	}
	if got.NumRefSPADs != 48 || popcount(got.Enables) != 48 {
		t.Fatalf("got %+v", got)
	}
}

func TestRefSPADCharRateTooHigh(t *testing.T) {
	d, _ := newSimDev(t, simulator.Config{Rate: refOnly(func(byte, int) float64 { return 30 })})

	status, err := d.RunRefSPADChar()
	if err != nil || status != calstatus.RateTooHigh {
		t.Fatalf("got %s, %v", status, err)
	}
	got, _ := d.RefSPADData()
	if got.Location != Apertured10x || got.NumRefSPADs != 5 {
		t.Fatalf("got %+v", got)
	}
}

func TestRefSPADCharEscalatesToPassingRegion(t *testing.T) {
	d, _ := newSimDev(t, simulator.Config{Rate: refOnly(func(loc byte, spad int) float64 {
		switch loc {
		case 0:
			return 20 // 5 forced SPADs give 100 Mcps
		case 1:
			return 3
		default:
			return 1
		}
	})})

	status, err := d.RunRefSPADChar()
	if err != nil || status != calstatus.Pass {
		t.Fatalf("got %s, %v", status, err)
	}
	got, _ := d.RefSPADData()
	if got.Location != Apertured5x || got.NumRefSPADs != 13 {
		t.Fatalf("got %+v", got)
	}
}

func TestRefSPADCharInsufficient(t *testing.T) {
	t.Run("best region kept", func(t *testing.T) {
		usable := map[byte]int{0: 3, 1: 2, 2: 0}
		d, _ := newSimDev(t, simulator.Config{Rate: refOnly(func(loc byte, spad int) float64 {
			if spad < usable[loc] {
				return 5
			}
			return 0
		})})

		status, err := d.RunRefSPADChar()
		if err != nil || status != calstatus.InsufficientElements {
			t.Fatalf("got %s, %v", status, err)
		}
		got, _ := d.RefSPADData()
		if got.Location != NonApertured || got.NumRefSPADs != 3 || got.Enables[0] != 0x07 {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("dead array", func(t *testing.T) {
		d, _ := newSimDev(t, simulator.Config{Rate: refOnly(func(byte, int) float64 { return 0 })})

		status, err := d.RunRefSPADChar()
		if err != nil || status != calstatus.InsufficientElements {
			t.Fatalf("got %s, %v", status, err)
		}
		got, ok := d.RefSPADData()
		if !ok || got.NumRefSPADs < 1 || int(got.NumRefSPADs) != popcount(got.Enables) {
			t.Fatalf("got %+v", got)
		}
	})
}

func TestRefSPADCharErrorKeepsPreviousData(t *testing.T) {
	d, sim := newSimDev(t, simulator.Config{})
	if _, err := d.RunRefSPADChar(); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, _ := d.RefSPADData()

	sim.FailTrigger(sim.Triggers() + 1)
	if _, err := d.RunRefSPADChar(); !errors.Is(err, simulator.ErrInjected) {
		t.Fatalf("got %v, want injected fault", err)
	}
	after, ok := d.RefSPADData()
	if !ok || after != before {
		t.Fatalf("data changed by failed run: %+v -> %+v", before, after)
	}
	if sim.PowerForced() {
		t.Fatalf("power force left on")
	}
}

func TestRefRegionGrow(t *testing.T) {
	th := calstatus.DefaultThresholds()
	r := &refRegion{spads: []int{0, 1, 2}}
	for range r.spads {
		r.rates = append(r.rates, th.MinRate)
	}
	r.grow(th)
	if r.phase != phaseExhausted || r.enabled != 3 || r.status != calstatus.InsufficientElements {
		t.Fatalf("got phase=%s enabled=%d status=%s", r.phase, r.enabled, r.status)
	}
}
