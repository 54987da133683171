package tof

import (
	"errors"
	"math"
	"testing"

	"github.com/relabs-tech/tofcal/internal/regmap"
	"github.com/relabs-tech/tofcal/internal/simulator"
)

func TestDecodeRateMapFormats(t *testing.T) {
	patch := make([]byte, 512)
	patch[0], patch[1] = 0x40, 0x00

	off, err := DecodeRateMap(patch, TestModeLCRVCSELOff, ArrayReference)
	if err != nil {
		t.Fatalf("decode 1.15: %v", err)
	}
	on, err := DecodeRateMap(patch, TestModeLCRVCSELOn, ArrayReference)
	if err != nil {
		t.Fatalf("decode 9.7: %v", err)
	}

	if len(off.Entries) != 48 || len(on.Entries) != 48 {
		t.Fatalf("entries %d/%d, want 48", len(off.Entries), len(on.Entries))
	}
	if got := off.Entries[0].Rate.Float64(); got != 0.5 {
		t.Fatalf("1.15 value %v, want 0.5", got)
	}
	if got := on.Entries[0].Rate.Float64(); got != 128 {
		t.Fatalf("9.7 value %v, want 128", got)
	}
	if off.Entries[0].Rate.Format != Format115 || on.Entries[0].Rate.Format != Format97 {
		t.Fatalf("entries not tagged with their format")
	}
}

func TestDecodeRateMapRejects(t *testing.T) {
	if _, err := DecodeRateMap(make([]byte, 512), TestModeDCR, ArrayReturn); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("mode: got %v", err)
	}
	if _, err := DecodeRateMap(make([]byte, 100), TestModeLCRVCSELOn, ArrayReturn); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("short patch: got %v", err)
	}
}

func TestRunSPADRateMap(t *testing.T) {
	d, sim := newSimDev(t, simulator.Config{
		Rate: func(array, location byte, spad int, on bool) float64 {
			if on {
				return 3.0
			}
			return 0.25
		},
	})

	tests := []struct {
		mode   TestMode
		array  ArraySelect
		n      int
		format RateFormat
		rate   float64
	}{
		{TestModeLCRVCSELOff, ArrayReturn, 256, Format115, 0.25},
		{TestModeLCRVCSELOn, ArrayReturn, 256, Format97, 3.0},
		{TestModeLCRVCSELOn, ArrayReference, 48, Format97, 3.0},
	}
	for _, tt := range tests {
		m, err := d.RunSPADRateMap(tt.mode, tt.array, 5000)
		if err != nil {
			t.Fatalf("%s/%s: %v", tt.mode, tt.array, err)
		}
		if len(m.Entries) != tt.n {
			t.Fatalf("%s/%s: %d entries, want %d", tt.mode, tt.array, len(m.Entries), tt.n)
		}
		for i, e := range m.Entries {
			if e.SPAD != i || e.Rate.Format != tt.format || math.Abs(e.Rate.Float64()-tt.rate) > 1e-3 {
				t.Fatalf("%s/%s: entry %d = %+v", tt.mode, tt.array, i, e)
			}
		}
		if sim.PowerForced() {
			t.Fatalf("power force left on")
		}
	}

	ssc := sim.Peek(regmap.SSCTimeoutUS, 4)
	if ssc[2] != 0x13 || ssc[3] != 0x88 {
		t.Fatalf("ssc timeout register % X, want 5000", ssc)
	}
}

func TestRunSPADRateMapRejects(t *testing.T) {
	d, sim := newSimDev(t, simulator.Config{})

	cases := []struct {
		mode    TestMode
		array   ArraySelect
		timeout uint32
	}{
		{TestModeDCR, ArrayReturn, 1000},
		{TestModeLCRVCSELOn, ArraySelect(7), 1000},
		{TestModeLCRVCSELOn, ArrayReturn, 0},
	}
	for _, c := range cases {
		if _, err := d.RunSPADRateMap(c.mode, c.array, c.timeout); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("%+v: got %v, want ErrInvalidParams", c, err)
		}
	}
	if sim.Triggers() != 0 {
		t.Fatalf("rejected requests reached the device")
	}
}
