package app

import (
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/tofcal/internal/calstatus"
)

func TestFormatReport(t *testing.T) {
	ts := time.Date(2026, 10, 15, 9, 30, 5, 0, time.UTC)
	low := calstatus.RateTooLow

	tests := []struct {
		name string
		rep  Report
		want []string
	}{
		{
			name: "refspad",
			rep: Report{Operation: OpRefSPAD, Device: "tof0", Timestamp: ts, Status: &low,
				RefSPAD: &RefSPADView{Location: "10x", NumRefSPADs: 48, Enables: "FFFFFFFFFFFF"}},
			want: []string{"[REFSPAD   ]", "09:30:05", "status=rate-too-low", "location=10x", "spads=48"},
		},
		{
			name: "offset",
			rep: Report{Operation: OpOffset, Device: "tof0", Timestamp: ts,
				Offset: &OffsetView{TargetMM: 140, InnerOffsetMM: -7, OuterOffsetMM: -6}},
			want: []string{"target=140mm", "inner=-7mm", "outer=-6mm"},
		},
		{
			name: "devicetest",
			rep: Report{Operation: OpDeviceTest, Device: "tof0", Timestamp: ts,
				DeviceTest: &DeviceTestView{Mode: "dcr", RangeStatus: 0x09}},
			want: []string{"mode=dcr", "range_status=0x09"},
		},
		{
			name: "error",
			rep:  Report{Operation: OpRateMap, Device: "tof0", Timestamp: ts, Error: "timeout"},
			want: []string{"ERROR timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatReport(tt.rep)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("%q does not contain %q", got, w)
				}
			}
		})
	}
}
