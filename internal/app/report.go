// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/relabs-tech/tofcal/internal/calstatus"
	"github.com/relabs-tech/tofcal/internal/tof"
)

// Operation names, also used as MQTT topic suffixes and websocket actions.
const (
	OpRefSPAD    = "refspad"
	OpOffset     = "offset"
	OpRateMap    = "ratemap"
	OpDeviceTest = "devicetest"
)

// Report is the JSON record of one calibration operation.
type Report struct {
	Operation string            `json:"operation"`
	Device    string            `json:"device"`
	Timestamp time.Time         `json:"timestamp"`
	Status    *calstatus.Status `json:"status,omitempty"`
	Error     string            `json:"error,omitempty"`

	RefSPAD    *RefSPADView    `json:"ref_spad,omitempty"`
	Offset     *OffsetView     `json:"offset,omitempty"`
	RateMap    *RateMapView    `json:"rate_map,omitempty"`
	DeviceTest *DeviceTestView `json:"device_test,omitempty"`
}

// OK reports whether the operation completed without error and passed.
func (r Report) OK() bool {
	return r.Error == "" && (r.Status == nil || *r.Status == calstatus.Pass)
}

type RefSPADView struct {
	Location    string `json:"location"`
	NumRefSPADs int    `json:"num_ref_spads"`
	Enabled     []int  `json:"enabled"`
	Enables     string `json:"enables"` // hex, register order
}

func newRefSPADView(d tof.RefSPADData) *RefSPADView {
	return &RefSPADView{
		Location:    d.Location.String(),
		NumRefSPADs: int(d.NumRefSPADs),
		Enabled:     d.Enabled(),
		Enables:     strings.ToUpper(hex.EncodeToString(d.Enables[:])),
	}
}

type StageView struct {
	OffsetMM       float64 `json:"offset_mm"`
	AverageMM      float64 `json:"average_mm"`
	EffectiveSPADs float64 `json:"effective_spads"`
	PeakRateMcps   float64 `json:"peak_rate_mcps"`
	Samples        int     `json:"samples"`
}

func newStageView(s tof.StageOffset) StageView {
	return StageView{
		OffsetMM:       s.OffsetMM.Float64(),
		AverageMM:      s.AverageMM.Float64(),
		EffectiveSPADs: s.EffectiveSPADs.Float64(),
		PeakRateMcps:   s.PeakRate.Float64(),
		Samples:        s.Samples,
	}
}

type OffsetView struct {
	TargetMM      int16     `json:"target_mm"`
	PreRange      StageView `json:"pre_range"`
	Stage1        StageView `json:"stage1"`
	Stage2        StageView `json:"stage2"`
	InnerOffsetMM int16     `json:"inner_offset_mm"`
	OuterOffsetMM int16     `json:"outer_offset_mm"`
}

func newOffsetView(d tof.OffsetData) *OffsetView {
	return &OffsetView{
		TargetMM:      d.TargetMM,
		PreRange:      newStageView(d.PreRange),
		Stage1:        newStageView(d.Stage1),
		Stage2:        newStageView(d.Stage2),
		InnerOffsetMM: d.Stage1.OffsetMM.Round(),
		OuterOffsetMM: d.Stage2.OffsetMM.Round(),
	}
}

type RateMapView struct {
	Mode      string    `json:"mode"`
	Array     string    `json:"array"`
	Format    string    `json:"format"`
	TotalMcps float64   `json:"total_mcps"`
	Raw       []uint16  `json:"raw"`
	Mcps      []float64 `json:"mcps"`
}

func newRateMapView(m tof.RateMap) *RateMapView {
	v := &RateMapView{
		Mode:      m.Mode.String(),
		Array:     m.Array.String(),
		TotalMcps: m.Total().Float64(),
		Raw:       make([]uint16, len(m.Entries)),
		Mcps:      make([]float64, len(m.Entries)),
	}
	for i, e := range m.Entries {
		v.Raw[i] = e.Rate.Raw
		v.Mcps[i] = e.Rate.Float64()
		v.Format = e.Rate.Format.String()
	}
	return v
}

type DeviceTestView struct {
	Mode         string `json:"mode"`
	RangeStatus  byte   `json:"range_status"`
	ReportStatus byte   `json:"report_status"`
}
