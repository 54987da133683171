// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tof

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/relabs-tech/tofcal/internal/calstatus"
	"github.com/relabs-tech/tofcal/internal/fixpoint"
	"github.com/relabs-tech/tofcal/internal/regmap"
)

// RunOffsetCalibration measures the range offsets against a target placed
// targetMM away. The target is expected to be a grey (about 5%) reflector.
//
// Three ranging stages run back to back: a pre-range at the higher DSS rate,
// used only for the pile-up check, then the two mm stages whose offsets are
// written to the inner and outer offset registers. The handle is only updated
// once every stage succeeded, and both stages are replaced together.
func (d *Dev) RunOffsetCalibration(targetMM int16) (status calstatus.Status, err error) {
	if targetMM <= 0 || targetMM > fixpoint.MaxMM {
		return status, fmt.Errorf("%w: target distance %d mm", ErrInvalidParams, targetMM)
	}

	unlock, err := d.acquire()
	if err != nil {
		return status, err
	}
	defer unlock()
	defer d.releasePowerForce(&err)

	// Measure without any offset applied.
	if err := d.writeOffsets(0, 0); err != nil {
		return status, err
	}

	p := d.opts.Offset
	result := OffsetData{TargetMM: targetMM}
	stages := []struct {
		name    string
		dss     fixpoint.FixPoint97
		samples int
		out     *StageOffset
	}{
		{"pre-range", p.PreRangeDSS, p.PreRangeSamples, &result.PreRange},
		{"mm1", p.MMDSS, p.MM1Samples, &result.Stage1},
		{"mm2", p.MMDSS, p.MM2Samples, &result.Stage2},
	}

	for _, st := range stages {
		so, err := d.offsetStage(st.dss, st.samples, targetMM)
		if err != nil {
			return status, fmt.Errorf("offset %s: %w", st.name, err)
		}
		d.log.Debugf("offset stage=%s samples=%d average=%s mm offset=%s mm spads=%s peak=%s Mcps",
			st.name, so.Samples, so.AverageMM, so.OffsetMM, so.EffectiveSPADs, so.PeakRate)
		*st.out = so
	}

	status = calstatus.EvaluateOffset(result.Stage1.EffectiveSPADs, result.PreRange.PeakRate.To1616(), d.opts.Thresholds)

	if err := d.writeOffsets(result.Stage1.OffsetMM.Round(), result.Stage2.OffsetMM.Round()); err != nil {
		return status, err
	}

	d.mu.Lock()
	d.offset = result
	d.hasOffset = true
	d.mu.Unlock()

	if status.IsWarning() {
		d.log.Warnf("offset calibration %s: inner=%s mm outer=%s mm", status, result.Stage1.OffsetMM, result.Stage2.OffsetMM)
	} else {
		d.log.Infof("offset calibration passed: inner=%s mm outer=%s mm", result.Stage1.OffsetMM, result.Stage2.OffsetMM)
	}
	return status, nil
}

// offsetStage configures one ranging preset and averages n single-shot
// ranges. Samples with a non-complete range status are skipped.
func (d *Dev) offsetStage(dss fixpoint.FixPoint97, n int, targetMM int16) (StageOffset, error) {
	p := d.opts.Offset
	if err := d.writeUint16(regmap.DSSTargetTotalRate, uint16(dss)); err != nil {
		return StageOffset{}, err
	}
	if err := d.writeUint16(regmap.PhasecalTimeoutUS, p.PhasecalTimeoutUS); err != nil {
		return StageOffset{}, err
	}
	if err := d.writeUint32(regmap.RangeTimeoutUS, p.RangeTimeoutUS); err != nil {
		return StageOffset{}, err
	}

	var sumRange, sumSPADs, sumPeak int64
	valid := 0
	for i := 0; i < n; i++ {
		res, err := d.runTest(modeSingleRange, nil, d.opts.TestTimeout)
		if err != nil {
			return StageOffset{}, fmt.Errorf("sample %d: %w", i, err)
		}
		if res[regmap.RangeResultStatus]&regmap.RangeStatusMask != regmap.RangeStatusComplete {
			continue
		}
		valid++
		sumRange += int64(int16(binary.BigEndian.Uint16(res[regmap.RangeResultFinalRangeMM:])))
		sumSPADs += int64(binary.BigEndian.Uint16(res[regmap.RangeResultEffectiveSPADs:]))
		sumPeak += int64(binary.BigEndian.Uint16(res[regmap.RangeResultPeakRate:]))
	}
	if valid == 0 {
		return StageOffset{}, fmt.Errorf("%w (%d samples)", ErrNoValidSamples, n)
	}

	avgQ := divRound(4*sumRange, int64(valid))
	avg, ok := fixpoint.QuarterMM(avgQ)
	if !ok {
		return StageOffset{}, fmt.Errorf("%w: average %.2f mm", ErrOffsetRange, float64(avgQ)/4)
	}
	offQ := 4*int64(targetMM) - avgQ
	off, ok := fixpoint.QuarterMM(offQ)
	if !ok {
		return StageOffset{}, fmt.Errorf("%w: offset %.2f mm", ErrOffsetRange, float64(offQ)/4)
	}
	return StageOffset{
		OffsetMM:       off,
		AverageMM:      avg,
		EffectiveSPADs: fixpoint.FixPoint88(divRound(sumSPADs, int64(valid))),
		PeakRate:       fixpoint.FixPoint97(divRound(sumPeak, int64(valid))),
		Samples:        valid,
	}, nil
}

// writeOffsets writes the inner then the outer offset register. When the outer
// write fails the inner register is zeroed again so the part is never left
// with only one stage applied.
func (d *Dev) writeOffsets(inner, outer int16) error {
	if err := d.writeUint16(regmap.MMConfigInnerOffset, uint16(inner)); err != nil {
		return fmt.Errorf("inner offset: %w", err)
	}
	if err := d.writeUint16(regmap.MMConfigOuterOffset, uint16(outer)); err != nil {
		err = fmt.Errorf("outer offset: %w", err)
		if inner != 0 {
			if zerr := d.writeUint16(regmap.MMConfigInnerOffset, 0); zerr != nil {
				err = errors.Join(err, fmt.Errorf("inner offset reset: %w", zerr))
			}
		}
		return err
	}
	return nil
}

// divRound divides rounding halves away from zero. b must be positive.
func divRound(a, b int64) int64 {
	if a < 0 {
		return -((-a + b/2) / b)
	}
	return (a + b/2) / b
}
