// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fixpoint holds the fixed-point formats used by the sensor firmware.
//
// Each format is its own type so a value read in one format cannot be compared
// against a value in another without an explicit conversion. Rates are in Mcps,
// distances in mm, SPAD counts in SPADs.
package fixpoint

import (
	"fmt"
	"math"
)

// FixPoint1616 is an unsigned 16.16 value. It is the common format all rates are
// widened to before they are accumulated or compared against thresholds.
type FixPoint1616 uint32

// FixPoint115 is an unsigned 1.15 value. The firmware reports SPAD rates in this
// format when the VCSEL is off.
type FixPoint115 uint16

// FixPoint97 is an unsigned 9.7 value. Count rates with the VCSEL on use it.
type FixPoint97 uint16

// FixPoint88 is an unsigned 8.8 value (effective SPAD counts).
type FixPoint88 uint16

// FixPoint142 is a signed 14.2 value used for range offsets in mm.
type FixPoint142 int16

// Mcps converts a float rate to 16.16, saturating at the format limits.
func Mcps(v float64) FixPoint1616 {
	return FixPoint1616(saturate(v*(1<<16), math.MaxUint32))
}

// Float64 returns the value as a float.
func (f FixPoint1616) Float64() float64 { return float64(f) / (1 << 16) }

func (f FixPoint1616) String() string { return fmt.Sprintf("%.3f", f.Float64()) }

// To97 narrows to 9.7, saturating at 511.99.
func (f FixPoint1616) To97() FixPoint97 {
	v := (uint64(f) + (1 << 8)) >> 9
	if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	return FixPoint97(v)
}

// New115 converts a float to 1.15.
func New115(v float64) FixPoint115 {
	return FixPoint115(saturate(v*(1<<15), math.MaxUint16))
}

// Float64 returns the value as a float.
func (f FixPoint115) Float64() float64 { return float64(f) / (1 << 15) }

// To1616 widens to 16.16 without loss.
func (f FixPoint115) To1616() FixPoint1616 { return FixPoint1616(uint32(f) << 1) }

// New97 converts a float to 9.7.
func New97(v float64) FixPoint97 {
	return FixPoint97(saturate(v*(1<<7), math.MaxUint16))
}

// Float64 returns the value as a float.
func (f FixPoint97) Float64() float64 { return float64(f) / (1 << 7) }

// To1616 widens to 16.16 without loss.
func (f FixPoint97) To1616() FixPoint1616 { return FixPoint1616(uint32(f) << 9) }

func (f FixPoint97) String() string { return fmt.Sprintf("%.3f", f.Float64()) }

// New88 converts a float to 8.8.
func New88(v float64) FixPoint88 {
	return FixPoint88(saturate(v*(1<<8), math.MaxUint16))
}

// Float64 returns the value as a float.
func (f FixPoint88) Float64() float64 { return float64(f) / (1 << 8) }

func (f FixPoint88) String() string { return fmt.Sprintf("%.2f", f.Float64()) }

// MaxMM is the largest whole millimetre value 14.2 holds.
const MaxMM = math.MaxInt16 / 4

// QuarterMM converts a count of quarter millimetres to 14.2. ok is false when q
// does not fit.
func QuarterMM(q int64) (f FixPoint142, ok bool) {
	if q < math.MinInt16 || q > math.MaxInt16 {
		return 0, false
	}
	return FixPoint142(q), true
}

// MM converts whole millimetres to 14.2.
func MM(mm int16) FixPoint142 { return FixPoint142(int32(mm) * 4) }

// Float64 returns the offset in mm.
func (f FixPoint142) Float64() float64 { return float64(f) / 4 }

// Round returns the offset rounded to the nearest whole mm, halves away from zero.
func (f FixPoint142) Round() int16 {
	if f < 0 {
		return int16(-((-int32(f) + 2) >> 2))
	}
	return int16((int32(f) + 2) >> 2)
}

func (f FixPoint142) String() string { return fmt.Sprintf("%.2f", f.Float64()) }

func saturate(v, limit float64) float64 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
