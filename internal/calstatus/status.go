// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calstatus classifies raw calibration measurements into pass or warning
// outcomes. Functions here are pure and safe to call from several calibration
// runs at once.
package calstatus

import (
	"fmt"

	"github.com/relabs-tech/tofcal/internal/fixpoint"
)

// Status is the quality of a calibration run. It is reported next to the
// operation error and is never persisted.
type Status int

const (
	Pass Status = iota
	// RateTooHigh: reference rate above the band at the end of the search, or
	// pre-range rate in the pile-up region during offset calibration.
	RateTooHigh
	// RateTooLow: reference rate below the band at the end of the search.
	RateTooLow
	// InsufficientElements: fewer than the minimum usable reference SPADs in
	// every region. The persisted result is not valid.
	InsufficientElements
	// InsufficientMM1Elements: effective SPAD count of the first offset stage
	// below the minimum.
	InsufficientMM1Elements
)

func (s Status) String() string {
	switch s {
	case Pass:
		return "pass"
	case RateTooHigh:
		return "rate-too-high"
	case RateTooLow:
		return "rate-too-low"
	case InsufficientElements:
		return "insufficient-elements"
	case InsufficientMM1Elements:
		return "insufficient-mm1-elements"
	default:
		return "unknown"
	}
}

// IsWarning reports whether the status signals degraded confidence.
func (s Status) IsWarning() bool { return s != Pass }

// MarshalText lets reports carry the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts the names produced by String.
func (s *Status) UnmarshalText(b []byte) error {
	for v := Pass; v <= InsufficientMM1Elements; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown calibration status %q", b)
}

// Thresholds are the classification limits. The defaults match the values the
// firmware vendor documents; device variants may override them from config.
type Thresholds struct {
	MinRate           fixpoint.FixPoint1616 // reference rate band, lower bound
	MaxRate           fixpoint.FixPoint1616 // reference rate band, upper bound
	MinSPADs          int                   // minimum viable reference SPAD count
	MinEffectiveSPADs fixpoint.FixPoint88   // offset stage 1
	MaxPreRangeRate   fixpoint.FixPoint1616 // offset pile-up limit
}

// DefaultThresholds returns 10.0-40.0 Mcps, 5 SPADs, 5.0 effective SPADs and a
// 40.0 Mcps pre-range limit.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinRate:           fixpoint.Mcps(10.0),
		MaxRate:           fixpoint.Mcps(40.0),
		MinSPADs:          5,
		MinEffectiveSPADs: fixpoint.New88(5.0),
		MaxPreRangeRate:   fixpoint.Mcps(40.0),
	}
}

// EvaluateRefRate classifies a reference SPAD candidate. Too few SPADs wins over
// any rate result.
func EvaluateRefRate(rate fixpoint.FixPoint1616, count int, th Thresholds) Status {
	switch {
	case count < th.MinSPADs:
		return InsufficientElements
	case rate > th.MaxRate:
		return RateTooHigh
	case rate < th.MinRate:
		return RateTooLow
	default:
		return Pass
	}
}

// EvaluateOffset classifies an offset calibration from the stage 1 effective SPAD
// count and the pre-range peak rate. The SPAD check is applied first.
func EvaluateOffset(mm1EffectiveSPADs fixpoint.FixPoint88, preRangeRate fixpoint.FixPoint1616, th Thresholds) Status {
	if mm1EffectiveSPADs < th.MinEffectiveSPADs {
		return InsufficientMM1Elements
	}
	if preRangeRate > th.MaxPreRangeRate {
		return RateTooHigh
	}
	return Pass
}
