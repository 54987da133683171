// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tof

import (
	"fmt"

	"github.com/relabs-tech/tofcal/internal/calstatus"
	"github.com/relabs-tech/tofcal/internal/fixpoint"
	"github.com/relabs-tech/tofcal/internal/regmap"
)

// refPhase is where the SPAD growth of one region stopped.
type refPhase int

const (
	phaseGrowing     refPhase = iota
	phaseBandReached          // one more SPAD would push the rate above the band
	phaseExhausted            // every usable SPAD is enabled
)

func (p refPhase) String() string {
	switch p {
	case phaseGrowing:
		return "growing"
	case phaseBandReached:
		return "band-reached"
	default:
		return "exhausted"
	}
}

// refRegion is the candidate configuration built for one location.
type refRegion struct {
	location RefLocation
	spads    []int // usable SPADs in SPAD order
	rates    []fixpoint.FixPoint1616
	enabled  int // leading entries of spads that are switched on
	total    fixpoint.FixPoint1616
	phase    refPhase
	status   calstatus.Status
}

// grow enables SPADs in order. The first MinSPADs are always taken; after that
// a SPAD is only added while the total stays within MaxRate.
func (r *refRegion) grow(th calstatus.Thresholds) {
	for r.phase == phaseGrowing {
		if r.enabled == len(r.spads) {
			r.phase = phaseExhausted
			break
		}
		next := r.total + r.rates[r.enabled]
		if r.enabled >= th.MinSPADs && next > th.MaxRate {
			r.phase = phaseBandReached
			break
		}
		r.total = next
		r.enabled++
	}
	r.status = calstatus.EvaluateRefRate(r.total, r.enabled, th)
}

// data builds the persisted form. At least one SPAD is always enabled; with no
// usable SPAD at all the first one of the region is switched on.
func (r *refRegion) data() RefSPADData {
	out := RefSPADData{Location: r.location}
	spads := r.spads[:r.enabled]
	if len(spads) == 0 {
		spads = []int{0}
	}
	for _, s := range spads {
		out.Enables[s/8] |= 1 << (s % 8)
	}
	out.NumRefSPADs = uint8(len(spads))
	return out
}

// RunRefSPADChar searches the reference array for a SPAD set whose summed rate
// falls within the threshold band, trying the non-apertured, 5x and 10x
// regions in that order. A pass stops the search; a rate warning moves on to
// the next, more attenuated region.
//
// The returned status is only meaningful with a nil error. Warning outcomes
// are still written to the device and persisted; an error leaves the handle
// untouched.
func (d *Dev) RunRefSPADChar() (status calstatus.Status, err error) {
	unlock, err := d.acquire()
	if err != nil {
		return status, err
	}
	defer unlock()
	defer d.releasePowerForce(&err)

	th := d.opts.Thresholds
	var viable, fallback *refRegion

	for loc := NonApertured; loc <= Apertured10x; loc++ {
		r, err := d.characterizeRegion(loc)
		if err != nil {
			return status, fmt.Errorf("ref spad %s: %w", loc, err)
		}
		d.log.Debugf("ref spad region=%s usable=%d enabled=%d total=%s phase=%s status=%s",
			loc, len(r.spads), r.enabled, r.total, r.phase, r.status)

		if r.enabled >= th.MinSPADs {
			viable = r
		}
		if fallback == nil || len(r.spads) >= len(fallback.spads) {
			fallback = r
		}
		if r.status == calstatus.Pass {
			break
		}
	}

	chosen := viable
	if chosen == nil {
		chosen = fallback
	}
	status = chosen.status
	data := chosen.data()

	if err := d.writeRefSPAD(data); err != nil {
		return status, err
	}

	d.mu.Lock()
	d.refSPAD = data
	d.hasRef = true
	d.mu.Unlock()

	if status.IsWarning() {
		d.log.Warnf("ref spad characterization %s: location=%s spads=%d total=%s Mcps", status, data.Location, data.NumRefSPADs, chosen.total)
	} else {
		d.log.Infof("ref spad characterization passed: location=%s spads=%d total=%s Mcps", data.Location, data.NumRefSPADs, chosen.total)
	}
	return status, nil
}

func (d *Dev) characterizeRegion(loc RefLocation) (*refRegion, error) {
	if err := d.writeByte(regmap.RefSPADRefLocation, byte(loc)); err != nil {
		return nil, err
	}
	m, err := d.rateMap(TestModeLCRVCSELOn, ArrayReference, d.opts.SSCTimeoutUS)
	if err != nil {
		return nil, err
	}

	r := &refRegion{location: loc}
	for _, e := range m.Entries {
		if rate := e.Rate.Mcps(); rate > d.opts.MinSPADRate {
			r.spads = append(r.spads, e.SPAD)
			r.rates = append(r.rates, rate)
		}
	}
	r.grow(d.opts.Thresholds)
	return r, nil
}

func (d *Dev) writeRefSPAD(data RefSPADData) error {
	if err := d.tr.WriteRegister(regmap.SPADEnablesRef0, data.Enables[:]); err != nil {
		return fmt.Errorf("ref spad enables: %w", err)
	}
	if err := d.writeByte(regmap.RefSPADNumRequested, data.NumRefSPADs); err != nil {
		return fmt.Errorf("ref spad count: %w", err)
	}
	if err := d.writeByte(regmap.RefSPADRefLocation, byte(data.Location)); err != nil {
		return fmt.Errorf("ref spad location: %w", err)
	}
	return nil
}
