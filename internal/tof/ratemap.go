// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tof

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/relabs-tech/tofcal/internal/fixpoint"
	"github.com/relabs-tech/tofcal/internal/regmap"
)

// ArraySelect picks the SPAD array a rate map covers.
type ArraySelect byte

const (
	ArrayReturn    ArraySelect = 0x00
	ArrayReference ArraySelect = 0x01
)

func (a ArraySelect) String() string {
	switch a {
	case ArrayReturn:
		return "return"
	case ArrayReference:
		return "reference"
	default:
		return fmt.Sprintf("array(%d)", byte(a))
	}
}

// SPADs returns the number of addressable SPADs in the array.
func (a ArraySelect) SPADs() int {
	if a == ArrayReference {
		return regmap.ReferenceArraySPADs
	}
	return regmap.ReturnArraySPADs
}

// ParseArraySelect accepts "return"/"rtn" and "reference"/"ref".
func ParseArraySelect(s string) (ArraySelect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "return", "rtn":
		return ArrayReturn, nil
	case "reference", "ref":
		return ArrayReference, nil
	}
	return 0, fmt.Errorf("%w: unknown array %q", ErrInvalidParams, s)
}

// RateFormat is the fixed-point layout of a raw rate.
type RateFormat int

const (
	Format115 RateFormat = iota // VCSEL off
	Format97                    // VCSEL on
)

func (f RateFormat) String() string {
	if f == Format97 {
		return "9.7"
	}
	return "1.15"
}

// Rate is a raw SPAD rate tagged with its format.
type Rate struct {
	Raw    uint16
	Format RateFormat
}

// Mcps widens the rate to 16.16.
func (r Rate) Mcps() fixpoint.FixPoint1616 {
	if r.Format == Format97 {
		return fixpoint.FixPoint97(r.Raw).To1616()
	}
	return fixpoint.FixPoint115(r.Raw).To1616()
}

// Float64 returns the rate in Mcps.
func (r Rate) Float64() float64 { return r.Mcps().Float64() }

// RateEntry is the rate of one SPAD.
type RateEntry struct {
	SPAD int
	Rate Rate
}

// RateMap holds one entry per addressable SPAD of Array, in SPAD order.
type RateMap struct {
	Mode    TestMode
	Array   ArraySelect
	Entries []RateEntry
}

// Total returns the summed rate of all entries.
func (m RateMap) Total() fixpoint.FixPoint1616 {
	var sum fixpoint.FixPoint1616
	for _, e := range m.Entries {
		sum += e.Rate.Mcps()
	}
	return sum
}

// DecodeRateMap turns a patch RAM dump into a rate map. patch holds big endian
// 16-bit values, one per SPAD; entries past the array size are ignored.
func DecodeRateMap(patch []byte, mode TestMode, array ArraySelect) (RateMap, error) {
	if !mode.isRateMap() {
		return RateMap{}, fmt.Errorf("%w: %s is not a rate map mode", ErrInvalidParams, mode)
	}
	n := array.SPADs()
	if len(patch) < 2*n {
		return RateMap{}, fmt.Errorf("%w: patch RAM has %d bytes, %s array needs %d", ErrInvalidParams, len(patch), array, 2*n)
	}

	format := Format115
	if mode == TestModeLCRVCSELOn {
		format = Format97
	}

	m := RateMap{Mode: mode, Array: array, Entries: make([]RateEntry, n)}
	for i := range m.Entries {
		m.Entries[i] = RateEntry{
			SPAD: i,
			Rate: Rate{Raw: binary.BigEndian.Uint16(patch[2*i:]), Format: format},
		}
	}
	return m, nil
}

// RunSPADRateMap runs a SPAD self check with the VCSEL on or off and returns
// the per-SPAD rates of the selected array.
func (d *Dev) RunSPADRateMap(mode TestMode, array ArraySelect, sscTimeoutUS uint32) (m RateMap, err error) {
	if !mode.isRateMap() {
		return m, fmt.Errorf("%w: rate map mode %s", ErrInvalidParams, mode)
	}
	if array != ArrayReturn && array != ArrayReference {
		return m, fmt.Errorf("%w: rate map array %s", ErrInvalidParams, array)
	}
	if sscTimeoutUS == 0 {
		return m, fmt.Errorf("%w: zero SSC timeout", ErrInvalidParams)
	}

	unlock, err := d.acquire()
	if err != nil {
		return m, err
	}
	defer unlock()
	defer d.releasePowerForce(&err)

	m, err = d.rateMap(mode, array, sscTimeoutUS)
	if err != nil {
		return m, err
	}
	d.log.Infof("rate map mode=%s array=%s spads=%d total=%s Mcps", mode, array, len(m.Entries), m.Total())
	return m, nil
}

// rateMap is RunSPADRateMap without the operation bookkeeping.
func (d *Dev) rateMap(mode TestMode, array ArraySelect, sscTimeoutUS uint32) (RateMap, error) {
	if err := d.writeUint32(regmap.SSCTimeoutUS, sscTimeoutUS); err != nil {
		return RateMap{}, fmt.Errorf("ssc timeout: %w", err)
	}
	patch, err := d.runTest(mode, &array, d.opts.TestTimeout)
	if err != nil {
		return RateMap{}, err
	}
	return DecodeRateMap(patch, mode, array)
}
