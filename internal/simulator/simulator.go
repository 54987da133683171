// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package simulator is a register-level stand-in for a time-of-flight sensor.
//
// It implements transport.Transport over a 64 KiB register file and reacts to
// the handful of registers the calibration core drives: test mode triggers,
// single-shot ranging, interrupt clear and power force. Time is virtual and
// only advances through Wait, so runs are deterministic.
package simulator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/tofcal/internal/fixpoint"
	"github.com/relabs-tech/tofcal/internal/regmap"
)

// ErrInjected is returned by transfers that were configured to fail.
var ErrInjected = errors.New("simulator: injected fault")

// Test modes the simulator understands.
const (
	modeLCRVCSELOff byte = 0x05
	modeLCRVCSELOn  byte = 0x06
)

// SSC array select values.
const (
	arrayReturn    byte = 0x00
	arrayReference byte = 0x01
)

const memSize = 1 << 16

// RateFunc returns the count rate in Mcps one SPAD sees. array is 0 for the
// return array and 1 for the reference array, location is the reference SPAD
// location register (0 non-apertured, 1 5x, 2 10x).
type RateFunc func(array, location byte, spad int, vcselOn bool) float64

// DefaultRate models a healthy part: non-apertured reference SPADs at 6 Mcps
// each, apertured ones attenuated, and a dim return array.
func DefaultRate(array, location byte, spad int, vcselOn bool) float64 {
	if !vcselOn {
		return 0.02
	}
	if array == arrayReturn {
		return 0.5
	}
	switch location {
	case 0:
		return 6.0
	case 1:
		return 1.2
	default:
		return 0.6
	}
}

// Config describes the synthetic part. Zero fields take the defaults noted.
type Config struct {
	Rate RateFunc // DefaultRate

	// Latency is the virtual time a test or ranging takes (default 5ms).
	Latency time.Duration
	// ActiveHigh selects an active high interrupt line. The default is active
	// low, which is what the part reports after boot.
	ActiveHigh bool

	DistanceMM     float64 // true target distance (default 140)
	RangeErrorMM   float64 // added to every reported range
	JitterMM       float64 // alternately added and subtracted per sample
	EffectiveSPADs float64 // default 12.0
	// ReturnRateScale is the peak rate reported as a fraction of the DSS
	// target rate (default 0.5).
	ReturnRateScale float64
}

func (c *Config) defaults() {
	if c.Rate == nil {
		c.Rate = DefaultRate
	}
	if c.Latency <= 0 {
		c.Latency = 5 * time.Millisecond
	}
	if c.DistanceMM == 0 {
		c.DistanceMM = 140
	}
	if c.EffectiveSPADs == 0 {
		c.EffectiveSPADs = 12.0
	}
	if c.ReturnRateScale == 0 {
		c.ReturnRateScale = 0.5
	}
}

// Device is a simulated sensor. It is safe for concurrent use.
type Device struct {
	mu  sync.Mutex
	cfg Config
	mem []byte

	now     time.Duration
	readyAt time.Duration
	pending func()

	triggers int
	samples  int
	waits    int
	closed   bool

	neverReady   bool
	failTrigger  int
	failReads    map[uint16]bool
	failWrites   map[uint16]bool
	invalidAfter int
}

// New returns a powered-up device with the interrupt line idle.
func New(cfg Config) *Device {
	cfg.defaults()
	d := &Device{
		cfg:        cfg,
		mem:        make([]byte, memSize),
		failReads:  map[uint16]bool{},
		failWrites: map[uint16]bool{},
	}
	if !cfg.ActiveHigh {
		d.mem[regmap.GPIOHVMuxCtrl] = regmap.InterruptPolarityMask
	}
	d.mem[regmap.FirmwareEnable] = regmap.FirmwareOn
	d.setLine(false)
	return d
}

// NeverReady keeps the interrupt line idle so every test times out.
func (d *Device) NeverReady() {
	d.mu.Lock()
	d.neverReady = true
	d.mu.Unlock()
}

// FailTrigger makes the nth trigger write (1-based, counting test mode and
// ranging starts) fail with ErrInjected.
func (d *Device) FailTrigger(n int) {
	d.mu.Lock()
	d.failTrigger = n
	d.mu.Unlock()
}

// FailRead makes every read that starts at addr fail.
func (d *Device) FailRead(addr uint16) {
	d.mu.Lock()
	d.failReads[addr] = true
	d.mu.Unlock()
}

// FailWrite makes every write that starts at addr fail.
func (d *Device) FailWrite(addr uint16) {
	d.mu.Lock()
	d.failWrites[addr] = true
	d.mu.Unlock()
}

// InvalidRangesAfter reports a non-complete range status for every ranging
// sample after the first n.
func (d *Device) InvalidRangesAfter(n int) {
	d.mu.Lock()
	d.invalidAfter = n
	d.mu.Unlock()
}

// PowerForced reports whether the power force register is engaged.
func (d *Device) PowerForced() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mem[regmap.PowerForce] == regmap.PowerForceOn
}

// Triggers returns the number of test and ranging starts seen so far.
func (d *Device) Triggers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggers
}

// Samples returns the number of completed ranging samples.
func (d *Device) Samples() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.samples
}

// Elapsed returns the virtual time spent in Wait.
func (d *Device) Elapsed() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// Peek returns a copy of n register bytes without side effects.
func (d *Device) Peek(addr uint16, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.mem[int(addr):int(addr)+n]...)
}

// ReadRegister implements transport.Transport.
func (d *Device) ReadRegister(addr uint16, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(addr, n); err != nil {
		return nil, err
	}
	if d.failReads[addr] {
		return nil, fmt.Errorf("read 0x%04X: %w", addr, ErrInjected)
	}

	if overlaps(addr, n, regmap.PatchBaseRSLV, regmap.PatchRAMLength) {
		if d.mem[regmap.PowerForce] != regmap.PowerForceOn {
			return nil, fmt.Errorf("simulator: patch RAM read at 0x%04X without power force", addr)
		}
		if d.mem[regmap.FirmwareEnable] != regmap.FirmwareOff {
			return nil, fmt.Errorf("simulator: patch RAM read at 0x%04X with firmware running", addr)
		}
	}

	return append([]byte(nil), d.mem[int(addr):int(addr)+n]...), nil
}

// WriteRegister implements transport.Transport.
func (d *Device) WriteRegister(addr uint16, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(addr, len(data)); err != nil {
		return err
	}
	if d.failWrites[addr] {
		return fmt.Errorf("write 0x%04X: %w", addr, ErrInjected)
	}

	copy(d.mem[int(addr):], data)

	for i, v := range data {
		if err := d.sideEffect(addr+uint16(i), v); err != nil {
			return err
		}
	}
	return nil
}

// Wait advances the virtual clock and completes a pending test once its
// latency has elapsed.
func (d *Device) Wait(dur time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("simulator: closed")
	}
	d.waits++
	d.now += dur
	if d.pending != nil && d.now >= d.readyAt && !d.neverReady {
		d.pending()
		d.pending = nil
		d.setLine(true)
	}
	return nil
}

// Close makes later transfers fail.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *Device) String() string { return "simulator" }

func (d *Device) check(addr uint16, n int) error {
	if d.closed {
		return fmt.Errorf("simulator: closed")
	}
	if n < 0 || int(addr)+n > memSize {
		return fmt.Errorf("simulator: access 0x%04X+%d out of range", addr, n)
	}
	return nil
}

func (d *Device) sideEffect(addr uint16, v byte) error {
	switch addr {
	case regmap.TestModeCtrl:
		if v == 0 {
			return nil
		}
		return d.trigger(func() { d.completeTest(v) })
	case regmap.ModeStart:
		if v != regmap.ModeStartSingleShot {
			return nil
		}
		return d.trigger(d.completeRange)
	case regmap.InterruptClear:
		if v&regmap.InterruptClearRange != 0 {
			d.setLine(false)
		}
	}
	return nil
}

func (d *Device) trigger(complete func()) error {
	d.triggers++
	if d.failTrigger > 0 && d.triggers == d.failTrigger {
		return fmt.Errorf("trigger %d: %w", d.triggers, ErrInjected)
	}
	if d.mem[regmap.PowerForce] != regmap.PowerForceOn {
		return fmt.Errorf("simulator: trigger %d without power force", d.triggers)
	}
	d.setLine(false)
	d.pending = complete
	d.readyAt = d.now + d.cfg.Latency
	return nil
}

// setLine drives the interrupt status bit to its active or idle level.
func (d *Device) setLine(active bool) {
	level := active == d.cfg.ActiveHigh
	if level {
		d.mem[regmap.GPIOTIOHVStatus] |= regmap.TIOHVStatusMask
	} else {
		d.mem[regmap.GPIOTIOHVStatus] &^= regmap.TIOHVStatusMask
	}
}

func (d *Device) completeTest(mode byte) {
	d.mem[regmap.ResultRangeStatus] = regmap.RangeStatusComplete
	d.mem[regmap.ResultRangeStatus+1] = 0

	if mode != modeLCRVCSELOff && mode != modeLCRVCSELOn {
		return
	}

	array := d.mem[regmap.SSCArraySelect]
	location := d.mem[regmap.RefSPADRefLocation]
	count := regmap.ReturnArraySPADs
	if array == arrayReference {
		count = regmap.ReferenceArraySPADs
	}

	patch := d.mem[regmap.PatchBaseRSLV : int(regmap.PatchBaseRSLV)+regmap.PatchRAMLength]
	clear(patch)
	for spad := 0; spad < count; spad++ {
		rate := d.cfg.Rate(array, location, spad, mode == modeLCRVCSELOn)
		var raw uint16
		if mode == modeLCRVCSELOn {
			raw = uint16(fixpoint.New97(rate))
		} else {
			raw = uint16(fixpoint.New115(rate))
		}
		binary.BigEndian.PutUint16(patch[2*spad:], raw)
	}
}

func (d *Device) completeRange() {
	d.samples++
	res := d.mem[regmap.ResultRangeStatus : int(regmap.ResultRangeStatus)+regmap.RangeResultLength]
	clear(res)

	status := regmap.RangeStatusComplete
	if d.invalidAfter > 0 && d.samples > d.invalidAfter {
		status = 0x04
	}
	res[regmap.RangeResultStatus] = status
	res[regmap.RangeResultStreamCount] = byte(d.samples)

	dss := fixpoint.FixPoint97(binary.BigEndian.Uint16(d.mem[regmap.DSSTargetTotalRate:]))
	peak := fixpoint.New97(dss.Float64() * d.cfg.ReturnRateScale)

	jitter := d.cfg.JitterMM
	if d.samples%2 == 0 {
		jitter = -jitter
	}
	rangeMM := int16(math.Round(d.cfg.DistanceMM + d.cfg.RangeErrorMM + jitter))

	binary.BigEndian.PutUint16(res[regmap.RangeResultEffectiveSPADs:], uint16(fixpoint.New88(d.cfg.EffectiveSPADs)))
	binary.BigEndian.PutUint16(res[regmap.RangeResultPeakRate:], uint16(peak))
	binary.BigEndian.PutUint16(res[regmap.RangeResultAmbientRate:], uint16(fixpoint.New97(0.25)))
	binary.BigEndian.PutUint16(res[regmap.RangeResultFinalRangeMM:], uint16(rangeMM))
	binary.BigEndian.PutUint16(res[regmap.RangeResultPeakRateXtalkCC:], uint16(peak))
}

func overlaps(addr uint16, n int, base uint16, length int) bool {
	return int(addr) < int(base)+length && int(addr)+n > int(base)
}
