// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tof

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relabs-tech/tofcal/internal/regmap"
)

// TestMode is a TEST_MODE__CTRL value.
type TestMode byte

const (
	TestModeNone                  TestMode = 0x00
	TestModeDCR                   TestMode = 0x04
	TestModeLCRVCSELOff           TestMode = 0x05
	TestModeLCRVCSELOn            TestMode = 0x06
	TestModeRefSPADCharWithPreVHV TestMode = 0x08
	TestModeRefSPADCharOnly       TestMode = 0x09

	// modeSingleRange is not written to TEST_MODE__CTRL. It starts one
	// single-shot ranging through SYSTEM__MODE_START instead.
	modeSingleRange TestMode = 0xFF
)

var testModeNames = map[TestMode]string{
	TestModeNone:                  "none",
	TestModeDCR:                   "dcr",
	TestModeLCRVCSELOff:           "lcr-vcsel-off",
	TestModeLCRVCSELOn:            "lcr-vcsel-on",
	TestModeRefSPADCharWithPreVHV: "refspad-char-pre-vhv",
	TestModeRefSPADCharOnly:       "refspad-char",
	modeSingleRange:               "single-range",
}

func (m TestMode) String() string {
	if s, ok := testModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(0x%02X)", byte(m))
}

// ParseTestMode accepts the names printed by TestMode.String.
func ParseTestMode(s string) (TestMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range testModeNames {
		if name == s && m != modeSingleRange {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown test mode %q", ErrInvalidParams, s)
}

func (m TestMode) isRateMap() bool {
	return m == TestModeLCRVCSELOff || m == TestModeLCRVCSELOn
}

// DeviceTestResult is the status pair a plain device test leaves behind.
type DeviceTestResult struct {
	Mode         TestMode
	RangeStatus  byte
	ReportStatus byte
}

// RunDeviceTest runs one device test mode with the default completion
// timeout. TestModeNone is rejected since nothing would complete.
func (d *Dev) RunDeviceTest(mode TestMode) (res DeviceTestResult, err error) {
	if _, ok := testModeNames[mode]; !ok || mode == TestModeNone || mode == modeSingleRange {
		return res, fmt.Errorf("%w: device test mode %s", ErrInvalidParams, mode)
	}

	unlock, err := d.acquire()
	if err != nil {
		return res, err
	}
	defer unlock()
	defer d.releasePowerForce(&err)

	d.log.Debugf("device test mode=%s", mode)

	raw, err := d.runTest(mode, nil, d.opts.TestTimeout)
	if err != nil {
		return res, err
	}

	res = DeviceTestResult{Mode: mode}
	if mode.isRateMap() {
		// The status pair is still valid after a rate map test.
		st, err := d.read(regmap.ResultRangeStatus, regmap.DeviceTestResultLength)
		if err != nil {
			return res, err
		}
		raw = st
	}
	res.RangeStatus = raw[0] & regmap.RangeStatusMask
	res.ReportStatus = raw[1]
	d.log.Infof("device test mode=%s range_status=0x%02X report_status=0x%02X", mode, res.RangeStatus, res.ReportStatus)
	return res, nil
}

// runTest triggers one device test and returns its result block: the status
// pair for plain tests, the range result for a single ranging and the patch
// RAM for rate maps. Power force is left engaged; the calling operation
// releases it. array, when non-nil, selects the SPAD array first.
func (d *Dev) runTest(mode TestMode, array *ArraySelect, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout %v", ErrInvalidParams, timeout)
	}

	if err := d.writeByte(regmap.PowerForce, regmap.PowerForceOn); err != nil {
		return nil, fmt.Errorf("power force: %w", err)
	}

	mux, err := d.read(regmap.GPIOHVMuxCtrl, 1)
	if err != nil {
		return nil, fmt.Errorf("interrupt polarity: %w", err)
	}
	activeLow := mux[0]&regmap.InterruptPolarityMask != 0

	if array != nil {
		if err := d.writeByte(regmap.SSCArraySelect, byte(*array)); err != nil {
			return nil, fmt.Errorf("array select: %w", err)
		}
	}

	if mode == modeSingleRange {
		err = d.writeByte(regmap.ModeStart, regmap.ModeStartSingleShot)
	} else {
		err = d.writeByte(regmap.TestModeCtrl, byte(mode))
	}
	if err != nil {
		return nil, fmt.Errorf("%s trigger: %w", mode, err)
	}

	if err := d.waitReady(activeLow, timeout); err != nil {
		return nil, fmt.Errorf("%s: %w", mode, err)
	}

	var res []byte
	switch {
	case mode == modeSingleRange:
		res, err = d.read(regmap.ResultRangeStatus, regmap.RangeResultLength)
	case mode.isRateMap():
		res, err = d.readPatchRAM()
	default:
		res, err = d.read(regmap.ResultRangeStatus, regmap.DeviceTestResultLength)
	}
	if err != nil {
		return nil, fmt.Errorf("%s result: %w", mode, err)
	}

	if err := d.writeByte(regmap.InterruptClear, regmap.InterruptClearRange); err != nil {
		return nil, fmt.Errorf("%s interrupt clear: %w", mode, err)
	}
	return res, nil
}

// waitReady polls the interrupt status until it reaches the active level.
// Elapsed time is counted in poll intervals so simulated transports time out
// after the same number of polls a real part would.
func (d *Dev) waitReady(activeLow bool, timeout time.Duration) error {
	var waited time.Duration
	for {
		st, err := d.read(regmap.GPIOTIOHVStatus, 1)
		if err != nil {
			return err
		}
		level := st[0]&regmap.TIOHVStatusMask != 0
		if level != activeLow {
			return nil
		}
		if waited >= timeout {
			return fmt.Errorf("%w after %v", ErrTimeout, waited)
		}
		if err := d.tr.Wait(d.opts.PollInterval); err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		waited += d.opts.PollInterval
	}
}

// readPatchRAM reads the rate map with the firmware stopped and restarts it
// whatever the outcome of the read.
func (d *Dev) readPatchRAM() (res []byte, err error) {
	if err := d.writeByte(regmap.FirmwareEnable, regmap.FirmwareOff); err != nil {
		return nil, fmt.Errorf("firmware disable: %w", err)
	}
	defer func() {
		if werr := d.writeByte(regmap.FirmwareEnable, regmap.FirmwareOn); werr != nil {
			err = errors.Join(err, fmt.Errorf("firmware enable: %w", werr))
		}
	}()
	return d.read(regmap.PatchBaseRSLV, regmap.PatchRAMLength)
}
