// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tof is the calibration core of a VL53L1 class time-of-flight sensor.
//
// A Dev wraps one Transport and owns the calibration data persisted for that
// part: the reference SPAD configuration and the per-stage range offsets.
// Operations are synchronous and one runs at a time per Dev; a second caller
// gets ErrBusy instead of queueing. Getters never wait for a running operation.
package tof

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/tofcal/internal/calstatus"
	"github.com/relabs-tech/tofcal/internal/fixpoint"
	"github.com/relabs-tech/tofcal/internal/regmap"
	"github.com/relabs-tech/tofcal/internal/transport"
)

var (
	ErrInvalidParams = errors.New("tof: invalid parameters")
	ErrBusy          = errors.New("tof: another operation is in progress")
	ErrTimeout       = errors.New("tof: device test timed out")
	ErrNoTransport   = errors.New("tof: no transport")
	// ErrNoValidSamples means every ranging sample of an offset stage came
	// back with a non-complete range status.
	ErrNoValidSamples = errors.New("tof: no valid range samples")
	// ErrOffsetRange means a measured average or offset does not fit the
	// 14.2 mm offset format.
	ErrOffsetRange = errors.New("tof: offset out of range")
)

const (
	DefaultPollInterval = time.Millisecond
	DefaultTestTimeout  = 500 * time.Millisecond
	// DefaultSSCTimeoutUS is the SPAD self check timeout used by reference
	// characterization.
	DefaultSSCTimeoutUS uint32 = 10000
)

// OffsetPresets are the fixed ranging settings of the three offset stages.
type OffsetPresets struct {
	PreRangeDSS       fixpoint.FixPoint97 // 40.0 Mcps
	MMDSS             fixpoint.FixPoint97 // 20.0 Mcps
	PhasecalTimeoutUS uint16              // 1000
	RangeTimeoutUS    uint32              // 13000
	PreRangeSamples   int                 // 32
	MM1Samples        int                 // 100
	MM2Samples        int                 // 64
}

// DefaultOffsetPresets returns the vendor offset calibration settings.
func DefaultOffsetPresets() OffsetPresets {
	return OffsetPresets{
		PreRangeDSS:       0x1400,
		MMDSS:             0x0A00,
		PhasecalTimeoutUS: 1000,
		RangeTimeoutUS:    13000,
		PreRangeSamples:   32,
		MM1Samples:        100,
		MM2Samples:        64,
	}
}

// Options configure a Dev. Zero fields take defaults.
type Options struct {
	Name       string
	Logger     *logrus.Entry
	Thresholds calstatus.Thresholds

	PollInterval time.Duration // DefaultPollInterval
	TestTimeout  time.Duration // DefaultTestTimeout, per device test

	SSCTimeoutUS uint32 // DefaultSSCTimeoutUS
	// MinSPADRate is the rate a reference SPAD must exceed to be usable.
	MinSPADRate fixpoint.FixPoint1616

	Offset OffsetPresets // DefaultOffsetPresets
}

// RefLocation is the reference SPAD region, from least to most attenuated.
type RefLocation uint8

const (
	NonApertured RefLocation = iota
	Apertured5x
	Apertured10x
)

func (l RefLocation) String() string {
	switch l {
	case NonApertured:
		return "non-apertured"
	case Apertured5x:
		return "apertured-5x"
	case Apertured10x:
		return "apertured-10x"
	default:
		return fmt.Sprintf("location(%d)", uint8(l))
	}
}

// RefSPADData is the persisted reference SPAD configuration. NumRefSPADs is
// the number of bits set in Enables and is at least 1 once written.
type RefSPADData struct {
	NumRefSPADs uint8
	Location    RefLocation
	Enables     [regmap.SPADEnablesRefLength]byte
}

// Enabled returns the enabled SPAD numbers in ascending order.
func (r RefSPADData) Enabled() []int {
	var spads []int
	for i := 0; i < regmap.ReferenceArraySPADs; i++ {
		if r.Enables[i/8]&(1<<(i%8)) != 0 {
			spads = append(spads, i)
		}
	}
	return spads
}

// StageOffset is the result of one offset calibration stage.
type StageOffset struct {
	OffsetMM       fixpoint.FixPoint142 // target minus AverageMM
	AverageMM      fixpoint.FixPoint142
	EffectiveSPADs fixpoint.FixPoint88
	PeakRate       fixpoint.FixPoint97
	Samples        int // valid samples averaged
}

// OffsetData is the persisted offset calibration. Stage1 feeds the inner
// offset register, Stage2 the outer one. PreRange is kept for the pile-up check.
type OffsetData struct {
	TargetMM int16
	PreRange StageOffset
	Stage1   StageOffset
	Stage2   StageOffset
}

// Dev is a calibration handle bound to one sensor.
type Dev struct {
	tr   transport.Transport
	opts Options
	log  *logrus.Entry

	op sync.Mutex // held for the whole of an operation

	mu        sync.RWMutex
	refSPAD   RefSPADData
	hasRef    bool
	offset    OffsetData
	hasOffset bool
}

// New binds a handle to tr.
func New(tr transport.Transport, opts Options) (*Dev, error) {
	if tr == nil {
		return nil, ErrNoTransport
	}

	if opts.Name == "" {
		opts.Name = "tof"
	}
	if opts.Thresholds == (calstatus.Thresholds{}) {
		opts.Thresholds = calstatus.DefaultThresholds()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = DefaultTestTimeout
	}
	if opts.SSCTimeoutUS == 0 {
		opts.SSCTimeoutUS = DefaultSSCTimeoutUS
	}
	if opts.Offset == (OffsetPresets{}) {
		opts.Offset = DefaultOffsetPresets()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Dev{
		tr:   tr,
		opts: opts,
		log:  opts.Logger.WithField("device", opts.Name),
	}, nil
}

// Name returns the handle name used in logs.
func (d *Dev) Name() string { return d.opts.Name }

// RefSPADData returns a copy of the persisted reference SPAD configuration and
// whether characterization ever completed.
func (d *Dev) RefSPADData() (RefSPADData, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.refSPAD, d.hasRef
}

// OffsetData returns a copy of the persisted offsets and whether offset
// calibration ever completed.
func (d *Dev) OffsetData() (OffsetData, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.offset, d.hasOffset
}

// acquire claims the handle for one operation.
func (d *Dev) acquire() (func(), error) {
	if d == nil || d.tr == nil {
		return nil, ErrNoTransport
	}
	if !d.op.TryLock() {
		return nil, ErrBusy
	}
	return d.op.Unlock, nil
}

// releasePowerForce disengages power force and joins a failure into *err.
// Operations defer it right after acquire so every exit path runs it.
func (d *Dev) releasePowerForce(err *error) {
	if werr := d.writeByte(regmap.PowerForce, regmap.PowerForceOff); werr != nil {
		d.log.Errorf("power force release failed: %v", werr)
		*err = errors.Join(*err, fmt.Errorf("power force release: %w", werr))
	}
}

func (d *Dev) writeByte(addr uint16, v byte) error {
	if err := d.tr.WriteRegister(addr, []byte{v}); err != nil {
		return fmt.Errorf("write 0x%04X: %w", addr, err)
	}
	return nil
}

func (d *Dev) writeUint16(addr uint16, v uint16) error {
	buf := binary.BigEndian.AppendUint16(nil, v)
	if err := d.tr.WriteRegister(addr, buf); err != nil {
		return fmt.Errorf("write 0x%04X: %w", addr, err)
	}
	return nil
}

func (d *Dev) writeUint32(addr uint16, v uint32) error {
	buf := binary.BigEndian.AppendUint32(nil, v)
	if err := d.tr.WriteRegister(addr, buf); err != nil {
		return fmt.Errorf("write 0x%04X: %w", addr, err)
	}
	return nil
}

func (d *Dev) read(addr uint16, n int) ([]byte, error) {
	b, err := d.tr.ReadRegister(addr, n)
	if err != nil {
		return nil, fmt.Errorf("read 0x%04X: %w", addr, err)
	}
	if len(b) != n {
		return nil, fmt.Errorf("read 0x%04X: got %d bytes, want %d", addr, len(b), n)
	}
	return b, nil
}
