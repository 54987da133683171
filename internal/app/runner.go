// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/tofcal/internal/calstatus"
	"github.com/relabs-tech/tofcal/internal/config"
	"github.com/relabs-tech/tofcal/internal/fixpoint"
	"github.com/relabs-tech/tofcal/internal/simulator"
	"github.com/relabs-tech/tofcal/internal/tof"
	"github.com/relabs-tech/tofcal/internal/transport"
)

// DeviceTransport is a transport the runner owns and closes.
type DeviceTransport interface {
	transport.Transport
	io.Closer
}

// OpenTransport opens the transport named by device.transport.
func OpenTransport(dc config.DeviceConfig) (DeviceTransport, error) {
	switch dc.Transport {
	case config.TransportI2C:
		t, err := transport.OpenI2C(dc.I2CBus, dc.I2CAddr)
		if err != nil {
			return nil, err
		}
		t.SetMaxTransfer(dc.MaxTransfer)
		return t, nil
	case config.TransportSerial:
		t, err := transport.OpenSerial(dc.SerialPort, dc.SerialBaud)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.TransportSim:
		return simulator.New(simulator.Config{}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", dc.Transport)
	}
}

// DevOptions maps the configuration onto handle options.
func DevOptions(cfg *config.Config, log *logrus.Entry) tof.Options {
	th := cfg.Thresholds
	o := cfg.Offset
	return tof.Options{
		Name:   cfg.Device.Name,
		Logger: log,
		Thresholds: calstatus.Thresholds{
			MinRate:           fixpoint.Mcps(th.MinRateMcps),
			MaxRate:           fixpoint.Mcps(th.MaxRateMcps),
			MinSPADs:          th.MinSPADs,
			MinEffectiveSPADs: fixpoint.New88(th.MinEffectiveSPADs),
			MaxPreRangeRate:   fixpoint.Mcps(th.MaxPreRangeRateMcps),
		},
		PollInterval: time.Duration(cfg.Device.PollIntervalMs) * time.Millisecond,
		TestTimeout:  time.Duration(cfg.Device.TestTimeoutMs) * time.Millisecond,
		SSCTimeoutUS: cfg.Device.SSCTimeoutUS,
		MinSPADRate:  fixpoint.Mcps(cfg.Device.MinSPADRateMcps),
		Offset: tof.OffsetPresets{
			PreRangeDSS:       fixpoint.New97(o.PreRangeDSSMcps),
			MMDSS:             fixpoint.New97(o.MMDSSMcps),
			PhasecalTimeoutUS: o.PhasecalTimeoutUS,
			RangeTimeoutUS:    o.RangeTimeoutUS,
			PreRangeSamples:   o.PreRangeSamples,
			MM1Samples:        o.MM1Samples,
			MM2Samples:        o.MM2Samples,
		},
	}
}

// Runner runs calibration operations on one device and publishes a Report
// for each of them.
type Runner struct {
	dev *tof.Dev
	tr  DeviceTransport
	pub Publisher
	log *logrus.Entry
	now func() time.Time
}

// NewRunner binds a handle to tr. pub may be nil.
func NewRunner(cfg *config.Config, tr DeviceTransport, pub Publisher, log *logrus.Entry) (*Runner, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if pub == nil {
		pub = NopPublisher{}
	}
	dev, err := tof.New(tr, DevOptions(cfg, log))
	if err != nil {
		return nil, err
	}
	return &Runner{dev: dev, tr: tr, pub: pub, log: log, now: time.Now}, nil
}

// Dev returns the calibration handle.
func (r *Runner) Dev() *tof.Dev { return r.dev }

// Transport returns the device transport for raw register access.
func (r *Runner) Transport() transport.Transport { return r.tr }

// Close closes the publisher and the transport.
func (r *Runner) Close() error {
	r.pub.Close()
	return r.tr.Close()
}

// RefSPAD runs reference SPAD characterization.
func (r *Runner) RefSPAD() (Report, error) {
	rep := r.newReport(OpRefSPAD)
	status, err := r.dev.RunRefSPADChar()
	if err == nil {
		rep.Status = &status
		data, _ := r.dev.RefSPADData()
		rep.RefSPAD = newRefSPADView(data)
	}
	return r.finish(rep, err)
}

// Offset runs offset calibration against a target distanceMM away.
func (r *Runner) Offset(distanceMM int16) (Report, error) {
	rep := r.newReport(OpOffset)
	status, err := r.dev.RunOffsetCalibration(distanceMM)
	if err == nil {
		rep.Status = &status
		data, _ := r.dev.OffsetData()
		rep.Offset = newOffsetView(data)
	}
	return r.finish(rep, err)
}

// RateMap acquires a SPAD rate map.
func (r *Runner) RateMap(mode tof.TestMode, array tof.ArraySelect, sscTimeoutUS uint32) (Report, error) {
	rep := r.newReport(OpRateMap)
	m, err := r.dev.RunSPADRateMap(mode, array, sscTimeoutUS)
	if err == nil {
		rep.RateMap = newRateMapView(m)
	}
	return r.finish(rep, err)
}

// DeviceTest runs one device test mode.
func (r *Runner) DeviceTest(mode tof.TestMode) (Report, error) {
	rep := r.newReport(OpDeviceTest)
	res, err := r.dev.RunDeviceTest(mode)
	if err == nil {
		rep.DeviceTest = &DeviceTestView{
			Mode:         res.Mode.String(),
			RangeStatus:  res.RangeStatus,
			ReportStatus: res.ReportStatus,
		}
	}
	return r.finish(rep, err)
}

func (r *Runner) newReport(op string) Report {
	return Report{Operation: op, Device: r.dev.Name(), Timestamp: r.now().UTC()}
}

// finish logs and publishes the report. Publishing failures are logged and
// never turn a calibration result into an error.
func (r *Runner) finish(rep Report, err error) (Report, error) {
	entry := r.log.WithField("operation", rep.Operation)
	if err != nil {
		rep.Error = err.Error()
		entry.Errorf("operation failed: %v", err)
	} else if rep.Status != nil {
		entry.Infof("operation finished with status %s", *rep.Status)
	}

	if perr := r.pub.Publish(rep); perr != nil {
		entry.Warnf("publish failed: %v", perr)
	}
	return rep, err
}
