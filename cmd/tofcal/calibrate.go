// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/tofcal/internal/app"
	"github.com/relabs-tech/tofcal/internal/tof"
)

// runOnce opens a runner, runs op and prints its report as JSON. The report
// is printed on failure too, with the error field set.
func runOnce(op func(r *app.Runner) (app.Report, error)) error {
	r, err := openRunner(loadConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			logrus.Warnf("close: %v", err)
		}
	}()

	rep, err := op(r)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(rep); encErr != nil {
		logrus.Errorf("failed to print report: %v", encErr)
	}
	return reportError(rep, err)
}

// warningError marks a calibration that completed with a warning status.
type warningError struct {
	op     string
	status string
}

func (e *warningError) Error() string {
	return fmt.Sprintf("%s finished with status %s", e.op, e.status)
}

// reportError turns a completed report with a warning status into a
// warningError so the exit status tells it apart from a pass.
func reportError(rep app.Report, err error) error {
	if err != nil || rep.OK() {
		return err
	}
	return &warningError{op: rep.Operation, status: rep.Status.String()}
}

// NewRefSPADCommand .
func NewRefSPADCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refspad",
		Short: "Characterize the reference SPAD array",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runOnce((*app.Runner).RefSPAD)
		},
	}
}

// NewOffsetCommand .
func NewOffsetCommand() *cobra.Command {
	var distance int16

	cmd := &cobra.Command{
		Use:   "offset",
		Short: "Calibrate the range offset against a grey target",
		Long: `Calibrate the range offset against a grey (about 5% reflectance) target
placed at a known distance in front of the sensor.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if distance == 0 {
				distance = loadConfig().Offset.DistanceMM
			}
			return runOnce(func(r *app.Runner) (app.Report, error) {
				return r.Offset(distance)
			})
		},
	}

	cmd.Flags().Int16VarP(&distance, "distance", "d", 0, "target distance in mm, offset.distance_mm when 0")
	return cmd
}

// NewDeviceTestCommand .
func NewDeviceTestCommand() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "devicetest",
		Short: "Run one device test mode and print its status pair",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := tof.ParseTestMode(mode)
			if err != nil {
				return err
			}
			return runOnce(func(r *app.Runner) (app.Report, error) {
				return r.DeviceTest(m)
			})
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "dcr", "test mode (dcr, lcr-vcsel-off, lcr-vcsel-on, refspad-char, refspad-char-pre-vhv)")
	return cmd
}

// NewRateMapCommand .
func NewRateMapCommand() *cobra.Command {
	var (
		mode      string
		array     string
		timeoutUS uint32
	)

	cmd := &cobra.Command{
		Use:   "ratemap",
		Short: "Acquire a per-SPAD rate map of one array",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			rc := loadConfig().RateMap
			if mode == "" {
				mode = rc.Mode
			}
			if array == "" {
				array = rc.Array
			}
			if timeoutUS == 0 {
				timeoutUS = rc.SSCTimeoutUS
			}

			m, err := tof.ParseTestMode(mode)
			if err != nil {
				return err
			}
			a, err := tof.ParseArraySelect(array)
			if err != nil {
				return err
			}
			return runOnce(func(r *app.Runner) (app.Report, error) {
				return r.RateMap(m, a, timeoutUS)
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&mode, "mode", "m", "", "lcr-vcsel-on or lcr-vcsel-off, rate_map.mode when empty")
	f.StringVarP(&array, "array", "a", "", "return or reference, rate_map.array when empty")
	f.Uint32Var(&timeoutUS, "timeout-us", 0, "SPAD self-check timeout in us, rate_map.ssc_timeout_us when 0")
	return cmd
}
