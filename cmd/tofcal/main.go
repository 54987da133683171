// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/tofcal/internal/app"
	"github.com/relabs-tech/tofcal/internal/config"
)

var (
	logLevel   = "info"
	configPath = ""
	forceSim   = false
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.StampMilli,
	})
	return nil
}

// loadConfig returns a copy of the global configuration with the command
// line overrides applied.
func loadConfig() *config.Config {
	cfg := *config.Get()
	if forceSim {
		cfg.Device.Transport = config.TransportSim
	}
	return &cfg
}

// openRunner opens the configured transport and publisher.
func openRunner(cfg *config.Config) (*app.Runner, error) {
	log := logrus.WithField("component", "runner")

	tr, err := app.OpenTransport(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open %s transport: %w", cfg.Device.Transport, err)
	}
	pub, err := app.NewPublisher(cfg.MQTT, logrus.WithField("component", "mqtt"))
	if err != nil {
		tr.Close()
		return nil, err
	}
	r, err := app.NewRunner(cfg, tr, pub, log)
	if err != nil {
		pub.Close()
		tr.Close()
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"device":    cfg.Device.Name,
		"transport": tr,
		"mqtt":      cfg.MQTT.Broker,
	}).Debug("runner ready")
	return r, nil
}

// Exit statuses: 0 pass, 1 error, 2 completed with a warning status.
func exitCode(err error) int {
	var w *warningError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &w):
		return 2
	default:
		return 1
	}
}

func main() {
	os.Exit(exitCode(NewCommand().Execute()))
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tofcal",
		Short: "tofcal calibrates VL53L1 time-of-flight sensors",
		Long: `tofcal runs the reference SPAD, offset and SPAD self-check calibrations of
a VL53L1 class time-of-flight sensor over I2C, a serial bridge or the built-in
simulator, and publishes every report to MQTT.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := setupLogger(); err != nil {
				return err
			}
			if err := config.InitGlobal(configPath); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", logLevel, "log level (trace, debug, info, warn, error)")
	globalFlags.StringVarP(&configPath, "config", "c", configPath, "YAML config file, built-in defaults when empty")
	globalFlags.BoolVar(&forceSim, "sim", forceSim, "use the simulator regardless of device.transport")

	cmd.AddCommand(
		NewRefSPADCommand(),
		NewOffsetCommand(),
		NewDeviceTestCommand(),
		NewRateMapCommand(),
		NewServeCommand(),
		NewWatchCommand(),
		NewDisplayCommand(),
	)

	return cmd
}
