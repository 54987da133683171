// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/tofcal/internal/app"
)

// NewServeCommand .
func NewServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve calibration sessions over HTTP and websockets",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := loadConfig()
			if listen != "" {
				cfg.Server.Listen = listen
			}

			r, err := openRunner(cfg)
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logrus.WithFields(logrus.Fields{
				"device":    cfg.Device.Name,
				"transport": cfg.Device.Transport,
			}).Info("tofcal server starting")
			return app.NewServer(r, cfg, logrus.WithField("component", "http")).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address, server.listen when empty")
	return cmd
}

// NewWatchCommand .
func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print calibration reports published to MQTT",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.RunConsoleMQTT(loadConfig().MQTT, os.Stdout, logrus.WithField("component", "console"))
		},
	}
}

// NewDisplayCommand .
func NewDisplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "display",
		Short: "Show the latest calibration report on an SSD1306 OLED",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunDisplay(ctx, loadConfig(), logrus.WithField("component", "display"))
		},
	}
}
