// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/tofcal/internal/config"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13 // basicfont.Face7x13
	lineChars     = displayWidth / 7
	displayLines  = displayHeight / lineHeight
)

// Screen is the part of a display the renderer needs. *ssd1306.Dev satisfies it.
type Screen interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// DisplayData holds the latest report for the display.
type DisplayData struct {
	mu     sync.RWMutex
	report Report
	have   bool
}

func (d *DisplayData) Update(r Report) {
	d.mu.Lock()
	d.report = r
	d.have = true
	d.mu.Unlock()
}

func (d *DisplayData) Snapshot() (Report, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.report, d.have
}

// RunDisplay shows every report published to MQTT on an SSD1306 OLED until
// ctx is done.
func RunDisplay(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.Display.I2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Infof("display: initialized on %s", bus)

	if err := drawLines(dev, []string{"", "  tofcal", "  waiting..."}); err != nil {
		log.Warnf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}
	client, err := subscribeReports(cfg.MQTT, "display", log, data.Update)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	ticker := time.NewTicker(time.Duration(cfg.Display.UpdateIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	log.Info("display: starting update loop")

	var shown time.Time
	for {
		select {
		case <-ctx.Done():
			log.Info("display: shutting down")
			return nil
		case <-ticker.C:
		}

		r, ok := data.Snapshot()
		if !ok || r.Timestamp.Equal(shown) {
			continue
		}
		if err := drawLines(dev, reportLines(r)); err != nil {
			log.Warnf("display: error updating display: %v", err)
			continue
		}
		shown = r.Timestamp
	}
}

// reportLines lays a report out as at most displayLines lines of lineChars.
func reportLines(r Report) []string {
	head := strings.ToUpper(r.Operation)
	switch {
	case r.Error != "":
		head += " ERROR"
	case r.Status != nil:
		head += " " + strings.ToUpper(r.Status.String())
	}

	lines := []string{head}
	switch {
	case r.Error != "":
		lines = append(lines, r.Error)
	case r.RefSPAD != nil:
		lines = append(lines,
			fmt.Sprintf("loc %s spads %d", r.RefSPAD.Location, r.RefSPAD.NumRefSPADs),
			"en "+r.RefSPAD.Enables)
	case r.Offset != nil:
		lines = append(lines,
			fmt.Sprintf("target %dmm", r.Offset.TargetMM),
			fmt.Sprintf("in %d out %d mm", r.Offset.InnerOffsetMM, r.Offset.OuterOffsetMM))
	case r.RateMap != nil:
		lines = append(lines,
			fmt.Sprintf("%s %s", r.RateMap.Mode, r.RateMap.Array),
			fmt.Sprintf("tot %.3f Mcps", r.RateMap.TotalMcps))
	case r.DeviceTest != nil:
		lines = append(lines,
			r.DeviceTest.Mode,
			fmt.Sprintf("st 0x%02X rep 0x%02X", r.DeviceTest.RangeStatus, r.DeviceTest.ReportStatus))
	}
	for len(lines) < displayLines-1 {
		lines = append(lines, "")
	}
	lines = append(lines[:displayLines-1], r.Timestamp.Local().Format("15:04:05"))

	for i, l := range lines {
		if len(l) > lineChars {
			lines[i] = l[:lineChars]
		}
	}
	return lines
}

// renderLines draws lines top to bottom on a blank frame.
func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, l := range lines {
		drawer.Dot = fixed.P(0, (i+1)*lineHeight)
		drawer.DrawString(l)
	}
	return img
}

func drawLines(s Screen, lines []string) error {
	return s.Draw(s.Bounds(), renderLines(lines), image.Point{})
}
