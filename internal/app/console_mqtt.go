// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/tofcal/internal/config"
)

// subscribeReports connects a fresh client and calls fn for every report
// published under the configured topic. fn runs on the paho callback goroutine.
func subscribeReports(mc config.MQTTConfig, suffix string, log *logrus.Entry, fn func(Report)) (mqtt.Client, error) {
	if mc.Broker == "" {
		return nil, fmt.Errorf("mqtt.broker is not configured")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(mc.Broker).
		SetClientID(mc.ClientID + "-" + suffix)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Infof("%s: connected to MQTT broker at %s", suffix, mc.Broker)

	topic := mc.Topic + "/#"
	token := client.Subscribe(topic, mc.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		var r Report
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			log.Warnf("%s: %s unmarshal error: %v", suffix, msg.Topic(), err)
			return
		}
		fn(r)
	})
	token.Wait()
	if token.Error() != nil {
		client.Disconnect(0)
		return nil, token.Error()
	}
	log.Infof("%s: subscribed to %s", suffix, topic)
	return client, nil
}

// RunConsoleMQTT subscribes to every report under the configured topic and
// prints one line per report until interrupted.
func RunConsoleMQTT(mc config.MQTTConfig, out io.Writer, log *logrus.Entry) error {
	client, err := subscribeReports(mc, "console", log, func(r Report) {
		fmt.Fprintln(out, formatReport(r))
	})
	if err != nil {
		return err
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("console: shutting down")
	client.Disconnect(250)
	return nil
}

// formatReport renders a report as a single console line.
func formatReport(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%-10s] %s %s", strings.ToUpper(r.Operation), r.Timestamp.Format("15:04:05"), r.Device)

	if r.Error != "" {
		fmt.Fprintf(&b, " ERROR %s", r.Error)
		return b.String()
	}
	if r.Status != nil {
		fmt.Fprintf(&b, " status=%s", *r.Status)
	}

	switch {
	case r.RefSPAD != nil:
		fmt.Fprintf(&b, " location=%s spads=%d enables=%s",
			r.RefSPAD.Location, r.RefSPAD.NumRefSPADs, r.RefSPAD.Enables)
	case r.Offset != nil:
		fmt.Fprintf(&b, " target=%dmm inner=%dmm outer=%dmm mm1_spads=%.2f pre_rate=%.2fMcps",
			r.Offset.TargetMM, r.Offset.InnerOffsetMM, r.Offset.OuterOffsetMM,
			r.Offset.Stage1.EffectiveSPADs, r.Offset.PreRange.PeakRateMcps)
	case r.RateMap != nil:
		fmt.Fprintf(&b, " mode=%s array=%s spads=%d total=%.3fMcps",
			r.RateMap.Mode, r.RateMap.Array, len(r.RateMap.Raw), r.RateMap.TotalMcps)
	case r.DeviceTest != nil:
		fmt.Fprintf(&b, " mode=%s range_status=0x%02X report_status=0x%02X",
			r.DeviceTest.Mode, r.DeviceTest.RangeStatus, r.DeviceTest.ReportStatus)
	}
	return b.String()
}
