package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tofcal.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `
device:
  name: bench
  transport: serial
  serial_port: /dev/ttyUSB0
thresholds:
  min_spads: 6
mqtt:
  broker: tcp://localhost:1883
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Device.Name != "bench" || cfg.Device.SerialPort != "/dev/ttyUSB0" {
		t.Fatalf("device section %+v", cfg.Device)
	}
	if cfg.Device.SerialBaud != 115200 || cfg.Device.PollIntervalMs != 1 {
		t.Fatalf("defaults not applied: %+v", cfg.Device)
	}
	if cfg.Thresholds.MinSPADs != 6 || cfg.Thresholds.MaxRateMcps != 40 {
		t.Fatalf("thresholds %+v", cfg.Thresholds)
	}
	if cfg.MQTT.Topic != "tofcal" {
		t.Fatalf("mqtt topic %q", cfg.MQTT.Topic)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Device.Transport != TransportSim || cfg.Offset.DistanceMM != 140 {
		t.Fatalf("got %+v", cfg)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		key  string
	}{
		{"unknown key", "device:\n  colour: red\n", "colour"},
		{"bad transport", "device:\n  transport: spi\n", "device.transport"},
		{"serial without port", "device:\n  transport: serial\n", "device.serial_port"},
		{"inverted band", "thresholds:\n  min_rate_mcps: 50\n", "thresholds.min_rate_mcps"},
		{"no samples", "offset:\n  mm1_samples: 0\n", "sample counts"},
		{"negative distance", "offset:\n  distance_mm: -5\n", "offset.distance_mm"},
		{"wide i2c address", "device:\n  transport: i2c\n  i2c_addr: 0x129\n", "device.i2c_addr"},
		{"qos", "mqtt:\n  qos: 3\n", "mqtt.qos"},
		{"display interval", "display:\n  update_interval_ms: 0\n", "display.update_interval_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Fatalf("error %q does not name %q", err, tt.key)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
