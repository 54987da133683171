// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Transport kinds accepted in device.transport.
const (
	TransportI2C    = "i2c"
	TransportSerial = "serial"
	TransportSim    = "sim"
)

// Config holds all application configuration values.
type Config struct {
	Device     DeviceConfig    `yaml:"device"`
	Thresholds ThresholdConfig `yaml:"thresholds"`
	Offset     OffsetConfig    `yaml:"offset"`
	RateMap    RateMapConfig   `yaml:"rate_map"`
	MQTT       MQTTConfig      `yaml:"mqtt"`
	Server     ServerConfig    `yaml:"server"`
	Display    DisplayConfig   `yaml:"display"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // i2c, serial or sim

	I2CBus      string `yaml:"i2c_bus"` // empty picks the first bus
	I2CAddr     uint16 `yaml:"i2c_addr"`
	MaxTransfer int    `yaml:"max_transfer"`

	SerialPort string `yaml:"serial_port"`
	SerialBaud uint   `yaml:"serial_baud"`

	PollIntervalMs int `yaml:"poll_interval_ms"`
	TestTimeoutMs  int `yaml:"test_timeout_ms"`

	// Reference SPAD characterization.
	SSCTimeoutUS    uint32  `yaml:"ssc_timeout_us"`
	MinSPADRateMcps float64 `yaml:"min_spad_rate_mcps"`
}

// ---- THRESHOLDS ----

type ThresholdConfig struct {
	MinRateMcps         float64 `yaml:"min_rate_mcps"`
	MaxRateMcps         float64 `yaml:"max_rate_mcps"`
	MinSPADs            int     `yaml:"min_spads"`
	MinEffectiveSPADs   float64 `yaml:"min_effective_spads"`
	MaxPreRangeRateMcps float64 `yaml:"max_pre_range_rate_mcps"`
}

// ---- OFFSET ----

type OffsetConfig struct {
	DistanceMM        int16   `yaml:"distance_mm"` // default target distance
	PreRangeDSSMcps   float64 `yaml:"pre_range_dss_mcps"`
	MMDSSMcps         float64 `yaml:"mm_dss_mcps"`
	PhasecalTimeoutUS uint16  `yaml:"phasecal_timeout_us"`
	RangeTimeoutUS    uint32  `yaml:"range_timeout_us"`
	PreRangeSamples   int     `yaml:"pre_range_samples"`
	MM1Samples        int     `yaml:"mm1_samples"`
	MM2Samples        int     `yaml:"mm2_samples"`
}

// ---- RATE MAP ----

type RateMapConfig struct {
	Mode         string `yaml:"mode"`
	Array        string `yaml:"array"`
	SSCTimeoutUS uint32 `yaml:"ssc_timeout_us"`
}

// ---- MQTT ----

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables publishing
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

// ---- SERVER ----

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// ---- DISPLAY ----

// DisplayConfig drives the optional SSD1306 OLED that shows the latest report.
// The panel sits at its fixed address 0x3C.
type DisplayConfig struct {
	I2CBus           string `yaml:"i2c_bus"` // empty picks the first bus
	UpdateIntervalMs int    `yaml:"update_interval_ms"`
}

// Package-level unexported variables for the singleton:
//   - globalConfig is only reachable through Get.
//   - configOnce makes InitGlobal run once.
//   - configMu guards globalConfig; Get takes the read lock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used for every key the file leaves out.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:           "tof0",
			Transport:      TransportSim,
			I2CAddr:        0x29,
			MaxTransfer:    256,
			SerialBaud:     115200,
			PollIntervalMs: 1,
			TestTimeoutMs:  500,
			SSCTimeoutUS:   10000,
		},
		Thresholds: ThresholdConfig{
			MinRateMcps:         10.0,
			MaxRateMcps:         40.0,
			MinSPADs:            5,
			MinEffectiveSPADs:   5.0,
			MaxPreRangeRateMcps: 40.0,
		},
		Offset: OffsetConfig{
			DistanceMM:        140,
			PreRangeDSSMcps:   40.0,
			MMDSSMcps:         20.0,
			PhasecalTimeoutUS: 1000,
			RangeTimeoutUS:    13000,
			PreRangeSamples:   32,
			MM1Samples:        100,
			MM2Samples:        64,
		},
		RateMap: RateMapConfig{
			Mode:         "lcr-vcsel-on",
			Array:        "return",
			SSCTimeoutUS: 10000,
		},
		MQTT: MQTTConfig{
			ClientID: "tofcal",
			Topic:    "tofcal",
			QoS:      1,
			Retained: true,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
		Display: DisplayConfig{
			UpdateIntervalMs: 500,
		},
	}
}

// Load reads a YAML configuration file on top of Default. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config %s: %w", configPath, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", configPath, err)
	}
	return cfg, nil
}

// validate checks ranges and cross-field constraints.
func (c *Config) validate() error {
	switch c.Device.Transport {
	case TransportI2C:
		if c.Device.I2CAddr == 0 || c.Device.I2CAddr > 0x7F {
			return fmt.Errorf("device.i2c_addr 0x%X is not a 7-bit address", c.Device.I2CAddr)
		}
	case TransportSerial:
		if c.Device.SerialPort == "" {
			return fmt.Errorf("device.serial_port is required for the serial transport")
		}
	case TransportSim:
	default:
		return fmt.Errorf("device.transport %q must be one of %s, %s, %s",
			c.Device.Transport, TransportI2C, TransportSerial, TransportSim)
	}
	if c.Device.PollIntervalMs <= 0 {
		return fmt.Errorf("device.poll_interval_ms must be positive")
	}
	if c.Device.TestTimeoutMs < c.Device.PollIntervalMs {
		return fmt.Errorf("device.test_timeout_ms must be at least device.poll_interval_ms")
	}
	if c.Device.SSCTimeoutUS == 0 {
		return fmt.Errorf("device.ssc_timeout_us is required")
	}
	if c.Device.MinSPADRateMcps < 0 {
		return fmt.Errorf("device.min_spad_rate_mcps must not be negative")
	}

	t := c.Thresholds
	if t.MinRateMcps <= 0 || t.MaxRateMcps <= t.MinRateMcps {
		return fmt.Errorf("thresholds.min_rate_mcps (%.2f) and thresholds.max_rate_mcps (%.2f) must form a positive band",
			t.MinRateMcps, t.MaxRateMcps)
	}
	if t.MinSPADs < 1 || t.MinSPADs > 48 {
		return fmt.Errorf("thresholds.min_spads %d out of range 1-48", t.MinSPADs)
	}
	if t.MinEffectiveSPADs <= 0 {
		return fmt.Errorf("thresholds.min_effective_spads must be positive")
	}
	if t.MaxPreRangeRateMcps <= 0 {
		return fmt.Errorf("thresholds.max_pre_range_rate_mcps must be positive")
	}

	o := c.Offset
	if o.DistanceMM <= 0 {
		return fmt.Errorf("offset.distance_mm must be positive")
	}
	if o.PreRangeDSSMcps <= 0 || o.MMDSSMcps <= 0 {
		return fmt.Errorf("offset.pre_range_dss_mcps and offset.mm_dss_mcps must be positive")
	}
	if o.PreRangeSamples < 1 || o.MM1Samples < 1 || o.MM2Samples < 1 {
		return fmt.Errorf("offset sample counts must be at least 1")
	}
	if o.RangeTimeoutUS == 0 || o.PhasecalTimeoutUS == 0 {
		return fmt.Errorf("offset.range_timeout_us and offset.phasecal_timeout_us are required")
	}

	if c.RateMap.SSCTimeoutUS == 0 {
		return fmt.Errorf("rate_map.ssc_timeout_us is required")
	}
	if c.Display.UpdateIntervalMs <= 0 {
		return fmt.Errorf("display.update_interval_ms must be positive")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d out of range 0-2", c.MQTT.QoS)
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.topic is required when mqtt.broker is set")
	}
	return nil
}

// InitGlobal initializes the global configuration from file. Only the first
// call has an effect. An empty path installs the defaults.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		if configPath == "" {
			globalConfig = Default()
			return
		}
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
