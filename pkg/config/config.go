// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the emulator configuration from YAML.
//
// The loading order is:
//  1. Default values (Default)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/rff60emu/pkg/bus"
	"github.com/Thermoquad/rff60emu/pkg/emulator"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

// Environment variable overrides
const (
	EnvPort          = "RFF60_PORT"
	EnvMQTTPassword  = "RFF60_MQTT_PASSWORD"
	EnvInfluxDBToken = "RFF60_INFLUXDB_TOKEN"
	EnvWSPassword    = "RFF60_WS_PASSWORD"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "100ms".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// HexByte is a bus address written as 0x21, 33 or 0o41 in YAML
type HexByte byte

// UnmarshalYAML accepts any integer literal between 0 and 255.
func (h *HexByte) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", value.Line)
	}
	v, err := strconv.ParseUint(value.Value, 0, 8)
	if err != nil {
		return fmt.Errorf("line %d: address %q: %w", value.Line, value.Value, err)
	}
	*h = HexByte(v)
	return nil
}

// MarshalYAML renders the address in hex.
func (h HexByte) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

func (h HexByte) String() string {
	return fmt.Sprintf("0x%02x", byte(h))
}

// Config is the root configuration structure
type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Devices  []DeviceConfig `yaml:"devices"`
	Control  ControlConfig  `yaml:"control"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	Capture  CaptureConfig  `yaml:"capture"`
}

// BusConfig selects and tunes the transport. A WebSocket URL wins over a
// serial port.
type BusConfig struct {
	Port      string          `yaml:"port"`
	BaudRate  int             `yaml:"baud_rate"`
	TxEnable  string          `yaml:"tx_enable"`
	Pacing    Duration        `yaml:"pacing"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig points at a remote UART bridge
type WebSocketConfig struct {
	URL           string `yaml:"url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SkipSSLVerify bool   `yaml:"skip_ssl_verify"`
}

// DeviceConfig describes one emulated thermostat and its initial settings
type DeviceConfig struct {
	Name             string  `yaml:"name"`
	Address          HexByte `yaml:"address"`
	PollAddress      HexByte `yaml:"poll_address"`
	RegulatorAddress HexByte `yaml:"regulator_address"`
	Selector         string  `yaml:"selector"`
	TempOffset       float64 `yaml:"temp_offset"`
	TempMeasurement  float64 `yaml:"temp_measurement"`
	UseRoomTemp      bool    `yaml:"use_room_temp"`
}

// ControlConfig holds the bus-wide settings applied at startup
type ControlConfig struct {
	RemoteControl  bool   `yaml:"remote_control"`
	VerboseLogging string `yaml:"verbose_logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// MetricsConfig enables the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format"`
	Loki   LokiConfig `yaml:"loki"`
}

// CaptureConfig writes all bus traffic to a file
type CaptureConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration of a typical two-circuit installation:
// a mixer circuit unit at 0x21 and a main circuit unit at 0x23.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 9600,
			TxEnable: bus.TxEnableRTS.String(),
			Pacing:   Duration{bus.DefaultPacing},
		},
		Devices: []DeviceConfig{
			{
				Name:             "mixer",
				Address:          0x21,
				PollAddress:      0x21,
				RegulatorAddress: rff60.RegulatorAddress,
				Selector:         rff60.SelectorTimer.String(),
				TempOffset:       0,
				TempMeasurement:  20,
				UseRoomTemp:      false,
			},
			{
				Name:             "main",
				Address:          0x23,
				PollAddress:      0xa3,
				RegulatorAddress: rff60.RegulatorAddress,
				Selector:         rff60.SelectorTimer.String(),
				TempOffset:       0,
				TempMeasurement:  20,
				UseRoomTemp:      false,
			},
		},
		Control: ControlConfig{
			RemoteControl:  false,
			VerboseLogging: emulator.VerboseOff.String(),
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "rff60emu",
			TopicPrefix: "rff60",
			QoS:         1,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "heating",
			BatchSize:     100,
			FlushInterval: Duration{10 * time.Second},
		},
		Metrics: MetricsConfig{
			Listen: ":9160",
			Path:   "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file and applies environment variable
// overrides. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. A devices list in the document replaces the
// default devices.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	for i := range cfg.Devices {
		if cfg.Devices[i].RegulatorAddress == 0 {
			cfg.Devices[i].RegulatorAddress = rff60.RegulatorAddress
		}
		if cfg.Devices[i].Selector == "" {
			cfg.Devices[i].Selector = rff60.SelectorTimer.String()
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvPort); v != "" {
		c.Bus.Port = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv(EnvInfluxDBToken); v != "" {
		c.InfluxDB.Token = v
	}
	if v := os.Getenv(EnvWSPassword); v != "" {
		c.Bus.WebSocket.Password = v
	}
}

// Validate checks the configuration for errors. All problems are reported
// in one error.
func (c *Config) Validate() error {
	var errs []string

	if c.Bus.WebSocket.URL == "" && c.Bus.Port == "" {
		errs = append(errs, "bus.port or bus.websocket.url is required")
	}
	if c.Bus.BaudRate <= 0 {
		errs = append(errs, "bus.baud_rate must be positive")
	}
	if _, err := bus.ParseTxEnable(c.Bus.TxEnable); err != nil {
		errs = append(errs, "bus.tx_enable: "+err.Error())
	}
	if c.Bus.Pacing.Duration < 0 {
		errs = append(errs, "bus.pacing must not be negative")
	}

	if len(c.Devices) == 0 {
		errs = append(errs, "at least one device is required")
	}
	names := make(map[string]bool)
	polls := make(map[HexByte]bool)
	for i, d := range c.Devices {
		field := fmt.Sprintf("devices[%d]", i)
		if d.Name == "" {
			errs = append(errs, field+".name is required")
		} else if names[d.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is used twice", field, d.Name))
		}
		names[d.Name] = true

		if polls[d.PollAddress] {
			errs = append(errs, fmt.Sprintf("%s.poll_address %s is used twice", field, d.PollAddress))
		}
		polls[d.PollAddress] = true

		if !rff60.IsPollAddress(byte(d.PollAddress)) {
			errs = append(errs, fmt.Sprintf("%s.poll_address %s must carry even parity in bit 7 (use %s)",
				field, d.PollAddress, HexByte(rff60.PollAddress(byte(d.PollAddress)))))
		}
		if !rff60.IsPollAddress(byte(d.RegulatorAddress)) {
			errs = append(errs, fmt.Sprintf("%s.regulator_address %s must carry even parity in bit 7 (use %s)",
				field, d.RegulatorAddress, HexByte(rff60.PollAddress(byte(d.RegulatorAddress)))))
		}
		if _, ok := rff60.SetpointOffset(byte(d.Address)); !ok {
			errs = append(errs, fmt.Sprintf("%s.address %s is not a thermostat slot", field, d.Address))
		}
		if _, err := rff60.ParseSelector(d.Selector); err != nil {
			errs = append(errs, field+".selector: "+err.Error())
		}
	}

	if _, err := emulator.ParseVerboseLogging(c.Control.VerboseLogging); err != nil {
		errs = append(errs, "control.verbose_logging: "+err.Error())
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	if c.Logging.Loki.Enabled && c.Logging.Loki.URL == "" {
		errs = append(errs, "logging.loki.url is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Settings returns the initial settings of device d
func (c *Config) Settings(d DeviceConfig) (emulator.ThermoSettings, error) {
	sel, err := rff60.ParseSelector(d.Selector)
	if err != nil {
		return emulator.ThermoSettings{}, err
	}
	verbose, err := emulator.ParseVerboseLogging(c.Control.VerboseLogging)
	if err != nil {
		return emulator.ThermoSettings{}, err
	}
	return emulator.ThermoSettings{
		Selector:           sel,
		TempOffset:         d.TempOffset,
		TempMeasurement:    d.TempMeasurement,
		IgnoreMeasuredTemp: !d.UseRoomTemp,
		VerboseLogging:     verbose,
		RemoteControl:      c.Control.RemoteControl,
	}, nil
}
