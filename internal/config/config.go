// Package config loads controller configuration from YAML or TOML, applies
// environment overrides and validates the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // controllers often ship without a zoneinfo database

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Hardware   HardwareConfig   `yaml:"hardware" toml:"hardware"`
	Sensor     SensorConfig     `yaml:"sensor" toml:"sensor"`
	Controller ControllerConfig `yaml:"controller" toml:"controller"`
	MQTT       MQTTConfig       `yaml:"mqtt" toml:"mqtt"`
	HTTP       HTTPConfig       `yaml:"http" toml:"http"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb" toml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// HardwareConfig maps the pump and zone relays to GPIO lines (BCM numbering).
// The zone count is len(ZonePins).
type HardwareConfig struct {
	Chip      string `yaml:"chip" toml:"chip"`
	PumpPin   int    `yaml:"pump_pin" toml:"pump_pin"`
	ZonePins  []int  `yaml:"zone_pins" toml:"zone_pins"`
	ActiveLow bool   `yaml:"active_low" toml:"active_low"`
}

// SensorConfig configures the pump current sensor.
type SensorConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled"`
	Device      string  `yaml:"device" toml:"device"`
	Channel     int     `yaml:"channel" toml:"channel"`
	ZeroVolts   float64 `yaml:"zero_volts" toml:"zero_volts"`
	VoltsPerAmp float64 `yaml:"volts_per_amp" toml:"volts_per_amp"`
}

// ControllerConfig contains control loop settings.
type ControllerConfig struct {
	PollIntervalMs   int    `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds" toml:"heartbeat_seconds"` // 0 disables
	Timezone         string `yaml:"timezone" toml:"timezone"`
	CommandQueue     int    `yaml:"command_queue" toml:"command_queue"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	Broker     string `yaml:"broker" toml:"broker"`
	ClientID   string `yaml:"client_id" toml:"client_id"`
	Username   string `yaml:"username" toml:"username"`
	Password   string `yaml:"password" toml:"password"`
	QoS        int    `yaml:"qos" toml:"qos"`
	BufferSize int    `yaml:"buffer_size" toml:"buffer_size"`
}

// HTTPConfig contains HTTP server settings. An empty Addr disables the server.
type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// DatabaseConfig contains SQLite database settings. An empty Path keeps the
// schedule in memory only.
type DatabaseConfig struct {
	Path        string `yaml:"path" toml:"path"`
	WALMode     bool   `yaml:"wal_mode" toml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" toml:"busy_timeout"` // seconds
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "console" or "json"
}

// Environment variables that override file values.
const (
	EnvMQTTBroker   = "IRRIGATION_MQTT_BROKER"
	EnvHTTPAddr     = "IRRIGATION_HTTP_ADDR"
	EnvDatabasePath = "IRRIGATION_DATABASE_PATH"
	EnvInfluxToken  = "IRRIGATION_INFLUX_TOKEN"
	EnvLogLevel     = "IRRIGATION_LOG_LEVEL"
)

// Load reads the configuration file at path on top of the defaults. An empty
// path loads defaults only. The format is chosen by extension: .yaml, .yml or
// .toml.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("parsing config file: unknown keys %v", undecoded)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return nil
}

// Default returns a Config with the factory defaults: seven zones on an
// 8-channel relay board, MQTT on the local broker, HTTP on :80.
func Default() *Config {
	return &Config{
		Hardware: HardwareConfig{
			Chip:     "gpiochip0",
			PumpPin:  5,
			ZonePins: []int{6, 13, 16, 19, 20, 21, 26},
		},
		Sensor: SensorConfig{
			Enabled:     false,
			Device:      "/sys/bus/iio/devices/iio:device0",
			ZeroVolts:   1.632,
			VoltsPerAmp: 0.0101,
		},
		Controller: ControllerConfig{
			PollIntervalMs:   100,
			HeartbeatSeconds: 900,
			Timezone:         "Local",
			CommandQueue:     16,
		},
		MQTT: MQTTConfig{
			Enabled:    true,
			Broker:     "tcp://localhost:1883",
			ClientID:   "irrigation-controller",
			QoS:        1,
			BufferSize: 100,
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
		Database: DatabaseConfig{
			Path:        "./data/irrigation.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "irrigation",
			Bucket:        "irrigation",
			BatchSize:     50,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvInfluxToken); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Hardware.ZonePins) == 0 {
		errs = append(errs, "hardware.zone_pins must list at least one pin")
	}
	seen := map[int]bool{c.Hardware.PumpPin: true}
	for _, p := range c.Hardware.ZonePins {
		if seen[p] {
			errs = append(errs, fmt.Sprintf("hardware: pin %d used twice", p))
		}
		seen[p] = true
	}

	if c.Sensor.Enabled && c.Sensor.VoltsPerAmp == 0 {
		errs = append(errs, "sensor.volts_per_amp must be non-zero")
	}

	if c.Controller.PollIntervalMs < 10 || c.Controller.PollIntervalMs > 1000 {
		errs = append(errs, "controller.poll_interval_ms must be between 10 and 1000")
	}
	if c.Controller.HeartbeatSeconds < 0 {
		errs = append(errs, "controller.heartbeat_seconds must not be negative")
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("controller.timezone: %v", err))
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, "logging.format must be console or json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ZoneCount is the number of configured zones.
func (c *Config) ZoneCount() int {
	return len(c.Hardware.ZonePins)
}

// PollInterval returns the control loop period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Controller.PollIntervalMs) * time.Millisecond
}

// Heartbeat returns the MQTT heartbeat interval; 0 disables heartbeats.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Controller.HeartbeatSeconds) * time.Second
}

// Location returns the timezone used for schedule matching.
func (c *Config) Location() (*time.Location, error) {
	if c.Controller.Timezone == "" || c.Controller.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Controller.Timezone)
}

// FlushInterval returns the InfluxDB flush interval.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.InfluxDB.FlushInterval) * time.Second
}
