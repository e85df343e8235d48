// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

// Package config loads and validates bridge configuration. An optional YAML
// file provides the base layer; ZIP_-prefixed environment variables override
// it. Out-of-bounds values are replaced by their defaults with a logged
// warning rather than failing startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the complete bridge configuration.
type Config struct {
	Serial SerialConfig `yaml:"serial"`
	Server ServerConfig `yaml:"server"`
	Safety SafetyConfig `yaml:"safety"`
	Log    LogConfig    `yaml:"log"`
}

// SerialConfig covers the physical link and handshake timing.
type SerialConfig struct {
	Port             string        `yaml:"port"`
	Baud             int           `yaml:"baud"`
	Loopback         bool          `yaml:"loopback"`
	LegacyFraming    bool          `yaml:"legacy_framing"` // binary framed variant instead of line/JSON
	SettleDelay      time.Duration `yaml:"settle_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	DiagTimeout      time.Duration `yaml:"diag_timeout"`
}

// ServerConfig covers the WebSocket and HTTP listeners.
type ServerConfig struct {
	WSAddr   string `yaml:"ws_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// SafetyConfig covers motion safety bounds enforced host-side.
type SafetyConfig struct {
	StreamRateMax int           `yaml:"stream_rate_max"` // Hz ceiling for setpoint streaming
	TTLMin        time.Duration `yaml:"ttl_min"`         // deadman window lower bound
	TTLMax        time.Duration `yaml:"ttl_max"`         // deadman window upper bound
	CommandRate   int           `yaml:"command_rate"`    // non-stop writes per second
}

// LogConfig covers logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"` // empty = stderr
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:             "/dev/ttyUSB0",
			Baud:             115200,
			SettleDelay:      1000 * time.Millisecond,
			HandshakeTimeout: 3000 * time.Millisecond,
			CommandTimeout:   1000 * time.Millisecond,
			DiagTimeout:      2000 * time.Millisecond,
		},
		Server: ServerConfig{
			WSAddr:   ":8081",
			HTTPAddr: ":8080",
		},
		Safety: SafetyConfig{
			StreamRateMax: 20,
			TTLMin:        150 * time.Millisecond,
			TTLMax:        300 * time.Millisecond,
			CommandRate:   25,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file at
// path (or $ZIP_CONFIG), then environment overrides, then bounds validation.
func Load(path string, log *logrus.Logger) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("ZIP_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv(log)
	cfg.validate(log)
	return cfg, nil
}

// applyEnv overlays ZIP_-prefixed environment variables.
func (c *Config) applyEnv(log *logrus.Logger) {
	envString("ZIP_SERIAL_PORT", &c.Serial.Port)
	envInt("ZIP_BAUD", &c.Serial.Baud, log)
	envBool("ZIP_LOOPBACK", &c.Serial.Loopback, log)
	envBool("ZIP_LEGACY_FRAMING", &c.Serial.LegacyFraming, log)
	envMillis("ZIP_SETTLE_DELAY_MS", &c.Serial.SettleDelay, log)
	envMillis("ZIP_HANDSHAKE_TIMEOUT_MS", &c.Serial.HandshakeTimeout, log)
	envMillis("ZIP_CMD_TIMEOUT_MS", &c.Serial.CommandTimeout, log)
	envMillis("ZIP_DIAG_TIMEOUT_MS", &c.Serial.DiagTimeout, log)

	envString("ZIP_WS_ADDR", &c.Server.WSAddr)
	envString("ZIP_HTTP_ADDR", &c.Server.HTTPAddr)

	envInt("ZIP_STREAM_RATE_MAX", &c.Safety.StreamRateMax, log)
	envMillis("ZIP_TTL_MIN", &c.Safety.TTLMin, log)
	envMillis("ZIP_TTL_MAX", &c.Safety.TTLMax, log)
	envInt("ZIP_CMD_RATE", &c.Safety.CommandRate, log)

	envString("ZIP_LOG_LEVEL", &c.Log.Level)
	envString("ZIP_LOG_PATH", &c.Log.Path)
}

// bound describes the valid range for one numeric setting.
type bound struct {
	name string
	min  int64
	max  int64
}

// validate clamps nothing: out-of-bounds values fall back to the default
// with a warning, so misconfiguration is visible instead of silently
// reshaped.
func (c *Config) validate(log *logrus.Logger) {
	def := Default()

	checkInt := func(b bound, v *int, fallback int) {
		if int64(*v) < b.min || int64(*v) > b.max {
			log.WithFields(logrus.Fields{"setting": b.name, "value": *v, "min": b.min, "max": b.max}).
				Warnf("out of bounds, using default %d", fallback)
			*v = fallback
		}
	}
	checkDur := func(b bound, v *time.Duration, fallback time.Duration) {
		ms := v.Milliseconds()
		if ms < b.min || ms > b.max {
			log.WithFields(logrus.Fields{"setting": b.name, "value_ms": ms, "min": b.min, "max": b.max}).
				Warnf("out of bounds, using default %v", fallback)
			*v = fallback
		}
	}

	checkInt(bound{"baud", 9600, 1000000}, &c.Serial.Baud, def.Serial.Baud)
	checkDur(bound{"settle_delay", 0, 10000}, &c.Serial.SettleDelay, def.Serial.SettleDelay)
	checkDur(bound{"handshake_timeout", 100, 30000}, &c.Serial.HandshakeTimeout, def.Serial.HandshakeTimeout)
	checkDur(bound{"command_timeout", 50, 10000}, &c.Serial.CommandTimeout, def.Serial.CommandTimeout)
	checkDur(bound{"diag_timeout", 100, 30000}, &c.Serial.DiagTimeout, def.Serial.DiagTimeout)
	checkInt(bound{"stream_rate_max", 1, 50}, &c.Safety.StreamRateMax, def.Safety.StreamRateMax)
	checkDur(bound{"ttl_min", 50, 1000}, &c.Safety.TTLMin, def.Safety.TTLMin)
	checkDur(bound{"ttl_max", 50, 2000}, &c.Safety.TTLMax, def.Safety.TTLMax)
	checkInt(bound{"command_rate", 1, 100}, &c.Safety.CommandRate, def.Safety.CommandRate)

	if c.Safety.TTLMin > c.Safety.TTLMax {
		log.WithFields(logrus.Fields{"ttl_min": c.Safety.TTLMin, "ttl_max": c.Safety.TTLMax}).
			Warn("ttl_min exceeds ttl_max, using defaults")
		c.Safety.TTLMin = def.Safety.TTLMin
		c.Safety.TTLMax = def.Safety.TTLMax
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		log.WithField("level", c.Log.Level).Warn("unknown log level, using info")
		c.Log.Level = "info"
	}
}

// SetupLogger builds the process logger from the log section.
func (c *Config) SetupLogger() *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if c.Log.Path != "" {
		file, err := os.OpenFile(c.Log.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.WithError(err).Warn("cannot open log file, logging to stderr")
		} else {
			log.SetOutput(file)
		}
	}
	return log
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int, log *logrus.Logger) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithField(key, v).Warn("not an integer, ignoring")
		return
	}
	*dst = n
}

func envBool(key string, dst *bool, log *logrus.Logger) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		log.WithField(key, v).Warn("not a boolean, ignoring")
	}
}

func envMillis(key string, dst *time.Duration, log *logrus.Logger) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithField(key, v).Warn("not an integer millisecond value, ignoring")
		return
	}
	*dst = time.Duration(n) * time.Millisecond
}
