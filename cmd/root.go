// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ziprobotics/zipbridge/internal/config"
	"github.com/ziprobotics/zipbridge/internal/transport"
)

var (
	configPath string

	// Connection flag overrides; empty/zero means "use config".
	flagPort     string
	flagBaud     int
	flagLoopback bool
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "zipbridge",
	Short: "ZIP robot serial bridge",
	Long: `zipbridge connects a ZIP robot controller over its serial line protocol
and exposes it to the network: a WebSocket control surface for driving and
an HTTP surface for health, diagnostics and emergency stop.

Configuration layers: built-in defaults, then an optional YAML file
(--config or $ZIP_CONFIG), then ZIP_-prefixed environment variables, then
command-line flags. Run with --loopback to exercise the full stack against
the built-in virtual firmware, no hardware required.`,
	Version: "1.0.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&flagPort, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&flagBaud, "baud", "b", 0, "Baud rate")
	rootCmd.PersistentFlags().BoolVar(&flagLoopback, "loopback", false, "Use the virtual firmware instead of a serial port")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

// loadConfig builds the effective configuration and process logger, with
// command-line flags as the final override layer.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	boot := logrus.New()
	cfg, err := config.Load(configPath, boot)
	if err != nil {
		return nil, nil, err
	}
	if flagPort != "" {
		cfg.Serial.Port = flagPort
	}
	if flagBaud != 0 {
		cfg.Serial.Baud = flagBaud
	}
	if flagLoopback {
		cfg.Serial.Loopback = true
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	return cfg, cfg.SetupLogger(), nil
}

// newTransport builds the configured transport: the loopback emulator or a
// real serial link.
func newTransport(cfg *config.Config, log *logrus.Logger) transport.Transport {
	tcfg := transport.Config{
		Port:           cfg.Serial.Port,
		Baud:           cfg.Serial.Baud,
		LegacyFraming:  cfg.Serial.LegacyFraming,
		SettleDelay:    cfg.Serial.SettleDelay,
		BootTimeout:    cfg.Serial.HandshakeTimeout,
		CommandTimeout: cfg.Serial.CommandTimeout,
		CommandRate:    cfg.Safety.CommandRate,
		SendBootStop:   true,
	}
	if cfg.Serial.Loopback {
		return transport.NewLoopback(tcfg, log)
	}
	return transport.NewSerial(tcfg, log)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
