// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziprobotics/zipbridge/internal/bridge"
	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

var monitorNoHandshake bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display decoded robot traffic in human-readable form",
	Long: `Continuously decode and display robot protocol traffic as it arrives.

Each line shows a timestamp, the message class (boot marker, reply, stats,
telemetry) and the decoded content. With --no-handshake the link opens
passively without probing the firmware, useful for watching another host's
session.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorNoHandshake, "no-handshake", false, "Do not wait for the handshake before printing")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := newTransport(cfg, log)
	b := bridge.New(cfg, tr, log)
	defer b.Close()

	unsub := b.Subscribe(func(m *zipwire.Message) {
		fmt.Println(zipwire.FormatMessage(m))
	})
	defer unsub()

	fmt.Printf("zipbridge monitor\nConnection: %s\nPress Ctrl+C to exit\n\n", tr.Describe())

	if monitorNoHandshake {
		if err := tr.Open(ctx); err != nil {
			return err
		}
	} else {
		startCtx, cancel := context.WithTimeout(ctx,
			cfg.Serial.SettleDelay+cfg.Serial.HandshakeTimeout+5*time.Second)
		err := b.Start(startCtx)
		cancel()
		if err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}
