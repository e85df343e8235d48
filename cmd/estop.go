// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var (
	estopAddr   string
	estopReason string
)

var estopCmd = &cobra.Command{
	Use:   "estop",
	Short: "Emergency-stop a running bridge",
	Long: `Send an emergency stop to a running bridge over its HTTP endpoint.

The bridge halts any active setpoint streaming and fires a stop command
that preempts all queued traffic.`,
	RunE: runEstop,
}

func init() {
	estopCmd.Flags().StringVar(&estopAddr, "addr", "http://localhost:8080", "Bridge HTTP address")
	estopCmd.Flags().StringVar(&estopReason, "reason", "cli", "Reason recorded with the stop")
	rootCmd.AddCommand(estopCmd)
}

func runEstop(cmd *cobra.Command, args []string) error {
	u := fmt.Sprintf("%s/estop?reason=%s", estopAddr, url.QueryEscape(estopReason))
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(u, "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to reach bridge: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge returned %s: %s", resp.Status, body)
	}
	fmt.Printf("%s\n", body)
	return nil
}
