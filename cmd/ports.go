// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziprobotics/zipbridge/internal/transport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial ports",
	RunE:  runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
