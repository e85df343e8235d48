// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics
//
// zipbridge - ZIP robot serial bridge
//
// Bridges a ZIP robot controller's serial line protocol to WebSocket and
// HTTP surfaces for driving, telemetry and emergency stop.

package main

import (
	"os"

	"github.com/ziprobotics/zipbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
