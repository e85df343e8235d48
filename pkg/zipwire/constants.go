// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

// Package zipwire provides the reference Go implementation of the ZIP robot
// line protocol.
//
// The protocol is line-oriented: the host sends one JSON object per line
// (fields N, H, D1..D4, T) and the firmware answers with compact
// brace-delimited tokens such as {hello_ok} or {tag_false}. A bare "R" line
// is the boot marker the firmware emits at the end of its setup sequence.
// This package provides command encoding, line decoding and message
// classification.
package zipwire

// Command codes (host → robot)
const (
	CmdHello       = 0   // handshake; firmware answers {hello_ok}
	CmdServo       = 5   // pan servo angle in D1
	CmdDiagnostics = 120 // two-line reply: snapshot then {stats:...}
	CmdDriveConfig = 140 // safety layer tuning, D1 selector / D2 value
	CmdSetpoint    = 200 // v=D1, w=D2, ttl=T; fire-and-forget, no reply
	CmdStop        = 201 // absolute stop, preempts everything
	CmdMacroStart  = 210 // D1=macro id, D2=intensity, T=ttl
	CmdMacroCancel = 211
	CmdDirectMotor = 999 // D1=left PWM, D2=right PWM

	// Legacy ELEGOO stop codes; firmware treats them as stop overrides.
	CmdLegacyStopA = 100
	CmdLegacyStopB = 110
)

// Macro identifiers for CmdMacroStart
const (
	MacroFigure8         = 1
	MacroSpin360         = 2
	MacroWiggle          = 3
	MacroForwardThenStop = 4
)

// Limits
const (
	MaxTagLen  = 8   // firmware truncates longer tags
	MaxLineLen = 256 // inbound lines longer than this are discarded
	MaxDrive   = 255 // v/w/PWM magnitude ceiling
)

// BootMarker is the bare line the firmware prints once its setup sequence
// completes. Seeing it on an established link means the firmware rebooted.
const BootMarker = "R"

// statsPrefix starts the second diagnostics reply line.
const statsPrefix = "{stats:"

// IsStopCode reports whether a command code is stop-class. Stop-class
// commands are exempt from host-side rate limiting and sort ahead of
// everything else in the write queue.
func IsStopCode(code int) bool {
	return code == CmdStop || code == CmdLegacyStopA || code == CmdLegacyStopB
}
