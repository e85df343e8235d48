// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipwire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Command is one host → robot instruction. A Command is immutable once
// built; Encode serializes it to exactly one protocol line.
type Command struct {
	Code int           // N field
	Tag  string        // H field, ≤8 chars, empty = untagged
	Data []int         // D1..Dn, n ≤ 4; present fields are always serialized
	TTL  time.Duration // T field in milliseconds, 0 = omitted
}

// lineJSON is the wire shape of a command. Pointer fields keep absent
// values out of the encoded line while still allowing explicit zeros.
type lineJSON struct {
	N  int    `json:"N"`
	H  string `json:"H,omitempty"`
	D1 *int   `json:"D1,omitempty"`
	D2 *int   `json:"D2,omitempty"`
	D3 *int   `json:"D3,omitempty"`
	D4 *int   `json:"D4,omitempty"`
	T  *int64 `json:"T,omitempty"`
}

// Validate checks the command against protocol limits.
func (c *Command) Validate() error {
	if len(c.Tag) > MaxTagLen {
		return fmt.Errorf("%w: tag %q exceeds %d chars", ErrInvalidCommand, c.Tag, MaxTagLen)
	}
	if len(c.Data) > 4 {
		return fmt.Errorf("%w: %d data fields (max 4)", ErrInvalidCommand, len(c.Data))
	}
	return nil
}

// IsStop reports whether the command is stop-class.
func (c *Command) IsStop() bool {
	return IsStopCode(c.Code)
}

// IsSetpoint reports whether the command is a continuous-drive setpoint.
// Setpoint commands are coalesced in the write queue and never answered
// by the firmware.
func (c *Command) IsSetpoint() bool {
	return c.Code == CmdSetpoint
}

// MarshalLine serializes the command to one newline-terminated protocol line.
func (c *Command) MarshalLine() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	w := lineJSON{N: c.Code, H: c.Tag}
	fields := []**int{&w.D1, &w.D2, &w.D3, &w.D4}
	for i := range c.Data {
		v := c.Data[i]
		*fields[i] = &v
	}
	if c.TTL > 0 {
		ms := c.TTL.Milliseconds()
		w.T = &ms
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	return append(data, '\n'), nil
}

// ParseCommand decodes one protocol line back into a Command. Used by the
// loopback emulator's virtual firmware and by tests; real firmware does the
// equivalent with a fixed-field scanner.
func ParseCommand(line []byte) (*Command, error) {
	var w lineJSON
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	cmd := &Command{Code: w.N, Tag: w.H}
	for _, d := range []*int{w.D1, w.D2, w.D3, w.D4} {
		if d == nil {
			break
		}
		cmd.Data = append(cmd.Data, *d)
	}
	if w.T != nil {
		cmd.TTL = time.Duration(*w.T) * time.Millisecond
	}
	return cmd, nil
}

// Command builders. These are convenience wrappers that ensure correct
// field usage per the ZIP line protocol.

// NewHello creates the handshake command (N=0). The firmware always answers
// {hello_ok} regardless of the tag, so the canonical tag is "hello".
func NewHello() *Command {
	return &Command{Code: CmdHello, Tag: "hello"}
}

// NewStop creates an absolute stop command (N=201).
func NewStop(tag string) *Command {
	return &Command{Code: CmdStop, Tag: tag}
}

// NewSetpoint creates a continuous-drive setpoint (N=200).
// v is the forward command and w the yaw command, both in -255..255.
// The ttl is the deadman window: firmware zeroes motor output if no fresher
// setpoint arrives before it elapses.
func NewSetpoint(v, w int, ttl time.Duration) *Command {
	return &Command{Code: CmdSetpoint, Data: []int{clampDrive(v), clampDrive(w)}, TTL: ttl}
}

// NewDirectMotor creates a direct PWM command (N=999) bypassing the
// firmware's motion controller. left and right are -255..255.
func NewDirectMotor(tag string, left, right int) *Command {
	return &Command{Code: CmdDirectMotor, Tag: tag, Data: []int{clampDrive(left), clampDrive(right)}}
}

// NewMacroStart creates a macro execution command (N=210).
func NewMacroStart(tag string, macroID, intensity int, ttl time.Duration) *Command {
	return &Command{Code: CmdMacroStart, Tag: tag, Data: []int{macroID, intensity}, TTL: ttl}
}

// NewMacroCancel creates a macro cancel command (N=211).
func NewMacroCancel(tag string) *Command {
	return &Command{Code: CmdMacroCancel, Tag: tag}
}

// NewDiagnostics creates a diagnostics request (N=120). The firmware answers
// with two lines: a compact state snapshot, then a {stats:...} line.
func NewDiagnostics(tag string) *Command {
	return &Command{Code: CmdDiagnostics, Tag: tag}
}

func clampDrive(v int) int {
	if v > MaxDrive {
		return MaxDrive
	}
	if v < -MaxDrive {
		return -MaxDrive
	}
	return v
}
