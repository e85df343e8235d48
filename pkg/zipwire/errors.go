// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipwire

import "errors"

// Sentinel errors shared by both codec variants.
var (
	// ErrInvalidCommand marks a command that violates protocol limits.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrMalformedLine marks an inbound line that could not be decoded.
	// The decoder resynchronizes on the next line start.
	ErrMalformedLine = errors.New("malformed line")
	// ErrLineTooLong marks an inbound line exceeding MaxLineLen.
	ErrLineTooLong = errors.New("line too long")
	// ErrUnsupportedCommand marks a command the codec variant cannot frame.
	ErrUnsupportedCommand = errors.New("command not supported by codec")
)
