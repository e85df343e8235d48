// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipframe

import (
	"fmt"
	"time"
)

// Frame is one decoded binary protocol frame.
type Frame struct {
	Type      uint8
	Seq       uint8
	Payload   []byte
	CRC       uint16
	Timestamp time.Time
}

// EncodeFrame builds a complete wire-formatted frame, ready for
// transmission.
func EncodeFrame(msgType, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	length := 2 + len(payload) // TYPE + SEQ + payload

	frame := make([]byte, 0, 2+1+length+2)
	frame = append(frame, Header0, Header1)
	frame = append(frame, byte(length), msgType, seq)
	frame = append(frame, payload...)

	// CRC over LEN..PAYLOAD, appended little-endian.
	crc := CalculateCRC(frame[2:])
	frame = append(frame, byte(crc&0xFF), byte(crc>>8))

	return frame, nil
}

// TypeName returns a human-readable name for a frame type.
func TypeName(msgType uint8) string {
	switch msgType {
	case MsgHello:
		return "HELLO"
	case MsgSetMode:
		return "SET_MODE"
	case MsgDriveTwist:
		return "DRIVE_TWIST"
	case MsgDriveTank:
		return "DRIVE_TANK"
	case MsgServo:
		return "SERVO"
	case MsgLED:
		return "LED"
	case MsgEStop:
		return "E_STOP"
	case MsgConfigSet:
		return "CONFIG_SET"
	case MsgInfo:
		return "INFO"
	case MsgAck:
		return "ACK"
	case MsgTelemetry:
		return "TELEMETRY"
	case MsgFault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}
