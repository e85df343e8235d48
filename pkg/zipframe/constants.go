// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

// Package zipframe implements the legacy binary framing for the ZIP robot
// link. Frames are length-prefixed and CRC-validated:
//
//	[0xAA 0x55][LEN][TYPE][SEQ][PAYLOAD...][CRC16 lo][CRC16 hi]
//
// LEN counts TYPE, SEQ and the payload. The CRC-16-CCITT checksum covers
// LEN through the end of the payload and is appended little-endian.
//
// The line/JSON variant (package zipwire) is the live protocol; this codec
// is kept behind the same Codec contract for firmwares that still speak the
// framed protocol.
package zipframe

// Frame delimiters
const (
	Header0 = 0xAA
	Header1 = 0x55
)

// Size limits
const (
	MaxPayloadSize = 64
	// MaxFrameLen is the LEN field ceiling: TYPE + SEQ + payload.
	MaxFrameLen = 2 + MaxPayloadSize
)

// Message types (host → robot)
const (
	MsgHello      = 0x01
	MsgSetMode    = 0x02
	MsgDriveTwist = 0x03
	MsgDriveTank  = 0x04
	MsgServo      = 0x05
	MsgLED        = 0x06
	MsgEStop      = 0x07
	MsgConfigSet  = 0x08
)

// Message types (robot → host)
const (
	MsgInfo      = 0x81
	MsgAck       = 0x82
	MsgTelemetry = 0x83
	MsgFault     = 0x84
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateHeader1
	stateLength
	stateType
	stateSeq
	statePayload
	stateCRC1
	stateCRC2
)
