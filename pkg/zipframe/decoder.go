// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipframe

import (
	"fmt"
	"time"
)

// Decoder implements the binary frame decoder state machine. A decode error
// resets the machine; it resynchronizes on the next 0xAA 0x55 header.
type Decoder struct {
	state   int
	length  int
	frame   *Frame
	crcBuf  []byte
	crcWant uint16
}

// NewDecoder creates a new frame decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		state:  stateIdle,
		crcBuf: make([]byte, 0, 1+MaxFrameLen),
	}
}

// Reset resets the decoder state to idle.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.length = 0
	d.frame = nil
	d.crcBuf = d.crcBuf[:0]
	d.crcWant = 0
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error if decoding fails.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case stateIdle:
		if b == Header0 {
			d.state = stateHeader1
		}
		return nil, nil

	case stateHeader1:
		if b != Header1 {
			d.Reset()
			// A lone 0xAA may still start a real frame.
			if b == Header0 {
				d.state = stateHeader1
			}
			return nil, nil
		}
		d.state = stateLength
		return nil, nil

	case stateLength:
		if int(b) < 2 || int(b) > MaxFrameLen {
			d.Reset()
			return nil, fmt.Errorf("invalid length: %d (valid 2-%d)", b, MaxFrameLen)
		}
		d.length = int(b)
		d.frame = &Frame{Payload: make([]byte, 0, d.length-2)}
		d.crcBuf = append(d.crcBuf[:0], b)
		d.state = stateType
		return nil, nil

	case stateType:
		d.frame.Type = b
		d.crcBuf = append(d.crcBuf, b)
		d.state = stateSeq
		return nil, nil

	case stateSeq:
		d.frame.Seq = b
		d.crcBuf = append(d.crcBuf, b)
		if d.length == 2 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		d.frame.Payload = append(d.frame.Payload, b)
		d.crcBuf = append(d.crcBuf, b)
		if len(d.frame.Payload) >= d.length-2 {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		// CRC is little-endian on the wire: low byte first.
		d.crcWant = uint16(b)
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.crcWant |= uint16(b) << 8
		frame := d.frame
		frame.CRC = d.crcWant

		calculated := CalculateCRC(d.crcBuf)
		d.Reset()

		if frame.CRC != calculated {
			return nil, fmt.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", calculated, frame.CRC)
		}

		frame.Timestamp = time.Now()
		return frame, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}
