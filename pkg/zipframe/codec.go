// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipframe

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

// Codec adapts the binary framed protocol to the zipwire.Codec contract.
// Outgoing commands are mapped onto frame types; the rolling SEQ byte
// stands in for the command tag, and a small table maps ACK frames back to
// the tag so the reply matcher sees the same token shapes as the line
// variant.
type Codec struct {
	dec  *Decoder
	seq  uint8
	tags map[uint8]string
}

// NewCodec creates a codec for the legacy binary protocol variant.
func NewCodec() *Codec {
	return &Codec{
		dec:  NewDecoder(),
		tags: make(map[uint8]string),
	}
}

// Encode frames a command for transmission. Commands without a binary
// equivalent (macros, diagnostics) return zipwire.ErrUnsupportedCommand.
func (c *Codec) Encode(cmd *zipwire.Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var msgType uint8
	var payload []byte

	switch {
	case cmd.Code == zipwire.CmdHello:
		msgType = MsgHello

	case cmd.IsStop():
		msgType = MsgEStop

	case cmd.IsSetpoint():
		msgType = MsgDriveTwist
		payload = make([]byte, 6)
		binary.LittleEndian.PutUint16(payload[0:2], uint16(int16(dataField(cmd, 0))))
		binary.LittleEndian.PutUint16(payload[2:4], uint16(int16(dataField(cmd, 1))))
		binary.LittleEndian.PutUint16(payload[4:6], uint16(cmd.TTL/time.Millisecond))

	case cmd.Code == zipwire.CmdDirectMotor:
		msgType = MsgDriveTank
		payload = make([]byte, 4)
		binary.LittleEndian.PutUint16(payload[0:2], uint16(int16(dataField(cmd, 0))))
		binary.LittleEndian.PutUint16(payload[2:4], uint16(int16(dataField(cmd, 1))))

	case cmd.Code == zipwire.CmdServo:
		msgType = MsgServo
		payload = []byte{byte(dataField(cmd, 0))}

	default:
		return nil, fmt.Errorf("%w: N=%d has no binary frame type", zipwire.ErrUnsupportedCommand, cmd.Code)
	}

	c.seq++
	if cmd.Tag != "" {
		c.tags[c.seq] = cmd.Tag
	} else {
		delete(c.tags, c.seq)
	}

	return EncodeFrame(msgType, c.seq, payload)
}

// Reset discards decoder state and the outstanding tag table.
func (c *Codec) Reset() {
	c.dec.Reset()
	c.tags = make(map[uint8]string)
}

// Feed consumes one received byte and returns a classified message when a
// complete, CRC-valid frame is terminated.
func (c *Codec) Feed(b byte) (*zipwire.Message, error) {
	frame, err := c.dec.DecodeByte(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zipwire.ErrMalformedLine, err)
	}
	if frame == nil {
		return nil, nil
	}
	return c.translate(frame), nil
}

// translate maps a decoded frame onto the message shapes the transport and
// matcher expect from the line variant.
func (c *Codec) translate(f *Frame) *zipwire.Message {
	msg := &zipwire.Message{At: f.Timestamp}

	switch f.Type {
	case MsgInfo:
		// INFO announces the firmware after power-on; it plays the role
		// the bare "R" line has in the live protocol.
		msg.Kind = zipwire.MsgBoot
		msg.Raw = zipwire.BootMarker

	case MsgAck:
		tag, ok := c.tags[f.Seq]
		if ok {
			delete(c.tags, f.Seq)
		}
		kind := zipwire.ReplyOk
		if len(f.Payload) > 0 && f.Payload[0] == 0 {
			kind = zipwire.ReplyFalse
		}
		raw := fmt.Sprintf("{%s_%s}", tag, kind)
		if tag == "" {
			raw = "{ok}"
		}
		msg.Kind = zipwire.MsgReply
		msg.Reply = &zipwire.Reply{Tag: tag, Kind: kind, Raw: raw}
		msg.Raw = raw

	case MsgTelemetry, MsgFault:
		msg.Kind = zipwire.MsgTelemetry
		msg.Raw = fmt.Sprintf("{%s:%s}", TypeName(f.Type), hex.EncodeToString(f.Payload))

	default:
		msg.Kind = zipwire.MsgUnknown
		msg.Raw = fmt.Sprintf("{%s seq=%d len=%d}", TypeName(f.Type), f.Seq, len(f.Payload))
	}

	return msg
}

func dataField(cmd *zipwire.Command, i int) int {
	if i < len(cmd.Data) {
		return cmd.Data[i]
	}
	return 0
}
