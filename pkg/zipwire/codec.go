// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipwire

import (
	"strings"
	"time"
)

// MessageKind classifies inbound firmware traffic.
type MessageKind int

const (
	// MsgBoot is the bare boot marker line.
	MsgBoot MessageKind = iota
	// MsgReply is a brace-delimited reply token.
	MsgReply
	// MsgStats is the {stats:...} line ending a diagnostics reply.
	MsgStats
	// MsgTelemetry is any other brace-delimited payload, including the
	// diagnostics snapshot.
	MsgTelemetry
	// MsgUnknown is anything else; logged and passed through.
	MsgUnknown
)

// String returns the string representation of MessageKind.
func (k MessageKind) String() string {
	switch k {
	case MsgBoot:
		return "boot"
	case MsgReply:
		return "reply"
	case MsgStats:
		return "stats"
	case MsgTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Message is one classified unit of inbound traffic.
type Message struct {
	Kind  MessageKind
	Raw   string
	Reply *Reply // set when Kind == MsgReply
	At    time.Time
}

// Codec frames commands for transmission and extracts inbound messages from
// the receive byte stream. The line/JSON variant is authoritative; the
// binary framed variant (package zipframe) is legacy behind the same
// contract. Feed returns a non-nil Message each time a complete unit is
// terminated; decode errors leave the codec resynchronized on the next
// frame start.
type Codec interface {
	Encode(cmd *Command) ([]byte, error)
	Feed(b byte) (*Message, error)
}

// Classify maps a complete received line onto a Message.
func Classify(line string) *Message {
	msg := &Message{Raw: line, At: time.Now()}
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == BootMarker:
		msg.Kind = MsgBoot
	case strings.HasPrefix(trimmed, statsPrefix):
		msg.Kind = MsgStats
	default:
		if reply, ok := ParseReply(trimmed); ok {
			msg.Kind = MsgReply
			msg.Reply = reply
			return msg
		}
		if strings.HasPrefix(trimmed, "{") {
			msg.Kind = MsgTelemetry
		} else {
			msg.Kind = MsgUnknown
		}
	}
	return msg
}

// LineCodec implements Codec for the line/JSON protocol variant.
type LineCodec struct {
	buf      []byte
	overflow bool
}

// NewLineCodec creates a codec for the line/JSON protocol variant.
func NewLineCodec() *LineCodec {
	return &LineCodec{buf: make([]byte, 0, 128)}
}

// Encode serializes a command to one newline-terminated line.
func (c *LineCodec) Encode(cmd *Command) ([]byte, error) {
	return cmd.MarshalLine()
}

// Feed consumes one received byte. Carriage returns are ignored; a newline
// terminates the pending line. Lines exceeding MaxLineLen are discarded and
// the codec resynchronizes on the next newline.
func (c *LineCodec) Feed(b byte) (*Message, error) {
	switch b {
	case '\r':
		return nil, nil
	case '\n':
		if c.overflow {
			c.overflow = false
			c.buf = c.buf[:0]
			return nil, ErrLineTooLong
		}
		if len(c.buf) == 0 {
			return nil, nil
		}
		line := string(c.buf)
		c.buf = c.buf[:0]
		return Classify(line), nil
	default:
		if c.overflow {
			return nil, nil
		}
		if len(c.buf) >= MaxLineLen {
			c.overflow = true
			return nil, nil
		}
		c.buf = append(c.buf, b)
		return nil, nil
	}
}

// Reset discards any partially accumulated line.
func (c *LineCodec) Reset() {
	c.buf = c.buf[:0]
	c.overflow = false
}
