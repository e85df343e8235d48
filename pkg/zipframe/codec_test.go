// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipframe

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

func feedFrame(t *testing.T, c *Codec, data []byte) []*zipwire.Message {
	t.Helper()
	var msgs []*zipwire.Message
	for _, b := range data {
		msg, err := c.Feed(b)
		if err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func TestCodec_EncodeSetpoint(t *testing.T) {
	c := NewCodec()

	data, err := c.Encode(zipwire.NewSetpoint(100, -100, 200*time.Millisecond))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	frames, errs := decodeAll(t, NewDecoder(), data)
	if len(errs) != 0 || len(frames) != 1 {
		t.Fatalf("frames=%d errs=%v", len(frames), errs)
	}

	f := frames[0]
	if f.Type != MsgDriveTwist {
		t.Fatalf("Type = %s, want DRIVE_TWIST", TypeName(f.Type))
	}
	if v := int16(binary.LittleEndian.Uint16(f.Payload[0:2])); v != 100 {
		t.Errorf("v = %d, want 100", v)
	}
	if w := int16(binary.LittleEndian.Uint16(f.Payload[2:4])); w != -100 {
		t.Errorf("w = %d, want -100", w)
	}
	if ttl := binary.LittleEndian.Uint16(f.Payload[4:6]); ttl != 200 {
		t.Errorf("ttl = %d, want 200", ttl)
	}
}

func TestCodec_EncodeUnsupported(t *testing.T) {
	c := NewCodec()
	_, err := c.Encode(zipwire.NewDiagnostics("dg"))
	if !errors.Is(err, zipwire.ErrUnsupportedCommand) {
		t.Errorf("err = %v, want ErrUnsupportedCommand", err)
	}
}

func TestCodec_AckMapsToTaggedReply(t *testing.T) {
	c := NewCodec()

	if _, err := c.Encode(zipwire.NewStop("st9")); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// The firmware echoes the SEQ of the command it acknowledges.
	ack, err := EncodeFrame(MsgAck, 1, []byte{1})
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	msgs := feedFrame(t, c, ack)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.Kind != zipwire.MsgReply {
		t.Fatalf("Kind = %v, want reply", msg.Kind)
	}
	if msg.Reply.Tag != "st9" || msg.Reply.Kind != zipwire.ReplyOk {
		t.Errorf("Reply = %+v, want st9 ok", msg.Reply)
	}
	if msg.Raw != "{st9_ok}" {
		t.Errorf("Raw = %q, want {st9_ok}", msg.Raw)
	}
}

func TestCodec_NackMapsToFalse(t *testing.T) {
	c := NewCodec()

	if _, err := c.Encode(zipwire.NewDirectMotor("dm", 50, 50)); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	nack, err := EncodeFrame(MsgAck, 1, []byte{0})
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	msgs := feedFrame(t, c, nack)
	if len(msgs) != 1 || msgs[0].Reply.Kind != zipwire.ReplyFalse {
		t.Fatalf("msgs = %+v, want one false reply", msgs)
	}
}

func TestCodec_InfoIsBootMarker(t *testing.T) {
	c := NewCodec()

	info, err := EncodeFrame(MsgInfo, 0, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	msgs := feedFrame(t, c, info)
	if len(msgs) != 1 || msgs[0].Kind != zipwire.MsgBoot {
		t.Fatalf("msgs = %+v, want one boot message", msgs)
	}
}
