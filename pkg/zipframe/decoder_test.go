// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipframe

import (
	"bytes"
	"strings"
	"testing"
)

func decodeAll(t *testing.T, d *Decoder, data []byte) (frames []*Frame, errs []error) {
	t.Helper()
	for _, b := range data {
		f, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}

func TestDecoder_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		msgType uint8
		seq     uint8
		payload []byte
	}{
		{"empty payload", MsgHello, 1, nil},
		{"ack", MsgAck, 9, []byte{1}},
		{"twist", MsgDriveTwist, 77, []byte{0x64, 0x00, 0x9C, 0xFF, 0xC8, 0x00}},
		{"max payload", MsgTelemetry, 255, bytes.Repeat([]byte{0xA5}, MaxPayloadSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeFrame(tt.msgType, tt.seq, tt.payload)
			if err != nil {
				t.Fatalf("EncodeFrame failed: %v", err)
			}

			frames, errs := decodeAll(t, NewDecoder(), encoded)
			if len(errs) != 0 {
				t.Fatalf("decode errors: %v", errs)
			}
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}

			f := frames[0]
			if f.Type != tt.msgType {
				t.Errorf("Type = 0x%02X, want 0x%02X", f.Type, tt.msgType)
			}
			if f.Seq != tt.seq {
				t.Errorf("Seq = %d, want %d", f.Seq, tt.seq)
			}
			if !bytes.Equal(f.Payload, tt.payload) {
				t.Errorf("Payload = %x, want %x", f.Payload, tt.payload)
			}
		})
	}
}

func TestEncodeFrame_PayloadTooLarge(t *testing.T) {
	if _, err := EncodeFrame(MsgTelemetry, 1, make([]byte, MaxPayloadSize+1)); err == nil {
		t.Error("EncodeFrame accepted oversized payload")
	}
}

func TestDecoder_CRCMismatch(t *testing.T) {
	encoded, err := EncodeFrame(MsgAck, 3, []byte{1})
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	encoded[len(encoded)-1] ^= 0xFF // corrupt CRC high byte

	frames, errs := decodeAll(t, NewDecoder(), encoded)
	if len(frames) != 0 {
		t.Errorf("corrupted frame decoded: %+v", frames[0])
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "CRC mismatch") {
		t.Errorf("errs = %v, want one CRC mismatch", errs)
	}
}

func TestDecoder_ResyncAfterGarbage(t *testing.T) {
	good, err := EncodeFrame(MsgHello, 5, nil)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	// Garbage including a stray header start, then a valid frame.
	stream := append([]byte{0x00, 0xAA, 0x13, 0x55, 0xFF}, good...)

	frames, _ := decodeAll(t, NewDecoder(), stream)
	if len(frames) != 1 || frames[0].Type != MsgHello || frames[0].Seq != 5 {
		t.Fatalf("decoder did not resync; frames = %+v", frames)
	}
}

func TestDecoder_InvalidLength(t *testing.T) {
	frames, errs := decodeAll(t, NewDecoder(), []byte{Header0, Header1, 0x01})
	if len(frames) != 0 || len(errs) != 1 {
		t.Fatalf("frames=%d errs=%v, want length error", len(frames), errs)
	}
}

func TestDecoder_HeaderByteBeforeHeader(t *testing.T) {
	// 0xAA 0xAA 0x55 ... must still lock onto the real frame.
	good, err := EncodeFrame(MsgEStop, 8, nil)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	stream := append([]byte{Header0}, good...)

	frames, _ := decodeAll(t, NewDecoder(), stream)
	if len(frames) != 1 || frames[0].Type != MsgEStop {
		t.Fatalf("decoder missed frame after repeated header byte; frames = %+v", frames)
	}
}
