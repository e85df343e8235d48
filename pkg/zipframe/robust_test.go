// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipframe

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// TestDecoder_RandomGarbage feeds random bytes through the decoder and
// verifies it never panics and never produces a frame with an invalid CRC.
func TestDecoder_RandomGarbage(t *testing.T) {
	rng := newFuzzRng(t)
	d := NewDecoder()

	for round := 0; round < getFuzzRounds(); round++ {
		chunk := make([]byte, rng.Intn(64)+1)
		rng.Read(chunk)

		for _, b := range chunk {
			frame, err := d.DecodeByte(b)
			if err != nil {
				continue // decode errors are expected on garbage
			}
			if frame == nil {
				continue
			}
			// Any surfaced frame must checksum-validate.
			buf := append([]byte{byte(2 + len(frame.Payload)), frame.Type, frame.Seq}, frame.Payload...)
			if CalculateCRC(buf) != frame.CRC {
				t.Fatalf("round %d: decoder surfaced frame with bad CRC: %+v", round, frame)
			}
		}
	}
}

// TestDecoder_ValidFramesInGarbage interleaves valid frames with random
// noise and verifies every valid frame is recovered.
func TestDecoder_ValidFramesInGarbage(t *testing.T) {
	rng := newFuzzRng(t)
	d := NewDecoder()

	recovered := 0
	const frames = 200

	for i := 0; i < frames; i++ {
		payload := make([]byte, rng.Intn(16))
		rng.Read(payload)
		seq := uint8(i)

		encoded, err := EncodeFrame(MsgTelemetry, seq, payload)
		if err != nil {
			t.Fatalf("EncodeFrame failed: %v", err)
		}

		// Noise between frames, avoiding the header bytes so noise cannot
		// legally extend into the frame.
		noise := make([]byte, rng.Intn(8))
		for j := range noise {
			b := byte(rng.Intn(256))
			for b == Header0 || b == Header1 {
				b = byte(rng.Intn(256))
			}
			noise[j] = b
		}

		for _, b := range noise {
			if _, err := d.DecodeByte(b); err != nil {
				d.Reset()
			}
		}
		for _, b := range encoded {
			frame, err := d.DecodeByte(b)
			if err != nil {
				t.Fatalf("frame %d: decode error on valid frame: %v", i, err)
			}
			if frame != nil {
				if frame.Seq != seq {
					t.Fatalf("frame %d: seq = %d, want %d", i, frame.Seq, seq)
				}
				recovered++
			}
		}
	}

	if recovered != frames {
		t.Errorf("recovered %d/%d frames", recovered, frames)
	}
}
