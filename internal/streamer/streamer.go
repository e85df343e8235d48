// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

// Package streamer generates the continuous setpoint stream that keeps the
// firmware deadman fed while a controller is driving. Callers update the
// target; the streamer transmits it at a fixed rate so a stalled controller
// stops the robot within one TTL window.
package streamer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

// Sentinel errors.
var (
	ErrNotStreaming   = errors.New("streamer not running")
	ErrRateOutOfRange = errors.New("stream rate out of range")
	ErrTTLOutOfRange  = errors.New("setpoint ttl out of range")
)

// Writer is the transport capability the streamer needs.
type Writer interface {
	WriteCommand(cmd *zipwire.Command) error
}

// Limits bound what a controller may request.
type Limits struct {
	RateMax int           // Hz ceiling for Start
	TTLMin  time.Duration // deadman window floor
	TTLMax  time.Duration // deadman window ceiling
}

// Streamer transmits the current drive target at a fixed rate.
type Streamer struct {
	limits Limits
	tr     Writer
	log    *logrus.Entry

	mu      sync.Mutex
	running bool
	rate    int
	ttl     time.Duration
	v, w    int
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a stopped streamer.
func New(limits Limits, tr Writer, log *logrus.Logger) *Streamer {
	return &Streamer{
		limits: limits,
		tr:     tr,
		log:    log.WithField("component", "streamer"),
	}
}

// Start validates rate and ttl and begins streaming zeros at rate Hz.
// Calling Start while running reconfigures the stream in place. Validation
// failures are synchronous; a running stream is never disturbed by them.
func (s *Streamer) Start(rateHz int, ttl time.Duration) error {
	if rateHz < 1 || rateHz > s.limits.RateMax {
		return fmt.Errorf("%w: %d Hz (allowed 1..%d)", ErrRateOutOfRange, rateHz, s.limits.RateMax)
	}
	if ttl < s.limits.TTLMin || ttl > s.limits.TTLMax {
		return fmt.Errorf("%w: %s (allowed %s..%s)", ErrTTLOutOfRange, ttl, s.limits.TTLMin, s.limits.TTLMax)
	}

	s.mu.Lock()
	for s.running {
		s.haltLocked()
	}
	s.running = true
	s.rate = rateHz
	s.ttl = ttl
	s.v, s.w = 0, 0
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(time.Second/time.Duration(rateHz), s.stopCh, s.doneCh)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"rate_hz": rateHz, "ttl": ttl}).Info("streaming started")
	return nil
}

// Update replaces the drive target. The new target transmits on the next
// tick; values are clamped to the protocol drive range.
func (s *Streamer) Update(v, w int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotStreaming
	}
	s.v, s.w = v, w
	return nil
}

// Stop halts the stream. The ticker is fully stopped before Stop returns,
// so no setpoint can transmit afterwards. With sendStop set, a stop-class
// command follows so the robot halts immediately rather than coasting
// through its deadman window.
func (s *Streamer) Stop(sendStop bool) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotStreaming
	}
	for s.running {
		s.haltLocked()
	}
	s.mu.Unlock()

	s.log.Info("streaming stopped")
	if sendStop {
		return s.tr.WriteCommand(zipwire.NewStop("halt"))
	}
	return nil
}

// IsStreaming reports whether the stream is active.
func (s *Streamer) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Rate returns the active stream rate in Hz, or 0 when stopped.
func (s *Streamer) Rate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.rate
}

// haltLocked stops the loop goroutine and waits for it to exit. It drops
// the lock while waiting, so callers must re-check running afterwards.
func (s *Streamer) haltLocked() {
	close(s.stopCh)
	done := s.doneCh
	s.running = false
	s.mu.Unlock()
	<-done
	s.mu.Lock()
}

func (s *Streamer) loop(interval time.Duration, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-tick.C:
			s.mu.Lock()
			cmd := zipwire.NewSetpoint(s.v, s.w, s.ttl)
			s.mu.Unlock()
			if err := s.tr.WriteCommand(cmd); err != nil {
				// Link not ready or resetting; the target retransmits on
				// the next tick once the link recovers.
				s.log.WithError(err).Debug("setpoint dropped")
			}
		}
	}
}
