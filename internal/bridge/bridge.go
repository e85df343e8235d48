// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

// Package bridge is the supervisor tying the transport, reply matcher and
// setpoint streamer together into the host-side robot API that the gateway
// and CLI consume.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ziprobotics/zipbridge/internal/config"
	"github.com/ziprobotics/zipbridge/internal/reply"
	"github.com/ziprobotics/zipbridge/internal/streamer"
	"github.com/ziprobotics/zipbridge/internal/transport"
	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

// Bridge owns one robot link and exposes request/reply, drive streaming and
// safety operations on top of it. All methods are safe for concurrent use.
type Bridge struct {
	cfg      *config.Config
	log      *logrus.Logger
	tr       transport.Transport
	matcher  *reply.Matcher
	streamer *streamer.Streamer

	mu         sync.Mutex
	subs       map[int]func(*zipwire.Message)
	nextSubID  int
	estopCount uint64
	lastEstop  time.Time
	startedAt  time.Time
}

// New wires a bridge over tr. Inbound replies feed the matcher; every
// message fans out to subscribers. Leaving the ready state invalidates all
// pending replies and halts streaming, since the firmware that would have
// answered (or obeyed the setpoints) is gone.
func New(cfg *config.Config, tr transport.Transport, log *logrus.Logger) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		log:     log,
		tr:      tr,
		matcher: reply.New(cfg.Serial.CommandTimeout, log),
		subs:    make(map[int]func(*zipwire.Message)),
	}
	b.streamer = streamer.New(streamer.Limits{
		RateMax: cfg.Safety.StreamRateMax,
		TTLMin:  cfg.Safety.TTLMin,
		TTLMax:  cfg.Safety.TTLMax,
	}, tr, log)

	tr.OnMessage(func(m *zipwire.Message) {
		if m.Kind == zipwire.MsgReply {
			b.matcher.Process(m.Reply)
		}
		b.mu.Lock()
		fns := make([]func(*zipwire.Message), 0, len(b.subs))
		for _, fn := range b.subs {
			fns = append(fns, fn)
		}
		b.mu.Unlock()
		for _, fn := range fns {
			fn(m)
		}
	})
	tr.OnStateChange(func(old, new transport.State) {
		if old == transport.StateReady {
			b.matcher.FailAll(fmt.Errorf("%w (%s -> %s)", transport.ErrLinkReset, old, new))
			if err := b.streamer.Stop(false); err == nil {
				b.log.Warn("link left ready, streaming halted")
			}
		}
	})
	return b
}

// Start opens the link and blocks until the handshake completes or ctx is
// done.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	b.startedAt = time.Now()
	b.mu.Unlock()
	if err := b.tr.Open(ctx); err != nil {
		return err
	}
	return b.tr.WaitReady(ctx)
}

// Close halts streaming and releases the link.
func (b *Bridge) Close() error {
	b.streamer.Stop(false)
	b.matcher.FailAll(transport.ErrClosed)
	return b.tr.Close()
}

// Transport exposes the underlying transport for state inspection.
func (b *Bridge) Transport() transport.Transport { return b.tr }

// Subscribe registers a message callback and returns its unsubscribe
// function. Callbacks run on the transport reader goroutine and must not
// block.
func (b *Bridge) Subscribe(fn func(*zipwire.Message)) func() {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// OnStateChange registers a link state-change callback.
func (b *Bridge) OnStateChange(fn func(old, new transport.State)) {
	b.tr.OnStateChange(fn)
}

// Send transmits a command and waits for its reply. Fire-and-forget
// commands (setpoints) return immediately with a nil reply. The reply wait
// is bounded by the command timeout and ctx.
func (b *Bridge) Send(ctx context.Context, cmd *zipwire.Command) (*zipwire.Reply, error) {
	if cmd.IsSetpoint() {
		return nil, b.tr.WriteCommand(cmd)
	}
	p := b.matcher.Expect(cmd.Tag)
	if err := b.tr.WriteCommand(cmd); err != nil {
		p.Cancel()
		return nil, err
	}
	return p.Await(ctx)
}

// SendLine transmits a raw protocol line without reply correlation. Used by
// the CLI passthrough.
func (b *Bridge) SendLine(line string) error {
	return b.tr.WriteLine(line)
}

// StartDrive begins setpoint streaming at rate Hz with the given deadman
// window.
func (b *Bridge) StartDrive(rateHz int, ttl time.Duration) error {
	return b.streamer.Start(rateHz, ttl)
}

// UpdateDrive replaces the streamed drive target.
func (b *Bridge) UpdateDrive(v, w int) error {
	return b.streamer.Update(v, w)
}

// StopDrive halts streaming; with sendStop the robot is stopped immediately
// instead of coasting into its deadman window.
func (b *Bridge) StopDrive(sendStop bool) error {
	err := b.streamer.Stop(sendStop)
	if err == streamer.ErrNotStreaming {
		return nil
	}
	return err
}

// IsDriving reports whether setpoint streaming is active.
func (b *Bridge) IsDriving() bool { return b.streamer.IsStreaming() }

// EmergencyStop halts streaming and fires a stop-class command that jumps
// every queue. It always succeeds host-side: on a dead link the command
// cannot be queued, which is logged and visible in the link stats, and the
// firmware deadman covers the wire. "Stop was received" is a separate,
// best-effort guarantee observable only through telemetry.
func (b *Bridge) EmergencyStop(reason string) error {
	b.mu.Lock()
	b.estopCount++
	b.lastEstop = time.Now()
	b.mu.Unlock()
	b.log.WithField("reason", reason).Warn("emergency stop")

	b.streamer.Stop(false)
	if err := b.tr.WriteCommand(zipwire.NewStop("estop")); err != nil {
		b.log.WithError(err).Warn("emergency stop not transmitted, link not up")
	}
	return nil
}

// Diagnostics requests the firmware state snapshot and counter stats. The
// two reply lines are not tagged replies, so they are collected from the
// message stream directly.
func (b *Bridge) Diagnostics(ctx context.Context) (*zipwire.Snapshot, map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Serial.DiagTimeout)
	defer cancel()

	type diag struct {
		snap  *zipwire.Snapshot
		stats map[string]int64
	}
	ch := make(chan diag, 1)
	var mu sync.Mutex
	var pending diag

	unsub := b.Subscribe(func(m *zipwire.Message) {
		mu.Lock()
		defer mu.Unlock()
		switch m.Kind {
		case zipwire.MsgTelemetry:
			if snap, err := zipwire.ParseSnapshot(m.Raw); err == nil {
				pending.snap = snap
			}
		case zipwire.MsgStats:
			if stats, err := zipwire.ParseStats(m.Raw); err == nil {
				pending.stats = stats
			}
		}
		if pending.snap != nil && pending.stats != nil {
			select {
			case ch <- pending:
			default:
			}
		}
	})
	defer unsub()

	if err := b.tr.WriteCommand(zipwire.NewDiagnostics("diag")); err != nil {
		return nil, nil, err
	}

	select {
	case d := <-ch:
		return d.snap, d.stats, nil
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("diagnostics timed out: %w", ctx.Err())
	}
}

// Health is the bridge status snapshot served by the HTTP endpoint. Status
// is "ok" only when the link is open and handshaked, "degraded" while it is
// open but not yet ready, and "error" when it is closed or failed.
type Health struct {
	Status         string          `json:"status"`
	State          string          `json:"state"`
	Ready          bool            `json:"ready"`
	Link           string          `json:"link"`
	Streaming      bool            `json:"streaming"`
	StreamRate     int             `json:"stream_rate_hz"`
	PendingReplies int             `json:"pending_replies"`
	EstopCount     uint64          `json:"estop_count"`
	LastEstopAt    *time.Time      `json:"last_estop_at,omitempty"`
	UptimeSeconds  float64         `json:"uptime_seconds"`
	LinkStats      transport.Stats `json:"link_stats"`
}

// Health returns the current bridge status.
func (b *Bridge) Health() Health {
	b.mu.Lock()
	estops, lastEstop, startedAt := b.estopCount, b.lastEstop, b.startedAt
	b.mu.Unlock()

	state := b.tr.State()
	status := "degraded"
	switch state {
	case transport.StateReady:
		status = "ok"
	case transport.StateClosed, transport.StateError:
		status = "error"
	}

	h := Health{
		Status:         status,
		State:          state.String(),
		Ready:          state == transport.StateReady,
		Link:           b.tr.Describe(),
		Streaming:      b.streamer.IsStreaming(),
		StreamRate:     b.streamer.Rate(),
		PendingReplies: b.matcher.PendingCount(),
		EstopCount:     estops,
		LinkStats:      b.tr.Stats(),
	}
	if !lastEstop.IsZero() {
		t := lastEstop
		h.LastEstopAt = &t
	}
	if !startedAt.IsZero() {
		h.UptimeSeconds = time.Since(startedAt).Seconds()
	}
	return h
}
