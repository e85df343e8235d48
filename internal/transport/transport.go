// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

// Package transport owns the robot link. It runs the boot/handshake state
// machine, the priority write queue with rate limiting and setpoint
// coalescing, and emits message and state-change events. The serial
// transport and the loopback emulator share the same core; only the port
// opener differs.
package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

// State is the connection state of the link. It is owned exclusively by the
// transport and changes only through the handshake state machine.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateWaitingBoot
	StateHandshaking
	StateReady
	StateError
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateWaitingBoot:
		return "waiting_boot"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "invalid"
	}
}

// Write priorities. Lower transmits first; stop-class writes are priority
// zero and exempt from rate limiting.
const (
	PriorityStop   = 0
	PriorityNormal = 5
)

// Sentinel errors.
var (
	ErrClosed          = errors.New("transport closed")
	ErrAlreadyOpen     = errors.New("transport already open")
	ErrNotReady        = errors.New("transport not ready")
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrLinkReset       = errors.New("firmware reset, pending replies invalidated")
	ErrOpenFailed      = errors.New("failed to open link")
)

// Stats are cumulative link statistics. Mutated only by the transport;
// read-only elsewhere.
type Stats struct {
	RxBytes      uint64    `json:"rx_bytes"`
	TxBytes      uint64    `json:"tx_bytes"`
	RxLines      uint64    `json:"rx_lines"`
	TxLines      uint64    `json:"tx_lines"`
	DecodeErrors uint64    `json:"decode_errors"`
	BootCount    uint64    `json:"boot_count"` // boot markers observed = firmware resets
	QueueDepth   int       `json:"queue_depth"`
	LastRxAt     time.Time `json:"last_rx_at"`
	LastTxAt     time.Time `json:"last_tx_at"`
	LastBootAt   time.Time `json:"last_boot_at"`
	OpenedAt     time.Time `json:"opened_at"`
}

// Transport is the capability surface callers depend on. Two concrete
// transports exist: the serial transport and the loopback emulator, selected
// at startup.
type Transport interface {
	// Open establishes the link and starts the handshake state machine.
	// It returns once the link is open; readiness is observed through
	// State, WaitReady or state-change events.
	Open(ctx context.Context) error
	// Close cancels all timers and releases the link. Idempotent.
	Close() error
	// WaitReady blocks until the handshake completes, the transport fails
	// or the context is done.
	WaitReady(ctx context.Context) error

	// WriteCommand encodes and enqueues a command. Never blocks on I/O.
	WriteCommand(cmd *zipwire.Command) error
	// WriteLine enqueues a raw pre-framed line at normal priority.
	WriteLine(line string) error

	State() State
	IsReady() bool
	Stats() Stats
	// Describe returns a human-readable link description for health output.
	Describe() string

	// OnMessage registers a callback for every decoded inbound message.
	// Callbacks run on the transport's reader goroutine and must not block.
	OnMessage(fn func(*zipwire.Message))
	// OnStateChange registers a callback for state transitions, delivered
	// in order.
	OnStateChange(fn func(old, new State))
	// OnError registers a callback for link-level errors.
	OnError(fn func(error))
}

// Config holds transport-level tuning. Zero values are replaced by
// defaults in newLink.
type Config struct {
	Port string
	Baud int
	// LegacyFraming selects the binary framed protocol variant instead of
	// the line/JSON one. Loopback always speaks line/JSON.
	LegacyFraming bool

	// SettleDelay is the pause after opening the port before the boot
	// window starts (hardware debounce, DTR reset settling).
	SettleDelay time.Duration
	// BootTimeout bounds the waiting_boot window. Expiry is non-fatal:
	// the transport proceeds to hello attempts.
	BootTimeout time.Duration
	// CommandTimeout bounds each hello attempt.
	CommandTimeout time.Duration
	// HelloAttempts is the hello retry budget; exhaustion is fatal.
	HelloAttempts int
	// FlushInterval paces queue transmission while entries remain. Must
	// stay below 20ms so the host-side ceiling is at least 50Hz.
	FlushInterval time.Duration
	// CommandRate caps non-stop writes per second.
	CommandRate int
	// CommandBurst is the limiter burst allowance.
	CommandBurst int
	// SendBootStop issues a stop command right after each completed
	// handshake so the robot always starts from a known-idle state.
	SendBootStop bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Baud == 0 {
		out.Baud = 115200
	}
	if out.BootTimeout == 0 {
		out.BootTimeout = 3 * time.Second
	}
	if out.CommandTimeout == 0 {
		out.CommandTimeout = time.Second
	}
	if out.HelloAttempts == 0 {
		out.HelloAttempts = 3
	}
	if out.FlushInterval == 0 {
		out.FlushInterval = 15 * time.Millisecond
	}
	if out.CommandRate == 0 {
		out.CommandRate = 25
	}
	if out.CommandBurst == 0 {
		out.CommandBurst = 5
	}
	return out
}

// portOpener opens the underlying byte link: a real serial port or the
// loopback pipe.
type portOpener func() (io.ReadWriteCloser, error)
