// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

// Link is the shared transport core. The serial transport and the loopback
// emulator are both a Link with a different port opener; all handshake,
// queue and event behavior lives here.
//
// Locking: mu guards all mutable state. Port writes never happen on the
// reader goroutine or under mu: encoded payloads are handed to a dedicated
// per-session writer goroutine, so a blocked write can never stall inbound
// processing. The link and its firmware may both be mid-write on an
// unbuffered pipe; the reader staying free is what lets those writes
// complete. Locked sections collect deferred actions (event fan-out, port
// close) and run them after unlock. Timer callbacks, the reader and the
// writer are epoch-guarded so a reopened link never observes stale
// callbacks from the previous session.
type Link struct {
	cfg   Config
	log   *logrus.Entry
	open  portOpener
	codec zipwire.Codec
	desc  string

	mu      sync.Mutex
	codecMu sync.Mutex // serializes codec Encode/Feed, which share state
	state   State
	port    io.ReadWriteCloser
	epoch   int
	queue   writeQueue
	stats   Stats
	limiter *rate.Limiter
	lastErr error
	writeCh chan []byte // session writer feed, nil while closed

	helloAttempt int
	bootSeen     bool // boot marker observed during the settle window

	settleTimer *time.Timer
	bootTimer   *time.Timer
	helloTimer  *time.Timer
	flushTimer  *time.Timer

	msgSubs   []func(*zipwire.Message)
	stateSubs []func(old, new State)
	errSubs   []func(error)
}

func newLink(cfg Config, opener portOpener, codec zipwire.Codec, log *logrus.Entry) *Link {
	c := cfg.withDefaults()
	return &Link{
		cfg:     c,
		log:     log,
		open:    opener,
		codec:   codec,
		state:   StateClosed,
		limiter: rate.NewLimiter(rate.Limit(c.CommandRate), c.CommandBurst),
	}
}

// Open opens the underlying port and starts the settle/boot/handshake
// sequence. It does not wait for readiness.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateClosed && l.state != StateError {
		l.mu.Unlock()
		return ErrAlreadyOpen
	}
	l.epoch++
	epoch := l.epoch
	var notes []func()
	l.setStateLocked(StateOpening, &notes)
	l.mu.Unlock()
	l.run(notes)

	port, err := l.open()
	if err != nil {
		l.mu.Lock()
		notes = nil
		l.failLocked(fmt.Errorf("%w: %v", ErrOpenFailed, err), &notes)
		l.mu.Unlock()
		l.run(notes)
		return fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	l.mu.Lock()
	if epoch != l.epoch {
		l.mu.Unlock()
		port.Close()
		return ErrClosed
	}
	l.port = port
	l.stats = Stats{OpenedAt: time.Now()}
	l.lastErr = nil
	l.bootSeen = false
	l.queue.clear()
	if r, ok := l.codec.(interface{ Reset() }); ok {
		r.Reset()
	}
	l.writeCh = make(chan []byte, writeBacklog)
	go l.readLoop(port, epoch)
	go l.writeLoop(port, epoch, l.writeCh)

	l.settleTimer = time.AfterFunc(l.cfg.SettleDelay, func() { l.onSettleDone(epoch) })
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"settle_delay": l.cfg.SettleDelay,
		"boot_timeout": l.cfg.BootTimeout,
	}).Info("link opened")
	return nil
}

// Close releases the port and cancels all timers. Idempotent.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return nil
	}
	l.epoch++
	l.stopTimersLocked()
	l.closeWriterLocked()
	port := l.port
	l.port = nil
	l.queue.clear()
	l.stats.QueueDepth = 0
	var notes []func()
	l.setStateLocked(StateClosed, &notes)
	l.mu.Unlock()

	if port != nil {
		port.Close()
	}
	l.run(notes)
	l.log.Info("link closed")
	return nil
}

// WaitReady blocks until the link reaches ready, fails, or ctx is done.
func (l *Link) WaitReady(ctx context.Context) error {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		l.mu.Lock()
		state, lastErr := l.state, l.lastErr
		l.mu.Unlock()
		switch state {
		case StateReady:
			return nil
		case StateError, StateClosed:
			if lastErr != nil {
				return lastErr
			}
			return ErrNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// WriteCommand validates, encodes and enqueues a command. Stop-class
// commands jump the queue and are exempt from rate limiting; setpoints
// coalesce so at most one is ever pending. Never blocks on I/O.
func (l *Link) WriteCommand(cmd *zipwire.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	l.codecMu.Lock()
	payload, err := l.codec.Encode(cmd)
	l.codecMu.Unlock()
	if err != nil {
		return err
	}

	priority := PriorityNormal
	if cmd.IsStop() {
		priority = PriorityStop
	}
	return l.enqueue(payload, priority, cmd.IsSetpoint())
}

// WriteLine enqueues a raw line at normal priority, newline appended if
// missing. Used by the command-line passthrough tooling.
func (l *Link) WriteLine(line string) error {
	payload := []byte(line)
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		payload = append(payload, '\n')
	}
	return l.enqueue(payload, PriorityNormal, false)
}

func (l *Link) enqueue(payload []byte, priority int, setpoint bool) error {
	l.mu.Lock()
	switch l.state {
	case StateClosed, StateError:
		l.mu.Unlock()
		return ErrClosed
	case StateReady:
	default:
		// Stop-class commands are accepted while the handshake is still
		// in flight; they drain as soon as the link is ready.
		if priority != PriorityStop {
			l.mu.Unlock()
			return ErrNotReady
		}
	}

	coalesced := l.queue.push(payload, priority, setpoint)
	l.stats.QueueDepth = l.queue.len()
	if coalesced {
		metricSetpointsCoalesced.Inc()
	}
	if priority == PriorityStop {
		l.scheduleFlushLocked(0)
	} else {
		l.scheduleFlushLocked(time.Millisecond)
	}
	l.mu.Unlock()
	return nil
}

// scheduleFlushLocked arms the flush timer. A zero delay preempts any
// pending timer so stop-class traffic transmits immediately.
func (l *Link) scheduleFlushLocked(d time.Duration) {
	if l.flushTimer != nil {
		if d > 0 {
			return
		}
		l.flushTimer.Stop()
	}
	epoch := l.epoch
	l.flushTimer = time.AfterFunc(d, func() { l.flushTick(epoch) })
}

// flushTick transmits at most one queued entry, then re-arms itself while
// entries remain. Non-stop entries consume a rate limiter token; when
// denied, the entry stays queued and the tick retries on the next interval.
func (l *Link) flushTick(epoch int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if epoch != l.epoch {
		return
	}
	l.flushTimer = nil
	if l.state != StateReady || l.port == nil {
		return
	}
	head, ok := l.queue.peek()
	if !ok {
		return
	}
	if head.priority != PriorityStop && !l.limiter.Allow() {
		metricRateDeferred.Inc()
		l.scheduleFlushLocked(l.cfg.FlushInterval)
		return
	}
	l.queue.pop()
	l.stats.QueueDepth = l.queue.len()
	if l.queue.len() > 0 {
		l.scheduleFlushLocked(l.cfg.FlushInterval)
	}
	l.submitLocked(head.payload)
}

// writeBacklog bounds payloads handed to the writer but not yet on the
// wire. Queue pacing keeps at most a handful in flight.
const writeBacklog = 64

// submitLocked hands one framed payload to the session writer. Never
// blocks: a full channel means the port stopped accepting bytes, and the
// payload is dropped rather than stalling the caller.
func (l *Link) submitLocked(payload []byte) {
	if l.writeCh == nil {
		return
	}
	select {
	case l.writeCh <- payload:
	default:
		l.log.Warn("writer backlog full, dropping payload")
	}
}

func (l *Link) closeWriterLocked() {
	if l.writeCh != nil {
		close(l.writeCh)
		l.writeCh = nil
	}
}

// writeLoop owns all port writes for one session and records their
// outcome. A write error fails the link; closing the port unblocks a
// stuck write, after which the stale epoch ends the loop.
func (l *Link) writeLoop(port io.Writer, epoch int, ch chan []byte) {
	for payload := range ch {
		n, err := port.Write(payload)

		l.mu.Lock()
		if epoch != l.epoch {
			l.mu.Unlock()
			return
		}
		l.stats.TxBytes += uint64(n)
		if err != nil {
			var notes []func()
			l.failLocked(fmt.Errorf("write failed: %w", err), &notes)
			l.mu.Unlock()
			l.run(notes)
			return
		}
		l.stats.TxLines++
		l.stats.LastTxAt = time.Now()
		metricTxLines.Inc()
		l.mu.Unlock()
	}
}

// readLoop consumes the port byte stream and feeds the codec. It exits on
// read error; errors from the current epoch fail the link, stale epochs
// (closed or reopened link) exit silently.
func (l *Link) readLoop(port io.Reader, epoch int) {
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			l.mu.Lock()
			stale := epoch != l.epoch
			if !stale {
				l.stats.RxBytes += uint64(n)
			}
			l.mu.Unlock()
			if stale {
				return
			}
			for _, b := range buf[:n] {
				l.codecMu.Lock()
				msg, ferr := l.codec.Feed(b)
				l.codecMu.Unlock()
				if ferr != nil {
					l.noteDecodeError(epoch, ferr)
					continue
				}
				if msg != nil {
					l.handleMessage(epoch, msg)
				}
			}
		}
		if err != nil {
			l.mu.Lock()
			var notes []func()
			if epoch == l.epoch && l.state != StateClosed {
				l.failLocked(fmt.Errorf("read failed: %w", err), &notes)
			}
			l.mu.Unlock()
			l.run(notes)
			return
		}
	}
}

func (l *Link) noteDecodeError(epoch int, err error) {
	l.mu.Lock()
	if epoch != l.epoch {
		l.mu.Unlock()
		return
	}
	l.stats.DecodeErrors++
	l.mu.Unlock()
	metricDecodeErrors.Inc()
	l.log.WithError(err).Debug("decode error, resynchronizing")
}

// handleMessage runs the inbound side of the state machine, then fans the
// message out to subscribers.
func (l *Link) handleMessage(epoch int, msg *zipwire.Message) {
	l.mu.Lock()
	if epoch != l.epoch {
		l.mu.Unlock()
		return
	}
	l.stats.RxLines++
	l.stats.LastRxAt = msg.At
	metricRxLines.Inc()

	var notes []func()
	switch msg.Kind {
	case zipwire.MsgBoot:
		l.onBootMarkerLocked(epoch, &notes)
	case zipwire.MsgReply:
		if l.state == StateHandshaking && msg.Reply.Tag == "hello" && msg.Reply.Ok() {
			l.completeHandshakeLocked(&notes)
		}
	}
	subs := append([]func(*zipwire.Message){}, l.msgSubs...)
	l.mu.Unlock()

	l.run(notes)
	for _, fn := range subs {
		fn(msg)
	}
}

// onBootMarkerLocked handles the firmware boot marker in every state. A
// marker while ready means the firmware reset underneath us: pending writes
// are stale and dropped, and the handshake restarts without closing the
// port.
func (l *Link) onBootMarkerLocked(epoch int, notes *[]func()) {
	l.stats.BootCount++
	l.stats.LastBootAt = time.Now()
	metricBootMarkers.Inc()

	switch l.state {
	case StateOpening:
		l.bootSeen = true
	case StateWaitingBoot:
		if l.bootTimer != nil {
			l.bootTimer.Stop()
			l.bootTimer = nil
		}
		l.startHandshakeLocked(epoch, notes)
	case StateHandshaking:
		// Reset mid-handshake: restart the hello attempt budget.
		l.log.Warn("boot marker during handshake, restarting hello")
		if l.helloTimer != nil {
			l.helloTimer.Stop()
			l.helloTimer = nil
		}
		l.helloAttempt = 0
		l.sendHelloLocked(epoch, notes)
	case StateReady:
		l.log.WithField("boot_count", l.stats.BootCount).
			Warn("firmware reset detected, re-handshaking")
		l.queue.clear()
		l.stats.QueueDepth = 0
		l.setStateLocked(StateWaitingBoot, notes)
		l.startHandshakeLocked(epoch, notes)
	}
}

// onSettleDone ends the post-open settle window and opens the boot window.
// If the boot marker already arrived during settle the handshake starts
// immediately.
func (l *Link) onSettleDone(epoch int) {
	l.mu.Lock()
	if epoch != l.epoch || l.state != StateOpening {
		l.mu.Unlock()
		return
	}
	l.settleTimer = nil
	var notes []func()
	if l.bootSeen {
		l.startHandshakeLocked(epoch, &notes)
	} else {
		l.setStateLocked(StateWaitingBoot, &notes)
		l.bootTimer = time.AfterFunc(l.cfg.BootTimeout, func() { l.onBootTimeout(epoch) })
	}
	l.mu.Unlock()
	l.run(notes)
}

// onBootTimeout fires when no boot marker arrived inside the boot window.
// Non-fatal: the firmware may have booted before we opened the port, so we
// probe it with hello anyway.
func (l *Link) onBootTimeout(epoch int) {
	l.mu.Lock()
	if epoch != l.epoch || l.state != StateWaitingBoot {
		l.mu.Unlock()
		return
	}
	l.bootTimer = nil
	l.log.Info("boot marker not observed, probing with hello")
	var notes []func()
	l.startHandshakeLocked(epoch, &notes)
	l.mu.Unlock()
	l.run(notes)
}

func (l *Link) startHandshakeLocked(epoch int, notes *[]func()) {
	l.setStateLocked(StateHandshaking, notes)
	l.helloAttempt = 0
	l.sendHelloLocked(epoch, notes)
}

// sendHelloLocked issues one hello attempt and arms its timeout. The
// payload goes to the session writer, so the attempt transmits even when
// this runs on the reader goroutine.
func (l *Link) sendHelloLocked(epoch int, notes *[]func()) {
	l.helloAttempt++
	attempt := l.helloAttempt
	l.codecMu.Lock()
	payload, err := l.codec.Encode(zipwire.NewHello())
	l.codecMu.Unlock()
	if err != nil {
		l.failLocked(fmt.Errorf("encode hello: %w", err), notes)
		return
	}
	l.log.WithField("attempt", attempt).Debug("sending hello")
	l.submitLocked(payload)
	l.helloTimer = time.AfterFunc(l.cfg.CommandTimeout, func() { l.onHelloTimeout(epoch) })
}

func (l *Link) onHelloTimeout(epoch int) {
	l.mu.Lock()
	if epoch != l.epoch || l.state != StateHandshaking {
		l.mu.Unlock()
		return
	}
	l.helloTimer = nil
	var notes []func()
	if l.helloAttempt >= l.cfg.HelloAttempts {
		l.failLocked(fmt.Errorf("%w: no hello reply after %d attempts",
			ErrHandshakeFailed, l.helloAttempt), &notes)
	} else {
		l.log.WithField("attempt", l.helloAttempt).Warn("hello timed out, retrying")
		l.sendHelloLocked(epoch, &notes)
	}
	l.mu.Unlock()
	l.run(notes)
}

func (l *Link) completeHandshakeLocked(notes *[]func()) {
	if l.helloTimer != nil {
		l.helloTimer.Stop()
		l.helloTimer = nil
	}
	l.setStateLocked(StateReady, notes)
	l.log.WithField("boot_count", l.stats.BootCount).Info("handshake complete, link ready")

	if l.cfg.SendBootStop {
		// Known-idle guarantee: whatever state the firmware was in before
		// the handshake, it starts stopped.
		l.codecMu.Lock()
		payload, err := l.codec.Encode(zipwire.NewStop("boot"))
		l.codecMu.Unlock()
		if err == nil {
			l.queue.push(payload, PriorityStop, false)
			l.stats.QueueDepth = l.queue.len()
			l.scheduleFlushLocked(0)
		}
	} else if l.queue.len() > 0 {
		l.scheduleFlushLocked(0)
	}
}

// failLocked moves the link to the error state, cancels everything and
// invalidates the current epoch so in-flight callbacks become no-ops.
// Recovery requires an explicit reopen.
func (l *Link) failLocked(err error, notes *[]func()) {
	if l.state == StateError || l.state == StateClosed {
		return
	}
	l.epoch++
	l.lastErr = err
	l.stopTimersLocked()
	l.closeWriterLocked()
	port := l.port
	l.port = nil
	l.queue.clear()
	l.stats.QueueDepth = 0
	l.setStateLocked(StateError, notes)

	subs := append([]func(error){}, l.errSubs...)
	log := l.log
	*notes = append(*notes, func() {
		log.WithError(err).Error("link failed")
		if port != nil {
			port.Close()
		}
		for _, fn := range subs {
			fn(err)
		}
	})
}

func (l *Link) stopTimersLocked() {
	for _, t := range []**time.Timer{&l.settleTimer, &l.bootTimer, &l.helloTimer, &l.flushTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

func (l *Link) setStateLocked(s State, notes *[]func()) {
	if l.state == s {
		return
	}
	old := l.state
	l.state = s
	metricLinkState.Set(float64(s))
	subs := append([]func(old, new State){}, l.stateSubs...)
	*notes = append(*notes, func() {
		for _, fn := range subs {
			fn(old, s)
		}
	})
}

// run executes deferred actions collected under the lock, in order.
func (l *Link) run(notes []func()) {
	for _, fn := range notes {
		fn()
	}
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsReady reports whether the handshake has completed.
func (l *Link) IsReady() bool {
	return l.State() == StateReady
}

// Describe returns a human-readable link description.
func (l *Link) Describe() string {
	return l.desc
}

// Stats returns a copy of the cumulative link statistics.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.QueueDepth = l.queue.len()
	return s
}

// OnMessage registers a callback for every decoded inbound message.
func (l *Link) OnMessage(fn func(*zipwire.Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgSubs = append(l.msgSubs, fn)
}

// OnStateChange registers a callback for state transitions.
func (l *Link) OnStateChange(fn func(old, new State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stateSubs = append(l.stateSubs, fn)
}

// OnError registers a callback for link-level errors.
func (l *Link) OnError(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errSubs = append(l.errSubs, fn)
}
