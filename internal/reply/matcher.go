// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

// Package reply correlates firmware reply tokens with in-flight requests.
//
// The wire protocol has no sequence numbers: replies carry the request tag
// when one was given, or arrive as a bare {ok}. The matcher resolves an
// inbound reply against the pending request with the same tag, falling back
// to the oldest pending request for untagged or truncated replies.
package reply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

// Sentinel errors.
var (
	ErrReplyTimeout = errors.New("no reply before deadline")
	ErrInvalidated  = errors.New("pending reply invalidated")
)

type result struct {
	reply *zipwire.Reply
	err   error
}

// Pending is one outstanding request awaiting its reply.
type Pending struct {
	m     *Matcher
	tag   string
	ch    chan result
	timer *time.Timer
	done  bool
}

// Await blocks until the reply arrives, the per-request timeout fires, or
// ctx is done. It releases the pending slot in every case.
func (p *Pending) Await(ctx context.Context) (*zipwire.Reply, error) {
	select {
	case res := <-p.ch:
		return res.reply, res.err
	case <-ctx.Done():
		p.Cancel()
		// A reply may have raced the cancellation.
		select {
		case res := <-p.ch:
			return res.reply, res.err
		default:
			return nil, ctx.Err()
		}
	}
}

// Cancel withdraws the pending request. Safe to call more than once.
func (p *Pending) Cancel() {
	p.m.mu.Lock()
	p.m.resolveLocked(p, result{err: ErrInvalidated})
	p.m.mu.Unlock()
}

// Matcher tracks pending requests in registration order.
type Matcher struct {
	log     *logrus.Entry
	timeout time.Duration

	mu      sync.Mutex
	pending []*Pending
}

// New creates a matcher. timeout bounds each individual request.
func New(timeout time.Duration, log *logrus.Logger) *Matcher {
	return &Matcher{
		log:     log.WithField("component", "matcher"),
		timeout: timeout,
	}
}

// Expect registers interest in a reply before the request is transmitted.
// Registration precedes the write so a fast reply can never be missed.
func (m *Matcher) Expect(tag string) *Pending {
	p := &Pending{m: m, tag: tag, ch: make(chan result, 1)}
	m.mu.Lock()
	m.pending = append(m.pending, p)
	p.timer = time.AfterFunc(m.timeout, func() {
		m.mu.Lock()
		m.resolveLocked(p, result{err: ErrReplyTimeout})
		m.mu.Unlock()
	})
	m.mu.Unlock()
	return p
}

// Process offers an inbound reply to the matcher. Resolution order: the
// pending request with the exact tag; for an untagged {ok}, the oldest
// pending request; for a tag that matches nothing exactly, the oldest
// pending request whose tag the reply tag is a prefix of (firmware
// truncates tags). A tagged reply that matches no pending request is left
// unclaimed so it can never steal an unrelated request's slot. Returns
// false if nothing was resolved.
func (m *Matcher) Process(r *zipwire.Reply) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pending {
		if p.tag == r.Tag {
			m.resolveLocked(p, result{reply: r})
			return true
		}
	}
	if r.Tag == "" {
		if len(m.pending) == 0 {
			return false
		}
		m.resolveLocked(m.pending[0], result{reply: r})
		return true
	}
	for _, p := range m.pending {
		if strings.HasPrefix(p.tag, r.Tag) {
			m.log.WithFields(logrus.Fields{
				"reply_tag":   r.Tag,
				"pending_tag": p.tag,
			}).Debug("reply matched by tag prefix")
			m.resolveLocked(p, result{reply: r})
			return true
		}
	}
	return false
}

// FailAll resolves every pending request with err. Called when the firmware
// resets or the link drops: replies to pre-reset requests can no longer
// arrive.
func (m *Matcher) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range append([]*Pending{}, m.pending...) {
		m.resolveLocked(p, result{err: err})
	}
}

// PendingCount returns the number of outstanding requests.
func (m *Matcher) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Matcher) resolveLocked(p *Pending, res result) {
	if p.done {
		return
	}
	p.done = true
	if p.timer != nil {
		p.timer.Stop()
	}
	for i, q := range m.pending {
		if q == p {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	p.ch <- res
}
