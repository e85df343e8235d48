// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package transport

import (
	"sort"
	"time"
)

// queueEntry is one pending write. Payload is the fully framed line,
// newline included.
type queueEntry struct {
	payload  []byte
	priority int
	seq      uint64
	setpoint bool
	queuedAt time.Time
}

// writeQueue is the pending-write buffer. Entries drain in (priority, seq)
// order so stop-class writes always overtake motion traffic, and at most
// one setpoint is pending at any time: pushing a new one replaces the old
// in place. Not goroutine safe; the link serializes access under its lock.
type writeQueue struct {
	entries []queueEntry
	nextSeq uint64
}

// push enqueues an entry and reports whether it coalesced into an existing
// setpoint slot.
func (q *writeQueue) push(payload []byte, priority int, setpoint bool) bool {
	if setpoint {
		for i := range q.entries {
			if q.entries[i].setpoint {
				q.entries[i].payload = payload
				q.entries[i].queuedAt = time.Now()
				return true
			}
		}
	}
	q.nextSeq++
	q.entries = append(q.entries, queueEntry{
		payload:  payload,
		priority: priority,
		seq:      q.nextSeq,
		setpoint: setpoint,
		queuedAt: time.Now(),
	})
	sort.SliceStable(q.entries, func(i, j int) bool {
		if q.entries[i].priority != q.entries[j].priority {
			return q.entries[i].priority < q.entries[j].priority
		}
		return q.entries[i].seq < q.entries[j].seq
	})
	return false
}

// pop removes and returns the head entry.
func (q *writeQueue) pop() (queueEntry, bool) {
	if len(q.entries) == 0 {
		return queueEntry{}, false
	}
	head := q.entries[0]
	copy(q.entries, q.entries[1:])
	q.entries = q.entries[:len(q.entries)-1]
	return head, true
}

// peek returns the head entry without removing it.
func (q *writeQueue) peek() (queueEntry, bool) {
	if len(q.entries) == 0 {
		return queueEntry{}, false
	}
	return q.entries[0], true
}

func (q *writeQueue) len() int { return len(q.entries) }

// clear drops all pending entries, used when the link closes or resets.
func (q *writeQueue) clear() {
	q.entries = q.entries[:0]
}
