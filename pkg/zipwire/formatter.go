// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package zipwire

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatMessage renders a message for human-readable logs.
func FormatMessage(m *Message) string {
	ts := m.At.Format("15:04:05.000")
	switch m.Kind {
	case MsgReply:
		return fmt.Sprintf("[%s] REPLY tag=%s kind=%s %s", ts, m.Reply.Tag, m.Reply.Kind, m.Raw)
	case MsgBoot:
		return fmt.Sprintf("[%s] BOOT marker", ts)
	default:
		return fmt.Sprintf("[%s] %s %s", ts, strings.ToUpper(m.Kind.String()), m.Raw)
	}
}

// Snapshot is the decoded first line of a diagnostics reply. The firmware
// prints it as {<owner><lpwm>,<rpwm>,<mstate>,<reset>,hw:<hash>,imu:<0/1>,...}
// with the positional fields first and key:value pairs after.
type Snapshot struct {
	Owner       byte // 'M' setpoint, 'D' direct, 'X' stopped
	LeftPWM     int
	RightPWM    int
	MotionState int
	ResetCount  int
	Fields      map[string]string // hw, imu, ram, batt, ...
	Raw         string
}

// ParseSnapshot decodes a diagnostics snapshot line.
func ParseSnapshot(line string) (*Snapshot, error) {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return nil, fmt.Errorf("%w: not a snapshot line", ErrMalformedLine)
	}

	parts := strings.Split(trimmed[1:len(trimmed)-1], ",")
	if len(parts) < 4 {
		return nil, fmt.Errorf("%w: snapshot has %d fields (need 4)", ErrMalformedLine, len(parts))
	}

	snap := &Snapshot{Fields: make(map[string]string), Raw: trimmed}

	head := parts[0]
	if head == "" {
		return nil, fmt.Errorf("%w: empty snapshot head", ErrMalformedLine)
	}
	snap.Owner = head[0]
	var err error
	if snap.LeftPWM, err = strconv.Atoi(head[1:]); err != nil {
		return nil, fmt.Errorf("%w: bad left pwm %q", ErrMalformedLine, head)
	}
	if snap.RightPWM, err = strconv.Atoi(parts[1]); err != nil {
		return nil, fmt.Errorf("%w: bad right pwm %q", ErrMalformedLine, parts[1])
	}
	if snap.MotionState, err = strconv.Atoi(parts[2]); err != nil {
		return nil, fmt.Errorf("%w: bad motion state %q", ErrMalformedLine, parts[2])
	}
	if snap.ResetCount, err = strconv.Atoi(parts[3]); err != nil {
		return nil, fmt.Errorf("%w: bad reset count %q", ErrMalformedLine, parts[3])
	}

	for _, p := range parts[4:] {
		if k, v, ok := strings.Cut(p, ":"); ok {
			snap.Fields[k] = v
		}
	}
	return snap, nil
}

// ParseStats decodes a {stats:rx=..,jd=..,pe=..,tx=..,ms=..} line into a
// key → value map.
func ParseStats(line string) (map[string]int64, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, statsPrefix) || !strings.HasSuffix(trimmed, "}") {
		return nil, fmt.Errorf("%w: not a stats line", ErrMalformedLine)
	}

	body := trimmed[len(statsPrefix) : len(trimmed)-1]
	out := make(map[string]int64)
	for _, p := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("%w: bad stats field %q", ErrMalformedLine, p)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad stats value %q", ErrMalformedLine, p)
		}
		out[k] = n
	}
	return out, nil
}
