// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

// Client frame types (controller → bridge).
const (
	frameDrive   = "drive"   // start setpoint streaming
	frameUpdate  = "update"  // new drive target
	frameStop    = "stop"    // stop streaming
	frameCommand = "command" // arbitrary tagged command, replied to
	frameEstop   = "estop"   // emergency stop
)

// Server frame types (bridge → client).
const (
	frameWelcome = "welcome"
	frameLine    = "line"
	frameState   = "state"
	frameReply   = "reply"
	frameAck     = "ack"
	frameError   = "error"
)

// clientFrame is one inbound WebSocket message. ID, when set, is echoed in
// the matching reply, ack or error frame.
type clientFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// drive
	Rate  int   `json:"rate,omitempty"`
	TTLMs int64 `json:"ttl_ms,omitempty"`

	// update
	V int `json:"v"`
	W int `json:"w"`

	// stop
	Halt bool `json:"halt,omitempty"`

	// command
	N    int    `json:"n,omitempty"`
	Tag  string `json:"tag,omitempty"`
	Data []int  `json:"data,omitempty"`

	// estop
	Reason string `json:"reason,omitempty"`
}

func (f *clientFrame) ttl() time.Duration {
	return time.Duration(f.TTLMs) * time.Millisecond
}

func (f *clientFrame) command() (*zipwire.Command, error) {
	cmd := &zipwire.Command{Code: f.N, Tag: f.Tag, Data: f.Data, TTL: f.ttl()}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// serverFrame is one outbound WebSocket message.
type serverFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// welcome
	Role  string `json:"role,omitempty"`
	State string `json:"state,omitempty"`

	// line
	Raw  string `json:"raw,omitempty"`
	Kind string `json:"kind,omitempty"`

	// state
	Old string `json:"old,omitempty"`
	New string `json:"new,omitempty"`

	// reply
	Tag   string `json:"tag,omitempty"`
	Ok    *bool  `json:"ok,omitempty"`
	Value string `json:"value,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

func (f *serverFrame) marshal() []byte {
	data, err := json.Marshal(f)
	if err != nil {
		// serverFrame has no unmarshalable fields; treat as programmer error.
		panic(fmt.Sprintf("marshal server frame: %v", err))
	}
	return data
}

func welcomeFrame(role, state string) *serverFrame {
	return &serverFrame{Type: frameWelcome, Role: role, State: state}
}

func lineFrame(m *zipwire.Message) *serverFrame {
	return &serverFrame{Type: frameLine, Raw: m.Raw, Kind: m.Kind.String()}
}

func stateFrame(old, new string) *serverFrame {
	return &serverFrame{Type: frameState, Old: old, New: new}
}

func replyFrame(id string, r *zipwire.Reply) *serverFrame {
	ok := r.Ok()
	return &serverFrame{Type: frameReply, ID: id, Tag: r.Tag, Ok: &ok, Value: r.Value}
}

func ackFrame(id string) *serverFrame {
	return &serverFrame{Type: frameAck, ID: id}
}

func errorFrame(id string, err error) *serverFrame {
	return &serverFrame{Type: frameError, ID: id, Error: err.Error()}
}
