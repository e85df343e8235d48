// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziprobotics/zipbridge/internal/bridge"
	"github.com/ziprobotics/zipbridge/internal/config"
	"github.com/ziprobotics/zipbridge/internal/transport"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type testRig struct {
	gw     *Gateway
	bridge *bridge.Bridge
	lb     *transport.Loopback
	srv    *httptest.Server
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	cfg := config.Default()
	cfg.Serial.Loopback = true
	cfg.Serial.CommandTimeout = 500 * time.Millisecond
	cfg.Serial.DiagTimeout = 2 * time.Second
	cfg.Safety.StreamRateMax = 50

	lb := transport.NewLoopback(transport.Config{
		SettleDelay:    5 * time.Millisecond,
		BootTimeout:    300 * time.Millisecond,
		CommandTimeout: cfg.Serial.CommandTimeout,
		FlushInterval:  5 * time.Millisecond,
		CommandRate:    200,
		SendBootStop:   true,
	}, testLogger())

	b := bridge.New(cfg, lb, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, b.Start(ctx))

	gw := New(b, testLogger())
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		gw.Close()
		b.Close()
	})
	return &testRig{gw: gw, bridge: b, lb: lb, srv: srv}
}

func (r *testRig) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.srv.URL, "http") + RobotPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// awaitFrame reads until a frame of the wanted type arrives, skipping the
// line/state traffic interleaved on every connection.
func awaitFrame(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var f map[string]any
		require.NoError(t, json.Unmarshal(data, &f))
		if f["type"] == wantType {
			return f
		}
	}
	t.Fatalf("no %q frame received", wantType)
	return nil
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestControllerSlot(t *testing.T) {
	rig := newRig(t)

	c1 := rig.dial(t)
	w1 := awaitFrame(t, c1, "welcome")
	assert.Equal(t, "controller", w1["role"])
	assert.Equal(t, "ready", w1["state"])

	c2 := rig.dial(t)
	w2 := awaitFrame(t, c2, "welcome")
	assert.Equal(t, "observer", w2["role"])
	assert.Equal(t, 2, rig.gw.ClientCount())
}

func TestDriveFromController(t *testing.T) {
	rig := newRig(t)
	conn := rig.dial(t)
	awaitFrame(t, conn, "welcome")

	send(t, conn, map[string]any{"type": "drive", "id": "d1", "rate": 20, "ttl_ms": 200})
	ack := awaitFrame(t, conn, "ack")
	assert.Equal(t, "d1", ack["id"])
	assert.True(t, rig.bridge.IsDriving())

	send(t, conn, map[string]any{"type": "update", "v": 90, "w": -10})
	waitFor(t, 2*time.Second, func() bool {
		last := rig.lb.Firmware().LastSetpoint()
		return last != nil && last.Data[0] == 90 && last.Data[1] == -10
	}, "updated setpoint at firmware")

	send(t, conn, map[string]any{"type": "stop", "id": "s1", "halt": true})
	ack = awaitFrame(t, conn, "ack")
	assert.Equal(t, "s1", ack["id"])
	assert.False(t, rig.bridge.IsDriving())
}

func TestDriveValidationError(t *testing.T) {
	rig := newRig(t)
	conn := rig.dial(t)
	awaitFrame(t, conn, "welcome")

	send(t, conn, map[string]any{"type": "drive", "id": "bad", "rate": 500, "ttl_ms": 200})
	errf := awaitFrame(t, conn, "error")
	assert.Equal(t, "bad", errf["id"])
	assert.Contains(t, errf["error"], "rate")
}

func TestObserverCannotDrive(t *testing.T) {
	rig := newRig(t)
	c1 := rig.dial(t)
	awaitFrame(t, c1, "welcome")
	c2 := rig.dial(t)
	awaitFrame(t, c2, "welcome")

	send(t, c2, map[string]any{"type": "drive", "id": "x", "rate": 20, "ttl_ms": 200})
	errf := awaitFrame(t, c2, "error")
	assert.Equal(t, errNotController.Error(), errf["error"])
	assert.False(t, rig.bridge.IsDriving())
}

func TestObserverCanEstop(t *testing.T) {
	rig := newRig(t)
	c1 := rig.dial(t)
	awaitFrame(t, c1, "welcome")
	c2 := rig.dial(t)
	awaitFrame(t, c2, "welcome")

	stops := rig.lb.Firmware().StopCount()
	send(t, c2, map[string]any{"type": "estop", "id": "e1", "reason": "spectator alarm"})
	awaitFrame(t, c2, "ack")
	waitFor(t, 2*time.Second, func() bool {
		return rig.lb.Firmware().StopCount() > stops
	}, "estop at firmware")
}

func TestCommandRoundTrip(t *testing.T) {
	rig := newRig(t)
	conn := rig.dial(t)
	awaitFrame(t, conn, "welcome")

	send(t, conn, map[string]any{
		"type": "command", "id": "c1", "n": 999, "tag": "fwd", "data": []int{60, 60},
	})
	reply := awaitFrame(t, conn, "reply")
	assert.Equal(t, "c1", reply["id"])
	assert.Equal(t, "fwd", reply["tag"])
	assert.Equal(t, true, reply["ok"])
}

func TestControllerDisconnectTriggersEstop(t *testing.T) {
	rig := newRig(t)
	c1 := rig.dial(t)
	awaitFrame(t, c1, "welcome")

	send(t, c1, map[string]any{"type": "drive", "id": "d", "rate": 20, "ttl_ms": 200})
	awaitFrame(t, c1, "ack")
	require.True(t, rig.bridge.IsDriving())

	stops := rig.lb.Firmware().StopCount()
	c1.Close()

	waitFor(t, 2*time.Second, func() bool {
		return rig.lb.Firmware().StopCount() > stops && !rig.bridge.IsDriving()
	}, "estop on controller disconnect")
	waitFor(t, time.Second, func() bool { return !rig.gw.HasController() }, "slot release")

	// The freed slot goes to the next connection.
	c2 := rig.dial(t)
	w := awaitFrame(t, c2, "welcome")
	assert.Equal(t, "controller", w["role"])
}

func TestLineBroadcast(t *testing.T) {
	rig := newRig(t)
	conn := rig.dial(t)
	awaitFrame(t, conn, "welcome")

	// Any firmware traffic reaches the client as line frames.
	send(t, conn, map[string]any{"type": "command", "id": "q", "n": 120, "tag": "diag"})
	line := awaitFrame(t, conn, "line")
	assert.NotEmpty(t, line["raw"])
}

func TestMalformedFrame(t *testing.T) {
	rig := newRig(t)
	conn := rig.dial(t)
	awaitFrame(t, conn, "welcome")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	errf := awaitFrame(t, conn, "error")
	assert.Contains(t, errf["error"], "malformed")
}

func TestHealthEndpoints(t *testing.T) {
	rig := newRig(t)
	srv := httptest.NewServer(HealthHandler(rig.bridge, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ready", health["state"])
	assert.Equal(t, true, health["ready"])

	// GET must not trip the emergency stop.
	resp, err = http.Get(srv.URL + "/estop")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	stops := rig.lb.Firmware().StopCount()
	resp, err = http.Post(srv.URL+"/estop?reason=test", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	waitFor(t, 2*time.Second, func() bool {
		return rig.lb.Firmware().StopCount() > stops
	}, "estop via http")

	resp, err = http.Get(srv.URL + "/diagnostics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var diag map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&diag))
	assert.EqualValues(t, 1, diag["reset_count"])
}
