// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

// Package gateway serves the WebSocket control surface. One connection at a
// time holds the controller role and may drive the robot; later connections
// join as observers and receive the same telemetry stream. A controller
// disconnect is treated as loss of control and triggers an emergency stop.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ziprobotics/zipbridge/internal/bridge"
	"github.com/ziprobotics/zipbridge/internal/transport"
	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

const (
	// RobotPath is the WebSocket endpoint path.
	RobotPath = "/robot"

	roleController = "controller"
	roleObserver   = "observer"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	sendBuffer = 128
)

// Sentinel errors surfaced to clients.
var (
	errNotController = errors.New("not the controller")
	errUnknownFrame  = errors.New("unknown frame type")
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	role string

	done     chan struct{}
	doneOnce sync.Once
}

// Gateway is the WebSocket hub over one bridge.
type Gateway struct {
	bridge *bridge.Bridge
	log    *logrus.Entry

	upgrader websocket.Upgrader

	mu         sync.Mutex
	clients    map[*client]struct{}
	controller *client
	unsub      func()
}

// New creates a gateway and subscribes it to the bridge's message and state
// streams.
func New(b *bridge.Bridge, log *logrus.Logger) *Gateway {
	g := &Gateway{
		bridge: b,
		log:    log.WithField("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	g.unsub = b.Subscribe(func(m *zipwire.Message) {
		g.broadcast(lineFrame(m).marshal())
	})
	b.OnStateChange(func(old, new transport.State) {
		g.broadcast(stateFrame(old.String(), new.String()).marshal())
	})
	return g
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(RobotPath, g.handleWS)
	return mux
}

// Close drops every client connection.
func (g *Gateway) Close() {
	g.unsub()
	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// HasController reports whether the controller slot is taken.
func (g *Gateway) HasController() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.controller != nil
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	g.mu.Lock()
	if g.controller == nil {
		c.role = roleController
		g.controller = c
	} else {
		c.role = roleObserver
	}
	g.clients[c] = struct{}{}
	g.mu.Unlock()

	g.log.WithFields(logrus.Fields{
		"remote": r.RemoteAddr,
		"role":   c.role,
	}).Info("client connected")

	c.enqueue(welcomeFrame(c.role, g.bridge.Transport().State().String()).marshal())

	go g.writePump(c)
	g.readPump(c)
}

// readPump consumes frames from one client until the connection drops.
func (g *Gateway) readPump(c *client) {
	defer g.removeClient(c)
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		g.dispatch(c, data)
	}
}

func (g *Gateway) writePump(c *client) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one client frame. Motion and command frames require the
// controller role; emergency stop is accepted from anyone.
func (g *Gateway) dispatch(c *client, data []byte) {
	var f clientFrame
	if err := unmarshalFrame(data, &f); err != nil {
		c.enqueue(errorFrame("", err).marshal())
		return
	}

	if f.Type == frameEstop {
		reason := f.Reason
		if reason == "" {
			reason = "client request"
		}
		g.bridge.EmergencyStop("ws: " + reason)
		c.enqueue(ackFrame(f.ID).marshal())
		return
	}

	g.mu.Lock()
	isController := g.controller == c
	g.mu.Unlock()
	if !isController {
		c.enqueue(errorFrame(f.ID, errNotController).marshal())
		return
	}

	switch f.Type {
	case frameDrive:
		if err := g.bridge.StartDrive(f.Rate, f.ttl()); err != nil {
			c.enqueue(errorFrame(f.ID, err).marshal())
			return
		}
		g.bridge.UpdateDrive(f.V, f.W)
		c.enqueue(ackFrame(f.ID).marshal())

	case frameUpdate:
		// High-frequency path: only failures are answered.
		if err := g.bridge.UpdateDrive(f.V, f.W); err != nil {
			c.enqueue(errorFrame(f.ID, err).marshal())
		}

	case frameStop:
		if err := g.bridge.StopDrive(f.Halt); err != nil {
			c.enqueue(errorFrame(f.ID, err).marshal())
			return
		}
		c.enqueue(ackFrame(f.ID).marshal())

	case frameCommand:
		cmd, err := f.command()
		if err != nil {
			c.enqueue(errorFrame(f.ID, err).marshal())
			return
		}
		// The reply wait must not stall this client's read loop; the
		// matcher bounds it with the command timeout.
		go func(id string) {
			r, err := g.bridge.Send(context.Background(), cmd)
			if err != nil {
				c.enqueue(errorFrame(id, err).marshal())
				return
			}
			if r == nil {
				c.enqueue(ackFrame(id).marshal())
				return
			}
			c.enqueue(replyFrame(id, r).marshal())
		}(f.ID)

	default:
		c.enqueue(errorFrame(f.ID, errUnknownFrame).marshal())
	}
}

// removeClient drops a client. Losing the controller is loss of control:
// the robot is stopped immediately and the slot frees for the next
// connection.
func (g *Gateway) removeClient(c *client) {
	g.mu.Lock()
	_, present := g.clients[c]
	delete(g.clients, c)
	wasController := g.controller == c
	if wasController {
		g.controller = nil
	}
	g.mu.Unlock()
	if !present {
		return
	}

	c.doneOnce.Do(func() { close(c.done) })
	c.conn.Close()
	g.log.WithField("role", c.role).Info("client disconnected")

	if wasController {
		g.bridge.EmergencyStop("controller disconnected")
	}
}

// broadcast fans a marshaled frame out to every client. Clients that
// cannot keep up are disconnected rather than allowed to stall the hub.
func (g *Gateway) broadcast(msg []byte) {
	g.mu.Lock()
	var slow []*client
	for c := range g.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	g.mu.Unlock()

	for _, c := range slow {
		g.log.WithField("role", c.role).Warn("dropping slow client")
		g.removeClient(c)
	}
}

// enqueue queues an outbound frame, dropping it if the client is backed up
// or already gone.
func (c *client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func unmarshalFrame(data []byte, f *clientFrame) error {
	if err := json.Unmarshal(data, f); err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}
	if f.Type == "" {
		return errUnknownFrame
	}
	return nil
}
