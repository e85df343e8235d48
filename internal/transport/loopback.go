// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package transport

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

// Loopback is a transport backed by an in-process virtual firmware instead
// of a serial port. It exercises the full transport core, including the
// boot/handshake sequence and reply timing, so the bridge and its tests run
// identically with no hardware attached.
type Loopback struct {
	*Link

	fwMu  sync.Mutex
	fw    *VirtualFirmware
	boots atomic.Int64 // firmware reset counter, survives reopen
}

// NewLoopback creates a loopback transport. Each Open spawns a fresh
// virtual firmware on the far end of an in-memory pipe.
func NewLoopback(cfg Config, log *logrus.Logger) *Loopback {
	lb := &Loopback{}
	opener := func() (io.ReadWriteCloser, error) {
		host, dev := net.Pipe()
		fw := newVirtualFirmware(dev, &lb.boots, log.WithField("component", "vfw"))
		lb.fwMu.Lock()
		if lb.fw != nil {
			lb.fw.halt()
		}
		lb.fw = fw
		lb.fwMu.Unlock()
		go fw.run()
		return host, nil
	}
	lb.Link = newLink(cfg, opener, zipwire.NewLineCodec(),
		log.WithField("transport", "loopback"))
	lb.Link.desc = "loopback (virtual firmware)"
	return lb
}

// Firmware returns the virtual firmware behind the current session, or nil
// before the first Open.
func (lb *Loopback) Firmware() *VirtualFirmware {
	lb.fwMu.Lock()
	defer lb.fwMu.Unlock()
	return lb.fw
}

// VirtualFirmware emulates the robot controller on the far end of the pipe.
// It boots with the marker line after a short delay, answers commands with
// realistic latency and tag truncation, and stays silent on setpoints,
// matching real firmware behavior.
type VirtualFirmware struct {
	conn  net.Conn
	log   *logrus.Entry
	boots *atomic.Int64
	rng   *rand.Rand

	// BootDelay is the time between power-on and the boot marker.
	BootDelay time.Duration

	wmu sync.Mutex // serializes pipe writes (handler vs Reboot)

	mu            sync.Mutex
	owner         byte
	leftPWM       int
	rightPWM      int
	motionState   int
	dropHellos    int
	helloCount    int
	stopCount     int
	setpointCount int
	lastSetpoint  *zipwire.Command
	rxLines       int
	parseErrors   int
	txLines       int
	startedAt     time.Time
}

func newVirtualFirmware(conn net.Conn, boots *atomic.Int64, log *logrus.Entry) *VirtualFirmware {
	return &VirtualFirmware{
		conn:      conn,
		log:       log,
		boots:     boots,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		BootDelay: 20 * time.Millisecond,
		owner:     'X',
		startedAt: time.Now(),
	}
}

func (f *VirtualFirmware) run() {
	f.boots.Add(1)
	time.Sleep(f.BootDelay)
	f.writeLine(zipwire.BootMarker)

	scanner := bufio.NewScanner(f.conn)
	for scanner.Scan() {
		f.handleLine(scanner.Bytes())
	}
	f.conn.Close()
}

func (f *VirtualFirmware) handleLine(line []byte) {
	f.mu.Lock()
	f.rxLines++
	f.mu.Unlock()

	cmd, err := zipwire.ParseCommand(line)
	if err != nil {
		f.mu.Lock()
		f.parseErrors++
		f.mu.Unlock()
		return
	}

	tag := cmd.Tag
	if len(tag) > zipwire.MaxTagLen {
		tag = tag[:zipwire.MaxTagLen]
	}

	switch cmd.Code {
	case zipwire.CmdHello:
		f.mu.Lock()
		f.helloCount++
		drop := f.dropHellos > 0
		if drop {
			f.dropHellos--
		}
		f.mu.Unlock()
		if drop {
			return
		}
		f.replyDelay()
		f.writeLine("{hello_ok}")

	case zipwire.CmdStop, zipwire.CmdLegacyStopA, zipwire.CmdLegacyStopB, zipwire.CmdMacroCancel:
		f.mu.Lock()
		f.stopCount++
		f.owner, f.leftPWM, f.rightPWM, f.motionState = 'X', 0, 0, 0
		f.mu.Unlock()
		f.replyDelay()
		f.writeReply(tag, "ok")

	case zipwire.CmdSetpoint:
		// Setpoints are never answered.
		f.mu.Lock()
		f.setpointCount++
		f.lastSetpoint = cmd
		f.owner = 'M'
		if len(cmd.Data) >= 2 {
			f.leftPWM, f.rightPWM = cmd.Data[0], cmd.Data[1]
		}
		f.mu.Unlock()

	case zipwire.CmdDirectMotor:
		f.mu.Lock()
		f.owner = 'D'
		if len(cmd.Data) >= 2 {
			f.leftPWM, f.rightPWM = cmd.Data[0], cmd.Data[1]
		}
		f.mu.Unlock()
		f.replyDelay()
		f.writeReply(tag, "ok")

	case zipwire.CmdMacroStart:
		valid := len(cmd.Data) >= 1 &&
			cmd.Data[0] >= zipwire.MacroFigure8 && cmd.Data[0] <= zipwire.MacroForwardThenStop
		f.replyDelay()
		if valid {
			f.writeReply(tag, "ok")
		} else {
			f.writeReply(tag, "false")
		}

	case zipwire.CmdServo, zipwire.CmdDriveConfig:
		f.replyDelay()
		f.writeReply(tag, "ok")

	case zipwire.CmdDiagnostics:
		f.replyDelay()
		f.writeSnapshot()
		f.writeStats()

	default:
		f.mu.Lock()
		f.parseErrors++
		f.mu.Unlock()
	}
}

// Reboot emulates a watchdog reset: the counter increments and the boot
// marker is re-emitted on the live link without the port cycling.
func (f *VirtualFirmware) Reboot() {
	f.boots.Add(1)
	f.mu.Lock()
	f.owner, f.leftPWM, f.rightPWM, f.motionState = 'X', 0, 0, 0
	f.startedAt = time.Now()
	f.mu.Unlock()
	f.writeLine(zipwire.BootMarker)
}

// DropHellos makes the firmware swallow the next n hello commands, for
// exercising handshake retries.
func (f *VirtualFirmware) DropHellos(n int) {
	f.mu.Lock()
	f.dropHellos = n
	f.mu.Unlock()
}

// SetpointCount returns how many setpoints have arrived.
func (f *VirtualFirmware) SetpointCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setpointCount
}

// LastSetpoint returns the most recently received setpoint, or nil.
func (f *VirtualFirmware) LastSetpoint() *zipwire.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSetpoint
}

// StopCount returns how many stop-class commands have arrived.
func (f *VirtualFirmware) StopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCount
}

// HelloCount returns how many hello commands have arrived, dropped ones
// included.
func (f *VirtualFirmware) HelloCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.helloCount
}

// ResetCount returns the firmware boot counter.
func (f *VirtualFirmware) ResetCount() int {
	return int(f.boots.Load())
}

func (f *VirtualFirmware) halt() {
	f.conn.Close()
}

// replyDelay sleeps 5-15ms, the latency band of the real controller loop.
func (f *VirtualFirmware) replyDelay() {
	time.Sleep(time.Duration(5+f.rng.Intn(11)) * time.Millisecond)
}

func (f *VirtualFirmware) writeReply(tag, verdict string) {
	if tag == "" {
		f.writeLine("{ok}")
		return
	}
	f.writeLine(fmt.Sprintf("{%s_%s}", tag, verdict))
}

func (f *VirtualFirmware) writeSnapshot() {
	f.mu.Lock()
	line := fmt.Sprintf("{%c%d,%d,%d,%d,hw:loop,imu:0,ram:262144}",
		f.owner, f.leftPWM, f.rightPWM, f.motionState, f.boots.Load())
	f.mu.Unlock()
	f.writeLine(line)
}

func (f *VirtualFirmware) writeStats() {
	f.mu.Lock()
	line := fmt.Sprintf("{stats:rx=%d,jd=%d,pe=%d,tx=%d,ms=%d}",
		f.rxLines, f.rxLines-f.parseErrors, f.parseErrors, f.txLines,
		time.Since(f.startedAt).Milliseconds())
	f.mu.Unlock()
	f.writeLine(line)
}

func (f *VirtualFirmware) writeLine(s string) {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	if _, err := f.conn.Write([]byte(s + "\n")); err != nil {
		return
	}
	f.mu.Lock()
	f.txLines++
	f.mu.Unlock()
}
