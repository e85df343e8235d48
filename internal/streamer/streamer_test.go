// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package streamer

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// captureWriter records every command written to it.
type captureWriter struct {
	mu   sync.Mutex
	cmds []*zipwire.Command
}

func (w *captureWriter) WriteCommand(cmd *zipwire.Command) error {
	w.mu.Lock()
	w.cmds = append(w.cmds, cmd)
	w.mu.Unlock()
	return nil
}

func (w *captureWriter) all() []*zipwire.Command {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*zipwire.Command{}, w.cmds...)
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.cmds)
}

func testLimits() Limits {
	return Limits{RateMax: 50, TTLMin: 150 * time.Millisecond, TTLMax: 300 * time.Millisecond}
}

func TestStartValidation(t *testing.T) {
	s := New(testLimits(), &captureWriter{}, testLogger())

	assert.ErrorIs(t, s.Start(0, 200*time.Millisecond), ErrRateOutOfRange)
	assert.ErrorIs(t, s.Start(51, 200*time.Millisecond), ErrRateOutOfRange)
	assert.ErrorIs(t, s.Start(20, 100*time.Millisecond), ErrTTLOutOfRange)
	assert.ErrorIs(t, s.Start(20, 400*time.Millisecond), ErrTTLOutOfRange)
	assert.False(t, s.IsStreaming())
}

func TestStreamTransmitsAtRate(t *testing.T) {
	w := &captureWriter{}
	s := New(testLimits(), w, testLogger())
	require.NoError(t, s.Start(50, 200*time.Millisecond))
	defer s.Stop(false)

	time.Sleep(220 * time.Millisecond)
	n := w.count()
	// 50Hz over ~220ms: allow generous scheduling slack.
	assert.GreaterOrEqual(t, n, 5)
	assert.LessOrEqual(t, n, 13)

	for _, cmd := range w.all() {
		assert.Equal(t, zipwire.CmdSetpoint, cmd.Code)
		assert.Equal(t, 200*time.Millisecond, cmd.TTL)
	}
}

func TestUpdateChangesTarget(t *testing.T) {
	w := &captureWriter{}
	s := New(testLimits(), w, testLogger())
	require.NoError(t, s.Start(50, 200*time.Millisecond))
	defer s.Stop(false)

	assert.ErrorIs(t, New(testLimits(), w, testLogger()).Update(1, 1), ErrNotStreaming)

	require.NoError(t, s.Update(120, -40))
	time.Sleep(60 * time.Millisecond)

	cmds := w.all()
	require.NotEmpty(t, cmds)
	last := cmds[len(cmds)-1]
	assert.Equal(t, []int{120, -40}, last.Data)
}

func TestStopHaltsTransmission(t *testing.T) {
	w := &captureWriter{}
	s := New(testLimits(), w, testLogger())
	require.NoError(t, s.Start(50, 200*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.Stop(false))
	assert.False(t, s.IsStreaming())
	assert.Equal(t, 0, s.Rate())

	n := w.count()
	time.Sleep(60 * time.Millisecond)
	// Nothing transmits after Stop returns.
	assert.Equal(t, n, w.count())

	assert.ErrorIs(t, s.Stop(false), ErrNotStreaming)
}

func TestStopWithStopCommand(t *testing.T) {
	w := &captureWriter{}
	s := New(testLimits(), w, testLogger())
	require.NoError(t, s.Start(20, 200*time.Millisecond))
	require.NoError(t, s.Update(100, 0))
	time.Sleep(80 * time.Millisecond)

	require.NoError(t, s.Stop(true))

	cmds := w.all()
	require.NotEmpty(t, cmds)
	last := cmds[len(cmds)-1]
	assert.True(t, last.IsStop(), "final command must be stop-class, got N=%d", last.Code)
}

func TestRestartReconfigures(t *testing.T) {
	w := &captureWriter{}
	s := New(testLimits(), w, testLogger())
	require.NoError(t, s.Start(10, 200*time.Millisecond))
	require.NoError(t, s.Update(50, 50))
	require.NoError(t, s.Start(25, 300*time.Millisecond))
	defer s.Stop(false)

	assert.Equal(t, 25, s.Rate())
	time.Sleep(90 * time.Millisecond)

	cmds := w.all()
	require.NotEmpty(t, cmds)
	last := cmds[len(cmds)-1]
	// Restart resets the target to zero and carries the new TTL.
	assert.Equal(t, []int{0, 0}, last.Data)
	assert.Equal(t, 300*time.Millisecond, last.TTL)
}
