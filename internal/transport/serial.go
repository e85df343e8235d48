// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package transport

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/ziprobotics/zipbridge/pkg/zipframe"
	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

// NewSerial creates a transport over a real serial port using the line/JSON
// protocol. The port is opened lazily in Open so a missing device surfaces
// as an open error, not a construction error.
func NewSerial(cfg Config, log *logrus.Logger) *Link {
	cfg = cfg.withDefaults()
	opener := func() (io.ReadWriteCloser, error) {
		mode := &serial.Mode{
			BaudRate: cfg.Baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(cfg.Port, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %v", cfg.Port, err)
		}
		return port, nil
	}
	var codec zipwire.Codec = zipwire.NewLineCodec()
	variant := "line"
	if cfg.LegacyFraming {
		codec = zipframe.NewCodec()
		variant = "legacy"
	}
	l := newLink(cfg, opener, codec,
		log.WithFields(logrus.Fields{"transport": "serial", "port": cfg.Port}))
	l.desc = fmt.Sprintf("serial %s @ %d baud (%s)", cfg.Port, cfg.Baud, variant)
	return l
}

// ListPorts returns the serial port names visible on this host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
