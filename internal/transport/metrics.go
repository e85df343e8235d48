// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRxLines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zipbridge",
		Subsystem: "link",
		Name:      "rx_lines_total",
		Help:      "Decoded inbound messages.",
	})
	metricTxLines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zipbridge",
		Subsystem: "link",
		Name:      "tx_lines_total",
		Help:      "Transmitted command lines.",
	})
	metricDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zipbridge",
		Subsystem: "link",
		Name:      "decode_errors_total",
		Help:      "Inbound framing or decode errors.",
	})
	metricBootMarkers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zipbridge",
		Subsystem: "link",
		Name:      "boot_markers_total",
		Help:      "Firmware boot markers observed (resets).",
	})
	metricSetpointsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zipbridge",
		Subsystem: "link",
		Name:      "setpoints_coalesced_total",
		Help:      "Setpoint writes replaced in the queue before transmission.",
	})
	metricRateDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zipbridge",
		Subsystem: "link",
		Name:      "rate_deferred_total",
		Help:      "Flush ticks deferred by the command rate limiter.",
	})
	metricLinkState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zipbridge",
		Subsystem: "link",
		Name:      "state",
		Help:      "Link state (0 closed, 1 opening, 2 waiting_boot, 3 handshaking, 4 ready, 5 error).",
	})
)
