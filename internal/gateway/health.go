// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ziprobotics/zipbridge/internal/bridge"
	"github.com/ziprobotics/zipbridge/internal/transport"
)

// HealthHandler serves the operational HTTP surface: liveness, emergency
// stop, on-demand diagnostics, serial port discovery and Prometheus
// metrics.
func HealthHandler(b *bridge.Bridge, log *logrus.Logger) http.Handler {
	h := &healthServer{bridge: b, log: log.WithField("component", "http")}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/estop", h.handleEstop)
	mux.HandleFunc("/diagnostics", h.handleDiagnostics)
	mux.HandleFunc("/ports", h.handlePorts)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

type healthServer struct {
	bridge *bridge.Bridge
	log    *logrus.Entry
}

func (h *healthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.bridge.Health()
	code := http.StatusOK
	if health.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// handleEstop accepts POST only: stopping the robot from a GET prefetch
// would be its own safety hazard. The acknowledgment means the stop was
// handed to the transport, not that firmware received it.
func (h *healthServer) handleEstop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "http request"
	}
	h.bridge.EmergencyStop("http: " + reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *healthServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	snap, stats, err := h.bridge.Diagnostics(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":        string(snap.Owner),
		"left_pwm":     snap.LeftPWM,
		"right_pwm":    snap.RightPWM,
		"motion_state": snap.MotionState,
		"reset_count":  snap.ResetCount,
		"fields":       snap.Fields,
		"stats":        stats,
		"raw":          snap.Raw,
	})
}

func (h *healthServer) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := transport.ListPorts()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ports": ports})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
