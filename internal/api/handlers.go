package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.sensors.Sessions()),
		"clients":  s.hub.clientCount(),
	})
}

// handleScan runs a scan of ?timeout= seconds and returns what was heard.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	timeout := s.scanTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds <= 0 {
			writeBadRequest(w, "timeout must be a positive number of seconds")
			return
		}
		timeout = time.Duration(seconds * float64(time.Second))
		if timeout > maxScanTimeout {
			writeBadRequest(w, "timeout must not exceed "+maxScanTimeout.String())
			return
		}
	}

	sensors, err := s.sensors.Scan(r.Context(), timeout)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")
	info, err := s.sensors.Connect(key)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "connected",
		"sensor":  info.Label,
		"channel": info.Channel,
		"session": info,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")
	if err := s.sensors.Disconnect(key); err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "disconnected",
		"sensor": key,
	})
}

func (s *Server) handleGetReading(w http.ResponseWriter, r *http.Request) {
	reading, err := s.sensors.GetReading(chi.URLParam(r, "id"))
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sensors.Sessions())
}

func (s *Server) handleAllReadings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sensors.GetAllReadings())
}

type ergRequest struct {
	TargetWatts *int `json:"target_watts"`
}

func (s *Server) handleSetTargetPower(w http.ResponseWriter, r *http.Request) {
	var req ergRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.TargetWatts == nil {
		writeBadRequest(w, "target_watts is required")
		return
	}

	id := chi.URLParam(r, "id")
	result, err := s.sensors.SetTargetPower(id, *req.TargetWatts)
	if err != nil {
		writeHubError(w, err)
		return
	}
	// sensor echoes the identifier as given, session is the trainer that took the command
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"sensor":       id,
		"session":      result.Session,
		"mode":         "ERG",
		"target_watts": result.TargetWatts,
	})
}
