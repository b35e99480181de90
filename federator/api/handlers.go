package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const healthTimeout = 5 * time.Second

// handleIsAlive handles GET /isAlive
func (s *Server) handleIsAlive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: statusOK})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, StatusResponse{Status: statusOK})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if !s.health.IsHealthy(ctx) {
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: statusUnhealthy})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: statusOK})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
