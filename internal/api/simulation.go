package api

import (
	"encoding/json"
	"net/http"
)

type setTimeRequest struct {
	Time *int64 `json:"time"`
}

type timeResponse struct {
	Time int64  `json:"time"`
	Tick uint64 `json:"tick"`
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	changed, err := s.composer.Pause()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true, "changed": changed})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	changed, err := s.composer.Resume()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false, "changed": changed})
}

func (s *Server) handleGetTime(w http.ResponseWriter, _ *http.Request) {
	now, tick, err := s.composer.Time()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, timeResponse{Time: now, Tick: tick})
}

// handleSetTime fast-forwards and answers once the target is reached, or
// when the request is cancelled.
func (s *Server) handleSetTime(w http.ResponseWriter, r *http.Request) {
	var req setTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Time == nil {
		writeBadRequest(w, "time is required")
		return
	}
	if err := s.composer.SetTime(r.Context(), *req.Time); err != nil {
		writeDomainError(w, err)
		return
	}
	now, tick, err := s.composer.Time()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, timeResponse{Time: now, Tick: tick})
}
