package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-sim/internal/recorder"
)

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 10000
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "run database not configured")
		return
	}
	runs, err := recorder.ListRuns(r.Context(), s.db)
	if err != nil {
		s.logger.Error("listing runs failed", "error", err)
		writeInternalError(w, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []recorder.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) handleRunCommands(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "run database not configured")
		return
	}
	runID := chi.URLParam(r, "id")
	entries, err := recorder.CommandLog(r.Context(), s.db, runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []recorder.CommandEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": runID, "commands": entries, "count": len(entries)})
}

// handleRunStates returns the recorded states of one entity, oldest first.
func (s *Server) handleRunStates(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "run database not configured")
		return
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	runID, name := chi.URLParam(r, "id"), chi.URLParam(r, "entity")
	points, err := recorder.StateHistory(r.Context(), s.db, runID, name, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if points == nil {
		points = []recorder.StatePoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": runID, "entity": name, "states": points, "count": len(points)})
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
