package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type setVarRequest struct {
	Value any `json:"value"`
}

type setLinkRequest struct {
	Target string `json:"target"`
}

type createEntityRequest struct {
	Type   string          `json:"type"`
	Entity json.RawMessage `json:"entity"`
}

// handleListEntities lists live entities in insertion order.
func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	names, err := s.composer.ListEntityNames()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": names, "count": len(names)})
}

// handleGetEntity returns the full state of one live entity.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	state, err := s.composer.EntityState(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "state": state})
}

func (s *Server) handleGetVar(w http.ResponseWriter, r *http.Request) {
	name, v := chi.URLParam(r, "name"), chi.URLParam(r, "var")
	value, err := s.composer.Query(name, v)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": name, "var": v, "value": value})
}

// handleSetVar writes a variable immediately, outside the command queue.
func (s *Server) handleSetVar(w http.ResponseWriter, r *http.Request) {
	name, v := chi.URLParam(r, "name"), chi.URLParam(r, "var")
	var req setVarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	ok, err := s.composer.Set(name, v, req.Value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": name, "var": v, "ok": ok})
}

// handleSetLink points a reference slot at another live entity.
func (s *Server) handleSetLink(w http.ResponseWriter, r *http.Request) {
	name, v := chi.URLParam(r, "name"), chi.URLParam(r, "var")
	var req setLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Target == "" {
		writeBadRequest(w, "target is required")
		return
	}
	ok, err := s.composer.Link(name, v, req.Target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": name, "var": v, "target": req.Target, "ok": ok})
}

// handleCallFunction invokes a function with the raw body as arguments.
func (s *Server) handleCallFunction(w http.ResponseWriter, r *http.Request) {
	name, fn := chi.URLParam(r, "name"), chi.URLParam(r, "fn")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	var args json.RawMessage
	if len(body) > 0 {
		if !json.Valid(body) {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		args = body
	}
	result, err := s.composer.Invoke(name, fn, args)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": name, "function": fn, "result": result})
}

// handleCreateEntity builds a live entity from a declaration body.
func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Type == "" || len(req.Entity) == 0 {
		writeBadRequest(w, "type and entity are required")
		return
	}
	e, err := s.composer.Create(req.Type, req.Entity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": e.Name(), "type": e.Kind()})
}

func (s *Server) handleRemoveEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	removed, err := s.composer.RemoveObject(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !removed {
		writeNotFound(w, "no live entity named "+name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
