package api

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-sim/internal/composer"
	"github.com/nerrad567/gray-logic-sim/internal/entity"
)

// handleComposerStatus returns the lifecycle and clock summary.
func (s *Server) handleComposerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.composer.Info())
}

// handleConfigure sets the simulation parameters. Omitted fields take
// their defaults.
func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	params, err := entity.DecodeParameters(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.composer.Configure(params); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

// handleApplyScenario applies a whole scenario document. The format comes
// from ?format= or the Content-Type and defaults to JSON.
func (s *Server) handleApplyScenario(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	sc, err := composer.ParseScenario(s.composer.Registry(), scenarioFormat(r), body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.composer.Apply(sc); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.composer.Snapshot())
}

func scenarioFormat(r *http.Request) string {
	if f := r.URL.Query().Get("format"); f != "" {
		return f
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "json"
	}
	switch {
	case strings.Contains(mediaType, "yaml"):
		return "yaml"
	case strings.Contains(mediaType, "toml"):
		return "toml"
	default:
		return "json"
	}
}

// handleListDeclarations returns the declared composition.
func (s *Server) handleListDeclarations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.composer.Snapshot())
}

// handleAddDeclaration declares one entity from a {"type", "entity"} body.
func (s *Server) handleAddDeclaration(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	d, err := s.composer.AddDeclaration(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, composer.Declaration{Type: d.Kind(), Entity: d})
}

// handleRemoveDeclaration drops a declaration by name.
func (s *Server) handleRemoveDeclaration(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	removed, err := s.composer.Remove(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !removed {
		writeNotFound(w, "no declaration named "+name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoad materializes the composition.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if err := s.composer.Load(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.composer.Info())
}

// handleStart launches the clock. The run continues after the request
// returns.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.composer.Start(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.composer.Info())
}

// handleReset stops any run and discards the composition.
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	confirmed := s.composer.Reset(s.stopTimeout)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    s.composer.Status(),
		"confirmed": confirmed,
	})
}
