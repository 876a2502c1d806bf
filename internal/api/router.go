package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-sim/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	read := s.requirePermission(auth.PermStateRead)
	drive := s.requirePermission(auth.PermSimulationDrive)
	write := s.requirePermission(auth.PermEntityWrite)
	manage := s.requirePermission(auth.PermComposerManage)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Prometheus scrape endpoint (no auth required for monitoring)
		if s.metricsCfg.Enabled {
			r.Handle(s.metricsPath(), s.collectors.Handler())
		}

		// WebSocket authenticates with a ticket, not a bearer header
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleAuthMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.With(read).Get("/system", s.handleSystem)

			r.Route("/composer", func(r chi.Router) {
				r.With(read).Get("/", s.handleComposerStatus)
				r.With(manage).Post("/config", s.handleConfigure)
				r.With(manage).Post("/scenario", s.handleApplyScenario)
				r.With(read).Get("/entities", s.handleListDeclarations)
				r.With(manage).Post("/entities", s.handleAddDeclaration)
				r.With(manage).Delete("/entities/{name}", s.handleRemoveDeclaration)
				r.With(manage).Post("/load", s.handleLoad)
				r.With(manage).Post("/start", s.handleStart)
				r.With(manage).Post("/reset", s.handleReset)
			})

			r.Route("/simulation", func(r chi.Router) {
				r.With(drive).Post("/pause", s.handlePause)
				r.With(drive).Post("/resume", s.handleResume)
				r.With(read).Get("/time", s.handleGetTime)
				r.With(drive).Post("/time", s.handleSetTime)
			})

			r.Route("/entities", func(r chi.Router) {
				r.With(read).Get("/", s.handleListEntities)
				r.With(write).Post("/", s.handleCreateEntity)

				r.Route("/{name}", func(r chi.Router) {
					r.With(read).Get("/", s.handleGetEntity)
					r.With(write).Delete("/", s.handleRemoveEntity)
					r.With(read).Get("/vars/{var}", s.handleGetVar)
					r.With(write).Put("/vars/{var}", s.handleSetVar)
					r.With(write).Put("/links/{var}", s.handleSetLink)
					r.With(write).Post("/calls/{fn}", s.handleCallFunction)
				})
			})

			r.Route("/commands", func(r chi.Router) {
				r.Use(drive)
				r.Post("/", s.handleSubmitCommand)
				r.Post("/batch", s.handleSubmitBatch)
			})

			r.Route("/runs", func(r chi.Router) {
				r.Use(read)
				r.Get("/", s.handleListRuns)
				r.Get("/{id}/commands", s.handleRunCommands)
				r.Get("/{id}/states/{entity}", s.handleRunStates)
			})
		})
	})

	return r
}

func (s *Server) metricsPath() string {
	if s.metricsCfg.Path == "" {
		return "/metrics"
	}
	return s.metricsCfg.Path
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server's health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"composer": s.composer.Status(),
	})
}
