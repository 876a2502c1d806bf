package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/composer"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Metrics     config.MetricsConfig
	Logger      *logging.Logger
	Composer    *composer.Composer
	Collectors  *metrics.Collectors // optional: Prometheus collectors
	DB          *database.DB        // optional: run history
	MQTT        *mqtt.Client        // optional: command ingress
	ExternalHub *Hub                // If set, the server uses this hub instead of creating its own
	StopTimeout time.Duration       // bound for POST /composer/reset
	Version     string
}

// Server is the HTTP control surface of the simulator.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	metricsCfg  config.MetricsConfig
	logger      *logging.Logger
	composer    *composer.Composer
	collectors  *metrics.Collectors
	db          *database.DB
	mqtt        *mqtt.Client
	stopTimeout time.Duration
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	tickets     *ticketStore
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, composer)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Composer == nil {
		return nil, fmt.Errorf("composer is required")
	}
	if deps.Config.Auth.Enabled && deps.Config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth enabled without a jwt secret")
	}
	if deps.StopTimeout <= 0 {
		deps.StopTimeout = 5 * time.Second
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		metricsCfg:  deps.Metrics,
		logger:      deps.Logger,
		composer:    deps.Composer,
		collectors:  deps.Collectors,
		db:          deps.DB,
		mqtt:        deps.MQTT,
		stopTimeout: deps.StopTimeout,
		version:     deps.Version,
		startTime:   time.Now(),
		hub:         deps.ExternalHub,
		tickets:     newTicketStore(),
	}
	return s, nil
}

// Hub returns the WebSocket hub, creating it on first use so the recorder
// can be wired to it before Start.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start binds the listener and serves in the background. A bind failure
// is returned here rather than logged later. Start also runs the hub and
// ticket cleanup, and subscribes to the MQTT command topics.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.Hub().Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	if err := s.subscribeCommands(); err != nil {
		s.logger.Warn("MQTT command ingress unavailable", "error", err)
	}

	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}
	s.logger.Info("control surface listening", "address", s.server.Addr, "auth", s.cfg.Auth.Enabled)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control surface stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, useful with port 0. Empty before Start.
func (s *Server) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.unsubscribeCommands()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
