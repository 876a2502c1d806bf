// graysim - building energy simulator
//
// graysim assembles a simulated household from declared entities (meters,
// batteries, heating, loads), advances it on a discrete clock and exposes
// it over an HTTP control surface, WebSocket and MQTT.
//
// Usage:
//
//	graysim                       run the simulator (config from GRAYSIM_CONFIG)
//	graysim validate <scenario>   check a scenario file and exit
//	graysim token -role operator  print a signed control surface token
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/gray-logic-sim/migrations"

	"github.com/nerrad567/gray-logic-sim/internal/api"
	"github.com/nerrad567/gray-logic-sim/internal/auth"
	"github.com/nerrad567/gray-logic-sim/internal/composer"
	"github.com/nerrad567/gray-logic-sim/internal/entity"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-sim/internal/recorder"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "validate":
		err = runValidate(os.Args[2:], os.Stdout)
	case len(os.Args) > 1 && os.Args[1] == "token":
		err = runToken(os.Args[2:], os.Stdout)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the simulator process, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	started := time.Now()
	log := logging.Default()
	log.Info("starting graysim",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to report to
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	// Run database (optional)
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("run database ready", "path", cfg.Database.Path)
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", mqttClient.Topics().Prefix(),
		)
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	var cols *metrics.Collectors
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if cols, err = metrics.New(reg); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}

	hub := api.NewHub(cfg.WebSocket, log)
	recOpts := recorder.Options{
		DB:      db,
		Influx:  influxClient,
		Live:    hub,
		Journal: cfg.Journal,
		Logger:  log,
	}
	if mqttClient != nil {
		recOpts.MQTT = mqttClient
	}

	comp := composer.New(composer.Options{
		Sinks:         recorder.New(recOpts),
		Metrics:       cols,
		Logger:        log.With("component", "composer"),
		DeviceLogger:  log.With("component", "device"),
		DelayOverride: delayOverride(cfg.Simulation),
	})

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Metrics:     cfg.Metrics,
		Logger:      log,
		Composer:    comp,
		Collectors:  cols,
		DB:          db,
		MQTT:        mqttClient,
		ExternalHub: hub,
		StopTimeout: cfg.GetStopTimeout(),
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if cfg.Simulation.ScenarioFile != "" {
		if err := startScenario(ctx, comp, cfg.Simulation); err != nil {
			return err
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if !comp.Reset(cfg.GetStopTimeout()) {
		log.Warn("simulation did not confirm stop before shutdown")
	}
	log.Info("graysim stopped", logging.Since(started))
	return nil
}

// startScenario applies the configured scenario and, with auto start,
// loads and starts it.
func startScenario(ctx context.Context, comp *composer.Composer, sim config.SimulationConfig) error {
	if err := comp.LoadScenario(sim.ScenarioFile); err != nil {
		return fmt.Errorf("loading scenario %s: %w", sim.ScenarioFile, err)
	}
	if !sim.AutoStart {
		return nil
	}
	if err := comp.Load(ctx); err != nil {
		return fmt.Errorf("loading composition: %w", err)
	}
	if err := comp.Start(ctx); err != nil {
		return fmt.Errorf("starting simulation: %w", err)
	}
	return nil
}

// delayOverride converts the configured override, negative meaning unset.
func delayOverride(sim config.SimulationConfig) *time.Duration {
	if sim.DelayOverride < 0 {
		return nil
	}
	d := time.Duration(sim.DelayOverride * float64(time.Second))
	return &d
}

// getConfigPath returns the configuration file path.
// Uses GRAYSIM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYSIM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every enabled backend. Nil clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// runValidate parses a scenario file and prints what it declares.
func runValidate(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: graysim validate <scenario.{json,yaml,toml}>")
	}
	sc, err := composer.ReadScenario(entity.DefaultRegistry(), args[0])
	if err != nil {
		return err
	}
	comp := composer.New(composer.Options{})
	if err := comp.Apply(sc); err != nil {
		return err
	}
	snap := comp.Snapshot()
	fmt.Fprintf(out, "%s: ok, %d meters, %d entities, %d intervals\n",
		args[0], len(snap.Meters), len(snap.Entities), sc.Parameters.Intervals)
	return nil
}

// runToken prints a bearer token signed with the configured secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("sub", "graysim-cli", "token subject")
	role := fs.String("role", string(auth.RoleViewer), "viewer, operator or admin")
	ttl := fs.Duration("ttl", 0, "token lifetime (default from api.auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	lifetime := *ttl
	if lifetime == 0 {
		lifetime = time.Duration(cfg.API.Auth.TokenTTL) * time.Minute
	}
	token, err := auth.IssueToken(*subject, auth.Role(*role), cfg.API.Auth.JWTSecret, lifetime)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
