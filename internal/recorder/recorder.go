package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-sim/internal/clock"
	"github.com/nerrad567/gray-logic-sim/internal/composer"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/influxdb"
)

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Fanout forwards every record to each sink in order. Every sink sees every
// record; their errors are joined.
type Fanout []clock.Sink

// RecordTick implements clock.Sink.
func (f Fanout) RecordTick(ctx context.Context, r *clock.Report) error {
	var errs []error
	for _, s := range f {
		if err := s.RecordTick(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordCommand implements clock.Sink.
func (f Fanout) RecordCommand(ctx context.Context, rec clock.CommandRecord) error {
	var errs []error
	for _, s := range f {
		if err := s.RecordCommand(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush implements clock.Sink.
func (f Fanout) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range f {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options selects the outputs of a Recorder. Nil outputs are skipped.
type Options struct {
	DB      *database.DB
	Influx  *influxdb.Client
	MQTT    Publisher
	Live    Broadcaster
	Journal config.JournalConfig
	Logger  Logger
}

// Recorder opens the sinks of each run. Live outputs (websocket, MQTT) are
// fed on every run; the run database, InfluxDB and the journal only when
// the run's parameters enable persistence.
type Recorder struct {
	db      *database.DB
	influx  *influxdb.Client
	mqtt    Publisher
	live    Broadcaster
	journal config.JournalConfig
	logger  Logger
}

// New creates a Recorder.
func New(opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Recorder{
		db:      opts.DB,
		influx:  opts.Influx,
		mqtt:    opts.MQTT,
		live:    opts.Live,
		journal: opts.Journal,
		logger:  opts.Logger,
	}
}

// OpenSink implements composer.SinkOpener.
func (r *Recorder) OpenSink(ctx context.Context, run composer.Run) (clock.Sink, error) {
	var (
		sinks Fanout
		names []string
	)
	if r.live != nil {
		sinks = append(sinks, NewLiveSink(r.live, run.ID))
		names = append(names, "websocket")
	}
	if r.mqtt != nil {
		sinks = append(sinks, NewMQTTSink(r.mqtt, r.logger))
		names = append(names, "mqtt")
	}

	if run.Parameters.EnablePersistence {
		if r.db != nil {
			store := NewStore(r.db)
			if err := store.BeginRun(ctx, run); err != nil {
				return nil, fmt.Errorf("recording run %s: %w", run.ID, err)
			}
			sinks = append(sinks, store)
			names = append(names, "sqlite")
		}
		if r.influx != nil && r.influx.IsConnected() {
			sinks = append(sinks, NewInfluxSink(r.influx, run.ID, run.Parameters.DataPrefix))
			names = append(names, "influxdb")
		}
		if r.journal.Enabled {
			prefix := r.journal.Prefix
			if run.Parameters.DataPrefix != "" {
				prefix = run.Parameters.DataPrefix + prefix
			}
			sinks = append(sinks, NewJournal(r.journal.Dir, prefix, run.ID))
			names = append(names, "journal")
		}
	}

	r.logger.Info("recorder opened", "run", run.ID, "sinks", names,
		"persistence", run.Parameters.EnablePersistence)
	return sinks, nil
}
