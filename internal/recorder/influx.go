package recorder

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/clock"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/influxdb"
)

// MeasurementCommand holds one point per drained command.
const MeasurementCommand = "command"

// InfluxSink writes entity state and the clock position to InfluxDB at
// simulated time. Entity tags carry the run's data prefix.
type InfluxSink struct {
	client *influxdb.Client
	runID  string
	prefix string
}

// NewInfluxSink returns a sink writing through client.
func NewInfluxSink(client *influxdb.Client, runID, prefix string) *InfluxSink {
	return &InfluxSink{client: client, runID: runID, prefix: prefix}
}

// RecordTick implements clock.Sink. Writes are batched by the client and
// never block the clock.
func (s *InfluxSink) RecordTick(_ context.Context, r *clock.Report) error {
	ts := time.Unix(r.Time, 0)
	for _, st := range r.States {
		s.client.WriteEntityState(s.prefix, st.Name, string(st.Kind), st.State, ts)
	}
	s.client.WriteClock(s.prefix, r.Tick, len(r.Failures), ts)
	return nil
}

// RecordCommand implements clock.Sink.
func (s *InfluxSink) RecordCommand(_ context.Context, rec clock.CommandRecord) error {
	status := StatusApplied
	if !rec.Applied {
		status = StatusDropped
	}
	s.client.WritePointWithTime(MeasurementCommand,
		map[string]string{"run": s.runID, "cmd": string(rec.Command.Kind), "status": status},
		map[string]any{"tick": int64(rec.Tick), "entity": s.prefix + rec.Command.Target}, //nolint:gosec // tick counts fit in int64
		time.Unix(rec.Time, 0),
	)
	return nil
}

// Flush implements clock.Sink.
func (s *InfluxSink) Flush(context.Context) error {
	s.client.Flush()
	return nil
}
