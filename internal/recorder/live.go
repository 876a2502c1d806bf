package recorder

import (
	"context"

	"github.com/nerrad567/gray-logic-sim/internal/clock"
)

// Live broadcast channels.
const (
	ChannelTick    = "tick"
	ChannelCommand = "command"
	ChannelRun     = "run"
)

// Broadcaster fans a payload out to subscribers of a channel. The
// websocket hub implements it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// LiveSink pushes tick reports and command records to a Broadcaster.
type LiveSink struct {
	b     Broadcaster
	runID string
}

// NewLiveSink returns a sink broadcasting through b.
func NewLiveSink(b Broadcaster, runID string) *LiveSink {
	return &LiveSink{b: b, runID: runID}
}

// RecordTick implements clock.Sink.
func (s *LiveSink) RecordTick(_ context.Context, r *clock.Report) error {
	s.b.Broadcast(ChannelTick, r)
	return nil
}

// RecordCommand implements clock.Sink.
func (s *LiveSink) RecordCommand(_ context.Context, rec clock.CommandRecord) error {
	s.b.Broadcast(ChannelCommand, rec)
	return nil
}

// Flush announces the end of the run.
func (s *LiveSink) Flush(context.Context) error {
	s.b.Broadcast(ChannelRun, map[string]string{"id": s.runID, "state": "finished"})
	return nil
}
