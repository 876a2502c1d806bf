// Package recorder persists and publishes what a simulation run produces.
//
// Each sink implements clock.Sink and receives tick reports and drained
// command records from the clock goroutine:
//
//   - LiveSink broadcasts to websocket subscribers.
//   - MQTTSink publishes tick summaries and retained entity state.
//   - Store writes the run, per-tick entity state and the command log to
//     the run database.
//   - InfluxSink writes numeric entity state at simulated time.
//   - Journal appends zstd-compressed JSON lines, rotated hourly.
//
// Recorder implements composer.SinkOpener and assembles the sinks of each
// run into a Fanout. The persistent sinks are only used when the run's
// parameters set enablePersistence.
package recorder
