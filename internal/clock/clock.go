package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/host"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/metrics"
)

const sinkFlushTimeout = 5 * time.Second

// ErrorPolicy decides what a failed entity tick does to the run.
type ErrorPolicy string

// Error policies.
const (
	PolicyContinue ErrorPolicy = "continue"
	PolicyAbort    ErrorPolicy = "abort"
)

// ParsePolicy maps a parameter value to a policy. Empty means continue.
func ParsePolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(s) {
	case "", PolicyContinue:
		return PolicyContinue, nil
	case PolicyAbort:
		return PolicyAbort, nil
	}
	return "", fmt.Errorf("unknown error policy %q", s)
}

// Host is what the clock drives.
type Host interface {
	Target
	Time() int64
	Tick() uint64
	Advance() []host.TickFailure
	Snapshot() []host.EntityState
}

// Report describes one completed tick.
type Report struct {
	Tick      uint64             `json:"tick"`
	Time      int64              `json:"time"`
	Next      int64              `json:"next"`
	Remaining int                `json:"remaining"`
	Duration  time.Duration      `json:"duration_ns"`
	Failures  []host.TickFailure `json:"failures,omitempty"`
	States    []host.EntityState `json:"states,omitempty"`
}

// CommandRecord describes one drained command.
type CommandRecord struct {
	Command Command `json:"command"`
	Applied bool    `json:"applied"`
	Error   string  `json:"error,omitempty"`
	Result  any     `json:"result,omitempty"`
	Time    int64   `json:"time"`
	Tick    uint64  `json:"tick"`
}

// Sink receives what the clock produces. Calls come from the clock
// goroutine only.
type Sink interface {
	RecordTick(ctx context.Context, r *Report) error
	RecordCommand(ctx context.Context, rec CommandRecord) error
	Flush(ctx context.Context) error
}

// Metrics is the instrumentation the clock updates.
type Metrics interface {
	ObserveTick(d time.Duration, simTime int64, remaining int64)
	EntityFailed(entity string)
	CommandDone(kind, status string)
	SetQueueDepth(n int)
}

// Logger defines the logging interface used by the Clock.
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

type noopMetrics struct{}

func (noopMetrics) ObserveTick(time.Duration, int64, int64) {}
func (noopMetrics) EntityFailed(string)                     {}
func (noopMetrics) CommandDone(string, string)              {}
func (noopMetrics) SetQueueDepth(int)                       {}

// Config controls one run.
type Config struct {
	Intervals       int           // ticks to run
	Delay           time.Duration // wall-clock pause between ticks
	Policy          ErrorPolicy
	RecordStates    bool // attach entity states to each report
	RecordCommands  bool // pass drained commands to the sink
	ExtendedLogging bool
}

type fastForward struct {
	at   int64
	done chan error
}

// Clock is the single goroutine that advances simulated time.
//
// Each iteration drains the queue, applies every command in FIFO order,
// then ticks the host once. Commands are therefore only ever applied
// between two ticks. Pause freezes time but keeps applying commands;
// SetTime fast-forwards without delays, even while paused.
type Clock struct {
	host    Host
	queue   *Queue
	cfg     Config
	sink    Sink
	metrics Metrics
	logger  Logger

	// tickMu is held by the loop from the pause check through the end of
	// the tick, so Pause returns only once no tick is in flight.
	tickMu sync.Mutex

	mu        sync.Mutex
	paused    bool
	remaining int
	targets   []*fastForward
	started   bool
	stopping  bool
	finished  bool
	cancel    context.CancelFunc
	result    error

	wake chan struct{}
	done chan struct{}
}

// New creates a clock over h fed by q.
func New(h Host, q *Queue, cfg Config) *Clock {
	if cfg.Policy == "" {
		cfg.Policy = PolicyContinue
	}
	return &Clock{
		host:      h,
		queue:     q,
		cfg:       cfg,
		metrics:   noopMetrics{},
		logger:    noopLogger{},
		remaining: cfg.Intervals,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger. Call before Start.
func (c *Clock) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetSink sets the recorder. Call before Start.
func (c *Clock) SetSink(s Sink) { c.sink = s }

// SetMetrics sets the instrumentation. Call before Start.
func (c *Clock) SetMetrics(m Metrics) {
	if m != nil {
		c.metrics = m
	}
}

// Start runs the clock on its own goroutine.
func (c *Clock) Start(ctx context.Context) error {
	runCtx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		if err := c.run(runCtx); err != nil {
			c.logger.Error("simulation stopped", "error", err)
		}
	}()
	return nil
}

// Run runs the clock on the calling goroutine until the intervals are
// exhausted, ctx is cancelled, Stop is called or the abort policy trips.
func (c *Clock) Run(ctx context.Context) error {
	runCtx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	return c.run(runCtx)
}

func (c *Clock) begin(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil, ErrAlreadyRunning
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	if c.stopping {
		cancel()
	}
	return runCtx, nil
}

func (c *Clock) run(ctx context.Context) error {
	c.logger.Info("simulation started", "time", c.host.Time(), "intervals", c.Remaining())
	err := c.loop(ctx)
	c.finish(err)
	return err
}

// Stop cancels the run and waits up to timeout for the loop to exit.
// Returns whether the stop was confirmed.
func (c *Clock) Stop(timeout time.Duration) bool {
	c.mu.Lock()
	c.stopping = true
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()

	if !started {
		return true
	}
	if cancel != nil {
		cancel()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return true
	case <-timer.C:
		c.logger.Warn("clock did not confirm stop", "timeout", timeout)
		return false
	}
}

// Done is closed when the loop has exited and sinks are flushed.
func (c *Clock) Done() <-chan struct{} { return c.done }

// Err returns why the loop exited; nil for a normal end or cancellation.
func (c *Clock) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Time returns the simulated instant of the next tick.
func (c *Clock) Time() int64 { return c.host.Time() }

// Remaining returns the number of ticks left.
func (c *Clock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Paused reports whether time is frozen.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Running reports whether the loop is active.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.finished
}

// Pause freezes simulated time. Returns false when already paused. A tick
// in progress completes before Pause returns; none starts after it.
func (c *Clock) Pause() bool {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.logger.Warn("pause ignored, clock already paused")
		return false
	}
	c.paused = true
	c.logger.Info("simulation paused", "time", c.host.Time())
	return true
}

// Resume lets time run again. Returns false when not paused.
func (c *Clock) Resume() bool {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		c.logger.Warn("resume ignored, clock not paused")
		return false
	}
	c.paused = false
	c.mu.Unlock()
	c.logger.Info("simulation resumed", "time", c.host.Time())
	c.signal()
	return true
}

// SetTime fast-forwards until the host reaches target, then returns. No
// wall-clock delay is applied meanwhile. A pause stays in effect and holds
// the clock again once the target is reached.
func (c *Clock) SetTime(ctx context.Context, target int64) error {
	now := c.host.Time()
	if target <= now {
		return fmt.Errorf("%w: target %d, now %d", ErrInvalidTarget, target, now)
	}

	ff := &fastForward{at: target, done: make(chan error, 1)}
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return ErrStopped
	}
	c.targets = append(c.targets, ff)
	c.mu.Unlock()
	c.logger.Info("fast-forward requested", "from", now, "to", target)
	c.signal()

	select {
	case err := <-ff.done:
		return err
	case <-ctx.Done():
		c.dropTarget(ff)
		return ctx.Err()
	}
}

// Step drains the queue and ticks once, ignoring pause. It must not be
// used while Run is active.
func (c *Clock) Step(ctx context.Context) (*Report, error) {
	c.drain(ctx)
	r, err := c.tick(ctx)
	c.releaseTargets()
	return r, err
}

func (c *Clock) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if c.Remaining() <= 0 {
			c.logger.Info("simulation finished", "time", c.host.Time(), "tick", c.host.Tick())
			return nil
		}

		c.drain(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.releaseTargets()

		c.tickMu.Lock()
		if c.gated() {
			c.tickMu.Unlock()
			c.waitForWake(ctx)
			continue
		}
		_, err := c.tick(ctx)
		c.tickMu.Unlock()
		if err != nil {
			return err
		}
		c.releaseTargets()

		if !c.fastForwarding() {
			c.sleep(ctx)
		}
	}
}

func (c *Clock) drain(ctx context.Context) {
	cmds := c.queue.Drain()
	c.metrics.SetQueueDepth(c.queue.Len())
	for _, cmd := range cmds {
		c.apply(ctx, cmd)
	}
}

func (c *Clock) apply(ctx context.Context, cmd Command) {
	result, err := c.safeApply(cmd)

	rec := CommandRecord{
		Command: cmd,
		Applied: err == nil,
		Result:  result,
		Time:    c.host.Time(),
		Tick:    c.host.Tick(),
	}
	if err != nil {
		rec.Error = err.Error()
		rec.Result = nil
		c.logger.Warn("command dropped",
			"id", cmd.ID, "cmd", cmd.Kind, "entity", cmd.Target, "name", cmd.Name, "error", err)
		c.metrics.CommandDone(string(cmd.Kind), metrics.StatusDropped)
	} else {
		if c.cfg.ExtendedLogging {
			c.logger.Debug("command applied", "id", cmd.ID, "cmd", cmd.Kind, "entity", cmd.Target, "name", cmd.Name)
		}
		c.metrics.CommandDone(string(cmd.Kind), metrics.StatusApplied)
	}

	if c.cfg.RecordCommands && c.sink != nil {
		if err := c.sink.RecordCommand(ctx, rec); err != nil {
			c.logger.Warn("recording command failed", "id", cmd.ID, "error", err)
		}
	}
}

func (c *Clock) safeApply(cmd Command) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying %s: %v", cmd.Kind, r)
		}
	}()
	return Apply(c.host, cmd)
}

func (c *Clock) tick(ctx context.Context) (*Report, error) {
	at := c.host.Time()
	start := time.Now()
	failures := c.host.Advance()
	elapsed := time.Since(start)

	c.mu.Lock()
	if c.remaining > 0 {
		c.remaining--
	}
	remaining := c.remaining
	c.mu.Unlock()

	report := &Report{
		Tick:      c.host.Tick(),
		Time:      at,
		Next:      c.host.Time(),
		Remaining: remaining,
		Duration:  elapsed,
		Failures:  failures,
	}
	if c.cfg.RecordStates {
		report.States = c.host.Snapshot()
	}

	c.metrics.ObserveTick(elapsed, report.Next, int64(remaining))
	for _, f := range failures {
		c.metrics.EntityFailed(f.Entity)
	}
	if c.cfg.ExtendedLogging {
		c.logger.Debug("tick", "tick", report.Tick, "time", at, "remaining", remaining, "failures", len(failures))
	}

	if c.sink != nil {
		if err := c.sink.RecordTick(ctx, report); err != nil {
			c.logger.Warn("recording tick failed", "tick", report.Tick, "error", err)
		}
	}

	if len(failures) > 0 && c.cfg.Policy == PolicyAbort {
		first := failures[0]
		return report, fmt.Errorf("%w: %s: %s", ErrAborted, first.Entity, first.Message)
	}
	return report, nil
}

func (c *Clock) gated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused && len(c.targets) == 0
}

func (c *Clock) fastForwarding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.targets) > 0
}

func (c *Clock) releaseTargets() {
	now := c.host.Time()
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.targets[:0]
	for _, ff := range c.targets {
		if now >= ff.at {
			ff.done <- nil
			continue
		}
		kept = append(kept, ff)
	}
	c.targets = kept
}

func (c *Clock) dropTarget(ff *fastForward) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, have := range c.targets {
		if have == ff {
			c.targets = append(c.targets[:i], c.targets[i+1:]...)
			return
		}
	}
}

func (c *Clock) waitForWake(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-c.queue.Notify():
	case <-c.wake:
	}
}

func (c *Clock) sleep(ctx context.Context) {
	if c.cfg.Delay <= 0 {
		return
	}
	timer := time.NewTimer(c.cfg.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-c.wake:
	}
}

func (c *Clock) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Clock) finish(err error) {
	c.mu.Lock()
	c.finished = true
	c.result = err
	for _, ff := range c.targets {
		ff.done <- ErrStopped
	}
	c.targets = nil
	c.mu.Unlock()

	if c.sink != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), sinkFlushTimeout)
		if ferr := c.sink.Flush(flushCtx); ferr != nil {
			c.logger.Warn("flushing recorder failed", "error", ferr)
		}
		cancel()
	}
	c.logger.Info("simulation stopped", "time", c.host.Time(), "tick", c.host.Tick())
	close(c.done)
}
