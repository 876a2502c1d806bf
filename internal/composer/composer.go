package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-sim/internal/clock"
	"github.com/nerrad567/gray-logic-sim/internal/device"
	"github.com/nerrad567/gray-logic-sim/internal/entity"
	"github.com/nerrad567/gray-logic-sim/internal/host"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/metrics"
)

// Status is the lifecycle state of a composition.
type Status int32

const (
	StatusInactive Status = iota
	StatusLoaded
	StatusActive
)

var statusNames = [...]string{"INACTIVE", "LOADED", "ACTIVE"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int32(s))
	}
	return statusNames[s]
}

// MarshalJSON writes the status name.
func (s Status) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// Statuses lists every status name.
func Statuses() []string { return statusNames[:] }

// Logger defines the logging interface used by the Composer.
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

// Run describes one started simulation.
type Run struct {
	ID         string            `json:"id"`
	Parameters entity.Parameters `json:"parameters"`
	Timing     entity.Timing     `json:"-"`
	Started    time.Time         `json:"started"`
}

// SinkOpener provides the recorder for a run. It is called once per Start.
type SinkOpener interface {
	OpenSink(ctx context.Context, run Run) (clock.Sink, error)
}

// Options wires a Composer to its collaborators. Every field is optional.
type Options struct {
	Registry      *entity.Registry
	Sinks         SinkOpener
	Metrics       *metrics.Collectors
	Logger        Logger
	DeviceLogger  device.Logger
	DelayOverride *time.Duration // replaces timeDelayBase when set
}

// Composer assembles a declared entity graph and drives its lifecycle:
//
//	INACTIVE --Load--> LOADED --Start--> ACTIVE
//	    ^                                  |
//	    +--------------- Reset ------------+
//
// Thread Safety: mu serializes lifecycle changes and guards the declared
// composition; status is atomic so readers never wait on a load.
type Composer struct {
	status atomic.Int32

	mu       sync.Mutex
	hostDecl *entity.HostDescriptor
	shadowed []*entity.HostDescriptor // hosts replaced by hostDecl, oldest first
	meters   []entity.Descriptor
	entities []entity.Descriptor
	params   *entity.Parameters
	host     *host.Host
	queue    *clock.Queue
	clock    *clock.Clock
	run      *Run

	registry      *entity.Registry
	sinks         SinkOpener
	metrics       *metrics.Collectors
	logger        Logger
	deviceLogger  device.Logger
	delayOverride *time.Duration
}

// New creates an empty, INACTIVE composer.
func New(opts Options) *Composer {
	if opts.Registry == nil {
		opts.Registry = entity.DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	c := &Composer{
		registry:      opts.Registry,
		sinks:         opts.Sinks,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		deviceLogger:  opts.DeviceLogger,
		delayOverride: opts.DelayOverride,
	}
	c.metrics.SetComposerStatus(StatusInactive.String(), Statuses())
	return c
}

// Registry returns the registry used for declarations.
func (c *Composer) Registry() *entity.Registry { return c.registry }

// Status returns the lifecycle state.
func (c *Composer) Status() Status { return Status(c.status.Load()) }

func (c *Composer) transition(from, to Status) bool {
	if !c.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.metrics.SetComposerStatus(to.String(), Statuses())
	c.logger.Info("composer status changed", "from", from, "to", to)
	return true
}

// Add declares an entity. A host declaration replaces the current one until
// it is removed again.
func (c *Composer) Add(d entity.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(d)
}

func (c *Composer) addLocked(d entity.Descriptor) error {
	if c.Status() == StatusActive {
		return ErrAlreadyActive
	}
	name := d.Name()

	if hd, ok := d.(*entity.HostDescriptor); ok {
		if c.declaredLocked(name, true) {
			return fmt.Errorf("%w: %s", ErrDuplicateEntity, name)
		}
		if c.hostDecl != nil {
			c.logger.Warn("replacing host declaration", "old", c.hostDecl.Name(), "new", name)
			c.shadowed = append(c.shadowed, c.hostDecl)
		}
		c.hostDecl = hd
		return nil
	}

	if c.declaredLocked(name, false) {
		return fmt.Errorf("%w: %s", ErrDuplicateEntity, name)
	}
	if d.Kind() == device.KindMeter {
		c.meters = append(c.meters, d)
	} else {
		c.entities = append(c.entities, d)
	}
	c.logger.Debug("entity declared", "entity", name, "kind", d.Kind())
	return nil
}

func (c *Composer) declaredLocked(name string, skipHost bool) bool {
	if !skipHost {
		if c.hostDecl != nil && c.hostDecl.Name() == name {
			return true
		}
		for _, hd := range c.shadowed {
			if hd.Name() == name {
				return true
			}
		}
	}
	for _, list := range [][]entity.Descriptor{c.meters, c.entities} {
		for _, d := range list {
			if d.Name() == name {
				return true
			}
		}
	}
	return false
}

// AddDeclaration deserializes a declaration envelope and adds it.
func (c *Composer) AddDeclaration(data []byte) (entity.Descriptor, error) {
	d, err := c.registry.Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := c.Add(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Remove drops a declaration. It returns false when nothing is declared
// under name.
func (c *Composer) Remove(name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status() == StatusActive {
		return false, ErrAlreadyActive
	}

	if c.hostDecl != nil && c.hostDecl.Name() == name {
		c.hostDecl = nil
		if n := len(c.shadowed); n > 0 {
			c.hostDecl = c.shadowed[n-1]
			c.shadowed = c.shadowed[:n-1]
			c.logger.Info("host declaration restored", "host", c.hostDecl.Name())
		}
		return true, nil
	}
	for i, hd := range c.shadowed {
		if hd.Name() == name {
			c.shadowed = append(c.shadowed[:i:i], c.shadowed[i+1:]...)
			return true, nil
		}
	}
	if list, ok := without(c.meters, name); ok {
		c.meters = list
		return true, nil
	}
	if list, ok := without(c.entities, name); ok {
		c.entities = list
		return true, nil
	}
	c.logger.Warn("remove of undeclared entity", "entity", name)
	return false, nil
}

func without(list []entity.Descriptor, name string) ([]entity.Descriptor, bool) {
	for i, d := range list {
		if d.Name() == name {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}

// Configure sets the simulation parameters. It is legal once, before Load.
func (c *Composer) Configure(p entity.Parameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configureLocked(p)
}

func (c *Composer) configureLocked(p entity.Parameters) error {
	if c.params != nil || c.Status() != StatusInactive {
		return ErrAlreadyConfigured
	}
	if err := p.Validate(); err != nil {
		return err
	}
	c.params = &p
	return nil
}

// Load materializes the declared composition into a fresh host. On failure
// nothing is kept and the composer stays INACTIVE.
func (c *Composer) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Status() != StatusInactive {
		return ErrNotInactive
	}
	if c.hostDecl == nil {
		return ErrMissingHost
	}
	if c.params == nil {
		return ErrMissingParameters
	}
	if len(c.meters) == 0 {
		c.logger.Warn("loading without meters")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timing, err := c.params.Timing()
	if err != nil {
		return err
	}
	h := host.New(host.Config{Start: timing.Start, TimeBase: timing.TimeBase, Location: timing.Location})
	h.SetLogger(c.logger)

	env := entity.Env{Params: *c.params, Timing: timing, Logger: c.deviceLogger}
	live, err := entity.NewGraph(c.meters, c.entities, env).Build()
	if err != nil {
		return fmt.Errorf("loading composition: %w", err)
	}
	for _, e := range live {
		if err := h.Add(e); err != nil {
			return fmt.Errorf("loading composition: %w", err)
		}
	}
	h.SetFactory(entity.NewFactory(c.registry, h, env))

	c.host = h
	c.queue = clock.NewQueue()
	if !c.transition(StatusInactive, StatusLoaded) {
		c.host, c.queue = nil, nil
		return ErrNotInactive
	}
	c.logger.Info("composition loaded",
		"host", c.hostDecl.Name(), "meters", len(c.meters), "entities", len(c.entities), "start", timing.Start)
	return nil
}

// Start launches the clock on its own goroutine. The clock outlives ctx's
// cancellation; only Reset stops it.
func (c *Composer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.Status() {
	case StatusActive:
		return ErrAlreadyActive
	case StatusInactive:
		return ErrNotLoaded
	}
	if c.hostDecl == nil || c.host == nil {
		return ErrMissingHost
	}
	if c.params == nil {
		return ErrMissingParameters
	}
	if len(c.entities) == 0 {
		c.logger.Warn("starting without entities")
	}
	if len(c.meters) == 0 {
		c.logger.Warn("starting without meters")
	}

	timing, err := c.params.Timing()
	if err != nil {
		return err
	}
	run := Run{ID: uuid.NewString(), Parameters: *c.params, Timing: timing, Started: time.Now().UTC()}

	delay := timing.Delay
	if c.delayOverride != nil {
		delay = *c.delayOverride
	}
	clk := clock.New(c.host, c.queue, clock.Config{
		Intervals:       c.params.Intervals,
		Delay:           delay,
		Policy:          c.params.Policy(),
		RecordStates:    c.params.LogDevices,
		RecordCommands:  c.params.LogFlow,
		ExtendedLogging: c.params.ExtendedLogging,
	})
	clk.SetLogger(c.logger)
	if c.metrics != nil {
		clk.SetMetrics(c.metrics)
	}
	if c.sinks != nil {
		sink, err := c.sinks.OpenSink(ctx, run)
		if err != nil {
			return fmt.Errorf("opening recorder: %w", err)
		}
		clk.SetSink(sink)
	}

	if !c.transition(StatusLoaded, StatusActive) {
		return ErrAlreadyActive
	}
	c.host.SetControlSurface(true)
	c.clock = clk
	c.run = &run
	if err := clk.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	c.logger.Info("simulation started", "run", run.ID, "intervals", c.params.Intervals, "delay", delay)
	return nil
}

// Reset stops any running clock, waiting up to timeout, then discards the
// composition. It is always legal and reports whether the stop was
// confirmed.
func (c *Composer) Reset(timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	confirmed := true
	if c.clock != nil {
		confirmed = c.clock.Stop(timeout)
		if !confirmed {
			c.logger.Warn("clock did not stop in time", "timeout", timeout)
		}
	}
	if c.host != nil {
		c.host.SetControlSurface(false)
	}

	from := c.Status()
	c.hostDecl = nil
	c.shadowed = nil
	c.meters = nil
	c.entities = nil
	c.params = nil
	c.host = nil
	c.queue = nil
	c.clock = nil
	c.run = nil
	c.status.Store(int32(StatusInactive))
	c.metrics.SetComposerStatus(StatusInactive.String(), Statuses())
	c.logger.Info("composer reset", "from", from, "confirmed", confirmed)
	return confirmed
}

func (c *Composer) activeClock() (*clock.Clock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status() != StatusActive || c.clock == nil {
		return nil, ErrNotActive
	}
	return c.clock, nil
}

func (c *Composer) liveHost() (*host.Host, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status() == StatusInactive || c.host == nil {
		return nil, ErrNotLoaded
	}
	return c.host, nil
}

// Pause freezes simulated time.
func (c *Composer) Pause() (bool, error) {
	clk, err := c.activeClock()
	if err != nil {
		return false, err
	}
	return clk.Pause(), nil
}

// Resume lets simulated time run again.
func (c *Composer) Resume() (bool, error) {
	clk, err := c.activeClock()
	if err != nil {
		return false, err
	}
	return clk.Resume(), nil
}

// SetTime fast-forwards to target and blocks until it is reached.
func (c *Composer) SetTime(ctx context.Context, target int64) error {
	clk, err := c.activeClock()
	if err != nil {
		return err
	}
	return clk.SetTime(ctx, target)
}

// Time returns the next simulated instant and the completed tick count.
func (c *Composer) Time() (int64, uint64, error) {
	h, err := c.liveHost()
	if err != nil {
		return 0, 0, err
	}
	return h.Time(), h.Tick(), nil
}

// SubmitCommand queues cmd for the clock.
func (c *Composer) SubmitCommand(cmd clock.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	q, err := c.liveQueue()
	if err != nil {
		return err
	}
	q.Submit(cmd)
	c.metrics.SetQueueDepth(q.Len())
	return nil
}

// SubmitBatch queues cmds contiguously. An invalid command rejects the
// whole batch.
func (c *Composer) SubmitBatch(cmds []clock.Command) error {
	for i, cmd := range cmds {
		if err := cmd.Validate(); err != nil {
			return fmt.Errorf("batch[%d]: %w", i, err)
		}
	}
	q, err := c.liveQueue()
	if err != nil {
		return err
	}
	q.SubmitBatch(cmds)
	c.metrics.SetQueueDepth(q.Len())
	return nil
}

func (c *Composer) liveQueue() (*clock.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status() == StatusInactive || c.queue == nil {
		return nil, ErrNotLoaded
	}
	return c.queue, nil
}

// Query reads a variable directly.
func (c *Composer) Query(name, v string) (any, error) {
	h, err := c.liveHost()
	if err != nil {
		return nil, err
	}
	return h.GetVar(name, v)
}

// Invoke calls a function directly.
func (c *Composer) Invoke(name, fn string, args json.RawMessage) (any, error) {
	h, err := c.liveHost()
	if err != nil {
		return nil, err
	}
	return h.CallFunction(name, fn, args)
}

// Set writes a variable directly.
func (c *Composer) Set(name, v string, value any) (bool, error) {
	h, err := c.liveHost()
	if err != nil {
		return false, err
	}
	return h.SetVar(name, v, value)
}

// Link points a reference slot at another live entity directly.
func (c *Composer) Link(name, v, target string) (bool, error) {
	h, err := c.liveHost()
	if err != nil {
		return false, err
	}
	return h.SetObj(name, v, target)
}

// Create builds and adds a live entity directly.
func (c *Composer) Create(typeName string, payload json.RawMessage) (device.Entity, error) {
	h, err := c.liveHost()
	if err != nil {
		return nil, err
	}
	return h.CreateObject(typeName, payload)
}

// RemoveObject drops a live entity directly.
func (c *Composer) RemoveObject(name string) (bool, error) {
	h, err := c.liveHost()
	if err != nil {
		return false, err
	}
	return h.RemoveObject(name), nil
}

// ListEntityNames lists live entities in the order they joined the host.
// A load adds every declared meter before any other entity, each group in
// declaration order; entities created while running follow.
func (c *Composer) ListEntityNames() ([]string, error) {
	h, err := c.liveHost()
	if err != nil {
		return nil, err
	}
	return h.ListEntityNames(), nil
}

// EntityState returns the state of one live entity.
func (c *Composer) EntityState(name string) (map[string]any, error) {
	h, err := c.liveHost()
	if err != nil {
		return nil, err
	}
	return h.State(name)
}

// Declaration pairs a descriptor with its type tag.
type Declaration struct {
	Type   device.Kind       `json:"type"`
	Entity entity.Descriptor `json:"entity"`
}

// Composition is the declared state of a composer.
type Composition struct {
	Status     Status             `json:"status"`
	Host       *Declaration       `json:"host,omitempty"`
	Meters     []Declaration      `json:"meters"`
	Entities   []Declaration      `json:"entities"`
	Parameters *entity.Parameters `json:"parameters,omitempty"`
}

// Snapshot returns the declared composition.
func (c *Composer) Snapshot() Composition {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Composition{
		Status:   c.Status(),
		Meters:   declarations(c.meters),
		Entities: declarations(c.entities),
	}
	if c.hostDecl != nil {
		out.Host = &Declaration{Type: c.hostDecl.Kind(), Entity: c.hostDecl}
	}
	if c.params != nil {
		p := *c.params
		out.Parameters = &p
	}
	return out
}

func declarations(list []entity.Descriptor) []Declaration {
	out := make([]Declaration, 0, len(list))
	for _, d := range list {
		out = append(out, Declaration{Type: d.Kind(), Entity: d})
	}
	return out
}

// Info summarizes the lifecycle and clock for status endpoints.
type Info struct {
	Status    Status `json:"status"`
	RunID     string `json:"run_id,omitempty"`
	Time      int64  `json:"time"`
	Tick      uint64 `json:"tick"`
	Remaining int    `json:"remaining"`
	Paused    bool   `json:"paused"`
	Running   bool   `json:"running"`
	Entities  int    `json:"entities"`
	Meters    int    `json:"meters"`
}

// Info returns the current summary.
func (c *Composer) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{
		Status:   c.Status(),
		Entities: len(c.entities),
		Meters:   len(c.meters),
	}
	if c.host != nil {
		info.Time = c.host.Time()
		info.Tick = c.host.Tick()
	}
	if c.params != nil {
		info.Remaining = c.params.Intervals
	}
	if c.clock != nil {
		info.Remaining = c.clock.Remaining()
		info.Paused = c.clock.Paused()
		info.Running = c.clock.Running()
	}
	if c.run != nil {
		info.RunID = c.run.ID
	}
	return info
}

// Done returns a channel closed when the active run ends, or nil before
// Start.
func (c *Composer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock == nil {
		return nil
	}
	return c.clock.Done()
}
