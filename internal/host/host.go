package host

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/device"
)

// Logger defines the logging interface used by the Host.
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

// Factory builds a live entity from a type tag and declaration payload.
//
// It runs while the Host holds its state lock: it may look entities up
// with Entity and Entities, but must not call the direct control methods.
type Factory func(typeName string, payload json.RawMessage) (device.Entity, error)

// Config sets the clock origin of a Host.
type Config struct {
	Start    int64          // unix seconds of the first tick
	TimeBase time.Duration  // simulated length of one tick
	Location *time.Location // zone for day-based schedules
}

// TickFailure records one entity failing during a tick.
type TickFailure struct {
	Entity   string      `json:"entity"`
	Kind     device.Kind `json:"kind"`
	Phase    string      `json:"phase"`
	Err      error       `json:"-"`
	Message  string      `json:"error"`
	Panicked bool        `json:"panicked,omitempty"`
}

// EntityState is a named state snapshot.
type EntityState struct {
	Name  string         `json:"name"`
	Kind  device.Kind    `json:"kind"`
	State map[string]any `json:"state"`
}

// Host owns the live entities and the simulated time.
//
// Thread Safety:
//   - mu guards the entity map and order; lookups never wait for a tick.
//   - stateMu is held for each tick and each direct call, so entity state
//     is touched by one goroutine at a time.
//   - Time and Tick are atomic and readable at any moment.
type Host struct {
	mu       sync.RWMutex
	stateMu  sync.Mutex
	entities map[string]device.Entity
	order    []string

	now      atomic.Int64
	tick     atomic.Uint64
	timeBase time.Duration
	location *time.Location

	factory Factory
	control atomic.Bool
	logger  Logger
}

// New creates a Host positioned at cfg.Start.
func New(cfg Config) *Host {
	if cfg.TimeBase <= 0 {
		cfg.TimeBase = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	h := &Host{
		entities: make(map[string]device.Entity),
		timeBase: cfg.TimeBase,
		location: cfg.Location,
		logger:   noopLogger{},
	}
	h.now.Store(cfg.Start)
	return h
}

// SetLogger sets the logger for the host.
func (h *Host) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.logger = logger
}

// SetFactory installs the constructor used by CreateObject.
func (h *Host) SetFactory(f Factory) {
	h.mu.Lock()
	h.factory = f
	h.mu.Unlock()
}

// Time returns the simulated instant of the next tick in unix seconds.
func (h *Host) Time() int64 { return h.now.Load() }

// Tick returns the number of completed ticks.
func (h *Host) Tick() uint64 { return h.tick.Load() }

// TimeBase returns the simulated length of one tick.
func (h *Host) TimeBase() time.Duration { return h.timeBase }

// Location returns the zone used for day-based schedules.
func (h *Host) Location() *time.Location { return h.location }

// SetControlSurface marks whether the control surface drives this host.
func (h *Host) SetControlSurface(on bool) { h.control.Store(on) }

// ControlSurface reports whether the control surface drives this host.
func (h *Host) ControlSurface() bool { return h.control.Load() }

// Add appends a live entity. Returns ErrEntityExists on a name clash.
func (h *Host) Add(e device.Entity) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addLocked(e)
}

func (h *Host) addLocked(e device.Entity) error {
	name := e.Name()
	if _, exists := h.entities[name]; exists {
		return fmt.Errorf("%w: %s", ErrEntityExists, name)
	}
	h.entities[name] = e
	h.order = append(h.order, name)
	return nil
}

// Entity returns the live entity called name.
func (h *Host) Entity(name string) (device.Entity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entities[name]
	return e, ok
}

// Entities returns the live entities in insertion order.
func (h *Host) Entities() []device.Entity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]device.Entity, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.entities[name])
	}
	return out
}

// ListEntityNames returns the entity names in insertion order.
func (h *Host) ListEntityNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Len returns the number of live entities.
func (h *Host) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}

func (h *Host) lookup(name string) (device.Entity, error) {
	e, ok := h.Entity(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, name)
	}
	return e, nil
}

// CallFunction invokes fn on the named entity.
func (h *Host) CallFunction(name, fn string, args json.RawMessage) (any, error) {
	e, err := h.lookup(name)
	if err != nil {
		return nil, err
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return e.Call(fn, args)
}

// GetVar reads a variable of the named entity.
func (h *Host) GetVar(name, v string) (any, error) {
	e, err := h.lookup(name)
	if err != nil {
		return nil, err
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return e.Get(v)
}

// SetVar writes a variable of the named entity.
func (h *Host) SetVar(name, v string, value any) (bool, error) {
	e, err := h.lookup(name)
	if err != nil {
		return false, err
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if err := e.Set(v, value); err != nil {
		return false, err
	}
	return true, nil
}

// SetObj points a reference slot of one live entity at another.
func (h *Host) SetObj(name, v, targetName string) (bool, error) {
	e, err := h.lookup(name)
	if err != nil {
		return false, err
	}
	target, err := h.lookup(targetName)
	if err != nil {
		return false, err
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if err := e.Link(v, target); err != nil {
		return false, err
	}
	return true, nil
}

// State returns a snapshot of the named entity.
func (h *Host) State(name string) (map[string]any, error) {
	e, err := h.lookup(name)
	if err != nil {
		return nil, err
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return e.State(), nil
}

// Snapshot returns every entity's state in insertion order.
func (h *Host) Snapshot() []EntityState {
	entities := h.Entities()
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	out := make([]EntityState, 0, len(entities))
	for _, e := range entities {
		out = append(out, EntityState{Name: e.Name(), Kind: e.Kind(), State: e.State()})
	}
	return out
}

// CreateObject builds an entity through the factory and appends it.
func (h *Host) CreateObject(typeName string, payload json.RawMessage) (device.Entity, error) {
	h.mu.RLock()
	factory := h.factory
	h.mu.RUnlock()
	if factory == nil {
		return nil, ErrNoFactory
	}

	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	e, err := factory(typeName, payload)
	if err != nil {
		return nil, err
	}
	if err := h.Add(e); err != nil {
		return nil, err
	}
	h.logger.Info("entity created", "entity", e.Name(), "kind", e.Kind())
	return e, nil
}

// RemoveObject drops the named entity. Peers keep their references; the
// removed entity simply stops ticking.
func (h *Host) RemoveObject(name string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.entities[name]; !ok {
		h.logger.Warn("remove of unknown entity", "entity", name)
		return false
	}
	delete(h.entities, name)
	for i, n := range h.order {
		if n == name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.logger.Info("entity removed", "entity", name)
	return true
}

// Advance ticks every entity once at the current instant, phase by phase
// and in insertion order within a phase, then moves time forward by one
// time base. A failing or panicking entity is reported and skipped; the
// others still tick.
func (h *Host) Advance() []TickFailure {
	entities := h.Entities()
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Phase() < entities[j].Phase() })

	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	now := h.now.Load()
	var failures []TickFailure
	for _, e := range entities {
		if f, failed := tickOne(e, now, h.timeBase); failed {
			h.logger.Warn("entity tick failed",
				"entity", f.Entity, "kind", f.Kind, "error", f.Message, "panicked", f.Panicked)
			failures = append(failures, f)
		}
	}

	h.now.Add(int64(h.timeBase / time.Second))
	h.tick.Add(1)
	return failures
}

func tickOne(e device.Entity, now int64, step time.Duration) (failure TickFailure, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			failure = TickFailure{
				Entity:   e.Name(),
				Kind:     e.Kind(),
				Phase:    e.Phase().String(),
				Err:      err,
				Message:  err.Error(),
				Panicked: true,
			}
			failed = true
		}
	}()

	if err := e.Tick(now, step); err != nil {
		return TickFailure{
			Entity:  e.Name(),
			Kind:    e.Kind(),
			Phase:   e.Phase().String(),
			Err:     err,
			Message: err.Error(),
		}, true
	}
	return TickFailure{}, false
}
