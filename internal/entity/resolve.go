package entity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-sim/internal/device"
	"github.com/nerrad567/gray-logic-sim/internal/host"
)

// Role names a peer an entity needs: a kind, and for meters the commodity
// the meter must carry.
type Role struct {
	Kind      device.Kind      `json:"kind"`
	Commodity device.Commodity `json:"commodity,omitempty"`
}

// MeterRole is the role of a meter carrying c.
func MeterRole(c device.Commodity) Role { return Role{Kind: device.KindMeter, Commodity: c} }

// KindRole is the role of any entity of kind k.
func KindRole(k device.Kind) Role { return Role{Kind: k} }

func (r Role) String() string {
	if r.Commodity != "" {
		return fmt.Sprintf("%s[%s]", r.Kind, r.Commodity)
	}
	return string(r.Kind)
}

// Resolver finds the live entity filling a role. The first match in
// insertion order wins, so declaration order decides which of two
// candidates a dependent gets.
type Resolver interface {
	Resolve(role Role) (device.Entity, error)
}

// need resolves a required peer and attributes a miss to owner.
func need[T device.Entity](env *Env, owner string, role Role) (T, error) {
	var zero T
	if env.Resolver == nil {
		return zero, &MissingDependencyError{Entity: owner, Role: role}
	}
	e, err := env.Resolver.Resolve(role)
	if err != nil {
		var md *MissingDependencyError
		if errors.As(err, &md) && md.Entity == "" {
			md.Entity = owner
		}
		return zero, err
	}
	t, ok := e.(T)
	if !ok {
		return zero, &MissingDependencyError{Entity: owner, Role: role}
	}
	return t, nil
}

// want resolves an optional peer. Only a plain miss of this very role is
// tolerated; cycles and failures further down still fail.
func want[T device.Entity](env *Env, owner string, role Role) (T, error) {
	t, err := need[T](env, owner, role)
	var md *MissingDependencyError
	if errors.As(err, &md) && !md.Cycle && md.Entity == owner && md.Role == role {
		var zero T
		return zero, nil
	}
	return t, err
}

// Graph materializes a declared composition: meters first, then entities,
// each in declaration order. A dependency declared later than its
// dependent is materialized on demand.
type Graph struct {
	env      Env
	meters   []Descriptor
	entities []Descriptor
	live     map[string]device.Entity
	building map[string]bool
}

// NewGraph prepares a build. env.Resolver is ignored; the graph resolves
// against its own declarations.
func NewGraph(meters, entities []Descriptor, env Env) *Graph {
	return &Graph{
		env:      env,
		meters:   meters,
		entities: entities,
		live:     make(map[string]device.Entity, len(meters)+len(entities)),
		building: make(map[string]bool),
	}
}

// Build materializes everything and returns the live entities in
// declaration order. It stops at the first failure.
func (g *Graph) Build() ([]device.Entity, error) {
	out := make([]device.Entity, 0, len(g.meters)+len(g.entities))
	for _, list := range [][]Descriptor{g.meters, g.entities} {
		for _, d := range list {
			e, err := g.materialize(d)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// Resolve implements Resolver over the declarations.
func (g *Graph) Resolve(role Role) (device.Entity, error) {
	d := g.find(role)
	if d == nil {
		return nil, &MissingDependencyError{Role: role}
	}
	if g.building[d.Name()] {
		return nil, &MissingDependencyError{Role: role, Cycle: true}
	}
	return g.materialize(d)
}

func (g *Graph) find(role Role) Descriptor {
	if role.Kind == device.KindMeter {
		for _, d := range g.meters {
			if m, ok := d.(*MeterDescriptor); ok && m.Carries(role.Commodity) {
				return d
			}
		}
		return nil
	}
	for _, d := range g.entities {
		if d.Kind() == role.Kind {
			return d
		}
	}
	return nil
}

func (g *Graph) materialize(d Descriptor) (device.Entity, error) {
	name := d.Name()
	if e, ok := g.live[name]; ok {
		return e, nil
	}
	m, ok := d.(Materializer)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotMaterializable, d.Kind(), name)
	}

	g.building[name] = true
	env := g.env
	env.Resolver = g
	e, err := m.Materialize(&env)
	delete(g.building, name)
	if err != nil {
		return nil, fmt.Errorf("materializing %s %s: %w", d.Kind(), name, err)
	}

	setLogger(e, g.env.Logger)
	g.live[name] = e
	return e, nil
}

// EntitySource lists live entities in insertion order.
type EntitySource interface {
	Entities() []device.Entity
}

// LiveResolver resolves roles against a running host, with the same
// first-match rules as a load.
type LiveResolver struct {
	Source EntitySource
}

// Resolve implements Resolver.
func (r LiveResolver) Resolve(role Role) (device.Entity, error) {
	for _, e := range r.Source.Entities() {
		if role.Kind == device.KindMeter {
			if m, ok := e.(*device.Meter); ok && (role.Commodity == "" || m.Carries(role.Commodity)) {
				return e, nil
			}
			continue
		}
		if e.Kind() == role.Kind {
			return e, nil
		}
	}
	return nil, &MissingDependencyError{Role: role}
}

// NewFactory returns the host factory behind createObject. Peers are
// looked up among the host's live entities.
func NewFactory(reg *Registry, h *host.Host, env Env) host.Factory {
	return func(typeName string, payload json.RawMessage) (device.Entity, error) {
		d, err := reg.Decode(typeName, payload)
		if err != nil {
			return nil, err
		}
		m, ok := d.(Materializer)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotMaterializable, d.Kind())
		}
		// Materializing may attach the new entity to its peers, so a
		// name clash has to be caught first.
		if _, exists := h.Entity(d.Name()); exists {
			return nil, fmt.Errorf("%w: %s", host.ErrEntityExists, d.Name())
		}

		e := env
		e.Resolver = LiveResolver{Source: h}
		live, err := m.Materialize(&e)
		if err != nil {
			return nil, fmt.Errorf("materializing %s %s: %w", d.Kind(), d.Name(), err)
		}
		setLogger(live, env.Logger)
		return live, nil
	}
}

func setLogger(e device.Entity, logger device.Logger) {
	if logger == nil {
		return
	}
	if l, ok := e.(interface{ SetLogger(device.Logger) }); ok {
		l.SetLogger(logger)
	}
}
