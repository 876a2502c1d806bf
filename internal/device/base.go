package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Func is an entity function reachable through Call.
type Func func(args json.RawMessage) (any, error)

// LinkFunc rewires one reference slot of an entity to target.
type LinkFunc func(target Entity) error

// FuncGetProperties is answered by every entity with its State.
const FuncGetProperties = "getProperties"

type variable struct {
	ptr      reflect.Value
	readOnly bool
	check    func(v any) error
}

// VarOption adjusts how a variable is exposed.
type VarOption func(*variable)

// ReadOnly exposes a variable for Get and State only.
func ReadOnly() VarOption {
	return func(v *variable) { v.readOnly = true }
}

// Check runs fn against a decoded value before it is assigned. A non-nil
// error rejects the Set and leaves the field untouched.
func Check(fn func(v any) error) VarOption {
	return func(v *variable) { v.check = fn }
}

// Base carries the generic control surface shared by all devices: a table
// of exposed typed fields, a function table and a reference table.
//
// Devices embed Base and register their fields in the constructor:
//
//	b := &Battery{Base: NewBase(name, KindBattery, PhaseDevice)}
//	b.Expose("soc", &b.soc, ReadOnly())
//	b.Handle("reset", b.reset)
//	b.Linkable("meter", b.linkMeter)
//
// Base is not safe for concurrent use; the host serializes access.
type Base struct {
	name   string
	kind   Kind
	phase  Phase
	vars   map[string]*variable
	order  []string
	funcs  map[string]Func
	links  map[string]LinkFunc
	logger Logger
}

// NewBase returns an empty control surface for an entity.
func NewBase(name string, kind Kind, phase Phase) Base {
	return Base{
		name:   name,
		kind:   kind,
		phase:  phase,
		vars:   make(map[string]*variable),
		funcs:  make(map[string]Func),
		links:  make(map[string]LinkFunc),
		logger: noopLogger{},
	}
}

// Name returns the entity name.
func (b *Base) Name() string { return b.name }

// Kind returns the entity kind.
func (b *Base) Kind() Kind { return b.kind }

// Phase returns the tick phase.
func (b *Base) Phase() Phase { return b.phase }

// SetLogger sets the logger used by the device.
func (b *Base) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

func (b *Base) log() Logger {
	if b.logger == nil {
		return noopLogger{}
	}
	return b.logger
}

// Expose registers a pointer to a field under name. Panics if ptr is not a
// non-nil pointer, which is a programming error in the device constructor.
func (b *Base) Expose(name string, ptr any, opts ...VarOption) {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		panic(fmt.Sprintf("device: Expose(%q) needs a non-nil pointer, got %T", name, ptr))
	}
	v := &variable{ptr: rv}
	for _, opt := range opts {
		opt(v)
	}
	if _, exists := b.vars[name]; !exists {
		b.order = append(b.order, name)
	}
	b.vars[name] = v
}

// Handle registers a function under name.
func (b *Base) Handle(name string, fn Func) { b.funcs[name] = fn }

// Linkable registers a reference slot under name.
func (b *Base) Linkable(name string, fn LinkFunc) { b.links[name] = fn }

// Call invokes a registered function. getProperties is always available.
func (b *Base) Call(fn string, args json.RawMessage) (any, error) {
	f, ok := b.funcs[fn]
	if !ok {
		if fn == FuncGetProperties {
			return b.State(), nil
		}
		return nil, fmt.Errorf("%w: %s.%s", ErrFunctionNotFound, b.name, fn)
	}
	return f(args)
}

// Get returns a detached copy of an exposed variable.
func (b *Base) Get(name string) (any, error) {
	v, ok := b.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrVarNotFound, b.name, name)
	}
	return snapshotValue(v.ptr.Elem()), nil
}

// Set converts value to the variable's type through JSON and assigns it.
//
// value may be raw JSON ([]byte or json.RawMessage), any Go value, or a
// string holding the JSON text of a non-string variable ("21.5", "true").
// The field is only written when decoding and the check both succeed.
func (b *Base) Set(name string, value any) error {
	v, ok := b.vars[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrVarNotFound, b.name, name)
	}
	if v.readOnly {
		return fmt.Errorf("%w: %s.%s", ErrReadOnly, b.name, name)
	}

	target := v.ptr.Elem().Type()
	raw, err := toJSON(value, target)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %w", ErrInvalidValue, b.name, name, err)
	}

	fresh := reflect.New(target)
	if err := json.Unmarshal(raw, fresh.Interface()); err != nil {
		return fmt.Errorf("%w: %s.%s: %w", ErrInvalidValue, b.name, name, err)
	}
	if v.check != nil {
		if err := v.check(fresh.Elem().Interface()); err != nil {
			return fmt.Errorf("%w: %s.%s: %w", ErrInvalidValue, b.name, name, err)
		}
	}
	v.ptr.Elem().Set(fresh.Elem())
	return nil
}

// Link points a reference slot at target.
func (b *Base) Link(name string, target Entity) error {
	fn, ok := b.links[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrLinkNotFound, b.name, name)
	}
	if target == nil {
		return fmt.Errorf("%w: %s.%s: nil target", ErrInvalidLink, b.name, name)
	}
	return fn(target)
}

// State returns a snapshot of every exposed variable.
func (b *Base) State() map[string]any {
	out := make(map[string]any, len(b.order))
	for _, name := range b.order {
		out[name] = snapshotValue(b.vars[name].ptr.Elem())
	}
	return out
}

// Vars lists exposed variable names in registration order.
func (b *Base) Vars() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Funcs lists registered function names, sorted.
func (b *Base) Funcs() []string {
	out := make([]string, 0, len(b.funcs)+1)
	for name := range b.funcs {
		out = append(out, name)
	}
	if _, ok := b.funcs[FuncGetProperties]; !ok {
		out = append(out, FuncGetProperties)
	}
	sort.Strings(out)
	return out
}

// DecodeArgs decodes function arguments into dst. Empty args leave dst
// untouched.
func DecodeArgs(args json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(args)) == 0 || string(bytes.TrimSpace(args)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: arguments: %w", ErrInvalidValue, err)
	}
	return nil
}

func toJSON(value any, target reflect.Type) ([]byte, error) {
	switch x := value.(type) {
	case json.RawMessage:
		return x, nil
	case []byte:
		return x, nil
	case string:
		if target.Kind() == reflect.String {
			return json.Marshal(x)
		}
		s := strings.TrimSpace(x)
		if target.Kind() == reflect.Bool {
			s = strings.ToLower(s)
		}
		return []byte(s), nil
	}
	return json.Marshal(value)
}

// snapshotValue detaches slices and maps from the entity's own storage.
// Map keys become strings so states nest as map[string]any.
func snapshotValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return map[string]any{}
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = snapshotValue(iter.Value())
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v.Interface()
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(out, v)
		return out.Interface()
	default:
		return v.Interface()
	}
}
