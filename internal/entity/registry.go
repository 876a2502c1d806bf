package entity

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nerrad567/gray-logic-sim/internal/device"
)

//go:embed schema/declaration.schema.json
var declarationSchemaJSON string

var declarationSchema = jsonschema.MustCompileString("declaration.schema.json", declarationSchemaJSON)

// Constructor returns an empty descriptor, pre-filled with its defaults,
// for the payload to be decoded into. It must return a pointer.
type Constructor func() Descriptor

// Registry maps type tags to descriptor constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry holding every built-in kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(string(device.KindHost), func() Descriptor { return &HostDescriptor{} })
	r.Register(string(device.KindMeter), func() Descriptor {
		return &MeterDescriptor{MeterConfig: device.DefaultMeterConfig()}
	})
	r.Register(string(device.KindWeather), func() Descriptor {
		return &WeatherDescriptor{WeatherConfig: device.DefaultWeatherConfig()}
	})
	r.Register(string(device.KindSun), func() Descriptor {
		return &SunDescriptor{SunConfig: device.DefaultSunConfig()}
	})
	r.Register(string(device.KindCurtailable), func() Descriptor {
		return &CurtailableDescriptor{CurtailableConfig: device.DefaultCurtailableConfig()}
	})
	r.Register(string(device.KindSolarPanel), func() Descriptor {
		return &SolarPanelDescriptor{SolarPanelConfig: device.DefaultSolarPanelConfig()}
	})
	r.Register(string(device.KindTimeShiftable), func() Descriptor {
		return &TimeShiftableDescriptor{TimeShiftableConfig: device.DefaultTimeShiftableConfig()}
	})
	r.Register(string(device.KindBattery), func() Descriptor {
		return &BatteryDescriptor{BatteryConfig: device.DefaultBatteryConfig()}
	})
	r.Register(string(device.KindZone), func() Descriptor {
		return &ZoneDescriptor{ZoneConfig: device.DefaultZoneConfig()}
	})
	r.Register(string(device.KindThermostat), func() Descriptor {
		cfg := device.DefaultThermostatConfig()
		cfg.TimeBase = 0 // falls back to ctrlTimeBase
		return &ThermostatDescriptor{ThermostatConfig: cfg}
	})
	r.Register(string(device.KindDHW), func() Descriptor {
		return &DHWDescriptor{DHWConfig: device.DefaultDHWConfig()}
	})
	r.Register(string(device.KindHeatSource), func() Descriptor {
		return &HeatSourceDescriptor{HeatSourceConfig: device.DefaultHeatSourceConfig()}
	})
	r.Register(string(device.KindHeatPump), func() Descriptor {
		return &HeatPumpDescriptor{HeatPumpConfig: device.DefaultHeatPumpConfig()}
	})
	return r
}

// Register adds or replaces the constructor for tag. Tags are matched
// case-insensitively.
func (r *Registry) Register(tag string, ctor Constructor) {
	if ctor == nil {
		panic("entity: Register with nil constructor for " + tag)
	}
	r.mu.Lock()
	r.ctors[strings.ToLower(tag)] = ctor
	r.mu.Unlock()
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for tag := range r.ctors {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Decode builds the descriptor for tag from its payload.
func (r *Registry) Decode(tag string, payload json.RawMessage) (Descriptor, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	r.mu.RLock()
	ctor, ok := r.ctors[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, tag)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("%w: %s: empty payload", ErrMalformedDeclaration, tag)
	}

	d := ctor()
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(d); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedDeclaration, tag, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedDeclaration, tag, err)
	}
	return d, nil
}

// Deserialize parses a declaration envelope:
//
//	{"type": "battery", "entity": {"name": "battery-1", "capacity": 10000}}
func (r *Registry) Deserialize(data []byte) (Descriptor, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDeclaration, err)
	}
	if err := declarationSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDeclaration, err)
	}

	var env struct {
		Type   string          `json:"type"`
		Entity json.RawMessage `json:"entity"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDeclaration, err)
	}
	return r.Decode(env.Type, env.Entity)
}

// DeserializeMap parses a declaration already decoded into a generic map,
// as YAML and TOML readers produce.
func (r *Registry) DeserializeMap(m map[string]any) (Descriptor, error) {
	data, err := json.Marshal(normalize(m))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDeclaration, err)
	}
	return r.Deserialize(data)
}

var defaultRegistry = DefaultRegistry()

// Deserialize parses a declaration with the built-in kinds.
func Deserialize(data []byte) (Descriptor, error) { return defaultRegistry.Deserialize(data) }

// DeserializeMap parses a generic-map declaration with the built-in kinds.
func DeserializeMap(m map[string]any) (Descriptor, error) { return defaultRegistry.DeserializeMap(m) }

// normalize turns map[any]any values into map[string]any so the tree can
// be marshalled as JSON.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	}
	return v
}
