package device

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the lowercase type tag of a simulated entity.
type Kind string

// Entity kinds.
const (
	KindHost          Kind = "host"
	KindMeter         Kind = "meter"
	KindWeather       Kind = "weather"
	KindSun           Kind = "sun"
	KindCurtailable   Kind = "curt"
	KindSolarPanel    Kind = "solar_panel"
	KindTimeShiftable Kind = "timeshiftable"
	KindBattery       Kind = "battery"
	KindZone          Kind = "zone"
	KindThermostat    Kind = "thermostat"
	KindDHW           Kind = "dhw"
	KindHeatSource    Kind = "heat_source"
	KindHeatPump      Kind = "heat_pump"
)

// AllKinds returns every entity kind in declaration order.
func AllKinds() []Kind {
	return []Kind{
		KindHost, KindMeter, KindWeather, KindSun, KindCurtailable,
		KindSolarPanel, KindTimeShiftable, KindBattery, KindZone,
		KindThermostat, KindDHW, KindHeatSource, KindHeatPump,
	}
}

// Commodity is an energy carrier a meter can account for.
type Commodity string

// Commodities.
const (
	Electricity Commodity = "ELECTRICITY"
	NaturalGas  Commodity = "NATGAS"
	Heat        Commodity = "HEAT"
)

// ValidCommodity reports whether c is a known commodity.
func ValidCommodity(c Commodity) bool {
	switch c {
	case Electricity, NaturalGas, Heat:
		return true
	}
	return false
}

// Phase orders entities inside one tick. Lower phases tick first so
// producers of a value are always ahead of its consumers.
type Phase int

// Tick phases.
const (
	PhaseEnvironment Phase = iota // weather, sun
	PhaseControl                  // thermostats, heat sources, tap demand
	PhaseDevice                   // loads, generators, storage
	PhasePhysics                  // thermal zones
	PhaseMetering                 // meters close the tick
)

// Phases returns the phases in tick order.
func Phases() []Phase {
	return []Phase{PhaseEnvironment, PhaseControl, PhaseDevice, PhasePhysics, PhaseMetering}
}

func (p Phase) String() string {
	switch p {
	case PhaseEnvironment:
		return "environment"
	case PhaseControl:
		return "control"
	case PhaseDevice:
		return "device"
	case PhasePhysics:
		return "physics"
	case PhaseMetering:
		return "metering"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Power is complex electrical power in watts: Re is active power, Im is
// reactive power. Positive values are consumption, negative production.
type Power struct {
	Re float64 `json:"re"`
	Im float64 `json:"im"`
}

// Parts returns the real and imaginary components.
func (p Power) Parts() (re, im float64) { return p.Re, p.Im }

// Add returns p + q.
func (p Power) Add(q Power) Power { return Power{Re: p.Re + q.Re, Im: p.Im + q.Im} }

// Scale returns p multiplied by f.
func (p Power) Scale(f float64) Power { return Power{Re: p.Re * f, Im: p.Im * f} }

// UnmarshalJSON accepts {"re":x,"im":y}, a [re, im] pair, or a bare number.
func (p *Power) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		switch len(pair) {
		case 1:
			*p = Power{Re: pair[0]}
		case 2:
			*p = Power{Re: pair[0], Im: pair[1]}
		default:
			return fmt.Errorf("%w: power pair has %d elements", ErrInvalidValue, len(pair))
		}
		return nil
	}

	var re float64
	if err := json.Unmarshal(data, &re); err == nil {
		*p = Power{Re: re}
		return nil
	}

	type plain Power
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: power: %w", ErrInvalidValue, err)
	}
	*p = Power(obj)
	return nil
}

// Entity is the capability contract every simulated entity satisfies.
//
// The host calls Tick once per simulated interval, phase by phase. Call, Get,
// Set and Link are the generic control surface; they are never invoked
// concurrently with Tick.
type Entity interface {
	Name() string
	Kind() Kind
	Phase() Phase

	// Tick advances the entity over [now, now+step).
	Tick(now int64, step time.Duration) error

	Call(fn string, args json.RawMessage) (any, error)
	Get(v string) (any, error)
	Set(v string, value any) error
	Link(v string, target Entity) error

	// State returns a detached snapshot of every exposed variable.
	State() map[string]any
}

// Logger is the logging interface used by devices.
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
