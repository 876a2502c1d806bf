package device

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Heating types of a HeatSource.
const (
	HeatingConventional = "CONVENTIONAL"
	HeatingHeatPump     = "HP"
	HeatingCHP          = "CHP"
)

// HeatSourceConfig configures a HeatSource. Capacity is the rated heat
// output in W; zero picks a default for the heating type.
type HeatSourceConfig struct {
	HeatingType string  `json:"heatingType,omitempty"`
	Capacity    float64 `json:"capacity,omitempty"`
}

// DefaultHeatSourceConfig is a gas boiler.
func DefaultHeatSourceConfig() HeatSourceConfig {
	return HeatSourceConfig{HeatingType: HeatingConventional}
}

// heatingProfile holds the rated output and the conversion factors (heat
// produced per unit of commodity input) of one heating type. A negative
// factor means the commodity is produced rather than consumed.
type heatingProfile struct {
	capacity float64
	cop      map[Commodity]float64
	cooling  bool
}

func profileFor(heatingType string) (heatingProfile, bool) {
	switch heatingType {
	case HeatingConventional:
		return heatingProfile{capacity: 24000, cop: map[Commodity]float64{NaturalGas: 0.95}}, true
	case HeatingHeatPump:
		return heatingProfile{capacity: 4500, cop: map[Commodity]float64{Electricity: 4.0}, cooling: true}, true
	case HeatingCHP:
		return heatingProfile{capacity: 13500, cop: map[Commodity]float64{
			Electricity: -13.5 / 6.0,
			NaturalGas:  13.5 / 21.0,
		}}, true
	}
	return heatingProfile{}, false
}

// HeatSource is the central heating appliance of a house. It serves the
// thermostat's demand into the zone and any attached hot water taps, and
// books its fuel on the electricity and gas meters.
type HeatSource struct {
	Base

	heatingType string
	profile     heatingProfile
	zone        *Zone
	thermostat  *Thermostat
	electricity *Meter
	gas         *Meter
	taps        []*DHW

	capacity    float64
	request     float64
	delivered   float64
	consumption map[Commodity]Power
}

// NewHeatSource creates a heat source.
func NewHeatSource(name string, cfg HeatSourceConfig, zone *Zone, thermostat *Thermostat, electricity, gas *Meter) (*HeatSource, error) {
	heatingType := strings.ToUpper(cfg.HeatingType)
	if heatingType == "" {
		heatingType = HeatingConventional
	}
	profile, ok := profileFor(heatingType)
	if !ok {
		return nil, fmt.Errorf("%w: heat source %s: heating type %q", ErrInvalidConfig, name, cfg.HeatingType)
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = profile.capacity
	}

	h := &HeatSource{
		Base:        NewBase(name, KindHeatSource, PhaseControl),
		heatingType: heatingType,
		profile:     profile,
		zone:        zone,
		thermostat:  thermostat,
		electricity: electricity,
		gas:         gas,
		capacity:    capacity,
		consumption: make(map[Commodity]Power, len(profile.cop)),
	}
	h.Expose("heatingType", &h.heatingType, ReadOnly())
	h.Expose("capacity", &h.capacity, Check(nonNegative))
	h.Expose("request", &h.request, ReadOnly())
	h.Expose("delivered", &h.delivered, ReadOnly())
	h.Expose("consumption", &h.consumption, ReadOnly())
	h.Linkable("zone", linkTo(name, "zone", &h.zone))
	h.Linkable("thermostat", linkTo(name, "thermostat", &h.thermostat))
	h.Linkable("electricityMeter", linkMeter(name, "electricityMeter", &h.electricity, Electricity))
	h.Linkable("gasMeter", linkMeter(name, "gasMeter", &h.gas, NaturalGas))
	return h, nil
}

// HeatingType returns CONVENTIONAL, HP or CHP.
func (h *HeatSource) HeatingType() string { return h.heatingType }

// ElectricityMeter returns the meter the source books electricity on.
func (h *HeatSource) ElectricityMeter() *Meter { return h.electricity }

// AttachTap makes the source serve a hot water tap.
func (h *HeatSource) AttachTap(d *DHW) {
	for _, have := range h.taps {
		if have == d {
			return
		}
	}
	h.taps = append(h.taps, d)
}

// Request returns the heat requested for the zone this tick in W.
func (h *HeatSource) Request() float64 { return h.request }

// Tick serves taps first, then the zone, within capacity.
func (h *HeatSource) Tick(int64, time.Duration) error {
	h.request = 0
	if h.thermostat != nil {
		switch {
		case h.thermostat.HeatDemand():
			h.request = h.capacity
		case h.thermostat.CoolDemand() && h.profile.cooling:
			h.request = -h.capacity
		}
	}

	available := h.capacity
	var produced float64
	for _, tap := range h.taps {
		taken := tap.Supply(available)
		available -= taken
		produced += taken
	}

	space := h.request
	if space > 0 {
		space = math.Min(space, available)
	}
	if space != 0 && h.zone != nil {
		h.zone.AddHeat(space)
	}
	produced += math.Abs(space)
	h.delivered = produced

	for c, cop := range h.profile.cop {
		p := Power{Re: produced / cop}
		h.consumption[c] = p
		switch c {
		case Electricity:
			h.electricity.Report(c, p)
		case NaturalGas:
			h.gas.Report(c, p)
		}
	}
	return nil
}

// HeatPumpConfig configures a dedicated hot water heat pump.
type HeatPumpConfig struct {
	ProducingTemperatures [2]float64 `json:"producingTemperatures,omitempty"`
	ProducingPowers       [2]float64 `json:"producingPowers,omitempty"`
	COP                   float64    `json:"cop,omitempty"`
}

// DefaultHeatPumpConfig is a 4.5 kW unit with a COP of 4.
func DefaultHeatPumpConfig() HeatPumpConfig {
	return HeatPumpConfig{
		ProducingTemperatures: [2]float64{0, 35},
		ProducingPowers:       [2]float64{-4500, 4500},
		COP:                   4,
	}
}

// HeatPump serves hot water next to a heat source.
//
// When the source is itself a heat pump it lacks the headroom for tap
// water, so this unit heats the tap and books its own electricity. For
// boilers and CHPs the tap is attached to the source and this unit idles.
type HeatPump struct {
	Base

	cfg         HeatPumpConfig
	source      *HeatSource
	dhw         *DHW
	meter       *Meter
	dedicated   bool
	production  float64
	consumption Power
}

// NewHeatPump creates a heat pump next to source. dhw is optional.
func NewHeatPump(name string, cfg HeatPumpConfig, source *HeatSource, dhw *DHW) (*HeatPump, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: heat pump %s needs a heat source", ErrInvalidConfig, name)
	}
	if cfg.COP <= 0 {
		return nil, fmt.Errorf("%w: heat pump %s: cop %.2f", ErrInvalidConfig, name, cfg.COP)
	}
	if cfg.ProducingPowers[1] < 0 || cfg.ProducingPowers[0] > cfg.ProducingPowers[1] {
		return nil, fmt.Errorf("%w: heat pump %s: producing powers %v", ErrInvalidConfig, name, cfg.ProducingPowers)
	}

	hp := &HeatPump{
		Base:   NewBase(name, KindHeatPump, PhaseDevice),
		cfg:    cfg,
		source: source,
		dhw:    dhw,
		meter:  source.ElectricityMeter(),
	}
	hp.attach()

	hp.Expose("producingTemperatures", &hp.cfg.ProducingTemperatures)
	hp.Expose("producingPowers", &hp.cfg.ProducingPowers, ReadOnly())
	hp.Expose("cop", &hp.cfg.COP, Check(positive))
	hp.Expose("dedicated", &hp.dedicated, ReadOnly())
	hp.Expose("production", &hp.production, ReadOnly())
	hp.Expose("consumption", &hp.consumption, ReadOnly())
	hp.Linkable("dhw", func(target Entity) error {
		if err := linkTo(name, "dhw", &hp.dhw)(target); err != nil {
			return err
		}
		hp.attach()
		return nil
	})
	return hp, nil
}

func (hp *HeatPump) attach() {
	hp.dedicated = hp.source.HeatingType() == HeatingHeatPump
	if hp.dhw != nil && !hp.dedicated {
		hp.source.AttachTap(hp.dhw)
	}
}

// Tick heats the tap within the producing power limit.
func (hp *HeatPump) Tick(int64, time.Duration) error {
	hp.production = 0
	if hp.dedicated && hp.dhw != nil {
		hp.production = hp.dhw.Supply(hp.cfg.ProducingPowers[1])
	}
	hp.consumption = Power{Re: hp.production / hp.cfg.COP}
	hp.meter.Report(Electricity, hp.consumption)
	return nil
}

func nonNegative(v any) error {
	if f, _ := v.(float64); f < 0 {
		return fmt.Errorf("%v is negative", v)
	}
	return nil
}

func positive(v any) error {
	if f, _ := v.(float64); f <= 0 {
		return fmt.Errorf("%v is not positive", v)
	}
	return nil
}
