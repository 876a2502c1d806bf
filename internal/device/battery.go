package device

import (
	"fmt"
	"math"
	"time"
)

// BatteryConfig configures a Battery. Energies in Wh, powers in W.
type BatteryConfig struct {
	Capacity           float64    `json:"capacity,omitempty"`
	InitialSoC         float64    `json:"initialSoC,omitempty"`
	ChargingPowers     [2]float64 `json:"chargingPowers,omitempty"`
	ChargingEfficiency float64    `json:"chargingEfficiency,omitempty"`
	UseFillMethod      bool       `json:"useFillMethod,omitempty"`
}

// DefaultBatteryConfig is a 12 kWh home battery at half charge.
func DefaultBatteryConfig() BatteryConfig {
	return BatteryConfig{
		Capacity:           12000,
		InitialSoC:         6000,
		ChargingPowers:     [2]float64{-3700, 3700},
		ChargingEfficiency: 0.95,
	}
}

// Battery stores electricity.
//
// Each tick it follows, in order of precedence: targetSoC (reach the
// target as fast as the power limits allow), the fill method (offset the
// household's net meter reading of the previous tick), or the plain
// power setpoint target.
type Battery struct {
	Base

	meter          *Meter
	capacity       float64
	soc            float64
	chargingPowers [2]float64
	efficiency     float64
	useFillMethod  bool
	target         float64
	targetSoC      *float64
	consumption    Power
}

// NewBattery creates a battery fed by meter.
func NewBattery(name string, cfg BatteryConfig, meter *Meter) (*Battery, error) {
	switch {
	case cfg.Capacity <= 0:
		return nil, fmt.Errorf("%w: battery %s: capacity %.1f", ErrInvalidConfig, name, cfg.Capacity)
	case cfg.InitialSoC < 0 || cfg.InitialSoC > cfg.Capacity:
		return nil, fmt.Errorf("%w: battery %s: initial SoC %.1f outside [0, %.1f]", ErrInvalidConfig, name, cfg.InitialSoC, cfg.Capacity)
	case cfg.ChargingPowers[0] > 0 || cfg.ChargingPowers[1] < 0:
		return nil, fmt.Errorf("%w: battery %s: charging powers %v", ErrInvalidConfig, name, cfg.ChargingPowers)
	case cfg.ChargingEfficiency <= 0 || cfg.ChargingEfficiency > 1:
		return nil, fmt.Errorf("%w: battery %s: efficiency %.2f", ErrInvalidConfig, name, cfg.ChargingEfficiency)
	}

	b := &Battery{
		Base:           NewBase(name, KindBattery, PhaseDevice),
		meter:          meter,
		capacity:       cfg.Capacity,
		soc:            cfg.InitialSoC,
		chargingPowers: cfg.ChargingPowers,
		efficiency:     cfg.ChargingEfficiency,
		useFillMethod:  cfg.UseFillMethod,
	}
	b.Expose("soc", &b.soc, ReadOnly())
	b.Expose("capacity", &b.capacity, ReadOnly())
	b.Expose("chargingPowers", &b.chargingPowers, ReadOnly())
	b.Expose("chargingEfficiency", &b.efficiency, ReadOnly())
	b.Expose("consumption", &b.consumption, ReadOnly())
	b.Expose("target", &b.target)
	b.Expose("targetSoC", &b.targetSoC, Check(b.checkSoC))
	b.Expose("useFillMethod", &b.useFillMethod)
	b.Linkable("meter", linkMeter(name, "meter", &b.meter, Electricity))
	return b, nil
}

// SoC returns the stored energy in Wh.
func (b *Battery) SoC() float64 { return b.soc }

// Consumption returns the power of the current tick (negative when discharging).
func (b *Battery) Consumption() Power { return b.consumption }

func (b *Battery) checkSoC(v any) error {
	p, _ := v.(*float64)
	if p != nil && (*p < 0 || *p > b.capacity) {
		return fmt.Errorf("target SoC %.1f outside [0, %.1f]", *p, b.capacity)
	}
	return nil
}

// Tick charges or discharges within power, energy and efficiency limits.
func (b *Battery) Tick(_ int64, step time.Duration) error {
	hours := step.Hours()
	if hours <= 0 {
		return fmt.Errorf("%w: step %s", ErrInvalidValue, step)
	}

	var p float64
	switch {
	case b.targetSoC != nil:
		diff := *b.targetSoC - b.soc
		if diff >= 0 {
			p = diff / b.efficiency / hours
		} else {
			p = diff * b.efficiency / hours
		}
	case b.useFillMethod:
		net := b.meter.Consumption(Electricity).Re - b.consumption.Re
		p = -net
	default:
		p = b.target
	}
	p = math.Max(b.chargingPowers[0], math.Min(b.chargingPowers[1], p))

	switch {
	case p > 0:
		stored := p * hours * b.efficiency
		if b.soc+stored > b.capacity {
			stored = b.capacity - b.soc
			p = stored / b.efficiency / hours
		}
		b.soc += stored
	case p < 0:
		drawn := -p * hours / b.efficiency
		if drawn > b.soc {
			drawn = b.soc
			p = -drawn * b.efficiency / hours
		}
		b.soc -= drawn
	}

	b.consumption = Power{Re: p}
	b.meter.Report(Electricity, b.consumption)
	return nil
}
