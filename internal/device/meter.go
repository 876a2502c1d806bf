package device

import (
	"encoding/json"
	"fmt"
	"time"
)

// MeterConfig configures a Meter.
type MeterConfig struct {
	Commodities []Commodity           `json:"commodities,omitempty"`
	Weights     map[Commodity]float64 `json:"weights,omitempty"`
}

// DefaultMeterConfig meters electricity with weight 1.
func DefaultMeterConfig() MeterConfig {
	return MeterConfig{Commodities: []Commodity{Electricity}}
}

// Meter aggregates the power reported by the devices it feeds.
//
// Devices call Report while they tick; the meter closes the tick in the
// metering phase, so Consumption always describes the last completed tick.
type Meter struct {
	Base

	commodities []Commodity
	weights     map[Commodity]float64
	pending     map[Commodity]Power
	consumption map[Commodity]Power
	imported    map[Commodity]float64 // Wh drawn
	exported    map[Commodity]float64 // Wh fed back
	total       float64
}

// NewMeter creates a meter. Missing weights default to 1.
func NewMeter(name string, cfg MeterConfig) (*Meter, error) {
	if len(cfg.Commodities) == 0 {
		cfg.Commodities = DefaultMeterConfig().Commodities
	}
	m := &Meter{
		Base:        NewBase(name, KindMeter, PhaseMetering),
		weights:     make(map[Commodity]float64, len(cfg.Commodities)),
		pending:     make(map[Commodity]Power, len(cfg.Commodities)),
		consumption: make(map[Commodity]Power, len(cfg.Commodities)),
		imported:    make(map[Commodity]float64, len(cfg.Commodities)),
		exported:    make(map[Commodity]float64, len(cfg.Commodities)),
	}
	for _, c := range cfg.Commodities {
		if !ValidCommodity(c) {
			return nil, fmt.Errorf("%w: meter %s: unknown commodity %q", ErrInvalidConfig, name, c)
		}
		if m.Carries(c) {
			return nil, fmt.Errorf("%w: meter %s: duplicate commodity %q", ErrInvalidConfig, name, c)
		}
		m.commodities = append(m.commodities, c)
		w, ok := cfg.Weights[c]
		if !ok {
			w = 1
		}
		m.weights[c] = w
		m.consumption[c] = Power{}
	}

	m.Expose("commodities", &m.commodities, ReadOnly())
	m.Expose("weights", &m.weights)
	m.Expose("consumption", &m.consumption, ReadOnly())
	m.Expose("total", &m.total, ReadOnly())
	m.Expose("imported", &m.imported, ReadOnly())
	m.Expose("exported", &m.exported, ReadOnly())
	m.Handle("reset", m.reset)
	return m, nil
}

// Carries reports whether the meter accounts for commodity c.
func (m *Meter) Carries(c Commodity) bool {
	if m == nil {
		return false
	}
	for _, have := range m.commodities {
		if have == c {
			return true
		}
	}
	return false
}

// Commodities returns the metered commodities in declaration order.
func (m *Meter) Commodities() []Commodity {
	out := make([]Commodity, len(m.commodities))
	copy(out, m.commodities)
	return out
}

// Report adds p to the running tick for commodity c. Reports for
// commodities the meter does not carry are ignored. Safe on a nil meter.
func (m *Meter) Report(c Commodity, p Power) {
	if !m.Carries(c) {
		return
	}
	m.pending[c] = m.pending[c].Add(p)
}

// Consumption returns the power metered for c over the last closed tick.
func (m *Meter) Consumption(c Commodity) Power {
	if m == nil {
		return Power{}
	}
	return m.consumption[c]
}

// Total returns the weighted active power of the last closed tick.
func (m *Meter) Total() float64 { return m.total }

// Tick closes the running tick and integrates energy.
func (m *Meter) Tick(_ int64, step time.Duration) error {
	hours := step.Hours()
	m.total = 0
	for _, c := range m.commodities {
		p := m.pending[c]
		m.consumption[c] = p
		if p.Re >= 0 {
			m.imported[c] += p.Re * hours
		} else {
			m.exported[c] -= p.Re * hours
		}
		m.total += m.weights[c] * p.Re
		m.pending[c] = Power{}
	}
	return nil
}

func (m *Meter) reset(json.RawMessage) (any, error) {
	for _, c := range m.commodities {
		m.imported[c] = 0
		m.exported[c] = 0
	}
	return true, nil
}
