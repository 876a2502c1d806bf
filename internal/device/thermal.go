package device

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	// airHeatCapacity is the volumetric heat capacity of air in J/(m³·K).
	airHeatCapacity = 1200.0
	// maxPhysicsStep bounds the explicit integration step of the zone model.
	maxPhysicsStep = 300.0
	secondsPerDay  = 86400
)

// ZoneConfig configures a two-resistance two-capacitance (2R2C) zone.
// Resistances in K/W, capacitances in J/K, temperatures in °C.
type ZoneConfig struct {
	RFloor             float64 `json:"rFloor,omitempty"`
	REnvelope          float64 `json:"rEnvelope,omitempty"`
	CFloor             float64 `json:"cFloor,omitempty"`
	CZone              float64 `json:"cZone,omitempty"`
	InitialTemperature float64 `json:"initialTemperature,omitempty"`
	WindowArea         float64 `json:"windowArea,omitempty"`
	GainFraction       float64 `json:"gainFraction,omitempty"`
	GainFile           string  `json:"gainFile,omitempty"`
	VentilationFile    string  `json:"ventilationFile,omitempty"`
	Column             int     `json:"column,omitempty"`
	DataTimeBase       int64   `json:"dataTimeBase,omitempty"`
}

// DefaultZoneConfig returns a typical Dutch terraced house.
func DefaultZoneConfig() ZoneConfig {
	return ZoneConfig{
		RFloor:             0.001,
		REnvelope:          0.0064,
		CFloor:             5100 * 3600,
		CZone:              21100 * 3600,
		InitialTemperature: 18.5,
		WindowArea:         10,
		GainFraction:       0.5,
		DataTimeBase:       60,
	}
}

// Zone is the thermal model of a heated space: an air node and a floor
// node. Heat sources deposit heat into the floor with AddHeat during the
// tick; the zone integrates in the physics phase.
type Zone struct {
	Base

	cfg         ZoneConfig
	meter       *Meter
	weather     *Weather
	sun         *Sun
	gains       *Series
	ventilation *Series

	temperature float64
	floor       float64
	outdoor     float64
	internal    float64
	solar       float64
	pendingHeat float64
	consumption Power
}

// NewZone creates a zone. weather and sun are optional.
func NewZone(name string, cfg ZoneConfig, start int64, meter *Meter, weather *Weather, sun *Sun) (*Zone, error) {
	if cfg.RFloor <= 0 || cfg.REnvelope <= 0 || cfg.CFloor <= 0 || cfg.CZone <= 0 {
		return nil, fmt.Errorf("%w: zone %s: resistances and capacitances must be positive", ErrInvalidConfig, name)
	}
	z := &Zone{
		Base:        NewBase(name, KindZone, PhasePhysics),
		cfg:         cfg,
		meter:       meter,
		weather:     weather,
		sun:         sun,
		temperature: cfg.InitialTemperature,
		floor:       cfg.InitialTemperature,
		outdoor:     cfg.InitialTemperature,
	}
	if cfg.GainFile != "" {
		s, err := LoadSeries(cfg.GainFile, cfg.Column, cfg.DataTimeBase, start)
		if err != nil {
			return nil, fmt.Errorf("zone %s: gains: %w", name, err)
		}
		z.gains = s
	}
	if cfg.VentilationFile != "" {
		s, err := LoadSeries(cfg.VentilationFile, cfg.Column, cfg.DataTimeBase, start)
		if err != nil {
			return nil, fmt.Errorf("zone %s: ventilation: %w", name, err)
		}
		z.ventilation = s
	}

	z.Expose("temperature", &z.temperature)
	z.Expose("floorTemperature", &z.floor, ReadOnly())
	z.Expose("outdoorTemperature", &z.outdoor, ReadOnly())
	z.Expose("internalGains", &z.internal, ReadOnly())
	z.Expose("solarGains", &z.solar, ReadOnly())
	z.Expose("consumption", &z.consumption, ReadOnly())
	z.Expose("windowArea", &z.cfg.WindowArea)
	z.Linkable("meter", linkMeter(name, "meter", &z.meter, Electricity))
	z.Linkable("weather", linkTo(name, "weather", &z.weather))
	z.Linkable("sun", linkTo(name, "sun", &z.sun))
	return z, nil
}

// Temperature returns the air temperature in °C.
func (z *Zone) Temperature() float64 { return z.temperature }

// AddHeat deposits w watts into the floor for the current tick. Negative
// values cool.
func (z *Zone) AddHeat(w float64) { z.pendingHeat += w }

// Tick integrates the 2R2C network over step.
func (z *Zone) Tick(now int64, step time.Duration) error {
	if z.weather != nil {
		z.outdoor = z.weather.Temperature()
	}

	z.solar = 0
	if z.sun != nil {
		z.solar = z.sun.Irradiance() * z.cfg.WindowArea
	}

	if z.gains != nil {
		v, err := z.gains.At(now)
		if err != nil {
			return err
		}
		z.internal = v
	} else {
		z.internal = z.cfg.GainFraction * math.Max(z.meter.Consumption(Electricity).Re, 0)
	}

	var airflow float64 // m³/h
	if z.ventilation != nil {
		v, err := z.ventilation.At(now)
		if err != nil {
			return err
		}
		airflow = v
	}

	heat := z.pendingHeat
	z.pendingHeat = 0
	z.consumption = Power{Re: heat}

	total := step.Seconds()
	n := math.Ceil(total / maxPhysicsStep)
	if n < 1 {
		n = 1
	}
	dt := total / n
	for i := 0; i < int(n); i++ {
		qFloor := (z.floor - z.temperature) / z.cfg.RFloor
		qEnvelope := (z.outdoor - z.temperature) / z.cfg.REnvelope
		qVentilation := airflow * airHeatCapacity / 3600 * (z.outdoor - z.temperature)

		z.temperature += dt * (qFloor + qEnvelope + qVentilation + z.solar + z.internal) / z.cfg.CZone
		z.floor += dt * (heat - qFloor) / z.cfg.CFloor
	}
	if math.IsNaN(z.temperature) || math.IsInf(z.temperature, 0) {
		return fmt.Errorf("%w: zone %s diverged", ErrInvalidValue, z.Name())
	}
	return nil
}

// ThermostatConfig configures a Thermostat.
type ThermostatConfig struct {
	TemperatureSetpointHeating float64    `json:"temperatureSetpointHeating,omitempty"`
	TemperatureSetpointCooling float64    `json:"temperatureSetpointCooling,omitempty"`
	TemperatureMin             float64    `json:"temperatureMin,omitempty"`
	TemperatureMax             float64    `json:"temperatureMax,omitempty"`
	TemperatureDeadband        [4]float64 `json:"temperatureDeadband,omitempty"`
	PreheatingTime             int64      `json:"preheatingTime,omitempty"`
	TimeBase                   int64      `json:"timeBase,omitempty"`
	StartTimes                 []int64    `json:"startTimes,omitempty"`
	Setpoints                  []float64  `json:"setpoints,omitempty"`
}

// DefaultThermostatConfig heats to 21 °C and cools above 23 °C.
func DefaultThermostatConfig() ThermostatConfig {
	return ThermostatConfig{
		TemperatureSetpointHeating: 21,
		TemperatureSetpointCooling: 23,
		TemperatureMin:             21,
		TemperatureMax:             23,
		TemperatureDeadband:        [4]float64{-0.1, 0, 0.5, 0.6},
		PreheatingTime:             3600,
		TimeBase:                   900,
	}
}

// ScheduleEntry changes the heating setpoint at a time of day.
type ScheduleEntry struct {
	StartTime int64   `json:"startTime"` // seconds after local midnight
	Setpoint  float64 `json:"setpoint"`
}

// Thermostat turns the zone temperature into heat and cool demand.
//
// The deadband is relative: heating switches on below
// setpointHeating+deadband[0] and off above setpointHeating+deadband[1];
// cooling switches off below setpointCooling+deadband[2] and on above
// setpointCooling+deadband[3]. Schedule entries move the heating setpoint
// at control-interval boundaries, PreheatingTime seconds early.
type Thermostat struct {
	Base

	zone     *Zone
	loc      *time.Location
	schedule []ScheduleEntry

	setpointHeating float64
	setpointCooling float64
	temperatureMin  float64
	temperatureMax  float64
	deadband        [4]float64
	preheatingTime  int64
	timeBase        int64

	heatDemand  bool
	coolDemand  bool
	comfortable bool
}

// NewThermostat creates a thermostat controlling zone.
func NewThermostat(name string, cfg ThermostatConfig, zone *Zone, loc *time.Location) (*Thermostat, error) {
	if len(cfg.StartTimes) != len(cfg.Setpoints) {
		return nil, fmt.Errorf("%w: thermostat %s: %d start times for %d setpoints",
			ErrInvalidConfig, name, len(cfg.StartTimes), len(cfg.Setpoints))
	}
	if loc == nil {
		loc = time.UTC
	}
	if cfg.TimeBase <= 0 {
		cfg.TimeBase = DefaultThermostatConfig().TimeBase
	}
	t := &Thermostat{
		Base:            NewBase(name, KindThermostat, PhaseControl),
		zone:            zone,
		loc:             loc,
		setpointHeating: cfg.TemperatureSetpointHeating,
		setpointCooling: cfg.TemperatureSetpointCooling,
		temperatureMin:  cfg.TemperatureMin,
		temperatureMax:  cfg.TemperatureMax,
		deadband:        cfg.TemperatureDeadband,
		preheatingTime:  cfg.PreheatingTime,
		timeBase:        cfg.TimeBase,
	}
	for i := range cfg.StartTimes {
		t.AddJob(ScheduleEntry{StartTime: cfg.StartTimes[i], Setpoint: cfg.Setpoints[i]})
	}

	t.Expose("temperatureSetpointHeating", &t.setpointHeating)
	t.Expose("temperatureSetpointCooling", &t.setpointCooling)
	t.Expose("temperatureMin", &t.temperatureMin)
	t.Expose("temperatureMax", &t.temperatureMax)
	t.Expose("temperatureDeadband", &t.deadband)
	t.Expose("preheatingTime", &t.preheatingTime)
	t.Expose("schedule", &t.schedule, ReadOnly())
	t.Expose("heatDemand", &t.heatDemand, ReadOnly())
	t.Expose("coolDemand", &t.coolDemand, ReadOnly())
	t.Expose("comfortable", &t.comfortable, ReadOnly())
	t.Handle("addJob", t.addJob)
	t.Linkable("zone", linkTo(name, "zone", &t.zone))
	return t, nil
}

// AddJob adds or replaces a schedule entry.
func (t *Thermostat) AddJob(e ScheduleEntry) {
	e.StartTime = ((e.StartTime % secondsPerDay) + secondsPerDay) % secondsPerDay
	for i := range t.schedule {
		if t.schedule[i].StartTime == e.StartTime {
			t.schedule[i] = e
			return
		}
	}
	t.schedule = append(t.schedule, e)
	sort.Slice(t.schedule, func(i, j int) bool { return t.schedule[i].StartTime < t.schedule[j].StartTime })
}

// HeatDemand reports whether the zone needs heat.
func (t *Thermostat) HeatDemand() bool { return t.heatDemand }

// CoolDemand reports whether the zone needs cooling.
func (t *Thermostat) CoolDemand() bool { return t.coolDemand }

// SetpointHeating returns the current heating setpoint.
func (t *Thermostat) SetpointHeating() float64 { return t.setpointHeating }

// scheduledSetpoint returns the setpoint in force at second-of-day sod.
func (t *Thermostat) scheduledSetpoint(sod int64) (float64, bool) {
	if len(t.schedule) == 0 {
		return 0, false
	}
	current := t.schedule[len(t.schedule)-1].Setpoint
	for _, e := range t.schedule {
		if e.StartTime <= sod {
			current = e.Setpoint
		}
	}
	return current, true
}

// Tick applies the schedule and updates demand with hysteresis.
func (t *Thermostat) Tick(now int64, step time.Duration) error {
	if t.zone == nil {
		return fmt.Errorf("%w: thermostat %s has no zone", ErrInvalidLink, t.Name())
	}

	stepSeconds := int64(step.Seconds())
	if stepSeconds <= 0 || now%t.timeBase < stepSeconds {
		local := time.Unix(now, 0).In(t.loc)
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.loc)
		sod := now - midnight.Unix()
		if sp, ok := t.scheduledSetpoint(sod); ok {
			if ahead, _ := t.scheduledSetpoint((sod + t.preheatingTime) % secondsPerDay); ahead > sp {
				sp = ahead
			}
			t.setpointHeating = sp
		}
	}

	temp := t.zone.Temperature()
	switch {
	case temp < t.setpointHeating+t.deadband[0]:
		t.heatDemand = true
	case temp > t.setpointHeating+t.deadband[1]:
		t.heatDemand = false
	}
	switch {
	case temp > t.setpointCooling+t.deadband[3]:
		t.coolDemand = true
	case temp < t.setpointCooling+t.deadband[2]:
		t.coolDemand = false
	}
	if t.heatDemand {
		t.coolDemand = false
	}
	t.comfortable = temp >= t.temperatureMin && temp <= t.temperatureMax
	return nil
}

func (t *Thermostat) addJob(args json.RawMessage) (any, error) {
	var e ScheduleEntry
	if err := DecodeArgs(args, &e); err != nil {
		return nil, err
	}
	t.AddJob(e)
	return len(t.schedule), nil
}

// DHWConfig configures a domestic hot water tap.
type DHWConfig struct {
	File     string `json:"file"`
	Column   int    `json:"column,omitempty"`
	TimeBase int64  `json:"timeBase,omitempty"`
}

// DefaultDHWConfig returns minute resolution.
func DefaultDHWConfig() DHWConfig {
	return DHWConfig{TimeBase: 60}
}

// DHW replays a hot water demand series in W of heat. Generators call
// Supply during the tick; shortfalls accumulate in unmet (Wh).
type DHW struct {
	Base

	series   *Series
	demand   float64
	supplied float64
	unmet    float64
	lastStep time.Duration
}

// NewDHW creates a tap from a data file.
func NewDHW(name string, cfg DHWConfig, start int64) (*DHW, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("%w: dhw %s needs a data file", ErrInvalidConfig, name)
	}
	s, err := LoadSeries(cfg.File, cfg.Column, cfg.TimeBase, start)
	if err != nil {
		return nil, fmt.Errorf("dhw %s: %w", name, err)
	}
	return newDHW(name, s), nil
}

// NewDHWFromSeries creates a tap from in-memory samples.
func NewDHWFromSeries(name string, s *Series) *DHW { return newDHW(name, s) }

func newDHW(name string, s *Series) *DHW {
	d := &DHW{
		Base:   NewBase(name, KindDHW, PhaseEnvironment),
		series: s,
	}
	d.Expose("demand", &d.demand, ReadOnly())
	d.Expose("supplied", &d.supplied, ReadOnly())
	d.Expose("unmet", &d.unmet, ReadOnly())
	return d
}

// Demand returns the heat still wanted this tick in W.
func (d *DHW) Demand() float64 { return math.Max(d.demand-d.supplied, 0) }

// Supply offers w watts and returns how much was taken.
func (d *DHW) Supply(w float64) float64 {
	taken := math.Min(math.Max(w, 0), d.Demand())
	d.supplied += taken
	return taken
}

// Tick books the previous tick's shortfall and samples new demand.
func (d *DHW) Tick(now int64, step time.Duration) error {
	d.unmet += math.Max(d.demand-d.supplied, 0) * d.lastStep.Hours()
	v, err := d.series.At(now)
	if err != nil {
		return err
	}
	d.demand = math.Max(v, 0)
	d.supplied = 0
	d.lastStep = step
	return nil
}
