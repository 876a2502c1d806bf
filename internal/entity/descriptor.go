package entity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-sim/internal/device"
)

// Descriptor is an immutable entity declaration.
type Descriptor interface {
	Kind() device.Kind
	Name() string
	Validate() error
}

// Materializer is a descriptor that can build its live entity.
type Materializer interface {
	Descriptor
	Materialize(env *Env) (device.Entity, error)
}

// Env is what a descriptor sees while it materializes.
type Env struct {
	Params   Parameters
	Timing   Timing
	Resolver Resolver
	Logger   device.Logger
}

type named struct {
	EntityName string `json:"name"`
}

func (n named) Name() string { return n.EntityName }

func (n named) Validate() error {
	if strings.TrimSpace(n.EntityName) == "" {
		return errors.New("name is required")
	}
	return nil
}

// HostDescriptor declares the simulation host. It carries no settings of
// its own; the host is built from the simulation parameters.
type HostDescriptor struct {
	named
}

func (*HostDescriptor) Kind() device.Kind { return device.KindHost }

// MeterDescriptor declares a meter.
type MeterDescriptor struct {
	named
	device.MeterConfig
}

func (*MeterDescriptor) Kind() device.Kind { return device.KindMeter }

func (d *MeterDescriptor) Validate() error {
	if err := d.named.Validate(); err != nil {
		return err
	}
	for _, c := range d.Commodities {
		if !device.ValidCommodity(c) {
			return fmt.Errorf("unknown commodity %q", c)
		}
	}
	return nil
}

// Carries reports whether the declared meter measures c. An empty
// commodity matches any meter.
func (d *MeterDescriptor) Carries(c device.Commodity) bool {
	if c == "" {
		return true
	}
	commodities := d.Commodities
	if len(commodities) == 0 {
		commodities = device.DefaultMeterConfig().Commodities
	}
	for _, have := range commodities {
		if have == c {
			return true
		}
	}
	return false
}

func (d *MeterDescriptor) Materialize(*Env) (device.Entity, error) {
	return device.NewMeter(d.EntityName, d.MeterConfig)
}

// WeatherDescriptor declares the outdoor temperature source.
type WeatherDescriptor struct {
	named
	device.WeatherConfig
}

func (*WeatherDescriptor) Kind() device.Kind { return device.KindWeather }

func (d *WeatherDescriptor) Materialize(env *Env) (device.Entity, error) {
	cfg := d.WeatherConfig
	if cfg.File == "" {
		cfg.File = env.Params.WeatherFile
	}
	return device.NewWeather(d.EntityName, cfg, env.Timing.DataStart)
}

// SunDescriptor declares the irradiance source.
type SunDescriptor struct {
	named
	device.SunConfig
}

func (*SunDescriptor) Kind() device.Kind { return device.KindSun }

func (d *SunDescriptor) Materialize(env *Env) (device.Entity, error) {
	cfg := d.SunConfig
	if cfg.File == "" {
		cfg.File = env.Params.IrradianceFile
	}
	return device.NewSun(d.EntityName, cfg, env.Timing.DataStart, env.Timing.Location)
}

// CurtailableDescriptor declares a curtailable load.
type CurtailableDescriptor struct {
	named
	device.CurtailableConfig
}

func (*CurtailableDescriptor) Kind() device.Kind { return device.KindCurtailable }

func (d *CurtailableDescriptor) Validate() error {
	if err := d.named.Validate(); err != nil {
		return err
	}
	if len(d.Profile) == 0 && d.Filename == "" {
		return errors.New("profile or filename is required")
	}
	return nil
}

func (d *CurtailableDescriptor) Materialize(env *Env) (device.Entity, error) {
	meter, err := need[*device.Meter](env, d.EntityName, MeterRole(device.Electricity))
	if err != nil {
		return nil, err
	}
	return device.NewCurtailableLoad(d.EntityName, d.CurtailableConfig, env.Timing.DataStart, meter)
}

// SolarPanelDescriptor declares a PV installation.
type SolarPanelDescriptor struct {
	named
	device.SolarPanelConfig
}

func (*SolarPanelDescriptor) Kind() device.Kind { return device.KindSolarPanel }

func (d *SolarPanelDescriptor) Materialize(env *Env) (device.Entity, error) {
	meter, err := need[*device.Meter](env, d.EntityName, MeterRole(device.Electricity))
	if err != nil {
		return nil, err
	}
	sun, err := want[*device.Sun](env, d.EntityName, KindRole(device.KindSun))
	if err != nil {
		return nil, err
	}
	return device.NewSolarPanel(d.EntityName, d.SolarPanelConfig, sun, meter)
}

// TimeShiftableDescriptor declares a schedulable appliance.
type TimeShiftableDescriptor struct {
	named
	device.TimeShiftableConfig
}

func (*TimeShiftableDescriptor) Kind() device.Kind { return device.KindTimeShiftable }

func (d *TimeShiftableDescriptor) Validate() error {
	if err := d.named.Validate(); err != nil {
		return err
	}
	if len(d.Profile) == 0 {
		return errors.New("profile is required")
	}
	return nil
}

func (d *TimeShiftableDescriptor) Materialize(env *Env) (device.Entity, error) {
	meter, err := need[*device.Meter](env, d.EntityName, MeterRole(device.Electricity))
	if err != nil {
		return nil, err
	}
	return device.NewTimeShiftable(d.EntityName, d.TimeShiftableConfig, meter)
}

// BatteryDescriptor declares a home battery.
type BatteryDescriptor struct {
	named
	device.BatteryConfig
}

func (*BatteryDescriptor) Kind() device.Kind { return device.KindBattery }

func (d *BatteryDescriptor) Materialize(env *Env) (device.Entity, error) {
	meter, err := need[*device.Meter](env, d.EntityName, MeterRole(device.Electricity))
	if err != nil {
		return nil, err
	}
	cfg := d.BatteryConfig
	cfg.UseFillMethod = cfg.UseFillMethod || env.Params.UseFillMethod
	return device.NewBattery(d.EntityName, cfg, meter)
}

// ZoneDescriptor declares a heated zone.
type ZoneDescriptor struct {
	named
	device.ZoneConfig
}

func (*ZoneDescriptor) Kind() device.Kind { return device.KindZone }

func (d *ZoneDescriptor) Materialize(env *Env) (device.Entity, error) {
	meter, err := need[*device.Meter](env, d.EntityName, MeterRole(device.Electricity))
	if err != nil {
		return nil, err
	}
	weather, err := want[*device.Weather](env, d.EntityName, KindRole(device.KindWeather))
	if err != nil {
		return nil, err
	}
	sun, err := want[*device.Sun](env, d.EntityName, KindRole(device.KindSun))
	if err != nil {
		return nil, err
	}
	cfg := d.ZoneConfig
	if cfg.GainFile == "" {
		cfg.GainFile = env.Params.GainFile
	}
	if cfg.VentilationFile == "" {
		cfg.VentilationFile = env.Params.VentilationFile
	}
	return device.NewZone(d.EntityName, cfg, env.Timing.DataStart, meter, weather, sun)
}

// ThermostatDescriptor declares a thermostat. Without its own schedule it
// takes the one from the simulation parameters.
type ThermostatDescriptor struct {
	named
	device.ThermostatConfig
}

func (*ThermostatDescriptor) Kind() device.Kind { return device.KindThermostat }

func (d *ThermostatDescriptor) Validate() error {
	if err := d.named.Validate(); err != nil {
		return err
	}
	if len(d.StartTimes) != len(d.Setpoints) {
		return fmt.Errorf("%d start times for %d setpoints", len(d.StartTimes), len(d.Setpoints))
	}
	return nil
}

func (d *ThermostatDescriptor) Materialize(env *Env) (device.Entity, error) {
	zone, err := need[*device.Zone](env, d.EntityName, KindRole(device.KindZone))
	if err != nil {
		return nil, err
	}
	cfg := d.ThermostatConfig
	if cfg.TimeBase <= 0 {
		cfg.TimeBase = env.Params.CtrlTimeBase
	}
	if len(cfg.StartTimes) == 0 {
		cfg.StartTimes = env.Params.ThermostatStartTimes
		cfg.Setpoints = env.Params.ThermostatSetpoints
	}
	return device.NewThermostat(d.EntityName, cfg, zone, env.Timing.Location)
}

// DHWDescriptor declares a hot water tap.
type DHWDescriptor struct {
	named
	device.DHWConfig
}

func (*DHWDescriptor) Kind() device.Kind { return device.KindDHW }

func (d *DHWDescriptor) Materialize(env *Env) (device.Entity, error) {
	cfg := d.DHWConfig
	if cfg.File == "" {
		cfg.File = env.Params.DHWFile
	}
	return device.NewDHW(d.EntityName, cfg, env.Timing.DataStart)
}

// HeatSourceDescriptor declares the heat source of a zone.
type HeatSourceDescriptor struct {
	named
	device.HeatSourceConfig
}

func (*HeatSourceDescriptor) Kind() device.Kind { return device.KindHeatSource }

func (d *HeatSourceDescriptor) Materialize(env *Env) (device.Entity, error) {
	zone, err := need[*device.Zone](env, d.EntityName, KindRole(device.KindZone))
	if err != nil {
		return nil, err
	}
	thermostat, err := need[*device.Thermostat](env, d.EntityName, KindRole(device.KindThermostat))
	if err != nil {
		return nil, err
	}
	elec, err := need[*device.Meter](env, d.EntityName, MeterRole(device.Electricity))
	if err != nil {
		return nil, err
	}
	gas, err := need[*device.Meter](env, d.EntityName, MeterRole(device.NaturalGas))
	if err != nil {
		return nil, err
	}
	return device.NewHeatSource(d.EntityName, d.HeatSourceConfig, zone, thermostat, elec, gas)
}

// HeatPumpDescriptor declares a heat pump serving hot water.
type HeatPumpDescriptor struct {
	named
	device.HeatPumpConfig
}

func (*HeatPumpDescriptor) Kind() device.Kind { return device.KindHeatPump }

func (d *HeatPumpDescriptor) Materialize(env *Env) (device.Entity, error) {
	source, err := need[*device.HeatSource](env, d.EntityName, KindRole(device.KindHeatSource))
	if err != nil {
		return nil, err
	}
	dhw, err := want[*device.DHW](env, d.EntityName, KindRole(device.KindDHW))
	if err != nil {
		return nil, err
	}
	return device.NewHeatPump(d.EntityName, d.HeatPumpConfig, source, dhw)
}
