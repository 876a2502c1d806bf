package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/clock"
)

// DefaultTimeZone is used when parameters name no zone.
const DefaultTimeZone = "Europe/Amsterdam"

// Parameters configures one simulation run. It is set once, before load,
// and never changes afterwards.
type Parameters struct {
	TimeBase      int64   `json:"timeBase"`      // seconds per tick
	TimeDelayBase float64 `json:"timeDelayBase"` // wall-clock seconds between ticks
	StartTime     *int64  `json:"startTime,omitempty"`
	StartDate     string  `json:"startDate,omitempty"`
	TimeOffset    int64   `json:"timeOffset"`
	TimeZone      string  `json:"timeZone"`
	Intervals     int     `json:"intervals"`

	Database          string `json:"database"`
	DataPrefix        string `json:"dataPrefix"`
	ClearDB           bool   `json:"clearDB"`
	ExtendedLogging   bool   `json:"extendedLogging"`
	LogDevices        bool   `json:"logDevices"`
	LogFlow           bool   `json:"logFlow"`
	EnablePersistence bool   `json:"enablePersistence"`

	WeatherFile     string `json:"weatherFile,omitempty"`
	IrradianceFile  string `json:"irradianceFile,omitempty"`
	DHWFile         string `json:"dhwFile,omitempty"`
	GainFile        string `json:"gainFile,omitempty"`
	VentilationFile string `json:"ventilationFile,omitempty"`

	UseFillMethod        bool      `json:"useFillMethod"`
	CtrlTimeBase         int64     `json:"ctrlTimeBase"`
	ThermostatStartTimes []int64   `json:"thermostatStartTimes,omitempty"`
	ThermostatSetpoints  []float64 `json:"thermostatSetpoints,omitempty"`

	ErrorPolicy string `json:"errorPolicy"`
}

// DefaultParameters returns the defaults every decoded parameter set starts
// from. Start time and interval count have no default.
func DefaultParameters() Parameters {
	return Parameters{
		TimeBase:     60,
		TimeZone:     DefaultTimeZone,
		Database:     "dem",
		LogDevices:   true,
		CtrlTimeBase: 900,
		ErrorPolicy:  string(clock.PolicyContinue),
	}
}

// DecodeParameters reads a JSON parameter object over the defaults.
// Unknown fields are rejected.
func DecodeParameters(data []byte) (Parameters, error) {
	p := DefaultParameters()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Parameters{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return p, nil
}

// ParametersFromMap decodes parameters from a generic map, as produced by
// the YAML and TOML scenario readers.
func ParametersFromMap(m map[string]any) (Parameters, error) {
	data, err := json.Marshal(normalize(m))
	if err != nil {
		return Parameters{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return DecodeParameters(data)
}

// Validate checks every field and reports all problems at once.
func (p Parameters) Validate() error {
	var errs []string

	if p.TimeBase <= 0 {
		errs = append(errs, "timeBase must be positive")
	}
	if p.Intervals <= 0 {
		errs = append(errs, "intervals must be positive")
	}
	if p.TimeDelayBase < 0 {
		errs = append(errs, "timeDelayBase must not be negative")
	}
	if p.CtrlTimeBase < 0 {
		errs = append(errs, "ctrlTimeBase must not be negative")
	}

	loc, err := p.Location()
	if err != nil {
		errs = append(errs, err.Error())
	}
	if p.StartTime == nil && p.StartDate == "" {
		errs = append(errs, "startTime or startDate is required")
	} else if loc != nil {
		if _, err := p.startInstant(loc); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(p.ThermostatStartTimes) != len(p.ThermostatSetpoints) {
		errs = append(errs, fmt.Sprintf("thermostatStartTimes has %d entries, thermostatSetpoints %d",
			len(p.ThermostatStartTimes), len(p.ThermostatSetpoints)))
	}
	if _, err := clock.ParsePolicy(p.ErrorPolicy); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(errs, "; "))
	}
	return nil
}

// Location loads the configured time zone.
func (p Parameters) Location() (*time.Location, error) {
	name := p.TimeZone
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeZone %q: %w", name, err)
	}
	return loc, nil
}

func (p Parameters) startInstant(loc *time.Location) (int64, error) {
	if p.StartTime != nil {
		return *p.StartTime, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, p.StartDate, loc); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("startDate %q is not RFC 3339 or YYYY-MM-DD", p.StartDate)
}

// Timing is the resolved time frame of a run.
type Timing struct {
	Start     int64 // instant of the first tick, offset included
	DataStart int64 // instant of the first sample in data files
	TimeBase  time.Duration
	Delay     time.Duration
	Location  *time.Location
}

// Timing resolves the start instant, zone and durations.
//
// The offset moves the simulated clock but not the data files, so a run
// with timeOffset 86400 starts one day into every series.
func (p Parameters) Timing() (Timing, error) {
	loc, err := p.Location()
	if err != nil {
		return Timing{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	start, err := p.startInstant(loc)
	if err != nil {
		return Timing{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return Timing{
		Start:     start + p.TimeOffset,
		DataStart: start,
		TimeBase:  time.Duration(p.TimeBase) * time.Second,
		Delay:     time.Duration(p.TimeDelayBase * float64(time.Second)),
		Location:  loc,
	}, nil
}

// Policy returns the parsed error policy. Call after Validate.
func (p Parameters) Policy() clock.ErrorPolicy {
	policy, err := clock.ParsePolicy(p.ErrorPolicy)
	if err != nil {
		return clock.PolicyContinue
	}
	return policy
}
