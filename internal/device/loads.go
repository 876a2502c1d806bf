package device

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// CurtailableConfig configures a CurtailableLoad. Either Profile or
// Filename must be set.
type CurtailableConfig struct {
	Profile          []Power `json:"profile,omitempty"`
	Filename         string  `json:"filename,omitempty"`
	FilenameReactive string  `json:"filenameReactive,omitempty"`
	Column           int     `json:"column,omitempty"`
	TimeBase         int64   `json:"timeBase,omitempty"`
}

// DefaultCurtailableConfig returns minute resolution.
func DefaultCurtailableConfig() CurtailableConfig {
	return CurtailableConfig{TimeBase: 60}
}

// CurtailableLoad replays a consumption profile that can be scaled down or
// switched off.
type CurtailableLoad struct {
	Base

	meter       *Meter
	active      *Series
	reactive    *Series
	consumption Power
	curtailment float64
	on          bool
}

// NewCurtailableLoad creates a load fed by meter. start is the instant of
// the first profile sample.
func NewCurtailableLoad(name string, cfg CurtailableConfig, start int64, meter *Meter) (*CurtailableLoad, error) {
	l := &CurtailableLoad{
		Base:  NewBase(name, KindCurtailable, PhaseDevice),
		meter: meter,
		on:    true,
	}

	switch {
	case len(cfg.Profile) > 0:
		re := make([]float64, len(cfg.Profile))
		im := make([]float64, len(cfg.Profile))
		for i, p := range cfg.Profile {
			re[i], im[i] = p.Re, p.Im
		}
		l.active = NewSeries(re, cfg.TimeBase, start)
		l.reactive = NewSeries(im, cfg.TimeBase, start)
	case cfg.Filename != "":
		s, err := LoadSeries(cfg.Filename, cfg.Column, cfg.TimeBase, start)
		if err != nil {
			return nil, fmt.Errorf("curtailable load %s: %w", name, err)
		}
		l.active = s
		if cfg.FilenameReactive != "" {
			r, err := LoadSeries(cfg.FilenameReactive, cfg.Column, cfg.TimeBase, start)
			if err != nil {
				return nil, fmt.Errorf("curtailable load %s: %w", name, err)
			}
			l.reactive = r
		}
	default:
		return nil, fmt.Errorf("%w: curtailable load %s needs a profile or a filename", ErrInvalidConfig, name)
	}

	l.Expose("consumption", &l.consumption, ReadOnly())
	l.Expose("curtailment", &l.curtailment, Check(unitInterval))
	l.Expose("onOffDevice", &l.on)
	l.Linkable("meter", linkMeter(name, "meter", &l.meter, Electricity))
	return l, nil
}

// Consumption returns the power drawn in the current tick.
func (l *CurtailableLoad) Consumption() Power { return l.consumption }

// Tick samples the profile and reports to the meter.
func (l *CurtailableLoad) Tick(now int64, _ time.Duration) error {
	re, err := l.active.At(now)
	if err != nil {
		return err
	}
	var im float64
	if l.reactive != nil {
		if im, err = l.reactive.At(now); err != nil {
			return err
		}
	}

	scale := 1 - l.curtailment
	if !l.on {
		scale = 0
	}
	l.consumption = Power{Re: re, Im: im}.Scale(scale)
	l.meter.Report(Electricity, l.consumption)
	return nil
}

// SolarPanelConfig configures a SolarPanel.
type SolarPanelConfig struct {
	Size        float64 `json:"size,omitempty"`        // m²
	Efficiency  float64 `json:"efficiency,omitempty"`  // percent
	Azimuth     float64 `json:"azimuth,omitempty"`     // degrees, 180 is south
	Inclination float64 `json:"inclination,omitempty"` // degrees from horizontal
}

// DefaultSolarPanelConfig is twelve 1.6 m² panels facing south.
func DefaultSolarPanelConfig() SolarPanelConfig {
	return SolarPanelConfig{Size: 19.2, Efficiency: 17, Azimuth: 180, Inclination: 35}
}

// SolarPanel converts irradiance into (negative) electrical consumption.
type SolarPanel struct {
	Base

	cfg         SolarPanelConfig
	sun         *Sun
	meter       *Meter
	consumption Power
	curtailment float64
	on          bool
}

// NewSolarPanel creates a panel. sun may be nil, in which case the panel
// produces nothing until one is linked.
func NewSolarPanel(name string, cfg SolarPanelConfig, sun *Sun, meter *Meter) (*SolarPanel, error) {
	if cfg.Size < 0 || cfg.Efficiency < 0 || cfg.Efficiency > 100 {
		return nil, fmt.Errorf("%w: solar panel %s: size %.2f efficiency %.2f", ErrInvalidConfig, name, cfg.Size, cfg.Efficiency)
	}
	p := &SolarPanel{
		Base:  NewBase(name, KindSolarPanel, PhaseDevice),
		cfg:   cfg,
		sun:   sun,
		meter: meter,
		on:    true,
	}
	p.Expose("consumption", &p.consumption, ReadOnly())
	p.Expose("size", &p.cfg.Size, ReadOnly())
	p.Expose("efficiency", &p.cfg.Efficiency, ReadOnly())
	p.Expose("azimuth", &p.cfg.Azimuth, ReadOnly())
	p.Expose("inclination", &p.cfg.Inclination, ReadOnly())
	p.Expose("curtailment", &p.curtailment, Check(unitInterval))
	p.Expose("onOffDevice", &p.on)
	p.Linkable("sun", linkTo(name, "sun", &p.sun))
	p.Linkable("meter", linkMeter(name, "meter", &p.meter, Electricity))
	return p, nil
}

// Consumption returns the power of the current tick (negative when producing).
func (p *SolarPanel) Consumption() Power { return p.consumption }

// orientation is a coarse derate for panels not facing south at 35°.
func (p *SolarPanel) orientation() float64 {
	az := (p.cfg.Azimuth - 180) * math.Pi / 180
	tilt := (p.cfg.Inclination - 35) * math.Pi / 180
	return math.Max(0, (0.75+0.25*math.Cos(az))*math.Cos(tilt))
}

// Tick computes production from the sun.
func (p *SolarPanel) Tick(int64, time.Duration) error {
	var irradiance float64
	if p.sun != nil {
		irradiance = p.sun.Irradiance()
	}
	produced := irradiance * p.cfg.Size * p.cfg.Efficiency / 100 * p.orientation()
	if !p.on {
		produced = 0
	}
	p.consumption = Power{Re: -produced * (1 - p.curtailment)}
	p.meter.Report(Electricity, p.consumption)
	return nil
}

// TimeShiftableConfig configures a TimeShiftable appliance.
type TimeShiftableConfig struct {
	Profile  []Power `json:"profile"`
	TimeBase int64   `json:"timeBase,omitempty"`
}

// DefaultTimeShiftableConfig returns minute resolution.
func DefaultTimeShiftableConfig() TimeShiftableConfig {
	return TimeShiftableConfig{TimeBase: 60}
}

// Job is one requested run of a time-shiftable appliance. The run starts
// at StartTime; EndTime is the deadline by which it should be done.
type Job struct {
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime"`
}

// TimeShiftable runs a fixed profile once per scheduled job.
type TimeShiftable struct {
	Base

	meter       *Meter
	profile     []Power
	timeBase    int64
	jobs        map[int]Job
	nextID      int
	currentJob  int
	startedAt   int64
	jobProgress float64
	consumption Power
}

// NewTimeShiftable creates an appliance fed by meter.
func NewTimeShiftable(name string, cfg TimeShiftableConfig, meter *Meter) (*TimeShiftable, error) {
	if len(cfg.Profile) == 0 {
		return nil, fmt.Errorf("%w: time-shiftable %s needs a profile", ErrInvalidConfig, name)
	}
	if cfg.TimeBase <= 0 {
		cfg.TimeBase = DefaultTimeShiftableConfig().TimeBase
	}
	t := &TimeShiftable{
		Base:       NewBase(name, KindTimeShiftable, PhaseDevice),
		meter:      meter,
		profile:    cfg.Profile,
		timeBase:   cfg.TimeBase,
		jobs:       make(map[int]Job),
		currentJob: -1,
	}
	t.Expose("consumption", &t.consumption, ReadOnly())
	t.Expose("profile", &t.profile, ReadOnly())
	t.Expose("jobs", &t.jobs, ReadOnly())
	t.Expose("currentJob", &t.currentJob, ReadOnly())
	t.Expose("jobProgress", &t.jobProgress, ReadOnly())
	t.Handle("scheduleJob", t.scheduleJob)
	t.Handle("cancelJob", t.cancelJob)
	t.Handle("forceShutdown", t.forceShutdown)
	t.Linkable("meter", linkMeter(name, "meter", &t.meter, Electricity))
	return t, nil
}

// Duration returns how long one run takes in seconds.
func (t *TimeShiftable) Duration() int64 { return int64(len(t.profile)) * t.timeBase }

// Schedule queues a run and returns its id.
func (t *TimeShiftable) Schedule(job Job) (int, error) {
	if job.EndTime < job.StartTime {
		return 0, fmt.Errorf("%w: job ends at %d before it starts at %d", ErrInvalidValue, job.EndTime, job.StartTime)
	}
	id := t.nextID
	t.nextID++
	t.jobs[id] = job
	return id, nil
}

// Running reports whether a job is in progress.
func (t *TimeShiftable) Running() bool { return t.currentJob >= 0 }

// Tick finishes the current job when its profile is exhausted, starts the
// earliest due job and reports the profile sample.
func (t *TimeShiftable) Tick(now int64, _ time.Duration) error {
	if t.currentJob >= 0 && (now-t.startedAt)/t.timeBase >= int64(len(t.profile)) {
		t.log().Debug("job finished", "entity", t.Name(), "job", t.currentJob)
		delete(t.jobs, t.currentJob)
		t.currentJob = -1
		t.jobProgress = 0
	}

	if t.currentJob < 0 {
		if id, ok := t.dueJob(now); ok {
			t.currentJob = id
			t.startedAt = now
		}
	}

	t.consumption = Power{}
	if t.currentJob >= 0 {
		idx := (now - t.startedAt) / t.timeBase
		t.consumption = t.profile[idx]
		t.jobProgress = float64(idx+1) / float64(len(t.profile))
	}
	t.meter.Report(Electricity, t.consumption)
	return nil
}

func (t *TimeShiftable) dueJob(now int64) (int, bool) {
	ids := make([]int, 0, len(t.jobs))
	for id, job := range t.jobs {
		if job.StartTime <= now {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, false
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := t.jobs[ids[i]], t.jobs[ids[j]]
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return ids[i] < ids[j]
	})
	return ids[0], true
}

func (t *TimeShiftable) scheduleJob(args json.RawMessage) (any, error) {
	var job Job
	if err := DecodeArgs(args, &job); err != nil {
		return nil, err
	}
	return t.Schedule(job)
}

func (t *TimeShiftable) cancelJob(args json.RawMessage) (any, error) {
	var req struct {
		ID int `json:"id"`
	}
	if err := DecodeArgs(args, &req); err != nil {
		return nil, err
	}
	if _, ok := t.jobs[req.ID]; !ok || req.ID == t.currentJob {
		return false, nil
	}
	delete(t.jobs, req.ID)
	return true, nil
}

func (t *TimeShiftable) forceShutdown(json.RawMessage) (any, error) {
	if t.currentJob < 0 {
		return false, nil
	}
	delete(t.jobs, t.currentJob)
	t.currentJob = -1
	t.jobProgress = 0
	return true, nil
}
