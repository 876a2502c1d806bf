package device

import (
	"fmt"
	"math"
	"time"
)

// WeatherConfig configures a Weather entity.
type WeatherConfig struct {
	File        string  `json:"file,omitempty"`
	Column      int     `json:"column,omitempty"`
	TimeBase    int64   `json:"timeBase,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// DefaultWeatherConfig returns hourly data and a 10 °C fallback.
func DefaultWeatherConfig() WeatherConfig {
	return WeatherConfig{TimeBase: 3600, Temperature: 10}
}

// Weather supplies the outdoor temperature.
type Weather struct {
	Base

	series      *Series
	constant    float64
	temperature float64
	offset      float64
}

// NewWeather creates a weather entity. With a file the temperature follows
// the series, starting at start; otherwise it stays at cfg.Temperature.
func NewWeather(name string, cfg WeatherConfig, start int64) (*Weather, error) {
	w := &Weather{
		Base:        NewBase(name, KindWeather, PhaseEnvironment),
		constant:    cfg.Temperature,
		temperature: cfg.Temperature,
	}
	if cfg.File != "" {
		s, err := LoadSeries(cfg.File, cfg.Column, cfg.TimeBase, start)
		if err != nil {
			return nil, fmt.Errorf("weather %s: %w", name, err)
		}
		w.series = s
	}
	w.Expose("temperature", &w.temperature, ReadOnly())
	w.Expose("offset", &w.offset)
	return w, nil
}

// SetSeries replaces the temperature source.
func (w *Weather) SetSeries(s *Series) { w.series = s }

// Temperature returns the outdoor temperature of the current tick in °C.
func (w *Weather) Temperature() float64 { return w.temperature }

// Tick samples the series.
func (w *Weather) Tick(now int64, _ time.Duration) error {
	base := w.constant
	if w.series != nil {
		v, err := w.series.At(now)
		if err != nil {
			return err
		}
		base = v
	}
	w.temperature = base + w.offset
	return nil
}

// SunConfig configures a Sun entity.
type SunConfig struct {
	File     string  `json:"file,omitempty"`
	Column   int     `json:"column,omitempty"`
	TimeBase int64   `json:"timeBase,omitempty"`
	Peak     float64 `json:"peak,omitempty"`
	Sunrise  float64 `json:"sunrise,omitempty"`
	Sunset   float64 `json:"sunset,omitempty"`
}

// DefaultSunConfig returns a clear-sky day between 06:00 and 18:00.
func DefaultSunConfig() SunConfig {
	return SunConfig{TimeBase: 3600, Peak: 800, Sunrise: 6, Sunset: 18}
}

// Sun supplies global horizontal irradiance in W/m².
type Sun struct {
	Base

	cfg        SunConfig
	loc        *time.Location
	series     *Series
	irradiance float64
}

// NewSun creates a sun entity. Without a file it follows a half-sine
// between sunrise and sunset local time.
func NewSun(name string, cfg SunConfig, start int64, loc *time.Location) (*Sun, error) {
	if loc == nil {
		loc = time.UTC
	}
	if cfg.File == "" && cfg.Sunset <= cfg.Sunrise {
		return nil, fmt.Errorf("%w: sun %s: sunset %.1f before sunrise %.1f", ErrInvalidConfig, name, cfg.Sunset, cfg.Sunrise)
	}
	s := &Sun{
		Base: NewBase(name, KindSun, PhaseEnvironment),
		cfg:  cfg,
		loc:  loc,
	}
	if cfg.File != "" {
		series, err := LoadSeries(cfg.File, cfg.Column, cfg.TimeBase, start)
		if err != nil {
			return nil, fmt.Errorf("sun %s: %w", name, err)
		}
		s.series = series
	}
	s.Expose("irradiance", &s.irradiance, ReadOnly())
	s.Expose("peak", &s.cfg.Peak)
	return s, nil
}

// SetSeries replaces the irradiance source.
func (s *Sun) SetSeries(series *Series) { s.series = series }

// Irradiance returns the irradiance of the current tick.
func (s *Sun) Irradiance() float64 { return s.irradiance }

// Tick samples the series or the clear-sky curve.
func (s *Sun) Tick(now int64, _ time.Duration) error {
	if s.series != nil {
		v, err := s.series.At(now)
		if err != nil {
			return err
		}
		s.irradiance = math.Max(v, 0)
		return nil
	}

	local := time.Unix(now, 0).In(s.loc)
	hour := float64(local.Hour()) + float64(local.Minute())/60 + float64(local.Second())/3600
	if hour <= s.cfg.Sunrise || hour >= s.cfg.Sunset {
		s.irradiance = 0
		return nil
	}
	s.irradiance = s.cfg.Peak * math.Sin(math.Pi*(hour-s.cfg.Sunrise)/(s.cfg.Sunset-s.cfg.Sunrise))
	return nil
}
