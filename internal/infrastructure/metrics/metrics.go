// Package metrics exposes Prometheus collectors for the simulator.
//
// All recording methods are nil-safe so components can run without metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graysim"

// Command outcome label values.
const (
	StatusApplied = "applied"
	StatusDropped = "dropped"
)

// Collectors bundles the simulator's Prometheus metrics.
type Collectors struct {
	gatherer prometheus.Gatherer

	Ticks          prometheus.Counter
	TickDuration   prometheus.Histogram
	EntityFailures *prometheus.CounterVec
	Commands       *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	SimTime        prometheus.Gauge
	Remaining      prometheus.Gauge
	ComposerStatus *prometheus.GaugeVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDurations  *prometheus.HistogramVec
}

// New registers the collectors against reg, defaulting to the global
// registry when nil. Registering twice against the same registry reuses the
// existing collectors.
func New(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collectors{gatherer: gatherer}
	var err error

	if c.Ticks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Simulation ticks executed.",
	})); err != nil {
		return nil, err
	}
	if c.TickDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Wall-clock time spent ticking every entity once.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})); err != nil {
		return nil, err
	}
	if c.EntityFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entity_failures_total",
		Help:      "Entity tick failures, labelled by entity.",
	}, []string{"entity"})); err != nil {
		return nil, err
	}
	if c.Commands, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Queued commands drained by the clock, labelled by kind and outcome.",
	}, []string{"kind", "status"})); err != nil {
		return nil, err
	}
	if c.QueueDepth, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Commands waiting for the next drain.",
	})); err != nil {
		return nil, err
	}
	if c.SimTime, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "simulated_time_seconds",
		Help:      "Current simulated time as a unix timestamp.",
	})); err != nil {
		return nil, err
	}
	if c.Remaining, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "remaining_intervals",
		Help:      "Ticks left before the run ends.",
	})); err != nil {
		return nil, err
	}
	if c.ComposerStatus, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "composer_status",
		Help:      "1 for the composer's current lifecycle status, 0 otherwise.",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Control surface requests, labelled by method, route and status code.",
	}, []string{"method", "route", "code"})); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Control surface latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"method", "route"})); err != nil {
		return nil, err
	}

	return c, nil
}

// register adds col to reg, returning the already registered collector of
// the same type when one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("metrics: collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, fmt.Errorf("metrics: registering collector: %w", err)
	}
	return col, nil
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records one completed tick.
func (c *Collectors) ObserveTick(d time.Duration, simTime int64, remaining int64) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
	c.SimTime.Set(float64(simTime))
	c.Remaining.Set(float64(remaining))
}

// EntityFailed counts a failed entity tick.
func (c *Collectors) EntityFailed(entity string) {
	if c == nil {
		return
	}
	c.EntityFailures.WithLabelValues(entity).Inc()
}

// CommandDone counts a drained command with status StatusApplied or StatusDropped.
func (c *Collectors) CommandDone(kind, status string) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(kind, status).Inc()
}

// SetQueueDepth reports the pending command count.
func (c *Collectors) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

// SetComposerStatus marks status as the current lifecycle state.
func (c *Collectors) SetComposerStatus(status string, all []string) {
	if c == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		c.ComposerStatus.WithLabelValues(s).Set(v)
	}
}

// ObserveHTTP records one control surface request.
func (c *Collectors) ObserveHTTP(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, fmt.Sprintf("%d", code)).Inc()
	c.HTTPDurations.WithLabelValues(method, route).Observe(d.Seconds())
}
