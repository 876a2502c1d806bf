package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementEntity = "entity_state"
	MeasurementClock  = "clock"
)

// WriteEntityState writes one entity's numeric state at the simulated instant.
//
// Non-numeric fields are skipped; booleans become 0/1. Nothing is written when
// no field survives. The entity name carries the run's data prefix.
//
// Parameters:
//   - prefix: run data prefix prepended to the entity tag
//   - entity: entity name
//   - kind: entity kind (tagged for grouping)
//   - fields: entity state as produced by the entity
//   - ts: simulated time of the tick
func (c *Client) WriteEntityState(prefix, entity, kind string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	numeric := NumericFields(fields)
	if len(numeric) == 0 {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementEntity,
		map[string]string{"entity": prefix + entity, "kind": kind},
		numeric,
		ts,
	))
}

// WriteClock records the clock position for a tick.
func (c *Client) WriteClock(prefix string, tick uint64, failures int, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementClock,
		map[string]string{"run": prefix},
		map[string]any{"tick": int64(tick), "failures": failures}, //nolint:gosec // tick counts fit in int64
		ts,
	))
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

// NumericFields flattens a state map into InfluxDB field values.
//
// Numbers pass through as float64, booleans map to 0/1, complex power
// objects ({"re","im"}) expand to name_re / name_im, and nested
// commodity maps expand to name_COMMODITY. Everything else is dropped.
func NumericFields(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		flattenField(out, k, v)
	}
	return out
}

func flattenField(out map[string]any, key string, v any) {
	switch x := v.(type) {
	case float64:
		out[key] = x
	case float32:
		out[key] = float64(x)
	case int:
		out[key] = float64(x)
	case int64:
		out[key] = float64(x)
	case uint64:
		out[key] = float64(x)
	case bool:
		if x {
			out[key] = 1.0
		} else {
			out[key] = 0.0
		}
	case complexLike:
		re, im := x.Parts()
		out[key+"_re"] = re
		out[key+"_im"] = im
	case map[string]any:
		for sub, sv := range x {
			flattenField(out, key+"_"+sub, sv)
		}
	}
}

// complexLike matches complex power values without importing the device package.
type complexLike interface {
	Parts() (re, im float64)
}
