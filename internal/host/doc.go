// Package host owns the live entity graph and the simulated clock position.
//
// The Host keeps entities in insertion order, ticks them phase by phase and
// exposes the direct control operations (get, set, call, link, create,
// remove) used by the control surface. One mutex serializes every tick and
// every direct call, so callers never observe half a tick.
package host
