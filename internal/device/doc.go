// Package device provides the simulated household entities driven by the
// simulation host.
//
// Every entity satisfies Entity: a name, a kind, a tick phase, a Tick
// method advancing its physics by one interval, and a generic control
// surface (Call, Get, Set, Link, State) built from Base.
//
// # Tick phases
//
// Entities tick phase by phase so every value is produced before it is read
// within the same tick:
//
//	environment  weather, sun, hot water demand
//	control      thermostats, heat sources
//	device       loads, panels, batteries, heat pumps
//	physics      thermal zones
//	metering     meters close the tick
//
// Devices report power to their meter while ticking; the meter settles the
// totals in the metering phase.
//
// # Control surface
//
// Base keeps three tables filled by each constructor:
//
//   - variables: pointers to typed fields, converted through JSON on Set
//   - functions: named handlers taking raw JSON arguments
//   - references: slots that re-point the entity at a live peer
//
// Conversion happens into a fresh value, so a failed Set never leaves a
// half-written field.
//
// # Thread Safety
//
// Entities are not safe for concurrent use. The host serializes every tick
// and every direct call.
package device
