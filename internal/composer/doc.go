// Package composer owns the lifecycle of one simulation.
//
// A Composer collects entity declarations and the simulation parameters,
// materializes them into a host on Load, and hands the host to a clock on
// Start. Declarations arrive one at a time (Add, AddDeclaration) or all at
// once from a JSON, YAML or TOML scenario file (LoadScenario).
//
// While a composition is loaded, commands are queued for the clock and the
// direct control methods (Query, Set, Invoke, Link, Create, RemoveObject)
// act on the live host between ticks. Reset is legal in every state and
// returns the composer to INACTIVE with nothing declared.
package composer
