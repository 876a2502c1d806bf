// Package entity turns entity declarations into live devices.
//
// A declaration is a JSON envelope holding a type tag and a payload:
//
//	{"type": "zone", "entity": {"name": "living", "initialTemperature": 19}}
//
// The Registry maps tags to descriptor constructors and decodes payloads
// strictly. A Descriptor materializes its device once the simulation
// Parameters are known, asking a Resolver for the peers it needs by Role.
// Resolution is first match in declaration order; peers declared after
// their dependent are built on demand.
package entity
