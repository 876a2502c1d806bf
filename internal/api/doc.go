// Package api implements the HTTP control surface and WebSocket server for
// graysim.
//
// This package provides:
//   - REST endpoints for building a composition and driving its lifecycle
//   - Direct entity access (query, invoke, set, link, create, remove)
//   - Command submission into the clock's queue, over HTTP and MQTT
//   - Read access to recorded runs in the run database
//   - WebSocket hub streaming ticks, drained commands and run events
//   - Optional JWT bearer auth with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server is a thin layer over composer.Composer. Lifecycle and direct
// calls run synchronously on the request goroutine; queued commands take
// effect at the start of the next tick. The hub implements
// recorder.Broadcaster, so the recorder pushes every tick to subscribed
// clients.
//
// # Graceful Degradation
//
// MQTT and the run database are optional. Without MQTT only command
// ingress over MQTT is lost; without the database the /runs endpoints
// answer 503.
package api
