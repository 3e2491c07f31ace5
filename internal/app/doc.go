// Package app bootstraps and runs a toolfleet server.
//
// # Components
//
//  1. Bootstrap (bootstrap.go): logging, configuration loading and validation
//  2. Configuration (config.go): command line settings that override config.yaml
//  3. Services (services.go): construction and wiring of every component
//  4. Serve (modes.go): startup order, readiness notification and shutdown
//
// # Startup
//
// Rate limiter sweeps start first, then the supervisor launches every
// configured worker, the health monitor begins probing, the workers/
// directory watcher picks up descriptor changes and finally the routing API
// binds its port. Once the API is listening, READY=1 is sent to systemd when
// NOTIFY_SOCKET is set.
//
// # Shutdown
//
// SIGINT, SIGTERM or cancellation of the Run context stop the routing API
// first so no new invocations arrive, then the watcher, the health monitor
// and limiter sweeps, and finally the supervisor, which terminates every
// worker process group. Traces are flushed last.
package app
