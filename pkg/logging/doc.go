// Package logging provides the structured logging facade used across toolfleet.
//
// It is a thin layer over log/slog. Every record carries a "subsystem"
// attribute so output from the supervisor, the router and each worker process
// can be filtered independently:
//
//	logging.Init(logging.LevelInfo, logging.FormatJSON, os.Stderr)
//
//	logging.Info("Supervisor", "Worker %s running on port %d", name, port)
//	logging.Error("Router", err, "Forwarding to %s failed", name)
//
// Worker stdout and stderr lines are logged at debug level under the
// subsystem "Worker-<name>".
//
// Init must be called before goroutines start logging. The Debug, Info, Warn
// and Error helpers are safe for concurrent use.
package logging
