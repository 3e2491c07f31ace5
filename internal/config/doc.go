// Package config provides configuration management for toolfleet.
//
// Configuration is loaded from a single directory. The default directory is
// ~/.config/toolfleet; a custom one can be given with the --config-path flag.
//
// # Configuration Directory
//
//   - config.yaml: server, router, supervisor, health, ports, rate limits,
//     logging, tracing, and optionally an inline list of workers
//   - workers/: one worker descriptor per *.yaml file
//
// Inline workers keep their order and come first; workers/ files follow in
// lexical file name order. A missing config.yaml yields the defaults from
// GetDefaultConfig.
//
// # Example
//
//	server:
//	  port: 8090
//	supervisor:
//	  startupGrace: 5s
//	workers:
//	  - name: db-1
//	    category: db
//	    command: ./bin/db-worker
//	    args: ["--port", "{{ .Port }}", "--name", "{{ .Name }}"]
//	    port: 9100
//
// # Validation
//
// LoadConfig validates the merged configuration and returns every problem it
// found as ValidationErrors. A single malformed descriptor aborts loading so
// the fleet never starts half-configured.
//
// # Watching
//
// Watcher observes workers/ with fsnotify. New files start workers, removed
// files stop them. Descriptors are immutable once started, so edits to a
// running worker's file are reported but not applied.
package config
