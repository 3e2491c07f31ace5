// Package supervisor spawns, watches and restarts worker processes.
//
// The Supervisor is the single writer of worker lifecycle state. It allocates
// a port for each worker, launches its command in a separate process group,
// waits for the first healthy probe and turns unrequested exits into crashes.
// Crashed workers are restarted with exponential backoff until they crash too
// often within the configured window, at which point they are parked in
// Stopped with the fatal flag set and only an explicit start revives them.
//
// Worker stdout and stderr are logged line by line under "Worker-<name>" and
// the most recent lines are kept for the status API.
package supervisor
