// Package server exposes the routing API over HTTP.
//
// Routes:
//
//	GET  /health                   aggregate fleet health (503 when unavailable)
//	GET  /servers                  all workers with their state and statistics
//	GET  /servers/{name}           one worker including its recent output
//	GET  /servers/{name}/tools     tools exposed by a worker or category
//	POST /servers/{name}/start     start a worker (admin limiter)
//	POST /servers/{name}/stop      stop a worker (admin limiter)
//	POST /servers/{name}/restart   restart a worker (admin limiter)
//	POST /invoke/{target}/{tool}   invoke a tool; the body holds the arguments
//	GET  /metrics                  Prometheus exposition
//
// When API keys are configured every route except /health and /metrics
// requires either "Authorization: Bearer <key>" or "X-API-Key: <key>". The
// key, or the remote IP when no key is used, identifies the caller for rate
// limiting.
//
// Failed requests carry the error kind and a message in the body. The status
// code is derived from the kind, see api.HTTPStatus. Rate limited responses
// also set Retry-After.
package server
