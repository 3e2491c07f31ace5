// Package api holds the types shared by every toolfleet component and by
// clients of the routing API: worker lifecycle states, the invocation
// request and response envelope, fleet health, and the typed error taxonomy.
//
// Every failure that crosses the routing API is an *Error carrying an
// ErrorKind. HTTPStatus maps a kind to its status code:
//
//	UnknownWorker, UnknownTool   404
//	RateLimited                  429 (with Retry-After)
//	NoHealthyWorker              503
//	UpstreamTimeout              504
//	UpstreamError                502
//	ToolError                    422
//	InvalidRequest               400
//	Unauthorized                 401
//
// The package has no dependencies on other toolfleet packages.
package api
