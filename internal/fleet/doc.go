// Package fleet holds the runtime view of the worker fleet: one Handle per
// worker and the Registry that maps names to handles.
//
// A Handle enforces the worker lifecycle:
//
//	Pending -> Starting -> Running <-> Unhealthy
//	Starting|Running|Unhealthy -> Crashed -> Starting
//	Stopped -> Starting (explicit start only)
//	any -> Stopped
//
// Illegal transitions fail with *TransitionError and leave the handle as it
// was. Running always has a pid and a port; Stopped and Crashed have neither.
package fleet
