// Package cli holds the shared pieces of the toolfleet command line: common
// flags, a routing API client factory, output printers and error rendering.
//
// # Output Formats
//
// Commands print through a Printer:
//   - table: compact tables rendered with go-pretty, one row per item
//   - wide: like table with extra diagnostic columns
//   - json: the raw API objects, indented
//   - yaml: the same objects as YAML, converted from their JSON form so field
//     names match the API
//
// Structured formats always print the full object. Tables pick the columns
// an operator needs at a glance; `toolfleet status <name> -o yaml` shows the
// rest.
package cli
