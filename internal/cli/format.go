package cli

import "fmt"

// OutputFormat selects how command results are printed.
type OutputFormat string

const (
	// OutputFormatTable prints a compact table.
	OutputFormatTable OutputFormat = "table"
	// OutputFormatWide prints a table with extra columns.
	OutputFormatWide OutputFormat = "wide"
	// OutputFormatJSON prints indented JSON.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML prints YAML converted from JSON.
	OutputFormatYAML OutputFormat = "yaml"
)

// ValidOutputFormats contains all valid output format values.
var ValidOutputFormats = []OutputFormat{
	OutputFormatTable,
	OutputFormatWide,
	OutputFormatJSON,
	OutputFormatYAML,
}

// ValidateOutputFormat returns an error listing the valid formats when
// format is not one of them.
func ValidateOutputFormat(format string) error {
	switch OutputFormat(format) {
	case OutputFormatTable, OutputFormatWide, OutputFormatJSON, OutputFormatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format: %q (valid: table, wide, json, yaml)", format)
	}
}

// Structured reports whether f prints machine readable output.
func (f OutputFormat) Structured() bool {
	return f == OutputFormatJSON || f == OutputFormatYAML
}
