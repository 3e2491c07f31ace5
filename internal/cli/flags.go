package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"toolfleet/internal/client"
)

// CommandFlags holds the flag values shared by commands that talk to a
// running toolfleet server.
type CommandFlags struct {
	// OutputFormat is one of table, wide, json, yaml.
	OutputFormat string
	// NoHeaders suppresses the header row in table output.
	NoHeaders bool
	// Quiet suppresses progress indicators and non-essential output.
	Quiet bool
	// Endpoint is the routing API base URL.
	Endpoint string
	// APIKey is sent as a bearer token.
	APIKey string
	// Timeout bounds each request to the server.
	Timeout time.Duration
}

// RegisterCommonFlags registers output and connection flags:
//   - --output/-o: table, wide, json or yaml
//   - --no-headers
//   - --quiet/-q
//   - --endpoint (env: TOOLFLEET_ENDPOINT)
//   - --api-key (env: TOOLFLEET_API_KEY)
//   - --request-timeout
func RegisterCommonFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.PersistentFlags().StringVarP(&flags.OutputFormat, "output", "o", "table", "Output format (table, wide, json, yaml)")
	cmd.PersistentFlags().BoolVar(&flags.NoHeaders, "no-headers", false, "Suppress header row in table output")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	RegisterConnectionFlags(cmd, flags)
}

// RegisterConnectionFlags registers only the connection flags.
func RegisterConnectionFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.PersistentFlags().StringVar(&flags.Endpoint, "endpoint", GetDefaultEndpoint(), "toolfleet server URL (env: "+client.EndpointEnvVar+")")
	cmd.PersistentFlags().StringVar(&flags.APIKey, "api-key", os.Getenv(client.APIKeyEnvVar), "API key for the toolfleet server (env: "+client.APIKeyEnvVar+")")
	cmd.PersistentFlags().DurationVar(&flags.Timeout, "request-timeout", 0, "Timeout for requests to the server (0 uses the client default)")
}

// GetDefaultEndpoint returns the endpoint from the environment or the
// built-in default.
func GetDefaultEndpoint() string {
	if ep := os.Getenv(client.EndpointEnvVar); ep != "" {
		return ep
	}
	return client.DefaultEndpoint
}

// Validate checks flag values that cobra cannot.
func (f *CommandFlags) Validate() error {
	if f.OutputFormat != "" {
		if err := ValidateOutputFormat(f.OutputFormat); err != nil {
			return err
		}
	}
	if f.Timeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	return nil
}

// NewClient builds a routing API client from the flags.
func (f *CommandFlags) NewClient() *client.Client {
	opts := []client.Option{}
	if f.APIKey != "" {
		opts = append(opts, client.WithAPIKey(f.APIKey))
	}
	if f.Timeout > 0 {
		opts = append(opts, client.WithTimeout(f.Timeout))
	}
	return client.New(f.Endpoint, opts...)
}

// NewPrinter builds a printer for out from the flags.
func (f *CommandFlags) NewPrinter(out io.Writer) *Printer {
	format := OutputFormat(f.OutputFormat)
	if format == "" {
		format = OutputFormatTable
	}
	return NewPrinter(out, format, f.NoHeaders).WithColor(isTerminal(out))
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
