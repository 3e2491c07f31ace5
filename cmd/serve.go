package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"toolfleet/internal/app"
	"toolfleet/internal/config"
)

var (
	// serveDebug enables verbose logging across the application.
	serveDebug bool

	// serveLogFormat overrides logging.format (text or json).
	serveLogFormat string

	// serveConfigPath is the directory holding config.yaml and workers/.
	serveConfigPath string

	// serveHost and servePort override server.host and server.port.
	serveHost string
	servePort int
)

// serveCmd starts the supervisor, health monitor and routing API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the worker fleet and the routing API",
	Long: `Starts every configured worker process, monitors their health and serves
the routing API until interrupted.

Configuration:
  toolfleet loads config.yaml from the configuration directory
  (default ~/.config/toolfleet). Worker descriptors are taken from the
  'workers' list in config.yaml and from one-descriptor-per-file YAML files in
  the workers/ subdirectory. Files added to or removed from workers/ while
  the fleet runs start or stop the corresponding worker.

  Invalid configuration aborts startup with every problem listed.

Signals:
  SIGINT and SIGTERM stop the routing API, then terminate every worker.
  When run under systemd with Type=notify, readiness is reported once the
  routing API is listening.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveLogFormat, serveConfigPath)
	cfg.Host = serveHost
	cfg.Port = servePort
	cfg.Version = GetVersion()

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "", "Log format: text or json (overrides config.yaml)")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Configuration directory")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Routing API listen host (overrides config.yaml)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Routing API listen port (overrides config.yaml)")
}
