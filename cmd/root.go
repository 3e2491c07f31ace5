package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"toolfleet/internal/api"
	"toolfleet/internal/cli"
	"toolfleet/internal/client"
	"toolfleet/internal/config"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates the server rejected the API key.
	ExitCodeAuthRequired = 2
	// ExitCodeUnreachable indicates the server could not be reached.
	ExitCodeUnreachable = 3
	// ExitCodeInvalidConfig indicates the fleet configuration failed validation.
	ExitCodeInvalidConfig = 4
	// ExitCodeRateLimited indicates the request was rejected by a rate limiter.
	ExitCodeRateLimited = 5
)

// rootCmd represents the base command for the toolfleet application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "toolfleet",
	Short: "Run and route requests to a fleet of tool worker processes",
	Long: `toolfleet supervises a fleet of local worker processes that expose tools
over HTTP or MCP, keeps them healthy and routes tool invocations to them
by worker name or by category.

Start the fleet with 'toolfleet serve', then inspect and drive it with
'toolfleet status', 'toolfleet tools' and 'toolfleet invoke'.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	// Errors are rendered by Execute with a hint for the operator.
	SilenceErrors: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "toolfleet version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(errors.New(cli.Describe(err))))
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var connErr *client.ConnectionError
	if errors.As(err, &connErr) {
		return ExitCodeUnreachable
	}

	var validationErrs config.ValidationErrors
	if errors.As(err, &validationErrs) {
		return ExitCodeInvalidConfig
	}

	switch api.KindOf(err) {
	case api.ErrorKindUnauthorized:
		return ExitCodeAuthRequired
	case api.ErrorKindRateLimited:
		return ExitCodeRateLimited
	}

	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
