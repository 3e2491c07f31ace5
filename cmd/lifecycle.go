package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"toolfleet/internal/api"
	"toolfleet/internal/cli"
	"toolfleet/internal/client"
)

// newLifecycleCmd builds one of the start, stop and restart commands. Each
// command gets its own flag set.
func newLifecycleCmd(action, short, long string) *cobra.Command {
	flags := &cli.CommandFlags{}

	cmd := &cobra.Command{
		Use:               action + " <worker>",
		Short:             short,
		Long:              long,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: workerNameCompletion(flags),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				return err
			}
			res, err := runLifecycle(cmd.Context(), flags.NewClient(), action, args[0])
			if err != nil {
				return err
			}
			return flags.NewPrinter(cmd.OutOrStdout()).PrintAction(res)
		},
	}
	cli.RegisterCommonFlags(cmd, flags)
	return cmd
}

func runLifecycle(ctx context.Context, c *client.Client, action, name string) (*api.ActionResult, error) {
	switch action {
	case "start":
		return c.Start(ctx, name)
	case "stop":
		return c.Stop(ctx, name)
	case "restart":
		return c.Restart(ctx, name)
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

func init() {
	rootCmd.AddCommand(newLifecycleCmd("start", "Start a worker",
		`Starts a stopped or crashed worker. Starting a worker that the crash-loop
breaker parked clears its restart budget.

Example:
  toolfleet start search-1`))
	rootCmd.AddCommand(newLifecycleCmd("stop", "Stop a worker",
		`Stops a worker gracefully: SIGTERM to its process group, then SIGKILL after
the configured grace period. The worker stays in the fleet as Stopped.

Example:
  toolfleet stop search-1`))
	rootCmd.AddCommand(newLifecycleCmd("restart", "Restart a worker",
		`Stops and starts a worker.

Example:
  toolfleet restart search-1`))
}
