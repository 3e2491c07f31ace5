package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"toolfleet/internal/cli"
)

var statusFlags cli.CommandFlags

// statusCmd shows fleet health and workers, or one worker in detail.
var statusCmd = &cobra.Command{
	Use:     "status [worker]",
	Aliases: []string{"list", "ls"},
	Short:   "Show fleet health and worker states",
	Long: `Without arguments, prints the aggregate fleet health followed by every
worker with its state, port, restarts and request statistics.

With a worker name, prints that worker in detail including the last lines
it wrote to stdout and stderr.

Examples:
  toolfleet status
  toolfleet status -o wide
  toolfleet status search-1 -o yaml`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: workerNameCompletion(&statusFlags),
	RunE:              runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := statusFlags.Validate(); err != nil {
		return err
	}
	c := statusFlags.NewClient()
	p := statusFlags.NewPrinter(cmd.OutOrStdout())
	ctx := cmd.Context()

	if len(args) == 1 {
		detail, err := c.GetServer(ctx, args[0])
		if err != nil {
			return err
		}
		return p.PrintWorker(detail)
	}

	health, err := c.Health(ctx)
	if err != nil {
		return err
	}
	workers, err := c.ListServers(ctx)
	if err != nil {
		return err
	}

	if p.Format().Structured() {
		_, err := p.PrintStructured(map[string]interface{}{
			"health":  health,
			"workers": workers,
		})
		return err
	}

	if !statusFlags.Quiet && !statusFlags.NoHeaders {
		if err := p.PrintHealth(health); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return p.PrintWorkers(workers)
}

// workerNameCompletion completes worker names from the running server.
func workerNameCompletion(flags *cli.CommandFlags) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) != 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		workers, err := flags.NewClient().ListServers(cmd.Context())
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		names := make([]string, 0, len(workers))
		for _, w := range workers {
			names = append(names, w.Name)
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
	cli.RegisterCommonFlags(statusCmd, &statusFlags)
}
