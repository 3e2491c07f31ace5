package cmd

import (
	"github.com/spf13/cobra"

	"toolfleet/internal/cli"
)

var toolsFlags cli.CommandFlags

// toolsCmd lists the tools of a worker or category.
var toolsCmd = &cobra.Command{
	Use:   "tools <worker|category>",
	Short: "List the tools exposed by a worker or category",
	Long: `Lists the tools a worker exposes. For a category the tools of its first
running worker are shown; workers of one category are expected to expose the
same tools.

Examples:
  toolfleet tools search-1
  toolfleet tools search -o wide`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: workerNameCompletion(&toolsFlags),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := toolsFlags.Validate(); err != nil {
			return err
		}
		list, err := toolsFlags.NewClient().ListTools(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return toolsFlags.NewPrinter(cmd.OutOrStdout()).PrintTools(list)
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	cli.RegisterCommonFlags(toolsCmd, &toolsFlags)
}
