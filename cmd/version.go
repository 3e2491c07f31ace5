package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"toolfleet/internal/cli"
)

var versionFlags cli.CommandFlags

// buildInfo is what `toolfleet version -o json|yaml` prints.
type buildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func currentBuildInfo() buildInfo {
	v := rootCmd.Version
	if v == "" {
		v = "unknown"
	}
	return buildInfo{
		Version:   v,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// newVersionCmd prints the client build. It never contacts the server.
func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the toolfleet version",
		Long: `Prints the version of this toolfleet binary, the Go release it was built
with and the platform. Use -o json or -o yaml for machine-readable output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.ValidateOutputFormat(versionFlags.OutputFormat); err != nil {
				return err
			}
			info := currentBuildInfo()
			p := cli.NewPrinter(cmd.OutOrStdout(), cli.OutputFormat(versionFlags.OutputFormat), false)
			if ok, err := p.PrintStructured(info); ok {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "toolfleet version %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().StringVarP(&versionFlags.OutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}
