package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"toolfleet/internal/cli"
)

var (
	invokeFlags    cli.CommandFlags
	invokeArgs     []string
	invokeArgsFile string
	invokeTimeout  time.Duration
)

// invokeCmd routes one tool invocation through the fleet.
var invokeCmd = &cobra.Command{
	Use:   "invoke <worker|category> <tool> [json-arguments]",
	Short: "Invoke a tool on a worker or category",
	Long: `Routes a tool invocation through the running fleet. The target is either a
worker name or a category; categories are load balanced across their running
workers.

Arguments are given as a JSON object, as repeated --arg key=value flags, or
read from a file with --file (use - for stdin). Values of --arg are parsed as
JSON when valid and passed as strings otherwise.

Examples:
  toolfleet invoke search lookup '{"query": "golang"}'
  toolfleet invoke search-1 lookup --arg query=golang --arg limit=5
  toolfleet invoke db query --file request.json --timeout 10s`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runInvoke,
}

func runInvoke(cmd *cobra.Command, args []string) error {
	if err := invokeFlags.Validate(); err != nil {
		return err
	}

	var inline string
	if len(args) == 3 {
		inline = args[2]
	}
	arguments, err := buildArguments(inline, invokeArgsFile, invokeArgs, cmd.InOrStdin())
	if err != nil {
		return err
	}

	progress := cli.StartProgress(cmd.ErrOrStderr(), fmt.Sprintf("Invoking %s on %s...", args[1], args[0]), invokeFlags.Quiet)
	resp, err := invokeFlags.NewClient().Invoke(cmd.Context(), args[0], args[1], arguments, invokeTimeout)
	progress.Stop()

	p := invokeFlags.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		// Structured output keeps the failed response for scripts.
		if resp != nil && p.Format().Structured() {
			if perr := p.PrintInvocation(resp); perr != nil {
				return perr
			}
		}
		return err
	}
	return p.PrintInvocation(resp)
}

// buildArguments assembles the JSON arguments object from at most one of an
// inline JSON string or a file, plus key=value pairs layered on top.
func buildArguments(inline, file string, pairs []string, stdin io.Reader) (json.RawMessage, error) {
	if inline != "" && file != "" {
		return nil, fmt.Errorf("pass arguments either inline or with --file, not both")
	}

	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading arguments from stdin: %w", err)
		}
		raw = data
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading arguments file: %w", err)
		}
		raw = data
	}

	if len(pairs) == 0 {
		if len(strings.TrimSpace(string(raw))) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("arguments are not valid JSON")
		}
		return json.RawMessage(raw), nil
	}

	obj := map[string]interface{}{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("arguments must be a JSON object to combine with --arg: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, expected key=value", pair)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		obj[key] = v
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding arguments: %w", err)
	}
	return json.RawMessage(data), nil
}

func init() {
	rootCmd.AddCommand(invokeCmd)
	cli.RegisterCommonFlags(invokeCmd, &invokeFlags)
	invokeCmd.Flags().StringArrayVar(&invokeArgs, "arg", nil, "Tool argument as key=value (repeatable)")
	invokeCmd.Flags().StringVarP(&invokeArgsFile, "file", "f", "", "Read JSON arguments from a file, - for stdin")
	invokeCmd.Flags().DurationVar(&invokeTimeout, "timeout", 0, "Per-attempt timeout on the server (0 uses the server default)")
}
