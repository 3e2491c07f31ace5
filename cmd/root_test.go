package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolfleet/internal/api"
	"toolfleet/internal/client"
	"toolfleet/internal/config"
)

func TestSetVersion(t *testing.T) {
	original := rootCmd.Version
	defer SetVersion(original)

	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", GetVersion())
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "toolfleet", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)
	assert.True(t, rootCmd.SilenceErrors)
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "toolfleet version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	require.NoError(t, testCmd.Execute())

	assert.Equal(t, "toolfleet version 1.0.0\n", buf.String())
}

func TestSubcommands(t *testing.T) {
	found := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}

	for _, name := range []string{"version", "serve", "status", "tools", "invoke", "start", "stop", "restart"} {
		assert.True(t, found[name], "expected subcommand %s to be registered", name)
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitCodeSuccess},
		{name: "plain error", err: errors.New("boom"), want: ExitCodeError},
		{
			name: "connection error",
			err:  &client.ConnectionError{Endpoint: "http://127.0.0.1:1", Reason: errors.New("connection refused")},
			want: ExitCodeUnreachable,
		},
		{
			name: "wrapped connection error",
			err:  fmt.Errorf("listing: %w", &client.ConnectionError{Endpoint: "x", Reason: errors.New("refused")}),
			want: ExitCodeUnreachable,
		},
		{
			name: "validation errors",
			err:  fmt.Errorf("invalid configuration: %w", config.ValidationErrors{{Field: "workers[0].name", Message: "is required"}}),
			want: ExitCodeInvalidConfig,
		},
		{name: "unauthorized", err: api.NewError(api.ErrorKindUnauthorized, "missing key"), want: ExitCodeAuthRequired},
		{name: "rate limited", err: api.NewRateLimitedError(0, "slow down"), want: ExitCodeRateLimited},
		{name: "other api error", err: api.NewError(api.ErrorKindUnknownWorker, "nope"), want: ExitCodeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}
