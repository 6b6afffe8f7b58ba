// Package main provides the CLI entry point for the agent runtime.
//
// agentrtctl has three subcommands: run (the orchestrator brain, dashboard,
// and optional tunnel in one process), tunnel (local-only reverse tunnel
// client), and relay (the remote hub the tunnel dials into).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentrtctl",
		Short:        "agentrtctl - autonomous agent runtime",
		Long:         "agentrtctl runs the hierarchical agent orchestrator, its dashboard, and the reverse tunnel that exposes both remotely.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildTunnelCmd(),
		buildRelayCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
