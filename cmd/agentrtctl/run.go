package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tarsline/agentrt/internal/config"
	"github.com/tarsline/agentrt/internal/runtimeapp"
)

func buildRunCmd() *cobra.Command {
	var configPath, workspace, listen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator brain and its dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRuntime(configPath)
			if err != nil {
				return err
			}
			app, err := runtimeapp.Build(cfg, workspace)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return app.Run(ctx, listen)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "agentrt.yaml", "path to the runtime config file")
	cmd.Flags().StringVar(&workspace, "workspace", ".", "directory sub-agent file/exec tools are scoped to")
	cmd.Flags().StringVar(&listen, "listen", ":8080", "dashboard HTTP/WS listen address")
	return cmd
}
