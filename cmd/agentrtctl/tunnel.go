package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tarsline/agentrt/internal/config"
	"github.com/tarsline/agentrt/internal/eventbus"
	"github.com/tarsline/agentrt/internal/metrics"
	"github.com/tarsline/agentrt/internal/relay"
)

// noopDispatcher drops every inbound relay frame; the `tunnel` subcommand
// forwards bus events outward only, with no local dashboard to route
// inbound commands into. `run` (not yet wiring a tunnel) is where a real
// dispatcher would plug in the dashboard's WS broadcast.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(relay.Frame) {}

func buildTunnelCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tunnel",
		Short: "Run the local reverse tunnel client, forwarding bus events to a relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRuntime(configPath)
			if err != nil {
				return err
			}

			bus := eventbus.New(500)
			mtx := metrics.NewMetrics()
			t := relay.NewTunnel(cfg.Relay.URL, cfg.Relay.Token, bus, noopDispatcher{}, slog.Default()).
				WithReconnectCounter(mtx.TunnelReconnects)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			t.Run(ctx)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "agentrt.yaml", "path to the runtime config file")
	return cmd
}
