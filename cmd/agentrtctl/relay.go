package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tarsline/agentrt/internal/auth"
	"github.com/tarsline/agentrt/internal/config"
	"github.com/tarsline/agentrt/internal/relay"
)

func buildRelayCmd() *cobra.Command {
	var configPath, listen string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the remote relay hub the tunnel dials into",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRuntime(configPath)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Relay.Listen
			}
			if listen == "" {
				listen = ":8420"
			}

			jwtService := auth.NewJWTService(cfg.Relay.DashboardJWTSecret, cfg.Relay.DashboardTokenTTL)
			hub := relay.NewHub(cfg.Relay.Token, jwtService)

			mux := http.NewServeMux()
			mux.HandleFunc("/tunnel", hub.ServeTunnel)
			mux.HandleFunc("/ws", hub.ServeDashboard)
			mux.HandleFunc("/api/auth", hub.ServeAuth)
			mux.HandleFunc("/api/health", hub.ServeHealth)

			srv := &http.Server{Addr: listen, Handler: mux}
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case <-ctx.Done():
				return srv.Close()
			case err := <-errCh:
				if err == http.ErrServerClosed {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "agentrt.yaml", "path to the runtime config file")
	cmd.Flags().StringVar(&listen, "listen", "", "hub listen address (overrides config)")
	return cmd
}
