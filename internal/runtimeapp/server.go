package runtimeapp

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tarsline/agentrt/internal/dashboard"
	"github.com/tarsline/agentrt/internal/observability"
)

func serve(ctx context.Context, addr string, dash *dashboard.Server, logger *observability.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", dash.WSHandler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", dash.HTTPHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
