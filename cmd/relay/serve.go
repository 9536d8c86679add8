package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const (
	inboundPath     = "/webhooks/inbound"
	metricsPath     = "/metrics"
	shutdownTimeout = 10 * time.Second
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inbound endpoint and run the delivery worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			logger := rt.relay.Service().Logger("serve")

			mux := http.NewServeMux()
			if rt.cfg.Inbound.Enabled {
				mux.Handle(inboundPath, rt.relay.InboundHandler())
			}
			mux.Handle(metricsPath, rt.relay.MetricsHandler())
			server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("relay listening", "addr", addr, "inbound", rt.cfg.Inbound.Enabled)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			workerDone := make(chan struct{})
			go func() {
				defer close(workerDone)
				if !rt.cfg.Outbound.Enabled {
					logger.Info("outbound disabled, worker not started")
					return
				}
				rt.relay.Run(ctx)
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					stop()
					<-workerDone
					return err
				}
			}

			logger.Info("relay shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("http shutdown failed", "error", err)
			}
			<-workerDone
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	return cmd
}
