package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownGrace = 10 * time.Second

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay daemon",
		Long:  "serve hosts the idle-session sweeper and, when enabled, the Prometheus exposition endpoint. It runs until interrupted and then terminates every session gracefully.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(*cfgPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var metricsSrv *http.Server
			if a.registry != nil {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
				metricsSrv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					a.logger.Info("metrics endpoint listening", "addr", a.cfg.Metrics.Addr)
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics endpoint failed", "error", err)
					}
				}()
			}

			a.logger.Info("agentrelay started",
				"runtime", a.cfg.Runtime.Kind,
				"history", a.cfg.History.Backend,
				"workflows", a.relay.Workflows().Len(),
			)
			a.relay.Run(ctx)

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if metricsSrv != nil {
				if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("metrics endpoint shutdown", "error", err)
				}
			}
			a.close(shutdownCtx)
			return nil
		},
	}
}
