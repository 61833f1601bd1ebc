package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahrav/smartvalidator/infrastructure/httpapi"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the validation API over HTTP",
		Long: `Starts the HTTP API:

  POST /validate   validate a batch of records
  GET  /health     liveness probe
  GET  /metrics    Prometheus metrics

The server shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.buildService()
			if err != nil {
				return err
			}

			if addr == "" {
				addr = c.config.HTTP.Addr
			}
			router := httpapi.NewRouter(svc, httpapi.Options{
				AllowedOrigins: c.config.HTTP.AllowedOrigins,
				Logger:         c.logger,
				Gatherer:       c.deps.gatherer,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c.logger.Info("starting smartvalidator",
				zap.String("version", version),
				zap.String("addr", addr),
				zap.String("provider", c.config.Provider),
				zap.Strings("allowed_origins", c.config.HTTP.AllowedOrigins))

			return httpapi.NewServer(addr, router, c.config.HTTP.ShutdownTimeout, c.logger).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")
	return cmd
}
