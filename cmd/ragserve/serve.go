package main

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/seantiz/ragserve/internal/app"
	"github.com/seantiz/ragserve/internal/config"
)

func newServeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP query server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := config.NewLogger(os.Stdout, cfg.Level())

			logger.Info("ragserve: starting",
				"version", version,
				"listen_addr", cfg.ListenAddr,
				"db_path", cfg.DBPath,
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := app.Build(ctx, cfg, logger, app.Parts{Metrics: prometheus.DefaultRegisterer})
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Close()
				return err
			}

			runErr := a.Server.Run()
			cancel()
			if err := a.Close(); err != nil {
				logger.Error("shutdown", "error", err)
			}
			return runErr
		},
	}
	return cmd
}
