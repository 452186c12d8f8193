// Package main is the entry point for the yamf registry server.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcbrumagin/yamf/internal/bootstrap"
	"github.com/mcbrumagin/yamf/internal/config"
	"github.com/mcbrumagin/yamf/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "yamf-registry",
	Short: "yamf service registry: registration, lookup, streaming proxy, pub/sub",
	RunE: func(*cobra.Command, []string) error {
		cfg := config.Load()
		logger.Configure(cfg.Environment, cfg.LogIncludeLines)
		defer logger.Sync()

		srv, err := bootstrap.NewRegistryServer(cfg)
		if err != nil {
			logger.Errorf("failed to start registry: %v", err)
			return err
		}

		return bootstrap.Run(srv.ListenAndServe, func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		})
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
