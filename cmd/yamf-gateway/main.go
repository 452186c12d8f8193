// Package main is the entry point for the yamf gateway server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcbrumagin/yamf/internal/bootstrap"
	"github.com/mcbrumagin/yamf/internal/config"
	"github.com/mcbrumagin/yamf/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "yamf-gateway",
	Short: "yamf gateway: a read-only, pull-synced mirror of the registry",
	RunE: func(*cobra.Command, []string) error {
		cfg := config.Load()
		logger.Configure(cfg.Environment, cfg.LogIncludeLines)
		defer logger.Sync()

		srv, err := bootstrap.NewGatewayServer(cfg)
		if err != nil {
			logger.Errorf("failed to start gateway: %v", err)
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		runErr := make(chan error, 1)
		go func() { runErr <- srv.Run(ctx) }()

		select {
		case err := <-runErr:
			return err
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), bootstrap.DefaultGracefulTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("error during shutdown: %v", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
