package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cachepkg "github.com/pario-ai/edgeworker/pkg/cache/sqlite"
	"github.com/pario-ai/edgeworker/pkg/config"
	"github.com/pario-ai/edgeworker/pkg/journal"
	"github.com/pario-ai/edgeworker/pkg/logging"
	"github.com/pario-ai/edgeworker/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve cache and lifecycle tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			// zap writes to stderr; stdout carries the protocol.
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			storage, err := cachepkg.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init cache storage: %w", err)
			}
			defer func() { _ = storage.Close() }()

			var j *journal.Journal
			if cfg.Journal.Enabled {
				j, err = journal.New(cfg.DBPath, 0)
				if err != nil {
					return fmt.Errorf("init journal: %w", err)
				}
				defer func() { _ = j.Close() }()
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcp.New(storage, j, cfg.Caches.Names(), cfg.Version, version, logger)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "edgeworker.yaml", "path to config file")
	return cmd
}
