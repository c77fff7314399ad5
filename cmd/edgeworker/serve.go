package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cachepkg "github.com/pario-ai/edgeworker/pkg/cache/sqlite"
	"github.com/pario-ai/edgeworker/pkg/config"
	"github.com/pario-ai/edgeworker/pkg/journal"
	"github.com/pario-ai/edgeworker/pkg/logging"
	"github.com/pario-ai/edgeworker/pkg/manifest"
	"github.com/pario-ai/edgeworker/pkg/network"
	"github.com/pario-ai/edgeworker/pkg/proxy"
	"github.com/pario-ai/edgeworker/pkg/worker"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the caching front proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

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
				j, err = journal.New(cfg.DBPath, cfg.Journal.Retention)
				if err != nil {
					return fmt.Errorf("init journal: %w", err)
				}
				defer func() { _ = j.Close() }()
			}

			origin, err := network.NewOrigin(cfg.Origin, nil)
			if err != nil {
				return err
			}

			reg := worker.NewRegistration(worker.Deps{
				Storage: storage,
				Network: origin,
				Journal: j,
				Logger:  logger,
			})
			defer reg.Close(context.Background())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m, err := manifest.Load(ctx, cfg.Manifest)
			if err != nil {
				return err
			}
			if _, err := reg.Register(ctx, cfg, m); err != nil {
				return fmt.Errorf("register worker: %w", err)
			}

			go reloadOnHangup(ctx, configPath, reg, logger)

			logger.Info("starting edgeworker", zap.String("config", configPath), zap.String("origin", cfg.Origin))
			return proxy.New(cfg, reg, origin, logger).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "edgeworker.yaml", "path to config file")
	return cmd
}

// reloadOnHangup registers a new worker generation from the current config
// and manifest whenever the process receives SIGHUP. Listener, database and
// origin settings only take effect on restart.
func reloadOnHangup(ctx context.Context, configPath string, reg *worker.Registration, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			logger.Error("reload config", zap.Error(err))
			continue
		}
		m, err := manifest.Load(ctx, cfg.Manifest)
		if err != nil {
			logger.Error("reload manifest", zap.Error(err))
			continue
		}
		w, err := reg.Register(ctx, cfg, m)
		if err != nil {
			logger.Error("register worker", zap.Error(err))
			continue
		}
		logger.Info("worker registered",
			zap.String("worker", w.ID()),
			zap.String("version", w.Version()),
			zap.String("state", string(w.State())))
	}
}
