package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	cachepkg "github.com/pario-ai/edgeworker/pkg/cache/sqlite"
	"github.com/pario-ai/edgeworker/pkg/config"
	"github.com/pario-ai/edgeworker/pkg/journal"
	"github.com/pario-ai/edgeworker/pkg/strategy"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the worker caches",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			s, err := cachepkg.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			stats, err := s.Stats(context.Background())
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Println("No caches.")
				return nil
			}

			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()
			keep, err := keepVersions(context.Background(), j, cfg)
			if err != nil {
				return err
			}

			current := make(map[string]bool)
			for _, v := range keep {
				for _, d := range cfg.Caches.All(v) {
					current[d.VersionedName()] = true
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CACHE\tENTRIES\tSIZE\tCURRENT")
			for _, st := range stats {
				mark := "-"
				if current[st.Name] {
					mark = "yes"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", st.Name, st.Entries, humanize.Bytes(uint64(st.Bytes)), mark)
			}
			return w.Flush()
		},
	}

	var staleOnly, force bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			s, err := cachepkg.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()
			if j == nil {
				fmt.Fprintln(os.Stderr, "journal disabled: only the configured version counts as live")
			}

			deleted, err := clearCaches(context.Background(), s, j, cfg, staleOnly, force)
			if err != nil {
				return err
			}
			if len(deleted) == 0 {
				fmt.Println("Nothing to delete.")
				return nil
			}
			for _, name := range deleted {
				fmt.Printf("Deleted %s\n", name)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&staleOnly, "stale", false, "only delete caches of versions no live worker uses")
	clearCmd.Flags().BoolVar(&force, "force", false, "delete every cache even while workers are live")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "edgeworker.yaml", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

// openJournal opens the lifecycle journal, or returns nil when it is
// disabled.
func openJournal(cfg *config.Config) (*journal.Journal, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}
	return journal.New(cfg.DBPath, 0)
}

// keepVersions returns the versions whose caches are in use: the
// configured one plus every version a live worker runs.
func keepVersions(ctx context.Context, j *journal.Journal, cfg *config.Config) ([]string, error) {
	live, err := j.LiveVersions(ctx)
	if err != nil {
		return nil, err
	}
	return append(live, cfg.Version), nil
}

// clearCaches deletes stale caches, or every cache unless a live worker
// still uses one and force is not set.
func clearCaches(ctx context.Context, s *cachepkg.Storage, j *journal.Journal, cfg *config.Config, staleOnly, force bool) ([]string, error) {
	if staleOnly {
		keep, err := keepVersions(ctx, j, cfg)
		if err != nil {
			return nil, err
		}
		return strategy.ClearOldCaches(ctx, s, cfg.Caches.Names(), keep...)
	}
	if !force {
		live, err := j.LiveVersions(ctx)
		if err != nil {
			return nil, err
		}
		if len(live) > 0 {
			return nil, fmt.Errorf("workers on %s are live; stop the server or pass --force", strings.Join(live, ", "))
		}
	}
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, name := range names {
		if _, err := s.Delete(ctx, name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}
