package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/edgeworker/pkg/config"
	"github.com/pario-ai/edgeworker/pkg/journal"
	"github.com/pario-ai/edgeworker/pkg/models"
)

func newEventsCmd() *cobra.Command {
	var (
		configPath string
		opts       models.EventQueryOpts
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show worker lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			j, err := journal.New(cfg.DBPath, 0)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			events, err := j.List(context.Background(), opts)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No events.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tWORKER\tVERSION\tEVENT\tDETAIL\tERROR")
			for _, ev := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(ev.CreatedAt), shortID(ev.WorkerID), ev.Version, ev.Event, dash(ev.Detail), dash(ev.Error))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "edgeworker.yaml", "path to config file")
	cmd.Flags().StringVar(&opts.WorkerID, "worker", "", "filter by worker ID")
	cmd.Flags().StringVar(&opts.Event, "event", "", "filter by event (install, activate, cleanup, claim, message, skip_waiting, redundant)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of events")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
