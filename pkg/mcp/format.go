package mcp

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pario-ai/edgeworker/pkg/models"
)

func formatCacheStats(stats []models.CacheStats, current map[string]bool) string {
	if len(stats) == 0 {
		return "No caches."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-32s %8s %10s %8s %8s %8s\n", "Cache", "Entries", "Size", "Hits", "Misses", "Current")
	b.WriteString(strings.Repeat("-", 79) + "\n")
	for _, st := range stats {
		mark := "-"
		if current[st.Name] {
			mark = "yes"
		}
		fmt.Fprintf(&b, "%-32s %8d %10s %8d %8d %8s\n",
			st.Name, st.Entries, humanize.Bytes(uint64(st.Bytes)), st.Hits, st.Misses, mark)
	}
	return b.String()
}

func formatEvents(events []models.LifecycleEvent) string {
	if len(events) == 0 {
		return "No lifecycle events found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-10s %-8s %-14s %s\n", "Time", "Worker", "Version", "Event", "Detail")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, ev := range events {
		worker := ev.WorkerID
		if len(worker) > 8 {
			worker = worker[:8]
		}
		detail := ev.Detail
		if ev.Error != "" {
			detail = strings.TrimSpace(detail + " error: " + ev.Error)
		}
		fmt.Fprintf(&b, "%-20s %-10s %-8s %-14s %s\n",
			ev.CreatedAt.Format("2006-01-02 15:04:05"), worker, ev.Version, ev.Event, detail)
	}
	return b.String()
}

func formatDeleted(names []string) string {
	if len(names) == 0 {
		return "No stale caches."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Deleted %d cache(s):\n", len(names))
	for _, n := range names {
		b.WriteString("  " + n + "\n")
	}
	return b.String()
}
