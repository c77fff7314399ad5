package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/edgeworker/pkg/models"
	"github.com/pario-ai/edgeworker/pkg/strategy"
)

const defaultEventLimit = 50

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"edgeworker_cache_stats":        handleCacheStats,
	"edgeworker_events":             handleEvents,
	"edgeworker_clear_stale_caches": handleClearStale,
}

var allTools = []ToolDefinition{
	{
		Name:        "edgeworker_cache_stats",
		Description: "List every stored cache with entry count, size and whether a live worker or the configured version uses it.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "edgeworker_events",
		Description: "Show recent worker lifecycle events (install, activate, cleanup, claim, message).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"worker_id": map[string]any{
					"type":        "string",
					"description": "Filter by worker ID (optional)",
				},
				"event": map[string]any{
					"type":        "string",
					"description": "Filter by event name (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of events (optional, default 50)",
				},
			},
		},
	},
	{
		Name:        "edgeworker_clear_stale_caches",
		Description: "Delete caches of versions that no live worker uses. Caches of the configured version and of live workers are kept.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	stats, err := s.storage.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	keep, err := s.keepVersions(ctx)
	if err != nil {
		return errorResult("Error reading live versions: " + err.Error())
	}
	current := make(map[string]bool, len(s.names)*len(keep))
	for _, name := range s.names {
		for _, v := range keep {
			current[models.VersionedCacheName(name, v)] = true
		}
	}
	return textResult(formatCacheStats(stats, current))
}

type eventsArgs struct {
	WorkerID string `json:"worker_id"`
	Event    string `json:"event"`
	Since    string `json:"since"`
	Limit    int    `json:"limit"`
}

func handleEvents(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.journal == nil {
		return textResult("The lifecycle journal is not enabled.")
	}
	var args eventsArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}

	opts := models.EventQueryOpts{
		WorkerID: args.WorkerID,
		Event:    args.Event,
		Limit:    args.Limit,
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultEventLimit
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	events, err := s.journal.List(ctx, opts)
	if err != nil {
		return errorResult("Error listing events: " + err.Error())
	}
	return textResult(formatEvents(events))
}

func handleClearStale(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	keep, err := s.keepVersions(ctx)
	if err != nil {
		return errorResult("Error reading live versions: " + err.Error())
	}
	deleted, err := strategy.ClearOldCaches(ctx, s.storage, s.names, keep...)
	if err != nil {
		return errorResult("Error clearing caches: " + err.Error())
	}
	return textResult(formatDeleted(deleted))
}

// keepVersions is the configured version plus every version the journal
// reports live.
func (s *Server) keepVersions(ctx context.Context) ([]string, error) {
	live, err := s.journal.LiveVersions(ctx)
	if err != nil {
		return nil, err
	}
	return append(live, s.version), nil
}
