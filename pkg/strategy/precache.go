package strategy

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/edgeworker/pkg/network"
)

// PreCacheURLs fetches every url and stores it. The first failure cancels
// the remaining fetches and is returned.
func (c *Cache) PreCacheURLs(ctx context.Context, urls []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		g.Go(func() error {
			return c.precacheOne(gctx, u)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.logger.Info("precached urls", zap.Int("count", len(seen)))
	return nil
}

func (c *Cache) precacheOne(ctx context.Context, u string) error {
	req, err := network.NewGet(ctx, u)
	if err != nil {
		return fmt.Errorf("precache %s: %w", u, err)
	}
	if err := c.Add(req); err != nil {
		return fmt.Errorf("precache %s: %w", u, err)
	}
	return nil
}

// Add fetches req from the network and stores the response regardless of
// strategy. A response that cannot be stored is an error.
func (c *Cache) Add(req *http.Request) error {
	resp, stored, err := c.fetchAndStore(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if !stored {
		return fmt.Errorf("response not stored (status %d)", resp.StatusCode)
	}
	return nil
}
