// Package strategy implements the named, versioned worker caches and the
// strategies they use to answer requests.
package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	cachepkg "github.com/pario-ai/edgeworker/pkg/cache/sqlite"
	"github.com/pario-ai/edgeworker/pkg/models"
	"github.com/pario-ai/edgeworker/pkg/network"
)

// HeaderCache reports how a response was produced.
const HeaderCache = "X-Edgeworker-Cache"

// Values of HeaderCache.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

var (
	// ErrNoResponse is returned when a strategy has nothing to serve.
	ErrNoResponse = errors.New("no response available")
	// ErrNoClient is returned when a partitioned cache is written without
	// a client.
	ErrNoClient = errors.New("partitioned cache needs a client")
)

// Cache is a named cache that answers requests with a fixed strategy.
type Cache struct {
	desc    models.CacheDescriptor
	store   *cachepkg.Store
	fetcher network.Fetcher
	logger  *zap.Logger

	concurrency int
	group       singleflight.Group
	bg          sync.WaitGroup
}

// New opens the storage for desc and returns a Cache that fetches misses
// through fetcher.
func New(ctx context.Context, storage *cachepkg.Storage, desc models.CacheDescriptor, fetcher network.Fetcher, logger *zap.Logger) (*Cache, error) {
	if !desc.Strategy.Valid() {
		return nil, fmt.Errorf("cache %s: unknown strategy %q", desc.Name, desc.Strategy)
	}
	store, err := storage.Open(ctx, desc.VersionedName())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		desc:        desc,
		store:       store,
		fetcher:     fetcher,
		logger:      logger.With(zap.String("cache", desc.VersionedName())),
		concurrency: 4,
	}, nil
}

// WithPrecacheConcurrency bounds the number of parallel precache fetches.
func (c *Cache) WithPrecacheConcurrency(n int) *Cache {
	if n > 0 {
		c.concurrency = n
	}
	return c
}

// Name returns the versioned storage name.
func (c *Cache) Name() string {
	return c.desc.VersionedName()
}

// Descriptor returns the cache configuration.
func (c *Cache) Descriptor() models.CacheDescriptor {
	return c.desc
}

// HandleRequest answers r according to the cache strategy. Only GET requests
// are served from or written to storage; anything else goes to the network.
func (c *Cache) HandleRequest(r *http.Request) (*http.Response, error) {
	if r.Method != http.MethodGet {
		return c.fetch(r)
	}
	switch c.desc.Strategy {
	case models.CacheFirst:
		return c.cacheFirst(r)
	case models.NetworkFirst:
		return c.networkFirst(r)
	case models.StaleWhileRevalidate:
		return c.staleWhileRevalidate(r)
	case models.CacheOnly:
		return c.cacheOnly(r)
	default:
		return c.fetch(r)
	}
}

// Partitioned reports whether entries are scoped per client.
func (c *Cache) Partitioned() bool {
	return c.desc.Partitioned
}

// Match returns the stored response for a request key, honouring max age.
// Partitioned caches look in the partition of the client carried by ctx.
func (c *Cache) Match(ctx context.Context, key string) (*models.CachedResponse, bool) {
	skey, ok := c.storageKey(ctx, key)
	if !ok {
		return nil, false
	}
	entry, ok, err := c.store.Match(ctx, skey, c.desc.Options.MaxAge())
	if err != nil {
		c.logger.Warn("cache match failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return entry, ok
}

// Put stores a response under key and trims the cache to its limits.
// Set-Cookie is never stored. A partitioned cache without a client in ctx
// returns ErrNoClient.
func (c *Cache) Put(ctx context.Context, key string, status int, header http.Header, body []byte) error {
	skey, ok := c.storageKey(ctx, key)
	if !ok {
		return ErrNoClient
	}
	stored := network.StripHopByHop(header)
	stored.Del("Set-Cookie")
	err := c.store.Put(ctx, &models.CachedResponse{
		URL:    skey,
		Status: status,
		Header: stored,
		Body:   body,
	})
	if err != nil {
		return err
	}
	var prefix string
	if c.desc.Partitioned {
		prefix = partitionPrefix(ClientFrom(ctx))
	}
	removed, err := c.store.Trim(ctx, prefix, c.desc.Options.MaxEntries, c.desc.Options.MaxAge())
	if err != nil {
		return err
	}
	if removed > 0 {
		c.logger.Debug("cache trimmed", zap.Int64("removed", removed))
	}
	return nil
}

// Has reports whether a fresh entry exists for key.
func (c *Cache) Has(ctx context.Context, key string) bool {
	_, ok := c.Match(ctx, key)
	return ok
}

// Stats returns storage metrics for the cache.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	return c.store.Stats(ctx)
}

// Wait blocks until background revalidations have finished.
func (c *Cache) Wait() {
	c.bg.Wait()
}

// Key is the storage key of a request: its origin-relative URI.
func Key(r *http.Request) string {
	return r.URL.RequestURI()
}

func (c *Cache) fetch(r *http.Request) (*http.Response, error) {
	resp, err := c.fetcher.Fetch(r)
	if err != nil {
		return nil, err
	}
	resp.Header.Set(HeaderCache, CacheMiss)
	return resp, nil
}

// fetchAndStore fetches r and stores the response when it is cacheable. The
// returned response always has a readable body.
func (c *Cache) fetchAndStore(r *http.Request) (*http.Response, bool, error) {
	resp, err := c.fetcher.Fetch(r)
	if err != nil {
		return nil, false, err
	}
	if !cacheable(r, resp) {
		resp.Header.Set(HeaderCache, CacheMiss)
		return resp, false, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, false, fmt.Errorf("read response: %w", err)
	}

	stored := true
	if err := c.Put(r.Context(), Key(r), resp.StatusCode, resp.Header, body); errors.Is(err, ErrNoClient) {
		stored = false
	} else if err != nil {
		c.logger.Warn("cache put failed", zap.String("key", Key(r)), zap.Error(err))
		stored = false
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Set(HeaderCache, CacheMiss)
	return resp, stored, nil
}

func cacheable(r *http.Request, resp *http.Response) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if resp.StatusCode == http.StatusPartialContent {
		return false
	}
	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
}

// respond builds a response from a stored entry.
func respond(r *http.Request, e *models.CachedResponse) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderCache, CacheHit)
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       r,
	}
}
