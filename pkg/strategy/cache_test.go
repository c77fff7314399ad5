package strategy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	cachepkg "github.com/pario-ai/edgeworker/pkg/cache/sqlite"
	"github.com/pario-ai/edgeworker/pkg/models"
	"github.com/pario-ai/edgeworker/pkg/network"
)

// fakeOrigin serves "<path>#<n>" where n counts requests per path.
type fakeOrigin struct {
	mu     sync.Mutex
	counts map[string]int
	status map[string]int
	err    error
	block  chan struct{}
	calls  atomic.Int64
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{counts: map[string]int{}, status: map[string]int{}}
}

func (f *fakeOrigin) Fetch(r *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	block, err := f.block, f.err
	f.counts[r.URL.Path]++
	n := f.counts[r.URL.Path]
	code, ok := f.status[r.URL.Path]
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		code = http.StatusOK
	}
	body := r.URL.Path + "#" + string(rune('0'+n))
	return &http.Response{
		StatusCode: code,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}, nil
}

func (f *fakeOrigin) set(fn func(f *fakeOrigin)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newTestStorage(t *testing.T) *cachepkg.Storage {
	t.Helper()
	s, err := cachepkg.New(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestCache(t *testing.T, s *cachepkg.Storage, f network.Fetcher, strategy models.Strategy, opts models.StrategyOptions) *Cache {
	t.Helper()
	c, err := New(context.Background(), s, models.CacheDescriptor{
		Name:     "test-cache",
		Version:  "v1",
		Strategy: strategy,
		Options:  opts,
	}, f, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Wait)
	return c
}

func get(t *testing.T, c *Cache, path string) *http.Response {
	t.Helper()
	resp, err := c.HandleRequest(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestCacheFirst(t *testing.T) {
	origin := newFakeOrigin()
	c := newTestCache(t, newTestStorage(t), origin, models.CacheFirst, models.StrategyOptions{})

	first := get(t, c, "/build/app.css")
	if first.Header.Get(HeaderCache) != CacheMiss {
		t.Error("expected miss on first request")
	}
	if body := readBody(t, first); body != "/build/app.css#1" {
		t.Errorf("unexpected body %q", body)
	}

	second := get(t, c, "/build/app.css")
	if second.Header.Get(HeaderCache) != CacheHit {
		t.Error("expected hit on second request")
	}
	if body := readBody(t, second); body != "/build/app.css#1" {
		t.Errorf("expected cached body, got %q", body)
	}
	if origin.calls.Load() != 1 {
		t.Errorf("expected 1 origin call, got %d", origin.calls.Load())
	}
}

func TestCacheFirstSkipsErrors(t *testing.T) {
	origin := newFakeOrigin()
	origin.status["/missing"] = http.StatusNotFound
	c := newTestCache(t, newTestStorage(t), origin, models.CacheFirst, models.StrategyOptions{})

	get(t, c, "/missing").Body.Close()
	resp := get(t, c, "/missing")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	if origin.calls.Load() != 2 {
		t.Errorf("404 should not be cached, got %d calls", origin.calls.Load())
	}
}

func TestNonGetBypassesStorage(t *testing.T) {
	origin := newFakeOrigin()
	c := newTestCache(t, newTestStorage(t), origin, models.CacheFirst, models.StrategyOptions{})

	for i := 0; i < 2; i++ {
		resp, err := c.HandleRequest(httptest.NewRequest(http.MethodPost, "/form", nil))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	if origin.calls.Load() != 2 {
		t.Errorf("expected 2 origin calls, got %d", origin.calls.Load())
	}
}

func TestMaxEntries(t *testing.T) {
	origin := newFakeOrigin()
	s := newTestStorage(t)
	c := newTestCache(t, s, origin, models.CacheFirst, models.StrategyOptions{MaxEntries: 2})

	for _, p := range []string{"/a", "/b", "/c"} {
		get(t, c, p).Body.Close()
	}
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 2 {
		t.Errorf("expected 2 entries, got %d", stats.Entries)
	}
}

func TestNetworkFirstPrefersNetwork(t *testing.T) {
	origin := newFakeOrigin()
	c := newTestCache(t, newTestStorage(t), origin, models.NetworkFirst, models.StrategyOptions{NetworkTimeoutSeconds: 10})

	get(t, c, "/posts?_data=routes/posts").Body.Close()
	resp := get(t, c, "/posts?_data=routes/posts")
	if resp.Header.Get(HeaderCache) != CacheMiss {
		t.Error("expected network response")
	}
	if body := readBody(t, resp); body != "/posts#2" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestNetworkFirstFallsBackOnError(t *testing.T) {
	origin := newFakeOrigin()
	c := newTestCache(t, newTestStorage(t), origin, models.NetworkFirst, models.StrategyOptions{})

	get(t, c, "/posts.data").Body.Close()
	origin.set(func(f *fakeOrigin) { f.err = errors.New("offline") })

	resp := get(t, c, "/posts.data")
	if resp.Header.Get(HeaderCache) != CacheHit {
		t.Error("expected cached response")
	}
	if body := readBody(t, resp); body != "/posts.data#1" {
		t.Errorf("unexpected body %q", body)
	}

	if _, err := c.HandleRequest(httptest.NewRequest(http.MethodGet, "/other.data", nil)); err == nil {
		t.Error("expected error without cached fallback")
	}
}

func TestNetworkFirstFallsBackOnTimeout(t *testing.T) {
	origin := newFakeOrigin()
	c := newTestCache(t, newTestStorage(t), origin, models.NetworkFirst, models.StrategyOptions{NetworkTimeoutSeconds: 1})

	get(t, c, "/slow.data").Body.Close()

	release := make(chan struct{})
	origin.set(func(f *fakeOrigin) { f.block = release })

	resp := get(t, c, "/slow.data")
	if resp.Header.Get(HeaderCache) != CacheHit {
		t.Error("expected cached response after timeout")
	}
	if body := readBody(t, resp); body != "/slow.data#1" {
		t.Errorf("unexpected body %q", body)
	}

	origin.set(func(f *fakeOrigin) { f.block = nil })
	close(release)
	c.Wait()

	// The late network response updated storage.
	e, ok := c.Match(context.Background(), "/slow.data")
	if !ok || string(e.Body) != "/slow.data#2" {
		t.Errorf("expected storage updated by late response, got %v", e)
	}
}

func TestStaleWhileRevalidate(t *testing.T) {
	origin := newFakeOrigin()
	c := newTestCache(t, newTestStorage(t), origin, models.StaleWhileRevalidate, models.StrategyOptions{})

	get(t, c, "/feed").Body.Close()
	resp := get(t, c, "/feed")
	if body := readBody(t, resp); body != "/feed#1" {
		t.Errorf("expected stale body, got %q", body)
	}
	c.Wait()

	e, ok := c.Match(context.Background(), "/feed")
	if !ok || string(e.Body) != "/feed#2" {
		t.Errorf("expected refreshed entry, got %v", e)
	}
}

func TestCacheOnly(t *testing.T) {
	origin := newFakeOrigin()
	c := newTestCache(t, newTestStorage(t), origin, models.CacheOnly, models.StrategyOptions{})

	_, err := c.HandleRequest(httptest.NewRequest(http.MethodGet, "/x", nil))
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("expected ErrNoResponse, got %v", err)
	}
	if origin.calls.Load() != 0 {
		t.Error("cache-only must not touch the network")
	}
}

func TestNetworkOnly(t *testing.T) {
	origin := newFakeOrigin()
	c := newTestCache(t, newTestStorage(t), origin, models.NetworkOnly, models.StrategyOptions{})

	get(t, c, "/x").Body.Close()
	get(t, c, "/x").Body.Close()
	if c.Has(context.Background(), "/x") {
		t.Error("network-only must not store")
	}
	if origin.calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", origin.calls.Load())
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	_, err := New(context.Background(), newTestStorage(t), models.CacheDescriptor{
		Name: "x", Version: "v1", Strategy: "Fastest",
	}, newFakeOrigin(), nil)
	if err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func newPartitionedCache(t *testing.T, f network.Fetcher) *Cache {
	t.Helper()
	c, err := New(context.Background(), newTestStorage(t), models.CacheDescriptor{
		Name:        "document-cache",
		Version:     "v1",
		Strategy:    models.CacheFirst,
		Partitioned: true,
		Options:     models.StrategyOptions{MaxEntries: 1},
	}, f, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Wait)
	return c
}

func getAs(t *testing.T, c *Cache, clientID, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if clientID != "" {
		req = req.WithContext(WithClient(req.Context(), clientID))
	}
	resp, err := c.HandleRequest(req)
	if err != nil {
		t.Fatalf("GET %s as %q: %v", path, clientID, err)
	}
	return resp
}

func TestPartitionedCacheIsolatesClients(t *testing.T) {
	origin := newFakeOrigin()
	c := newPartitionedCache(t, origin)

	if body := readBody(t, getAs(t, c, "alice", "/account")); body != "/account#1" {
		t.Fatalf("unexpected body %q", body)
	}
	hit := getAs(t, c, "alice", "/account")
	if hit.Header.Get(HeaderCache) != CacheHit {
		t.Error("expected hit for the same client")
	}
	hit.Body.Close()

	other := getAs(t, c, "bob", "/account")
	if other.Header.Get(HeaderCache) != CacheMiss {
		t.Error("expected miss for another client")
	}
	if body := readBody(t, other); body != "/account#2" {
		t.Errorf("expected bob's own response, got %q", body)
	}

	// max_entries applies per client: bob's entry does not evict alice's.
	ctx := WithClient(context.Background(), "alice")
	if !c.Has(ctx, "/account") {
		t.Error("expected alice's entry kept")
	}
}

func TestPartitionedCacheWithoutClientBypassesStorage(t *testing.T) {
	origin := newFakeOrigin()
	c := newPartitionedCache(t, origin)

	getAs(t, c, "", "/welcome").Body.Close()
	resp := getAs(t, c, "", "/welcome")
	resp.Body.Close()
	if resp.Header.Get(HeaderCache) != CacheMiss {
		t.Error("expected no storage without a client")
	}
	if origin.calls.Load() != 2 {
		t.Errorf("expected 2 origin calls, got %d", origin.calls.Load())
	}
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 0 {
		t.Errorf("expected empty cache, got %d entries", stats.Entries)
	}
}

func TestSetCookieNeverStored(t *testing.T) {
	origin := network.FetcherFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header: http.Header{
				"Content-Type": []string{"text/html"},
				"Set-Cookie":   []string{"session=alice-secret; Path=/"},
			},
			Body:    io.NopCloser(strings.NewReader("hello")),
			Request: r,
		}, nil
	})
	c := newTestCache(t, newTestStorage(t), origin, models.CacheFirst, models.StrategyOptions{})

	first := get(t, c, "/welcome")
	first.Body.Close()
	if first.Header.Get("Set-Cookie") == "" {
		t.Error("expected the live response to keep its Set-Cookie")
	}

	second := get(t, c, "/welcome")
	second.Body.Close()
	if second.Header.Get(HeaderCache) != CacheHit {
		t.Fatal("expected cache hit")
	}
	if v := second.Header.Get("Set-Cookie"); v != "" {
		t.Errorf("cached response replayed Set-Cookie %q", v)
	}
}
