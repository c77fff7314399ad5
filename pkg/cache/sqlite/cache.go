package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/edgeworker/pkg/models"
)

// Storage is a set of named response caches backed by SQLite.
type Storage struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.Mutex
	stores map[string]*Store
}

// Store is a single named cache inside a Storage.
type Store struct {
	storage *Storage
	name    string
	hits    atomic.Int64
	misses  atomic.Int64
}

const createCacheTables = `
CREATE TABLE IF NOT EXISTS caches (
	name TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_name TEXT NOT NULL,
	url TEXT NOT NULL,
	status INTEGER NOT NULL,
	header TEXT NOT NULL,
	body BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	accessed_at INTEGER NOT NULL,
	PRIMARY KEY (cache_name, url)
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_access ON cache_entries(cache_name, accessed_at);
`

// New opens (and migrates) the cache database at dbPath.
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// One connection serializes every storage operation.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Storage{
		db:     db,
		now:    time.Now,
		stores: make(map[string]*Store),
	}, nil
}

// SetClock replaces the time source. Intended for tests.
func (s *Storage) SetClock(now func() time.Time) {
	s.now = now
}

// Open returns the named cache, creating it if needed.
func (s *Storage) Open(ctx context.Context, name string) (*Store, error) {
	if name == "" {
		return nil, errors.New("open cache: empty name")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, s.now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stores[name]
	if !ok {
		st = &Store{storage: s, name: name}
		s.stores[name] = st
	}
	return st, nil
}

// Has reports whether a cache with the given name exists.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM caches WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has cache %s: %w", name, err)
	}
	return n > 0, nil
}

// Keys lists the names of all caches in creation order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM caches ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a cache and all of its entries. It reports whether the
// cache existed.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ?`, name); err != nil {
		return false, fmt.Errorf("delete cache %s entries: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}

	s.mu.Lock()
	delete(s.stores, name)
	s.mu.Unlock()

	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Stats returns metrics for every cache.
func (s *Storage) Stats(ctx context.Context) ([]models.CacheStats, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.CacheStats, 0, len(names))
	for _, name := range names {
		st, err := s.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, nil
}

// Close releases the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Name returns the cache name.
func (st *Store) Name() string {
	return st.name
}

// Match returns the entry stored for url. Entries older than maxAge (when
// maxAge > 0) are removed and reported as a miss.
func (st *Store) Match(ctx context.Context, url string, maxAge time.Duration) (*models.CachedResponse, bool, error) {
	var (
		entry      models.CachedResponse
		header     string
		createdAt  int64
		accessedAt int64
	)
	err := st.storage.db.QueryRowContext(ctx,
		`SELECT status, header, body, created_at, accessed_at
		 FROM cache_entries WHERE cache_name = ? AND url = ?`,
		st.name, url,
	).Scan(&entry.Status, &header, &entry.Body, &createdAt, &accessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		st.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		st.misses.Add(1)
		return nil, false, fmt.Errorf("cache match: %w", err)
	}

	now := st.storage.now()
	entry.CacheName = st.name
	entry.URL = url
	entry.CreatedAt = time.Unix(0, createdAt)
	entry.AccessedAt = now

	if maxAge > 0 && entry.Age(now) > maxAge {
		st.misses.Add(1)
		if err := st.Delete(ctx, url); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	if err := json.Unmarshal([]byte(header), &entry.Header); err != nil {
		entry.Header = http.Header{}
	}

	if _, err := st.storage.db.ExecContext(ctx,
		`UPDATE cache_entries SET accessed_at = ? WHERE cache_name = ? AND url = ?`,
		now.UnixNano(), st.name, url,
	); err != nil {
		return nil, false, fmt.Errorf("cache touch: %w", err)
	}

	st.hits.Add(1)
	return &entry, true, nil
}

// Put stores a response under its URL, replacing any previous entry. Puts
// into a deleted cache are dropped.
func (st *Store) Put(ctx context.Context, resp *models.CachedResponse) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("cache put: encode header: %w", err)
	}
	now := st.storage.now().UnixNano()
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	_, err = st.storage.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (cache_name, url, status, header, body, created_at, accessed_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM caches WHERE name = ?)`,
		st.name, resp.URL, resp.Status, string(header), body, now, now, st.name,
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Delete removes the entry for url.
func (st *Store) Delete(ctx context.Context, url string) error {
	_, err := st.storage.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache_name = ? AND url = ?`, st.name, url)
	if err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Keys lists the URLs stored in the cache, most recently used first.
func (st *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := st.storage.db.QueryContext(ctx,
		`SELECT url FROM cache_entries WHERE cache_name = ? ORDER BY accessed_at DESC, url`, st.name)
	if err != nil {
		return nil, fmt.Errorf("cache keys: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan cache key: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// Trim removes entries older than maxAge and then the least recently used
// entries beyond maxEntries among the URLs starting with prefix. Zero
// disables either limit.
func (st *Store) Trim(ctx context.Context, prefix string, maxEntries int, maxAge time.Duration) (int64, error) {
	var removed int64
	if maxAge > 0 {
		cutoff := st.storage.now().Add(-maxAge).UnixNano()
		res, err := st.storage.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE cache_name = ? AND created_at < ?`, st.name, cutoff)
		if err != nil {
			return removed, fmt.Errorf("cache trim: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if maxEntries > 0 {
		res, err := st.storage.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE cache_name = ? AND substr(url, 1, ?) = ? AND url NOT IN (
				SELECT url FROM cache_entries WHERE cache_name = ? AND substr(url, 1, ?) = ?
				ORDER BY accessed_at DESC, created_at DESC LIMIT ?
			)`, st.name, len(prefix), prefix, st.name, len(prefix), prefix, maxEntries)
		if err != nil {
			return removed, fmt.Errorf("cache trim: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}

// Stats returns cache performance metrics.
func (st *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	var count, size int64
	err := st.storage.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(body)), 0) FROM cache_entries WHERE cache_name = ?`, st.name,
	).Scan(&count, &size)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Name:    st.name,
		Entries: count,
		Bytes:   size,
		Hits:    st.hits.Load(),
		Misses:  st.misses.Load(),
	}, nil
}
