// Package journal persists worker lifecycle events.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/edgeworker/pkg/models"
)

// Journal writes and queries lifecycle events in SQLite.
type Journal struct {
	db        *sql.DB
	retention time.Duration
	done      chan struct{}
	wg        sync.WaitGroup
}

// New opens the journal database and starts the retention loop. A zero
// retention keeps events forever.
func New(dbPath string, retention time.Duration) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}

	j := &Journal{
		db:        db,
		retention: retention,
		done:      make(chan struct{}),
	}
	if retention > 0 {
		j.wg.Add(1)
		go j.retentionLoop()
	}
	return j, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS lifecycle_events (
		id         TEXT PRIMARY KEY,
		worker_id  TEXT NOT NULL,
		version    TEXT NOT NULL,
		event      TEXT NOT NULL,
		detail     TEXT,
		error      TEXT,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_lifecycle_created ON lifecycle_events(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_lifecycle_worker ON lifecycle_events(worker_id)`)
	return err
}

// Record inserts an event. A nil Journal discards it.
func (j *Journal) Record(ctx context.Context, ev models.LifecycleEvent) error {
	if j == nil || j.db == nil {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO lifecycle_events (id, worker_id, version, event, detail, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.WorkerID, ev.Version, ev.Event, ev.Detail, ev.Error, ev.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// List returns events matching opts, newest first.
func (j *Journal) List(ctx context.Context, opts models.EventQueryOpts) ([]models.LifecycleEvent, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	q := `SELECT id, worker_id, version, event, detail, error, created_at
		FROM lifecycle_events WHERE 1=1`
	var args []any

	if opts.WorkerID != "" {
		q += " AND worker_id = ?"
		args = append(args, opts.WorkerID)
	}
	if opts.Event != "" {
		q += " AND event = ?"
		args = append(args, opts.Event)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UnixNano())
	}

	q += " ORDER BY created_at DESC, rowid DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.LifecycleEvent
	for rows.Next() {
		var (
			ev        models.LifecycleEvent
			detail    sql.NullString
			errText   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.WorkerID, &ev.Version, &ev.Event, &detail, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.Detail = detail.String
		ev.Error = errText.String
		ev.CreatedAt = time.Unix(0, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// liveWorkers selects workers that installed successfully and have not
// since failed activation or been retired.
const liveWorkers = `SELECT worker_id FROM lifecycle_events
	WHERE event = 'install' AND COALESCE(error, '') = ''
	AND worker_id NOT IN (
		SELECT worker_id FROM lifecycle_events
		WHERE event = 'redundant'
		   OR (event IN ('install', 'activate') AND COALESCE(error, '') != '')
	)`

// LiveVersions returns the cache versions of workers the journal still
// considers live: installed, and neither retired nor failed. A worker
// whose process died without retiring it stays live.
func (j *Journal) LiveVersions(ctx context.Context) ([]string, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT DISTINCT version FROM lifecycle_events
		 WHERE worker_id IN (`+liveWorkers+`) ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query live versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan live version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Cleanup deletes events older than the retention period. Events of live
// workers are kept so LiveVersions stays accurate.
func (j *Journal) Cleanup(ctx context.Context) (int64, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-j.retention).UnixNano()
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM lifecycle_events WHERE created_at < ? AND worker_id NOT IN (`+liveWorkers+`)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	close(j.done)
	j.wg.Wait()
	return j.db.Close()
}

func (j *Journal) retentionLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			_, _ = j.Cleanup(context.Background())
		}
	}
}
