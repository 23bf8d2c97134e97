// Package directory keeps a small SQLite-backed ledger of which context
// keys have been seen and when. It stores metadata only — never state,
// never actions — so it cannot become the durable state log the core
// explicitly rules out (spec.md §1 non-goals).
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS contexts (
	key TEXT PRIMARY KEY,
	first_seen_at INTEGER NOT NULL,
	last_touched_at INTEGER NOT NULL,
	created_by_identity TEXT,
	hydrate_failures INTEGER NOT NULL DEFAULT 0
);
`

// ContextRecord is one row of bookkeeping for a single context key.
type ContextRecord struct {
	Key               string
	FirstSeenAt       time.Time
	LastTouchedAt     time.Time
	CreatedByIdentity string
	HydrateFailures   int
}

type writeOp struct {
	run    func(*sql.DB) error
	result chan error
}

// Directory is a single-writer SQLite handle, matching the pattern
// SQLite needs under concurrent callers: one goroutine owns every write.
type Directory struct {
	db      *sql.DB
	writes  chan writeOp
	done    chan struct{}
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// Open opens (creating if absent) the SQLite database at path and
// ensures the contexts table exists.
func Open(path string) (*Directory, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open directory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply directory schema: %w", err)
	}

	d := &Directory{
		db:     db,
		writes: make(chan writeOp, 64),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.writeLoop()
	return d, nil
}

func (d *Directory) writeLoop() {
	defer d.wg.Done()
	for {
		select {
		case op := <-d.writes:
			op.result <- op.run(d.db)
		case <-d.done:
			return
		}
	}
}

func (d *Directory) execute(run func(*sql.DB) error) error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return fmt.Errorf("directory: closed")
	}
	d.closeMu.Unlock()

	result := make(chan error, 1)
	select {
	case d.writes <- writeOp{run: run, result: result}:
		return <-result
	case <-time.After(5 * time.Second):
		return fmt.Errorf("directory: write timed out")
	case <-d.done:
		return fmt.Errorf("directory: closed")
	}
}

// RecordContext implements registry.Directory: it upserts a row for key,
// bumping last_touched_at and filling in first_seen_at / created_by on
// first sight. Failures are logged, never returned, so this bookkeeping
// never fails a connect; the call waits for the write to finish, for at
// most the 5-second write timeout.
func (d *Directory) RecordContext(key string, identity any) {
	now := time.Now().Unix()
	createdBy := identityLabel(identity)

	err := d.execute(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO contexts (key, first_seen_at, last_touched_at, created_by_identity, hydrate_failures)
			VALUES (?, ?, ?, ?, 0)
			ON CONFLICT(key) DO UPDATE SET last_touched_at = excluded.last_touched_at
		`, key, now, now, createdBy)
		return err
	})
	if err != nil {
		log.Printf("directory: record context %q: %v", key, err)
	}
}

// RecordHydrateFailure bumps the failure counter for key, creating a row
// if none exists yet.
func (d *Directory) RecordHydrateFailure(key string) {
	now := time.Now().Unix()
	err := d.execute(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO contexts (key, first_seen_at, last_touched_at, hydrate_failures)
			VALUES (?, ?, ?, 1)
			ON CONFLICT(key) DO UPDATE SET
				last_touched_at = excluded.last_touched_at,
				hydrate_failures = contexts.hydrate_failures + 1
		`, key, now, now)
		return err
	})
	if err != nil {
		log.Printf("directory: record hydrate failure %q: %v", key, err)
	}
}

// Get returns the bookkeeping row for key, if any.
func (d *Directory) Get(ctx context.Context, key string) (ContextRecord, bool, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT key, first_seen_at, last_touched_at, created_by_identity, hydrate_failures
		FROM contexts WHERE key = ?
	`, key)

	var rec ContextRecord
	var firstSeen, lastTouched int64
	var createdBy sql.NullString
	if err := row.Scan(&rec.Key, &firstSeen, &lastTouched, &createdBy, &rec.HydrateFailures); err != nil {
		if err == sql.ErrNoRows {
			return ContextRecord{}, false, nil
		}
		return ContextRecord{}, false, fmt.Errorf("directory: get %q: %w", key, err)
	}
	rec.FirstSeenAt = time.Unix(firstSeen, 0).UTC()
	rec.LastTouchedAt = time.Unix(lastTouched, 0).UTC()
	rec.CreatedByIdentity = createdBy.String
	return rec, true, nil
}

// List returns every bookkeeping row, ordered by most recently touched.
func (d *Directory) List(ctx context.Context) ([]ContextRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT key, first_seen_at, last_touched_at, created_by_identity, hydrate_failures
		FROM contexts ORDER BY last_touched_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("directory: list: %w", err)
	}
	defer rows.Close()

	var out []ContextRecord
	for rows.Next() {
		var rec ContextRecord
		var firstSeen, lastTouched int64
		var createdBy sql.NullString
		if err := rows.Scan(&rec.Key, &firstSeen, &lastTouched, &createdBy, &rec.HydrateFailures); err != nil {
			return nil, fmt.Errorf("directory: scan row: %w", err)
		}
		rec.FirstSeenAt = time.Unix(firstSeen, 0).UTC()
		rec.LastTouchedAt = time.Unix(lastTouched, 0).UTC()
		rec.CreatedByIdentity = createdBy.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close stops the write loop and closes the database handle.
func (d *Directory) Close() error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return nil
	}
	d.closed = true
	d.closeMu.Unlock()

	close(d.done)
	d.wg.Wait()
	return d.db.Close()
}

// identityLabel renders identity for storage. The directory only needs a
// human-readable label, so any type with a String() method (or a
// *identity.Principal-shaped struct) degrades gracefully via %v.
func identityLabel(identity any) string {
	if identity == nil {
		return ""
	}
	if s, ok := identity.(interface{ String() string }); ok {
		return s.String()
	}
	if p, ok := identity.(interface{ Subject() string }); ok {
		return p.Subject()
	}
	return fmt.Sprintf("%v", identity)
}
