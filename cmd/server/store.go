package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/whizzter/redux-multiplayer/pkg/collab"
)

const demoSchema = `
CREATE TABLE IF NOT EXISTS counters (
	context_key TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0
);
`

// demoStore is the sample hydrate/reducer/filter collaborator set: one
// counter per context key. Hydrate creates a SQLite row at 0 for a new
// key and reads the stored count; Reduce changes the count in memory
// only and never writes it back, so after a restart every room hydrates
// from its stored value (0 unless set outside this program). It is
// entirely out of the core's scope
// (spec.md §1) — the core only ever calls through the three function
// values it exposes.
type demoStore struct {
	db *sql.DB
}

func newDemoStore(directoryPath string) (*demoStore, error) {
	path := os.Getenv("REDUX_DEMO_DB_PATH")
	if path == "" {
		path = demoPathSibling(directoryPath)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open demo store: %w", err)
	}
	if _, err := db.Exec(demoSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply demo schema: %w", err)
	}
	return &demoStore{db: db}, nil
}

func demoPathSibling(directoryPath string) string {
	if directoryPath == "" {
		return "./demo_counters.db"
	}
	if idx := strings.LastIndex(directoryPath, "."); idx > strings.LastIndex(directoryPath, "/") {
		return directoryPath[:idx] + "_demo" + directoryPath[idx:]
	}
	return directoryPath + "_demo"
}

func (s *demoStore) Close() error { return s.db.Close() }

// Hydrate implements collab.Hydrate. Keys under "ghost/" never exist,
// demonstrating the invalidStore path; everything else is created
// lazily with count 0.
func (s *demoStore) Hydrate(ctx context.Context, key string, identity any) (any, error) {
	if strings.HasPrefix(key, "ghost/") {
		return nil, nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (context_key, count) VALUES (?, 0)
		ON CONFLICT(context_key) DO NOTHING
	`, key)
	if err != nil {
		return nil, fmt.Errorf("ensure counter row for %q: %w", key, err)
	}

	var count int
	row := s.db.QueryRowContext(ctx, `SELECT count FROM counters WHERE context_key = ?`, key)
	if err := row.Scan(&count); err != nil {
		return nil, fmt.Errorf("read counter for %q: %w", key, err)
	}

	return map[string]any{"count": count}, nil
}

// Reduce implements collab.Reducer: "inc" increments, "reset" zeroes.
// Unrecognized action types leave state unchanged.
func (s *demoStore) Reduce(state any, action collab.Action) any {
	m, ok := state.(map[string]any)
	if !ok {
		m = map[string]any{"count": 0}
	}
	count, _ := m["count"].(int)

	switch action.Type() {
	case "inc":
		count++
	case "reset":
		count = 0
	default:
		return m
	}

	return map[string]any{"count": count}
}

// Filter implements collab.ActionFilter: "reset" requires an
// authenticated identity.
func (s *demoStore) Filter(ctx context.Context, fc collab.FilterContext, action collab.Action) (collab.Verdict, error) {
	if action.Type() == "reset" && fc.Identity() == nil {
		return collab.NeedAuthWith("reset requires authentication"), nil
	}
	return collab.AcceptAction(action), nil
}
