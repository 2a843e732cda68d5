// Package runstore is the authoritative, persisted record of all export runs.
// It is the single owner of Run state; every reader and writer goes through it,
// and subscribers observe changes for live UI updates.
package runstore

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jonathan/exportd/internal/types"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	platform_id  TEXT NOT NULL,
	company      TEXT NOT NULL,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL,
	start_date   TIMESTAMP NOT NULL,
	end_date     TIMESTAMP,
	current_step TEXT NOT NULL DEFAULT '',
	logs         TEXT NOT NULL DEFAULT '',
	export_path  TEXT NOT NULL DEFAULT '',
	export_size  INTEGER NOT NULL DEFAULT 0,
	url          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_platform ON runs(platform_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// ChangeKind classifies a store notification.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is delivered to subscribers after each committed mutation.
type Change struct {
	Kind ChangeKind
	Run  types.Run
}

// Store wraps the SQLite database holding run state.
type Store struct {
	db *sql.DB

	// writeMu serializes check-then-write transitions so a stopped transition
	// racing a late success resolves deterministically.
	writeMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]chan Change
	nextSub int
}

// Open opens (creating if needed) the run store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", filepath.Clean(path)+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping run store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create run store schema: %w", err)
	}
	return &Store{db: db, subs: make(map[int]chan Change)}, nil
}

// Close closes the underlying database and all subscriber channels.
func (s *Store) Close() error {
	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
	return s.db.Close()
}

// Subscribe registers a change listener. The returned cancel func must be
// called when the listener is done. Slow listeners drop notifications rather
// than block mutations.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Change, 64)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if ch, ok := s.subs[id]; ok {
			close(ch)
			delete(s.subs, id)
		}
	}
	return ch, cancel
}

func (s *Store) notify(kind ChangeKind, run types.Run) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- Change{Kind: kind, Run: run}:
		default:
		}
	}
}
