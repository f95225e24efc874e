// Package store implements the manas relational store on SQLite. It owns
// sessions and their turns, the consolidation outputs (samskaras, vasanas,
// vidhis), the consolidation audit log, the nidra state singleton, and a
// small knowledge-graph substore (nodes/edges).
//
// All writes use short transactions; a single connection with WAL keeps
// writers serialized without long-held locks.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"manas/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// LocalStore is the SQLite-backed store.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	logging.Store("Opening store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	logging.Store("Store ready (sessions, patterns, consolidation, graph)")
	return s, nil
}

// Close releases the database handle.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *LocalStore) Path() string { return s.dbPath }

// initialize creates the required tables and indexes.
func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		title TEXT DEFAULT '',
		total_tokens INTEGER DEFAULT 0,
		total_cost REAL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		turn_number INTEGER NOT NULL,
		role TEXT DEFAULT 'assistant',
		content TEXT DEFAULT '',
		tool_calls TEXT DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, turn_number)
	);

	CREATE TABLE IF NOT EXISTS samskaras (
		id TEXT PRIMARY KEY,
		project TEXT,
		pattern_type TEXT NOT NULL,
		content TEXT NOT NULL,
		observation_count INTEGER DEFAULT 1,
		confidence REAL DEFAULT 0.5,
		session_id TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS vasanas (
		id TEXT PRIMARY KEY,
		project TEXT,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		valence TEXT DEFAULT 'neutral',
		strength REAL DEFAULT 0,
		stability REAL DEFAULT 0,
		source_samskaras TEXT DEFAULT '[]',
		activation_count INTEGER DEFAULT 0,
		last_activated DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS vidhis (
		id TEXT PRIMARY KEY,
		project TEXT,
		name TEXT NOT NULL,
		steps TEXT DEFAULT '[]',
		param_schema TEXT DEFAULT '{}',
		triggers TEXT DEFAULT '[]',
		success_rate REAL DEFAULT 0,
		success_count INTEGER DEFAULT 0,
		failure_count INTEGER DEFAULT 0,
		source_sessions TEXT DEFAULT '[]',
		confidence REAL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS consolidation_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project TEXT NOT NULL,
		cycle_type TEXT NOT NULL,
		cycle_id TEXT NOT NULL,
		phase TEXT,
		phase_duration_ms INTEGER DEFAULT 0,
		vasanas_created INTEGER DEFAULT 0,
		vidhis_created INTEGER DEFAULT 0,
		samskaras_processed INTEGER DEFAULT 0,
		sessions_processed INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS nidra_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		consolidation_phase TEXT DEFAULT '',
		consolidation_progress REAL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS graph_nodes (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		label TEXT DEFAULT '',
		project TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS graph_edges (
		id TEXT PRIMARY KEY,
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		weight REAL DEFAULT 0,
		project TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project, updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(project, created_at);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, turn_number);
	CREATE INDEX IF NOT EXISTS idx_samskaras_project ON samskaras(project, confidence DESC);
	CREATE INDEX IF NOT EXISTS idx_vasanas_name ON vasanas(name);
	CREATE INDEX IF NOT EXISTS idx_vasanas_created ON vasanas(project, created_at);
	CREATE INDEX IF NOT EXISTS idx_vidhis_created ON vidhis(project, created_at);
	CREATE INDEX IF NOT EXISTS idx_consolidation_cycle ON consolidation_log(cycle_id);
	CREATE INDEX IF NOT EXISTS idx_graph_nodes_created ON graph_nodes(project, created_at);
	CREATE INDEX IF NOT EXISTS idx_graph_edges_created ON graph_edges(project, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// Seed the nidra singleton so updates can assume the row exists.
	_, err := s.db.Exec(`INSERT OR IGNORE INTO nidra_state (id, consolidation_phase, consolidation_progress) VALUES (1, '', 0)`)
	if err != nil {
		return fmt.Errorf("failed to seed nidra_state: %w", err)
	}
	return nil
}
