package store

import (
	"database/sql"
	"fmt"

	"manas/internal/logging"
)

// CurrentSchemaVersion tracks the store schema.
// v1: initial tables
// v2: sessions gained total_tokens/total_cost accounting columns
// v3: vidhis gained confidence column
const CurrentSchemaVersion = 3

// Migration defines a column-add schema migration. Tables that are
// missing entirely are created by initialize(); migrations only handle
// older databases missing newer columns.
type Migration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []Migration{
	{"sessions", "total_tokens", "INTEGER DEFAULT 0"},
	{"sessions", "total_cost", "REAL DEFAULT 0"},
	{"vidhis", "confidence", "REAL DEFAULT 0"},
}

// RunMigrations applies schema migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create schema_versions: %w", err)
	}

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		applied++
	}

	if _, err := db.Exec(`INSERT OR IGNORE INTO schema_versions (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return err
	}

	if applied > 0 {
		logging.Store("Applied %d schema migrations", applied)
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
