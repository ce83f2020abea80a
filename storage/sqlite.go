package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDialect targets an embedded SQLite file through mattn/go-sqlite3
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) Placeholder(int) string { return "?" }

func (SQLiteDialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS assets (
		asset_id TEXT PRIMARY KEY,
		asset_name TEXT NOT NULL UNIQUE,
		model_name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
		`CREATE TABLE IF NOT EXISTS latest_values (
		address TEXT PRIMARY KEY,
		asset_name TEXT NOT NULL,
		external_id TEXT NOT NULL,
		value_kind TEXT NOT NULL,
		string_value TEXT,
		double_value REAL,
		ts INTEGER NOT NULL,
		entry_id TEXT NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS idx_latest_values_property ON latest_values(external_id, value_kind)`,
	}
}

func (SQLiteDialect) StringEquals(column, placeholder string) string {
	return column + " = " + placeholder
}

func (SQLiteDialect) UpsertAsset() string {
	return `INSERT INTO assets (asset_id, asset_name, model_name) VALUES (?, ?, ?)
	ON CONFLICT (asset_name) DO UPDATE SET asset_id = excluded.asset_id, model_name = excluded.model_name`
}

func (SQLiteDialect) UpsertValue() string {
	return `INSERT INTO latest_values (address, asset_name, external_id, value_kind, string_value, double_value, ts, entry_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (address) DO UPDATE SET value_kind = excluded.value_kind, string_value = excluded.string_value,
		double_value = excluded.double_value, ts = excluded.ts, entry_id = excluded.entry_id
	WHERE latest_values.ts <= excluded.ts`
}

// NewSQLiteStore opens (or creates) the database file and its tables
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create dir for %s failed: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open SQLite database failed: %w", err)
	}
	store, err := openStore(db, SQLiteDialect{})
	if err != nil {
		return nil, err
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	return store, nil
}
