package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type SQLiteStorage struct {
	sqlStorage
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time keeps sqlite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := runSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStorage{sqlStorage{
		db: db,
		upsertStmt: `
			INSERT INTO lookup_stats (topic, subtopic, outcome, count, last_seen_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (topic, subtopic, outcome)
			DO UPDATE SET count = lookup_stats.count + 1,
			              last_seen_at = MAX(lookup_stats.last_seen_at, excluded.last_seen_at)`,
		listStmt: listLookupsQuery,
	}}, nil
}

func runSQLiteMigrations(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS lookup_stats (
			topic TEXT NOT NULL DEFAULT '',
			subtopic TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			last_seen_at DATETIME NOT NULL,
			PRIMARY KEY (topic, subtopic, outcome)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lookup_stats_count ON lookup_stats(count DESC)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
