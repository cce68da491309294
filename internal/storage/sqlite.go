// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-chat/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversation_meta (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	position   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_meta_position ON conversation_meta(position);
`

// SQLiteCache keeps the metadata list in a SQLite table.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Load returns the cached list in saved order.
func (c *SQLiteCache) Load() ([]model.ConversationMeta, error) {
	rows, err := c.db.Query(`SELECT id, title, created_at, updated_at FROM conversation_meta ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	defer rows.Close()

	var out []model.ConversationMeta
	for rows.Next() {
		var (
			meta             model.ConversationMeta
			created, updated int64
		)
		if err := rows.Scan(&meta.ID, &meta.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		meta.CreatedAt = time.Unix(0, created).UTC()
		meta.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	return out, nil
}

// Save replaces the cached list in one transaction.
func (c *SQLiteCache) Save(metas []model.ConversationMeta) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conversation_meta`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO conversation_meta (id, title, created_at, updated_at, position) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range metas {
		if _, err := stmt.Exec(m.ID, m.Title, m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano(), i); err != nil {
			return fmt.Errorf("failed to insert %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// Clear deletes all cached rows.
func (c *SQLiteCache) Clear() error {
	if _, err := c.db.Exec(`DELETE FROM conversation_meta`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
