package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps the entries in one table. Save writes a full
// snapshot: rows for paths that are no longer cached are removed.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend creates or opens a SQLite database.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteBackend{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func (s *SQLiteBackend) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS docs (
			path TEXT PRIMARY KEY,
			hash TEXT,
			mod_time TEXT,
			root BLOB,
			directives JSON,
			roles JSON
		);`,
		`CREATE INDEX IF NOT EXISTS idx_docs_hash ON docs(hash);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteBackend) Save(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM docs`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO docs (path, hash, mod_time, root, directives, roles)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		directives, _ := json.Marshal(e.Directives)
		roles, _ := json.Marshal(e.Roles)
		modTime := ""
		if !e.ModTime.IsZero() {
			modTime = e.ModTime.UTC().Format(time.RFC3339Nano)
		}
		if _, err := stmt.ExecContext(ctx, e.Path, e.Hash, modTime, e.Root, directives, roles); err != nil {
			return fmt.Errorf("failed to save %s: %w", e.Path, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteBackend) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, hash, mod_time, root, directives, roles FROM docs ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to query docs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var modTime string
		var directives, roles []byte
		if err := rows.Scan(&e.Path, &e.Hash, &modTime, &e.Root, &directives, &roles); err != nil {
			return nil, fmt.Errorf("failed to scan doc: %w", err)
		}
		if modTime != "" {
			e.ModTime, _ = time.Parse(time.RFC3339Nano, modTime)
		}
		if len(directives) > 0 {
			_ = json.Unmarshal(directives, &e.Directives)
		}
		if len(roles) > 0 {
			_ = json.Unmarshal(roles, &e.Roles)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
