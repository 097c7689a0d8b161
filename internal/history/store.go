// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history persists a record of setup runs for support diagnostics.
// Recording is best-effort: a history failure must never fail a setup run.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one setup attempt.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	Error      string
	Artifact   string
}

// Store is a SQLite-backed run log.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	success     INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	artifact    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records the start of a run.
func (s *Store) Begin(run Run) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		run.ID, run.StartedAt.Format(time.RFC3339Nano),
	)
	return err
}

// Finish records the terminal outcome of a run.
func (s *Store) Finish(id string, success bool, errMsg, artifact string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, success = ?, error = ?, artifact = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), boolToInt(success), errMsg, artifact, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no run with id %s", id)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, COALESCE(finished_at, ''), success, error, artifact
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		var success int
		if err := rows.Scan(&r.ID, &started, &finished, &success, &r.Error, &r.Artifact); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished != "" {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		}
		r.Success = success == 1
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
