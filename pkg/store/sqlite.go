package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/sketch-sync/pkg/protocol"
)

// SQLiteRepository keeps the increment log in an append-only sqlite table. The
// version column is the monotonic counter: the row count and the max version are
// the same number.
type SQLiteRepository struct {
	database *sql.DB
}

// OpenSQLite opens or creates the database file and ensures the schema exists.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS increments (
		version integer not null primary key,
		id text not null,
		payload text not null
		)`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	slog.Info("Ensured initial tables exist")
	return &SQLiteRepository{database: db}, nil
}

func (s *SQLiteRepository) Close() error {
	return s.database.Close()
}

func (s *SQLiteRepository) LastVersion() (int64, error) {
	var version int64
	if err := s.database.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM increments`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to query version: %w", err)
	}
	return version, nil
}

func (s *SQLiteRepository) SinceVersion(version int64) ([]protocol.Increment, error) {
	rows, err := s.database.Query(`SELECT payload FROM increments WHERE version > ? ORDER BY version`, version)
	if err != nil {
		return nil, fmt.Errorf("failed to query increments: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)
	increments := make([]protocol.Increment, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan increment: %w", err)
		}
		increments = append(increments, protocol.Increment(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate increments: %w", err)
	}
	return increments, nil
}

// SaveAll appends the whole batch in one transaction. Any invalid increment
// rejects the whole batch and the log is left untouched.
func (s *SQLiteRepository) SaveAll(increments []protocol.Increment) ([]protocol.Increment, error) {
	tx, err := s.database.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback", "err", err)
		}
	}()

	var base int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM increments`).Scan(&base); err != nil {
		return nil, fmt.Errorf("failed to query version: %w", err)
	}

	committed := make([]protocol.Increment, 0, len(increments))
	for i, increment := range increments {
		version := base + int64(i) + 1
		stamped, id, err := stampIncrement(increment, version)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(
			`INSERT INTO increments(version, id, payload) VALUES (?, ?, ?)`,
			version, id, string(stamped),
		); err != nil {
			return nil, fmt.Errorf("failed to persist increment: %w", err)
		}
		committed = append(committed, stamped)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return committed, nil
}
