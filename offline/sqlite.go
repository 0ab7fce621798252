// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/mattn/go-sqlite3"

	"github.com/netascode/go-wappsto"
)

const (
	// busyAttempts bounds the retries of a statement on a locked database
	busyAttempts = 5
	busyDelay    = 50 * time.Millisecond
)

const createTable = `
CREATE TABLE IF NOT EXISTS offline_frame (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	saved TEXT NOT NULL,
	data  TEXT NOT NULL
)`

// SQLiteStorage keeps frames in an SQLite database
//
// Frames are loaded in insertion order. The database survives restarts,
// and several clients may share one file.
type SQLiteStorage struct {
	db    *sql.DB
	clock clock.Clock
}

var _ wappsto.OfflineStorage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (and creates when missing) the database at path
//
// Use ":memory:" for a storage that lives as long as the process.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open offline database: %w", err)
	}
	// One connection keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db, clock: clock.WallClock}
	if err := s.withRetry(context.Background(), func(ctx context.Context) error {
		_, err := db.ExecContext(ctx, createTable)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create offline table: %w", err)
	}
	return s, nil
}

// Save stores data
func (s *SQLiteStorage) Save(data string) error {
	saved := wappsto.Timestamp(s.clock.Now())
	return s.withRetry(context.Background(), func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO offline_frame (saved, data) VALUES (?, ?)`, saved, data)
		return err
	})
}

// Load removes and returns up to max frames, oldest first
func (s *SQLiteStorage) Load(max int) ([]string, error) {
	if max <= 0 {
		max = -1
	}
	var out []string
	err := s.withRetry(context.Background(), func(ctx context.Context) error {
		out = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx,
			`SELECT id, data FROM offline_frame ORDER BY id LIMIT ?`, max)
		if err != nil {
			return err
		}
		var last int64
		for rows.Next() {
			var data string
			if err := rows.Scan(&last, &data); err != nil {
				_ = rows.Close()
				return err
			}
			out = append(out, data)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM offline_frame WHERE id <= ?`, last); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("load offline frames: %w", err)
	}
	return out, nil
}

// Len returns the number of stored frames
func (s *SQLiteStorage) Len() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM offline_frame`).Scan(&n)
	return n, err
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// withRetry runs fn again while the database reports it is busy
func (s *SQLiteStorage) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var last error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			last = fn(ctx)
			return last
		},
		IsFatalError: func(err error) bool {
			return !isBusy(err)
		},
		Attempts: busyAttempts,
		Delay:    busyDelay,
		Clock:    s.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		return last
	}
	return nil
}

// isBusy reports whether err is a transient lock conflict
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
