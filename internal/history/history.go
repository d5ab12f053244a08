// Package history keeps a SQLite ledger of task-loop cycles.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"gata/internal/taskloop"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS cycles (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	log_id         TEXT NOT NULL,
	task_id        TEXT NOT NULL DEFAULT '',
	score          REAL NOT NULL DEFAULT 0.0,
	outcome        TEXT NOT NULL,
	points_before  INTEGER NOT NULL DEFAULT 0,
	points_after   INTEGER NOT NULL DEFAULT 0,
	delay_ms       INTEGER NOT NULL DEFAULT 0,
	started_at     INTEGER NOT NULL DEFAULT 0,
	finished_at    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cycles_outcome ON cycles(outcome);
CREATE INDEX IF NOT EXISTS idx_cycles_finished ON cycles(finished_at);
`

// Store records cycles in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordCycle appends one finished cycle.
func (s *Store) RecordCycle(ctx context.Context, r taskloop.CycleResult) error {
	const q = `INSERT INTO cycles (log_id, task_id, score, outcome, points_before, points_after, delay_ms, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		r.LogID,
		r.TaskID,
		r.Score,
		string(r.Outcome),
		r.PointsBefore,
		r.PointsAfter,
		r.Delay.Milliseconds(),
		unixMilli(r.StartedAt),
		unixMilli(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// Recent returns up to limit cycles, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]taskloop.CycleResult, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT log_id, task_id, score, outcome, points_before, points_after, delay_ms, started_at, finished_at
FROM cycles
ORDER BY id DESC
LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var out []taskloop.CycleResult
	for rows.Next() {
		var (
			r                 taskloop.CycleResult
			outcome           string
			delayMS           int64
			started, finished int64
		)
		if err := rows.Scan(&r.LogID, &r.TaskID, &r.Score, &outcome, &r.PointsBefore, &r.PointsAfter, &delayMS, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		r.Outcome = taskloop.Outcome(outcome)
		r.Delay = time.Duration(delayMS) * time.Millisecond
		r.StartedAt = fromUnixMilli(started)
		r.FinishedAt = fromUnixMilli(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByOutcome tallies recorded cycles per outcome.
func (s *Store) CountByOutcome(ctx context.Context) (map[taskloop.Outcome]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM cycles GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count cycles: %w", err)
	}
	defer rows.Close()

	counts := make(map[taskloop.Outcome]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[taskloop.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
