package storage

import (
	"context"
	"fmt"
	"time"
)

// Run statuses
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is the audit record of one refresh attempt
type Run struct {
	ID         string    `json:"id"`
	FeedID     int64     `json:"feed_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Deleted    int       `json:"deleted"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// RecordRun stores a refresh run
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_runs (id, feed_id, started_at, finished_at, status,
			inserted, updated, deleted, unchanged, skipped, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.FeedID, run.StartedAt.UTC().UnixMilli(), run.FinishedAt.UTC().UnixMilli(), run.Status,
		run.Inserted, run.Updated, run.Deleted, run.Unchanged, run.Skipped, run.Failed, run.Error)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs of a feed, newest first
func (s *Store) ListRuns(ctx context.Context, feedID int64, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feed_id, started_at, finished_at, status,
			inserted, updated, deleted, unchanged, skipped, failed, error
		FROM refresh_runs WHERE feed_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.FeedID, &started, &finished, &r.Status,
			&r.Inserted, &r.Updated, &r.Deleted, &r.Unchanged, &r.Skipped, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
