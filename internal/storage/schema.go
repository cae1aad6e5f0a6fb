package storage

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// migrate applies schema migrations based on user_version
func migrate(db *sql.DB) error {
	version, err := userVersion(db)
	if err != nil {
		return err
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS feeds (
		  id              INTEGER PRIMARY KEY AUTOINCREMENT,
		  name            TEXT NOT NULL UNIQUE,
		  adapter_type    TEXT NOT NULL,
		  endpoint        TEXT NOT NULL,
		  owner_id        TEXT NOT NULL DEFAULT '',
		  time_zone       TEXT NOT NULL DEFAULT '',
		  last_refresh_at INTEGER,
		  created_at      INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS events (
		  id                   TEXT PRIMARY KEY,
		  feed_id              INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		  owner_id             TEXT NOT NULL DEFAULT '',
		  origin_id            TEXT NOT NULL,
		  title                TEXT NOT NULL,
		  description          TEXT NOT NULL,
		  starts_at            TEXT NOT NULL,
		  ends_at              TEXT NOT NULL,
		  location             TEXT NOT NULL,
		  location_description TEXT NOT NULL,
		  source_url           TEXT NOT NULL,
		  category             TEXT NOT NULL,
		  content_fingerprint  TEXT NOT NULL,
		  created_at           INTEGER NOT NULL,
		  updated_at           INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_feed_origin
		ON events(feed_id, origin_id);

		CREATE INDEX IF NOT EXISTS idx_events_feed_created
		ON events(feed_id, created_at, id);

		CREATE INDEX IF NOT EXISTS idx_events_starts_at
		ON events(starts_at);

		CREATE TABLE IF NOT EXISTS refresh_runs (
		  id          TEXT PRIMARY KEY,
		  feed_id     INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		  started_at  INTEGER NOT NULL,
		  finished_at INTEGER NOT NULL,
		  status      TEXT NOT NULL,
		  inserted    INTEGER NOT NULL DEFAULT 0,
		  updated     INTEGER NOT NULL DEFAULT 0,
		  deleted     INTEGER NOT NULL DEFAULT 0,
		  unchanged   INTEGER NOT NULL DEFAULT 0,
		  skipped     INTEGER NOT NULL DEFAULT 0,
		  failed      INTEGER NOT NULL DEFAULT 0,
		  error       TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_refresh_runs_feed_started
		ON refresh_runs(feed_id, started_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := setUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string)
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("verifying journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

func userVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading user_version: %w", err)
	}
	return version, nil
}

func setUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("setting user_version: %w", err)
	}
	return nil
}
