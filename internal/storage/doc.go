// Package storage provides SQLite persistence for feeds, their events and refresh runs.
//
// The database lives in a single file (eventfeeds.db) inside the data directory and is
// opened in WAL mode. The schema is versioned with PRAGMA user_version. Events are keyed
// by a ULID and are unique per (feed_id, origin_id); a reconciliation plan is applied in
// one transaction together with the feed's last refresh time, so readers never observe a
// partially applied refresh. The default data directory is ~/.local/share/eventfeeds/.
package storage
