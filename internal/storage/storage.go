package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	_ "modernc.org/sqlite"
)

// DatabaseFile is the name of the database inside the data directory
const DatabaseFile = "eventfeeds.db"

var (
	// ErrNotFound is returned when a feed or event does not exist
	ErrNotFound = errors.New("not found")

	// ErrUniqueConstraint is returned when a write violates a UNIQUE index
	ErrUniqueConstraint = errors.New("unique constraint violation")
)

// Store persists feeds, their events and refresh runs in SQLite
type Store struct {
	db   *sql.DB
	path string

	mu      sync.Mutex
	entropy io.Reader
}

// New opens (and creates if needed) the database in dataDir
func New(dataDir string) (*Store, error) {
	// Expand ~ to home directory
	if strings.HasPrefix(dataDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, dataDir[2:])
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dataDir, DatabaseFile)
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:      db,
		path:    path,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// newID returns a ULID; ids minted by one store sort in creation order
func (s *Store) newID(now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}
	return id.String(), nil
}

// UpsertFeed creates the feed or updates the one with the same name.
// The returned feed carries the stored id and last refresh time.
func (s *Store) UpsertFeed(ctx context.Context, f *feed.Feed) (*feed.Feed, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feeds (name, adapter_type, endpoint, owner_id, time_zone, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			adapter_type = excluded.adapter_type,
			endpoint     = excluded.endpoint,
			owner_id     = excluded.owner_id,
			time_zone    = excluded.time_zone
	`, f.Name, string(f.AdapterType), f.Endpoint, f.OwnerID, f.TimeZone, time.Now().UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("saving feed %q: %w", f.Name, err)
	}
	return s.GetFeed(ctx, f.Name)
}

const feedColumns = `id, name, adapter_type, endpoint, owner_id, time_zone, last_refresh_at`

// GetFeed returns the feed with the given name
func (s *Store) GetFeed(ctx context.Context, name string) (*feed.Feed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE name = ?`, name)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading feed %q: %w", name, err)
	}
	return f, nil
}

// ListFeeds returns all feeds ordered by name
func (s *Store) ListFeeds(ctx context.Context) ([]*feed.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	defer rows.Close()

	feeds := make([]*feed.Feed, 0)
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeed(row scanner) (*feed.Feed, error) {
	var (
		f           feed.Feed
		adapterType string
		lastRefresh sql.NullInt64
	)
	if err := row.Scan(&f.ID, &f.Name, &adapterType, &f.Endpoint, &f.OwnerID, &f.TimeZone, &lastRefresh); err != nil {
		return nil, err
	}
	f.AdapterType = feed.Type(adapterType)
	if lastRefresh.Valid {
		f.LastRefresh = time.UnixMilli(lastRefresh.Int64).UTC()
	}
	return &f, nil
}

const eventColumns = `id, feed_id, owner_id, origin_id, title, description, starts_at, ends_at,
	location, location_description, source_url, category, content_fingerprint, created_at, updated_at`

// ListEvents returns the stored events of a feed in creation order
func (s *Store) ListEvents(ctx context.Context, feedID int64) ([]*event.Persisted, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events
		WHERE feed_id = ? ORDER BY created_at, id`, feedID)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	events := make([]*event.Persisted, 0)
	for rows.Next() {
		var (
			p                    event.Persisted
			startsAt, endsAt     string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&p.ID, &p.FeedID, &p.OwnerID, &p.OriginID, &p.Title, &p.Description,
			&startsAt, &endsAt, &p.Location, &p.LocationDescription, &p.SourceURL, &p.Category,
			&p.Fingerprint, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if p.StartsAt, err = parseInstant(startsAt); err != nil {
			return nil, err
		}
		if p.EndsAt, err = parseInstant(endsAt); err != nil {
			return nil, err
		}
		p.CreatedAt = time.UnixMilli(createdAt).UTC()
		p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		events = append(events, &p)
	}
	return events, rows.Err()
}

// ApplyPlan writes a reconciliation plan for f and advances its last
// refresh time to now, all in one transaction. On error nothing is written.
func (s *Store) ApplyPlan(ctx context.Context, f *feed.Feed, plan *event.Plan, now time.Time) error {
	now = now.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	for _, c := range plan.Inserts {
		id, err := s.newID(now)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO events (`+eventColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, f.ID, f.OwnerID, c.OriginID, c.Title, c.Description,
			formatInstant(c.StartsAt), formatInstant(c.EndsAt),
			c.Location, c.LocationDescription, c.SourceURL, c.Category,
			c.Fingerprint, now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return fmt.Errorf("inserting event %s: %w", c.OriginID, classify(err))
		}
	}

	for _, u := range plan.Updates {
		c := u.Fresh
		res, err := tx.ExecContext(ctx, `UPDATE events SET
				title = ?, description = ?, starts_at = ?, ends_at = ?,
				location = ?, location_description = ?, source_url = ?, category = ?,
				content_fingerprint = ?, updated_at = ?
			WHERE id = ? AND feed_id = ?`,
			c.Title, c.Description, formatInstant(c.StartsAt), formatInstant(c.EndsAt),
			c.Location, c.LocationDescription, c.SourceURL, c.Category,
			c.Fingerprint, now.UnixMilli(), u.Existing.ID, f.ID)
		if err != nil {
			return fmt.Errorf("updating event %s: %w", u.Existing.ID, classify(err))
		}
		if err := expectOne(res, "event "+u.Existing.ID); err != nil {
			return err
		}
	}

	for _, p := range plan.Deletes {
		res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ? AND feed_id = ?`, p.ID, f.ID)
		if err != nil {
			return fmt.Errorf("deleting event %s: %w", p.ID, err)
		}
		if err := expectOne(res, "event "+p.ID); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE feeds SET last_refresh_at = ? WHERE id = ?`, now.UnixMilli(), f.ID)
	if err != nil {
		return fmt.Errorf("updating last refresh: %w", err)
	}
	if err := expectOne(res, fmt.Sprintf("feed %d", f.ID)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	f.LastRefresh = now
	return nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking %s: %w", what, err)
	}
	if n != 1 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// classify maps driver errors onto package errors
func classify(err error) error {
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrUniqueConstraint, err)
	}
	return err
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseInstant(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}
