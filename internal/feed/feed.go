package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/scraper"
)

// DefaultTimeZone is used for feeds that do not name one
const DefaultTimeZone = "America/Chicago"

// Type names the adapter that knows how to read a feed's endpoint
type Type string

const (
	TypeCervis    Type = "cervis"
	TypeOpenlands Type = "openlands"
)

// ErrUnknownAdapter is returned for a feed whose adapter type is not registered
var ErrUnknownAdapter = errors.New("unknown adapter type")

// Feed is one upstream source of events
type Feed struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	AdapterType Type      `json:"adapter_type"`
	Endpoint    string    `json:"endpoint"`
	OwnerID     string    `json:"owner_id"`
	TimeZone    string    `json:"time_zone"`
	LastRefresh time.Time `json:"last_refresh_time"`
}

// Zone returns the feed's IANA zone name, falling back to DefaultTimeZone
func (f *Feed) Zone() string {
	if f.TimeZone == "" {
		return DefaultTimeZone
	}
	return f.TimeZone
}

// Validate checks that the feed can be refreshed
func (f *Feed) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("feed name is required")
	}
	if _, ok := registry[f.AdapterType]; !ok {
		return fmt.Errorf("feed %q: %w: %q", f.Name, ErrUnknownAdapter, f.AdapterType)
	}
	u, err := url.Parse(f.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("feed %q: endpoint must be an absolute URL, got %q", f.Name, f.Endpoint)
	}
	if _, err := time.LoadLocation(f.Zone()); err != nil {
		return fmt.Errorf("feed %q: loading time zone %q: %w", f.Name, f.Zone(), err)
	}
	return nil
}

// Adapter reads the current listings of one feed
type Adapter interface {
	Fetch(ctx context.Context) (*scraper.Result, error)
}

// Factory builds the adapter for a feed
type Factory func(f *Feed, cfg scraper.Config) Adapter

// registry is the closed set of adapter types
var registry = map[Type]Factory{
	TypeCervis:    newCervis,
	TypeOpenlands: newCervis,
}

// Resolve returns the adapter registered for the feed's type
func Resolve(f *Feed, cfg scraper.Config) (Adapter, error) {
	factory, ok := registry[f.AdapterType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, f.AdapterType)
	}
	return factory(f, cfg), nil
}

// Types lists the registered adapter types
func Types() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, string(t))
	}
	sort.Strings(types)
	return types
}

// newCervis reads Cervis web registration listings
func newCervis(f *Feed, cfg scraper.Config) Adapter {
	return scraper.New(f.Endpoint, f.Zone(), cfg)
}

// Mode selects a projection of a scrape result
type Mode string

const (
	ModeRaw       Mode = "raw"
	ModeCanonical Mode = "canonical"
)

// ParseMode validates a projection name; empty means canonical
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeCanonical:
		return ModeCanonical, nil
	case ModeRaw:
		return ModeRaw, nil
	}
	return "", fmt.Errorf("unknown mode %q (want %s or %s)", s, ModeRaw, ModeCanonical)
}

// Project shapes a scrape result for output. Raw keeps the upstream field
// names and slots; canonical uses the event schema.
func Project(result *scraper.Result, mode Mode) any {
	if mode == ModeRaw {
		return result.Listings
	}
	out := result.Canonical()
	event.SortCanonical(out)
	return out
}
