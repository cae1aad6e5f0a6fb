package event

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CapacityKind identifies how many spots a slot has left
type CapacityKind string

const (
	CapacityUnknown    CapacityKind = ""
	CapacityUnlimited  CapacityKind = "unlimited"
	CapacityWaitlisted CapacityKind = "waitlisted"
	CapacityFull       CapacityKind = "full"
	CapacityNumeric    CapacityKind = "numeric"
	CapacityOpaque     CapacityKind = "opaque"
)

// Capacity is the availability indicator of a slot.
// Count is only meaningful for CapacityNumeric, Raw keeps the upstream text.
type Capacity struct {
	Kind  CapacityKind
	Count int
	Raw   string
}

// ParseCapacity maps upstream availability text onto a Capacity.
// Text that is neither a keyword nor a number is passed through as opaque.
func ParseCapacity(text string) Capacity {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\u00a0", " "))
	switch text {
	case "":
		return Capacity{}
	case "Unlimited":
		return Capacity{Kind: CapacityUnlimited, Raw: text}
	case "Waitlist":
		return Capacity{Kind: CapacityWaitlisted, Raw: text}
	case "Event Full":
		return Capacity{Kind: CapacityFull, Raw: text}
	}
	if n, err := strconv.Atoi(text); err == nil {
		return Capacity{Kind: CapacityNumeric, Count: n, Raw: text}
	}
	return Capacity{Kind: CapacityOpaque, Raw: text}
}

// IsZero reports whether no capacity was scraped
func (c Capacity) IsZero() bool {
	return c.Kind == CapacityUnknown
}

// MarshalJSON writes numbers as numbers and everything else as upstream text
func (c Capacity) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CapacityUnknown:
		return []byte("null"), nil
	case CapacityNumeric:
		return []byte(strconv.Itoa(c.Count)), nil
	default:
		return json.Marshal(c.Raw)
	}
}

// Slot is one discrete session of a listing
type Slot struct {
	Start    time.Time         `json:"start_time"`
	End      time.Time         `json:"end_time"`
	Capacity Capacity          `json:"spots_available"`
	Activity string            `json:"activity,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// Organizer is the contact block of a listing
type Organizer struct {
	Name   string   `json:"organizer_name"`
	Email  string   `json:"organizer_email"`
	Phones []string `json:"organizer_phone"`
}

// RawRecord is everything scraped for one upstream listing.
// Nil fields were not found on the page.
type RawRecord struct {
	OriginID            string     `json:"event_id"`
	Name                *string    `json:"opportunity_name,omitempty"`
	Description         *string    `json:"description,omitempty"`
	Location            *string    `json:"meeting_location,omitempty"`
	LocationDescription *string    `json:"meeting_location_desc,omitempty"`
	Organizer           *Organizer `json:"organizer,omitempty"`
	Category            *string    `json:"category,omitempty"`
	Slots               []Slot     `json:"slots"`
	URL                 string     `json:"url"`
}

// Listing is a RawRecord whose schedule could be established
type Listing struct {
	RawRecord
	StartsAt time.Time `json:"start_time"`
	EndsAt   time.Time `json:"end_time"`
}

// Assemble derives the event-level span from the record's slots.
// A record without slots is not schedulable and yields (nil, false).
func Assemble(rec *RawRecord) (*Listing, bool) {
	if rec == nil || len(rec.Slots) == 0 {
		return nil, false
	}

	start := rec.Slots[0].Start
	end := rec.Slots[0].End
	for _, s := range rec.Slots[1:] {
		if s.Start.Before(start) {
			start = s.Start
		}
		if s.End.After(end) {
			end = s.End
		}
	}

	return &Listing{RawRecord: *rec, StartsAt: start, EndsAt: end}, true
}

// Canonical maps the scraped field names onto the event schema:
// opportunity_name → title, meeting_location → location,
// meeting_location_desc → location_description, event_id → origin_id,
// url → source_url. Slots and organizer are dropped.
func (l *Listing) Canonical() *Canonical {
	return &Canonical{
		OriginID:            l.OriginID,
		Title:               deref(l.Name),
		Description:         deref(l.Description),
		StartsAt:            l.StartsAt.UTC(),
		EndsAt:              l.EndsAt.UTC(),
		Location:            deref(l.Location),
		LocationDescription: deref(l.LocationDescription),
		SourceURL:           l.URL,
		Category:            deref(l.Category),
	}
}

// Canonical is the normalized, persistable event shape
type Canonical struct {
	OriginID            string    `json:"origin_id"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	StartsAt            time.Time `json:"starts_at"`
	EndsAt              time.Time `json:"ends_at"`
	Location            string    `json:"location"`
	LocationDescription string    `json:"location_description"`
	SourceURL           string    `json:"source_url"`
	Category            string    `json:"category"`
	Fingerprint         string    `json:"content_fingerprint,omitempty"`
}

// ContentFields returns the upstream-visible content of the event.
// The stored fingerprint is never part of it.
func (c *Canonical) ContentFields() map[string]any {
	return map[string]any{
		"origin_id":            c.OriginID,
		"title":                c.Title,
		"description":          c.Description,
		"starts_at":            formatInstant(c.StartsAt),
		"ends_at":              formatInstant(c.EndsAt),
		"location":             c.Location,
		"location_description": c.LocationDescription,
		"source_url":           c.SourceURL,
		"category":             c.Category,
	}
}

// Persisted is a Canonical event stored for a feed
type Persisted struct {
	Canonical
	ID        string    `json:"id"`
	FeedID    int64     `json:"feed_id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CompareOriginIDs orders identifiers numerically when both are numbers,
// lexically otherwise.
func CompareOriginIDs(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// SortCanonical sorts events by origin id, keeping the order of equal ids
func SortCanonical(events []*Canonical) {
	sort.SliceStable(events, func(i, j int) bool {
		return CompareOriginIDs(events[i].OriginID, events[j].OriginID) < 0
	})
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
