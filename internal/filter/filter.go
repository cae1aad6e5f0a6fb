// Package filter narrows stored events down for listing and export.
//
// Criteria combine with AND; a criterion with several values matches when any
// value does:
//   - Date range (inclusive, on the event start)
//   - Title terms (substring, case-insensitive)
//   - Location terms (substring of location or its description)
//   - Categories (exact, case-insensitive)
//   - Weekends only (Saturday/Sunday in the filter's time zone)
//
// Example usage:
//
//	f := filter.New()
//	f.WeekendsOnly = true
//	f.Titles = []string{"bird"}
//	matching := f.Apply(events)
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/event"
)

// Filter represents event filtering criteria
type Filter struct {
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`

	Titles     []string `json:"titles,omitempty"`
	Locations  []string `json:"locations,omitempty"`
	Categories []string `json:"categories,omitempty"`

	WeekendsOnly bool `json:"weekends_only,omitempty"`

	// Zone decides which calendar day an event falls on; UTC when nil
	Zone *time.Location `json:"-"`
}

// New creates an empty filter that matches every event
func New() *Filter {
	return &Filter{}
}

// IsEmpty reports whether the filter has no active criteria
func (f *Filter) IsEmpty() bool {
	return f.DateFrom == nil &&
		f.DateTo == nil &&
		len(f.Titles) == 0 &&
		len(f.Locations) == 0 &&
		len(f.Categories) == 0 &&
		!f.WeekendsOnly
}

func (f *Filter) zone() *time.Location {
	if f.Zone == nil {
		return time.UTC
	}
	return f.Zone
}

// Matches checks if an event passes all active criteria
func (f *Filter) Matches(evt *event.Persisted) bool {
	if f.IsEmpty() {
		return true
	}

	start := evt.StartsAt.In(f.zone())

	if f.DateFrom != nil && start.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && start.After(*f.DateTo) {
		return false
	}

	if f.WeekendsOnly {
		if wd := start.Weekday(); wd != time.Saturday && wd != time.Sunday {
			return false
		}
	}

	if len(f.Titles) > 0 && !containsAny(evt.Title, f.Titles) {
		return false
	}

	if len(f.Locations) > 0 &&
		!containsAny(evt.LocationDescription, f.Locations) &&
		!containsAny(evt.Location, f.Locations) {
		return false
	}

	if len(f.Categories) > 0 {
		matched := false
		for _, c := range f.Categories {
			if strings.EqualFold(strings.TrimSpace(evt.Category), strings.TrimSpace(c)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

func containsAny(s string, terms []string) bool {
	lower := strings.ToLower(s)
	for _, term := range terms {
		if term = strings.TrimSpace(term); term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// Apply returns the matching events in their original order.
// An empty filter returns events unchanged.
func (f *Filter) Apply(events []*event.Persisted) []*event.Persisted {
	if f.IsEmpty() {
		return events
	}

	filtered := make([]*event.Persisted, 0, len(events))
	for _, evt := range events {
		if f.Matches(evt) {
			filtered = append(filtered, evt)
		}
	}
	return filtered
}

// String describes the active criteria.
// Format: "From: Jun 1, 2025 | To: Jun 15, 2025 | Titles: bird | Weekends only"
func (f *Filter) String() string {
	if f.IsEmpty() {
		return "No active filters"
	}

	var parts []string
	if f.DateFrom != nil {
		parts = append(parts, fmt.Sprintf("From: %s", f.DateFrom.Format("Jan 2, 2006")))
	}
	if f.DateTo != nil {
		parts = append(parts, fmt.Sprintf("To: %s", f.DateTo.Format("Jan 2, 2006")))
	}
	if len(f.Titles) > 0 {
		parts = append(parts, fmt.Sprintf("Titles: %s", strings.Join(f.Titles, ", ")))
	}
	if len(f.Locations) > 0 {
		parts = append(parts, fmt.Sprintf("Locations: %s", strings.Join(f.Locations, ", ")))
	}
	if len(f.Categories) > 0 {
		parts = append(parts, fmt.Sprintf("Categories: %s", strings.Join(f.Categories, ", ")))
	}
	if f.WeekendsOnly {
		parts = append(parts, "Weekends only")
	}
	return strings.Join(parts, " | ")
}

// Clone creates a deep copy of the filter
func (f *Filter) Clone() *Filter {
	clone := &Filter{
		WeekendsOnly: f.WeekendsOnly,
		Zone:         f.Zone,
		Titles:       append([]string(nil), f.Titles...),
		Locations:    append([]string(nil), f.Locations...),
		Categories:   append([]string(nil), f.Categories...),
	}
	if f.DateFrom != nil {
		df := *f.DateFrom
		clone.DateFrom = &df
	}
	if f.DateTo != nil {
		dt := *f.DateTo
		clone.DateTo = &dt
	}
	return clone
}
