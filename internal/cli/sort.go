package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pfrederiksen/eventfeeds/internal/event"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByStart  SortOrder = "start"
	SortByTitle  SortOrder = "title"
	SortByOrigin SortOrder = "origin"
)

func parseSortOrder(s string) (SortOrder, error) {
	switch order := SortOrder(strings.ToLower(s)); order {
	case SortByStart, SortByTitle, SortByOrigin:
		return order, nil
	}
	return "", fmt.Errorf("invalid sort order: %s (must be start, title or origin)", s)
}

// sortEvents sorts events in place
func sortEvents(events []*event.Persisted, order SortOrder) {
	switch order {
	case SortByStart:
		sort.SliceStable(events, func(i, j int) bool {
			return compareByStart(events[i], events[j])
		})
	case SortByTitle:
		sort.SliceStable(events, func(i, j int) bool {
			ti, tj := strings.ToLower(events[i].Title), strings.ToLower(events[j].Title)
			if ti != tj {
				return ti < tj
			}
			return compareByStart(events[i], events[j])
		})
	case SortByOrigin:
		sort.SliceStable(events, func(i, j int) bool {
			return event.CompareOriginIDs(events[i].OriginID, events[j].OriginID) < 0
		})
	}
}

// compareByStart orders by start time, undated events last, then by title
func compareByStart(i, j *event.Persisted) bool {
	si, sj := i.StartsAt, j.StartsAt

	if !si.IsZero() && !sj.IsZero() && !si.Equal(sj) {
		return si.Before(sj)
	}
	if si.IsZero() != sj.IsZero() {
		return !si.IsZero()
	}
	return strings.ToLower(i.Title) < strings.ToLower(j.Title)
}
