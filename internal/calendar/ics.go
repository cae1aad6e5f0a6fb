package calendar

import (
	"errors"
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/location"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
)

const (
	ProductID = "-//eventfeeds//eventfeeds//EN"
	uidDomain = "eventfeeds"
)

// UID is the stable calendar identifier of a stored event
func UID(p *event.Persisted) string {
	return fmt.Sprintf("%s@%s", p.ID, uidDomain)
}

// Build creates a published calendar named after the feed holding events
func Build(name string, events []*event.Persisted, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)
	cal.SetCalscale("GREGORIAN")
	cal.SetXWRCalName(name)

	for _, p := range events {
		addEvent(cal, p, now)
	}
	return cal
}

func addEvent(cal *ical.Calendar, p *event.Persisted, now time.Time) {
	ev := cal.AddEvent(UID(p))
	ev.SetDtStampTime(now.UTC())
	ev.SetCreatedTime(p.CreatedAt.UTC())
	ev.SetModifiedAt(p.UpdatedAt.UTC())
	ev.SetStartAt(p.StartsAt.UTC())
	ev.SetEndAt(p.EndsAt.UTC())
	ev.SetSummary(p.Title)
	ev.SetStatus(ical.ObjectStatusConfirmed)

	if p.Description != "" {
		ev.SetDescription(p.Description)
	}
	if p.SourceURL != "" {
		ev.SetURL(p.SourceURL)
	}
	if p.Category != "" {
		ev.SetProperty(ical.ComponentPropertyCategories, p.Category)
	}

	// The description names the place; the location field is usually a map link
	where := p.LocationDescription
	if where == "" {
		where = p.Location
	}
	if where != "" {
		ev.SetLocation(where)
	}

	if p.Location != "" {
		point, err := location.Parse(p.Location)
		switch {
		case err == nil:
			ev.SetProperty(ical.ComponentPropertyGeo, fmt.Sprintf("%v;%v", point.Lat, point.Lon))
		case !errors.Is(err, location.ErrNoCoordinates):
			logger.Debug("Unreadable event location", logger.Fields{"event_id": p.ID, "error": err.Error()})
		}
	}
}

// Write serializes the calendar of events to w
func Write(w io.Writer, name string, events []*event.Persisted, now time.Time) error {
	if _, err := io.WriteString(w, Build(name, events, now).Serialize()); err != nil {
		return fmt.Errorf("writing calendar: %w", err)
	}
	return nil
}
