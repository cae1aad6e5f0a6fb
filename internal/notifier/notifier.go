package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
)

// maxLength is the post length limit in characters
const maxLength = 280

// Notifier announces events a refresh inserted
type Notifier interface {
	Notify(ctx context.Context, f *feed.Feed, inserted []*event.Canonical) error
}

// formatPost formats one new event as a short announcement
func formatPost(f *feed.Feed, evt *event.Canonical) string {
	post := fmt.Sprintf("New on %s: %s\n", f.Name, evt.Title)

	if !evt.StartsAt.IsZero() {
		when := evt.StartsAt
		if loc, err := time.LoadLocation(f.Zone()); err == nil {
			when = when.In(loc)
		}
		post += fmt.Sprintf("📅 %s\n", when.Format("Mon Jan 2, 3:04 PM"))
	}

	if evt.LocationDescription != "" {
		post += fmt.Sprintf("📍 %s\n", evt.LocationDescription)
	}

	if evt.SourceURL != "" {
		post += "\n" + evt.SourceURL
	}

	return truncate(post, maxLength)
}

// truncate shortens s to at most n characters, ending in "..."
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-3]) + "..."
}

// Multi announces through every notifier in turn. A failing notifier does
// not stop the others; their errors are joined.
type Multi []Notifier

// Notify calls each notifier with the same events
func (m Multi) Notify(ctx context.Context, f *feed.Feed, inserted []*event.Canonical) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, f, inserted); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
