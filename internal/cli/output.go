package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/engine"
	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/storage"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

func parseFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if format != FormatText && format != FormatJSON {
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", s)
	}
	return format, nil
}

// RefreshReport is the outcome of one refresh command
type RefreshReport struct {
	CheckedAt time.Time       `json:"checked_at"`
	Results   []RefreshResult `json:"results"`
	Changed   bool            `json:"changed"`
	Failed    int             `json:"failed"`
}

// RefreshResult is the outcome for one feed
type RefreshResult struct {
	Feed      string          `json:"feed"`
	Summary   *engine.Summary `json:"summary,omitempty"`
	Error     string          `json:"error,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

func newRefreshReport(outcomes []engine.Outcome, at time.Time) *RefreshReport {
	report := &RefreshReport{CheckedAt: at.UTC(), Results: make([]RefreshResult, 0, len(outcomes))}
	for _, o := range outcomes {
		res := RefreshResult{Feed: o.Feed.Name, Summary: o.Summary}
		if o.Err != nil {
			report.Failed++
			res.Error = o.Err.Error()
			var e *engine.Error
			if errors.As(o.Err, &e) {
				res.Kind = string(e.Kind)
				res.Retryable = e.Retryable()
			}
		} else if o.Summary.Changed {
			report.Changed = true
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// exitCode is ExitError when any feed failed, ExitChanged when stored
// events changed and ExitSuccess otherwise
func (r *RefreshReport) exitCode() int {
	switch {
	case r.Failed > 0:
		return ExitError
	case r.Changed:
		return ExitChanged
	}
	return ExitSuccess
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeRefreshText(w io.Writer, report *RefreshReport, verbose bool) {
	if len(report.Results) == 0 {
		fmt.Fprintln(w, "No feeds to refresh.")
		return
	}

	for _, res := range report.Results {
		if res.Error != "" {
			fmt.Fprintf(w, "%s: FAILED: %s\n", res.Feed, res.Error)
			continue
		}
		s := res.Summary
		if !s.Changed {
			fmt.Fprintf(w, "%s: no changes (%d events)\n", res.Feed, s.Unchanged)
		} else {
			fmt.Fprintf(w, "%s: %d new, %d updated, %d removed, %d unchanged\n",
				res.Feed, s.Inserted, s.Updated, s.Deleted, s.Unchanged)
		}
		if verbose {
			fmt.Fprintf(w, "     Run: %s\n", s.RunID)
			if s.Skipped > 0 {
				fmt.Fprintf(w, "     Skipped (no sessions): %d\n", s.Skipped)
			}
			if s.Failed > 0 {
				fmt.Fprintf(w, "     Unreadable: %s\n", strings.Join(s.FailedIDs, ", "))
			}
			if s.Duplicates > 0 {
				fmt.Fprintf(w, "     Duplicate ids: %d\n", s.Duplicates)
			}
		}
	}

	fmt.Fprintf(w, "\nTotal: %d feeds, %d failed\n", len(report.Results), report.Failed)
}

func writeEventsText(w io.Writer, events []*event.Persisted, loc *time.Location, verbose bool) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}

	for _, evt := range events {
		when := "(no date)"
		if !evt.StartsAt.IsZero() {
			when = evt.StartsAt.In(loc).Format("Mon Jan 2 2006, 3:04 PM")
		}
		fmt.Fprintf(w, "%s  %s\n", when, evt.Title)
		if verbose {
			fmt.Fprintf(w, "     ID: %s (origin %s)\n", evt.ID, evt.OriginID)
			if evt.LocationDescription != "" {
				fmt.Fprintf(w, "     Location: %s\n", evt.LocationDescription)
			}
			if evt.Category != "" {
				fmt.Fprintf(w, "     Category: %s\n", evt.Category)
			}
			if evt.SourceURL != "" {
				fmt.Fprintf(w, "     URL: %s\n", evt.SourceURL)
			}
		}
	}
	fmt.Fprintf(w, "\nTotal: %d events\n", len(events))
}

func writeFeedsText(w io.Writer, feeds []*feed.Feed) {
	if len(feeds) == 0 {
		fmt.Fprintln(w, "No feeds configured.")
		return
	}
	for _, f := range feeds {
		last := "never"
		if !f.LastRefresh.IsZero() {
			last = f.LastRefresh.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s (%s) %s\n", f.Name, f.AdapterType, f.Endpoint)
		fmt.Fprintf(w, "     Time zone: %s, last refresh: %s\n", f.Zone(), last)
	}
}

func writeListingsText(w io.Writer, projected any) {
	switch v := projected.(type) {
	case []*event.Listing:
		for _, l := range v {
			name := "(untitled)"
			if l.Name != nil {
				name = *l.Name
			}
			fmt.Fprintf(w, "%s: %s (%d sessions)\n", l.OriginID, name, len(l.Slots))
		}
		fmt.Fprintf(w, "\nTotal: %d listings\n", len(v))
	case []*event.Canonical:
		for _, c := range v {
			fmt.Fprintf(w, "%s: %s  %s\n", c.OriginID, c.StartsAt.Format(time.RFC3339), c.Title)
		}
		fmt.Fprintf(w, "\nTotal: %d events\n", len(v))
	}
}

func writeRunsText(w io.Writer, runs []*storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No refresh runs recorded.")
		return
	}
	for _, r := range runs {
		took := r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)
		fmt.Fprintf(w, "%s  %-9s %8s  +%d ~%d -%d\n",
			r.StartedAt.Format(time.RFC3339), r.Status, took, r.Inserted, r.Updated, r.Deleted)
		if r.Error != "" {
			fmt.Fprintf(w, "     %s\n", r.Error)
		}
	}
}
