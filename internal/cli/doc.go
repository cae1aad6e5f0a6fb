// Package cli implements the eventfeeds command-line interface.
//
// The Cobra-based commands refresh feeds, inspect a live scrape in raw or
// canonical form, list and export stored events with filters and sorting,
// show refresh runs, and run the HTTP server with its refresh scheduler.
// Output is text or JSON. A refresh that changed stored events exits with
// status 2, one that failed for any feed with status 1.
package cli
