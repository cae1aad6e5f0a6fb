// Package scraper provides HTTP fetching and HTML parsing for volunteer listing sites
// built on the Cervis web registration pages.
//
// A scrape reads the listing index, collects the distinct event_id values it links
// to, and fetches each detail page with a bounded pool of workers behind a shared
// rate limiter. Detail pages are parsed field by field: a labelled row that is
// missing or malformed leaves that field empty without affecting the others.
// Listings are returned in origin id order regardless of the order pages arrive in.
package scraper
