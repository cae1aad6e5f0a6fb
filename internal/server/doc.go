// Package server exposes stored feeds and their events over HTTP.
//
// Routes:
//
//	GET  /healthz                   liveness
//	GET  /metrics                   Prometheus metrics
//	GET  /feeds                     configured feeds
//	GET  /feeds/{feed}/events       stored events, filtered by query
//	GET  /feeds/{feed}/events.ics   stored events as iCalendar
//	GET  /feeds/{feed}/runs         recent refresh runs
//	POST /feeds/{feed}/refresh      refresh now
//	GET  /bridge/{feed}?mode=raw    live scrape, raw or canonical
//
// Event listings accept the query parameters of filter.FromQuery.
package server
