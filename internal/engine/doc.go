// Package engine runs feed refreshes: it fetches a feed through its adapter, reconciles
// the scraped listings with the stored events and commits the resulting plan.
//
// Refreshes of one feed are mutually exclusive; different feeds may refresh in parallel.
// Every refresh is bounded by a timeout and either commits completely or not at all.
// Failures are reported as *Error values whose Kind tells callers whether a retry may
// help. Each attempt is recorded as a refresh run and counted in the metrics.
package engine
