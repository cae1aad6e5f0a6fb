// Package event provides the event schema and the change-detection core of the
// feed synchronization engine.
//
// Scraped listings arrive as RawRecords, are assembled into Listings once their
// slots establish a start and end, and are projected onto the Canonical schema.
// Each Canonical event carries a SHA-256 content fingerprint computed over its
// upstream-visible fields, which lets Reconcile decide between insert, update,
// delete and no-op without an upstream revision id.
package event
