// Package scheduler refreshes feeds periodically on a cron schedule, one
// entry per feed. Overlapping runs of the same feed are skipped.
package scheduler
