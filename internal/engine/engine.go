package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
	"github.com/pfrederiksen/eventfeeds/internal/metrics"
	"github.com/pfrederiksen/eventfeeds/internal/scraper"
	"github.com/pfrederiksen/eventfeeds/internal/storage"
)

// DefaultTimeout bounds one refresh when no timeout is configured
const DefaultTimeout = 10 * time.Minute

// Store is the persistence the engine needs
type Store interface {
	ListEvents(ctx context.Context, feedID int64) ([]*event.Persisted, error)
	ApplyPlan(ctx context.Context, f *feed.Feed, plan *event.Plan, now time.Time) error
	RecordRun(ctx context.Context, run *storage.Run) error
}

// Notifier announces events that a refresh inserted
type Notifier interface {
	Notify(ctx context.Context, f *feed.Feed, inserted []*event.Canonical) error
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Scrape   scraper.Config
	Timeout  time.Duration
	Metrics  *metrics.Metrics
	Notifier Notifier
	Now      func() time.Time
	Resolve  func(f *feed.Feed, cfg scraper.Config) (feed.Adapter, error)
}

// Summary describes a completed refresh
type Summary struct {
	Feed        string    `json:"feed"`
	RunID       string    `json:"run_id"`
	Inserted    int       `json:"inserted"`
	Updated     int       `json:"updated"`
	Deleted     int       `json:"deleted"`
	Unchanged   int       `json:"unchanged"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Duplicates  int       `json:"duplicates"`
	Changed     bool      `json:"changed"`
	FailedIDs   []string  `json:"failed_ids,omitempty"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Engine refreshes feeds against a store
type Engine struct {
	store Store
	opts  Options

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New creates an Engine
func New(store Store, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Resolve == nil {
		opts.Resolve = feed.Resolve
	}
	return &Engine{
		store: store,
		opts:  opts,
		locks: make(map[int64]*sync.Mutex),
	}
}

func (e *Engine) lockFor(feedID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[feedID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[feedID] = l
	}
	return l
}

// Refresh scrapes the feed, reconciles the result with its stored events
// and commits the changes atomically. A refresh already running for the
// same feed makes this call fail immediately with KindInProgress.
func (e *Engine) Refresh(ctx context.Context, f *feed.Feed) (*Summary, error) {
	lock := e.lockFor(f.ID)
	if !lock.TryLock() {
		return nil, newError(KindInProgress, f.Name, nil)
	}
	defer lock.Unlock()

	run := &storage.Run{
		ID:        uuid.NewString(),
		FeedID:    f.ID,
		StartedAt: e.opts.Now().UTC(),
	}
	log := logger.Default().With(logger.Fields{"feed": f.Name, "run_id": run.ID})
	log.Info("Refresh started", logger.Fields{"adapter": string(f.AdapterType)})

	summary, err := e.refresh(ctx, f, run, log)

	run.FinishedAt = e.opts.Now().UTC()
	took := run.FinishedAt.Sub(run.StartedAt)
	if err != nil {
		run.Status = storage.RunFailed
		run.Error = err.Error()
		if e.opts.Metrics != nil {
			e.opts.Metrics.RefreshFailed(f.Name, took)
		}
		log.Error("Refresh failed", logger.Fields{"retryable": err.Retryable()}, err)
	} else {
		run.Status = storage.RunSucceeded
		log.Info("Refresh finished", logger.Fields{
			"inserted":    summary.Inserted,
			"updated":     summary.Updated,
			"deleted":     summary.Deleted,
			"unchanged":   summary.Unchanged,
			"skipped":     summary.Skipped,
			"failed":      summary.Failed,
			"duration_ms": took.Milliseconds(),
		})
	}

	if recErr := e.store.RecordRun(context.WithoutCancel(ctx), run); recErr != nil {
		log.Warn("Recording refresh run failed", logger.Fields{"error": recErr.Error()})
	}

	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (e *Engine) refresh(ctx context.Context, f *feed.Feed, run *storage.Run, log *logger.Logger) (*Summary, *Error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	adapter, err := e.opts.Resolve(f, e.opts.Scrape)
	if err != nil {
		return nil, newError(KindUnknownAdapter, f.Name, err)
	}

	result, err := adapter.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindTimeout, f.Name, ctx.Err())
		}
		if errors.Is(err, scraper.ErrDeadline) {
			return nil, newError(KindTimeout, f.Name, err)
		}
		return nil, newError(KindIndexUnavailable, f.Name, err)
	}

	run.Skipped = len(result.Skipped)
	run.Failed = len(result.Failures)
	failedIDs := make([]string, 0, len(result.Failures))
	for _, failure := range result.Failures {
		failedIDs = append(failedIDs, failure.OriginID)
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.DetailFailures(f.Name, len(result.Failures))
	}

	persisted, err := e.store.ListEvents(ctx, f.ID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindTimeout, f.Name, ctx.Err())
		}
		return nil, newError(KindCommit, f.Name, err)
	}

	plan := event.Reconcile(persisted, result.Canonical())
	if len(plan.Duplicates) > 0 {
		log.Warn("Duplicate origin ids in scrape", logger.Fields{"origin_ids": plan.Duplicates})
	}

	if err := ctx.Err(); err != nil {
		return nil, newError(KindTimeout, f.Name, err)
	}

	now := e.opts.Now().UTC()
	if err := e.store.ApplyPlan(ctx, f, plan, now); err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindTimeout, f.Name, errors.Join(ctx.Err(), err))
		}
		return nil, newError(KindCommit, f.Name, err)
	}

	run.Inserted = len(plan.Inserts)
	run.Updated = len(plan.Updates)
	run.Deleted = len(plan.Deletes)
	run.Unchanged = len(plan.Unchanged)

	summary := &Summary{
		Feed:        f.Name,
		RunID:       run.ID,
		Inserted:    run.Inserted,
		Updated:     run.Updated,
		Deleted:     run.Deleted,
		Unchanged:   run.Unchanged,
		Skipped:     run.Skipped,
		Failed:      run.Failed,
		Duplicates:  len(plan.Duplicates),
		Changed:     !plan.Empty(),
		FailedIDs:   failedIDs,
		RefreshedAt: now,
	}

	if e.opts.Metrics != nil {
		stored := len(persisted) + len(plan.Inserts) - len(plan.Deletes)
		e.opts.Metrics.RefreshSucceeded(f.Name, now.Sub(run.StartedAt),
			summary.Inserted, summary.Updated, summary.Deleted, stored, now)
	}

	if e.opts.Notifier != nil && len(plan.Inserts) > 0 {
		if err := e.opts.Notifier.Notify(context.WithoutCancel(ctx), f, plan.Inserts); err != nil {
			log.Warn("Notifying new events failed", logger.Fields{"error": err.Error()})
		}
	}

	return summary, nil
}

// Outcome is the result of refreshing one feed in RefreshAll
type Outcome struct {
	Feed    *feed.Feed
	Summary *Summary
	Err     error
}

// RefreshAll refreshes every feed concurrently. Outcomes are returned in
// the order of feeds.
func (e *Engine) RefreshAll(ctx context.Context, feeds []*feed.Feed) []Outcome {
	outcomes := make([]Outcome, len(feeds))

	var wg sync.WaitGroup
	for i, f := range feeds {
		wg.Add(1)
		go func(i int, f *feed.Feed) {
			defer wg.Done()
			summary, err := e.Refresh(ctx, f)
			outcomes[i] = Outcome{Feed: f, Summary: summary, Err: err}
		}(i, f)
	}
	wg.Wait()

	return outcomes
}
