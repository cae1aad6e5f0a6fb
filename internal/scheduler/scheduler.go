package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pfrederiksen/eventfeeds/internal/engine"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
	"github.com/robfig/cron/v3"
)

// Refresher is the part of the engine the scheduler drives
type Refresher interface {
	Refresh(ctx context.Context, f *feed.Feed) (*engine.Summary, error)
}

// cronLogger routes cron's own messages into the structured logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, pairs(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, pairs(keysAndValues), err)
}

func pairs(kv []interface{}) logger.Fields {
	fields := make(logger.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

// Scheduler refreshes every feed on a cron schedule. A feed whose previous
// refresh is still running skips its turn.
type Scheduler struct {
	refresher Refresher
	ctx       context.Context

	mu      sync.Mutex
	cron    *cron.Cron
	spec    string
	entries map[string]cron.EntryID
}

// New creates a stopped scheduler. ctx bounds every refresh it starts.
func New(ctx context.Context, refresher Refresher) *Scheduler {
	return &Scheduler{
		refresher: refresher,
		ctx:       ctx,
		cron: cron.New(
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{})),
		),
		entries: make(map[string]cron.EntryID),
	}
}

// Reload replaces the scheduled feeds and their schedule. A refresh that is
// running keeps running.
func (s *Scheduler) Reload(spec string, feeds []*feed.Feed) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("parsing schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
	}

	for _, f := range feeds {
		job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(s.job(f))
		s.entries[f.Name] = s.cron.Schedule(schedule, job)
	}
	s.spec = spec

	logger.Info("Schedule loaded", logger.Fields{"schedule": spec, "feeds": len(feeds)})
	return nil
}

func (s *Scheduler) job(f *feed.Feed) cron.Job {
	return cron.FuncJob(func() {
		summary, err := s.refresher.Refresh(s.ctx, f)
		if err != nil {
			// the engine already logged the failure
			return
		}
		if summary.Changed {
			logger.Info("Scheduled refresh changed events", logger.Fields{
				"feed":     f.Name,
				"inserted": summary.Inserted,
				"updated":  summary.Updated,
				"deleted":  summary.Deleted,
			})
		}
	})
}

// Spec returns the schedule in effect
func (s *Scheduler) Spec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Feeds returns the names of the scheduled feeds
func (s *Scheduler) Feeds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running refreshes to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow triggers the job of one scheduled feed immediately, outside the
// schedule. It reports false when the feed is not scheduled.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return false
	}
	go entry.WrappedJob.Run()
	return true
}
