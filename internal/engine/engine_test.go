package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/metrics"
	"github.com/pfrederiksen/eventfeeds/internal/scraper"
	"github.com/pfrederiksen/eventfeeds/internal/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter returns a fixed scrape result or error
type stubAdapter struct {
	mu     sync.Mutex
	result *scraper.Result
	err    error
	block  chan struct{} // when set, Fetch waits for it or ctx
}

func (a *stubAdapter) set(r *scraper.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result = r
}

func (a *stubAdapter) Fetch(ctx context.Context) (*scraper.Result, error) {
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result, a.err
}

func resolveTo(a feed.Adapter) func(*feed.Feed, scraper.Config) (feed.Adapter, error) {
	return func(*feed.Feed, scraper.Config) (feed.Adapter, error) { return a, nil }
}

func listing(id, title string) *event.Listing {
	start := time.Date(2025, time.June, 7, 14, 0, 0, 0, time.UTC)
	return &event.Listing{
		RawRecord: event.RawRecord{
			OriginID: id,
			Name:     &title,
			Slots:    []event.Slot{{Start: start, End: start.Add(time.Hour)}},
			URL:      "https://example.com/spdetail.php?event_id=" + id,
		},
		StartsAt: start,
		EndsAt:   start.Add(time.Hour),
	}
}

func result(listings ...*event.Listing) *scraper.Result {
	return &scraper.Result{Listings: listings}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]*event.Canonical
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, _ *feed.Feed, inserted []*event.Canonical) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, inserted)
	return n.err
}

// failingStore fails ApplyPlan and delegates everything else
type failingStore struct {
	*storage.Store
}

func (s failingStore) ApplyPlan(context.Context, *feed.Feed, *event.Plan, time.Time) error {
	return errors.New("disk I/O error")
}

func setup(t *testing.T) (*storage.Store, *feed.Feed) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f, err := store.UpsertFeed(context.Background(), &feed.Feed{
		Name:        "openlands",
		AdapterType: feed.TypeOpenlands,
		Endpoint:    "https://www.cervistech.com/acts/webreg/eventwebreglist.php?org_id=0254",
	})
	require.NoError(t, err)
	return store, f
}

func TestRefresh_Scenario(t *testing.T) {
	store, f := setup(t)
	ctx := context.Background()
	adapter := &stubAdapter{result: result(listing("100", "A"), listing("102", "C"))}
	m := metrics.New()

	clock := time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC)
	eng := New(store, Options{
		Resolve: resolveTo(adapter),
		Metrics: m,
		Now:     func() time.Time { return clock },
	})

	first, err := eng.Refresh(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.True(t, first.Changed)
	assert.NotEmpty(t, first.RunID)

	before, err := store.ListEvents(ctx, f.ID)
	require.NoError(t, err)
	id100 := before[0].ID

	clock = clock.Add(time.Hour)
	adapter.set(result(listing("100", "A2"), listing("101", "B")))

	second, err := eng.Refresh(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Inserted)
	assert.Equal(t, 1, second.Updated)
	assert.Equal(t, 1, second.Deleted)
	assert.Equal(t, 0, second.Unchanged)
	assert.True(t, second.Changed)
	assert.Equal(t, clock, second.RefreshedAt)

	after, err := store.ListEvents(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, id100, after[0].ID, "internal id survives the update")
	assert.Equal(t, "A2", after[0].Title)
	assert.Equal(t, "101", after[1].OriginID)

	reloaded, err := store.GetFeed(ctx, "openlands")
	require.NoError(t, err)
	assert.Equal(t, clock, reloaded.LastRefresh)

	third, err := eng.Refresh(ctx, f)
	require.NoError(t, err)
	assert.False(t, third.Changed, "same content should write nothing")
	assert.Equal(t, 2, third.Unchanged)

	runs, err := store.ListRuns(ctx, f.ID, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	expected := `
# HELP eventfeeds_refresh_total Number of feed refreshes by outcome
# TYPE eventfeeds_refresh_total counter
eventfeeds_refresh_total{feed="openlands",status="success"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "eventfeeds_refresh_total"))
}

func TestRefresh_SkippedAndFailedListings(t *testing.T) {
	store, f := setup(t)
	adapter := &stubAdapter{result: &scraper.Result{
		Listings: []*event.Listing{listing("3", "Kept")},
		Skipped:  []string{"2"},
		Failures: []scraper.Failure{{OriginID: "10", Err: errors.New("unexpected status code: 404")}},
	}}

	eng := New(store, Options{Resolve: resolveTo(adapter)})
	summary, err := eng.Refresh(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"10"}, summary.FailedIDs)
}

func TestRefresh_DuplicateOrigins(t *testing.T) {
	store, f := setup(t)
	adapter := &stubAdapter{result: result(listing("5", "first"), listing("5", "second"))}

	eng := New(store, Options{Resolve: resolveTo(adapter)})
	summary, err := eng.Refresh(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.Duplicates)

	stored, err := store.ListEvents(context.Background(), f.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "first", stored[0].Title)
}

func TestRefresh_IndexUnavailable(t *testing.T) {
	store, f := setup(t)
	ctx := context.Background()

	seed := &stubAdapter{result: result(listing("1", "A"))}
	_, err := New(store, Options{Resolve: resolveTo(seed)}).Refresh(ctx, f)
	require.NoError(t, err)
	refreshed, err := store.GetFeed(ctx, "openlands")
	require.NoError(t, err)

	broken := &stubAdapter{err: fmt.Errorf("%w: unexpected status code: 503", scraper.ErrIndexUnavailable)}
	_, err = New(store, Options{Resolve: resolveTo(broken)}).Refresh(ctx, f)
	require.Error(t, err)

	var engErr *Error
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, KindIndexUnavailable, engErr.Kind)
	assert.True(t, engErr.Retryable())
	assert.ErrorIs(t, err, ErrIndexUnavailable)
	assert.ErrorIs(t, err, scraper.ErrIndexUnavailable)

	stored, err := store.ListEvents(ctx, f.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1, "a failed index must not delete anything")

	after, err := store.GetFeed(ctx, "openlands")
	require.NoError(t, err)
	assert.Equal(t, refreshed.LastRefresh, after.LastRefresh)

	runs, err := store.ListRuns(ctx, f.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, storage.RunFailed, runs[0].Status)
}

func TestRefresh_UnknownAdapter(t *testing.T) {
	store, f := setup(t)
	f.AdapterType = "eventbrite"

	_, err := New(store, Options{}).Refresh(context.Background(), f)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUnknownAdapter))
	assert.ErrorIs(t, err, feed.ErrUnknownAdapter)

	var engErr *Error
	require.True(t, errors.As(err, &engErr))
	assert.False(t, engErr.Retryable())
}

func TestRefresh_CommitFailure(t *testing.T) {
	store, f := setup(t)
	adapter := &stubAdapter{result: result(listing("1", "A"))}
	notifier := &recordingNotifier{}

	eng := New(failingStore{store}, Options{Resolve: resolveTo(adapter), Notifier: notifier})
	_, err := eng.Refresh(context.Background(), f)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCommit))
	assert.ErrorIs(t, err, ErrCommit)
	assert.Empty(t, notifier.calls, "nothing is announced when the commit fails")
}

func TestRefresh_Timeout(t *testing.T) {
	store, f := setup(t)
	adapter := &stubAdapter{block: make(chan struct{})}

	eng := New(store, Options{Resolve: resolveTo(adapter), Timeout: 20 * time.Millisecond})
	_, err := eng.Refresh(context.Background(), f)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	stored, err := store.ListEvents(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

// cervisUpstream serves an index of ids 1-5, each with a one-slot detail page
func cervisUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/webreg/eventwebreglist.php", func(w http.ResponseWriter, r *http.Request) {
		for id := 1; id <= 5; id++ {
			fmt.Fprintf(w, `<a href="eventdetail.php?event_id=%d&amp;org_id=0254">Listing %d</a>`, id, id)
		}
	})
	mux.HandleFunc("/webreg/eventdetail.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<table>
	<tr><td>Opportunity Name: Workday %s</td></tr>
	<tr><td>Date/Time:</td><td>Sat, Jun 7, 2025 - 9:00 AM to 12:00 PM</td></tr>
</table>`, r.URL.Query().Get("event_id"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRefresh_RateLimitOutlastsTimeout(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()
	server := cervisUpstream(t)

	f, err := store.UpsertFeed(ctx, &feed.Feed{
		Name:        "limited",
		AdapterType: feed.TypeOpenlands,
		Endpoint:    server.URL + "/webreg/eventwebreglist.php?org_id=0254",
	})
	require.NoError(t, err)

	seed := &stubAdapter{result: result(listing("1", "A"), listing("2", "B"), listing("3", "C"), listing("4", "D"), listing("5", "E"))}
	_, err = New(store, Options{Resolve: resolveTo(seed)}).Refresh(ctx, f)
	require.NoError(t, err)

	// one request a second: the index and one detail page fit, the rest do not
	eng := New(store, Options{
		Timeout: 1500 * time.Millisecond,
		Scrape:  scraper.Config{RatePerSecond: 1, Burst: 1},
	})
	_, err = eng.Refresh(ctx, f)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTimeout), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	stored, err := store.ListEvents(ctx, f.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 5, "a refresh cut short must not delete anything")
}

// gatedAdapter signals when Fetch is entered and waits for release
type gatedAdapter struct {
	entered chan struct{}
	release chan struct{}
}

func (a *gatedAdapter) Fetch(ctx context.Context) (*scraper.Result, error) {
	close(a.entered)
	select {
	case <-a.release:
		return result(listing("1", "A")), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRefresh_InProgress(t *testing.T) {
	store, f := setup(t)
	adapter := &gatedAdapter{entered: make(chan struct{}), release: make(chan struct{})}
	eng := New(store, Options{Resolve: resolveTo(adapter)})

	done := make(chan error, 1)
	go func() {
		_, err := eng.Refresh(context.Background(), f)
		done <- err
	}()

	select {
	case <-adapter.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first refresh never reached the adapter")
	}

	_, err := eng.Refresh(context.Background(), f)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInProgress))
	assert.ErrorIs(t, err, ErrRefreshInProgress)

	var engErr *Error
	require.True(t, errors.As(err, &engErr))
	assert.True(t, engErr.Retryable())

	close(adapter.release)
	require.NoError(t, <-done)
}

func TestRefresh_NotifiesInserts(t *testing.T) {
	store, f := setup(t)
	adapter := &stubAdapter{result: result(listing("1", "A"), listing("2", "B"))}
	notifier := &recordingNotifier{err: errors.New("rate limited")}

	eng := New(store, Options{Resolve: resolveTo(adapter), Notifier: notifier})
	summary, err := eng.Refresh(context.Background(), f)
	require.NoError(t, err, "notifier errors never fail the refresh")
	assert.Equal(t, 2, summary.Inserted)

	require.Len(t, notifier.calls, 1)
	assert.Len(t, notifier.calls[0], 2)

	// nothing new, nothing announced
	_, err = eng.Refresh(context.Background(), f)
	require.NoError(t, err)
	assert.Len(t, notifier.calls, 1)
}

func TestRefreshAll(t *testing.T) {
	store, a := setup(t)
	ctx := context.Background()
	b, err := store.UpsertFeed(ctx, &feed.Feed{Name: "other", AdapterType: feed.TypeCervis, Endpoint: "https://example.com/x"})
	require.NoError(t, err)

	adapters := map[string]*stubAdapter{
		"openlands": {result: result(listing("1", "A"))},
		"other":     {err: errors.New("connection refused")},
	}
	eng := New(store, Options{Resolve: func(f *feed.Feed, _ scraper.Config) (feed.Adapter, error) {
		return adapters[f.Name], nil
	}})

	outcomes := eng.RefreshAll(ctx, []*feed.Feed{a, b})
	require.Len(t, outcomes, 2)

	assert.Equal(t, "openlands", outcomes[0].Feed.Name)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, 1, outcomes[0].Summary.Inserted)

	assert.Equal(t, "other", outcomes[1].Feed.Name)
	assert.True(t, IsKind(outcomes[1].Err, KindIndexUnavailable))
}

func TestError_Status(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInProgress, 409},
		{KindUnknownAdapter, 400},
		{KindIndexUnavailable, 502},
		{KindCommit, 500},
		{KindTimeout, 504},
	}

	for _, tt := range tests {
		err := newError(tt.kind, "f", nil)
		assert.Equal(t, tt.want, err.Status(), string(tt.kind))
		assert.Contains(t, err.Error(), "refresh f")
	}
}
