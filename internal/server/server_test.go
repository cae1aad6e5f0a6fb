package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/engine"
	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/metrics"
	"github.com/pfrederiksen/eventfeeds/internal/scraper"
	"github.com/pfrederiksen/eventfeeds/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, time.May, 20, 12, 0, 0, 0, time.UTC)

type stubAdapter struct {
	result *scraper.Result
	err    error
}

func (a *stubAdapter) Fetch(context.Context) (*scraper.Result, error) {
	return a.result, a.err
}

func listing(id, title string, start time.Time) *event.Listing {
	category := "Birding"
	return &event.Listing{
		RawRecord: event.RawRecord{
			OriginID: id,
			Name:     &title,
			Category: &category,
			Slots:    []event.Slot{{Start: start, End: start.Add(2 * time.Hour)}},
			URL:      "https://example.com/spdetail.php?event_id=" + id,
		},
		StartsAt: start,
		EndsAt:   start.Add(2 * time.Hour),
	}
}

type fixture struct {
	store   *storage.Store
	adapter *stubAdapter
	metrics *metrics.Metrics
	handler http.Handler
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.UpsertFeed(context.Background(), &feed.Feed{
		Name:        "openlands",
		AdapterType: feed.TypeOpenlands,
		Endpoint:    "https://example.com/index.php",
		TimeZone:    "America/Chicago",
	})
	require.NoError(t, err)

	adapter := &stubAdapter{result: &scraper.Result{Listings: []*event.Listing{
		// Saturday 7 June, 9:00 Chicago
		listing("100", "Bird Walk", time.Date(2025, time.June, 7, 14, 0, 0, 0, time.UTC)),
		// Tuesday 10 June
		listing("101", "Prairie Workday", time.Date(2025, time.June, 10, 14, 0, 0, 0, time.UTC)),
	}}}
	resolve := func(*feed.Feed, scraper.Config) (feed.Adapter, error) { return adapter, nil }
	m := metrics.New()

	eng := engine.New(store, engine.Options{Metrics: m, Resolve: resolve, Now: func() time.Time { return now }})
	srv := New(Options{
		Store:   store,
		Engine:  eng,
		Metrics: m,
		Now:     func() time.Time { return now },
		Resolve: resolve,
	})
	return &fixture{store: store, adapter: adapter, metrics: m, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestFeeds(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/feeds")
	require.Equal(t, http.StatusOK, rec.Code)

	var feeds []feed.Feed
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feeds))
	require.Len(t, feeds, 1)
	assert.Equal(t, "openlands", feeds[0].Name)
	assert.Equal(t, feed.TypeOpenlands, feeds[0].AdapterType)
}

func TestRefreshThenEvents(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/feeds/openlands/refresh")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary engine.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Inserted)
	assert.True(t, summary.Changed)

	rec = f.do(t, http.MethodGet, "/feeds/openlands/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []event.Persisted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 2)

	rec = f.do(t, http.MethodGet, "/feeds/openlands/events?weekends=true")
	require.Equal(t, http.StatusOK, rec.Code)
	events = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "100", events[0].OriginID)

	rec = f.do(t, http.MethodGet, "/feeds/openlands/events?range=Jun+8-30&title=workday")
	require.Equal(t, http.StatusOK, rec.Code)
	events = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "101", events[0].OriginID)

	rec = f.do(t, http.MethodGet, "/feeds/openlands/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []storage.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, storage.RunSucceeded, runs[0].Status)
}

func TestEvents_BadFilter(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/feeds/openlands/events?range=someday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid date range")
}

func TestUnknownFeed(t *testing.T) {
	f := setup(t)
	for _, target := range []string{
		"/feeds/nowhere/events",
		"/feeds/nowhere/events.ics",
		"/feeds/nowhere/runs",
		"/bridge/nowhere",
	} {
		rec := f.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
	rec := f.do(t, http.MethodPost, "/feeds/nowhere/refresh")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalendar(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/feeds/openlands/refresh").Code)

	rec := f.do(t, http.MethodGet, "/feeds/openlands/events.ics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Equal(t, 2, strings.Count(body, "BEGIN:VEVENT"))
	assert.Contains(t, body, "Bird Walk")
}

func TestRefresh_IndexUnavailable(t *testing.T) {
	f := setup(t)
	f.adapter.err = errors.New("connection refused")

	rec := f.do(t, http.MethodPost, "/feeds/openlands/refresh")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(engine.KindIndexUnavailable), body.Kind)
	assert.True(t, body.Retryable)
}

func TestBridge(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/bridge/openlands?mode=raw")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"opportunity_name":"Bird Walk"`)
	assert.Contains(t, rec.Body.String(), `"event_id":"100"`)

	rec = f.do(t, http.MethodGet, "/bridge/openlands")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []event.Canonical
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "Bird Walk", events[0].Title)

	rec = f.do(t, http.MethodGet, "/bridge/openlands?mode=pretty")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// bridge never writes
	fd, err := f.store.GetFeed(context.Background(), "openlands")
	require.NoError(t, err)
	stored, err := f.store.ListEvents(context.Background(), fd.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestBridge_FetchFails(t *testing.T) {
	f := setup(t)
	f.adapter.err = scraper.ErrIndexUnavailable
	rec := f.do(t, http.MethodGet, "/bridge/openlands")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRuns_BadLimit(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/feeds/openlands/runs?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetrics(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/feeds/openlands/refresh").Code)

	rec := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `eventfeeds_refresh_total{feed="openlands",status="success"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/feeds/openlands/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRun_Shutdown(t *testing.T) {
	f := setup(t)
	srv := New(Options{Store: f.store})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
