package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/engine"
	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
	"github.com/pfrederiksen/eventfeeds/internal/metrics"
	"github.com/pfrederiksen/eventfeeds/internal/scraper"
	"github.com/pfrederiksen/eventfeeds/internal/storage"
)

// shutdownGrace bounds how long in-flight requests may finish on shutdown
const shutdownGrace = 10 * time.Second

// Store is the read side of the persistence layer
type Store interface {
	GetFeed(ctx context.Context, name string) (*feed.Feed, error)
	ListFeeds(ctx context.Context) ([]*feed.Feed, error)
	ListEvents(ctx context.Context, feedID int64) ([]*event.Persisted, error)
	ListRuns(ctx context.Context, feedID int64, limit int) ([]*storage.Run, error)
}

// Refresher runs one refresh of a feed
type Refresher interface {
	Refresh(ctx context.Context, f *feed.Feed) (*engine.Summary, error)
}

// Options configures a Server
type Options struct {
	Store   Store
	Engine  Refresher
	Metrics *metrics.Metrics
	Scrape  scraper.Config
	Now     func() time.Time
	Resolve func(f *feed.Feed, cfg scraper.Config) (feed.Adapter, error)
}

// Server serves the HTTP API
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// New creates a Server with its routes registered
func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Resolve == nil {
		opts.Resolve = feed.Resolve
	}

	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	s.mux.HandleFunc("GET /feeds", s.handleFeeds)
	s.mux.HandleFunc("GET /feeds/{feed}/events", s.handleEvents)
	s.mux.HandleFunc("GET /feeds/{feed}/events.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /feeds/{feed}/runs", s.handleRuns)
	s.mux.HandleFunc("POST /feeds/{feed}/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /bridge/{feed}", s.handleBridge)
	return s
}

// Handler returns the routes wrapped in request logging
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", logger.Fields{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := logger.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if rec.status >= http.StatusInternalServerError {
			logger.Warn("HTTP request failed", fields)
		} else {
			logger.Debug("HTTP request", fields)
		}
	})
}
