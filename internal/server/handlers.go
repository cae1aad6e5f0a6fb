package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/calendar"
	"github.com/pfrederiksen/eventfeeds/internal/engine"
	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/filter"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
	"github.com/pfrederiksen/eventfeeds/internal/storage"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Writing response failed", logger.Fields{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	var refreshErr *engine.Error
	if errors.As(err, &refreshErr) {
		status = refreshErr.Status()
		body.Kind = string(refreshErr.Kind)
		body.Retryable = refreshErr.Retryable()
	}
	writeJSON(w, status, body)
}

// lookupFeed resolves the {feed} path value, writing the error response
// when the feed cannot be loaded
func (s *Server) lookupFeed(w http.ResponseWriter, r *http.Request) (*feed.Feed, bool) {
	f, err := s.opts.Store.GetFeed(r.Context(), r.PathValue("feed"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return f, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.opts.Store.ListFeeds(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, feeds)
}

// filteredEvents loads the feed's events and applies the query filter
func (s *Server) filteredEvents(w http.ResponseWriter, r *http.Request) (*feed.Feed, []*event.Persisted, bool) {
	f, ok := s.lookupFeed(w, r)
	if !ok {
		return nil, nil, false
	}

	loc, err := time.LoadLocation(f.Zone())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, nil, false
	}
	flt, err := filter.FromQuery(r.URL.Query(), s.opts.Now(), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, nil, false
	}

	events, err := s.opts.Store.ListEvents(r.Context(), f.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, nil, false
	}
	return f, flt.Apply(events), true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	_, events, ok := s.filteredEvents(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	f, events, ok := s.filteredEvents(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if err := calendar.Write(w, f.Name, events, s.opts.Now()); err != nil {
		logger.Error("Writing calendar failed", logger.Fields{"feed": f.Name}, err)
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunLimit {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be between 1 and " + strconv.Itoa(maxRunLimit)})
			return
		}
		limit = n
	}

	f, ok := s.lookupFeed(w, r)
	if !ok {
		return
	}
	runs, err := s.opts.Store.ListRuns(r.Context(), f.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.opts.Engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "refresh is not enabled"})
		return
	}
	f, ok := s.lookupFeed(w, r)
	if !ok {
		return
	}
	summary, err := s.opts.Engine.Refresh(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleBridge scrapes the feed live and returns the projection without
// touching stored events
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	mode, err := feed.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, ok := s.lookupFeed(w, r)
	if !ok {
		return
	}
	adapter, err := s.opts.Resolve(f, s.opts.Scrape)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := adapter.Fetch(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, feed.Project(result, mode))
}
