package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
	"golang.org/x/time/rate"
)

const (
	UserAgent   = "eventfeeds/1.0 (github.com/pfrederiksen/eventfeeds)"
	Timeout     = 30 * time.Second
	Concurrency = 4
	Retries     = 2
)

// maxPageSize caps how much of a page is read
const maxPageSize = 10 << 20

// ErrIndexUnavailable is returned when the listing index cannot be fetched
// or parsed. No listing is read in that case.
var ErrIndexUnavailable = errors.New("listing index unavailable")

// ErrDeadline is returned when the rate limiter cannot admit another request
// before the context deadline. The fetch is abandoned as a whole.
var ErrDeadline = fmt.Errorf("next request would exceed the deadline: %w", context.DeadlineExceeded)

// Config tunes how pages are fetched
type Config struct {
	UserAgent      string
	Concurrency    int
	RatePerSecond  float64 // requests per second per upstream host; zero disables the limiter
	Burst          int
	Retries        int
	RequestTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		UserAgent:      UserAgent,
		Concurrency:    Concurrency,
		RatePerSecond:  2,
		Burst:          4,
		Retries:        Retries,
		RequestTimeout: Timeout,
	}
}

// Failure records a listing whose detail page could not be read
type Failure struct {
	OriginID string
	Err      error
}

// Result is the outcome of one scrape of a feed
type Result struct {
	Listings []*event.Listing // ordered by origin id
	Failures []Failure
	Skipped  []string // origin ids without any slot
}

// Canonical projects the listings onto the event schema
func (r *Result) Canonical() []*event.Canonical {
	out := make([]*event.Canonical, 0, len(r.Listings))
	for _, l := range r.Listings {
		out = append(out, l.Canonical())
	}
	return out
}

// Scraper fetches a listing index and every detail page it links to
type Scraper struct {
	client     *http.Client
	endpoint   string
	zone       string
	cfg        Config
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
}

// New creates a Scraper for the index at endpoint whose times are local to zone
func New(endpoint, zone string, cfg Config) *Scraper {
	defaults := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	return &Scraper{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		endpoint: endpoint,
		zone:     zone,
		cfg:      cfg,
		limiter:  hostLimiters.get(endpoint, cfg),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Fetch reads the index and all linked detail pages. A failing detail page
// is reported in Result.Failures and does not fail the fetch; a failing
// index does, wrapped in ErrIndexUnavailable.
func (s *Scraper) Fetch(ctx context.Context) (*Result, error) {
	started := time.Now()

	body, err := s.get(ctx, s.endpoint)
	if errors.Is(err, ErrDeadline) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	ids, err := ParseIndex(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}

	outcomes := s.fetchDetails(ctx, ids)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, o := range outcomes {
		if errors.Is(o.err, ErrDeadline) {
			return nil, fmt.Errorf("fetching listing %s: %w", ids[i], o.err)
		}
	}

	result := &Result{
		Listings: make([]*event.Listing, 0, len(ids)),
		Failures: make([]Failure, 0),
		Skipped:  make([]string, 0),
	}
	for i, o := range outcomes {
		switch {
		case o.err != nil:
			result.Failures = append(result.Failures, Failure{OriginID: ids[i], Err: o.err})
		case o.listing == nil:
			result.Skipped = append(result.Skipped, ids[i])
		default:
			result.Listings = append(result.Listings, o.listing)
		}
	}

	sort.SliceStable(result.Listings, func(i, j int) bool {
		return event.CompareOriginIDs(result.Listings[i].OriginID, result.Listings[j].OriginID) < 0
	})

	logger.Info("Fetched listings", logger.Fields{
		"endpoint":    s.endpoint,
		"linked":      len(ids),
		"listings":    len(result.Listings),
		"skipped":     len(result.Skipped),
		"failed":      len(result.Failures),
		"duration_ms": time.Since(started).Milliseconds(),
	})

	return result, nil
}

type outcome struct {
	listing *event.Listing
	err     error
}

// fetchDetails reads every detail page with a bounded pool of workers.
// Outcomes are indexed like ids, whatever order the pages complete in.
func (s *Scraper) fetchDetails(ctx context.Context, ids []string) []outcome {
	outcomes := make([]outcome, len(ids))
	jobs := make(chan int)

	workers := s.cfg.Concurrency
	if workers > len(ids) {
		workers = len(ids)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				listing, err := s.fetchDetail(ctx, ids[i])
				if err != nil {
					logger.Warn("Detail page failed", logger.Fields{
						"origin_id": ids[i],
						"error":     err.Error(),
					})
				}
				outcomes[i] = outcome{listing: listing, err: err}
			}
		}()
	}

feed:
	for i := range ids {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

// fetchDetail returns (nil, nil) for a listing that has no slots
func (s *Scraper) fetchDetail(ctx context.Context, originID string) (*event.Listing, error) {
	detailURL, err := DetailURL(s.endpoint, originID)
	if err != nil {
		return nil, err
	}

	body, err := s.get(ctx, detailURL)
	if err != nil {
		return nil, err
	}

	rec, err := ParseDetail(bytes.NewReader(body), originID, s.zone)
	if err != nil {
		return nil, err
	}
	if rec.URL, err = PublicURL(s.endpoint, originID); err != nil {
		return nil, err
	}

	listing, ok := event.Assemble(rec)
	if !ok {
		logger.Debug("Listing has no slots", logger.Fields{"origin_id": originID})
		return nil, nil
	}
	return listing, nil
}

// get fetches a page, retrying transport errors and 5xx responses
func (s *Scraper) get(ctx context.Context, pageURL string) ([]byte, error) {
	var body []byte

	op := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return backoff.Permanent(ErrDeadline)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("User-Agent", s.cfg.UserAgent)

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetching page: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
		if err != nil {
			return fmt.Errorf("reading page: %w", err)
		}
		body = data
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.cfg.Retries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return body, nil
}

// limiterRegistry hands out one limiter per upstream host, so every scraper
// reading from a host shares its request budget.
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var hostLimiters = &limiterRegistry{limiters: make(map[string]*rate.Limiter)}

// get returns the host's limiter, retuned to cfg when the settings changed
func (r *limiterRegistry) get(endpoint string, cfg Config) *rate.Limiter {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = u.Host
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[host]
	if !ok {
		l = rate.NewLimiter(limit, burst)
		r.limiters[host] = l
		return l
	}
	if l.Limit() != limit {
		l.SetLimit(limit)
	}
	if l.Burst() != burst {
		l.SetBurst(burst)
	}
	return l
}
