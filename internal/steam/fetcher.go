// Package steam talks to the Steam Community Market. Every outbound
// call goes through one process-wide Fetcher that owns the pacing
// policy; the Client on top of it exposes the typed endpoints.
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tradeup-scout/internal/logger"
	"tradeup-scout/internal/metrics"
)

const (
	maxParallel    = 5
	maxAttempts    = 7
	requestTimeout = 20 * time.Second

	cacheSize = 5000
	cacheTTL  = 20 * time.Minute

	totalsCacheSize = 100
	totalsCacheTTL  = 5 * time.Minute
)

// Pacing seeds the adaptive inter-batch delay, in milliseconds.
type Pacing struct {
	StartMs int
	MinMs   int
	MaxMs   int
}

// DefaultPacing matches the documented STEAM_RATE_* defaults.
func DefaultPacing() Pacing { return Pacing{StartMs: 3000, MinMs: 1200, MaxMs: 12000} }

// Options tune a single fetch.
type Options struct {
	// CacheKey stores the body under this key once it has decoded
	// cleanly; empty disables caching.
	CacheKey string
	// MaxAttempts overrides the retry budget when > 0.
	MaxAttempts int
	// RateLimitPause adds a fixed sleep after each 429 before the
	// next attempt. The listing endpoints use this; the regular
	// back-off alone trips their stricter limiter again.
	RateLimitPause time.Duration
}

type fetchJob struct {
	ctx  context.Context
	url  string
	opt  Options
	done chan fetchResult
}

type fetchResult struct {
	body []byte
	err  error
}

// Fetcher funnels every outbound market call through one scheduler:
// batches of at most maxParallel requests, a jittered pause between
// batches, a shared cool-down window after 429s, and an LRU response
// cache keyed by endpoint.
type Fetcher struct {
	client    *http.Client
	userAgent string

	mu            sync.Mutex
	queue         []*fetchJob
	running       bool
	pauseMs       int
	minMs         int
	maxMs         int
	cooldownUntil time.Time

	cooldownWindow time.Duration
	backoffBase    time.Duration

	cache *ttlCache
	group singleflight.Group
}

// NewFetcher builds the scheduler. A zero Pacing falls back to the
// defaults.
func NewFetcher(p Pacing) *Fetcher {
	if p.StartMs <= 0 || p.MinMs <= 0 || p.MaxMs <= 0 {
		p = DefaultPacing()
	}
	return &Fetcher{
		client:         &http.Client{Timeout: requestTimeout},
		userAgent:      "tradeup-scout/1.0 (github.com)",
		pauseMs:        p.StartMs,
		minMs:          p.MinMs,
		maxMs:          p.MaxMs,
		cooldownWindow: 15 * time.Second,
		backoffBase:    900 * time.Millisecond,
		cache:          newTTLCache(cacheSize, cacheTTL),
	}
}

// GetJSON fetches url under policy and decodes the body into dst.
// Bodies are cached only after a clean decode, so a cache hit never
// replays a malformed payload.
func (f *Fetcher) GetJSON(ctx context.Context, url string, dst any, opt Options) error {
	if opt.CacheKey != "" {
		if v, ok := f.cache.get(opt.CacheKey); ok {
			metrics.CacheHits.Inc()
			return json.Unmarshal(v.([]byte), dst)
		}
		metrics.CacheMisses.Inc()
	}
	body, err := f.Get(ctx, url, opt)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("steam: decode %s: %w", url, err)
	}
	if opt.CacheKey != "" {
		f.cache.add(opt.CacheKey, body)
	}
	return nil
}

// Get fetches url under policy and returns the raw body. Concurrent
// calls for the same URL share one upstream request.
func (f *Fetcher) Get(ctx context.Context, url string, opt Options) ([]byte, error) {
	v, err, _ := f.group.Do(url, func() (any, error) {
		return f.enqueue(ctx, url, opt)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *Fetcher) enqueue(ctx context.Context, url string, opt Options) ([]byte, error) {
	j := &fetchJob{ctx: ctx, url: url, opt: opt, done: make(chan fetchResult, 1)}
	f.mu.Lock()
	f.queue = append(f.queue, j)
	if !f.running {
		f.running = true
		go f.run()
	}
	f.mu.Unlock()

	select {
	case r := <-j.done:
		return r.body, r.err
	case <-ctx.Done():
		// The runner still completes the job; the buffered channel
		// lets it finish without us.
		return nil, ctx.Err()
	}
}

// run drains the queue in paced batches until it is empty, then
// exits. The next enqueue starts a fresh runner.
func (f *Fetcher) run() {
	for {
		batch := f.nextBatch()
		if batch == nil {
			return
		}
		if wait := f.cooldownLeft(); wait > 0 {
			logger.Debug("Steam", fmt.Sprintf("cooling down %s before next batch", wait.Round(time.Millisecond)))
			time.Sleep(wait)
		}
		var wg sync.WaitGroup
		for _, j := range batch {
			wg.Add(1)
			go func(j *fetchJob) {
				defer wg.Done()
				body, err := f.execute(j)
				j.done <- fetchResult{body: body, err: err}
			}(j)
		}
		wg.Wait()
		time.Sleep(jitter(f.currentPause()))
	}
}

func (f *Fetcher) nextBatch() []*fetchJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		f.running = false
		return nil
	}
	n := min(len(f.queue), maxParallel)
	batch := f.queue[:n:n]
	f.queue = f.queue[n:]
	return batch
}

// execute runs one job through the retry budget.
func (f *Fetcher) execute(j *fetchJob) ([]byte, error) {
	attempts := maxAttempts
	if j.opt.MaxAttempts > 0 {
		attempts = j.opt.MaxAttempts
	}
	var lastErr error
	var wait time.Duration
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := jitter(f.backoffBase << (attempt - 2))
			// An upstream Retry-After outranks the regular back-off.
			if wait > delay {
				delay = wait
			}
			wait = 0
			select {
			case <-time.After(delay):
			case <-j.ctx.Done():
				return nil, j.ctx.Err()
			}
		}

		body, status, retryAfter, err := f.doRequest(j.ctx, j.url)
		switch {
		case err == nil && status == http.StatusOK:
			f.onSuccess()
			metrics.Requests.WithLabelValues("ok").Inc()
			return body, nil

		case j.ctx.Err() != nil:
			return nil, j.ctx.Err()

		case status == http.StatusTooManyRequests:
			f.on429()
			metrics.Requests.WithLabelValues("rate_limited").Inc()
			if retryAfter > 0 {
				wait = retryAfter
			} else {
				retryAfter = f.cooldownWindow
			}
			lastErr = &RateLimitedError{RetryAfter: retryAfter}
			if j.opt.RateLimitPause > 0 {
				select {
				case <-time.After(j.opt.RateLimitPause):
				case <-j.ctx.Done():
					return nil, j.ctx.Err()
				}
			}

		case err != nil || status >= 500:
			metrics.Requests.WithLabelValues("error").Inc()
			lastErr = &TransportError{Status: status, Err: err}

		default:
			// 4xx other than 429: retrying will not change the answer.
			metrics.Requests.WithLabelValues("error").Inc()
			return nil, &TransportError{Status: status}
		}
	}
	return nil, lastErr
}

func (f *Fetcher) doRequest(ctx context.Context, url string) (body []byte, status int, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, convErr := strconv.Atoi(h); convErr == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, retryAfter, err
	}
	return body, resp.StatusCode, retryAfter, nil
}

// onSuccess eases the inter-batch pause back toward the floor.
func (f *Fetcher) onSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseMs = max(f.minMs, f.pauseMs-100)
	metrics.PauseMs.Set(float64(f.pauseMs))
}

// on429 backs the pause off and opens the shared cool-down window so
// no new batch starts while the upstream limiter is hot.
func (f *Fetcher) on429() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseMs = min(f.maxMs, f.pauseMs*135/100+250)
	f.cooldownUntil = time.Now().Add(f.cooldownWindow)
	metrics.PauseMs.Set(float64(f.pauseMs))
	logger.Warn("Steam", fmt.Sprintf("429 from market, pause now %dms", f.pauseMs))
}

func (f *Fetcher) cooldownLeft() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Until(f.cooldownUntil)
}

func (f *Fetcher) currentPause() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Duration(f.pauseMs) * time.Millisecond
}

// jitter spreads d uniformly over [0.8d, 1.2d].
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
}

// Status is a point-in-time view of the scheduler, for diagnostics.
type Status struct {
	PauseMs       int       `json:"pauseMs"`
	CooldownUntil time.Time `json:"cooldownUntil"`
	QueueLength   int       `json:"queueLength"`
	Running       bool      `json:"running"`
	CachedBodies  int       `json:"cachedBodies"`
}

// Status reports the current pacing state.
func (f *Fetcher) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{
		PauseMs:       f.pauseMs,
		CooldownUntil: f.cooldownUntil,
		QueueLength:   len(f.queue),
		Running:       f.running,
		CachedBodies:  f.cache.len(),
	}
}
