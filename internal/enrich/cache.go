package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"chronicler/internal/logging"
)

// FetchFunc produces the value for a fingerprint on a cache miss.
type FetchFunc func(ctx context.Context) (string, error)

// Entry is a cached enrichment value with its expiry.
type Entry struct {
	Value     string
	ExpiresAt time.Time
}

// Backing persists cache entries across runs. LoadEnrichment reports ok=false
// for missing or expired entries.
type Backing interface {
	LoadEnrichment(ctx context.Context, fingerprint string, now time.Time) (Entry, bool, error)
	StoreEnrichment(ctx context.Context, fingerprint string, e Entry) error
}

// Stats counts cache activity since construction.
type Stats struct {
	Hits     int64
	Fetches  int64
	Failures int64
}

// Cache deduplicates enrichment fetches by fingerprint. Concurrent callers for
// the same fingerprint share one upstream fetch; the number of fetches in
// flight across all fingerprints is bounded. Only successes are cached.
type Cache struct {
	ttl     time.Duration
	sem     *semaphore.Weighted
	group   singleflight.Group
	backing Backing
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
	flights map[string]*flight
	gen     uint64

	hits     atomic.Int64
	fetches  atomic.Int64
	failures atomic.Int64
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithBacking attaches a persistent store consulted before fetching.
func WithBacking(b Backing) CacheOption {
	return func(c *Cache) {
		c.backing = b
	}
}

// WithCacheClock overrides the clock used for expiry.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheLogger sets the logger used for backing store warnings.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache builds a cache whose entries live for ttl and which runs at most
// maxConcurrent fetches at once. maxConcurrent <= 0 means one.
func NewCache(ttl time.Duration, maxConcurrent int, opts ...CacheOption) *Cache {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	c := &Cache{
		ttl:     ttl,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		now:     time.Now,
		logger:  logging.NewNop(),
		entries: make(map[string]Entry),
		flights: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "enrich-cache")
	return c
}

// flight is one shared fetch. Its context is cancelled when the last waiter
// leaves, so an abandoned fetch stops retrying and spending quota.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// join registers a waiter on the live flight for fingerprint, starting a new
// flight when none is live.
func (c *Cache) join(ctx context.Context, fingerprint string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[fingerprint]; ok {
		f.waiters++
		return f
	}
	c.gen++
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{
		key:     fmt.Sprintf("%s#%d", fingerprint, c.gen),
		ctx:     fctx,
		cancel:  cancel,
		waiters: 1,
	}
	c.flights[fingerprint] = f
	return f
}

func (c *Cache) leave(fingerprint string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[fingerprint] == f {
		delete(c.flights, fingerprint)
	}
}

// GetOrFetch returns the cached value for fingerprint or runs fetch once for
// all concurrent callers. A failed fetch is reported to every waiter and is not
// cached. Each caller stops waiting when its own ctx is done; the shared fetch
// is cancelled once no caller is waiting for it.
func (c *Cache) GetOrFetch(ctx context.Context, fingerprint string, fetch FetchFunc) (string, error) {
	if value, ok := c.lookup(fingerprint); ok {
		c.hits.Add(1)
		return value, nil
	}

	f := c.join(ctx, fingerprint)
	defer c.leave(fingerprint, f)
	flightCtx := f.ctx
	ch := c.group.DoChan(f.key, func() (any, error) {
		if value, ok := c.lookup(fingerprint); ok {
			c.hits.Add(1)
			return value, nil
		}
		if value, ok := c.loadBacking(flightCtx, fingerprint); ok {
			c.hits.Add(1)
			return value, nil
		}
		if err := c.sem.Acquire(flightCtx, 1); err != nil {
			return "", err
		}
		defer c.sem.Release(1)

		c.fetches.Add(1)
		value, err := fetch(flightCtx)
		if err != nil {
			c.failures.Add(1)
			return "", err
		}
		c.store(flightCtx, fingerprint, value)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		value, ok := res.Val.(string)
		if !ok {
			return "", fmt.Errorf("enrich cache: unexpected value type %T", res.Val)
		}
		return value, nil
	}
}

// Len reports the number of live in-memory entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, e := range c.entries {
		if now.Before(e.ExpiresAt) {
			n++
		}
	}
	return n
}

// Stats returns activity counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Fetches:  c.fetches.Load(),
		Failures: c.failures.Load(),
	}
}

func (c *Cache) lookup(fingerprint string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fingerprint]
	if !ok {
		return "", false
	}
	if !c.now().Before(e.ExpiresAt) {
		delete(c.entries, fingerprint)
		return "", false
	}
	return e.Value, true
}

func (c *Cache) loadBacking(ctx context.Context, fingerprint string) (string, bool) {
	if c.backing == nil {
		return "", false
	}
	e, ok, err := c.backing.LoadEnrichment(ctx, fingerprint, c.now())
	if err != nil {
		logging.WarnWithContext(c.logger, "enrichment cache load failed", "enrich_cache_load_failed",
			logging.String("fingerprint", fingerprint),
			logging.Error(err),
			logging.String(logging.FieldImpact, "entry will be refetched"),
		)
		return "", false
	}
	if !ok {
		return "", false
	}
	c.mu.Lock()
	c.entries[fingerprint] = e
	c.mu.Unlock()
	return e.Value, true
}

func (c *Cache) store(ctx context.Context, fingerprint, value string) {
	e := Entry{Value: value, ExpiresAt: c.now().Add(c.ttl)}
	c.mu.Lock()
	c.entries[fingerprint] = e
	c.mu.Unlock()

	if c.backing == nil {
		return
	}
	if err := c.backing.StoreEnrichment(ctx, fingerprint, e); err != nil {
		logging.WarnWithContext(c.logger, "enrichment cache persist failed", "enrich_cache_store_failed",
			logging.String("fingerprint", fingerprint),
			logging.Error(err),
			logging.String(logging.FieldImpact, "entry cached for this run only"),
		)
	}
}
