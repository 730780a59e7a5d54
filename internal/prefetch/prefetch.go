// Package prefetch implements the Prefetcher: a periodic sweep that
// refreshes cache entries nearing expiry before they're evicted, so a
// popular name stays warm across its TTL boundary. Grounded on the
// Rust original's run_server prefetch task (retain + per-entry spawn
// on a 60s sweep interval).
package prefetch

import (
	"context"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/time/rate"

	"github.com/foxglovedns/resolverd/internal/cache"
	"github.com/foxglovedns/resolverd/internal/metrics"
	"github.com/foxglovedns/resolverd/internal/worker"
)

// sweepInterval is how often the cache is scanned for entries nearing
// expiry, matching the Rust original's 60-second prefetch loop.
const sweepInterval = 60 * time.Second

// threshold is how far out from expiry an entry must be to be left
// alone; anything closer is refreshed now, per spec.md §4.5's
// PREFETCH_THRESHOLD.
const threshold = 60 * time.Second

// Resolver is the subset of *resolver.Resolver the Prefetcher depends
// on.
type Resolver interface {
	Resolve(ctx context.Context, name string, qtype uint16, depth int) ([]dns.RR, []dns.RR, error)
}

// Config configures a Prefetcher.
type Config struct {
	// Workers bounds how many refreshes can be in flight at once.
	// Default: 16.
	Workers int
}

// Prefetcher periodically refreshes cache entries that are about to
// expire.
type Prefetcher struct {
	cache    *cache.Cache
	resolver Resolver
	pool     *worker.Pool
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
}

// New builds a Prefetcher over c and r. m may be nil.
func New(c *cache.Cache, r Resolver, cfg Config, m *metrics.Metrics) *Prefetcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 16
	}

	return &Prefetcher{
		cache:    c,
		resolver: r,
		pool:     worker.NewPool(worker.Config{Workers: workers}),
		// Paces refresh-spawn submissions rather than client queries —
		// the Non-goal this Limiter is NOT serving is inbound
		// rate-limiting; it only smooths how fast the sweep itself
		// fans out, so a cache holding many near-simultaneous expiries
		// doesn't thundering-herd upstream servers.
		limiter: rate.NewLimiter(rate.Limit(workers), workers),
		metrics: m,
	}
}

// Run blocks, sweeping the cache every sweepInterval until ctx is
// cancelled.
func (p *Prefetcher) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.pool.Close()
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep refreshes every entry within threshold of expiry, and evicts
// entries already past it, using cache.ForEach's single-pass retain
// semantics. Each refresh runs in its own goroutine through the worker
// pool; sweep returns once all of them have finished.
func (p *Prefetcher) sweep(ctx context.Context) {
	now := time.Now()
	type refresh struct {
		key cache.Key
	}
	var due []refresh

	p.cache.ForEach(func(k cache.Key, e cache.Entry) bool {
		if e.Expired(now) {
			return false
		}
		if e.ExpiresAt.Sub(now) < threshold {
			due = append(due, refresh{key: k})
		}
		return true
	})

	var wg sync.WaitGroup
	for _, r := range due {
		key := r.key
		if err := p.limiter.Wait(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.pool.Submit(ctx, worker.JobFunc(func(jobCtx context.Context) error {
				return p.refresh(jobCtx, key)
			}))
		}()
	}
	wg.Wait()
}

func (p *Prefetcher) refresh(ctx context.Context, key cache.Key) error {
	answers, _, err := p.resolver.Resolve(ctx, key.Name, key.Type, 0)
	outcome := "refreshed"
	if err != nil || len(answers) == 0 {
		outcome = "failed"
	}
	if p.metrics != nil {
		p.metrics.PrefetchRefreshes.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		return err
	}
	if len(answers) == 0 {
		return nil
	}

	p.cache.Insert(key, cache.Entry{
		Records:   answers,
		ExpiresAt: time.Now().Add(time.Duration(cache.MinTTL(answers)) * time.Second),
	})
	return nil
}
