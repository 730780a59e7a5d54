// Package cache implements the shared TTL cache: a concurrent mapping
// from (name, type) to the records an upstream answered with, expiring
// on TTL. It is sharded so the Query Handler, Iterative Resolver, and
// Prefetcher never contend on a single lock during a prefetch storm.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dchest/siphash"
	"github.com/miekg/dns"
)

const (
	// defaultShardCount is a power of 2 so hash&mask replaces the modulo.
	defaultShardCount = 256

	// cleanupInterval is how often expired entries are swept in the
	// background. The Prefetcher (internal/prefetch) drives the
	// TTL-aware refresh sweep spec.md calls for; this ticker is a purely
	// defensive backstop so an idle cache (no prefetch activity) still
	// reclaims memory.
	cleanupInterval = 60 * time.Second
)

// hashKey0, hashKey1 seed the per-process SipHash key. Randomizing per
// process (rather than hardcoding) means an off-path attacker cannot
// precompute shard collisions across restarts.
var hashKey0, hashKey1 = randomHashKeys()

// Key identifies a cached answer set: a canonical domain name paired
// with the record type queried for it.
type Key struct {
	Name string
	Type uint16
}

// NewKey canonicalizes name (lower-case, trailing dot) before building
// the key, per spec.md's "Names are compared after lower-casing and
// trailing-dot normalisation" rule.
func NewKey(name string, qtype uint16) Key {
	return Key{Name: strings.ToLower(dns.Fqdn(name)), Type: qtype}
}

func (k Key) hash() uint64 {
	h := siphash.New(keyToBytes(hashKey0, hashKey1))
	h.Write([]byte(k.Name))
	h.Write([]byte{byte(k.Type >> 8), byte(k.Type)})
	return h.Sum64()
}

// Entry is the verbatim answer set from some upstream, together with
// the instant it stops being usable. Entries are immutable after
// insertion; a refresh replaces the entry wholesale rather than
// mutating it in place.
type Entry struct {
	Records   []dns.RR
	ExpiresAt time.Time
}

// Expired reports whether e is no longer usable as of now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// MinTTL returns the minimum TTL, in seconds, across rrs. Computed
// across every record in the set — including a CNAME and its target
// when both appear in one answer — per spec.md's resolved Open Question
// on mixed-type min-TTL.
func MinTTL(rrs []dns.RR) uint32 {
	var min uint32
	for i, rr := range rrs {
		ttl := rr.Header().Ttl
		if i == 0 || ttl < min {
			min = ttl
		}
	}
	return min
}

type shard struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// Cache is the sharded, concurrency-safe TTL cache shared by the Query
// Handler, the Iterative Resolver, and the Prefetcher for the lifetime
// of one server epoch.
type Cache struct {
	shards []*shard
	mask   uint64
}

// Config configures a new Cache.
type Config struct {
	// ShardCount is rounded up to the next power of two. Zero selects
	// the default of 256.
	ShardCount int
}

// New creates a Cache. The cache has no size cap — eviction is TTL
// driven only, per spec.md §4.2.
func New(cfg Config) *Cache {
	n := cfg.ShardCount
	if n <= 0 {
		n = defaultShardCount
	}
	n = nextPowerOfTwo(n)

	c := &Cache{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[Key]Entry)}
	}
	return c
}

func (c *Cache) shardFor(k Key) *shard {
	return c.shards[k.hash()&c.mask]
}

// Lookup returns the entry for key, if present, regardless of whether
// it has expired — callers (the Query Handler) are responsible for
// checking Entry.Expired and evicting via Remove, per spec.md §4.4
// steps 3-4.
func (c *Cache) Lookup(key Key) (Entry, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	return e, ok
}

// Insert stores entry under key, overwriting any prior value.
func (c *Cache) Insert(key Key, entry Entry) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
}

// Remove deletes key, if present.
func (c *Cache) Remove(key Key) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len returns the total number of entries across all shards.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// ForEach calls fn for a consistent-per-shard snapshot of every entry.
// fn's return value controls retention: returning false removes the
// entry. Each shard is locked only for the duration of its own pass, so
// ForEach never holds a single global lock — this is what lets the
// Prefetcher's sweep (internal/prefetch) run concurrently with ordinary
// request traffic.
func (c *Cache) ForEach(fn func(Key, Entry) bool) {
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if !fn(k, e) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

// Run drives the defensive cleanup ticker until ctx is cancelled,
// sweeping out expired entries on every tick. The Prefetcher is what
// keeps hot entries fresh; this is the backstop that reclaims memory
// for names nobody is actively querying or prefetching anymore.
func (c *Cache) Run(ctx context.Context) {
	t := time.NewTicker(cleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			c.cleanupExpired(now)
		}
	}
}

func (c *Cache) cleanupExpired(now time.Time) {
	c.ForEach(func(_ Key, e Entry) bool {
		return !e.Expired(now)
	})
}
