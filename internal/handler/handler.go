// Package handler implements the Query Handler: it decodes each
// incoming client datagram, answers from cache when possible, and
// otherwise drives a singleflight-collapsed call into the Iterative
// Resolver before replying, per spec.md §4.4.
package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"github.com/foxglovedns/resolverd/internal/cache"
	"github.com/foxglovedns/resolverd/internal/metrics"
	"github.com/foxglovedns/resolverd/internal/pool"
)

// Resolver is the subset of *resolver.Resolver the handler depends on.
type Resolver interface {
	Resolve(ctx context.Context, name string, qtype uint16, depth int) ([]dns.RR, []dns.RR, error)
}

// Handler answers client queries. It holds no per-query state beyond
// what's passed to Handle, so a single Handler is shared by every
// datagram read off the listener, and Handle may be called concurrently.
type Handler struct {
	cache    *cache.Cache
	resolver Resolver
	group    singleflight.Group
	metrics  *metrics.Metrics
}

// New builds a Handler over c and r. m may be nil, in which case
// metrics are not recorded.
func New(c *cache.Cache, r Resolver, m *metrics.Metrics) *Handler {
	return &Handler{cache: c, resolver: r, metrics: m}
}

// Handle decodes a raw client datagram and returns the raw response to
// write back. A malformed datagram yields a nil response and the
// caller drops it silently, per spec.md §8's "malformed datagram"
// error-handling rule.
func (h *Handler) Handle(ctx context.Context, raw []byte) []byte {
	req := pool.GetMessage()
	defer pool.PutMessage(req)
	if err := req.Unpack(raw); err != nil {
		return nil
	}

	resp := pool.GetMessage()
	defer pool.PutMessage(resp)
	resp.SetReply(req)
	resp.RecursionAvailable = true

	if len(req.Question) == 0 {
		packed, err := resp.Pack()
		if err != nil {
			return nil
		}
		return packed
	}

	q := req.Question[0]
	if h.metrics != nil {
		h.metrics.Queries.WithLabelValues(dns.TypeToString[q.Qtype]).Inc()
	}

	answers, authorities, err := h.resolve(ctx, q.Name, q.Qtype)
	if err != nil {
		resp.Rcode = dns.RcodeServerFailure
		if h.metrics != nil {
			h.metrics.ServFails.Inc()
		}
	} else {
		resp.Answer = answers
		resp.Ns = authorities
	}

	packed, err := resp.Pack()
	if err != nil {
		return nil
	}
	return packed
}

// resolve checks the cache, evicting a stale entry, and otherwise
// performs resolution via singleflight so concurrent identical misses
// collapse into a single upstream round-trip (the cache idempotence
// law in spec.md §9).
func (h *Handler) resolve(ctx context.Context, name string, qtype uint16) ([]dns.RR, []dns.RR, error) {
	key := cache.NewKey(name, qtype)
	now := time.Now()

	if entry, ok := h.cache.Lookup(key); ok {
		if !entry.Expired(now) {
			if h.metrics != nil {
				h.metrics.CacheHits.Inc()
			}
			return entry.Records, nil, nil
		}
		h.cache.Remove(key)
	}

	if h.metrics != nil {
		h.metrics.CacheMisses.Inc()
	}

	start := time.Now()
	v, err, _ := h.group.Do(fmt.Sprintf("%s/%d", key.Name, key.Type), func() (interface{}, error) {
		answers, authorities, err := h.resolver.Resolve(ctx, name, qtype, 0)
		if err != nil {
			return nil, err
		}
		return [2][]dns.RR{answers, authorities}, nil
	})
	if h.metrics != nil {
		h.metrics.ResolutionLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, nil, err
	}

	pair := v.([2][]dns.RR)
	return pair[0], pair[1], nil
}
