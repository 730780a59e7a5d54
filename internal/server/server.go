// Package server wires the UDP transport, Query Handler, Iterative
// Resolver, and Prefetcher into one serving pipeline, and runs that
// pipeline under the Supervisor so a stalled epoch gets torn down and
// rebuilt with a fresh cache, per spec.md §2-§4.
package server

import (
	"context"
	"log"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foxglovedns/resolverd/internal/cache"
	"github.com/foxglovedns/resolverd/internal/config"
	"github.com/foxglovedns/resolverd/internal/handler"
	"github.com/foxglovedns/resolverd/internal/metrics"
	"github.com/foxglovedns/resolverd/internal/pool"
	"github.com/foxglovedns/resolverd/internal/prefetch"
	"github.com/foxglovedns/resolverd/internal/resolver"
	"github.com/foxglovedns/resolverd/internal/supervisor"
	"github.com/foxglovedns/resolverd/internal/transport"
)

// Server owns one running instance of the resolver: it builds a fresh
// epoch (cache, resolver, handler, prefetcher, listener) each time the
// Supervisor restarts the pipeline.
type Server struct {
	cfg        config.Config
	metrics    *metrics.Metrics
	supervisor *supervisor.Supervisor
}

// New builds a Server from cfg, registering its metrics against reg.
func New(cfg config.Config, reg prometheus.Registerer) *Server {
	s := &Server{cfg: cfg, metrics: metrics.New(reg)}
	s.supervisor = supervisor.New(s.runEpoch, s.metrics)
	return s
}

// Run blocks, running the supervised pipeline until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.supervisor.Run(ctx)
}

// runEpoch builds one fresh cache, resolver, handler, and prefetcher,
// then serves client datagrams off a freshly bound listener until
// epochCtx is cancelled or the listener fails. It is a
// supervisor.EpochFunc.
func (s *Server) runEpoch(epochCtx context.Context, heartbeat chan<- struct{}) error {
	c := cache.New(cache.Config{ShardCount: s.cfg.ShardCount})
	go c.Run(epochCtx)
	res := resolver.New(c)
	h := handler.New(c, res, s.metrics)

	workers := s.cfg.PrefetchWorkers
	pf := prefetch.New(c, res, prefetch.Config{Workers: workers}, s.metrics)
	go pf.Run(epochCtx)

	return s.serve(epochCtx, h, heartbeat)
}

// serve runs the UDP accept loop: read, hand off to the handler, write
// the reply. Each accepted datagram is handled in its own goroutine so
// one slow resolution can't hold up the next arrival.
func (s *Server) serve(ctx context.Context, h *handler.Handler, heartbeat chan<- struct{}) error {
	l, err := transport.Listen(s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer l.Close()

	buf := make([]byte, poolBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, addr, err := l.ReadFrom(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("resolverd: read error: %v", err)
			continue
		}

		select {
		case heartbeat <- struct{}{}:
		default:
		}

		raw := pool.GetBuffer()
		n = copy(raw, buf[:n])
		payload := raw[:n]

		go func(payload []byte, addr net.Addr) {
			defer pool.PutBuffer(payload[:cap(payload)])
			resp := h.Handle(ctx, payload)
			if resp == nil {
				return
			}
			if err := l.WriteTo(resp, addr); err != nil {
				log.Printf("resolverd: write error: %v", err)
			}
		}(payload, addr)
	}
}

const poolBufferSize = 512
