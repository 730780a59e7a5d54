// Package supervisor implements the watchdog that owns the serving
// pipeline's lifetime: it starts a fresh epoch (server + heartbeat
// monitor, sharing a freshly built cache), and restarts the whole
// epoch if the server exits, the monitor stops seeing heartbeats, or a
// scheduled restart interval elapses. Grounded verbatim on the
// original_source/src/main.rs supervisor loop (its RESTART_INTERVAL,
// tokio::select! over server/monitor/sleep, and its 1s backoff before
// the next epoch).
package supervisor

import (
	"context"
	"time"

	"github.com/foxglovedns/resolverd/internal/metrics"
)

// restartInterval forces a fresh epoch periodically even when nothing
// has failed, bounding how long any one epoch's accumulated state
// (the cache, open sockets) is allowed to live.
const restartInterval = 600 * time.Second

// heartbeatTimeout is how long the monitor waits for a heartbeat
// before declaring the epoch stalled.
const heartbeatTimeout = 30 * time.Second

// backoff is the pause between one epoch ending, for whatever reason,
// and the next one starting.
const backoff = 1 * time.Second

// EpochFunc starts one epoch of the serving pipeline. It must run
// until ctx is cancelled, sending on heartbeat whenever it has made
// forward progress (per spec.md §4.6, a non-blocking send: a slow
// consumer must never back-pressure the server loop). It returns when
// ctx is cancelled or it encounters an unrecoverable error.
type EpochFunc func(ctx context.Context, heartbeat chan<- struct{}) error

// Supervisor runs epoch repeatedly, restarting it on failure, stall,
// or schedule.
type Supervisor struct {
	epoch   EpochFunc
	metrics *metrics.Metrics
}

// New builds a Supervisor that runs epoch.
func New(epoch EpochFunc, m *metrics.Metrics) *Supervisor {
	return &Supervisor{epoch: epoch, metrics: m}
}

// Run blocks, running successive epochs until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.runEpoch(ctx)

		if s.metrics != nil {
			s.metrics.SupervisorRestarts.Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// runEpoch runs exactly one epoch to completion: it returns once the
// epoch's server exits, its heartbeat monitor times out, the
// scheduled restart interval elapses, or the outer ctx is cancelled.
func (s *Supervisor) runEpoch(ctx context.Context) {
	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeat := make(chan struct{}, 1)
	serverDone := make(chan error, 1)
	monitorDone := make(chan error, 1)

	go func() {
		serverDone <- s.epoch(epochCtx, heartbeat)
	}()
	go func() {
		monitorDone <- monitor(epochCtx, heartbeat)
	}()

	restart := time.NewTimer(restartInterval)
	defer restart.Stop()

	select {
	case <-ctx.Done():
	case <-serverDone:
	case <-monitorDone:
	case <-restart.C:
	}

	// cancel (a no-op if ctx.Done fired) and wait for both siblings to
	// actually exit before handing the epoch back to Run — otherwise the
	// next epoch's Listen races the bind against a listener this epoch
	// hasn't closed yet.
	cancel()
	for serverDone != nil || monitorDone != nil {
		select {
		case <-serverDone:
			serverDone = nil
		case <-monitorDone:
			monitorDone = nil
		}
	}
}

// monitor watches heartbeat, returning an error if heartbeatTimeout
// passes without a signal. It exits cleanly when ctx is cancelled.
// Grounded on the Rust original's heartbeat_monitor function.
func monitor(ctx context.Context, heartbeat <-chan struct{}) error {
	timer := time.NewTimer(heartbeatTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(heartbeatTimeout)
		case <-timer.C:
			return context.DeadlineExceeded
		}
	}
}
