package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunEpochStopsOnServerExit(t *testing.T) {
	var started atomic.Int32
	epoch := func(ctx context.Context, heartbeat chan<- struct{}) error {
		started.Add(1)
		return nil
	}

	s := New(epoch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.runEpoch(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runEpoch did not return after server exit")
	}

	require.EqualValues(t, 1, started.Load())
}

func TestRunEpochStopsOnContextCancel(t *testing.T) {
	epoch := func(ctx context.Context, heartbeat chan<- struct{}) error {
		<-ctx.Done()
		return ctx.Err()
	}

	s := New(epoch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		s.runEpoch(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runEpoch did not return after context cancellation")
	}
}

func TestMonitorExitsCleanlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	hb := make(chan struct{})
	err := monitor(ctx, hb)
	require.NoError(t, err, "monitor should exit cleanly on ctx cancellation before the heartbeat timeout window")
}

func TestMonitorResetsOnHeartbeat(t *testing.T) {
	hb := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(10 * time.Millisecond)
			hb <- struct{}{}
		}
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := monitor(ctx, hb)
	require.NoError(t, err)
}

func TestRunRestartsOnEpochExit(t *testing.T) {
	var epochs atomic.Int32
	epoch := func(ctx context.Context, heartbeat chan<- struct{}) error {
		epochs.Add(1)
		if epochs.Load() < 3 {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}

	s := New(epoch, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(2500 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	require.GreaterOrEqual(t, epochs.Load(), int32(3))
}
