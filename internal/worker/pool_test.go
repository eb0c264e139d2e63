package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samotage/claude-headspace-sub014/internal/logging"
)

func TestPoolSubmitRunsJobsConcurrently(t *testing.T) {
	p := NewPool(context.Background(), 2, 4, logging.Default())
	defer p.Close()

	var n atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		ok := p.Submit(func(ctx context.Context) {
			defer wg.Done()
			n.Add(1)
		})
		require.True(t, ok)
	}
	wg.Wait()
	require.EqualValues(t, 3, n.Load())
}

func TestPoolSubmitDropsWhenQueueSaturated(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(context.Background(), 1, 1, logging.Default())
	defer func() {
		close(block)
		p.Close()
	}()

	// Occupy the single worker so the queue itself fills up.
	require.True(t, p.Submit(func(ctx context.Context) { <-block }))
	require.True(t, p.Submit(func(ctx context.Context) {})) // fills the 1-slot queue

	require.Eventually(t, func() bool {
		return !p.Submit(func(ctx context.Context) {})
	}, time.Second, 5*time.Millisecond, "a saturated queue must reject instead of block")

	require.GreaterOrEqual(t, p.Dropped(), int64(1))
}

func TestPoolCloseStopsAcceptingAndWaits(t *testing.T) {
	p := NewPool(context.Background(), 1, 2, logging.Default())
	var ran atomic.Bool
	require.True(t, p.Submit(func(ctx context.Context) { ran.Store(true) }))
	p.Close()
	require.True(t, ran.Load())
}

func TestNewNamedStartsHealthyAndTicks(t *testing.T) {
	var calls atomic.Int32
	n := NewNamed("probe", 10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, logging.Default())

	n.Start(context.Background())
	defer n.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.True(t, n.Healthy())
}

func TestNamedMarksUnhealthyOnRunError(t *testing.T) {
	n := NewNamed("flaky", 10*time.Millisecond, func(ctx context.Context) error {
		return errors.New("boom")
	}, logging.Default())

	n.Start(context.Background())
	defer n.Stop()

	require.Eventually(t, func() bool { return !n.Healthy() }, time.Second, 5*time.Millisecond)
}

func TestNamedStopWaitsForLoopExit(t *testing.T) {
	n := NewNamed("stoppable", time.Hour, func(ctx context.Context) error { return nil }, nil)
	n.Start(context.Background())
	n.Stop() // must return promptly, not hang

	// A second Stop on an already-stopped worker must not panic or block.
	n.Stop()
}
