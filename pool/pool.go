// Package pool runs channel-processing tasks under two independent
// concurrency gates: a resizable channel-slot semaphore and a fixed-capacity
// weighted semaphore for media downloads. The download gate is wider than the
// channel gate so transfer bandwidth stays saturated while enumeration is
// throttled.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/onnwee/channel-harvest/telemetry"
)

// ErrStopped is returned for work submitted after Stop.
var ErrStopped = errors.New("pool stopped")

// Task is one unit of channel work.
type Task func(ctx context.Context) error

// Future resolves when its task finishes.
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task completes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return f.err
	}
}

// Done exposes the completion channel for select loops.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the task error once Done is closed.
func (f *Future) Err() error { return f.err }

// resizableSem is a counting semaphore whose limit can change while holders
// are active. Shrinking never interrupts running tasks; it only delays new
// acquisitions until enough holders release.
type resizableSem struct {
	mu     sync.Mutex
	cond   *sync.Cond
	limit  int
	inUse  int
	closed bool
}

func newResizableSem(limit int) *resizableSem {
	s := &resizableSem{limit: limit}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *resizableSem) acquire(ctx context.Context) error {
	// Wake the cond wait when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.inUse < s.limit {
			s.inUse++
			return nil
		}
		s.cond.Wait()
	}
}

func (s *resizableSem) release() {
	s.mu.Lock()
	s.inUse--
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *resizableSem) resize(limit int) {
	if limit < 1 {
		limit = 1
	}
	s.mu.Lock()
	s.limit = limit
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *resizableSem) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Pool coordinates channel tasks and download slots.
type Pool struct {
	channels  *resizableSem
	downloads *semaphore.Weighted

	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped bool
	cancel  context.CancelFunc
	baseCtx context.Context
}

// New builds a Pool with the given channel-slot and download-slot capacities.
func New(channelSlots, downloadSlots int) *Pool {
	if channelSlots < 1 {
		channelSlots = 1
	}
	if downloadSlots < 1 {
		downloadSlots = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		channels:  newResizableSem(channelSlots),
		downloads: semaphore.NewWeighted(int64(downloadSlots)),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Submit queues a channel task. The task runs once a channel slot is free; the
// returned Future resolves with its error. Submitting after Stop resolves the
// Future immediately with ErrStopped.
func (p *Pool) Submit(ctx context.Context, task Task) *Future {
	f := &Future{done: make(chan struct{})}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		f.err = ErrStopped
		close(f.done)
		return f
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer close(f.done)
		// Task context dies with either the caller or the pool.
		tctx, cancel := mergeContexts(ctx, p.baseCtx)
		defer cancel()
		if err := p.channels.acquire(tctx); err != nil {
			f.err = err
			return
		}
		telemetry.QueueDepth.Inc()
		defer func() {
			telemetry.QueueDepth.Dec()
			p.channels.release()
		}()
		f.err = task(tctx)
	}()
	return f
}

// AcquireDownload blocks for a download slot.
func (p *Pool) AcquireDownload(ctx context.Context) error {
	if err := p.downloads.Acquire(ctx, 1); err != nil {
		return err
	}
	telemetry.ActiveDownloads.Inc()
	return nil
}

// ReleaseDownload frees a slot taken by AcquireDownload.
func (p *Pool) ReleaseDownload() {
	telemetry.ActiveDownloads.Dec()
	p.downloads.Release(1)
}

// Resize adjusts the channel-slot limit. Running tasks are never interrupted.
func (p *Pool) Resize(channelSlots int) { p.channels.resize(channelSlots) }

// Wait blocks until every submitted task has finished, up to timeout
// (0 means wait forever).
func (p *Pool) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("pool wait timed out after %s", timeout)
	}
}

// Stop cancels all running tasks and rejects new submissions, then waits for
// the workers to unwind.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	p.channels.close()
	p.cancel()
	p.wg.Wait()
}

// mergeContexts returns a context cancelled when either input is.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() { stop(); cancel() }
}
