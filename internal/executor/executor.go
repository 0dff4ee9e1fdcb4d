// Package executor runs device operations one at a time on a single worker
// goroutine, including work deferred by a delay.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned when the executor is closed
var ErrClosed = errors.New("executor closed")

// Work is a unit of work executed on the worker goroutine.
type Work func(ctx context.Context)

// DefaultQueueSize is the work queue capacity.
const DefaultQueueSize = 64

// Executor serializes work onto one goroutine.
type Executor struct {
	workQueue chan Work

	closing   chan struct{}
	closeOnce sync.Once

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
}

// New creates a new Executor.
func New(queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Executor{
		workQueue: make(chan Work, queueSize),
		closing:   make(chan struct{}),
		timers:    make(map[*time.Timer]struct{}),
	}
}

// Close stops accepting work and cancels pending deferred work. Safe to
// call more than once and concurrently with Do.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		close(e.closing)
	})

	e.timersMu.Lock()
	for t := range e.timers {
		t.Stop()
	}
	e.timers = make(map[*time.Timer]struct{})
	e.timersMu.Unlock()
}

// Do queues work without blocking. Returns false if the executor is
// closing, the queue is full, or ctx is cancelled.
func (e *Executor) Do(ctx context.Context, work Work) bool {
	select {
	case <-e.closing:
		log.Warn().Msg("Executor closing, dropping work")
		return false
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping work")
		return false
	case e.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Executor queue full, dropping work")
		return false
	}
}

// DoSync queues work, blocking until there is space.
func (e *Executor) DoSync(ctx context.Context, work Work) error {
	select {
	case <-e.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case e.workQueue <- work:
		return nil
	}
}

// DoSyncWithResult queues work and waits for it to finish, returning its error.
func (e *Executor) DoSyncWithResult(ctx context.Context, work func(context.Context) error) error {
	done := make(chan error, 1)
	wrapped := Work(func(c context.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("work panicked: %v", rec)
			}
		}()
		done <- work(c)
	})

	select {
	case <-e.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case e.workQueue <- wrapped:
	}

	select {
	case <-e.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// After queues work onto the worker once delay has elapsed. The cid is
// attached to the log lines of the deferred item. Pending items are
// discarded by Close.
func (e *Executor) After(delay time.Duration, cid string, work Work) {
	logger := log.With().Str("cid", cid).Dur("delay", delay).Logger()

	select {
	case <-e.closing:
		logger.Debug().Msg("Executor closed, deferred work dropped")
		return
	default:
	}

	var t *time.Timer
	e.timersMu.Lock()
	t = time.AfterFunc(delay, func() {
		e.timersMu.Lock()
		delete(e.timers, t)
		e.timersMu.Unlock()

		if err := e.DoSync(context.Background(), work); err != nil {
			logger.Debug().Err(err).Msg("Deferred work dropped")
		}
	})
	e.timers[t] = struct{}{}
	e.timersMu.Unlock()

	logger.Debug().Msg("Deferred work scheduled")
}

// Pending returns the number of deferred items not yet queued.
func (e *Executor) Pending() int {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	return len(e.timers)
}

// Run is the worker loop. It is the only goroutine that executes work and
// exits when ctx is cancelled or the executor is closed.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drainQueue(ctx)
			return
		case <-e.closing:
			e.drainQueue(ctx)
			return
		case work := <-e.workQueue:
			e.executeWork(ctx, work)
		}
	}
}

func (e *Executor) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-e.workQueue:
			e.executeWork(ctx, work)
		default:
			return
		}
	}
}

func (e *Executor) executeWork(ctx context.Context, work Work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Work panicked - worker continuing")
		}
	}()
	work(ctx)
}
