package wizard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultRetryBackoff is the pause before a failed submission is retried.
const DefaultRetryBackoff = time.Second

// submitFunc pushes the cumulative answers for the step at a flow index.
type submitFunc func(ctx context.Context, index int) error

// Queue serialises background submissions. Items are drained in FIFO order
// by a single goroutine; at most one submission is in flight. A failed item
// is retried once after a fixed backoff. An unauthorized response abandons
// the queue; any other failure after the retry discards the remaining items
// and hands over to recovery.
type Queue struct {
	submit         submitFunc
	backoff        time.Duration
	onSuccess      func(index int)
	onUnauthorized func()
	onFailure      func(ctx context.Context, f *SyncFailure)
	logger         *slog.Logger

	ctx context.Context

	mu         sync.Mutex
	idle       *sync.Cond
	items      []int
	processing bool
}

// QueueHooks are the callbacks invoked by the drain loop. All are optional.
type QueueHooks struct {
	OnSuccess      func(index int)
	OnUnauthorized func()
	OnFailure      func(ctx context.Context, f *SyncFailure)
}

// NewQueue creates a queue that submits with fn. The drain loop stops
// early when ctx is cancelled.
func NewQueue(ctx context.Context, fn submitFunc, backoff time.Duration, hooks QueueHooks, logger *slog.Logger) *Queue {
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		submit:         fn,
		backoff:        backoff,
		onSuccess:      hooks.OnSuccess,
		onUnauthorized: hooks.OnUnauthorized,
		onFailure:      hooks.OnFailure,
		logger:         logger,
		ctx:            ctx,
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a flow index and starts the drain loop if it is idle.
func (q *Queue) Enqueue(index int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, index)
	if q.processing {
		return
	}
	q.processing = true
	go q.drain()
}

// Len returns the number of items waiting, excluding the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait blocks until the drain loop is idle.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.processing {
		q.idle.Wait()
	}
}

func (q *Queue) next() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.ctx.Err() != nil {
		q.items = nil
		q.processing = false
		q.idle.Broadcast()
		return 0, false
	}
	idx := q.items[0]
	q.items = q.items[1:]
	return idx, true
}

// discard drops every waiting item and returns how many were dropped.
func (q *Queue) discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *Queue) drain() {
	q.logger.Debug("submission queue started")
	for {
		idx, ok := q.next()
		if !ok {
			q.logger.Debug("submission queue finished")
			return
		}
		step := StepAt(idx)

		err := q.submit(q.ctx, idx)
		if err == nil {
			q.succeeded(idx)
			continue
		}
		if errors.Is(err, ErrUnauthorized) {
			q.abandon(step)
			continue
		}
		q.logger.Warn("submission failed, retrying", "step", step.String(),
			"backoff", q.backoff, "error", &TransientSyncError{Step: step, Err: err})

		if !sleepCtx(q.ctx, q.backoff) {
			continue
		}
		err = q.submit(q.ctx, idx)
		if err == nil {
			q.logger.Info("submission succeeded on retry", "step", step.String())
			q.succeeded(idx)
			continue
		}
		if errors.Is(err, ErrUnauthorized) {
			q.abandon(step)
			continue
		}

		failure := &SyncFailure{Step: step, Discarded: q.discard(), Err: err}
		q.logger.Error("submission failed after retry", "step", step.String(),
			"discarded", failure.Discarded, "error", err)
		if q.onFailure != nil {
			q.onFailure(q.ctx, failure)
		}
	}
}

func (q *Queue) succeeded(idx int) {
	q.logger.Debug("submission succeeded", "step", StepAt(idx).String())
	if q.onSuccess != nil {
		q.onSuccess(idx)
	}
}

func (q *Queue) abandon(step StepID) {
	n := q.discard()
	q.logger.Warn("session expired during submission", "step", step.String(), "discarded", n)
	if q.onUnauthorized != nil {
		q.onUnauthorized()
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
