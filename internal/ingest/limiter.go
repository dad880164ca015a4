package ingest

// limiter.go bounds how many uploads are processed at once.
//
// A full parse-normalize-reconcile pass holds a shard transaction open, so
// unbounded parallelism would exhaust pool connections under a burst of
// uploads. The limiter is a buffered-channel semaphore: callers wait up to
// maxWait for a slot, then fail with ErrTooManyUploads. WaitForDrain lets
// shutdown hold off until in-flight uploads have committed or rolled back.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyUploads is returned when no upload slot frees up within the
// wait limit. The upload was not started; the client can retry.
var ErrTooManyUploads = errors.New("too many concurrent uploads")

const (
	defaultMaxConcurrent = 5
	defaultMaxWait       = 30 * time.Second
)

// Limiter caps concurrent upload processing.
type Limiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active int
}

// NewLimiter allows at most maxConcurrent uploads at once; callers unable
// to get a slot within maxWait are rejected. Non-positive arguments fall
// back to the defaults.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	return &Limiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire blocks until a slot is free, the wait limit passes, or ctx is
// cancelled. On nil return the caller must Release exactly once.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		// Distinguish caller cancellation from slot starvation.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyUploads
	}
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.slots
}

// Active returns the number of uploads currently holding a slot.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// WaitForDrain blocks until no uploads are in flight or ctx is cancelled.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
