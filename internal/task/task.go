// Package task implements the single per-key deduplication primitive the
// whole engine is built on: a memoized asynchronous computation that runs at
// most once per instance. The source pattern this generalizes is a
// decorator turning a method into a cached, future-returning accessor;
// since Go has no such decorator, a Handle is instead embedded as a field on
// whatever type owns the memoized method, and the method body calls
// Handle.Get with the computation to run the first time.
package task

import (
	"context"
	"sync"
)

// Handle memoizes a single asynchronous computation. The zero value is
// ready to use. A Handle must not be copied after first use.
//
// Cancellation policy: once the first caller starts the computation, it
// runs to completion (or failure) using that first caller's context. If
// that context is canceled, the computation observes the cancellation, and
// the resulting error is cached permanently — a later caller does not get a
// fresh attempt. This is the "once canceled, always canceled" policy; it is
// adequate here because the only context that ever cancels is the engine's
// root context, canceled on process shutdown, at which point restarting
// work is moot.
type Handle[T any] struct {
	mu      sync.Mutex
	started bool
	done    chan struct{}
	value   T
	err     error
}

// Get runs compute exactly once across the lifetime of h and returns its
// result to every caller. Concurrent callers before completion block on the
// same in-flight computation and observe the same value or error. ctx only
// governs how long THIS call is willing to wait; it does not cancel the
// underlying computation unless this happens to be the call that started
// it.
func (h *Handle[T]) Get(ctx context.Context, compute func(context.Context) (T, error)) (T, error) {
	h.mu.Lock()
	if !h.started {
		h.started = true
		h.done = make(chan struct{})
		go func() {
			h.value, h.err = compute(ctx)
			close(h.done)
		}()
	}
	done := h.done
	h.mu.Unlock()

	select {
	case <-done:
		return h.value, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the computation has completed (successfully or not)
// without blocking. It returns false both before the computation starts and
// while it is in flight.
func (h *Handle[T]) Done() bool {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// Peek returns the cached result without starting or waiting for the
// computation. ok is false if the computation has not completed yet.
func (h *Handle[T]) Peek() (value T, err error, ok bool) {
	if !h.Done() {
		return value, err, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.err, true
}
