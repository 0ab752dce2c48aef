// Package testing provides test utilities for feedz-based applications.
//
// This package includes recording processing functions, configurable
// sources, and flaky processors to make testing feeder/worker topologies
// easier.
//
// Example usage:
//
//	func TestMyTopology(t *testing.T) {
//		sink := testing.NewSink[int]()
//
//		pool := feedz.NewPool("test", 4, 2, acceptAll, sink.Process)
//		result := pool.Run(context.Background(), testing.Source(1, 2, 3))
//
//		if got := sink.Len(); got != 3 {
//			t.Errorf("expected 3 items, got %d", got)
//		}
//	}
package testing

import (
	"context"
	"fmt"
	"iter"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Sink is a concurrency-safe collector usable as a worker processing
// function. It records every item in arrival order along with a running
// count, so tests can assert both the set and the order of processed items.
type Sink[T any] struct {
	mu    sync.Mutex
	items []T
	calls int64
	delay time.Duration
}

// NewSink creates an empty Sink.
func NewSink[T any]() *Sink[T] {
	return &Sink[T]{}
}

// Process records the item. Pass this method as the worker's processing
// function.
func (s *Sink[T]) Process(ctx context.Context, item T) error {
	atomic.AddInt64(&s.calls, 1)

	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	return nil
}

// Items returns a copy of the collected items in arrival order.
func (s *Sink[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of collected items.
func (s *Sink[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Calls returns the number of Process invocations, including ones that
// returned early due to context cancellation.
func (s *Sink[T]) Calls() int64 {
	return atomic.LoadInt64(&s.calls)
}

// WithDelay makes every Process call sleep for d before recording,
// simulating slow processing. The sleep respects context cancellation.
func (s *Sink[T]) WithDelay(d time.Duration) *Sink[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	return s
}

// Reset discards collected items and counters.
func (s *Sink[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	atomic.StoreInt64(&s.calls, 0)
}

// Source returns a single-use source sequence over the given items.
func Source[T any](items ...T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, item := range items {
			if !yield(item) {
				return
			}
		}
	}
}

// ChaosSource returns a source over items that sleeps a random duration up
// to maxDelay before yielding each one, for exercising feeder/worker timing
// edges (idle get timeouts, slow producers).
func ChaosSource[T any](maxDelay time.Duration, items ...T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, item := range items {
			if maxDelay > 0 {
				time.Sleep(time.Duration(mathrand.Int63n(int64(maxDelay)))) //nolint:gosec // test jitter, not crypto
			}
			if !yield(item) {
				return
			}
		}
	}
}

// FlakyProcessor returns a processing function that fails the first n calls
// with a distinct error, then succeeds forever, recording successes into
// sink when one is provided. Useful for exercising the fail-fast worker
// path and supervisor restart logic.
func FlakyProcessor[T any](n int, sink *Sink[T]) func(context.Context, T) error {
	var calls int64
	return func(ctx context.Context, item T) error {
		call := atomic.AddInt64(&calls, 1)
		if call <= int64(n) {
			return fmt.Errorf("flaky failure %d of %d", call, n)
		}
		if sink != nil {
			return sink.Process(ctx, item)
		}
		return nil
	}
}
