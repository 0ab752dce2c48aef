package feedz

import (
	"context"
	"sync/atomic"
)

// Signal is a monotonic cancellation flag shared between a Feeder, its
// Workers, and the owning application. Once set it stays set for the rest of
// the run; Set is idempotent. Any number of tasks may poll IsSet without
// locking.
//
// Cancellation through a Signal is cooperative: tasks observe it at the top
// of each loop iteration and after each blocking timeout, so responsiveness
// is bounded by the put/get timeout in use, not instantaneous. An in-flight
// processing call is never interrupted.
type Signal struct {
	set  atomic.Bool
	done chan struct{}
}

// NewSignal creates an unset Signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Set raises the signal. Safe to call from any goroutine, any number of
// times.
func (s *Signal) Set() {
	if s.set.CompareAndSwap(false, true) {
		close(s.done)
	}
}

// IsSet reports whether the signal has been raised.
func (s *Signal) IsSet() bool {
	return s.set.Load()
}

// Done returns a channel closed when the signal is raised, for callers that
// prefer select-based observation over polling.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// LinkContext returns a Signal that is raised when ctx is done. The watching
// goroutine exits once ctx is done or the signal is raised by other means,
// whichever happens first.
func LinkContext(ctx context.Context) *Signal {
	s := NewSignal()
	go func() {
		select {
		case <-ctx.Done():
			s.Set()
		case <-s.done:
		}
	}()
	return s
}
