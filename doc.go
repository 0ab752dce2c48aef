// Package feedz provides a small, type-safe producer-consumer toolkit for Go.
//
// # Overview
//
// feedz coordinates one feeding task and any number of worker tasks around a
// shared bounded channel. The Feeder drains a source sequence, filters it
// through a predicate, and puts accepted items into the channel; Workers pull
// items out and apply a processing function. Shutdown propagates through the
// channel itself: when the source is exhausted, the Feeder enqueues exactly
// one termination marker per worker, and each worker stops after dequeuing
// its marker. A shared cancellation Signal lets the embedding application
// abort the whole topology cooperatively at any time.
//
// # Core Concepts
//
// The package is built around four pieces:
//
//   - Channel[T]: a fixed-capacity FIFO with timeout-bounded Put/Get
//   - Feeder[T]: the single producer task, with filtering, limiting, and
//     termination marker bookkeeping
//   - Worker[T]: a consumer task that stops on a marker or on cancellation
//   - Signal: a monotonic, idempotent cancellation flag polled by all tasks
//
// Pool[T] composes all of the above, starting the goroutines and collecting
// every task's terminal status so nothing vanishes silently.
//
// # Termination Protocol
//
// Getting shutdown right is the whole point of this package. The rules:
//
//   - The Feeder enqueues exactly as many termination markers as the worker
//     count it was constructed with. Zero workers means zero markers; such
//     workers must be stopped through the Signal.
//   - A worker that dequeues a marker invokes its exit callback (if any)
//     exactly once, then stops. Markers are never forwarded.
//   - Cancellation is cooperative. Put and Get block for at most their
//     configured timeout (default 10s), after which the loop re-checks the
//     Signal; the timeout therefore bounds cancellation latency. An in-flight
//     processing call is not interruptible by this protocol.
//   - A cancelled Feeder enqueues no markers. Cancellation is a terminal
//     status, not an error.
//
// # Usage Example
//
//	ch := feedz.NewChannel[int](8)
//	sig := feedz.NewSignal()
//
//	feeder := feedz.NewFeeder("evens", ch,
//	    func(_ context.Context, n int) bool { return n%2 == 0 },
//	    2, // worker count
//	).WithSignal(sig)
//
//	process := func(_ context.Context, n int) error {
//	    fmt.Println("got", n)
//	    return nil
//	}
//
//	w1 := feedz.NewWorker("w1", ch, process).WithSignal(sig)
//	w2 := feedz.NewWorker("w2", ch, process).WithSignal(sig)
//
//	go feeder.Run(ctx, slices.Values([]int{1, 2, 3, 4, 5}))
//	go w1.Run(ctx)
//	w2.Run(ctx)
//
// Or let Pool do the wiring:
//
//	pool := feedz.NewPool("evens", 8, 2,
//	    func(_ context.Context, n int) bool { return n%2 == 0 },
//	    process,
//	)
//	result := pool.Run(ctx, slices.Values(nums))
//
// # Observability
//
// Every component carries its own metrics registry (metricz), tracer
// (tracez), and lifecycle event hooks (hookz). Lifecycle events replace any
// in-core printing or logging: the core emits structured events (role,
// outcome, counts) and the embedding application decides how to render them.
// Timeout waits go through an injectable clock (clockz) so tests can drive
// time deterministically.
package feedz
