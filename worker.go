package feedz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Worker.
const (
	// Metrics.
	WorkerProcessedTotal   = metricz.Key("worker.processed.total")
	WorkerGetTimeoutsTotal = metricz.Key("worker.get.timeouts.total")
	WorkerDurationMs       = metricz.Key("worker.duration.ms")

	// Spans.
	WorkerRunSpan     = tracez.Key("worker.run")
	WorkerProcessSpan = tracez.Key("worker.process")

	// Tags.
	WorkerTagStatus    = tracez.Tag("worker.status")
	WorkerTagProcessed = tracez.Tag("worker.processed")
	WorkerTagError     = tracez.Tag("worker.error")

	// Hook event keys.
	WorkerEventStarted       = hookz.Key("worker.started")
	WorkerEventItemProcessed = hookz.Key("worker.item_processed")
	WorkerEventStopped       = hookz.Key("worker.stopped")
)

// WorkerEvent represents a worker lifecycle event.
// This is emitted via hookz when the worker starts, finishes processing an
// item, or stops, so an external presentation layer can observe task
// lifecycle without the core printing anything.
type WorkerEvent struct {
	Name      Name          // Worker name
	Status    Status        // Terminal status (for stopped)
	Processed int           // Items processed so far
	Err       error         // Processing error (for failed stop)
	Duration  time.Duration // Total run time (for stopped)
	Timestamp time.Time     // When the event occurred
}

// Worker is a consumer task. Run drains the shared channel and applies the
// processing function to each item until it dequeues a termination marker,
// observes cancellation, or the processing function fails.
//
// The get timeout is the worker's idle heartbeat: an empty channel makes Get
// time out, the worker re-checks cancellation, then waits again. This is how
// cancellation becomes observable while idle; the timeout bounds the
// responsiveness, it is not instantaneous.
//
// Processing errors are never caught or retried. The first failure stops the
// worker immediately with StatusFailed and the wrapped error - a deliberate
// fail-fast policy, since swallowing per-item errors hides data loss. The
// surrounding supervisor decides whether to restart the worker or abort the
// topology.
//
// Example:
//
//	worker := feedz.NewWorker("resize", ch, resizeImage).
//	    WithExit(func() { log.Println("resize done") }).
//	    WithSignal(sig)
//
//	status, err := worker.Run(ctx)
//
// # Observability
//
// Metrics:
//   - worker.processed.total: Counter of items processed
//   - worker.get.timeouts.total: Counter of idle get timeouts
//   - worker.duration.ms: Gauge of total run duration
//
// Traces:
//   - worker.run: Span covering the whole run
//   - worker.process: Child span per item
//
// Events (via hooks):
//   - worker.started: Fired when Run begins
//   - worker.item_processed: Fired after each successful process call
//   - worker.stopped: Fired once with the terminal status
type Worker[T any] struct {
	channel    *Channel[T]
	process    func(context.Context, T) error
	onExit     func()
	signal     *Signal
	name       Name
	getTimeout time.Duration
	clock      clockz.Clock
	metrics    *metricz.Registry
	tracer     *tracez.Tracer
	hooks      *hookz.Hooks[WorkerEvent]
	mu         sync.RWMutex
}

// NewWorker creates a Worker bound to a channel and a processing function.
func NewWorker[T any](name Name, channel *Channel[T], process func(context.Context, T) error) *Worker[T] {
	metrics := metricz.New()
	metrics.Counter(WorkerProcessedTotal)
	metrics.Counter(WorkerGetTimeoutsTotal)
	metrics.Gauge(WorkerDurationMs)

	return &Worker[T]{
		channel:    channel,
		process:    process,
		name:       name,
		getTimeout: DefaultGetTimeout,
		clock:      clockz.RealClock,
		metrics:    metrics,
		tracer:     tracez.New(),
		hooks:      hookz.New[WorkerEvent](),
	}
}

// Run consumes the channel until a terminal condition and reports it:
//
//   - StatusGraceful: a termination marker was dequeued. The exit callback,
//     if any, has been invoked exactly once. The marker is not forwarded.
//   - StatusCanceled: the signal was set or ctx is done. The exit callback
//     is not invoked.
//   - StatusFailed: the processing function returned an error, available as
//     the second return value wrapped in *Error[T]. The worker does not
//     continue consuming after a failure.
//
// Items dequeued before cancellation was observed still complete
// processing; the protocol never abandons an item mid-flight.
func (w *Worker[T]) Run(ctx context.Context) (Status, error) {
	w.mu.RLock()
	channel := w.channel
	process := w.process
	onExit := w.onExit
	signal := w.signal
	getTimeout := w.getTimeout
	clock := w.getClock()
	w.mu.RUnlock()

	start := clock.Now()

	ctx, span := w.tracer.StartSpan(ctx, WorkerRunSpan)
	defer span.Finish()

	_ = w.hooks.Emit(ctx, WorkerEventStarted, WorkerEvent{ //nolint:errcheck
		Name:      w.name,
		Timestamp: clock.Now(),
	})

	var processed int
	var status Status
	var runErr error

loop:
	for {
		if canceled(ctx, signal) {
			status = StatusCanceled
			break
		}

		item, recv := channel.Get(getTimeout)
		switch recv {
		case RecvTimeout:
			w.metrics.Counter(WorkerGetTimeoutsTotal).Inc()
			continue

		case RecvStop:
			if onExit != nil {
				onExit()
			}
			status = StatusGraceful
			break loop

		case RecvItem:
			itemCtx, itemSpan := w.tracer.StartSpan(ctx, WorkerProcessSpan)
			itemStart := clock.Now()
			err := process(itemCtx, item)
			elapsed := clock.Now().Sub(itemStart)
			if err != nil {
				itemSpan.SetTag(WorkerTagError, err.Error())
				itemSpan.Finish()
				status = StatusFailed
				runErr = &Error[T]{
					Err:       err,
					InputData: item,
					Path:      []Name{w.name},
					Timestamp: clock.Now(),
					Duration:  elapsed,
					Timeout:   errors.Is(err, context.DeadlineExceeded),
					Canceled:  errors.Is(err, context.Canceled),
				}
				break loop
			}
			itemSpan.Finish()

			processed++
			w.metrics.Counter(WorkerProcessedTotal).Inc()

			_ = w.hooks.Emit(ctx, WorkerEventItemProcessed, WorkerEvent{ //nolint:errcheck
				Name:      w.name,
				Processed: processed,
				Duration:  elapsed,
				Timestamp: clock.Now(),
			})
		}
	}

	elapsed := clock.Now().Sub(start)
	w.metrics.Gauge(WorkerDurationMs).Set(float64(elapsed.Milliseconds()))

	span.SetTag(WorkerTagStatus, string(status))
	span.SetTag(WorkerTagProcessed, fmt.Sprintf("%d", processed))
	if runErr != nil {
		span.SetTag(WorkerTagError, runErr.Error())
	}

	_ = w.hooks.Emit(ctx, WorkerEventStopped, WorkerEvent{ //nolint:errcheck
		Name:      w.name,
		Status:    status,
		Processed: processed,
		Err:       runErr,
		Duration:  elapsed,
		Timestamp: clock.Now(),
	})

	return status, runErr
}

// Name returns the name of this worker.
func (w *Worker[T]) Name() Name {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.name
}

// WithExit sets a callback invoked exactly once when the worker stops
// because of a termination marker. It is not invoked on cancellation or on a
// processing failure.
func (w *Worker[T]) WithExit(fn func()) *Worker[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onExit = fn
	return w
}

// WithSignal attaches a shared cancellation signal, polled at the top of
// every loop iteration.
func (w *Worker[T]) WithSignal(s *Signal) *Worker[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signal = s
	return w
}

// WithGetTimeout sets how long each get blocks before the worker re-checks
// cancellation. This bounds the worker's cancellation latency while idle.
func (w *Worker[T]) WithGetTimeout(d time.Duration) *Worker[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.getTimeout = d
	return w
}

// WithClock sets a custom clock for testing.
func (w *Worker[T]) WithClock(clock clockz.Clock) *Worker[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clock = clock
	return w
}

// getClock returns the clock to use.
func (w *Worker[T]) getClock() clockz.Clock {
	if w.clock == nil {
		return clockz.RealClock
	}
	return w.clock
}

// Metrics returns the metrics registry for this worker.
func (w *Worker[T]) Metrics() *metricz.Registry {
	return w.metrics
}

// Tracer returns the tracer for this worker.
func (w *Worker[T]) Tracer() *tracez.Tracer {
	return w.tracer
}

// Close gracefully shuts down observability components.
func (w *Worker[T]) Close() error {
	if w.tracer != nil {
		w.tracer.Close()
	}
	w.hooks.Close()
	return nil
}

// OnStarted registers a handler for when the worker's run begins.
// The handler is called asynchronously.
func (w *Worker[T]) OnStarted(handler func(context.Context, WorkerEvent) error) error {
	_, err := w.hooks.Hook(WorkerEventStarted, handler)
	return err
}

// OnItemProcessed registers a handler called after each successful process
// call. The handler is called asynchronously with the running count.
func (w *Worker[T]) OnItemProcessed(handler func(context.Context, WorkerEvent) error) error {
	_, err := w.hooks.Hook(WorkerEventItemProcessed, handler)
	return err
}

// OnStopped registers a handler for the worker's terminal event. The event
// carries the terminal status and, for failures, the processing error.
func (w *Worker[T]) OnStopped(handler func(context.Context, WorkerEvent) error) error {
	_, err := w.hooks.Hook(WorkerEventStopped, handler)
	return err
}
