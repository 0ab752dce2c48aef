package feedz

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
	"golang.org/x/time/rate"
)

// Observability constants for the Feeder.
const (
	// Metrics.
	FeederAcceptedTotal   = metricz.Key("feeder.accepted.total")
	FeederRejectedTotal   = metricz.Key("feeder.rejected.total")
	FeederPutRetriesTotal = metricz.Key("feeder.put.retries.total")
	FeederMarkersTotal    = metricz.Key("feeder.markers.total")
	FeederDurationMs      = metricz.Key("feeder.duration.ms")

	// Spans.
	FeederRunSpan = tracez.Key("feeder.run")

	// Tags.
	FeederTagStatus   = tracez.Tag("feeder.status")
	FeederTagAccepted = tracez.Tag("feeder.accepted")
	FeederTagRejected = tracez.Tag("feeder.rejected")
	FeederTagMarkers  = tracez.Tag("feeder.markers")

	// Hook event keys.
	FeederEventStarted    = hookz.Key("feeder.started")
	FeederEventItemQueued = hookz.Key("feeder.item_queued")
	FeederEventStopped    = hookz.Key("feeder.stopped")
)

// FeederEvent represents a feeder lifecycle event.
// This is emitted via hookz when the feeder starts, queues an item, or
// stops, replacing any in-core console output with structured notifications
// an external presentation layer can render.
type FeederEvent struct {
	Name      Name          // Feeder name
	Status    Status        // Terminal status (for stopped)
	Accepted  int           // Items enqueued so far
	Rejected  int           // Items rejected by the predicate so far
	Markers   int           // Termination markers enqueued (for stopped)
	Workers   int           // Worker count the feeder was configured with
	Duration  time.Duration // Total run time (for stopped)
	Timestamp time.Time     // When the event occurred
}

// Feeder is the single producer task of a topology. Run drains a source
// sequence, enqueues the items its predicate accepts, and on normal exit
// enqueues exactly one termination marker per configured worker so every
// worker shuts down gracefully.
//
// The put timeout is the feeder's only blocking bound: a full channel makes
// Put time out, the feeder re-checks cancellation, then retries the same
// item indefinitely. This retry-forever policy is correct only because the
// channel capacity and the downstream drain rate are assumed to prevent an
// infinite stall; a topology whose workers have all died (and whose owner
// never cancels) would otherwise wedge the feeder.
//
// Example:
//
//	feeder := feedz.NewFeeder("scan", ch,
//	    func(_ context.Context, f File) bool { return f.Size > 0 },
//	    4,
//	).WithLimit(1000).WithSignal(sig)
//
//	status := feeder.Run(ctx, files)
//
// # Observability
//
// Metrics:
//   - feeder.accepted.total: Counter of items enqueued
//   - feeder.rejected.total: Counter of items the predicate rejected
//   - feeder.put.retries.total: Counter of put timeouts that were retried
//   - feeder.markers.total: Counter of termination markers enqueued
//   - feeder.duration.ms: Gauge of total run duration
//
// Traces:
//   - feeder.run: Span covering the whole run, tagged with status and counts
//
// Events (via hooks):
//   - feeder.started: Fired when Run begins
//   - feeder.item_queued: Fired after each successful item put
//   - feeder.stopped: Fired once with the terminal status
type Feeder[T any] struct {
	channel       *Channel[T]
	accept        func(context.Context, T) bool
	signal        *Signal
	limiter       *rate.Limiter
	name          Name
	workers       int
	limit         int
	putTimeout    time.Duration
	rejectedCheck bool
	clock         clockz.Clock
	metrics       *metricz.Registry
	tracer        *tracez.Tracer
	hooks         *hookz.Hooks[FeederEvent]
	mu            sync.RWMutex
}

// NewFeeder creates a Feeder bound to a channel and a predicate. The workers
// count must match the number of Worker tasks the application actually
// starts against the same channel: it determines how many termination
// markers are enqueued on normal exit. A mismatch leaks workers (too few
// markers) or leaves markers unconsumed (too many) - this is a caller
// contract, not detected at runtime. Zero workers means no markers are ever
// enqueued and the workers must be stopped through the Signal.
func NewFeeder[T any](name Name, channel *Channel[T], accept func(context.Context, T) bool, workers int) *Feeder[T] {
	if workers < 0 {
		workers = 0
	}

	metrics := metricz.New()
	metrics.Counter(FeederAcceptedTotal)
	metrics.Counter(FeederRejectedTotal)
	metrics.Counter(FeederPutRetriesTotal)
	metrics.Counter(FeederMarkersTotal)
	metrics.Gauge(FeederDurationMs)

	return &Feeder[T]{
		channel:    channel,
		accept:     accept,
		name:       name,
		workers:    workers,
		putTimeout: DefaultPutTimeout,
		clock:      clockz.RealClock,
		metrics:    metrics,
		tracer:     tracez.New(),
		hooks:      hookz.New[FeederEvent](),
	}
}

// Run drains source until exhaustion, cancellation, or the accepted-item
// limit, then (unless cancelled) enqueues the termination markers. It
// returns the terminal status: StatusCompleted, StatusCompletedAtLimit, or
// StatusCanceled.
//
// An empty source is an immediate clean completion: zero items are
// enqueued, but the markers still are, so workers shut down normally.
//
// The source is consumed as a forward-only, single-pass cursor. Cancellation
// is observed once per accepted element (before the put and again after
// every put timeout). Rejected elements skip the check unless
// WithRejectedCheck(true) was set, trading cancellation responsiveness on
// reject-heavy streams for less polling overhead.
func (f *Feeder[T]) Run(ctx context.Context, source iter.Seq[T]) Status {
	f.mu.RLock()
	channel := f.channel
	accept := f.accept
	signal := f.signal
	limiter := f.limiter
	workers := f.workers
	limit := f.limit
	putTimeout := f.putTimeout
	rejectedCheck := f.rejectedCheck
	clock := f.getClock()
	f.mu.RUnlock()

	start := clock.Now()

	ctx, span := f.tracer.StartSpan(ctx, FeederRunSpan)
	defer span.Finish()

	_ = f.hooks.Emit(ctx, FeederEventStarted, FeederEvent{ //nolint:errcheck
		Name:      f.name,
		Workers:   workers,
		Timestamp: clock.Now(),
	})

	next, stop := iter.Pull(source)
	defer stop()

	var accepted, rejected, markers int
	status := StatusCompleted

feed:
	for {
		item, ok := next()
		if !ok {
			break
		}

		if !accept(ctx, item) {
			rejected++
			f.metrics.Counter(FeederRejectedTotal).Inc()
			if rejectedCheck && canceled(ctx, signal) {
				status = StatusCanceled
				break
			}
			continue
		}

		if canceled(ctx, signal) {
			status = StatusCanceled
			break
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				// Only fails when ctx is done mid-wait.
				status = StatusCanceled
				break
			}
		}

		for !channel.Put(item, putTimeout) {
			f.metrics.Counter(FeederPutRetriesTotal).Inc()
			if canceled(ctx, signal) {
				status = StatusCanceled
				break feed
			}
		}

		accepted++
		f.metrics.Counter(FeederAcceptedTotal).Inc()

		_ = f.hooks.Emit(ctx, FeederEventItemQueued, FeederEvent{ //nolint:errcheck
			Name:      f.name,
			Accepted:  accepted,
			Rejected:  rejected,
			Workers:   workers,
			Timestamp: clock.Now(),
		})

		if limit > 0 && accepted >= limit {
			status = StatusCompletedAtLimit
			break
		}
	}

	// A cancelled feeder enqueues no markers: the workers are expected to
	// observe the same signal. Marker puts retry like item puts, but bail
	// out if cancellation arrives mid-shutdown so a dead consumer side
	// cannot wedge the feeder.
	if status != StatusCanceled {
		for i := 0; i < workers; i++ {
			for !channel.PutStop(putTimeout) {
				if canceled(ctx, signal) {
					status = StatusCanceled
					break
				}
			}
			if status == StatusCanceled {
				break
			}
			markers++
			f.metrics.Counter(FeederMarkersTotal).Inc()
		}
	}

	elapsed := clock.Now().Sub(start)
	f.metrics.Gauge(FeederDurationMs).Set(float64(elapsed.Milliseconds()))

	span.SetTag(FeederTagStatus, string(status))
	span.SetTag(FeederTagAccepted, fmt.Sprintf("%d", accepted))
	span.SetTag(FeederTagRejected, fmt.Sprintf("%d", rejected))
	span.SetTag(FeederTagMarkers, fmt.Sprintf("%d", markers))

	_ = f.hooks.Emit(ctx, FeederEventStopped, FeederEvent{ //nolint:errcheck
		Name:      f.name,
		Status:    status,
		Accepted:  accepted,
		Rejected:  rejected,
		Markers:   markers,
		Workers:   workers,
		Duration:  elapsed,
		Timestamp: clock.Now(),
	})

	return status
}

// Name returns the name of this feeder.
func (f *Feeder[T]) Name() Name {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

// WithLimit caps the number of accepted items. Once the cap is reached the
// source loop stops and markers are still enqueued; the run reports
// StatusCompletedAtLimit. A limit <= 0 means no cap.
func (f *Feeder[T]) WithLimit(n int) *Feeder[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = n
	return f
}

// WithSignal attaches a shared cancellation signal. The feeder polls it
// once per accepted element and after every put timeout.
func (f *Feeder[T]) WithSignal(s *Signal) *Feeder[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signal = s
	return f
}

// WithPutTimeout sets how long each put blocks before the feeder re-checks
// cancellation and retries. This bounds the feeder's cancellation latency
// while blocked on a full channel.
func (f *Feeder[T]) WithPutTimeout(d time.Duration) *Feeder[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putTimeout = d
	return f
}

// WithRejectedCheck controls whether rejected elements also trigger a
// cancellation check. Off by default.
func (f *Feeder[T]) WithRejectedCheck(enabled bool) *Feeder[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectedCheck = enabled
	return f
}

// WithRateLimit throttles accepted items to perSecond with the given burst,
// waiting (not dropping) before each put. Useful when the processing
// function hits rate-sensitive downstream services and channel capacity
// alone is too coarse a backpressure mechanism.
func (f *Feeder[T]) WithRateLimit(perSecond float64, burst int) *Feeder[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return f
}

// GetLimit returns the current accepted-item limit.
func (f *Feeder[T]) GetLimit() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.limit
}

// GetWorkers returns the worker count this feeder was constructed with.
func (f *Feeder[T]) GetWorkers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.workers
}

// WithClock sets a custom clock for testing.
func (f *Feeder[T]) WithClock(clock clockz.Clock) *Feeder[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = clock
	return f
}

// getClock returns the clock to use.
func (f *Feeder[T]) getClock() clockz.Clock {
	if f.clock == nil {
		return clockz.RealClock
	}
	return f.clock
}

// Metrics returns the metrics registry for this feeder.
func (f *Feeder[T]) Metrics() *metricz.Registry {
	return f.metrics
}

// Tracer returns the tracer for this feeder.
func (f *Feeder[T]) Tracer() *tracez.Tracer {
	return f.tracer
}

// Close gracefully shuts down observability components.
func (f *Feeder[T]) Close() error {
	if f.tracer != nil {
		f.tracer.Close()
	}
	f.hooks.Close()
	return nil
}

// OnStarted registers a handler for when the feeder's run begins.
// The handler is called asynchronously.
func (f *Feeder[T]) OnStarted(handler func(context.Context, FeederEvent) error) error {
	_, err := f.hooks.Hook(FeederEventStarted, handler)
	return err
}

// OnItemQueued registers a handler called after each successful put.
// The handler is called asynchronously with running counts.
func (f *Feeder[T]) OnItemQueued(handler func(context.Context, FeederEvent) error) error {
	_, err := f.hooks.Hook(FeederEventItemQueued, handler)
	return err
}

// OnStopped registers a handler for the feeder's terminal event. The event
// carries the terminal status and final counts.
func (f *Feeder[T]) OnStopped(handler func(context.Context, FeederEvent) error) error {
	_, err := f.hooks.Hook(FeederEventStopped, handler)
	return err
}

// canceled reports whether the shared signal is set or ctx is done. Both
// routes are equivalent terminal cancellation for feeders and workers.
func canceled(ctx context.Context, signal *Signal) bool {
	if signal != nil && signal.IsSet() {
		return true
	}
	return ctx.Err() != nil
}
