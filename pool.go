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
)

// Observability constants for the Pool.
const (
	// Metrics.
	PoolRunsTotal  = metricz.Key("pool.runs.total")
	PoolWorkersMax = metricz.Key("pool.workers.max")
	PoolDurationMs = metricz.Key("pool.duration.ms")

	// Spans.
	PoolRunSpan = tracez.Key("pool.run")

	// Tags.
	PoolTagWorkerCount  = tracez.Tag("pool.worker_count")
	PoolTagFeederStatus = tracez.Tag("pool.feeder_status")
	PoolTagFailed       = tracez.Tag("pool.failed")

	// Hook event keys.
	PoolEventStarted  = hookz.Key("pool.started")
	PoolEventComplete = hookz.Key("pool.complete")
)

// PoolEvent represents a pool lifecycle event.
type PoolEvent struct {
	Name      Name          // Pool name
	Workers   int           // Number of workers
	Feeder    Status        // Feeder terminal status (for complete)
	Failed    int           // Workers that stopped with StatusFailed (for complete)
	Duration  time.Duration // Total run time (for complete)
	Timestamp time.Time     // When the event occurred
}

// Result collects the terminal status of every task in a pool run, so the
// caller can always tell how each one ended - nothing vanishes silently.
type Result struct {
	Feeder  Status   // Terminal status of the feeder
	Workers []Status // Terminal status per worker, by index
	Errs    []error  // Processing error per worker, nil when none
}

// Err returns the first worker processing error, or nil if every worker
// stopped cleanly.
func (r *Result) Err() error {
	for _, err := range r.Errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Failed reports whether any worker stopped with a processing error.
func (r *Result) Failed() bool {
	return r.Err() != nil
}

// Run is the handle for an in-flight pool run. Wait blocks until every task
// has stopped and returns the collected result.
type Run struct {
	result *Result
	done   chan struct{}
	mu     sync.Mutex
}

// Wait blocks until the feeder and all workers have stopped.
func (r *Run) Wait() *Result {
	<-r.done
	return r.result
}

// Done returns a channel closed when every task has stopped, for select
// style joining.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Pool wires one Feeder and N Workers around a shared Channel and Signal
// then runs them as goroutines. It replaces hand-started goroutines with a
// single composition point and removes the worker-count bookkeeping hazard:
// the number of workers started always equals the marker count the feeder
// was told to expect.
//
// The constituent parts remain accessible (Feeder, Workers, Channel,
// Signal) for configuration before the run starts:
//
//	pool := feedz.NewPool("resize", 16, 4, acceptJPEG, resize)
//	pool.Feeder().WithLimit(1000)
//	pool.Workers()[0].WithExit(func() { log.Println("first worker done") })
//
//	result := pool.Run(ctx, slices.Values(files))
//	if result.Failed() {
//	    return result.Err()
//	}
type Pool[T any] struct {
	channel *Channel[T]
	signal  *Signal
	feeder  *Feeder[T]
	workers []*Worker[T]
	name    Name
	clock   clockz.Clock
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[PoolEvent]
	mu      sync.RWMutex
}

// NewPool creates a Pool with a channel of the given capacity, one feeder
// using accept as its predicate, and workers consumer tasks applying
// process. Worker counts below 1 are clamped to 1; a zero-worker topology
// has no use for a pool, construct the pieces directly instead.
func NewPool[T any](name Name, capacity, workers int, accept func(context.Context, T) bool, process func(context.Context, T) error) *Pool[T] {
	if workers < 1 {
		workers = 1
	}

	channel := NewChannel[T](capacity)
	signal := NewSignal()
	feeder := NewFeeder(name+"-feeder", channel, accept, workers).WithSignal(signal)

	ws := make([]*Worker[T], workers)
	for i := range ws {
		ws[i] = NewWorker(fmt.Sprintf("%s-worker-%d", name, i), channel, process).WithSignal(signal)
	}

	metrics := metricz.New()
	metrics.Counter(PoolRunsTotal)
	metrics.Gauge(PoolWorkersMax)
	metrics.Gauge(PoolDurationMs)
	metrics.Gauge(PoolWorkersMax).Set(float64(workers))

	return &Pool[T]{
		channel: channel,
		signal:  signal,
		feeder:  feeder,
		workers: ws,
		name:    name,
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[PoolEvent](),
	}
}

// Start launches the feeder and all workers as goroutines and returns a
// handle to join them. Each run handle is independent; a Pool is intended
// for a single run, since the termination markers drain its workers.
func (p *Pool[T]) Start(ctx context.Context, source iter.Seq[T]) *Run {
	p.mu.RLock()
	feeder := p.feeder
	workers := p.workers
	clock := p.getClock()
	p.mu.RUnlock()

	p.metrics.Counter(PoolRunsTotal).Inc()
	start := clock.Now()

	ctx, span := p.tracer.StartSpan(ctx, PoolRunSpan)
	span.SetTag(PoolTagWorkerCount, fmt.Sprintf("%d", len(workers)))

	_ = p.hooks.Emit(ctx, PoolEventStarted, PoolEvent{ //nolint:errcheck
		Name:      p.name,
		Workers:   len(workers),
		Timestamp: clock.Now(),
	})

	run := &Run{
		result: &Result{
			Workers: make([]Status, len(workers)),
			Errs:    make([]error, len(workers)),
		},
		done: make(chan struct{}),
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		status := feeder.Run(ctx, source)
		run.mu.Lock()
		run.result.Feeder = status
		run.mu.Unlock()
	}()

	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *Worker[T]) {
			defer wg.Done()
			status, err := w.Run(ctx)
			run.mu.Lock()
			run.result.Workers[i] = status
			run.result.Errs[i] = err
			run.mu.Unlock()
		}(i, w)
	}

	go func() {
		wg.Wait()

		elapsed := clock.Now().Sub(start)
		p.metrics.Gauge(PoolDurationMs).Set(float64(elapsed.Milliseconds()))

		failed := 0
		for _, s := range run.result.Workers {
			if s == StatusFailed {
				failed++
			}
		}

		span.SetTag(PoolTagFeederStatus, string(run.result.Feeder))
		span.SetTag(PoolTagFailed, fmt.Sprintf("%d", failed))
		span.Finish()

		_ = p.hooks.Emit(ctx, PoolEventComplete, PoolEvent{ //nolint:errcheck
			Name:      p.name,
			Workers:   len(workers),
			Feeder:    run.result.Feeder,
			Failed:    failed,
			Duration:  elapsed,
			Timestamp: clock.Now(),
		})

		close(run.done)
	}()

	return run
}

// Run starts the pool and blocks until every task has stopped.
func (p *Pool[T]) Run(ctx context.Context, source iter.Seq[T]) *Result {
	return p.Start(ctx, source).Wait()
}

// Cancel raises the pool's shared cancellation signal. Idempotent.
func (p *Pool[T]) Cancel() {
	p.signal.Set()
}

// Name returns the name of this pool.
func (p *Pool[T]) Name() Name {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// Feeder returns the pool's feeder for pre-run configuration.
func (p *Pool[T]) Feeder() *Feeder[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.feeder
}

// Workers returns the pool's workers for pre-run configuration.
func (p *Pool[T]) Workers() []*Worker[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workers
}

// Channel returns the pool's shared channel.
func (p *Pool[T]) Channel() *Channel[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.channel
}

// Signal returns the pool's shared cancellation signal.
func (p *Pool[T]) Signal() *Signal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.signal
}

// WithClock sets a custom clock for testing. The clock is propagated to the
// channel, feeder, and workers.
func (p *Pool[T]) WithClock(clock clockz.Clock) *Pool[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
	p.channel.WithClock(clock)
	p.feeder.WithClock(clock)
	for _, w := range p.workers {
		w.WithClock(clock)
	}
	return p
}

// getClock returns the clock to use.
func (p *Pool[T]) getClock() clockz.Clock {
	if p.clock == nil {
		return clockz.RealClock
	}
	return p.clock
}

// Metrics returns the metrics registry for this pool.
func (p *Pool[T]) Metrics() *metricz.Registry {
	return p.metrics
}

// Tracer returns the tracer for this pool.
func (p *Pool[T]) Tracer() *tracez.Tracer {
	return p.tracer
}

// Close gracefully shuts down observability components, including those of
// the constituent feeder and workers.
func (p *Pool[T]) Close() error {
	if p.tracer != nil {
		p.tracer.Close()
	}
	p.hooks.Close()
	_ = p.feeder.Close() //nolint:errcheck
	for _, w := range p.workers {
		_ = w.Close() //nolint:errcheck
	}
	return nil
}

// OnStarted registers a handler for when the pool's run begins.
// The handler is called asynchronously.
func (p *Pool[T]) OnStarted(handler func(context.Context, PoolEvent) error) error {
	_, err := p.hooks.Hook(PoolEventStarted, handler)
	return err
}

// OnComplete registers a handler for when every task in the run has
// stopped. The event carries the feeder's terminal status and the count of
// failed workers.
func (p *Pool[T]) OnComplete(handler func(context.Context, PoolEvent) error) error {
	_, err := p.hooks.Hook(PoolEventComplete, handler)
	return err
}
