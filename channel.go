package feedz

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/metricz"
)

// Metric keys for Channel observability.
const (
	ChannelPutsTotal        = metricz.Key("channel.puts.total")
	ChannelGetsTotal        = metricz.Key("channel.gets.total")
	ChannelPutTimeoutsTotal = metricz.Key("channel.put.timeouts.total")
	ChannelGetTimeoutsTotal = metricz.Key("channel.get.timeouts.total")
	ChannelDepth            = metricz.Key("channel.depth")
)

// Recv is the outcome of a Channel.Get call.
type Recv int

const (
	// RecvItem means a payload item was dequeued.
	RecvItem Recv = iota
	// RecvTimeout means nothing arrived within the timeout. The caller is
	// expected to re-check its cancellation signal and retry.
	RecvTimeout
	// RecvStop means a termination marker was dequeued. The receiving
	// worker must stop and must not forward the marker.
	RecvStop
)

// envelope wraps payload items so termination markers stay structurally
// distinct from every valid value of T, including the zero value.
type envelope[T any] struct {
	value T
	stop  bool
}

// Channel is a fixed-capacity FIFO shared by one Feeder and any number of
// Workers. Put and Get block for at most the supplied timeout and report
// failure-to-enqueue or failure-to-dequeue rather than erroring, so callers
// can interleave retries with cancellation checks. No item is ever lost or
// duplicated; items are dequeued in the order they were enqueued.
//
// The capacity bound is fixed at construction. With a single producer
// (this package's topology) the channel is globally FIFO.
type Channel[T any] struct {
	ch      chan envelope[T]
	clock   clockz.Clock
	metrics *metricz.Registry
	mu      sync.RWMutex
}

// NewChannel creates a Channel with the given capacity. Capacities below 1
// are clamped to 1: an unbuffered channel would make every Put rendezvous
// with a Get, which is a different contract than a bounded queue.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}

	metrics := metricz.New()
	metrics.Counter(ChannelPutsTotal)
	metrics.Counter(ChannelGetsTotal)
	metrics.Counter(ChannelPutTimeoutsTotal)
	metrics.Counter(ChannelGetTimeoutsTotal)
	metrics.Gauge(ChannelDepth)

	return &Channel[T]{
		ch:      make(chan envelope[T], capacity),
		clock:   clockz.RealClock,
		metrics: metrics,
	}
}

// Put enqueues an item, blocking up to timeout for free capacity. It returns
// false on timeout, allowing the caller to retry. A timeout <= 0 blocks
// until capacity is available.
func (c *Channel[T]) Put(item T, timeout time.Duration) bool {
	return c.put(envelope[T]{value: item}, timeout)
}

// PutStop enqueues a termination marker, blocking up to timeout for free
// capacity. A worker that dequeues the marker stops without further
// processing. A timeout <= 0 blocks until capacity is available.
func (c *Channel[T]) PutStop(timeout time.Duration) bool {
	return c.put(envelope[T]{stop: true}, timeout)
}

func (c *Channel[T]) put(env envelope[T], timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout > 0 {
		expired = c.getClock().After(timeout)
	}

	select {
	case c.ch <- env:
		c.metrics.Counter(ChannelPutsTotal).Inc()
		c.metrics.Gauge(ChannelDepth).Set(float64(len(c.ch)))
		return true
	case <-expired:
		c.metrics.Counter(ChannelPutTimeoutsTotal).Inc()
		return false
	}
}

// Get dequeues the next entry, blocking up to timeout for one to arrive.
// The returned Recv distinguishes a payload item, a timeout (zero value
// returned), and a termination marker (zero value returned). A timeout <= 0
// blocks until an entry is available.
func (c *Channel[T]) Get(timeout time.Duration) (T, Recv) {
	var expired <-chan time.Time
	if timeout > 0 {
		expired = c.getClock().After(timeout)
	}

	var zero T
	select {
	case env := <-c.ch:
		c.metrics.Counter(ChannelGetsTotal).Inc()
		c.metrics.Gauge(ChannelDepth).Set(float64(len(c.ch)))
		if env.stop {
			return zero, RecvStop
		}
		return env.value, RecvItem
	case <-expired:
		c.metrics.Counter(ChannelGetTimeoutsTotal).Inc()
		return zero, RecvTimeout
	}
}

// Len returns the number of entries currently buffered, markers included.
func (c *Channel[T]) Len() int {
	return len(c.ch)
}

// Cap returns the channel's fixed capacity.
func (c *Channel[T]) Cap() int {
	return cap(c.ch)
}

// WithClock sets a custom clock for timeout waits, for testing.
func (c *Channel[T]) WithClock(clock clockz.Clock) *Channel[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
	return c
}

// getClock returns the clock to use.
func (c *Channel[T]) getClock() clockz.Clock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.clock == nil {
		return clockz.RealClock
	}
	return c.clock
}

// Metrics returns the metrics registry for this channel.
func (c *Channel[T]) Metrics() *metricz.Registry {
	return c.metrics
}
