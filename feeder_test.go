package feedz

import (
	"context"
	"slices"
	"testing"
	"time"
)

func acceptAll(_ context.Context, _ int) bool { return true }
func acceptEven(_ context.Context, n int) bool { return n%2 == 0 }

// drain empties the channel, returning payload items and marker count.
func drain(t *testing.T, ch *Channel[int]) ([]int, int) {
	t.Helper()
	var items []int
	markers := 0
	for {
		item, recv := ch.Get(20 * time.Millisecond)
		switch recv {
		case RecvItem:
			items = append(items, item)
		case RecvStop:
			markers++
		case RecvTimeout:
			return items, markers
		}
	}
}

func TestFeeder_FiltersAndMarksCompletion(t *testing.T) {
	ch := NewChannel[int](10)
	feeder := NewFeeder("test-feeder", ch, acceptEven, 1)

	status := feeder.Run(context.Background(), slices.Values([]int{1, 2, 3, 4, 5}))

	if status != StatusCompleted {
		t.Fatalf("expected %s, got %s", StatusCompleted, status)
	}

	items, markers := drain(t, ch)
	if !slices.Equal(items, []int{2, 4}) {
		t.Errorf("expected [2 4] in source order, got %v", items)
	}
	if markers != 1 {
		t.Errorf("expected exactly 1 marker, got %d", markers)
	}
}

func TestFeeder_EmptySourceCompletesCleanly(t *testing.T) {
	ch := NewChannel[int](4)
	feeder := NewFeeder("test-feeder", ch, acceptAll, 2)

	status := feeder.Run(context.Background(), slices.Values([]int{}))

	if status != StatusCompleted {
		t.Fatalf("expected clean completion on empty source, got %s", status)
	}

	items, markers := drain(t, ch)
	if len(items) != 0 {
		t.Errorf("expected no items, got %v", items)
	}
	if markers != 2 {
		t.Errorf("expected 2 markers so workers still shut down, got %d", markers)
	}
}

func TestFeeder_Limit(t *testing.T) {
	ch := NewChannel[int](10)
	feeder := NewFeeder("test-feeder", ch, acceptAll, 2).WithLimit(3)

	source := slices.Values([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	status := feeder.Run(context.Background(), source)

	if status != StatusCompletedAtLimit {
		t.Fatalf("expected %s, got %s", StatusCompletedAtLimit, status)
	}

	items, markers := drain(t, ch)
	if !slices.Equal(items, []int{1, 2, 3}) {
		t.Errorf("expected first 3 items, got %v", items)
	}
	if markers != 2 {
		t.Errorf("expected 2 markers after limit, got %d", markers)
	}
}

func TestFeeder_LimitBeyondSource(t *testing.T) {
	ch := NewChannel[int](10)
	feeder := NewFeeder("test-feeder", ch, acceptEven, 1).WithLimit(100)

	status := feeder.Run(context.Background(), slices.Values([]int{1, 2, 3}))

	if status != StatusCompleted {
		t.Fatalf("expected normal completion when source ends below limit, got %s", status)
	}

	items, _ := drain(t, ch)
	if !slices.Equal(items, []int{2}) {
		t.Errorf("expected [2], got %v", items)
	}
}

func TestFeeder_CanceledBeforeStart(t *testing.T) {
	ch := NewChannel[int](10)
	sig := NewSignal()
	sig.Set()

	feeder := NewFeeder("test-feeder", ch, acceptAll, 2).WithSignal(sig)
	status := feeder.Run(context.Background(), slices.Values([]int{1, 2, 3}))

	if status != StatusCanceled {
		t.Fatalf("expected %s, got %s", StatusCanceled, status)
	}

	items, markers := drain(t, ch)
	if len(items) != 0 {
		t.Errorf("canceled feeder must not enqueue items, got %v", items)
	}
	if markers != 0 {
		t.Errorf("canceled feeder must not enqueue markers, got %d", markers)
	}
}

func TestFeeder_ContextCancelEquivalentToSignal(t *testing.T) {
	ch := NewChannel[int](10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	feeder := NewFeeder("test-feeder", ch, acceptAll, 1)
	status := feeder.Run(ctx, slices.Values([]int{1, 2, 3}))

	if status != StatusCanceled {
		t.Fatalf("expected %s on done context, got %s", StatusCanceled, status)
	}
	if ch.Len() != 0 {
		t.Errorf("expected empty channel, len %d", ch.Len())
	}
}

func TestFeeder_ZeroWorkersNoMarkers(t *testing.T) {
	ch := NewChannel[int](10)
	feeder := NewFeeder("test-feeder", ch, acceptAll, 0)

	status := feeder.Run(context.Background(), slices.Values([]int{1, 2}))

	if status != StatusCompleted {
		t.Fatalf("expected %s, got %s", StatusCompleted, status)
	}

	items, markers := drain(t, ch)
	if !slices.Equal(items, []int{1, 2}) {
		t.Errorf("expected [1 2], got %v", items)
	}
	if markers != 0 {
		t.Errorf("zero workers means zero markers, got %d", markers)
	}
}

func TestFeeder_PutRetryUntilCanceled(t *testing.T) {
	// Channel of capacity 1 with no consumer: the feeder must retry the
	// same element on every put timeout and observe cancellation between
	// retries rather than wedging.
	ch := NewChannel[int](1)
	sig := NewSignal()
	feeder := NewFeeder("test-feeder", ch, acceptAll, 1).
		WithSignal(sig).
		WithPutTimeout(10 * time.Millisecond)

	done := make(chan Status)
	go func() {
		done <- feeder.Run(context.Background(), slices.Values([]int{1, 2, 3}))
	}()

	// Let it fill the channel and start retrying the second element.
	time.Sleep(50 * time.Millisecond)
	sig.Set()

	select {
	case status := <-done:
		if status != StatusCanceled {
			t.Errorf("expected %s, got %s", StatusCanceled, status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feeder still blocked after cancellation")
	}

	// Only the first element fit; no duplicates from the retries.
	items, markers := drain(t, ch)
	if !slices.Equal(items, []int{1}) {
		t.Errorf("expected [1], got %v", items)
	}
	if markers != 0 {
		t.Errorf("expected no markers after cancellation, got %d", markers)
	}
}

func TestFeeder_RejectedCheck(t *testing.T) {
	t.Run("Default Skips Check On Rejected", func(t *testing.T) {
		ch := NewChannel[int](10)
		sig := NewSignal()
		sig.Set()

		// Everything is rejected, so with the default policy the feeder
		// never polls the signal and runs the source to exhaustion.
		reject := func(_ context.Context, _ int) bool { return false }
		feeder := NewFeeder("test-feeder", ch, reject, 1).WithSignal(sig)

		status := feeder.Run(context.Background(), slices.Values([]int{1, 3, 5}))
		if status != StatusCompleted {
			t.Errorf("expected %s with default rejected policy, got %s", StatusCompleted, status)
		}
	})

	t.Run("Enabled Checks On Rejected", func(t *testing.T) {
		ch := NewChannel[int](10)
		sig := NewSignal()
		sig.Set()

		reject := func(_ context.Context, _ int) bool { return false }
		feeder := NewFeeder("test-feeder", ch, reject, 1).
			WithSignal(sig).
			WithRejectedCheck(true)

		status := feeder.Run(context.Background(), slices.Values([]int{1, 3, 5}))
		if status != StatusCanceled {
			t.Errorf("expected %s with rejected check enabled, got %s", StatusCanceled, status)
		}
	})
}

func TestFeeder_RateLimit(t *testing.T) {
	ch := NewChannel[int](10)
	feeder := NewFeeder("test-feeder", ch, acceptAll, 1).
		WithRateLimit(1000, 1)

	start := time.Now()
	status := feeder.Run(context.Background(), slices.Values([]int{1, 2, 3, 4, 5}))
	elapsed := time.Since(start)

	if status != StatusCompleted {
		t.Fatalf("expected %s, got %s", StatusCompleted, status)
	}

	items, _ := drain(t, ch)
	if !slices.Equal(items, []int{1, 2, 3, 4, 5}) {
		t.Errorf("rate limiting must not drop items, got %v", items)
	}
	// 5 items at 1000/s with burst 1 needs at least ~4ms of waiting.
	if elapsed < 3*time.Millisecond {
		t.Errorf("expected rate limiter to pace puts, finished in %v", elapsed)
	}
}

func TestFeeder_StoppedEvent(t *testing.T) {
	ch := NewChannel[int](10)
	feeder := NewFeeder("test-feeder", ch, acceptEven, 1)

	events := make(chan FeederEvent, 1)
	if err := feeder.OnStopped(func(_ context.Context, e FeederEvent) error {
		events <- e
		return nil
	}); err != nil {
		t.Fatalf("hook registration failed: %v", err)
	}

	feeder.Run(context.Background(), slices.Values([]int{1, 2, 3, 4, 5}))

	select {
	case e := <-events:
		if e.Status != StatusCompleted {
			t.Errorf("expected status %s in event, got %s", StatusCompleted, e.Status)
		}
		if e.Accepted != 2 {
			t.Errorf("expected 2 accepted in event, got %d", e.Accepted)
		}
		if e.Rejected != 3 {
			t.Errorf("expected 3 rejected in event, got %d", e.Rejected)
		}
		if e.Markers != 1 {
			t.Errorf("expected 1 marker in event, got %d", e.Markers)
		}
	case <-time.After(time.Second):
		t.Fatal("stopped event never delivered")
	}

	if err := feeder.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func TestFeeder_Accessors(t *testing.T) {
	ch := NewChannel[int](4)
	feeder := NewFeeder("test-feeder", ch, acceptAll, 3).WithLimit(7)

	if feeder.Name() != "test-feeder" {
		t.Errorf("expected name 'test-feeder', got %s", feeder.Name())
	}
	if feeder.GetWorkers() != 3 {
		t.Errorf("expected 3 workers, got %d", feeder.GetWorkers())
	}
	if feeder.GetLimit() != 7 {
		t.Errorf("expected limit 7, got %d", feeder.GetLimit())
	}
	if feeder.Metrics() == nil {
		t.Error("expected metrics registry")
	}
	if feeder.Tracer() == nil {
		t.Error("expected tracer")
	}
}
