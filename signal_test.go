package feedz

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSignal_SetAndIsSet(t *testing.T) {
	sig := NewSignal()

	if sig.IsSet() {
		t.Fatal("new signal should not be set")
	}

	sig.Set()
	if !sig.IsSet() {
		t.Fatal("signal should be set after Set")
	}

	// Monotonic and idempotent: setting again must not panic or clear.
	sig.Set()
	if !sig.IsSet() {
		t.Fatal("signal must stay set")
	}
}

func TestSignal_ConcurrentSet(t *testing.T) {
	sig := NewSignal()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig.Set()
		}()
	}
	wg.Wait()

	if !sig.IsSet() {
		t.Fatal("signal should be set")
	}
}

func TestSignal_Done(t *testing.T) {
	sig := NewSignal()

	select {
	case <-sig.Done():
		t.Fatal("done channel closed before Set")
	default:
	}

	sig.Set()

	select {
	case <-sig.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed after Set")
	}
}

func TestSignal_LinkContext(t *testing.T) {
	t.Run("Raised On Context Cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		sig := LinkContext(ctx)

		if sig.IsSet() {
			t.Fatal("signal should not be set while context is live")
		}

		cancel()

		select {
		case <-sig.Done():
		case <-time.After(time.Second):
			t.Fatal("signal not raised after context cancel")
		}
		if !sig.IsSet() {
			t.Fatal("signal should be set after context cancel")
		}
	})

	t.Run("Watcher Exits On Manual Set", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sig := LinkContext(ctx)
		sig.Set()

		if !sig.IsSet() {
			t.Fatal("signal should be set")
		}
	})
}
