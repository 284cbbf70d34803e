package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventually(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		called := false
		Eventually(t, func() bool {
			called = true
			return true
		}, 100*time.Millisecond, 10*time.Millisecond)

		if !called {
			t.Error("condition function should be called")
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		var counter int32
		go func() {
			time.Sleep(30 * time.Millisecond)
			atomic.StoreInt32(&counter, 1)
		}()

		Eventually(t, func() bool {
			return atomic.LoadInt32(&counter) == 1
		}, time.Second, 5*time.Millisecond)
	})
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	AssertEqual(t, clock.Now(), start)

	clock.Advance(90 * time.Second)
	AssertEqual(t, clock.Now(), start.Add(90*time.Second))

	later := start.Add(time.Hour)
	clock.Set(later)
	AssertEqual(t, clock.Now(), later)
}

func TestCallbackTracker(t *testing.T) {
	t.Run("values in order", func(t *testing.T) {
		tracker := NewCallbackTracker()
		tracker.Mark("first")
		tracker.Mark("second")

		AssertEqual(t, tracker.CallCount(), 2)
		values := tracker.Values()
		AssertEqual(t, len(values), 2)
		AssertEqual(t, values[0].(string), "first")
		AssertEqual(t, values[1].(string), "second")
	})

	t.Run("reset", func(t *testing.T) {
		tracker := NewCallbackTracker()
		tracker.Mark("test")
		tracker.Reset()

		AssertEqual(t, tracker.CallCount(), 0)
		AssertEqual(t, len(tracker.Values()), 0)
	})

	t.Run("concurrent access", func(t *testing.T) {
		tracker := NewCallbackTracker()

		const goroutines = 10
		const callsPerGoroutine = 100

		var wg sync.WaitGroup
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < callsPerGoroutine; j++ {
					tracker.Mark()
				}
			}()
		}
		wg.Wait()

		AssertEqual(t, tracker.CallCount(), goroutines*callsPerGoroutine)
	})
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(t)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("context should have a deadline")
	}
	if time.Until(deadline) > TestTimeout {
		t.Errorf("deadline is too far in the future")
	}
}

func TestAssertions(t *testing.T) {
	AssertNoError(t, nil)
	AssertError(t, context.Canceled)
	AssertErrorIs(t, context.Canceled, context.Canceled)
	AssertEqual(t, 42, 42)
	AssertNotEqual(t, "a", "b")
}
