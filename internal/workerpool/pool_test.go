package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitAndDrain(t *testing.T) {
	p := New(3)
	var count atomic.Int32

	for i := 0; i < 3; i++ {
		if !p.Submit(func(context.Context) { count.Add(1) }) {
			t.Fatalf("Submit %d failed", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Drain(ctx)

	if got := count.Load(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
}

func TestSubmitRejectedWhenSlotsTaken(t *testing.T) {
	p := New(1)
	blocker := make(chan struct{})
	if !p.Submit(func(context.Context) { <-blocker }) {
		t.Fatal("first Submit failed")
	}
	if !p.Busy() {
		t.Fatal("Busy() = false with the only slot taken")
	}
	if p.Submit(func(context.Context) {}) {
		t.Fatal("Submit should return false when every slot is taken")
	}

	close(blocker)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Drain(ctx)

	if p.Busy() {
		t.Fatal("Busy() = true after drain")
	}
}

func TestSlotFreedAfterTask(t *testing.T) {
	p := New(1)
	done := make(chan struct{})
	p.Submit(func(context.Context) { close(done) })
	<-done

	deadline := time.Now().Add(2 * time.Second)
	for p.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("slot not released")
		}
		time.Sleep(time.Millisecond)
	}
	if !p.Submit(func(context.Context) {}) {
		t.Fatal("Submit after completion failed")
	}
}

func TestSubmitAfterShutdownReturnsFalse(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if p.Submit(func(context.Context) {}) {
		t.Fatal("Submit after Shutdown should return false")
	}
}

func TestShutdownCancelsTaskContext(t *testing.T) {
	p := New(1)
	started := make(chan struct{})
	var cancelled atomic.Bool
	p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if !cancelled.Load() {
		t.Fatal("task context was not cancelled")
	}
	if p.Context().Err() == nil {
		t.Fatal("pool context should be cancelled after Shutdown")
	}
}

func TestDrainRespectsContextDeadline(t *testing.T) {
	p := New(1)
	blocker := make(chan struct{})
	p.Submit(func(context.Context) { <-blocker })

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.Drain(ctx)

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Drain should have timed out in ~100ms, took %v", elapsed)
	}
	close(blocker)
}

func TestPanicRecovery(t *testing.T) {
	p := New(1)
	p.Submit(func(context.Context) { panic("test panic") })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Drain(ctx)

	p2 := New(1)
	var count atomic.Int32
	p2.Submit(func(context.Context) { count.Add(1) })
	p2.Drain(ctx)
	if got := count.Load(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	if p.Busy() {
		t.Fatal("slot leaked after panic")
	}
}
