package roilock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunExclusiveFIFOOrder(t *testing.T) {
	tok := New()
	ctx := context.Background()

	const n = 8
	var mu sync.Mutex
	var events []int

	// The first task holds the lock until all others are queued, so
	// submission order is fully established before any grant.
	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = tok.RunExclusive(ctx, 1, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	for i := 1; i <= n; i++ {
		// Queue waiters one at a time so FIFO order is deterministic.
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tok.RunExclusive(ctx, 1, func(context.Context) error {
				mu.Lock()
				events = append(events, i)
				mu.Unlock()
				return nil
			})
		}()
		for tok.Waiting(1) < i {
			time.Sleep(time.Millisecond)
		}
	}

	close(release)
	wg.Wait()

	for i, got := range events {
		if got != i+1 {
			t.Fatalf("execution order = %v, want FIFO 1..%d", events, n)
		}
	}
}

func TestRunExclusiveNoInterleaving(t *testing.T) {
	tok := New()
	ctx := context.Background()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tok.RunExclusive(ctx, 5, func(context.Context) error {
				cur := active.Add(1)
				if cur > maxActive.Load() {
					maxActive.Store(cur)
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("max concurrent holders for one ROI = %d, want 1", maxActive.Load())
	}
}

func TestDifferentROIsOverlap(t *testing.T) {
	tok := New()
	ctx := context.Background()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	barrier := make(chan struct{})

	for roi := 1; roi <= 2; roi++ {
		roi := roi
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tok.RunExclusive(ctx, roi, func(context.Context) error {
				cur := active.Add(1)
				if cur > maxActive.Load() {
					maxActive.Store(cur)
				}
				if cur == 2 {
					close(barrier)
				}
				select {
				case <-barrier:
				case <-time.After(2 * time.Second):
				}
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxActive.Load() < 2 {
		t.Errorf("max concurrency across ROIs = %d, want >= 2", maxActive.Load())
	}
}

func TestReleaseOnTaskError(t *testing.T) {
	tok := New()
	ctx := context.Background()
	boom := errors.New("boom")

	if err := tok.RunExclusive(ctx, 3, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("RunExclusive error = %v, want boom", err)
	}
	if tok.Locked(3) {
		t.Error("lock still held after failed task")
	}

	// A failing task must not block the next holder.
	done := make(chan struct{})
	go func() {
		_ = tok.RunExclusive(ctx, 3, func(context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("next holder blocked after failed task released")
	}
}

func TestReleaseOnPanic(t *testing.T) {
	tok := New()
	ctx := context.Background()

	func() {
		defer func() { _ = recover() }()
		_ = tok.RunExclusive(ctx, 9, func(context.Context) error {
			panic("task panic")
		})
	}()

	if tok.Locked(9) {
		t.Error("lock still held after panicking task")
	}
}

func TestAcquireContextCanceled(t *testing.T) {
	tok := New()
	ctx := context.Background()

	if err := tok.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- tok.Acquire(waitCtx, 1) }()

	for tok.Waiting(1) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire after cancel = %v, want context.Canceled", err)
	}
	if got := tok.Waiting(1); got != 0 {
		t.Errorf("Waiting = %d after canceled waiter, want 0", got)
	}

	// The holder can still release and a fresh acquire succeeds.
	tok.Release(1)
	if err := tok.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	tok.Release(1)
}

func TestRegistryShrinks(t *testing.T) {
	tok := New()
	ctx := context.Background()

	for roi := 0; roi < 50; roi++ {
		_ = tok.RunExclusive(ctx, roi, func(context.Context) error { return nil })
	}

	tok.mu.Lock()
	n := len(tok.locks)
	tok.mu.Unlock()
	if n != 0 {
		t.Errorf("registry holds %d entries after all releases, want 0", n)
	}
}
