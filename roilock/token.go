// Package roilock provides the per-ROI write token: an asynchronous
// mutual-exclusion primitive keyed by ROI id.
//
// The token is what makes the GPU-resident brick, vertex and index
// pools safe to mutate: they are not reentrant across concurrent
// commits to the same ROI, so the annotation engine runs every commit
// body under RunExclusive for the stroke's ROI. Commits against the
// same ROI execute start-to-finish in FIFO submission order; commits
// against different ROIs run fully concurrently.
package roilock

import (
	"context"
	"sync"
)

// Token is a keyed async mutex with a FIFO wait queue per key.
// The zero value is not usable; call New.
type Token struct {
	mu    sync.Mutex
	locks map[int]*lockState
}

// lockState tracks one key's ownership and its ordered waiters.
// The entry is removed from the registry once unheld with no waiters,
// so memory does not grow with ROI churn.
type lockState struct {
	held    bool
	waiters []chan struct{}
}

// New creates an empty token registry.
func New() *Token {
	return &Token{locks: make(map[int]*lockState)}
}

// Acquire grants the lock for roiID, blocking until any prior holder
// releases. Grants are strictly FIFO per key. If ctx is canceled while
// waiting, Acquire returns ctx.Err() and the waiter is unqueued.
func (t *Token) Acquire(ctx context.Context, roiID int) error {
	t.mu.Lock()
	st := t.locks[roiID]
	if st == nil {
		st = &lockState{}
		t.locks[roiID] = st
	}
	if !st.held {
		st.held = true
		t.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	st.waiters = append(st.waiters, ch)
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		select {
		case <-ch:
			// The grant raced the cancellation: we briefly own the
			// lock and must pass it on.
			t.mu.Unlock()
			t.Release(roiID)
		default:
			t.removeWaiterLocked(roiID, ch)
			t.mu.Unlock()
		}
		return ctx.Err()
	}
}

// removeWaiterLocked unqueues a canceled waiter. Caller holds t.mu.
func (t *Token) removeWaiterLocked(roiID int, ch chan struct{}) {
	st := t.locks[roiID]
	if st == nil {
		return
	}
	for i, w := range st.waiters {
		if w == ch {
			st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
			break
		}
	}
	if !st.held && len(st.waiters) == 0 {
		delete(t.locks, roiID)
	}
}

// Release hands the lock to the next waiter in FIFO order, or unlocks
// the key entirely when no waiter is queued. Releasing an unheld key
// is a no-op.
func (t *Token) Release(roiID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.locks[roiID]
	if st == nil || !st.held {
		return
	}
	if len(st.waiters) > 0 {
		next := st.waiters[0]
		st.waiters = st.waiters[1:]
		// Ownership transfers directly; held stays true.
		close(next)
		return
	}
	st.held = false
	delete(t.locks, roiID)
}

// RunExclusive acquires the key, runs task, and releases on all paths,
// including a panicking task, so the next waiter always proceeds.
func (t *Token) RunExclusive(ctx context.Context, roiID int, task func(context.Context) error) error {
	if err := t.Acquire(ctx, roiID); err != nil {
		return err
	}
	defer t.Release(roiID)
	return task(ctx)
}

// Locked reports whether the key is currently held.
func (t *Token) Locked(roiID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.locks[roiID]
	return st != nil && st.held
}

// Waiting returns the number of queued waiters for the key.
func (t *Token) Waiting(roiID int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.locks[roiID]
	if st == nil {
		return 0
	}
	return len(st.waiters)
}
