package brick

import (
	"sort"
	"sync"
)

// DefaultBatchLimit is the maximum number of keys returned by a single
// DrainNextBatch call when no explicit limit is configured.
const DefaultBatchLimit = 24

// Scheduler deduplicates and batches dirty brick keys per ROI.
//
// Enqueue unions incoming keys into a per-ROI set, so enqueuing the
// same key twice has no additional effect. DrainNextBatch removes and
// returns up to the batch limit in ascending key order; once a queue is
// drained to zero it is removed entirely, so memory does not grow with
// ROI churn.
//
// ROIs are fully isolated: operations on one ROI never observe or block
// on another ROI's queue beyond the scheduler's own short-lived lock.
//
// Scheduler is safe for concurrent use. The annotation engine only
// drains a given ROI's queue while holding that ROI's write token.
type Scheduler struct {
	mu    sync.Mutex
	limit int
	rois  map[int]map[Key]struct{}
}

// NewScheduler creates a scheduler with the given batch limit.
// If limit <= 0, DefaultBatchLimit is used.
func NewScheduler(limit int) *Scheduler {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return &Scheduler{
		limit: limit,
		rois:  make(map[int]map[Key]struct{}),
	}
}

// BatchLimit returns the configured per-batch key limit.
func (s *Scheduler) BatchLimit() int {
	return s.limit
}

// Enqueue unions keys into the ROI's dirty set. Duplicate keys, within
// the call or against already-pending keys, are absorbed.
func (s *Scheduler) Enqueue(roiID int, keys []Key) {
	if len(keys) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.rois[roiID]
	if set == nil {
		set = make(map[Key]struct{}, len(keys))
		s.rois[roiID] = set
	}
	for _, k := range keys {
		set[k] = struct{}{}
	}
}

// DrainNextBatch removes and returns up to the batch limit of pending
// keys for the ROI, in ascending key order. Returns nil once the ROI
// has no pending keys; the emptied queue is dropped from the registry.
func (s *Scheduler) DrainNextBatch(roiID int) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.rois[roiID]
	if len(set) == 0 {
		delete(s.rois, roiID)
		return nil
	}

	n := len(set)
	if n > s.limit {
		n = s.limit
	}

	// Sorting makes the within-call order deterministic, which keeps
	// batch contents and downstream dispatch results reproducible.
	all := make([]Key, 0, len(set))
	for k := range set {
		all = append(all, k)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	batch := all[:n]
	for _, k := range batch {
		delete(set, k)
	}
	if len(set) == 0 {
		delete(s.rois, roiID)
	}
	return batch
}

// PendingCount returns the number of distinct keys pending for the ROI.
func (s *Scheduler) PendingCount(roiID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rois[roiID])
}

// HasPending reports whether the ROI has any pending keys.
func (s *Scheduler) HasPending(roiID int) bool {
	return s.PendingCount(roiID) > 0
}
