package annotate

import (
	"time"

	"github.com/voxmed/annotate/brick"
)

// History defaults.
const (
	// DefaultHistoryLimit caps the undo stack depth; the oldest entry
	// is evicted when a new commit exceeds it.
	DefaultHistoryLimit = 6

	// DefaultKeyframeInterval is how many commits pass between full
	// state checkpoints in history.
	DefaultKeyframeInterval = 4
)

// HistoryEntry is one undo unit: the committed stroke plus the dirty
// brick keys it actually touched, so reversal replays bit-exact
// against what was committed.
type HistoryEntry struct {
	ID             uint64
	Stroke         BrushStroke
	DirtyBrickKeys []brick.Key
	CreatedAt      time.Time

	// Keyframe is non-nil on checkpoint entries.
	Keyframe *Keyframe
}

// Keyframe is a periodic full-state checkpoint bounding how far an
// undo replay has to walk.
type Keyframe struct {
	Index              uint64
	RoiID              int
	ActiveROI          int
	BrushRadiusMM      float64
	EraseMode          bool
	DirtyBrickKeys     []brick.Key
	QuantOriginVersion uint64
}

// HistorySnapshot is the externally visible history state.
type HistorySnapshot struct {
	UndoDepth int
	RedoDepth int

	// LatestKeyframe is the most recent checkpoint still on the undo
	// stack, nil if none.
	LatestKeyframe *Keyframe
}

// history owns the bounded undo/redo stacks. Not safe for concurrent
// use; the engine guards it with its own mutex.
type history struct {
	limit  int
	nextID uint64
	undo   []HistoryEntry
	redo   []HistoryEntry
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &history{limit: limit}
}

// nextEntryID hands out monotonically increasing entry ids.
func (h *history) nextEntryID() uint64 {
	h.nextID++
	return h.nextID
}

// push appends a fresh commit entry, evicting the oldest when the
// depth cap is exceeded, and clears the redo stack: a new commit
// invalidates any redoable future.
func (h *history) push(entry HistoryEntry) {
	h.undo = append(h.undo, entry)
	if len(h.undo) > h.limit {
		h.undo = append(h.undo[:0], h.undo[len(h.undo)-h.limit:]...)
	}
	h.redo = h.redo[:0]
}

// popUndo removes and returns the most recent undo entry.
func (h *history) popUndo() (HistoryEntry, bool) {
	if len(h.undo) == 0 {
		return HistoryEntry{}, false
	}
	entry := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	return entry, true
}

// popRedo removes and returns the most recent redo entry.
func (h *history) popRedo() (HistoryEntry, bool) {
	if len(h.redo) == 0 {
		return HistoryEntry{}, false
	}
	entry := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	return entry, true
}

// pushRedo parks an undone entry for redo. The redo stack shares the
// undo depth cap.
func (h *history) pushRedo(entry HistoryEntry) {
	h.redo = append(h.redo, entry)
	if len(h.redo) > h.limit {
		h.redo = append(h.redo[:0], h.redo[len(h.redo)-h.limit:]...)
	}
}

// restoreUndo puts an entry back on the undo stack without touching
// redo; used when a replay fails and the pop must be rolled back.
func (h *history) restoreUndo(entry HistoryEntry) {
	h.undo = append(h.undo, entry)
}

// restoreRedo is the redo-side counterpart of restoreUndo.
func (h *history) restoreRedo(entry HistoryEntry) {
	h.redo = append(h.redo, entry)
}

// snapshot returns the externally visible state.
func (h *history) snapshot() HistorySnapshot {
	snap := HistorySnapshot{
		UndoDepth: len(h.undo),
		RedoDepth: len(h.redo),
	}
	for i := len(h.undo) - 1; i >= 0; i-- {
		if h.undo[i].Keyframe != nil {
			kf := *h.undo[i].Keyframe
			snap.LatestKeyframe = &kf
			break
		}
	}
	return snap
}

// clear drops both stacks, starting a fresh session.
func (h *history) clear() {
	h.undo = h.undo[:0]
	h.redo = h.redo[:0]
}
