package annotate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/voxmed/annotate/brick"
	"github.com/voxmed/annotate/geom"
	"github.com/voxmed/annotate/internal/logx"
	"github.com/voxmed/annotate/meshpipe"
	"github.com/voxmed/annotate/mpr"
	"github.com/voxmed/annotate/roilock"
)

// ErrViewSync marks a post-commit view synchronization failure. It is
// never returned from CommitStroke itself; it appears wrapped in
// CommitResult.ViewSyncErr, keeping commit failures and sync failures
// distinguishable with errors.Is.
var ErrViewSync = errors.New("annotate: view sync failed")

// CommitResult aggregates one committed stroke: per-batch mesh
// dispatch results, totals, and the view-sync outcome.
//
// A non-nil ViewSyncErr means the geometry commit succeeded but the
// slice re-synchronization did not; the UI can re-request a sync
// without re-painting the stroke. A commit that fails outright is
// reported as an error from CommitStroke instead.
type CommitResult struct {
	Stroke BrushStroke

	Batches []meshpipe.DispatchResult

	TotalVertices    int
	TotalIndices     int
	TotalDirtyBricks int

	// DirtyBrickKeys is the union of all processed batch keys.
	DirtyBrickKeys []brick.Key

	// ViewSync is the aggregate sync event, nil when sync failed.
	ViewSync    *mpr.ViewSyncEvent
	ViewSyncErr error
}

// Engine owns brush/ROI state and drives the preview/commit pipeline.
//
// All exported methods are safe for concurrent use. Commits against
// the same ROI serialize through the per-ROI write token in FIFO
// order; commits against different ROIs run concurrently.
type Engine struct {
	sdf   SDFPipeline
	sched *brick.Scheduler
	locks *roilock.Token
	mesh  *meshpipe.Pipeline
	slice *mpr.Pipeline
	coord *mpr.Coordinator
	opts  engineOptions

	mu                 sync.Mutex
	activeROI          int
	brushRadiusMM      float64
	eraseMode          bool
	sliceBounds        [3]int // indexed by mpr.ViewType
	hist               *history
	commitCount        uint64
	versions           map[int]uint64 // per-ROI commit version
	quantOriginVersion uint64
	lastPreviewAt      time.Time
	havePreview        bool
}

// NewEngine creates an engine around its three collaborators: the SDF
// pipeline, the marching-cubes dispatch kernel and the MPR slice
// dispatch kernel.
func NewEngine(sdf SDFPipeline, meshKernel meshpipe.Kernel, sliceKernel mpr.Kernel, options ...Option) *Engine {
	opts := defaultOptions()
	for _, opt := range options {
		opt(&opts)
	}

	var cache *mpr.ContourCache
	if !opts.disableContourCache {
		cache = mpr.NewContourCache(opts.contourCacheCap)
	}
	slicePipe := mpr.NewPipeline(sliceKernel, opts.lineBudget, cache)

	e := &Engine{
		sdf:           sdf,
		sched:         brick.NewScheduler(opts.batchLimit),
		locks:         roilock.New(),
		mesh:          meshpipe.NewPipeline(meshKernel, opts.maxRetries, opts.growthFactor),
		slice:         slicePipe,
		opts:          opts,
		activeROI:     1,
		brushRadiusMM: MinBrushRadiusMM,
		sliceBounds:   opts.sliceBounds,
		hist:          newHistory(opts.historyLimit),
		versions:      make(map[int]uint64),
	}
	e.coord = mpr.NewCoordinator(slicePipe, e.viewCallback)
	return e
}

// viewCallback forwards per-view sync results to the view-sync sink at
// the slice granularity. The aggregate event follows separately.
func (e *Engine) viewCallback(view mpr.ViewType, sliceIndex int, res mpr.SliceResult) {
	logx.Logger().Debug("view slice synced",
		"view", view.String(), "slice", sliceIndex,
		"lines", res.LineCount, "deferred", res.DeferredLines)
}

// SetActiveROI selects the ROI subsequent strokes apply to.
// Non-positive ids are ignored.
func (e *Engine) SetActiveROI(roiID int) {
	if roiID <= 0 {
		return
	}
	e.mu.Lock()
	e.activeROI = roiID
	e.mu.Unlock()
}

// ActiveROI returns the currently selected ROI id.
func (e *Engine) ActiveROI() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeROI
}

// SetBrushRadius sets the brush radius, clamped to MinBrushRadiusMM.
func (e *Engine) SetBrushRadius(radiusMM float64) {
	if radiusMM < MinBrushRadiusMM || math.IsNaN(radiusMM) {
		radiusMM = MinBrushRadiusMM
	}
	e.mu.Lock()
	e.brushRadiusMM = radiusMM
	e.mu.Unlock()
}

// BrushRadius returns the current brush radius in millimeters.
func (e *Engine) BrushRadius() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.brushRadiusMM
}

// SetEraseMode toggles between painting and erasing.
func (e *Engine) SetEraseMode(erase bool) {
	e.mu.Lock()
	e.eraseMode = erase
	e.mu.Unlock()
}

// EraseMode returns whether the brush currently erases.
func (e *Engine) EraseMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eraseMode
}

// SetSliceBounds sets the per-view slice counts used to map a 3D point
// to each view's slice index. Bounds are floored; values below 1 are
// clamped to 1.
func (e *Engine) SetSliceBounds(axial, sagittal, coronal float64) {
	e.mu.Lock()
	e.sliceBounds[mpr.Axial] = floorBound(axial)
	e.sliceBounds[mpr.Sagittal] = floorBound(sagittal)
	e.sliceBounds[mpr.Coronal] = floorBound(coronal)
	e.mu.Unlock()
}

func floorBound(v float64) int {
	n := int(math.Floor(v))
	if n < 1 {
		return 1
	}
	return n
}

// CanUndo reports whether an undo entry is available.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.hist.undo) > 0
}

// CanRedo reports whether a redo entry is available.
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.hist.redo) > 0
}

// HistorySnapshot returns the current undo/redo depths and the latest
// keyframe.
func (e *Engine) HistorySnapshot() HistorySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.snapshot()
}

// ClearHistory drops both history stacks, starting a fresh session.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	e.hist.clear()
	e.mu.Unlock()
}

// now reads the injected clock, falling back to the wall clock.
func (e *Engine) now() time.Time {
	if e.opts.clock != nil {
		return e.opts.clock.Now()
	}
	return time.Now()
}

// buildStroke snapshots engine state into an immutable stroke.
func (e *Engine) buildStroke(centerMM geom.Vec3, view mpr.ViewType, phase Phase) BrushStroke {
	e.mu.Lock()
	defer e.mu.Unlock()
	return BrushStroke{
		RoiID:     e.activeROI,
		CenterMM:  centerMM,
		RadiusMM:  e.brushRadiusMM,
		Erase:     e.eraseMode,
		View:      view,
		Phase:     phase,
		Timestamp: e.now(),
	}
}

// estimateDirtyBricks runs the configured estimator, defaulting to the
// cube of bricks within ceil(radius/brickMM) of the stroke center.
func (e *Engine) estimateDirtyBricks(stroke BrushStroke) []brick.Key {
	if e.opts.estimator != nil {
		return e.opts.estimator(stroke)
	}
	return brick.Around(stroke.CenterMM, stroke.RadiusMM, e.opts.brickMM())
}

// PreviewStroke applies a preview-phase stroke: the implicit field is
// updated for instant feedback, dirty bricks are enqueued for the
// eventual commit, but no meshing, slice sync or history happens.
func (e *Engine) PreviewStroke(ctx context.Context, centerMM geom.Vec3, view mpr.ViewType) error {
	var start time.Time
	sampling := e.opts.clock != nil && e.opts.perf != nil
	if sampling {
		start = e.opts.clock.Now()
	}

	stroke := e.buildStroke(centerMM, view, PhasePreview)
	keys := e.estimateDirtyBricks(stroke)
	e.sched.Enqueue(stroke.RoiID, keys)

	if err := e.sdf.PreviewStroke(ctx, stroke); err != nil {
		return fmt.Errorf("annotate: preview failed (roi=%d): %w", stroke.RoiID, err)
	}

	e.emitStatus(Status{Phase: StatusPreview, RoiID: stroke.RoiID, Stroke: stroke})

	if sampling {
		now := e.opts.clock.Now()
		e.opts.perf.Observe(PerfSample{
			Name:     SamplePreview,
			RoiID:    stroke.RoiID,
			Duration: now.Sub(start),
		})
		e.mu.Lock()
		e.lastPreviewAt = start
		e.havePreview = true
		e.mu.Unlock()
	}
	return nil
}

// CommitStroke applies a commit-phase stroke: under the ROI write
// token it drains the scheduler batch by batch, applying the stroke to
// the SDF pipeline and re-extracting the mesh per batch, then
// re-synchronizes the three MPR views and records an undo entry.
//
// A mesh dispatch failure (retries exhausted) fails the whole commit.
// A view-sync failure does not: it is reported through an error-phase
// status event and the returned result's ViewSyncErr.
func (e *Engine) CommitStroke(ctx context.Context, centerMM geom.Vec3, view mpr.ViewType) (*CommitResult, error) {
	stroke := e.buildStroke(centerMM, view, PhaseCommit)

	res, err := e.runCommit(ctx, stroke, nil, true)
	if err != nil {
		return nil, err
	}

	if e.opts.clock != nil && e.opts.perf != nil {
		e.mu.Lock()
		havePreview := e.havePreview
		previewAt := e.lastPreviewAt
		e.havePreview = false
		e.mu.Unlock()
		if havePreview {
			e.opts.perf.Observe(PerfSample{
				Name:     SampleCommitSync,
				RoiID:    stroke.RoiID,
				Duration: e.opts.clock.Now().Sub(previewAt),
			})
		}
	}
	return res, nil
}

// UndoLast reverses the most recent commit by replaying its logical
// inverse against the entry's recorded dirty bricks, then parks the
// entry for redo. Returns (nil, nil) when the undo stack is empty:
// at-boundary is not an error.
func (e *Engine) UndoLast(ctx context.Context) (*CommitResult, error) {
	e.mu.Lock()
	entry, ok := e.hist.popUndo()
	e.mu.Unlock()
	if !ok {
		return nil, nil
	}

	inv := entry.Stroke.Inverse()
	inv.Timestamp = e.now()

	res, err := e.runCommit(ctx, inv, entry.DirtyBrickKeys, false)
	if err != nil {
		e.mu.Lock()
		e.hist.restoreUndo(entry)
		e.mu.Unlock()
		return nil, fmt.Errorf("annotate: undo replay failed: %w", err)
	}

	e.mu.Lock()
	e.hist.pushRedo(entry)
	e.mu.Unlock()
	return res, nil
}

// RedoLast re-applies the most recently undone commit. Returns
// (nil, nil) when the redo stack is empty.
func (e *Engine) RedoLast(ctx context.Context) (*CommitResult, error) {
	e.mu.Lock()
	entry, ok := e.hist.popRedo()
	e.mu.Unlock()
	if !ok {
		return nil, nil
	}

	replay := entry.Stroke
	replay.Timestamp = e.now()

	res, err := e.runCommit(ctx, replay, entry.DirtyBrickKeys, false)
	if err != nil {
		e.mu.Lock()
		e.hist.restoreRedo(entry)
		e.mu.Unlock()
		return nil, fmt.Errorf("annotate: redo replay failed: %w", err)
	}

	e.mu.Lock()
	e.hist.restoreUndo(entry)
	e.mu.Unlock()
	return res, nil
}

// runCommit is the shared commit machinery: stroke application, batch
// drain loop, mesh dispatch, view sync, and (for user-facing commits)
// history bookkeeping. keysOverride, when non-nil, replaces the
// estimator; undo/redo pass the recorded keys for bit-exact reversal.
func (e *Engine) runCommit(ctx context.Context, stroke BrushStroke, keysOverride []brick.Key, recordHistory bool) (*CommitResult, error) {
	result := &CommitResult{Stroke: stroke}

	err := e.locks.RunExclusive(ctx, stroke.RoiID, func(ctx context.Context) error {
		keys := keysOverride
		if keys == nil {
			keys = e.estimateDirtyBricks(stroke)
		}
		e.sched.Enqueue(stroke.RoiID, keys)

		for {
			batch := e.sched.DrainNextBatch(stroke.RoiID)
			if len(batch) == 0 {
				break
			}

			if err := e.sdf.ApplyStroke(ctx, stroke, batch); err != nil {
				return fmt.Errorf("annotate: sdf apply failed (roi=%d): %w", stroke.RoiID, err)
			}

			dr, err := e.mesh.Dispatch(ctx, &meshpipe.DispatchSpec{
				RoiID:                 stroke.RoiID,
				Keys:                  batch,
				InitialCapacity:       maxInt(e.opts.meshCapacity, len(batch)*128),
				QuantOriginMM:         e.opts.quantOriginMM,
				QuantFallbackOriginMM: e.opts.quantFallbackMM,
			})
			if err != nil {
				// Retries-exhausted (or kernel failure) is fatal for
				// the commit; the caller must not see a partial result.
				return err
			}

			if dr.RerunReason == meshpipe.RerunQuantOverflow {
				e.mu.Lock()
				e.quantOriginVersion++
				e.mu.Unlock()
			}

			result.Batches = append(result.Batches, dr)
			result.TotalVertices += dr.VertexCount
			result.TotalIndices += dr.IndexCount
			result.TotalDirtyBricks += len(batch)
			result.DirtyBrickKeys = append(result.DirtyBrickKeys, batch...)
		}

		version := e.bumpVersion(stroke.RoiID)

		ev, err := e.coord.Sync(ctx, &mpr.SyncRequest{
			RoiID:      stroke.RoiID,
			Keys:       result.DirtyBrickKeys,
			Targets:    e.sliceTargets(stroke.CenterMM),
			LineBudget: e.opts.lineBudget,
			Version:    version,
			CenterMM:   stroke.CenterMM,
			RadiusMM:   stroke.RadiusMM,
			Erase:      stroke.Erase,
		})
		if err != nil {
			// Best-effort: the mesh commit stands, the UI can
			// re-request a sync.
			result.ViewSyncErr = fmt.Errorf("%w: %w", ErrViewSync, err)
			logx.Logger().Warn("view sync failed after commit",
				"roi", stroke.RoiID, "error", err)
			e.emitStatus(Status{
				Phase:   StatusError,
				RoiID:   stroke.RoiID,
				Stroke:  stroke,
				Message: err.Error(),
			})
		} else {
			result.ViewSync = &ev
			e.emitViewSync(ev)
		}

		if recordHistory {
			e.recordCommit(stroke, result.DirtyBrickKeys)
		}

		e.emitStatus(Status{Phase: StatusCommit, RoiID: stroke.RoiID, Stroke: stroke})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// recordCommit appends the history entry and attaches a keyframe every
// keyframeInterval commits.
func (e *Engine) recordCommit(stroke BrushStroke, keys []brick.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.commitCount++
	entry := HistoryEntry{
		ID:             e.hist.nextEntryID(),
		Stroke:         stroke,
		DirtyBrickKeys: keys,
		CreatedAt:      stroke.Timestamp,
	}
	if e.commitCount%uint64(e.opts.keyframeInterval) == 0 {
		entry.Keyframe = &Keyframe{
			Index:              e.commitCount,
			RoiID:              stroke.RoiID,
			ActiveROI:          e.activeROI,
			BrushRadiusMM:      e.brushRadiusMM,
			EraseMode:          e.eraseMode,
			DirtyBrickKeys:     keys,
			QuantOriginVersion: e.quantOriginVersion,
		}
	}
	e.hist.push(entry)
}

// bumpVersion advances the ROI's commit version, invalidating cached
// contours for the previous one.
func (e *Engine) bumpVersion(roiID int) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.versions[roiID]++
	return e.versions[roiID]
}

// sliceTargets maps the stroke center to each view's target slice
// index with a linear world-to-slice mapping:
//
//	round(clamp((world+half)/workspace, 0, 1) * (sliceCount-1))
func (e *Engine) sliceTargets(centerMM geom.Vec3) []mpr.Target {
	e.mu.Lock()
	bounds := e.sliceBounds
	e.mu.Unlock()

	workspace := [3]float64{e.opts.workspaceMM.X, e.opts.workspaceMM.Y, e.opts.workspaceMM.Z}
	center := [3]float64{centerMM.X, centerMM.Y, centerMM.Z}

	targets := make([]mpr.Target, 0, len(mpr.Views))
	for _, view := range mpr.Views {
		axis := view.Axis()
		size := workspace[axis]
		count := bounds[view]

		t := (center[axis] + size/2) / size
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		targets = append(targets, mpr.Target{
			View:       view,
			SliceIndex: int(math.Round(t * float64(count-1))),
		})
	}
	return targets
}

func (e *Engine) emitStatus(s Status) {
	if e.opts.onStatus != nil {
		e.opts.onStatus(s)
	}
}

func (e *Engine) emitViewSync(ev mpr.ViewSyncEvent) {
	if e.opts.onViewSync != nil {
		e.opts.onViewSync(ev)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
