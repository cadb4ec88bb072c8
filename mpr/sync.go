package mpr

import (
	"context"
	"fmt"

	"github.com/voxmed/annotate/brick"
	"github.com/voxmed/annotate/geom"
)

// ViewCallback is invoked once per synced view, in the fixed order
// axial, sagittal, coronal, before the aggregate event is returned.
// Callbacks are fire-and-forget: the coordinator never waits on work
// they spawn.
type ViewCallback func(view ViewType, sliceIndex int, res SliceResult)

// ViewSyncEvent is the aggregate outcome of re-synchronizing all three
// views after a commit. The originating stroke's center, radius and
// erase flag ride along for downstream overlay rendering.
type ViewSyncEvent struct {
	RoiID  int
	Slices []SliceResult

	TotalLineCount     int
	TotalDeferredLines int
	BudgetHit          bool

	CenterMM geom.Vec3
	RadiusMM float64
	Erase    bool
}

// SyncRequest describes one post-commit view synchronization.
type SyncRequest struct {
	RoiID   int
	Keys    []brick.Key
	Targets []Target

	// LineBudget overrides the pipeline default when > 0.
	LineBudget int

	// Version is the ROI's commit version for contour cache keying.
	Version uint64

	// Stroke context merged into the event.
	CenterMM geom.Vec3
	RadiusMM float64
	Erase    bool
}

// Coordinator sequences slice extraction and per-view callbacks after
// a commit. View sync is best-effort relative to the geometry commit:
// a failure here is reported to the caller and never corrupts the
// already-completed mesh commit.
type Coordinator struct {
	pipeline *Pipeline
	onView   ViewCallback
}

// NewCoordinator creates a coordinator. onView may be nil.
func NewCoordinator(pipeline *Pipeline, onView ViewCallback) *Coordinator {
	return &Coordinator{pipeline: pipeline, onView: onView}
}

// Sync calls the slice pipeline once with all targets, fires the
// per-view callback in fixed view order, and returns the aggregate
// event.
func (c *Coordinator) Sync(ctx context.Context, req *SyncRequest) (ViewSyncEvent, error) {
	res, err := c.pipeline.Extract(ctx, &ExtractSpec{
		RoiID:      req.RoiID,
		Keys:       req.Keys,
		Targets:    req.Targets,
		LineBudget: req.LineBudget,
		Version:    req.Version,
	})
	if err != nil {
		return ViewSyncEvent{}, fmt.Errorf("mpr: view sync failed (roi=%d): %w", req.RoiID, err)
	}

	// res.Slices is already in fixed view order.
	if c.onView != nil {
		for _, s := range res.Slices {
			c.onView(s.View, s.SliceIndex, s)
		}
	}

	return ViewSyncEvent{
		RoiID:              req.RoiID,
		Slices:             res.Slices,
		TotalLineCount:     res.TotalLineCount,
		TotalDeferredLines: res.TotalDeferredLines,
		BudgetHit:          res.BudgetHit,
		CenterMM:           req.CenterMM,
		RadiusMM:           req.RadiusMM,
		Erase:              req.Erase,
	}, nil
}
