package annotate

import (
	"context"
	"time"

	"github.com/voxmed/annotate/brick"
	"github.com/voxmed/annotate/mpr"
)

// SDFPipeline is the signed-distance-field collaborator the engine
// drives. PreviewStroke must be idempotent-safe for repeated calls;
// ApplyStroke must only mutate voxels within the given brick keys.
type SDFPipeline interface {
	PreviewStroke(ctx context.Context, stroke BrushStroke) error
	ApplyStroke(ctx context.Context, stroke BrushStroke, keys []brick.Key) error
}

// StatusPhase labels a status event.
type StatusPhase string

// Status phases.
const (
	StatusPreview StatusPhase = "preview"
	StatusCommit  StatusPhase = "commit"
	StatusError   StatusPhase = "error"
)

// Status is a fire-and-forget progress event emitted by the engine.
type Status struct {
	Phase   StatusPhase
	RoiID   int
	Stroke  BrushStroke
	Message string
}

// StatusSink receives status events. The engine never waits on a sink;
// a sink that needs to do slow work must hand off internally.
type StatusSink func(Status)

// ViewSyncSink receives the aggregate view-sync event after a
// successful commit synchronization.
type ViewSyncSink func(mpr.ViewSyncEvent)

// Performance sample names emitted by the engine.
const (
	// SamplePreview measures one preview call (mousemove latency).
	SamplePreview = "mousemove-preview"

	// SampleCommitSync measures the span from the last preview to the
	// end of the commit, view sync included (mouseup latency).
	SampleCommitSync = "mouseup-sync"
)

// PerfSample is one timing measurement.
type PerfSample struct {
	Name     string
	RoiID    int
	Duration time.Duration
}

// PerfSink receives performance samples. Implementations must be cheap
// and non-blocking; see the metrics package for a Prometheus-backed one.
type PerfSink interface {
	Observe(sample PerfSample)
}

// Clock abstracts time for performance sampling and stroke timestamps.
// When no clock is injected, sampling is disabled and timestamps use
// the wall clock.
type Clock interface {
	Now() time.Time
}
