package annotate

import (
	"github.com/voxmed/annotate/brick"
	"github.com/voxmed/annotate/geom"
	"github.com/voxmed/annotate/meshpipe"
	"github.com/voxmed/annotate/mpr"
	"github.com/voxmed/annotate/quant"
)

// DefaultWorkspaceMM is the default world-space extent of the volume
// along each axis, centered on the origin.
const DefaultWorkspaceMM = 256.0

// DefaultSliceCount is the default number of slices per view,
// matching the workspace extent at one quantization step per slice.
const DefaultSliceCount = 512

// DefaultMeshCapacitySeed is the minimum vertex capacity a commit
// batch dispatch starts from; larger batches seed proportionally
// (128 vertices per dirty brick).
const DefaultMeshCapacitySeed = meshpipe.DefaultCapacity

// EstimatorFunc predicts the bricks a stroke will touch. The default
// estimator returns the cube of bricks within ceil(radius/brickMM) of
// the stroke center.
type EstimatorFunc func(stroke BrushStroke) []brick.Key

// Option configures an Engine during creation.
//
// Example:
//
//	eng := annotate.NewEngine(sdf, meshKernel, sliceKernel,
//	    annotate.WithHistoryLimit(10),
//	    annotate.WithLineBudget(2048),
//	)
type Option func(*engineOptions)

// engineOptions holds construction-time configuration. None of it is
// runtime-mutable.
type engineOptions struct {
	stepMM      float64
	workspaceMM geom.Vec3
	sliceBounds [3]int

	batchLimit       int
	historyLimit     int
	keyframeInterval int

	maxRetries   int
	growthFactor int
	meshCapacity int

	lineBudget       int
	contourCacheCap  int
	disableContourCache bool

	quantOriginMM   geom.Vec3
	quantFallbackMM *geom.Vec3

	estimator EstimatorFunc

	onStatus   StatusSink
	onViewSync ViewSyncSink
	perf       PerfSink
	clock      Clock
}

func defaultOptions() engineOptions {
	return engineOptions{
		stepMM:           quant.DefaultStepMM,
		workspaceMM:      geom.V3(DefaultWorkspaceMM, DefaultWorkspaceMM, DefaultWorkspaceMM),
		sliceBounds:      [3]int{DefaultSliceCount, DefaultSliceCount, DefaultSliceCount},
		batchLimit:       brick.DefaultBatchLimit,
		historyLimit:     DefaultHistoryLimit,
		keyframeInterval: DefaultKeyframeInterval,
		maxRetries:       meshpipe.DefaultMaxRetries,
		growthFactor:     meshpipe.DefaultGrowthFactor,
		meshCapacity:     DefaultMeshCapacitySeed,
		lineBudget:       mpr.DefaultLineBudget,
		contourCacheCap:  mpr.DefaultContourCapacity,
	}
}

// brickMM returns the brick edge length in world space: Size voxels at
// one quantization step each.
func (o *engineOptions) brickMM() float64 {
	return brick.Size * o.stepMM
}

// WithQuantStep sets the global quantization step in millimeters.
// Values <= 0 are ignored.
func WithQuantStep(stepMM float64) Option {
	return func(o *engineOptions) {
		if stepMM > 0 {
			o.stepMM = stepMM
		}
	}
}

// WithWorkspace sets the world-space extent of the volume.
func WithWorkspace(sizeMM geom.Vec3) Option {
	return func(o *engineOptions) {
		if sizeMM.X > 0 && sizeMM.Y > 0 && sizeMM.Z > 0 {
			o.workspaceMM = sizeMM
		}
	}
}

// WithBatchLimit sets the dirty-brick scheduler batch limit.
func WithBatchLimit(limit int) Option {
	return func(o *engineOptions) {
		if limit > 0 {
			o.batchLimit = limit
		}
	}
}

// WithHistoryLimit caps the undo/redo stack depth.
func WithHistoryLimit(limit int) Option {
	return func(o *engineOptions) {
		if limit > 0 {
			o.historyLimit = limit
		}
	}
}

// WithKeyframeInterval sets how many commits pass between history
// keyframes.
func WithKeyframeInterval(interval int) Option {
	return func(o *engineOptions) {
		if interval > 0 {
			o.keyframeInterval = interval
		}
	}
}

// WithMaxRetries sets the mesh dispatch attempt cap.
func WithMaxRetries(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithGrowthFactor sets the capacity multiplier applied on mesh
// dispatch overflow. Values below 2 are ignored.
func WithGrowthFactor(f int) Option {
	return func(o *engineOptions) {
		if f >= 2 {
			o.growthFactor = f
		}
	}
}

// WithMeshCapacity sets the minimum vertex capacity seed for mesh
// dispatches.
func WithMeshCapacity(capacity int) Option {
	return func(o *engineOptions) {
		if capacity > 0 {
			o.meshCapacity = capacity
		}
	}
}

// WithLineBudget sets the shared MPR contour line budget per sync.
func WithLineBudget(budget int) Option {
	return func(o *engineOptions) {
		if budget > 0 {
			o.lineBudget = budget
		}
	}
}

// WithContourCache sets the contour cache per-shard capacity.
// Pass 0 to disable caching entirely.
func WithContourCache(capacity int) Option {
	return func(o *engineOptions) {
		if capacity <= 0 {
			o.disableContourCache = true
			return
		}
		o.disableContourCache = false
		o.contourCacheCap = capacity
	}
}

// WithQuantOrigin sets the quantization origin used for mesh
// dispatches.
func WithQuantOrigin(originMM geom.Vec3) Option {
	return func(o *engineOptions) {
		o.quantOriginMM = originMM
	}
}

// WithQuantFallbackOrigin sets the origin the mesh pipeline relocates
// to on quantization overflow.
func WithQuantFallbackOrigin(originMM geom.Vec3) Option {
	return func(o *engineOptions) {
		v := originMM
		o.quantFallbackMM = &v
	}
}

// WithEstimator replaces the default dirty-brick estimator.
func WithEstimator(fn EstimatorFunc) Option {
	return func(o *engineOptions) {
		o.estimator = fn
	}
}

// WithStatusSink registers the status event sink.
func WithStatusSink(sink StatusSink) Option {
	return func(o *engineOptions) {
		o.onStatus = sink
	}
}

// WithViewSyncSink registers the view-sync event sink.
func WithViewSyncSink(sink ViewSyncSink) Option {
	return func(o *engineOptions) {
		o.onViewSync = sink
	}
}

// WithPerfSink registers the performance sample sink.
func WithPerfSink(sink PerfSink) Option {
	return func(o *engineOptions) {
		o.perf = sink
	}
}

// WithClock injects a clock, enabling performance sampling.
func WithClock(clock Clock) Option {
	return func(o *engineOptions) {
		o.clock = clock
	}
}
