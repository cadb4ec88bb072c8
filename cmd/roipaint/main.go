// Command roipaint runs a headless brush session against the
// annotation engine: it paints a line of spherical strokes, commits
// them, exercises undo/redo, and prints the resulting mesh and
// view-sync statistics. Useful for smoke-testing a configuration and
// for profiling the CPU reference kernels.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/voxmed/annotate"
	"github.com/voxmed/annotate/backend/wgpu"
	"github.com/voxmed/annotate/config"
	"github.com/voxmed/annotate/field"
	"github.com/voxmed/annotate/geom"
	"github.com/voxmed/annotate/metrics"
	"github.com/voxmed/annotate/mpr"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML configuration file (optional)")
		radius     = flag.Float64("radius", 4.0, "brush radius in mm")
		strokes    = flag.Int("strokes", 5, "number of strokes to commit")
		spacing    = flag.Float64("spacing", 3.0, "stroke spacing in mm")
		roi        = flag.Int("roi", 1, "ROI id to paint")
		undo       = flag.Bool("undo", true, "exercise undo/redo after painting")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	annotate.SetLogger(logger)

	var opts []annotate.Option
	var bounds [3]int
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		opts = cfg.Options()
		bounds[0], bounds[1], bounds[2] = cfg.SliceBounds()
	}

	store := field.NewStore(0)
	meshKernel := wgpu.NewReferenceMeshKernel(store, store.StepMM())
	sliceKernel := wgpu.NewReferenceSliceKernel(store, store.StepMM())

	perf, err := metrics.NewRecorder(nil)
	if err != nil {
		log.Fatalf("Failed to set up metrics: %v", err)
	}
	opts = append(opts,
		annotate.WithPerfSink(perf),
		annotate.WithClock(wallClock{}),
		annotate.WithStatusSink(perf.ObserveStatus),
		annotate.WithViewSyncSink(func(ev mpr.ViewSyncEvent) {
			perf.ObserveViewSync(ev)
			logger.Info("view sync",
				"roi", ev.RoiID,
				"lines", ev.TotalLineCount,
				"deferred", ev.TotalDeferredLines,
				"budget_hit", ev.BudgetHit)
		}),
	)

	eng := annotate.NewEngine(store, meshKernel, sliceKernel, opts...)
	eng.SetActiveROI(*roi)
	eng.SetBrushRadius(*radius)
	if bounds[0] > 0 {
		eng.SetSliceBounds(float64(bounds[0]), float64(bounds[1]), float64(bounds[2]))
	}

	ctx := context.Background()
	start := time.Now()

	var totalVertices, totalBricks int
	for i := 0; i < *strokes; i++ {
		center := geom.V3(float64(i)**spacing, 0, 0)

		if err := eng.PreviewStroke(ctx, center, mpr.Axial); err != nil {
			log.Fatalf("Preview %d failed: %v", i, err)
		}
		res, err := eng.CommitStroke(ctx, center, mpr.Axial)
		if err != nil {
			log.Fatalf("Commit %d failed: %v", i, err)
		}
		if res.ViewSyncErr != nil {
			log.Printf("Commit %d: view sync failed: %v", i, res.ViewSyncErr)
		}
		totalVertices += res.TotalVertices
		totalBricks += res.TotalDirtyBricks
	}

	log.Printf("Committed %d strokes: %d vertices over %d dirty bricks in %v",
		*strokes, totalVertices, totalBricks, time.Since(start).Round(time.Millisecond))

	if *undo {
		if _, err := eng.UndoLast(ctx); err != nil {
			log.Fatalf("Undo failed: %v", err)
		}
		if _, err := eng.RedoLast(ctx); err != nil {
			log.Fatalf("Redo failed: %v", err)
		}
		snap := eng.HistorySnapshot()
		log.Printf("History after undo/redo: depth %d, redo %d", snap.UndoDepth, snap.RedoDepth)
	}

	log.Printf("Field store: %d bricks materialized for ROI %d", store.BrickCount(*roi), *roi)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
