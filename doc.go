// Package annotate provides an interactive volumetric ROI annotation
// engine for medical-image viewers.
//
// # Overview
//
// A user paints spherical brush strokes on the orthogonal 2D planes
// (axial/sagittal/coronal) of a 3D volume. The engine previews each
// stroke instantly against the signed-distance field, commits it by
// regenerating the implicit surface and triangulated isosurface mesh
// only for the touched bricks, and pushes updated slice contours back
// into all three 2D views, with bounded undo/redo.
//
// # Quick Start
//
//	store := field.NewStore(quant.DefaultStepMM)
//	mesh := wgpu.NewReferenceMeshKernel(store, store.StepMM())
//	slices := wgpu.NewReferenceSliceKernel(store, store.StepMM())
//
//	eng := annotate.NewEngine(store, mesh, slices)
//	eng.SetActiveROI(1)
//	eng.SetBrushRadius(4)
//
//	eng.PreviewStroke(ctx, center, mpr.Axial) // cheap, repeatable
//	res, err := eng.CommitStroke(ctx, center, mpr.Axial)
//
// # Architecture
//
// The engine orchestrates five collaborators:
//   - brick: dirty-region scheduling (dedup + fixed-size batches)
//   - roilock: per-ROI write serialization (FIFO async mutex)
//   - meshpipe: marching-cubes dispatch with retry/growth policy
//   - mpr: budget-limited multi-view slice re-synchronization
//   - quant: the fixed-point vertex codec everything above rides on
//
// GPU device setup, shader execution and the rendering frontends live
// outside this module; the engine talks to them through the
// [SDFPipeline], [meshpipe.Kernel] and [mpr.Kernel] interfaces.
//
// # Consistency model
//
// Commits against the same ROI are totally ordered; commits against
// different ROIs interleave freely. Within one commit, batches are
// processed strictly sequentially and view sync always runs after the
// last batch. A commit either completes or fails with retries
// exhausted; there is no mid-commit abort path. View sync is
// best-effort relative to the geometry commit: its failure is reported
// through an error-phase status event and never rolls back mesh or SDF
// state.
package annotate

// Version information
const (
	// Version is the current version of the library
	Version = "0.2.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 2

	// VersionPatch is the patch version
	VersionPatch = 0
)
