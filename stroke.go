package annotate

import (
	"time"

	"github.com/voxmed/annotate/geom"
	"github.com/voxmed/annotate/mpr"
)

// MinBrushRadiusMM is the smallest accepted brush radius. Radii below
// this are clamped at the engine boundary.
const MinBrushRadiusMM = 0.5

// Phase distinguishes a preview application from a committed one.
type Phase uint8

// Stroke phases.
const (
	// PhasePreview updates the implicit field only; no meshing, no
	// history.
	PhasePreview Phase = iota

	// PhaseCommit regenerates mesh and slice contours for the touched
	// bricks and records an undo entry.
	PhaseCommit
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhasePreview:
		return "preview"
	case PhaseCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// BrushStroke is one spherical brush application. Strokes are immutable
// once built: one instance per preview or commit call.
type BrushStroke struct {
	RoiID    int
	CenterMM geom.Vec3
	RadiusMM float64

	// Erase subtracts the sphere from the ROI instead of adding it.
	Erase bool

	// View is the 2D plane the stroke was painted on.
	View mpr.ViewType

	Phase     Phase
	Timestamp time.Time
}

// Inverse returns the stroke that logically reverses this one: the
// same sphere with the erase flag flipped. Used by undo/redo replay.
func (s BrushStroke) Inverse() BrushStroke {
	inv := s
	inv.Erase = !s.Erase
	return inv
}
