// Package mpr implements multi-planar reconstruction support for the
// annotation engine: budget-throttled contour-line extraction for the
// three orthogonal 2D views and the coordinator that re-synchronizes
// them after a commit.
package mpr

// ViewType identifies one of the three orthogonal slice views.
type ViewType uint8

// The three MPR views. Their numeric order is also the fixed budget
// consumption order: axial first, coronal last.
const (
	Axial ViewType = iota
	Sagittal
	Coronal
)

// Views lists the views in budget order.
var Views = [3]ViewType{Axial, Sagittal, Coronal}

// String returns the view name.
func (v ViewType) String() string {
	switch v {
	case Axial:
		return "axial"
	case Sagittal:
		return "sagittal"
	case Coronal:
		return "coronal"
	default:
		return "unknown"
	}
}

// Axis returns the world axis the view slices along: axial slices
// stack along Z, sagittal along X, coronal along Y.
func (v ViewType) Axis() int {
	switch v {
	case Sagittal:
		return 0
	case Coronal:
		return 1
	default:
		return 2
	}
}
