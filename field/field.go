// Package field stores per-ROI signed distance fields in dense voxel
// bricks and applies spherical brush strokes to them.
//
// The store is the source of truth the mesh and slice kernels sample.
// Committed geometry lives in materialized bricks; preview strokes are
// kept as an analytic overlay so repeated previews of the same sphere
// are idempotent and never dirty the committed field.
package field

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxmed/annotate"
	"github.com/voxmed/annotate/brick"
	"github.com/voxmed/annotate/geom"
)

// Outside is the distance value of space no stroke has touched.
// Large positive so CSG min/max behaves as identity against it.
const Outside float32 = 1e6

// Brick is one dense block of SDF samples. Values are signed distances
// in millimeters at voxel centers, negative inside the ROI.
type Brick struct {
	Values [brick.Size * brick.Size * brick.Size]float32
}

// At returns the sample at local voxel coordinates.
func (b *Brick) At(i, j, k int) float32 {
	return b.Values[(k*brick.Size+j)*brick.Size+i]
}

func (b *Brick) set(i, j, k int, v float32) {
	b.Values[(k*brick.Size+j)*brick.Size+i] = v
}

// roiField is one ROI's committed bricks plus its preview overlay.
type roiField struct {
	bricks  map[brick.Key]*Brick
	preview *annotate.BrushStroke
	version uint64
}

// Store holds the signed distance fields of all ROIs. It implements
// annotate.SDFPipeline. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	stepMM float64
	rois   map[int]*roiField
}

// NewStore creates an empty store with the given voxel step in
// millimeters.
func NewStore(stepMM float64) *Store {
	if stepMM <= 0 {
		stepMM = 0.5
	}
	return &Store{
		stepMM: stepMM,
		rois:   make(map[int]*roiField),
	}
}

// StepMM returns the voxel step in millimeters.
func (s *Store) StepMM() float64 { return s.stepMM }

// BrickMM returns the brick edge length in millimeters.
func (s *Store) BrickMM() float64 { return brick.Size * s.stepMM }

func (s *Store) roi(roiID int) *roiField {
	rf, ok := s.rois[roiID]
	if !ok {
		rf = &roiField{bricks: make(map[brick.Key]*Brick)}
		s.rois[roiID] = rf
	}
	return rf
}

// sphereSDF is the signed distance from p to the stroke sphere surface.
func sphereSDF(p, center geom.Vec3, radiusMM float64) float32 {
	return float32(p.Sub(center).Length() - radiusMM)
}

// PreviewStroke records the stroke as the ROI's preview overlay.
// Only the latest preview per ROI is retained; calling it repeatedly
// with the same stroke is a no-op on the sampled field.
func (s *Store) PreviewStroke(_ context.Context, stroke annotate.BrushStroke) error {
	if stroke.RadiusMM <= 0 {
		return fmt.Errorf("field: preview radius %v out of range", stroke.RadiusMM)
	}
	s.mu.Lock()
	st := stroke
	s.roi(stroke.RoiID).preview = &st
	s.mu.Unlock()
	return nil
}

// ClearPreview drops the ROI's preview overlay without committing it.
func (s *Store) ClearPreview(roiID int) {
	s.mu.Lock()
	if rf, ok := s.rois[roiID]; ok {
		rf.preview = nil
	}
	s.mu.Unlock()
}

// ApplyStroke commits the stroke into the bricks named by keys.
// Paint unions the sphere into the field (CSG min); erase subtracts it
// (CSG max against the negated sphere). The ROI's preview overlay is
// consumed and its version advances.
func (s *Store) ApplyStroke(ctx context.Context, stroke annotate.BrushStroke, keys []brick.Key) error {
	if stroke.RadiusMM <= 0 {
		return fmt.Errorf("field: commit radius %v out of range", stroke.RadiusMM)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rf := s.roi(stroke.RoiID)
	brickMM := s.BrickMM()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("field: commit canceled (roi=%d): %w", stroke.RoiID, err)
		}

		origin, ok := key.OriginMM(brickMM)
		if !ok {
			return fmt.Errorf("field: bad brick key %q", key)
		}

		b, ok := rf.bricks[key]
		if !ok {
			// Erasing empty space stays empty; skip the allocation.
			if stroke.Erase {
				continue
			}
			b = &Brick{}
			for i := range b.Values {
				b.Values[i] = Outside
			}
			rf.bricks[key] = b
		}

		for k := 0; k < brick.Size; k++ {
			for j := 0; j < brick.Size; j++ {
				for i := 0; i < brick.Size; i++ {
					p := geom.V3(
						origin.X+(float64(i)+0.5)*s.stepMM,
						origin.Y+(float64(j)+0.5)*s.stepMM,
						origin.Z+(float64(k)+0.5)*s.stepMM,
					)
					d := b.At(i, j, k)
					sd := sphereSDF(p, stroke.CenterMM, stroke.RadiusMM)
					if stroke.Erase {
						if -sd > d {
							b.set(i, j, k, -sd)
						}
					} else {
						if sd < d {
							b.set(i, j, k, sd)
						}
					}
				}
			}
		}
	}

	rf.preview = nil
	rf.version++
	return nil
}

// Sample returns the signed distance at a world point, committed field
// and preview overlay combined. Points in untouched space read Outside.
func (s *Store) Sample(roiID int, pointMM geom.Vec3) float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := s.committedSampleLocked(roiID, pointMM)

	rf, ok := s.rois[roiID]
	if !ok || rf.preview == nil {
		return d
	}
	sd := sphereSDF(pointMM, rf.preview.CenterMM, rf.preview.RadiusMM)
	if rf.preview.Erase {
		if -sd > d {
			return -sd
		}
		return d
	}
	if sd < d {
		return sd
	}
	return d
}

func (s *Store) committedSampleLocked(roiID int, pointMM geom.Vec3) float32 {
	rf, ok := s.rois[roiID]
	if !ok {
		return Outside
	}
	key := brick.KeyFor(pointMM, s.BrickMM())
	b, ok := rf.bricks[key]
	if !ok {
		return Outside
	}

	origin, ok2 := key.OriginMM(s.BrickMM())
	if !ok2 {
		return Outside
	}
	i := voxelIndex(pointMM.X, origin.X, s.stepMM)
	j := voxelIndex(pointMM.Y, origin.Y, s.stepMM)
	k := voxelIndex(pointMM.Z, origin.Z, s.stepMM)
	return b.At(i, j, k)
}

func voxelIndex(world, origin, step float64) int {
	idx := int((world - origin) / step)
	if idx < 0 {
		return 0
	}
	if idx >= brick.Size {
		return brick.Size - 1
	}
	return idx
}

// Inside reports whether the point is inside the ROI, preview included.
func (s *Store) Inside(roiID int, pointMM geom.Vec3) bool {
	return s.Sample(roiID, pointMM) <= 0
}

// BrickAt returns the committed brick for the key, or false if the key
// has never been painted. The returned brick is shared; callers must
// not mutate it.
func (s *Store) BrickAt(roiID int, key brick.Key) (*Brick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rf, ok := s.rois[roiID]
	if !ok {
		return nil, false
	}
	b, ok := rf.bricks[key]
	return b, ok
}

// Version returns the ROI's commit version. It advances on every
// ApplyStroke, never on previews.
func (s *Store) Version(roiID int) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rf, ok := s.rois[roiID]
	if !ok {
		return 0
	}
	return rf.version
}

// BrickCount returns how many bricks the ROI has materialized.
func (s *Store) BrickCount(roiID int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rf, ok := s.rois[roiID]
	if !ok {
		return 0
	}
	return len(rf.bricks)
}

// DropROI releases all state of a ROI.
func (s *Store) DropROI(roiID int) {
	s.mu.Lock()
	delete(s.rois, roiID)
	s.mu.Unlock()
}
