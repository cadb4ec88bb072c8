package field

import (
	"context"
	"testing"

	"github.com/voxmed/annotate"
	"github.com/voxmed/annotate/brick"
	"github.com/voxmed/annotate/geom"
)

func paintStroke(roiID int, center geom.Vec3, radius float64, erase bool) annotate.BrushStroke {
	return annotate.BrushStroke{
		RoiID:    roiID,
		CenterMM: center,
		RadiusMM: radius,
		Erase:    erase,
	}
}

// keysAround covers the stroke sphere the way the engine's default
// estimator does.
func keysAround(s *Store, stroke annotate.BrushStroke) []brick.Key {
	return brick.Around(stroke.CenterMM, stroke.RadiusMM, s.BrickMM())
}

func TestApplyStrokePaintsSphere(t *testing.T) {
	s := NewStore(0.5)
	ctx := context.Background()
	stroke := paintStroke(1, geom.V3(4, 4, 4), 3, false)

	if err := s.ApplyStroke(ctx, stroke, keysAround(s, stroke)); err != nil {
		t.Fatalf("ApplyStroke: %v", err)
	}

	if !s.Inside(1, geom.V3(4, 4, 4)) {
		t.Error("sphere center not inside")
	}
	if !s.Inside(1, geom.V3(6, 4, 4)) {
		t.Error("point 2mm from center of 3mm sphere not inside")
	}
	if s.Inside(1, geom.V3(20, 4, 4)) {
		t.Error("point far outside sphere reported inside")
	}
	if s.Inside(2, geom.V3(4, 4, 4)) {
		t.Error("other ROI sees the stroke")
	}
	if s.Version(1) != 1 {
		t.Errorf("version = %d, want 1", s.Version(1))
	}
}

func TestApplyStrokeEraseSubtracts(t *testing.T) {
	s := NewStore(0.5)
	ctx := context.Background()

	paint := paintStroke(1, geom.V3(0, 0, 0), 5, false)
	if err := s.ApplyStroke(ctx, paint, keysAround(s, paint)); err != nil {
		t.Fatal(err)
	}
	erase := paintStroke(1, geom.V3(3, 0, 0), 2, true)
	if err := s.ApplyStroke(ctx, erase, keysAround(s, erase)); err != nil {
		t.Fatal(err)
	}

	if s.Inside(1, geom.V3(3, 0, 0)) {
		t.Error("erased region still inside")
	}
	if !s.Inside(1, geom.V3(-2, 0, 0)) {
		t.Error("untouched region lost")
	}
	if s.Version(1) != 2 {
		t.Errorf("version = %d, want 2", s.Version(1))
	}
}

func TestApplyStrokeScopedToKeys(t *testing.T) {
	s := NewStore(0.5)
	ctx := context.Background()

	// The sphere spans many bricks but only one key is passed; only
	// that brick may materialize.
	stroke := paintStroke(1, geom.V3(4, 4, 4), 20, false)
	if err := s.ApplyStroke(ctx, stroke, []brick.Key{"0_0_0"}); err != nil {
		t.Fatal(err)
	}

	if s.BrickCount(1) != 1 {
		t.Fatalf("brick count = %d, want 1", s.BrickCount(1))
	}
	if !s.Inside(1, geom.V3(4, 4, 4)) {
		t.Error("inside the passed brick not painted")
	}
	// Brick 1_0_0 spans x in [8,16); inside the sphere but not the key.
	if s.Inside(1, geom.V3(12, 4, 4)) {
		t.Error("stroke leaked outside the passed keys")
	}
}

func TestEraseEmptySpaceAllocatesNothing(t *testing.T) {
	s := NewStore(0.5)
	stroke := paintStroke(1, geom.V3(0, 0, 0), 3, true)
	if err := s.ApplyStroke(context.Background(), stroke, keysAround(s, stroke)); err != nil {
		t.Fatal(err)
	}
	if s.BrickCount(1) != 0 {
		t.Errorf("brick count = %d, want 0", s.BrickCount(1))
	}
}

func TestPreviewOverlay(t *testing.T) {
	s := NewStore(0.5)
	ctx := context.Background()
	stroke := paintStroke(1, geom.V3(4, 4, 4), 3, false)

	// Preview is visible through Sample but commits nothing.
	for i := 0; i < 3; i++ {
		if err := s.PreviewStroke(ctx, stroke); err != nil {
			t.Fatalf("PreviewStroke %d: %v", i, err)
		}
	}
	if !s.Inside(1, geom.V3(4, 4, 4)) {
		t.Error("preview not visible in samples")
	}
	if s.BrickCount(1) != 0 {
		t.Errorf("preview materialized %d bricks", s.BrickCount(1))
	}
	if s.Version(1) != 0 {
		t.Errorf("preview bumped version to %d", s.Version(1))
	}

	s.ClearPreview(1)
	if s.Inside(1, geom.V3(4, 4, 4)) {
		t.Error("cleared preview still visible")
	}
}

func TestCommitConsumesPreview(t *testing.T) {
	s := NewStore(0.5)
	ctx := context.Background()

	preview := paintStroke(1, geom.V3(40, 40, 40), 3, false)
	if err := s.PreviewStroke(ctx, preview); err != nil {
		t.Fatal(err)
	}
	commit := paintStroke(1, geom.V3(4, 4, 4), 3, false)
	if err := s.ApplyStroke(ctx, commit, keysAround(s, commit)); err != nil {
		t.Fatal(err)
	}

	// The stale preview at (40,40,40) must be gone after the commit.
	if s.Inside(1, geom.V3(40, 40, 40)) {
		t.Error("commit left the preview overlay active")
	}
	if !s.Inside(1, geom.V3(4, 4, 4)) {
		t.Error("committed stroke not visible")
	}
}

func TestErasePreviewOverlay(t *testing.T) {
	s := NewStore(0.5)
	ctx := context.Background()

	paint := paintStroke(1, geom.V3(0, 0, 0), 5, false)
	if err := s.ApplyStroke(ctx, paint, keysAround(s, paint)); err != nil {
		t.Fatal(err)
	}
	erase := paintStroke(1, geom.V3(0, 0, 0), 2, true)
	if err := s.PreviewStroke(ctx, erase); err != nil {
		t.Fatal(err)
	}

	if s.Inside(1, geom.V3(0, 0, 0)) {
		t.Error("erase preview not visible at center")
	}
	if !s.Inside(1, geom.V3(3.5, 0, 0)) {
		t.Error("erase preview ate geometry outside its sphere")
	}
}

func TestBrickAtAndSampleConsistency(t *testing.T) {
	s := NewStore(0.5)
	stroke := paintStroke(1, geom.V3(4, 4, 4), 3, false)
	if err := s.ApplyStroke(context.Background(), stroke, keysAround(s, stroke)); err != nil {
		t.Fatal(err)
	}

	b, ok := s.BrickAt(1, "0_0_0")
	if !ok {
		t.Fatal("brick 0_0_0 not materialized")
	}
	// Voxel (8,8,8) of brick 0_0_0 has its center at (4.25,4.25,4.25).
	got := b.At(8, 8, 8)
	want := s.Sample(1, geom.V3(4.25, 4.25, 4.25))
	if got != want {
		t.Errorf("BrickAt sample = %v, Sample = %v", got, want)
	}
	if got >= 0 {
		t.Errorf("voxel near sphere center = %v, want negative", got)
	}
}

func TestDropROI(t *testing.T) {
	s := NewStore(0.5)
	stroke := paintStroke(1, geom.V3(0, 0, 0), 3, false)
	if err := s.ApplyStroke(context.Background(), stroke, keysAround(s, stroke)); err != nil {
		t.Fatal(err)
	}
	s.DropROI(1)
	if s.BrickCount(1) != 0 || s.Version(1) != 0 {
		t.Error("DropROI left state behind")
	}
}

func TestApplyStrokeRejectsBadRadius(t *testing.T) {
	s := NewStore(0.5)
	stroke := paintStroke(1, geom.V3(0, 0, 0), 0, false)
	if err := s.ApplyStroke(context.Background(), stroke, nil); err == nil {
		t.Error("zero radius accepted")
	}
	if err := s.PreviewStroke(context.Background(), stroke); err == nil {
		t.Error("zero radius preview accepted")
	}
}
