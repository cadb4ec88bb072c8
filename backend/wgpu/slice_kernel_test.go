package wgpu

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/voxmed/annotate/geom"
	"github.com/voxmed/annotate/mpr"
	"github.com/voxmed/annotate/quant"
)

func TestSliceKernelExtractsContours(t *testing.T) {
	store, keys := paintedStore(t, geom.V3(0, 0, 0), 5)
	k := NewReferenceSliceKernel(store, store.StepMM())

	// Slice 256 of 512 passes near the workspace center for each view.
	out, err := k.Dispatch(context.Background(), &mpr.Request{
		RoiID: 1,
		Keys:  keys,
		Targets: []mpr.Target{
			{View: mpr.Axial, SliceIndex: 256},
			{View: mpr.Sagittal, SliceIndex: 256},
			{View: mpr.Coronal, SliceIndex: 256},
		},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("targets answered = %d, want 3", len(out))
	}
	for _, rc := range out {
		if rc.LineCount == 0 {
			t.Errorf("%s slice %d: no contour lines through the sphere", rc.View, rc.SliceIndex)
		}
		if rc.Overflow != 0 || rc.QuantOverflow != 0 {
			t.Errorf("%s overflow = %d/%d, want 0/0", rc.View, rc.Overflow, rc.QuantOverflow)
		}
	}
	// The sphere is symmetric; all three central cross sections match.
	if out[0].LineCount != out[1].LineCount || out[1].LineCount != out[2].LineCount {
		t.Errorf("asymmetric contour counts: %d/%d/%d",
			out[0].LineCount, out[1].LineCount, out[2].LineCount)
	}
}

func TestSliceKernelMissingPlane(t *testing.T) {
	store, keys := paintedStore(t, geom.V3(0, 0, 0), 5)
	k := NewReferenceSliceKernel(store, store.StepMM())

	// Slice 0 sits at -128mm, far outside the 5mm sphere.
	out, err := k.Dispatch(context.Background(), &mpr.Request{
		RoiID:   1,
		Keys:    keys,
		Targets: []mpr.Target{{View: mpr.Axial, SliceIndex: 0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].LineCount != 0 {
		t.Errorf("LineCount = %d, want 0 off the geometry", out[0].LineCount)
	}
}

func TestSliceKernelOverflowAgainstBudgetHint(t *testing.T) {
	store, keys := paintedStore(t, geom.V3(0, 0, 0), 5)
	k := NewReferenceSliceKernel(store, store.StepMM())

	full, err := k.Dispatch(context.Background(), &mpr.Request{
		RoiID:   1,
		Keys:    keys,
		Targets: []mpr.Target{{View: mpr.Axial, SliceIndex: 256}},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := full[0].LineCount
	if lines <= 5 {
		t.Fatalf("test sphere too small: %d lines", lines)
	}

	out, err := k.Dispatch(context.Background(), &mpr.Request{
		RoiID:      1,
		Keys:       keys,
		Targets:    []mpr.Target{{View: mpr.Axial, SliceIndex: 256}},
		LineBudget: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].LineCount != lines {
		t.Errorf("demand = %d, want %d", out[0].LineCount, lines)
	}
	if out[0].Overflow != lines-5 {
		t.Errorf("Overflow = %d, want %d", out[0].Overflow, lines-5)
	}
}

func TestSliceKernelRejectsOutOfRangeIndex(t *testing.T) {
	store, keys := paintedStore(t, geom.V3(0, 0, 0), 5)
	k := NewReferenceSliceKernel(store, store.StepMM())

	_, err := k.Dispatch(context.Background(), &mpr.Request{
		RoiID:   1,
		Keys:    keys,
		Targets: []mpr.Target{{View: mpr.Axial, SliceIndex: 512}},
	})
	if err == nil {
		t.Error("out-of-range slice index accepted")
	}
}

func TestSliceKernelSetGeometry(t *testing.T) {
	store, keys := paintedStore(t, geom.V3(0, 0, 0), 5)
	k := NewReferenceSliceKernel(store, store.StepMM())
	k.SetGeometry([3]float64{64, 64, 64}, [3]int{1, 1, 1})

	// A single-slice view places its only plane at the workspace center.
	out, err := k.Dispatch(context.Background(), &mpr.Request{
		RoiID:   1,
		Keys:    keys,
		Targets: []mpr.Target{{View: mpr.Coronal, SliceIndex: 0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].LineCount == 0 {
		t.Error("central plane of a single-slice view missed the sphere")
	}
}

func TestGPUStructSerialization(t *testing.T) {
	cfg := sliceConfigToBytes(GPUSliceConfig{
		LineCapacity: 4096,
		BrickCount:   7,
		BrickSize:    16,
		Axis:         2,
		PlaneMM:      0.25,
		StepMM:       0.5,
	})
	if len(cfg) != 32 {
		t.Fatalf("slice config size = %d, want 32", len(cfg))
	}
	if got := binary.LittleEndian.Uint32(cfg[0:]); got != 4096 {
		t.Errorf("line capacity word = %d, want 4096", got)
	}
	if got := binary.LittleEndian.Uint32(cfg[12:]); got != 2 {
		t.Errorf("axis word = %d, want 2", got)
	}

	mesh := meshConfigToBytes(GPUMeshConfig{Capacity: 1024, BrickCount: 3, BrickSize: 16, StepMM: 0.5})
	if len(mesh) != 32 {
		t.Fatalf("mesh config size = %d, want 32", len(mesh))
	}

	headers := brickHeadersToBytes([]GPUBrickHeader{{BX: -1, BY: 2, BZ: 3}})
	if len(headers) != 16 {
		t.Fatalf("header size = %d, want 16", len(headers))
	}
	if got := int32(binary.LittleEndian.Uint32(headers[0:])); got != -1 {
		t.Errorf("bx word = %d, want -1", got)
	}

	verts := verticesToBytes([]quant.Vertex{quant.Pack(1, -2, 3, 0)})
	if len(verts) != 8 {
		t.Fatalf("vertex size = %d, want 8", len(verts))
	}
	lo := binary.LittleEndian.Uint32(verts[0:])
	if int16(lo&0xffff) != 1 || int16(lo>>16) != -2 {
		t.Errorf("vertex lo word = %#x, want packed (1, -2)", lo)
	}
}
