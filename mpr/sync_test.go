package mpr

import (
	"context"
	"errors"
	"testing"

	"github.com/voxmed/annotate/geom"
)

func TestCoordinatorSync(t *testing.T) {
	k := &countKernel{lines: map[ViewType]int{Axial: 2, Sagittal: 3, Coronal: 4}}
	p := NewPipeline(k, 4096, nil)

	var callbackOrder []ViewType
	coord := NewCoordinator(p, func(view ViewType, sliceIndex int, res SliceResult) {
		callbackOrder = append(callbackOrder, view)
		if res.View != view {
			t.Errorf("callback result view = %v, want %v", res.View, view)
		}
	})

	ev, err := coord.Sync(context.Background(), &SyncRequest{
		RoiID:    3,
		Targets:  allTargets(),
		CenterMM: geom.V3(1, 2, 3),
		RadiusMM: 5,
		Erase:    true,
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if len(callbackOrder) != 3 ||
		callbackOrder[0] != Axial || callbackOrder[1] != Sagittal || callbackOrder[2] != Coronal {
		t.Errorf("callback order = %v, want [axial sagittal coronal]", callbackOrder)
	}

	if ev.RoiID != 3 || ev.TotalLineCount != 9 || ev.BudgetHit {
		t.Errorf("event = %+v, want roi 3, 9 lines, no budget hit", ev)
	}
	if ev.CenterMM != geom.V3(1, 2, 3) || ev.RadiusMM != 5 || !ev.Erase {
		t.Errorf("stroke context not merged: %+v", ev)
	}
}

func TestCoordinatorSyncError(t *testing.T) {
	kernErr := errors.New("kernel down")
	p := NewPipeline(&countKernel{err: kernErr}, 0, nil)

	fired := false
	coord := NewCoordinator(p, func(ViewType, int, SliceResult) { fired = true })

	_, err := coord.Sync(context.Background(), &SyncRequest{Targets: allTargets()})
	if !errors.Is(err, kernErr) {
		t.Fatalf("error = %v, want wrapped kernel error", err)
	}
	if fired {
		t.Error("view callback fired despite extraction failure")
	}
}

func TestCoordinatorNilCallback(t *testing.T) {
	k := &countKernel{lines: map[ViewType]int{Axial: 1}}
	coord := NewCoordinator(NewPipeline(k, 0, nil), nil)

	if _, err := coord.Sync(context.Background(), &SyncRequest{
		Targets: []Target{{View: Axial, SliceIndex: 0}},
	}); err != nil {
		t.Fatalf("Sync with nil callback: %v", err)
	}
}
