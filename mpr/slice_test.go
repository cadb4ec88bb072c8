package mpr

import (
	"context"
	"errors"
	"testing"

	"github.com/voxmed/annotate/brick"
)

// countKernel returns a fixed line count per view and records dispatches.
type countKernel struct {
	lines      map[ViewType]int
	dispatches int
	err        error
}

func (k *countKernel) Dispatch(_ context.Context, req *Request) ([]RawCounters, error) {
	k.dispatches++
	if k.err != nil {
		return nil, k.err
	}
	out := make([]RawCounters, 0, len(req.Targets))
	for _, tgt := range req.Targets {
		out = append(out, RawCounters{
			View:       tgt.View,
			SliceIndex: tgt.SliceIndex,
			LineCount:  k.lines[tgt.View],
		})
	}
	return out, nil
}

func allTargets() []Target {
	return []Target{
		{View: Axial, SliceIndex: 10},
		{View: Sagittal, SliceIndex: 20},
		{View: Coronal, SliceIndex: 30},
	}
}

func TestExtractBudgetStarvesLaterViews(t *testing.T) {
	k := &countKernel{lines: map[ViewType]int{Axial: 10, Sagittal: 10, Coronal: 10}}
	p := NewPipeline(k, DefaultLineBudget, nil)

	res, err := p.Extract(context.Background(), &ExtractSpec{
		RoiID:      1,
		Keys:       []brick.Key{"0_0_0"},
		Targets:    allTargets(),
		LineBudget: 6,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := []SliceResult{
		{View: Axial, SliceIndex: 10, LineCount: 6, DeferredLines: 4},
		{View: Sagittal, SliceIndex: 20, LineCount: 0, DeferredLines: 10},
		{View: Coronal, SliceIndex: 30, LineCount: 0, DeferredLines: 10},
	}
	if len(res.Slices) != len(want) {
		t.Fatalf("got %d slices, want %d", len(res.Slices), len(want))
	}
	for i, w := range want {
		if res.Slices[i] != w {
			t.Errorf("slice[%d] = %+v, want %+v", i, res.Slices[i], w)
		}
	}
	if !res.BudgetHit {
		t.Error("BudgetHit = false, want true")
	}
	if res.TotalDeferredLines != 24 {
		t.Errorf("TotalDeferredLines = %d, want 24", res.TotalDeferredLines)
	}
	if res.TotalLineCount != 6 {
		t.Errorf("TotalLineCount = %d, want 6", res.TotalLineCount)
	}
}

func TestExtractWithinBudget(t *testing.T) {
	k := &countKernel{lines: map[ViewType]int{Axial: 5, Sagittal: 7, Coronal: 3}}
	p := NewPipeline(k, 4096, nil)

	res, err := p.Extract(context.Background(), &ExtractSpec{RoiID: 1, Targets: allTargets()})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.BudgetHit {
		t.Error("BudgetHit = true within budget")
	}
	if res.TotalLineCount != 15 || res.TotalDeferredLines != 0 {
		t.Errorf("totals = %d/%d, want 15/0", res.TotalLineCount, res.TotalDeferredLines)
	}
}

func TestExtractFixedOrderRegardlessOfTargetOrder(t *testing.T) {
	k := &countKernel{lines: map[ViewType]int{Axial: 4, Sagittal: 4, Coronal: 4}}
	p := NewPipeline(k, 4096, nil)

	// Targets supplied coronal-first must still drain axial-first.
	res, err := p.Extract(context.Background(), &ExtractSpec{
		RoiID: 1,
		Targets: []Target{
			{View: Coronal, SliceIndex: 3},
			{View: Axial, SliceIndex: 1},
			{View: Sagittal, SliceIndex: 2},
		},
		LineBudget: 6,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Slices[0].View != Axial || res.Slices[1].View != Sagittal || res.Slices[2].View != Coronal {
		t.Errorf("slice order = %v,%v,%v, want axial,sagittal,coronal",
			res.Slices[0].View, res.Slices[1].View, res.Slices[2].View)
	}
	// Axial and half of sagittal fit; coronal is starved.
	if res.Slices[0].LineCount != 4 || res.Slices[1].LineCount != 2 || res.Slices[2].LineCount != 0 {
		t.Errorf("granted = %d,%d,%d, want 4,2,0",
			res.Slices[0].LineCount, res.Slices[1].LineCount, res.Slices[2].LineCount)
	}
}

func TestExtractKernelError(t *testing.T) {
	kernErr := errors.New("dispatch failed")
	p := NewPipeline(&countKernel{err: kernErr}, 0, nil)

	_, err := p.Extract(context.Background(), &ExtractSpec{Targets: allTargets()})
	if !errors.Is(err, kernErr) {
		t.Fatalf("error = %v, want wrapped kernel error", err)
	}
}

func TestExtractUsesContourCache(t *testing.T) {
	k := &countKernel{lines: map[ViewType]int{Axial: 3, Sagittal: 3, Coronal: 3}}
	cache := NewContourCache(0)
	p := NewPipeline(k, 4096, cache)

	spec := &ExtractSpec{RoiID: 1, Targets: allTargets(), Version: 7}
	if _, err := p.Extract(context.Background(), spec); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if k.dispatches != 1 {
		t.Fatalf("dispatches = %d, want 1", k.dispatches)
	}

	// Same version: all targets served from cache, no new dispatch.
	if _, err := p.Extract(context.Background(), spec); err != nil {
		t.Fatalf("Extract (cached): %v", err)
	}
	if k.dispatches != 1 {
		t.Errorf("dispatches after cached call = %d, want 1", k.dispatches)
	}

	// Bumped version: cache entries are stale, kernel runs again.
	spec2 := *spec
	spec2.Version = 8
	if _, err := p.Extract(context.Background(), &spec2); err != nil {
		t.Fatalf("Extract (new version): %v", err)
	}
	if k.dispatches != 2 {
		t.Errorf("dispatches after version bump = %d, want 2", k.dispatches)
	}
}
