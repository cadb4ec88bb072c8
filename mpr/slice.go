package mpr

import (
	"context"
	"fmt"

	"github.com/voxmed/annotate/brick"
	"github.com/voxmed/annotate/internal/logx"
)

// DefaultLineBudget is the shared per-sync contour line budget across
// all three views.
const DefaultLineBudget = 4096

// Target names one slice of one view to re-extract.
type Target struct {
	View       ViewType
	SliceIndex int
}

// Request is the input to the slice dispatch kernel.
type Request struct {
	RoiID int

	// Keys are the dirty bricks whose slice intersections changed.
	Keys []brick.Key

	Targets []Target

	// LineBudget is a sizing hint for the kernel's output pools; the
	// authoritative budget clamp happens in the pipeline.
	LineBudget int
}

// RawCounters is the kernel's per-target outcome before budgeting.
type RawCounters struct {
	View          ViewType
	SliceIndex    int
	LineCount     int
	Overflow      int
	QuantOverflow int
}

// Kernel is the MPR slice dispatch collaborator.
type Kernel interface {
	Dispatch(ctx context.Context, req *Request) ([]RawCounters, error)
}

// SliceResult is one view's budgeted extraction outcome.
type SliceResult struct {
	View          ViewType
	SliceIndex    int
	LineCount     int
	DeferredLines int
	Overflow      int
	QuantOverflow int
}

// Result aggregates the budgeted outcome of one pipeline call.
type Result struct {
	Slices             []SliceResult
	TotalLineCount     int
	TotalDeferredLines int

	// BudgetHit is true iff any view had lines deferred.
	BudgetHit bool
}

// Pipeline applies the shared line budget to slice kernel dispatches.
//
// Views are consumed in the fixed order axial, sagittal, coronal: each
// view's line count is clamped to the remaining budget, the clamped
// amount becomes that view's deferred lines, and the remaining budget
// decreases monotonically. Later-ordered views are starved first under
// heavy load; that is a deliberate fairness trade-off that keeps the
// per-commit rendering cost bounded no matter how many bricks a stroke
// touches.
type Pipeline struct {
	kernel Kernel
	budget int
	cache  *ContourCache
}

// NewPipeline creates a slice pipeline with the given default budget.
// budget <= 0 means DefaultLineBudget. cache may be nil to disable
// contour caching.
func NewPipeline(kernel Kernel, budget int, cache *ContourCache) *Pipeline {
	if budget <= 0 {
		budget = DefaultLineBudget
	}
	return &Pipeline{kernel: kernel, budget: budget, cache: cache}
}

// ExtractSpec describes one budgeted extraction.
type ExtractSpec struct {
	RoiID   int
	Keys    []brick.Key
	Targets []Target

	// LineBudget overrides the pipeline default when > 0.
	LineBudget int

	// Version is the ROI's commit version, used as the contour cache
	// discriminator. Results cached under older versions are stale.
	Version uint64
}

// Extract dispatches the kernel for all cache-missing targets and
// applies the shared line budget across the views in fixed order.
func (p *Pipeline) Extract(ctx context.Context, spec *ExtractSpec) (Result, error) {
	budget := spec.LineBudget
	if budget <= 0 {
		budget = p.budget
	}

	raw, err := p.gatherCounters(ctx, spec)
	if err != nil {
		return Result{}, err
	}

	// Budget drain in fixed view order, independent of target order.
	var res Result
	remaining := budget
	for _, view := range Views {
		rc, ok := raw[view]
		if !ok {
			continue
		}
		granted := rc.LineCount
		if granted > remaining {
			granted = remaining
		}
		deferred := rc.LineCount - granted
		remaining -= granted

		res.Slices = append(res.Slices, SliceResult{
			View:          view,
			SliceIndex:    rc.SliceIndex,
			LineCount:     granted,
			DeferredLines: deferred,
			Overflow:      rc.Overflow,
			QuantOverflow: rc.QuantOverflow,
		})
		res.TotalLineCount += granted
		res.TotalDeferredLines += deferred
	}
	res.BudgetHit = res.TotalDeferredLines > 0

	if res.BudgetHit {
		logx.Logger().Debug("slice budget hit",
			"roi", spec.RoiID, "budget", budget, "deferred", res.TotalDeferredLines)
	}
	return res, nil
}

// gatherCounters returns raw per-view counters, consulting the contour
// cache first and dispatching the kernel only for the misses.
func (p *Pipeline) gatherCounters(ctx context.Context, spec *ExtractSpec) (map[ViewType]RawCounters, error) {
	raw := make(map[ViewType]RawCounters, len(spec.Targets))
	var misses []Target

	for _, tgt := range spec.Targets {
		if p.cache != nil {
			if rc, ok := p.cache.Get(spec.RoiID, tgt.View, tgt.SliceIndex, spec.Version); ok {
				raw[tgt.View] = rc
				continue
			}
		}
		misses = append(misses, tgt)
	}

	if len(misses) > 0 {
		counters, err := p.kernel.Dispatch(ctx, &Request{
			RoiID:      spec.RoiID,
			Keys:       spec.Keys,
			Targets:    misses,
			LineBudget: p.budget,
		})
		if err != nil {
			return nil, fmt.Errorf("mpr: slice dispatch failed (roi=%d): %w", spec.RoiID, err)
		}
		for _, rc := range counters {
			raw[rc.View] = rc
			if p.cache != nil {
				p.cache.Put(spec.RoiID, rc.View, rc.SliceIndex, spec.Version, rc)
			}
		}
	}
	return raw, nil
}
