package meshpipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxmed/annotate/brick"
	"github.com/voxmed/annotate/geom"
	"github.com/voxmed/annotate/internal/logx"
)

// Defaults for the retry policy.
const (
	// DefaultMaxRetries is the total number of dispatch attempts before
	// the batch fails fatally.
	DefaultMaxRetries = 3

	// DefaultGrowthFactor is the capacity multiplier applied on overflow.
	DefaultGrowthFactor = 2

	// DefaultCapacity is the initial vertex capacity when the caller
	// does not seed one.
	DefaultCapacity = 4096
)

// ErrRetriesExhausted is returned when a batch still overflows after
// the configured number of attempts. It is fatal for that commit batch.
var ErrRetriesExhausted = errors.New("meshpipe: retries exhausted")

// RerunReason records which recovery strategy forced the last rerun.
type RerunReason string

// Rerun reasons.
const (
	RerunNone          RerunReason = ""
	RerunOverflow      RerunReason = "overflow"
	RerunQuantOverflow RerunReason = "quantOverflow"
)

// DispatchSpec describes one commit batch to mesh, including the
// recovery inputs the retry loop may switch to.
type DispatchSpec struct {
	RoiID int
	Keys  []brick.Key

	// InitialCapacity seeds the vertex capacity for attempt 1.
	// Zero means DefaultCapacity.
	InitialCapacity int

	// QuantOriginMM is the quantization origin for attempt 1.
	QuantOriginMM geom.Vec3

	// QuantFallbackOriginMM is the origin to relocate to on
	// quantOverflow. Nil reuses QuantOriginMM.
	QuantFallbackOriginMM *geom.Vec3
}

// DispatchResult is the outcome of one (possibly retried) dispatch.
type DispatchResult struct {
	VertexCount   int
	IndexCount    int
	Overflow      int
	QuantOverflow int

	// Attempts is the number of kernel dispatches performed, >= 1.
	Attempts int

	// RerunReason is the reason for the last rerun, empty if the first
	// attempt succeeded.
	RerunReason RerunReason

	// FinalCapacity is the vertex capacity of the successful attempt.
	FinalCapacity int

	// QuantOriginMM is the origin of the successful attempt.
	QuantOriginMM geom.Vec3
}

// Pipeline drives the retry state machine around a mesh kernel.
type Pipeline struct {
	kernel       Kernel
	maxRetries   int
	growthFactor int
}

// NewPipeline creates a pipeline around kernel. maxRetries <= 0 and
// growthFactor < 2 fall back to the defaults.
func NewPipeline(kernel Kernel, maxRetries, growthFactor int) *Pipeline {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if growthFactor < 2 {
		growthFactor = DefaultGrowthFactor
	}
	return &Pipeline{kernel: kernel, maxRetries: maxRetries, growthFactor: growthFactor}
}

// outcome is the tagged result of classifying one attempt's counters.
type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeRetryCapacity
	outcomeRetryOrigin
)

// classify decides the next state from raw dispatch counters.
// Capacity overflow is checked before quantization overflow: growing
// the buffer may change which vertices are even emitted, so the
// capacity strategy wins when both signals fire.
func classify(c Counters) outcomeKind {
	switch {
	case c.Overflow > 0:
		return outcomeRetryCapacity
	case c.QuantOverflow > 0:
		return outcomeRetryOrigin
	default:
		return outcomeOK
	}
}

// Dispatch runs the kernel for one batch, applying capacity growth and
// origin relocation until success or retry exhaustion.
func (p *Pipeline) Dispatch(ctx context.Context, spec *DispatchSpec) (DispatchResult, error) {
	capacity := spec.InitialCapacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	origin := spec.QuantOriginMM
	lastReason := RerunNone

	for attempt := 1; ; attempt++ {
		counters, err := p.kernel.Dispatch(ctx, &Request{
			RoiID:         spec.RoiID,
			Keys:          spec.Keys,
			Capacity:      capacity,
			QuantOriginMM: origin,
		})
		if err != nil {
			return DispatchResult{}, fmt.Errorf("meshpipe: kernel dispatch failed (roi=%d attempt=%d): %w",
				spec.RoiID, attempt, err)
		}

		switch classify(counters) {
		case outcomeOK:
			return DispatchResult{
				VertexCount:   counters.VertexCount,
				IndexCount:    counters.IndexCount,
				Overflow:      counters.Overflow,
				QuantOverflow: counters.QuantOverflow,
				Attempts:      attempt,
				RerunReason:   lastReason,
				FinalCapacity: capacity,
				QuantOriginMM: origin,
			}, nil

		case outcomeRetryCapacity:
			if attempt >= p.maxRetries {
				return DispatchResult{}, fmt.Errorf(
					"meshpipe: batch for roi %d still overflowing after %d attempts (capacity=%d): %w",
					spec.RoiID, attempt, capacity, ErrRetriesExhausted)
			}
			capacity *= p.growthFactor
			lastReason = RerunOverflow
			logx.Logger().Warn("mesh dispatch overflow, growing capacity",
				"roi", spec.RoiID, "attempt", attempt, "capacity", capacity)

		case outcomeRetryOrigin:
			if attempt >= p.maxRetries {
				return DispatchResult{}, fmt.Errorf(
					"meshpipe: batch for roi %d still outside quantization range after %d attempts: %w",
					spec.RoiID, attempt, ErrRetriesExhausted)
			}
			if spec.QuantFallbackOriginMM != nil {
				origin = *spec.QuantFallbackOriginMM
			}
			lastReason = RerunQuantOverflow
			logx.Logger().Warn("mesh dispatch quantization overflow, relocating origin",
				"roi", spec.RoiID, "attempt", attempt,
				"origin_x", origin.X, "origin_y", origin.Y, "origin_z", origin.Z)
		}
	}
}
