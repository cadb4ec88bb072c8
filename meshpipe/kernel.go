package meshpipe

import (
	"context"

	"github.com/voxmed/annotate/brick"
	"github.com/voxmed/annotate/geom"
)

// Request describes one mesh-extraction dispatch attempt.
type Request struct {
	// RoiID selects the ROI whose implicit field is meshed.
	RoiID int

	// Keys are the dirty bricks to re-extract. The kernel must only
	// touch geometry within these bricks.
	Keys []brick.Key

	// Capacity is the vertex capacity of the output pools for this
	// attempt. The kernel reports overflow instead of writing past it.
	Capacity int

	// QuantOriginMM is the origin vertices are quantized against.
	QuantOriginMM geom.Vec3
}

// Counters is the raw outcome of a single kernel dispatch.
// The kernel is pure request/response: no side effects are visible to
// the pipeline beyond these counters.
type Counters struct {
	// VertexCount and IndexCount are the extracted totals. On overflow
	// they report the demanded size, not the written size.
	VertexCount int
	IndexCount  int

	// Overflow is the number of vertices that did not fit in Capacity.
	Overflow int

	// QuantOverflow is the number of vertices outside the quantization
	// range under the request origin.
	QuantOverflow int
}

// Kernel is the mesh-extraction compute dispatch collaborator.
// Implementations live in backend packages; tests use fakes.
type Kernel interface {
	Dispatch(ctx context.Context, req *Request) (Counters, error)
}
