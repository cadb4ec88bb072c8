package quant

import (
	"math"

	"github.com/voxmed/annotate/geom"
)

// Quantization range limits. Encoded integer components must lie in
// [Min, Max]; the symmetric range keeps one step of headroom below the
// int16 limits so GPU kernels can offset without wrapping.
const (
	Min = -15000
	Max = 15000
)

// DefaultStepMM is the global quantization step in millimeters.
// One encoded unit corresponds to this distance in world space.
const DefaultStepMM = 0.5

// Vertex is the packed 8-byte GPU vertex representation.
// Lo holds x in bits 0-15 and y in bits 16-31; Hi holds z in bits 0-15
// and the flag field in bits 16-31. Coordinate fields are two's-complement
// 16-bit signed integers.
type Vertex struct {
	Lo uint32
	Hi uint32
}

// QVec is a quantized coordinate triple prior to packing.
type QVec struct {
	X, Y, Z int16
}

// Meta is the affine frame a batch of packed vertices is expressed in.
// It must travel with its vertex buffer version-for-version; mixing
// metas from different commits corrupts decoding.
type Meta struct {
	// OriginMM is the world-space point that encodes as (0,0,0).
	OriginMM geom.Vec3

	// StepMM is the size of one encoded unit in millimeters.
	StepMM float64
}

// Quantize maps a world-space point to fixed-point coordinates relative
// to origin. Rounding is round-half-away-from-zero on the scaled delta.
//
// inRange is true iff all three components lie in [Min, Max]. An
// out-of-range result is still returned (truncated to int16 wrapping is
// NOT applied; components are clamped) so callers can inspect it, but
// it must not be packed into a buffer.
func Quantize(pointMM, originMM geom.Vec3, stepMM float64) (q QVec, inRange bool) {
	qx := roundHalfAway((pointMM.X - originMM.X) / stepMM)
	qy := roundHalfAway((pointMM.Y - originMM.Y) / stepMM)
	qz := roundHalfAway((pointMM.Z - originMM.Z) / stepMM)

	inRange = qx >= Min && qx <= Max &&
		qy >= Min && qy <= Max &&
		qz >= Min && qz <= Max

	return QVec{X: clamp16(qx), Y: clamp16(qy), Z: clamp16(qz)}, inRange
}

// Pack assembles three 16-bit signed coordinates and a 16-bit flag field
// into the packed vertex representation. Pack is a bijection on its
// four fields; Unpack recovers them exactly.
func Pack(qx, qy, qz int16, flags uint16) Vertex {
	return Vertex{
		Lo: uint32(uint16(qx)) | uint32(uint16(qy))<<16,
		Hi: uint32(uint16(qz)) | uint32(flags)<<16,
	}
}

// Unpack recovers the coordinate and flag fields from a packed vertex.
func Unpack(v Vertex) (qx, qy, qz int16, flags uint16) {
	qx = int16(uint16(v.Lo & 0xFFFF))
	qy = int16(uint16(v.Lo >> 16))
	qz = int16(uint16(v.Hi & 0xFFFF))
	flags = uint16(v.Hi >> 16)
	return
}

// Decode maps a packed vertex back to world space under the given meta.
// Decode is total: no range check is performed, and for every value
// produced by Pack the round trip is exact up to IEEE rounding.
// The flag field does not participate in decoding.
func Decode(v Vertex, meta Meta) geom.Vec3 {
	qx, qy, qz, _ := Unpack(v)
	return geom.Vec3{
		X: meta.OriginMM.X + float64(qx)*meta.StepMM,
		Y: meta.OriginMM.Y + float64(qy)*meta.StepMM,
		Z: meta.OriginMM.Z + float64(qz)*meta.StepMM,
	}
}

// Encode quantizes and packs a point in one step.
// inRange reporting matches Quantize.
func Encode(pointMM geom.Vec3, meta Meta, flags uint16) (v Vertex, inRange bool) {
	q, ok := Quantize(pointMM, meta.OriginMM, meta.StepMM)
	return Pack(q.X, q.Y, q.Z, flags), ok
}

// roundHalfAway rounds to the nearest integer with ties away from zero.
// math.Round already implements this convention.
func roundHalfAway(x float64) int {
	return int(math.Round(x))
}

// clamp16 narrows an int to int16 range without wrapping.
func clamp16(x int) int16 {
	if x > math.MaxInt16 {
		return math.MaxInt16
	}
	if x < math.MinInt16 {
		return math.MinInt16
	}
	return int16(x)
}
