package wgpu

import (
	"math"

	"github.com/voxmed/annotate/quant"
)

// GPUBrickHeader is the GPU-compatible brick address record.
// Must match BrickHeader in mesh_extract.wgsl and slice_contour.wgsl.
type GPUBrickHeader struct {
	BX      int32
	BY      int32
	BZ      int32
	Padding int32
}

// Byte serialization helpers for GPU buffer upload.

func writeUint32(buf []byte, offset int, val uint32) {
	buf[offset] = byte(val)
	buf[offset+1] = byte(val >> 8)
	buf[offset+2] = byte(val >> 16)
	buf[offset+3] = byte(val >> 24)
}

func writeInt32(buf []byte, offset int, val int32) {
	writeUint32(buf, offset, uint32(val))
}

func writeFloat32(buf []byte, offset int, val float32) {
	writeUint32(buf, offset, math.Float32bits(val))
}

func brickHeadersToBytes(headers []GPUBrickHeader) []byte {
	buf := make([]byte, len(headers)*16)
	for i, h := range headers {
		off := i * 16
		writeInt32(buf, off+0, h.BX)
		writeInt32(buf, off+4, h.BY)
		writeInt32(buf, off+8, h.BZ)
		writeInt32(buf, off+12, h.Padding)
	}
	return buf
}

func verticesToBytes(vertices []quant.Vertex) []byte {
	buf := make([]byte, len(vertices)*8)
	for i, v := range vertices {
		off := i * 8
		writeUint32(buf, off+0, v.Lo)
		writeUint32(buf, off+4, v.Hi)
	}
	return buf
}

func sdfToBytes(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		writeFloat32(buf, i*4, v)
	}
	return buf
}
