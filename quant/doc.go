// Package quant implements the fixed-point vertex codec used by the GPU
// mesh and slice pipelines.
//
// Mesh vertices are stored GPU-side as 8 bytes each: three 16-bit signed
// fixed-point coordinates plus a 16-bit flag field, packed into two
// 32-bit words. Coordinates are expressed relative to a per-buffer
// origin ([Meta]) in units of the global quantization step, so a single
// buffer can cover a region of ±15000 steps around its origin.
//
// Encoding may leave that range; this is a signaled condition
// (Quantize reports inRange=false), not an error. The marching-cubes
// dispatch pipeline treats it as retryable by relocating the origin.
// Decoding is total: every packed value decodes to a finite point.
//
// A [Meta] must travel with the vertex buffer it was used to encode.
// Decoding vertices against a Meta from a different commit silently
// produces wrong coordinates.
package quant
