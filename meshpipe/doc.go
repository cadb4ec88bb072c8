// Package meshpipe wraps the marching-cubes mesh-extraction compute
// dispatch in a retry/growth policy.
//
// A dispatch can fail in two orthogonal, recoverable ways:
//
//   - overflow: the output vertex/index buffers were too small. The
//     pipeline grows capacity by the growth factor and reruns.
//   - quantOverflow: some extracted vertex fell outside the ±15000-step
//     quantization range under the current origin. The pipeline
//     relocates to the fallback origin and reruns.
//
// Buffer growth and coordinate-frame relocation are deliberately kept
// separate recovery strategies: conflating them would mean always
// over-allocating or always re-centering, both wasteful.
//
// After the configured number of attempts without success the dispatch
// fails with [ErrRetriesExhausted]; the caller must surface that as a
// failed commit batch, never silently drop it.
package meshpipe
