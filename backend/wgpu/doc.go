// Package wgpu provides the GPU compute kernels for mesh extraction
// and MPR slice contour extraction, built on the wgpu HAL with WGSL
// shaders compiled through naga.
//
// Each kernel exists in two forms: the GPU form, which owns compute
// pipelines on a hal.Device, and the reference form, which runs the
// same algorithm on the CPU against the field store. The GPU form
// currently mirrors its dispatch on the CPU as well; binding the SDF
// and output pools as GPU buffers requires HAL API extensions to
// expose buffer handles. Counters are identical between the two paths.
package wgpu
