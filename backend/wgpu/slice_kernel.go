package wgpu

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	types "github.com/gogpu/gputypes"

	"github.com/voxmed/annotate/brick"
	"github.com/voxmed/annotate/field"
	"github.com/voxmed/annotate/mpr"
	"github.com/voxmed/annotate/quant"
)

//go:embed shaders/slice_contour.wgsl
var sliceShaderWGSL string

// Default slice geometry, matching the engine defaults.
const (
	defaultWorkspaceMM = 256.0
	defaultSliceCount  = 512
)

// GPUSliceConfig is the uniform block of the slice contour dispatch.
// Must match Config in slice_contour.wgsl.
type GPUSliceConfig struct {
	LineCapacity uint32
	BrickCount   uint32
	BrickSize    uint32
	Axis         uint32
	PlaneMM      float32
	StepMM       float32
	Padding1     uint32
	Padding2     uint32
}

func sliceConfigToBytes(c GPUSliceConfig) []byte {
	buf := make([]byte, 32)
	writeUint32(buf, 0, c.LineCapacity)
	writeUint32(buf, 4, c.BrickCount)
	writeUint32(buf, 8, c.BrickSize)
	writeUint32(buf, 12, c.Axis)
	writeFloat32(buf, 16, c.PlaneMM)
	writeFloat32(buf, 20, c.StepMM)
	writeUint32(buf, 24, c.Padding1)
	writeUint32(buf, 28, c.Padding2)
	return buf
}

// SliceKernel extracts 2D contour lines from the plane cross sections
// of dirty SDF bricks. It implements mpr.Kernel.
type SliceKernel struct {
	mu sync.Mutex

	store  *field.Store
	stepMM float64

	// Slice geometry: world extent per axis and slice count per view.
	workspaceMM [3]float64
	sliceCounts [3]int

	device hal.Device
	queue  hal.Queue

	contourPipeline  hal.ComputePipeline
	shaderModule     hal.ShaderModule
	pipelineLayout   hal.PipelineLayout
	inputBindLayout  hal.BindGroupLayout
	outputBindLayout hal.BindGroupLayout

	spirvCode []uint32

	initialized bool
	shaderReady bool
}

// NewSliceKernel creates a GPU slice kernel on the given device.
func NewSliceKernel(device hal.Device, queue hal.Queue, store *field.Store, stepMM float64) (*SliceKernel, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("wgpu: slice kernel requires device and queue")
	}
	if store == nil {
		return nil, fmt.Errorf("wgpu: slice kernel requires a field store")
	}

	k := newSliceKernel(store, stepMM)
	k.device = device
	k.queue = queue
	if err := k.init(); err != nil {
		k.Destroy()
		return nil, err
	}
	return k, nil
}

// NewReferenceSliceKernel creates a CPU-only slice kernel.
func NewReferenceSliceKernel(store *field.Store, stepMM float64) *SliceKernel {
	k := newSliceKernel(store, stepMM)
	k.initialized = true
	return k
}

func newSliceKernel(store *field.Store, stepMM float64) *SliceKernel {
	if stepMM <= 0 {
		stepMM = quant.DefaultStepMM
	}
	return &SliceKernel{
		store:       store,
		stepMM:      stepMM,
		workspaceMM: [3]float64{defaultWorkspaceMM, defaultWorkspaceMM, defaultWorkspaceMM},
		sliceCounts: [3]int{defaultSliceCount, defaultSliceCount, defaultSliceCount},
	}
}

// SetGeometry overrides the workspace extent and per-view slice counts
// used to place slice planes in world space. Counts below 1 clamp to 1.
func (k *SliceKernel) SetGeometry(workspaceMM [3]float64, counts [3]int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for axis := 0; axis < 3; axis++ {
		if workspaceMM[axis] > 0 {
			k.workspaceMM[axis] = workspaceMM[axis]
		}
	}
	for view := 0; view < 3; view++ {
		if counts[view] < 1 {
			counts[view] = 1
		}
		k.sliceCounts[view] = counts[view]
	}
}

func (k *SliceKernel) init() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	spirvBytes, err := naga.Compile(sliceShaderWGSL)
	if err != nil {
		return fmt.Errorf("wgpu: slice shader compile failed: %w", err)
	}
	k.spirvCode = spirvToWords(spirvBytes)
	k.shaderReady = true

	module, err := k.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "slice_contour_shader",
		Source: hal.ShaderSource{
			SPIRV: k.spirvCode,
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: slice shader module creation failed: %w", err)
	}
	k.shaderModule = module

	inputLayout, err := k.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "slice_input_layout",
		Entries: []types.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: types.ShaderStageCompute,
				Buffer: &types.BufferBindingLayout{
					Type:           types.BufferBindingTypeUniform,
					MinBindingSize: 32, // sizeof(Config)
				},
			},
			{
				Binding:    1,
				Visibility: types.ShaderStageCompute,
				Buffer: &types.BufferBindingLayout{
					Type: types.BufferBindingTypeReadOnlyStorage,
				},
			},
			{
				Binding:    2,
				Visibility: types.ShaderStageCompute,
				Buffer: &types.BufferBindingLayout{
					Type: types.BufferBindingTypeReadOnlyStorage,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: slice input bind group layout creation failed: %w", err)
	}
	k.inputBindLayout = inputLayout

	outputLayout, err := k.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "slice_output_layout",
		Entries: []types.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: types.ShaderStageCompute,
				Buffer: &types.BufferBindingLayout{
					Type: types.BufferBindingTypeStorage,
				},
			},
			{
				Binding:    1,
				Visibility: types.ShaderStageCompute,
				Buffer: &types.BufferBindingLayout{
					Type: types.BufferBindingTypeStorage,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: slice output bind group layout creation failed: %w", err)
	}
	k.outputBindLayout = outputLayout

	layout, err := k.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "slice_contour_pipeline_layout",
		BindGroupLayouts: []hal.BindGroupLayout{k.inputBindLayout, k.outputBindLayout},
	})
	if err != nil {
		return fmt.Errorf("wgpu: slice pipeline layout creation failed: %w", err)
	}
	k.pipelineLayout = layout

	pipeline, err := k.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "slice_contour_pipeline",
		Layout: k.pipelineLayout,
		Compute: hal.ComputeState{
			Module:     k.shaderModule,
			EntryPoint: "cs_slice_contour",
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: slice pipeline creation failed: %w", err)
	}
	k.contourPipeline = pipeline

	k.initialized = true
	return nil
}

// Dispatch extracts contour line counts for every requested target.
func (k *SliceKernel) Dispatch(ctx context.Context, req *mpr.Request) ([]mpr.RawCounters, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.initialized {
		return nil, fmt.Errorf("wgpu: slice kernel not initialized")
	}

	capacity := req.LineBudget
	if capacity <= 0 {
		capacity = mpr.DefaultLineBudget
	}

	out := make([]mpr.RawCounters, 0, len(req.Targets))
	for _, tgt := range req.Targets {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("wgpu: slice dispatch canceled (roi=%d): %w", req.RoiID, err)
		}

		count := k.sliceCounts[tgt.View]
		if tgt.SliceIndex < 0 || tgt.SliceIndex >= count {
			return nil, fmt.Errorf("wgpu: slice index %d out of range for %s (%d slices)",
				tgt.SliceIndex, tgt.View, count)
		}

		// GPU buffer binding needs HAL extensions; the dispatch is
		// mirrored on the CPU with the shader's algorithm.
		lines, err := k.extractTargetCPU(req, tgt)
		if err != nil {
			return nil, err
		}

		rc := mpr.RawCounters{
			View:       tgt.View,
			SliceIndex: tgt.SliceIndex,
			LineCount:  lines,
		}
		if lines > capacity {
			rc.Overflow = lines - capacity
		}
		out = append(out, rc)
	}
	return out, nil
}

// planeMM returns the world coordinate of a slice plane along the
// view's axis.
func (k *SliceKernel) planeMM(view mpr.ViewType, sliceIndex int) float64 {
	axis := view.Axis()
	size := k.workspaceMM[axis]
	count := k.sliceCounts[view]
	if count <= 1 {
		return 0
	}
	t := float64(sliceIndex) / float64(count-1)
	return t*size - size/2
}

// extractTargetCPU runs marching squares over the plane cross section
// of every requested brick and sums the contour line count.
func (k *SliceKernel) extractTargetCPU(req *mpr.Request, tgt mpr.Target) (int, error) {
	axis := tgt.View.Axis()
	plane := k.planeMM(tgt.View, tgt.SliceIndex)
	brickMM := float64(brick.Size) * k.stepMM

	lines := 0
	for _, key := range req.Keys {
		b, ok := k.store.BrickAt(req.RoiID, key)
		if !ok {
			continue
		}
		origin, ok := key.OriginMM(brickMM)
		if !ok {
			return 0, fmt.Errorf("wgpu: bad brick key %q", key)
		}

		originW := [3]float64{origin.X, origin.Y, origin.Z}[axis]
		// Nearest voxel plane; the -0.5 tie goes down so a plane on a
		// brick boundary is claimed by exactly one brick.
		local := (plane-originW)/k.stepMM - 0.5
		if local < -0.5 || local >= float64(brick.Size)-0.5 {
			continue
		}
		w := int(math.Floor(local + 0.5))

		lines += marchingSquares(b, axis, w)
	}
	return lines, nil
}

// marchingSquares counts contour segments on one voxel plane of a
// brick. Ambiguous saddle cases contribute two segments, all other
// mixed-sign cells one.
func marchingSquares(b *field.Brick, axis, w int) int {
	at := func(u, v int) float32 {
		switch axis {
		case 0:
			return b.At(w, u, v)
		case 1:
			return b.At(u, w, v)
		default:
			return b.At(u, v, w)
		}
	}

	lines := 0
	for v := 0; v < brick.Size-1; v++ {
		for u := 0; u < brick.Size-1; u++ {
			code := 0
			if at(u, v) <= 0 {
				code |= 1
			}
			if at(u+1, v) <= 0 {
				code |= 2
			}
			if at(u+1, v+1) <= 0 {
				code |= 4
			}
			if at(u, v+1) <= 0 {
				code |= 8
			}
			switch code {
			case 0, 15:
			case 5, 10:
				lines += 2
			default:
				lines++
			}
		}
	}
	return lines
}

// IsShaderReady reports whether the WGSL compiled to SPIR-V.
func (k *SliceKernel) IsShaderReady() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.shaderReady
}

// SPIRVCode returns the compiled SPIR-V words for verification.
func (k *SliceKernel) SPIRVCode() []uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.spirvCode
}

// Destroy releases all GPU resources. Safe on reference kernels.
func (k *SliceKernel) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.device == nil {
		return
	}
	if k.contourPipeline != nil {
		k.device.DestroyComputePipeline(k.contourPipeline)
		k.contourPipeline = nil
	}
	if k.pipelineLayout != nil {
		k.device.DestroyPipelineLayout(k.pipelineLayout)
		k.pipelineLayout = nil
	}
	if k.inputBindLayout != nil {
		k.device.DestroyBindGroupLayout(k.inputBindLayout)
		k.inputBindLayout = nil
	}
	if k.outputBindLayout != nil {
		k.device.DestroyBindGroupLayout(k.outputBindLayout)
		k.outputBindLayout = nil
	}
	if k.shaderModule != nil {
		k.device.DestroyShaderModule(k.shaderModule)
		k.shaderModule = nil
	}
	k.initialized = false
}
