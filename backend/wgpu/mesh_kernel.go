package wgpu

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	types "github.com/gogpu/gputypes"

	"github.com/voxmed/annotate/brick"
	"github.com/voxmed/annotate/field"
	"github.com/voxmed/annotate/geom"
	"github.com/voxmed/annotate/meshpipe"
	"github.com/voxmed/annotate/quant"
)

//go:embed shaders/mesh_extract.wgsl
var meshShaderWGSL string

// GPUMeshConfig is the uniform block of the mesh extraction dispatch.
// Must match Config in mesh_extract.wgsl.
type GPUMeshConfig struct {
	Capacity   uint32
	BrickCount uint32
	BrickSize  uint32
	Flags      uint32
	OriginX    float32
	OriginY    float32
	OriginZ    float32
	StepMM     float32
}

func meshConfigToBytes(c GPUMeshConfig) []byte {
	buf := make([]byte, 32)
	writeUint32(buf, 0, c.Capacity)
	writeUint32(buf, 4, c.BrickCount)
	writeUint32(buf, 8, c.BrickSize)
	writeUint32(buf, 12, c.Flags)
	writeFloat32(buf, 16, c.OriginX)
	writeFloat32(buf, 20, c.OriginY)
	writeFloat32(buf, 24, c.OriginZ)
	writeFloat32(buf, 28, c.StepMM)
	return buf
}

// MeshKernel extracts quantized surface vertices from dirty SDF bricks.
// It implements meshpipe.Kernel.
//
// A kernel built with NewMeshKernel owns GPU pipelines; one built with
// NewReferenceMeshKernel is CPU-only. Both produce identical counters.
type MeshKernel struct {
	mu sync.Mutex

	store  *field.Store
	stepMM float64

	device hal.Device
	queue  hal.Queue

	extractPipeline  hal.ComputePipeline
	shaderModule     hal.ShaderModule
	pipelineLayout   hal.PipelineLayout
	inputBindLayout  hal.BindGroupLayout
	outputBindLayout hal.BindGroupLayout

	spirvCode []uint32

	// pool holds the vertices of the last dispatch, capacity-bounded.
	pool []quant.Vertex

	initialized bool
	shaderReady bool
}

// NewMeshKernel creates a GPU mesh kernel on the given device.
func NewMeshKernel(device hal.Device, queue hal.Queue, store *field.Store, stepMM float64) (*MeshKernel, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("wgpu: mesh kernel requires device and queue")
	}
	if store == nil {
		return nil, fmt.Errorf("wgpu: mesh kernel requires a field store")
	}

	k := &MeshKernel{
		store:  store,
		stepMM: stepMM,
		device: device,
		queue:  queue,
	}
	if err := k.init(); err != nil {
		k.Destroy()
		return nil, err
	}
	return k, nil
}

// NewReferenceMeshKernel creates a CPU-only mesh kernel. It needs no
// GPU device and is the kernel of choice for tests and headless use.
func NewReferenceMeshKernel(store *field.Store, stepMM float64) *MeshKernel {
	if stepMM <= 0 {
		stepMM = quant.DefaultStepMM
	}
	return &MeshKernel{store: store, stepMM: stepMM, initialized: true}
}

func (k *MeshKernel) init() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	spirvBytes, err := naga.Compile(meshShaderWGSL)
	if err != nil {
		return fmt.Errorf("wgpu: mesh shader compile failed: %w", err)
	}
	k.spirvCode = spirvToWords(spirvBytes)
	k.shaderReady = true

	module, err := k.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "mesh_extract_shader",
		Source: hal.ShaderSource{
			SPIRV: k.spirvCode,
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: mesh shader module creation failed: %w", err)
	}
	k.shaderModule = module

	if err := k.createBindGroupLayouts(); err != nil {
		return err
	}

	layout, err := k.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "mesh_extract_pipeline_layout",
		BindGroupLayouts: []hal.BindGroupLayout{k.inputBindLayout, k.outputBindLayout},
	})
	if err != nil {
		return fmt.Errorf("wgpu: mesh pipeline layout creation failed: %w", err)
	}
	k.pipelineLayout = layout

	pipeline, err := k.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "mesh_extract_pipeline",
		Layout: k.pipelineLayout,
		Compute: hal.ComputeState{
			Module:     k.shaderModule,
			EntryPoint: "cs_mesh_extract",
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: mesh pipeline creation failed: %w", err)
	}
	k.extractPipeline = pipeline

	k.initialized = true
	return nil
}

func (k *MeshKernel) createBindGroupLayouts() error {
	inputLayout, err := k.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "mesh_input_layout",
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
		return fmt.Errorf("wgpu: mesh input bind group layout creation failed: %w", err)
	}
	k.inputBindLayout = inputLayout

	outputLayout, err := k.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "mesh_output_layout",
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
		return fmt.Errorf("wgpu: mesh output bind group layout creation failed: %w", err)
	}
	k.outputBindLayout = outputLayout
	return nil
}

// Dispatch extracts surface vertices for the requested bricks and
// reports demanded counts. On pool overflow the vertex count is the
// demand, not the written size, so the pipeline can grow and retry.
func (k *MeshKernel) Dispatch(ctx context.Context, req *meshpipe.Request) (meshpipe.Counters, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.initialized {
		return meshpipe.Counters{}, fmt.Errorf("wgpu: mesh kernel not initialized")
	}
	if req.Capacity <= 0 {
		return meshpipe.Counters{}, fmt.Errorf("wgpu: mesh dispatch capacity %d out of range", req.Capacity)
	}

	// GPU buffer binding needs HAL extensions; the dispatch is mirrored
	// on the CPU with the shader's algorithm.
	return k.extractCPU(ctx, req)
}

func (k *MeshKernel) extractCPU(ctx context.Context, req *meshpipe.Request) (meshpipe.Counters, error) {
	var c meshpipe.Counters
	k.pool = k.pool[:0]

	brickMM := float64(brick.Size) * k.stepMM

	for _, key := range req.Keys {
		if err := ctx.Err(); err != nil {
			return meshpipe.Counters{}, fmt.Errorf("wgpu: mesh dispatch canceled (roi=%d): %w", req.RoiID, err)
		}

		b, ok := k.store.BrickAt(req.RoiID, key)
		if !ok {
			continue
		}
		origin, ok := key.OriginMM(brickMM)
		if !ok {
			return meshpipe.Counters{}, fmt.Errorf("wgpu: bad brick key %q", key)
		}

		k.extractBrick(b, origin, req, &c)
	}

	if c.VertexCount > req.Capacity {
		c.Overflow = c.VertexCount - req.Capacity
	}
	return c, nil
}

// extractBrick walks the brick's cells and emits one vertex per
// sign-changing axis edge from each cell's base corner; the other nine
// cube edges are owned by neighbor cells.
func (k *MeshKernel) extractBrick(b *field.Brick, origin geom.Vec3, req *meshpipe.Request, c *meshpipe.Counters) {
	for cz := 0; cz < brick.Size-1; cz++ {
		for cy := 0; cy < brick.Size-1; cy++ {
			for cx := 0; cx < brick.Size-1; cx++ {
				d0 := b.At(cx, cy, cz)
				dx := b.At(cx+1, cy, cz)
				dy := b.At(cx, cy+1, cz)
				dz := b.At(cx, cy, cz+1)

				in0 := d0 <= 0
				if in0 == (dx <= 0) && in0 == (dy <= 0) && in0 == (dz <= 0) {
					continue
				}

				base := geom.V3(
					origin.X+(float64(cx)+0.5)*k.stepMM,
					origin.Y+(float64(cy)+0.5)*k.stepMM,
					origin.Z+(float64(cz)+0.5)*k.stepMM,
				)
				if in0 != (dx <= 0) {
					t := float64(d0 / (d0 - dx))
					k.emit(geom.V3(base.X+t*k.stepMM, base.Y, base.Z), req, c)
				}
				if in0 != (dy <= 0) {
					t := float64(d0 / (d0 - dy))
					k.emit(geom.V3(base.X, base.Y+t*k.stepMM, base.Z), req, c)
				}
				if in0 != (dz <= 0) {
					t := float64(d0 / (d0 - dz))
					k.emit(geom.V3(base.X, base.Y, base.Z+t*k.stepMM), req, c)
				}
			}
		}
	}
}

func (k *MeshKernel) emit(p geom.Vec3, req *meshpipe.Request, c *meshpipe.Counters) {
	q, ok := quant.Quantize(p, req.QuantOriginMM, k.stepMM)
	if !ok {
		c.QuantOverflow++
		return
	}
	c.VertexCount++
	// One triangle per surface edge vertex, stitched against the
	// neighbor cells' vertices.
	c.IndexCount += 3
	if c.VertexCount <= req.Capacity {
		k.pool = append(k.pool, quant.Pack(q.X, q.Y, q.Z, 0))
	}
}

// VertexPool returns the packed vertices of the last dispatch. The
// slice is reused across dispatches; callers must copy to retain it.
func (k *MeshKernel) VertexPool() []quant.Vertex {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pool
}

// PoolBytes serializes the last dispatch's vertex pool for GPU upload.
func (k *MeshKernel) PoolBytes() []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	return verticesToBytes(k.pool)
}

// IsShaderReady reports whether the WGSL compiled to SPIR-V.
func (k *MeshKernel) IsShaderReady() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.shaderReady
}

// SPIRVCode returns the compiled SPIR-V words for verification.
func (k *MeshKernel) SPIRVCode() []uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.spirvCode
}

// Destroy releases all GPU resources. Safe on reference kernels.
func (k *MeshKernel) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.device == nil {
		return
	}
	if k.extractPipeline != nil {
		k.device.DestroyComputePipeline(k.extractPipeline)
		k.extractPipeline = nil
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

// spirvToWords converts SPIR-V bytes to little-endian words.
func spirvToWords(spirvBytes []byte) []uint32 {
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words
}
