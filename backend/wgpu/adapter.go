package wgpu

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/AGOOT/blender/gpucore"
)

// Adapter implements gpucore.Backend over a wgpu/hal device and queue.
//
// Thread Safety: Adapter is safe for concurrent use. All resource maps are
// protected by a mutex; command recording happens on a single encoder that
// is flushed by Submit.
type Adapter struct {
	mu     sync.RWMutex
	device hal.Device
	queue  hal.Queue

	limits       gputypes.Limits
	maxWorkgroup [3]uint32

	// ID generation
	nextID atomic.Uint64

	// Resource tracking maps gpucore IDs to hal resources.
	buffers          map[gpucore.BufferID]halBuffer
	textures         map[gpucore.TextureID]halTexture
	shaderModules    map[gpucore.ShaderModuleID]hal.ShaderModule
	computePipelines map[gpucore.ComputePipelineID]hal.ComputePipeline
	bindGroupLayouts map[gpucore.BindGroupLayoutID]hal.BindGroupLayout
	pipelineLayouts  map[gpucore.PipelineLayoutID]hal.PipelineLayout
	bindGroups       map[gpucore.BindGroupID]hal.BindGroup

	// Command encoder for the current frame.
	encoder    hal.CommandEncoder
	hasEncoder bool
}

type halBuffer struct {
	buffer hal.Buffer
	desc   gpucore.BufferDesc
}

type halTexture struct {
	texture hal.Texture
	desc    gpucore.TextureDesc
}

// NewAdapter creates an adapter wrapping the given device and queue.
// If limits is nil, default limits are used.
func NewAdapter(device hal.Device, queue hal.Queue, limits *gputypes.Limits) *Adapter {
	var lim gputypes.Limits
	if limits != nil {
		lim = *limits
	} else {
		lim = gputypes.DefaultLimits()
	}

	a := &Adapter{
		device: device,
		queue:  queue,
		limits: lim,
		maxWorkgroup: [3]uint32{
			lim.MaxComputeWorkgroupSizeX,
			lim.MaxComputeWorkgroupSizeY,
			lim.MaxComputeWorkgroupSizeZ,
		},
		buffers:          make(map[gpucore.BufferID]halBuffer),
		textures:         make(map[gpucore.TextureID]halTexture),
		shaderModules:    make(map[gpucore.ShaderModuleID]hal.ShaderModule),
		computePipelines: make(map[gpucore.ComputePipelineID]hal.ComputePipeline),
		bindGroupLayouts: make(map[gpucore.BindGroupLayoutID]hal.BindGroupLayout),
		pipelineLayouts:  make(map[gpucore.PipelineLayoutID]hal.PipelineLayout),
		bindGroups:       make(map[gpucore.BindGroupID]hal.BindGroup),
	}
	a.nextID.Store(1)
	return a
}

func (a *Adapter) newID() uint64 {
	return a.nextID.Add(1) - 1
}

// SupportsCompute reports whether compute shaders are supported.
func (a *Adapter) SupportsCompute() bool { return a.device != nil }

// MaxWorkgroupSize returns the maximum workgroup size in each dimension.
func (a *Adapter) MaxWorkgroupSize() [3]uint32 { return a.maxWorkgroup }

// CreateShaderModule compiles WGSL source with naga and creates a shader
// module from the resulting SPIR-V.
func (a *Adapter) CreateShaderModule(source string, label string) (gpucore.ShaderModuleID, error) {
	if source == "" {
		return gpucore.InvalidID, fmt.Errorf("wgpu: empty source for module %q", label)
	}
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: compile module %q: %w", label, err)
	}
	module, err := a.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirvToUint32(spirvBytes)},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create shader module %q: %w", label, err)
	}

	id := gpucore.ShaderModuleID(a.newID())
	a.mu.Lock()
	a.shaderModules[id] = module
	a.mu.Unlock()
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (a *Adapter) DestroyShaderModule(id gpucore.ShaderModuleID) {
	a.mu.Lock()
	module, ok := a.shaderModules[id]
	delete(a.shaderModules, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyShaderModule(module)
	}
}

// CreateBuffer creates a GPU buffer.
func (a *Adapter) CreateBuffer(desc gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc.Size <= 0 {
		return gpucore.InvalidID, fmt.Errorf("wgpu: buffer %q size must be positive", desc.Label)
	}
	buffer, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  uint64(desc.Size),
		Usage: convertBufferUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, err)
	}

	id := gpucore.BufferID(a.newID())
	a.mu.Lock()
	a.buffers[id] = halBuffer{buffer: buffer, desc: desc}
	a.mu.Unlock()
	return id, nil
}

// DestroyBuffer releases a GPU buffer.
func (a *Adapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	buf, ok := a.buffers[id]
	delete(a.buffers, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyBuffer(buf.buffer)
	}
}

// WriteBuffer writes data to a buffer via the queue.
func (a *Adapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) {
	a.mu.RLock()
	buf, ok := a.buffers[id]
	a.mu.RUnlock()
	if ok && len(data) > 0 {
		a.queue.WriteBuffer(buf.buffer, offset, data)
	}
}

// ClearBuffer fills the whole buffer with zeroes.
func (a *Adapter) ClearBuffer(id gpucore.BufferID) {
	a.mu.RLock()
	buf, ok := a.buffers[id]
	a.mu.RUnlock()
	if ok {
		a.queue.WriteBuffer(buf.buffer, 0, make([]byte, buf.desc.Size))
	}
}

// ReadBuffer reads data back through a staging buffer. Debug capture only.
func (a *Adapter) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	a.mu.RLock()
	buf, ok := a.buffers[id]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wgpu: buffer %d not found", id)
	}

	staging, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label:            "staging-readback",
		Size:             size,
		Usage:            gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		MappedAtCreation: true,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer a.device.DestroyBuffer(staging)

	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "buffer-read"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("buffer-read"); err != nil {
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(buf.buffer, staging, []hal.BufferCopy{
		{SrcOffset: offset, DstOffset: 0, Size: size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer a.device.FreeCommandBuffer(cmdBuf)

	fence, err := a.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer a.device.DestroyFence(fence)

	if err := a.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return nil, fmt.Errorf("wgpu: submit readback: %w", err)
	}
	if _, err := a.device.Wait(fence, 1, 5_000_000_000); err != nil {
		return nil, fmt.Errorf("wgpu: wait for readback: %w", err)
	}

	out := make([]byte, size)
	if err := a.queue.ReadBuffer(staging, 0, out); err != nil {
		return nil, fmt.Errorf("wgpu: read staging buffer: %w", err)
	}
	return out, nil
}

// CreateTexture creates a GPU texture or texture array.
func (a *Adapter) CreateTexture(desc gpucore.TextureDesc) (gpucore.TextureID, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return gpucore.InvalidID, fmt.Errorf("wgpu: texture %q dimensions must be positive", desc.Label)
	}
	texture, err := a.device.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: uint32(desc.LayerCount()),
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        convertTextureFormat(desc.Format),
		Usage:         convertTextureUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create texture %q: %w", desc.Label, err)
	}

	id := gpucore.TextureID(a.newID())
	a.mu.Lock()
	a.textures[id] = halTexture{texture: texture, desc: desc}
	a.mu.Unlock()
	return id, nil
}

// DestroyTexture releases a GPU texture.
func (a *Adapter) DestroyTexture(id gpucore.TextureID) {
	a.mu.Lock()
	tex, ok := a.textures[id]
	delete(a.textures, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyTexture(tex.texture)
	}
}

// ClearTexture zero-fills every layer through queue writes.
func (a *Adapter) ClearTexture(id gpucore.TextureID) {
	a.mu.RLock()
	tex, ok := a.textures[id]
	a.mu.RUnlock()
	if !ok {
		return
	}
	desc := tex.desc
	layerBytes := desc.Width * desc.Height * desc.Format.BytesPerPixel()
	zero := make([]byte, layerBytes)
	for layer := 0; layer < desc.LayerCount(); layer++ {
		a.queue.WriteTexture(
			&hal.ImageCopyTexture{
				Texture:  tex.texture,
				MipLevel: 0,
				Origin:   hal.Origin3D{X: 0, Y: 0, Z: uint32(layer)},
				Aspect:   gputypes.TextureAspectAll,
			},
			zero,
			&hal.ImageDataLayout{
				Offset:       0,
				BytesPerRow:  uint32(desc.Width * desc.Format.BytesPerPixel()),
				RowsPerImage: uint32(desc.Height),
			},
			&hal.Extent3D{
				Width:              uint32(desc.Width),
				Height:             uint32(desc.Height),
				DepthOrArrayLayers: 1,
			},
		)
	}
}

// CopyTexture copies the full content of src into dst on the frame encoder.
func (a *Adapter) CopyTexture(dst, src gpucore.TextureID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dstTex, ok := a.textures[dst]
	if !ok {
		return fmt.Errorf("wgpu: texture %d not found", dst)
	}
	srcTex, ok := a.textures[src]
	if !ok {
		return fmt.Errorf("wgpu: texture %d not found", src)
	}
	if err := a.ensureEncoderLocked(); err != nil {
		return err
	}
	a.encoder.CopyTextureToTexture(srcTex.texture, dstTex.texture, []hal.TextureCopy{
		{
			Size: hal.Extent3D{
				Width:              uint32(srcTex.desc.Width),
				Height:             uint32(srcTex.desc.Height),
				DepthOrArrayLayers: uint32(srcTex.desc.LayerCount()),
			},
		},
	})
	return nil
}

// ReadTexture is not supported on the hal path.
func (a *Adapter) ReadTexture(id gpucore.TextureID) ([]byte, error) {
	return nil, fmt.Errorf("wgpu: texture readback not supported")
}

// CreateBindGroupLayout creates a bind group layout.
func (a *Adapter) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: nil bind group layout descriptor")
	}

	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		entries[i] = convertLayoutEntry(e)
	}

	layout, err := a.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create bind group layout %q: %w", desc.Label, err)
	}

	id := gpucore.BindGroupLayoutID(a.newID())
	a.mu.Lock()
	a.bindGroupLayouts[id] = layout
	a.mu.Unlock()
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (a *Adapter) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	a.mu.Lock()
	layout, ok := a.bindGroupLayouts[id]
	delete(a.bindGroupLayouts, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyBindGroupLayout(layout)
	}
}

// CreatePipelineLayout creates a pipeline layout.
func (a *Adapter) CreatePipelineLayout(layouts []gpucore.BindGroupLayoutID) (gpucore.PipelineLayoutID, error) {
	a.mu.RLock()
	halLayouts := make([]hal.BindGroupLayout, len(layouts))
	for i, lid := range layouts {
		layout, ok := a.bindGroupLayouts[lid]
		if !ok {
			a.mu.RUnlock()
			return gpucore.InvalidID, fmt.Errorf("wgpu: bind group layout %d not found", lid)
		}
		halLayouts[i] = layout
	}
	a.mu.RUnlock()

	pipelineLayout, err := a.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		BindGroupLayouts: halLayouts,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}

	id := gpucore.PipelineLayoutID(a.newID())
	a.mu.Lock()
	a.pipelineLayouts[id] = pipelineLayout
	a.mu.Unlock()
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (a *Adapter) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	a.mu.Lock()
	layout, ok := a.pipelineLayouts[id]
	delete(a.pipelineLayouts, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyPipelineLayout(layout)
	}
}

// CreateComputePipeline creates a compute pipeline.
func (a *Adapter) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: nil compute pipeline descriptor")
	}

	a.mu.RLock()
	layout, layoutOK := a.pipelineLayouts[desc.Layout]
	module, moduleOK := a.shaderModules[desc.ShaderModule]
	a.mu.RUnlock()
	if !layoutOK {
		return gpucore.InvalidID, fmt.Errorf("wgpu: pipeline layout %d not found", desc.Layout)
	}
	if !moduleOK {
		return gpucore.InvalidID, fmt.Errorf("wgpu: shader module %d not found", desc.ShaderModule)
	}

	pipeline, err := a.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create compute pipeline %q: %w", desc.Label, err)
	}

	id := gpucore.ComputePipelineID(a.newID())
	a.mu.Lock()
	a.computePipelines[id] = pipeline
	a.mu.Unlock()
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (a *Adapter) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	a.mu.Lock()
	pipeline, ok := a.computePipelines[id]
	delete(a.computePipelines, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyComputePipeline(pipeline)
	}
}

// CreateBindGroup binds resources to a bind group layout.
func (a *Adapter) CreateBindGroup(layout gpucore.BindGroupLayoutID, entries []gpucore.BindGroupEntry) (gpucore.BindGroupID, error) {
	a.mu.RLock()
	halLayout, ok := a.bindGroupLayouts[layout]
	if !ok {
		a.mu.RUnlock()
		return gpucore.InvalidID, fmt.Errorf("wgpu: bind group layout %d not found", layout)
	}

	halEntries := make([]gputypes.BindGroupEntry, len(entries))
	for i, e := range entries {
		switch {
		case e.Buffer != gpucore.InvalidID:
			buf, ok := a.buffers[e.Buffer]
			if !ok {
				a.mu.RUnlock()
				return gpucore.InvalidID, fmt.Errorf("wgpu: buffer %d not found at binding %d", e.Buffer, e.Binding)
			}
			size := e.Size
			if size == 0 {
				size = uint64(buf.desc.Size) - e.Offset
			}
			halEntries[i] = gputypes.BindGroupEntry{
				Binding:  e.Binding,
				Resource: gputypes.BufferBinding{Buffer: buf.buffer.NativeHandle(), Offset: e.Offset, Size: size},
			}
		case e.Texture != gpucore.InvalidID:
			tex, ok := a.textures[e.Texture]
			if !ok {
				a.mu.RUnlock()
				return gpucore.InvalidID, fmt.Errorf("wgpu: texture %d not found at binding %d", e.Texture, e.Binding)
			}
			halEntries[i] = gputypes.BindGroupEntry{
				Binding:  e.Binding,
				Resource: gputypes.TextureViewBinding{TextureView: tex.texture.NativeHandle()},
			}
		default:
			a.mu.RUnlock()
			return gpucore.InvalidID, fmt.Errorf("wgpu: empty bind group entry at binding %d", e.Binding)
		}
	}
	a.mu.RUnlock()

	group, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Layout:  halLayout,
		Entries: halEntries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create bind group: %w", err)
	}

	id := gpucore.BindGroupID(a.newID())
	a.mu.Lock()
	a.bindGroups[id] = group
	a.mu.Unlock()
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (a *Adapter) DestroyBindGroup(id gpucore.BindGroupID) {
	a.mu.Lock()
	group, ok := a.bindGroups[id]
	delete(a.bindGroups, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyBindGroup(group)
	}
}

// ensureEncoderLocked lazily creates the frame command encoder.
// The caller must hold a.mu.
func (a *Adapter) ensureEncoderLocked() error {
	if a.hasEncoder {
		return nil
	}
	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "raytrace-encoder"})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("raytrace"); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	a.encoder = encoder
	a.hasEncoder = true
	return nil
}

// BeginComputePass begins a compute pass on the frame encoder.
func (a *Adapter) BeginComputePass() gpucore.ComputePassEncoder {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureEncoderLocked(); err != nil {
		return &halPassEncoder{adapter: a}
	}
	pass := a.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "compute"})
	return &halPassEncoder{adapter: a, pass: pass}
}

// Submit submits all recorded passes to the GPU.
func (a *Adapter) Submit() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.hasEncoder {
		return
	}
	cmdBuf, err := a.encoder.EndEncoding()
	a.encoder = nil
	a.hasEncoder = false
	if err != nil {
		return
	}
	// Fire and forget; frame pacing is the caller's concern.
	_ = a.queue.Submit([]hal.CommandBuffer{cmdBuf}, nil, 0)
	a.device.FreeCommandBuffer(cmdBuf)
}

// WaitIdle flushes pending work and blocks on a fence.
func (a *Adapter) WaitIdle() {
	a.Submit()

	fence, err := a.device.CreateFence()
	if err != nil {
		return
	}
	defer a.device.DestroyFence(fence)
	if err := a.queue.Submit(nil, fence, 1); err != nil {
		return
	}
	_, _ = a.device.Wait(fence, 1, 5_000_000_000)
}

// destroyAll releases every tracked resource. Called from Backend.Close.
func (a *Adapter) destroyAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, g := range a.bindGroups {
		a.device.DestroyBindGroup(g)
	}
	for _, p := range a.computePipelines {
		a.device.DestroyComputePipeline(p)
	}
	for _, l := range a.pipelineLayouts {
		a.device.DestroyPipelineLayout(l)
	}
	for _, l := range a.bindGroupLayouts {
		a.device.DestroyBindGroupLayout(l)
	}
	for _, m := range a.shaderModules {
		a.device.DestroyShaderModule(m)
	}
	for _, t := range a.textures {
		a.device.DestroyTexture(t.texture)
	}
	for _, b := range a.buffers {
		a.device.DestroyBuffer(b.buffer)
	}
	a.bindGroups = map[gpucore.BindGroupID]hal.BindGroup{}
	a.computePipelines = map[gpucore.ComputePipelineID]hal.ComputePipeline{}
	a.pipelineLayouts = map[gpucore.PipelineLayoutID]hal.PipelineLayout{}
	a.bindGroupLayouts = map[gpucore.BindGroupLayoutID]hal.BindGroupLayout{}
	a.shaderModules = map[gpucore.ShaderModuleID]hal.ShaderModule{}
	a.textures = map[gpucore.TextureID]halTexture{}
	a.buffers = map[gpucore.BufferID]halBuffer{}
}

// halPassEncoder implements gpucore.ComputePassEncoder.
//
// Barrier splits the hal pass: the current pass ends and a fresh one starts,
// which is how WebGPU-style backends order storage and image hazards.
type halPassEncoder struct {
	adapter  *Adapter
	pass     hal.ComputePassEncoder
	pipeline hal.ComputePipeline
	groups   map[uint32]hal.BindGroup
}

func (e *halPassEncoder) SetPipeline(pipeline gpucore.ComputePipelineID) {
	if e.pass == nil {
		return
	}
	e.adapter.mu.RLock()
	p, ok := e.adapter.computePipelines[pipeline]
	e.adapter.mu.RUnlock()
	if ok {
		e.pipeline = p
		e.pass.SetPipeline(p)
	}
}

func (e *halPassEncoder) SetBindGroup(index uint32, group gpucore.BindGroupID) {
	if e.pass == nil {
		return
	}
	e.adapter.mu.RLock()
	g, ok := e.adapter.bindGroups[group]
	e.adapter.mu.RUnlock()
	if ok {
		if e.groups == nil {
			e.groups = make(map[uint32]hal.BindGroup)
		}
		e.groups[index] = g
		e.pass.SetBindGroup(index, g, nil)
	}
}

func (e *halPassEncoder) Dispatch(x, y, z uint32) {
	if e.pass == nil {
		return
	}
	e.pass.Dispatch(x, y, z)
}

func (e *halPassEncoder) DispatchIndirect(buf gpucore.BufferID, offset uint64) {
	if e.pass == nil {
		return
	}
	e.adapter.mu.RLock()
	b, ok := e.adapter.buffers[buf]
	e.adapter.mu.RUnlock()
	if ok {
		e.pass.DispatchIndirect(b.buffer, offset)
	}
}

func (e *halPassEncoder) Barrier(flags gpucore.BarrierFlags) {
	if e.pass == nil || flags == 0 {
		return
	}
	// End the current pass and begin a new one; pass boundaries are the
	// hazard-ordering points of the hal.
	e.pass.End()

	e.adapter.mu.Lock()
	if err := e.adapter.ensureEncoderLocked(); err != nil {
		e.adapter.mu.Unlock()
		e.pass = nil
		return
	}
	e.pass = e.adapter.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "compute"})
	e.adapter.mu.Unlock()

	// Restore encoder state in the new pass.
	if e.pipeline != nil {
		e.pass.SetPipeline(e.pipeline)
	}
	for index, g := range e.groups {
		e.pass.SetBindGroup(index, g, nil)
	}
}

func (e *halPassEncoder) End() {
	if e.pass == nil {
		return
	}
	e.pass.End()
	e.pass = nil
}

// === Type Conversion Helpers ===

// spirvToUint32 reinterprets little-endian SPIR-V bytes as words.
func spirvToUint32(data []byte) []uint32 {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words
}

func convertBufferUsage(usage gpucore.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if usage&gpucore.BufferUsageMapRead != 0 {
		out |= gputypes.BufferUsageMapRead
	}
	if usage&gpucore.BufferUsageMapWrite != 0 {
		out |= gputypes.BufferUsageMapWrite
	}
	if usage&gpucore.BufferUsageCopySrc != 0 {
		out |= gputypes.BufferUsageCopySrc
	}
	if usage&gpucore.BufferUsageCopyDst != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	if usage&gpucore.BufferUsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	if usage&gpucore.BufferUsageStorage != 0 {
		out |= gputypes.BufferUsageStorage
	}
	if usage&gpucore.BufferUsageIndirect != 0 {
		out |= gputypes.BufferUsageIndirect
	}
	return out
}

func convertTextureFormat(format gpucore.TextureFormat) gputypes.TextureFormat {
	switch format {
	case gpucore.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case gpucore.TextureFormatR8Unorm:
		return gputypes.TextureFormatR8Unorm
	case gpucore.TextureFormatR8Uint:
		return gputypes.TextureFormatR8Uint
	case gpucore.TextureFormatR32Uint:
		return gputypes.TextureFormatR32Uint
	case gpucore.TextureFormatR16Float:
		return gputypes.TextureFormatR16Float
	case gpucore.TextureFormatR32Float:
		return gputypes.TextureFormatR32Float
	case gpucore.TextureFormatRG16Float:
		return gputypes.TextureFormatRG16Float
	case gpucore.TextureFormatRGBA16Float:
		return gputypes.TextureFormatRGBA16Float
	case gpucore.TextureFormatRGBA32Float:
		return gputypes.TextureFormatRGBA32Float
	default:
		return gputypes.TextureFormatRGBA8Unorm
	}
}

func convertTextureUsage(usage gpucore.TextureUsage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if usage&gpucore.TextureUsageCopySrc != 0 {
		out |= gputypes.TextureUsageCopySrc
	}
	if usage&gpucore.TextureUsageCopyDst != 0 {
		out |= gputypes.TextureUsageCopyDst
	}
	if usage&gpucore.TextureUsageSampled != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	if usage&gpucore.TextureUsageStorage != 0 {
		out |= gputypes.TextureUsageStorageBinding
	}
	return out
}

func convertLayoutEntry(e gpucore.BindGroupLayoutEntry) gputypes.BindGroupLayoutEntry {
	out := gputypes.BindGroupLayoutEntry{
		Binding:    e.Binding,
		Visibility: gputypes.ShaderStageCompute,
	}
	switch e.Type {
	case gpucore.BindingTypeUniformBuffer:
		out.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeUniform,
			MinBindingSize: e.MinBindingSize,
		}
	case gpucore.BindingTypeStorageBuffer:
		out.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeStorage,
			MinBindingSize: e.MinBindingSize,
		}
	case gpucore.BindingTypeReadOnlyStorageBuffer:
		out.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeReadOnlyStorage,
			MinBindingSize: e.MinBindingSize,
		}
	case gpucore.BindingTypeSampledTexture:
		dim := gputypes.TextureViewDimension2D
		if e.Array {
			dim = gputypes.TextureViewDimension2DArray
		}
		sample := gputypes.TextureSampleTypeFloat
		if e.UintTexels {
			sample = gputypes.TextureSampleTypeUint
		}
		out.Texture = &gputypes.TextureBindingLayout{
			SampleType:    sample,
			ViewDimension: dim,
		}
	case gpucore.BindingTypeStorageTexture:
		dim := gputypes.TextureViewDimension2D
		if e.Array {
			dim = gputypes.TextureViewDimension2DArray
		}
		// Every kernel declares its storage images write-only.
		out.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessWriteOnly,
			Format:        convertTextureFormat(e.StorageFormat),
			ViewDimension: dim,
		}
	}
	return out
}
