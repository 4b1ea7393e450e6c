package backend

import (
	"errors"
	"fmt"
	"sync"

	"github.com/AGOOT/blender/gpucore"
)

// Null backend errors.
var (
	// ErrBudgetExceeded is returned when an allocation would exceed the
	// configured memory budget.
	ErrBudgetExceeded = errors.New("backend: allocation budget exceeded")

	// ErrResourceNotFound is returned when an operation references a
	// destroyed or never-created resource.
	ErrResourceNotFound = errors.New("backend: resource not found")

	// ErrCopyMismatch is returned when a texture copy is requested between
	// textures with different descriptions.
	ErrCopyMismatch = errors.New("backend: texture copy description mismatch")
)

// init registers the null backend on package import.
func init() {
	Register(BackendNull, func() ComputeBackend {
		return NewNullBackend()
	})
}

// NullBackend is an in-memory backend that performs no GPU work.
//
// It tracks live resources, stores buffer contents, and records every
// dispatch with its pipeline label, sizing mode and trailing barrier.
// Tests and headless runs use it to verify scheduling decisions: what ran,
// in what order, sized how, synchronized by what.
type NullBackend struct {
	device      *NullDevice
	initialized bool
}

// NewNullBackend creates a new null backend with an unlimited budget.
func NewNullBackend() *NullBackend {
	return &NullBackend{}
}

// Name returns the backend identifier.
func (b *NullBackend) Name() string { return BackendNull }

// Init initializes the backend.
func (b *NullBackend) Init() error {
	if b.initialized {
		return nil
	}
	b.device = NewNullDevice()
	b.initialized = true
	return nil
}

// Close releases all backend resources.
func (b *NullBackend) Close() {
	b.device = nil
	b.initialized = false
}

// Device returns the compute device. Only valid after Init().
func (b *NullBackend) Device() gpucore.Backend { return b.device }

// DispatchRecord describes one recorded compute dispatch.
type DispatchRecord struct {
	// Pipeline is the label of the dispatched pipeline.
	Pipeline string

	// Indirect reports whether the dispatch size came from a device buffer.
	Indirect bool

	// Groups is the workgroup count of a direct dispatch.
	Groups [3]uint32

	// IndirectBuffer is the argument buffer of an indirect dispatch.
	IndirectBuffer gpucore.BufferID

	// BarrierAfter is the barrier recorded after this dispatch, if any.
	BarrierAfter gpucore.BarrierFlags
}

// TextureCopyRecord describes one recorded texture-to-texture copy.
type TextureCopyRecord struct {
	Dst gpucore.TextureID
	Src gpucore.TextureID
}

type nullBuffer struct {
	desc gpucore.BufferDesc
	data []byte
}

type nullTexture struct {
	desc gpucore.TextureDesc
}

// NullDevice implements gpucore.Backend entirely in host memory.
type NullDevice struct {
	mu     sync.Mutex
	nextID uint64

	buffers   map[gpucore.BufferID]*nullBuffer
	textures  map[gpucore.TextureID]*nullTexture
	pipelines map[gpucore.ComputePipelineID]string
	modules   map[gpucore.ShaderModuleID]string
	layouts   map[gpucore.BindGroupLayoutID]*gpucore.BindGroupLayoutDesc
	pLayouts  map[gpucore.PipelineLayoutID][]gpucore.BindGroupLayoutID
	groups    map[gpucore.BindGroupID][]gpucore.BindGroupEntry

	dispatches []DispatchRecord
	copies     []TextureCopyRecord

	budgetBytes uint64 // 0 means unlimited
	usedBytes   uint64
}

// NewNullDevice creates a new in-memory device.
func NewNullDevice() *NullDevice {
	return &NullDevice{
		nextID:    1,
		buffers:   make(map[gpucore.BufferID]*nullBuffer),
		textures:  make(map[gpucore.TextureID]*nullTexture),
		pipelines: make(map[gpucore.ComputePipelineID]string),
		modules:   make(map[gpucore.ShaderModuleID]string),
		layouts:   make(map[gpucore.BindGroupLayoutID]*gpucore.BindGroupLayoutDesc),
		pLayouts:  make(map[gpucore.PipelineLayoutID][]gpucore.BindGroupLayoutID),
		groups:    make(map[gpucore.BindGroupID][]gpucore.BindGroupEntry),
	}
}

// SetBudget limits total live allocation to budget bytes. Zero disables the
// limit. Exceeding the budget makes Create* calls fail, which is how tests
// exercise the environment-fault path.
func (d *NullDevice) SetBudget(budget uint64) {
	d.mu.Lock()
	d.budgetBytes = budget
	d.mu.Unlock()
}

// newID must be called with d.mu held.
func (d *NullDevice) newID() uint64 {
	id := d.nextID
	d.nextID++
	return id
}

// charge must be called with d.mu held.
func (d *NullDevice) charge(size uint64) error {
	if d.budgetBytes > 0 && d.usedBytes+size > d.budgetBytes {
		return fmt.Errorf("%w: %d + %d > %d", ErrBudgetExceeded, d.usedBytes, size, d.budgetBytes)
	}
	d.usedBytes += size
	return nil
}

// SupportsCompute reports compute support; always true for the null device.
func (d *NullDevice) SupportsCompute() bool { return true }

// MaxWorkgroupSize returns permissive workgroup limits.
func (d *NullDevice) MaxWorkgroupSize() [3]uint32 { return [3]uint32{1024, 1024, 64} }

// CreateShaderModule records a shader module. The source is not compiled.
func (d *NullDevice) CreateShaderModule(source string, label string) (gpucore.ShaderModuleID, error) {
	if source == "" {
		return gpucore.InvalidID, fmt.Errorf("backend: empty source for module %q", label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.ShaderModuleID(d.newID())
	d.modules[id] = label
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *NullDevice) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	delete(d.modules, id)
	d.mu.Unlock()
}

// CreateBuffer allocates an in-memory buffer.
func (d *NullDevice) CreateBuffer(desc gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc.Size <= 0 {
		return gpucore.InvalidID, fmt.Errorf("backend: buffer %q size must be positive", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.charge(uint64(desc.Size)); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &nullBuffer{desc: desc, data: make([]byte, desc.Size)}
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *NullDevice) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	if buf, ok := d.buffers[id]; ok {
		d.usedBytes -= uint64(buf.desc.Size)
		delete(d.buffers, id)
	}
	d.mu.Unlock()
}

// WriteBuffer copies data into the buffer.
func (d *NullDevice) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok || int(offset)+len(data) > len(buf.data) {
		return
	}
	copy(buf.data[offset:], data)
}

// ClearBuffer zero-fills the buffer.
func (d *NullDevice) ClearBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf, ok := d.buffers[id]; ok {
		clear(buf.data)
	}
}

// ReadBuffer returns a copy of the stored bytes.
func (d *NullDevice) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", ErrResourceNotFound, id)
	}
	if offset+size > uint64(len(buf.data)) {
		return nil, fmt.Errorf("backend: read past end of buffer %d", id)
	}
	out := make([]byte, size)
	copy(out, buf.data[offset:offset+size])
	return out, nil
}

// CreateTexture allocates a texture description.
func (d *NullDevice) CreateTexture(desc gpucore.TextureDesc) (gpucore.TextureID, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return gpucore.InvalidID, fmt.Errorf("backend: texture %q dimensions must be positive", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.charge(uint64(desc.ByteSize())); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.TextureID(d.newID())
	d.textures[id] = &nullTexture{desc: desc}
	return id, nil
}

// DestroyTexture releases a texture.
func (d *NullDevice) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	if tex, ok := d.textures[id]; ok {
		d.usedBytes -= uint64(tex.desc.ByteSize())
		delete(d.textures, id)
	}
	d.mu.Unlock()
}

// ClearTexture is bookkeeping only; the null device stores no texel data.
func (d *NullDevice) ClearTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.textures[id]
}

// CopyTexture records the copy after validating description compatibility.
func (d *NullDevice) CopyTexture(dst, src gpucore.TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dstTex, ok := d.textures[dst]
	if !ok {
		return fmt.Errorf("%w: texture %d", ErrResourceNotFound, dst)
	}
	srcTex, ok := d.textures[src]
	if !ok {
		return fmt.Errorf("%w: texture %d", ErrResourceNotFound, src)
	}
	dd, sd := dstTex.desc, srcTex.desc
	if dd.Width != sd.Width || dd.Height != sd.Height ||
		dd.LayerCount() != sd.LayerCount() || dd.Format != sd.Format {
		return fmt.Errorf("%w: %dx%dx%d vs %dx%dx%d", ErrCopyMismatch,
			dd.Width, dd.Height, dd.LayerCount(), sd.Width, sd.Height, sd.LayerCount())
	}
	d.copies = append(d.copies, TextureCopyRecord{Dst: dst, Src: src})
	return nil
}

// ReadTexture returns zeroed texel data for layer 0.
func (d *NullDevice) ReadTexture(id gpucore.TextureID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tex, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("%w: texture %d", ErrResourceNotFound, id)
	}
	return make([]byte, tex.desc.Width*tex.desc.Height*tex.desc.Format.BytesPerPixel()), nil
}

// TextureDesc returns the description of a live texture.
func (d *NullDevice) TextureDesc(id gpucore.TextureID) (gpucore.TextureDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tex, ok := d.textures[id]
	if !ok {
		return gpucore.TextureDesc{}, false
	}
	return tex.desc, true
}

// BufferDesc returns the description of a live buffer.
func (d *NullDevice) BufferDesc(id gpucore.BufferID) (gpucore.BufferDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return gpucore.BufferDesc{}, false
	}
	return buf.desc, true
}

// CreateBindGroupLayout records a bind group layout.
func (d *NullDevice) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	if desc == nil {
		return gpucore.InvalidID, errors.New("backend: nil bind group layout descriptor")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BindGroupLayoutID(d.newID())
	d.layouts[id] = desc
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (d *NullDevice) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.mu.Lock()
	delete(d.layouts, id)
	d.mu.Unlock()
}

// CreatePipelineLayout records a pipeline layout.
func (d *NullDevice) CreatePipelineLayout(layouts []gpucore.BindGroupLayoutID) (gpucore.PipelineLayoutID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range layouts {
		if _, ok := d.layouts[l]; !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", ErrResourceNotFound, l)
		}
	}
	id := gpucore.PipelineLayoutID(d.newID())
	d.pLayouts[id] = layouts
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (d *NullDevice) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	d.mu.Lock()
	delete(d.pLayouts, id)
	d.mu.Unlock()
}

// CreateComputePipeline records a compute pipeline under its label.
func (d *NullDevice) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc == nil {
		return gpucore.InvalidID, errors.New("backend: nil compute pipeline descriptor")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.modules[desc.ShaderModule]; !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: shader module %d", ErrResourceNotFound, desc.ShaderModule)
	}
	id := gpucore.ComputePipelineID(d.newID())
	d.pipelines[id] = desc.Label
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (d *NullDevice) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	delete(d.pipelines, id)
	d.mu.Unlock()
}

// CreateBindGroup records a bind group.
func (d *NullDevice) CreateBindGroup(layout gpucore.BindGroupLayoutID, entries []gpucore.BindGroupEntry) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.layouts[layout]; !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", ErrResourceNotFound, layout)
	}
	for _, e := range entries {
		if e.Buffer != gpucore.InvalidID {
			if _, ok := d.buffers[e.Buffer]; !ok {
				return gpucore.InvalidID, fmt.Errorf("%w: buffer %d at binding %d", ErrResourceNotFound, e.Buffer, e.Binding)
			}
		}
		if e.Texture != gpucore.InvalidID {
			if _, ok := d.textures[e.Texture]; !ok {
				return gpucore.InvalidID, fmt.Errorf("%w: texture %d at binding %d", ErrResourceNotFound, e.Texture, e.Binding)
			}
		}
	}
	id := gpucore.BindGroupID(d.newID())
	d.groups[id] = entries
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (d *NullDevice) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	delete(d.groups, id)
	d.mu.Unlock()
}

// BeginComputePass begins a recording pass.
func (d *NullDevice) BeginComputePass() gpucore.ComputePassEncoder {
	return &nullPassEncoder{device: d, last: -1}
}

// Submit is a no-op; dispatches were recorded at encoding time.
func (d *NullDevice) Submit() {}

// WaitIdle is a no-op.
func (d *NullDevice) WaitIdle() {}

// Dispatches returns all recorded dispatches in submission order.
func (d *NullDevice) Dispatches() []DispatchRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DispatchRecord, len(d.dispatches))
	copy(out, d.dispatches)
	return out
}

// Copies returns all recorded texture copies in submission order.
func (d *NullDevice) Copies() []TextureCopyRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]TextureCopyRecord, len(d.copies))
	copy(out, d.copies)
	return out
}

// ResetRecords clears recorded dispatches and copies, typically between
// frames in tests. Live resources are unaffected.
func (d *NullDevice) ResetRecords() {
	d.mu.Lock()
	d.dispatches = d.dispatches[:0]
	d.copies = d.copies[:0]
	d.mu.Unlock()
}

// LiveTextures returns the number of live textures.
func (d *NullDevice) LiveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.textures)
}

// LiveBuffers returns the number of live buffers.
func (d *NullDevice) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// nullPassEncoder records dispatches directly into the device log.
type nullPassEncoder struct {
	device   *NullDevice
	pipeline gpucore.ComputePipelineID
	// index into device.dispatches of the last dispatch this pass recorded,
	// -1 before the first dispatch
	last  int
	ended bool
}

func (e *nullPassEncoder) SetPipeline(pipeline gpucore.ComputePipelineID) {
	e.pipeline = pipeline
}

func (e *nullPassEncoder) SetBindGroup(index uint32, group gpucore.BindGroupID) {}

func (e *nullPassEncoder) record(rec DispatchRecord) {
	d := e.device
	d.mu.Lock()
	rec.Pipeline = d.pipelines[e.pipeline]
	d.dispatches = append(d.dispatches, rec)
	e.last = len(d.dispatches) - 1
	d.mu.Unlock()
}

func (e *nullPassEncoder) Dispatch(x, y, z uint32) {
	if e.ended {
		return
	}
	e.record(DispatchRecord{Groups: [3]uint32{x, y, z}})
}

func (e *nullPassEncoder) DispatchIndirect(buf gpucore.BufferID, offset uint64) {
	if e.ended {
		return
	}
	e.record(DispatchRecord{Indirect: true, IndirectBuffer: buf})
}

func (e *nullPassEncoder) Barrier(flags gpucore.BarrierFlags) {
	if e.ended {
		return
	}
	d := e.device
	d.mu.Lock()
	if e.last >= 0 {
		d.dispatches[e.last].BarrierAfter |= flags
	}
	d.mu.Unlock()
}

func (e *nullPassEncoder) End() {
	e.ended = true
}
