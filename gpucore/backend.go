package gpucore

// Backend abstracts over compute-capable GPU backend implementations.
//
// Implementations must be safe for concurrent use, although the ray-tracing
// scheduler itself issues all work from a single goroutine and relies purely
// on submission order plus the barriers it records.
type Backend interface {
	// === Capabilities ===

	// SupportsCompute returns whether compute shaders are supported.
	SupportsCompute() bool

	// MaxWorkgroupSize returns the maximum workgroup size in each dimension.
	MaxWorkgroupSize() [3]uint32

	// === Shader Compilation ===

	// CreateShaderModule creates a shader module from WGSL source. Backends
	// compile to their native representation; the null backend records the
	// label only.
	CreateShaderModule(source string, label string) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// === Buffer Management ===

	// CreateBuffer creates a GPU buffer.
	// Allocation failure is an environment fault: the caller treats it as
	// fatal for the frame and performs no retry.
	CreateBuffer(desc BufferDesc) (BufferID, error)

	// DestroyBuffer releases a GPU buffer.
	DestroyBuffer(id BufferID)

	// WriteBuffer writes data to a buffer. The write is ordered before any
	// subsequently submitted dispatch.
	WriteBuffer(id BufferID, offset uint64, data []byte)

	// ClearBuffer fills the whole buffer with zeroes, ordered like WriteBuffer.
	ClearBuffer(id BufferID)

	// ReadBuffer reads data from a buffer. This stalls on GPU completion and
	// exists for debug capture only; the pipeline never calls it to size a
	// dispatch.
	ReadBuffer(id BufferID, offset, size uint64) ([]byte, error)

	// === Texture Management ===

	// CreateTexture creates a GPU texture or texture array.
	CreateTexture(desc TextureDesc) (TextureID, error)

	// DestroyTexture releases a GPU texture.
	DestroyTexture(id TextureID)

	// ClearTexture fills every texel of every layer with zeroes.
	ClearTexture(id TextureID)

	// CopyTexture copies the full content of src into dst. The two textures
	// must have identical descriptions.
	CopyTexture(dst, src TextureID) error

	// ReadTexture reads back the raw texel data of layer 0. Debug capture
	// only; stalls on GPU completion.
	ReadTexture(id TextureID) ([]byte, error)

	// === Pipeline Management ===

	// CreateBindGroupLayout creates a bind group layout.
	CreateBindGroupLayout(desc *BindGroupLayoutDesc) (BindGroupLayoutID, error)

	// DestroyBindGroupLayout releases a bind group layout.
	DestroyBindGroupLayout(id BindGroupLayoutID)

	// CreatePipelineLayout creates a pipeline layout from bind group layouts.
	CreatePipelineLayout(layouts []BindGroupLayoutID) (PipelineLayoutID, error)

	// DestroyPipelineLayout releases a pipeline layout.
	DestroyPipelineLayout(id PipelineLayoutID)

	// CreateComputePipeline creates a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateBindGroup binds actual resources to a bind group layout.
	CreateBindGroup(layout BindGroupLayoutID, entries []BindGroupEntry) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// === Command Recording and Execution ===

	// BeginComputePass begins a compute pass and returns an encoder for
	// recording compute commands. The encoder must be ended with End().
	BeginComputePass() ComputePassEncoder

	// Submit submits all recorded passes to the GPU in recording order.
	Submit()

	// WaitIdle blocks until all submitted GPU work completes.
	// Use sparingly; the pipeline itself never waits mid-frame.
	WaitIdle()
}

// ComputePassEncoder records compute commands.
//
// Usage:
//  1. Obtain encoder from Backend.BeginComputePass()
//  2. Set pipeline and bind groups
//  3. Dispatch, directly or from a device-resident argument buffer
//  4. Record the barrier covering the hazards the next stage reads through
//  5. Call End(), then Backend.Submit() to execute
//
// The encoder is single-use and cannot be reused after End().
type ComputePassEncoder interface {
	// SetPipeline sets the active compute pipeline.
	SetPipeline(pipeline ComputePipelineID)

	// SetBindGroup sets a bind group at the specified index.
	SetBindGroup(index uint32, group BindGroupID)

	// Dispatch dispatches x*y*z workgroups.
	Dispatch(x, y, z uint32)

	// DispatchIndirect dispatches workgroups whose count is read from a
	// DispatchArgs record in buf at the given byte offset, at execution
	// time, on the device. The offset must be 4-byte aligned.
	DispatchIndirect(buf BufferID, offset uint64)

	// Barrier orders the writes of previously recorded dispatches against
	// the reads described by flags.
	Barrier(flags BarrierFlags)

	// End finishes the compute pass.
	End()
}
