package gpucore

// Resource IDs
//
// These opaque IDs represent GPU resources. Each backend implementation
// maintains a mapping between IDs and actual API resources. IDs are uint64
// to accommodate various backend handle sizes.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// ShaderModuleID is an opaque handle to a compiled shader module.
type ShaderModuleID uint64

// ComputePipelineID is an opaque handle to a compute pipeline.
type ComputePipelineID uint64

// BindGroupLayoutID is an opaque handle to a bind group layout.
type BindGroupLayoutID uint64

// BindGroupID is an opaque handle to a bind group.
type BindGroupID uint64

// PipelineLayoutID is an opaque handle to a pipeline layout.
type PipelineLayoutID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be mapped for reading.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageMapWrite indicates the buffer can be mapped for writing.
	BufferUsageMapWrite BufferUsage = 1 << 1

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 4

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 5

	// BufferUsageIndirect indicates the buffer can supply indirect dispatch
	// arguments.
	BufferUsageIndirect BufferUsage = 1 << 6
)

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats used by the ray-tracing pipeline.
const (
	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm TextureFormat = iota + 1

	// TextureFormatR8Unorm is 8-bit red channel only, normalized unsigned integer.
	TextureFormatR8Unorm

	// TextureFormatR8Uint is 8-bit red channel only, unsigned integer.
	TextureFormatR8Uint

	// TextureFormatR32Uint is 32-bit red channel only, unsigned integer.
	// Used for per-tile classification masks; storage-image writable.
	TextureFormatR32Uint

	// TextureFormatR16Float is 16-bit red channel only, floating point.
	TextureFormatR16Float

	// TextureFormatR32Float is 32-bit red channel only, floating point.
	TextureFormatR32Float

	// TextureFormatRG16Float is 16-bit RG, floating point.
	TextureFormatRG16Float

	// TextureFormatRGBA16Float is 16-bit RGBA, floating point.
	TextureFormatRGBA16Float

	// TextureFormatRGBA32Float is 32-bit RGBA, floating point.
	TextureFormatRGBA32Float
)

// BytesPerPixel returns the pixel stride of the format in bytes.
func (f TextureFormat) BytesPerPixel() int {
	switch f {
	case TextureFormatR8Unorm, TextureFormatR8Uint:
		return 1
	case TextureFormatR16Float:
		return 2
	case TextureFormatRGBA8Unorm, TextureFormatR32Float, TextureFormatR32Uint, TextureFormatRG16Float:
		return 4
	case TextureFormatRGBA16Float:
		return 8
	case TextureFormatRGBA32Float:
		return 16
	default:
		return 4
	}
}

// TextureUsage is a bitmask specifying how a texture will be used.
type TextureUsage uint32

// Texture usage flags.
const (
	// TextureUsageCopySrc indicates the texture can be used as a copy source.
	TextureUsageCopySrc TextureUsage = 1 << 0

	// TextureUsageCopyDst indicates the texture can be used as a copy destination.
	TextureUsageCopyDst TextureUsage = 1 << 1

	// TextureUsageSampled indicates the texture can be bound for sampled reads.
	TextureUsageSampled TextureUsage = 1 << 2

	// TextureUsageStorage indicates the texture can be bound as a read/write
	// storage image.
	TextureUsageStorage TextureUsage = 1 << 3
)

// TextureUsageReadWrite is the usage carried by every transient pipeline
// texture: shader-sampled reads plus storage-image writes.
const TextureUsageReadWrite = TextureUsageSampled | TextureUsageStorage

// TextureDesc describes a 2D texture or a 2D texture array.
type TextureDesc struct {
	// Label is an optional debug label. It does not participate in pool
	// compatibility checks.
	Label string

	// Width and Height are the texture dimensions in pixels.
	Width  int
	Height int

	// Layers is the array layer count. Zero means 1.
	Layers int

	// Format is the pixel format.
	Format TextureFormat

	// Usage describes how the texture will be bound.
	Usage TextureUsage
}

// LayerCount returns the effective number of array layers.
func (d TextureDesc) LayerCount() int {
	if d.Layers <= 0 {
		return 1
	}
	return d.Layers
}

// ByteSize returns the total texture size in bytes.
func (d TextureDesc) ByteSize() int {
	return d.Width * d.Height * d.LayerCount() * d.Format.BytesPerPixel()
}

// BufferDesc describes a GPU buffer.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size int

	// Usage describes how the buffer will be bound.
	Usage BufferUsage
}

// DispatchArgs is the layout of an indirect dispatch argument record.
// Backends read it from a buffer at execution time; the host never reads
// it back.
type DispatchArgs struct {
	X uint32
	Y uint32
	Z uint32
}

// DispatchArgsSize is the byte size of a DispatchArgs record in a buffer.
const DispatchArgsSize = 12

// BarrierFlags is a bitmask of memory hazards to order between dispatches.
//
// Backends with automatic hazard tracking may implement barriers as pass
// boundaries; backends with explicit synchronization map the bits to their
// native barrier primitives. The scheduler always announces the precise set
// of hazards the next stage depends on.
type BarrierFlags uint32

// Barrier bits.
const (
	// BarrierImageAccess orders storage-image writes against subsequent
	// image reads or writes.
	BarrierImageAccess BarrierFlags = 1 << 0

	// BarrierStorage orders storage-buffer writes against subsequent
	// storage-buffer access.
	BarrierStorage BarrierFlags = 1 << 1

	// BarrierTextureFetch orders image writes against subsequent sampled
	// texture reads.
	BarrierTextureFetch BarrierFlags = 1 << 2

	// BarrierIndirectArgs orders storage-buffer writes against a subsequent
	// indirect dispatch argument read.
	BarrierIndirectArgs BarrierFlags = 1 << 3
)

// BindingType specifies the type of a shader binding.
type BindingType uint32

// Binding types.
const (
	// BindingTypeUniformBuffer is a uniform buffer binding.
	BindingTypeUniformBuffer BindingType = iota + 1

	// BindingTypeStorageBuffer is a storage buffer binding (read-write).
	BindingTypeStorageBuffer

	// BindingTypeReadOnlyStorageBuffer is a read-only storage buffer binding.
	BindingTypeReadOnlyStorageBuffer

	// BindingTypeSampledTexture is a sampled texture binding.
	BindingTypeSampledTexture

	// BindingTypeStorageTexture is a read/write storage texture binding.
	BindingTypeStorageTexture
)

// BindGroupLayoutEntry describes a single binding in a bind group layout.
type BindGroupLayoutEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Type is the type of resource bound at this index.
	Type BindingType

	// MinBindingSize is the minimum buffer size for buffer bindings.
	// Zero for non-buffer bindings.
	MinBindingSize uint64

	// Array marks texture bindings that view a 2D texture array.
	Array bool

	// UintTexels marks sampled texture bindings with unsigned-integer
	// texels (e.g. classification masks).
	UintTexels bool

	// StorageFormat is the image format for storage texture bindings.
	StorageFormat TextureFormat
}

// BindGroupLayoutDesc describes a bind group layout.
type BindGroupLayoutDesc struct {
	// Label is an optional debug label.
	Label string

	// Entries defines the bindings in this layout.
	Entries []BindGroupLayoutEntry
}

// BindGroupEntry describes a single binding in a bind group.
type BindGroupEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Buffer is the buffer to bind (for buffer bindings).
	Buffer BufferID

	// Offset is the byte offset into the buffer.
	Offset uint64

	// Size is the size of the buffer range to bind.
	// Use 0 to bind the entire buffer from offset.
	Size uint64

	// Texture is the texture to bind (for texture bindings).
	Texture TextureID
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	// Label is an optional debug label. The null backend records it per
	// dispatch, which makes submission order observable in tests.
	Label string

	// Layout is the pipeline layout.
	Layout PipelineLayoutID

	// ShaderModule contains the compute shader.
	ShaderModule ShaderModuleID

	// EntryPoint is the name of the shader entry point function.
	EntryPoint string
}
