package raytrace

import (
	"embed"
	"fmt"

	"github.com/AGOOT/blender/cache"
	"github.com/AGOOT/blender/gpucore"
)

//go:embed shaders/*.wgsl
var shaderFS embed.FS

// ShaderKind identifies one compute kernel of the pipeline.
type ShaderKind uint8

// Pipeline kernels in rough execution order.
const (
	ShaderTileClassify ShaderKind = iota
	ShaderTileCompact
	ShaderRayGenerate
	ShaderTraceScreen
	ShaderTracePlanar
	ShaderTraceFallback
	ShaderDenoiseSpatial
	ShaderDenoiseTemporal
	ShaderDenoiseBilateral
	ShaderHorizonSetup
	ShaderHorizonScan
	ShaderHorizonDenoise

	shaderKindCount
)

// String returns the kernel name, which doubles as the WGSL file stem.
func (k ShaderKind) String() string {
	switch k {
	case ShaderTileClassify:
		return "tile_classify"
	case ShaderTileCompact:
		return "tile_compact"
	case ShaderRayGenerate:
		return "ray_generate"
	case ShaderTraceScreen:
		return "trace_screen"
	case ShaderTracePlanar:
		return "trace_planar"
	case ShaderTraceFallback:
		return "trace_fallback"
	case ShaderDenoiseSpatial:
		return "denoise_spatial"
	case ShaderDenoiseTemporal:
		return "denoise_temporal"
	case ShaderDenoiseBilateral:
		return "denoise_bilateral"
	case ShaderHorizonSetup:
		return "horizon_setup"
	case ShaderHorizonScan:
		return "horizon_scan"
	case ShaderHorizonDenoise:
		return "horizon_denoise"
	default:
		return fmt.Sprintf("shader(%d)", uint8(k))
	}
}

// Layout entry shorthands. Binding indices must match the WGSL sources.
func uniformEntry(binding uint32) gpucore.BindGroupLayoutEntry {
	return gpucore.BindGroupLayoutEntry{
		Binding:        binding,
		Type:           gpucore.BindingTypeUniformBuffer,
		MinBindingSize: frameUniformSize,
	}
}

func storageEntry(binding uint32) gpucore.BindGroupLayoutEntry {
	return gpucore.BindGroupLayoutEntry{Binding: binding, Type: gpucore.BindingTypeStorageBuffer}
}

func roStorageEntry(binding uint32) gpucore.BindGroupLayoutEntry {
	return gpucore.BindGroupLayoutEntry{Binding: binding, Type: gpucore.BindingTypeReadOnlyStorageBuffer}
}

func texEntry(binding uint32) gpucore.BindGroupLayoutEntry {
	return gpucore.BindGroupLayoutEntry{Binding: binding, Type: gpucore.BindingTypeSampledTexture}
}

// texArrayEntry is only used for the R32Uint classification masks.
func texArrayEntry(binding uint32) gpucore.BindGroupLayoutEntry {
	return gpucore.BindGroupLayoutEntry{Binding: binding, Type: gpucore.BindingTypeSampledTexture, Array: true, UintTexels: true}
}

func imageEntry(binding uint32, format gpucore.TextureFormat) gpucore.BindGroupLayoutEntry {
	return gpucore.BindGroupLayoutEntry{Binding: binding, Type: gpucore.BindingTypeStorageTexture, StorageFormat: format}
}

func imageArrayEntry(binding uint32, format gpucore.TextureFormat) gpucore.BindGroupLayoutEntry {
	return gpucore.BindGroupLayoutEntry{Binding: binding, Type: gpucore.BindingTypeStorageTexture, Array: true, StorageFormat: format}
}

// shaderBindings returns the bind group layout of each kernel.
func shaderBindings(kind ShaderKind) []gpucore.BindGroupLayoutEntry {
	switch kind {
	case ShaderTileClassify:
		return []gpucore.BindGroupLayoutEntry{
			uniformEntry(0),
			imageArrayEntry(1, gpucore.TextureFormatR32Uint), // tile mask
			texEntry(2), // gbuffer normal/roughness
		}
	case ShaderTileCompact:
		return []gpucore.BindGroupLayoutEntry{
			uniformEntry(0),
			texArrayEntry(1),                                  // tile mask
			storageEntry(2), storageEntry(3),                  // trace / denoise tile lists
			storageEntry(4), storageEntry(5),                  // trace / denoise dispatch args
			storageEntry(6), storageEntry(7),                  // horizon trace / denoise tile lists
			storageEntry(8), storageEntry(9),                  // horizon trace / denoise dispatch args
		}
	case ShaderRayGenerate:
		return []gpucore.BindGroupLayoutEntry{
			uniformEntry(0),
			roStorageEntry(1), // trace tile list
			texArrayEntry(2),  // tile mask
			imageEntry(3, gpucore.TextureFormatRGBA16Float), // ray data
		}
	case ShaderTraceScreen, ShaderTracePlanar:
		return []gpucore.BindGroupLayoutEntry{
			uniformEntry(0),
			roStorageEntry(1), // trace tile list
			texEntry(2),       // depth
			texEntry(3),       // screen radiance
			texEntry(4),       // ray data
			imageEntry(5, gpucore.TextureFormatR32Float),    // hit time
			imageEntry(6, gpucore.TextureFormatRGBA16Float), // hit radiance
		}
	case ShaderTraceFallback:
		return []gpucore.BindGroupLayoutEntry{
			uniformEntry(0),
			roStorageEntry(1), // trace tile list
			texEntry(2),       // ray data
			imageEntry(3, gpucore.TextureFormatR32Float),    // hit time
			imageEntry(4, gpucore.TextureFormatRGBA16Float), // hit radiance
		}
	case ShaderDenoiseSpatial:
		return []gpucore.BindGroupLayoutEntry{
			uniformEntry(0),
			roStorageEntry(1), // denoise tile list
			texArrayEntry(2),  // tile mask
			texEntry(3),       // ray data
			texEntry(4),       // hit time
			texEntry(5),       // hit radiance
			imageEntry(6, gpucore.TextureFormatRGBA16Float), // out radiance
			imageEntry(7, gpucore.TextureFormatR32Float),    // out variance
			imageEntry(8, gpucore.TextureFormatR32Float),    // out hit depth
		}
	case ShaderDenoiseTemporal:
		return []gpucore.BindGroupLayoutEntry{
			uniformEntry(0),
			texEntry(1),      // radiance history
			texEntry(2),      // variance history
			texArrayEntry(3), // tile mask history
			texEntry(4),      // spatial radiance
			texEntry(5),      // spatial variance
			texEntry(6),      // hit depth
			imageEntry(7, gpucore.TextureFormatRGBA16Float), // out radiance
			imageEntry(8, gpucore.TextureFormatR32Float),    // out variance
		}
	case ShaderDenoiseBilateral:
		return []gpucore.BindGroupLayoutEntry{
			uniformEntry(0),
			roStorageEntry(1), // denoise tile list
			texArrayEntry(2),  // tile mask
			texEntry(3),       // temporal radiance
			texEntry(4),       // variance
			imageEntry(5, gpucore.TextureFormatRGBA16Float), // out radiance
		}
	case ShaderHorizonSetup:
		return []gpucore.BindGroupLayoutEntry{
			uniformEntry(0),
			texEntry(1), // depth
			texEntry(2), // screen radiance
			imageEntry(3, gpucore.TextureFormatRGBA16Float), // downsampled radiance
			imageEntry(4, gpucore.TextureFormatRGBA16Float), // downsampled normal
		}
	case ShaderHorizonScan:
		return []gpucore.BindGroupLayoutEntry{
			uniformEntry(0),
			roStorageEntry(1), // horizon tile list
			texEntry(2),       // downsampled radiance
			texEntry(3),       // downsampled normal
			imageEntry(4, gpucore.TextureFormatR32Float),    // occlusion
			imageEntry(5, gpucore.TextureFormatRGBA16Float), // horizon radiance
		}
	case ShaderHorizonDenoise:
		return []gpucore.BindGroupLayoutEntry{
			uniformEntry(0),
			roStorageEntry(1), // horizon denoise tile list
			texEntry(2),       // occlusion in
			texEntry(3),       // radiance in
			texEntry(4),       // depth
			imageEntry(5, gpucore.TextureFormatR32Float),    // occlusion out
			imageEntry(6, gpucore.TextureFormatRGBA16Float), // radiance out
		}
	default:
		return nil
	}
}

// pipelineKey identifies a compiled pipeline variant.
type pipelineKey struct {
	Kind    ShaderKind
	Closure ClosureKind
}

func hashPipelineKey(k pipelineKey) uint64 {
	return uint64(k.Kind)<<8 | uint64(k.Closure)
}

// ShaderSet owns the compiled modules, layouts, and a pipeline cache for
// every kernel. Pipelines are specialized per closure only by label; the
// closure index reaches the kernel through the uniform block.
type ShaderSet struct {
	dev gpucore.Backend

	modules     [shaderKindCount]gpucore.ShaderModuleID
	layouts     [shaderKindCount]gpucore.BindGroupLayoutID
	pipeLayouts [shaderKindCount]gpucore.PipelineLayoutID

	pipelines *cache.ShardedCache[pipelineKey, gpucore.ComputePipelineID]
	pipeErr   error
}

// NewShaderSet compiles every kernel from its embedded WGSL source and
// creates the matching layouts.
func NewShaderSet(dev gpucore.Backend) (*ShaderSet, error) {
	s := &ShaderSet{dev: dev}
	s.pipelines = cache.NewSharded[pipelineKey, gpucore.ComputePipelineID](
		int(shaderKindCount)*int(closureCount),
		func(k pipelineKey) uint64 { return hashPipelineKey(k) },
	)
	s.pipelines.OnEvict = func(_ pipelineKey, id gpucore.ComputePipelineID) {
		dev.DestroyComputePipeline(id)
	}

	for kind := ShaderKind(0); kind < shaderKindCount; kind++ {
		name := kind.String()
		source, err := shaderFS.ReadFile("shaders/" + name + ".wgsl")
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("raytrace: missing shader source %s: %w", name, err)
		}

		module, err := dev.CreateShaderModule(string(source), name)
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("raytrace: create module %s: %w", name, err)
		}
		s.modules[kind] = module

		layout, err := dev.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
			Label:   name,
			Entries: shaderBindings(kind),
		})
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("raytrace: create layout %s: %w", name, err)
		}
		s.layouts[kind] = layout

		pipeLayout, err := dev.CreatePipelineLayout([]gpucore.BindGroupLayoutID{layout})
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("raytrace: create pipeline layout %s: %w", name, err)
		}
		s.pipeLayouts[kind] = pipeLayout
	}
	return s, nil
}

// Layout returns the bind group layout of a kernel.
func (s *ShaderSet) Layout(kind ShaderKind) gpucore.BindGroupLayoutID {
	return s.layouts[kind]
}

// Pipeline returns the compute pipeline for (kind, closure), compiling it on
// first use. Per-frame kernels pass ClosureDiffuse for the shared variant.
func (s *ShaderSet) Pipeline(kind ShaderKind, closure ClosureKind) (gpucore.ComputePipelineID, error) {
	s.pipeErr = nil
	id := s.pipelines.GetOrCreate(pipelineKey{Kind: kind, Closure: closure}, func() gpucore.ComputePipelineID {
		pid, err := s.dev.CreateComputePipeline(&gpucore.ComputePipelineDesc{
			Label:        kind.String() + "." + closure.String(),
			Layout:       s.pipeLayouts[kind],
			ShaderModule: s.modules[kind],
			EntryPoint:   "main",
		})
		if err != nil {
			s.pipeErr = fmt.Errorf("raytrace: create pipeline %s.%s: %w", kind, closure, err)
			return gpucore.InvalidID
		}
		return pid
	})
	if id == gpucore.InvalidID {
		// Do not cache the failure; a later call may succeed.
		s.pipelines.Delete(pipelineKey{Kind: kind, Closure: closure})
		if s.pipeErr != nil {
			return gpucore.InvalidID, s.pipeErr
		}
		return gpucore.InvalidID, fmt.Errorf("raytrace: pipeline %s.%s unavailable", kind, closure)
	}
	return id, nil
}

// Destroy releases all modules, layouts, and cached pipelines.
func (s *ShaderSet) Destroy() {
	s.pipelines.Clear()
	for kind := ShaderKind(0); kind < shaderKindCount; kind++ {
		if s.pipeLayouts[kind] != gpucore.InvalidID {
			s.dev.DestroyPipelineLayout(s.pipeLayouts[kind])
			s.pipeLayouts[kind] = gpucore.InvalidID
		}
		if s.layouts[kind] != gpucore.InvalidID {
			s.dev.DestroyBindGroupLayout(s.layouts[kind])
			s.layouts[kind] = gpucore.InvalidID
		}
		if s.modules[kind] != gpucore.InvalidID {
			s.dev.DestroyShaderModule(s.modules[kind])
			s.modules[kind] = gpucore.InvalidID
		}
	}
}
