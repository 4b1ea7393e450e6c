package raytrace

import (
	"errors"
	"fmt"

	"github.com/AGOOT/blender/gpucore"
)

// Module errors.
var (
	// ErrNoCompute is returned by New when the backend cannot run compute
	// shaders.
	ErrNoCompute = errors.New("raytrace: backend lacks compute support")

	// ErrNoFrame is returned by Trace outside a BeginFrame/EndFrame pair.
	ErrNoFrame = errors.New("raytrace: no frame in progress")

	// ErrBadExtent is returned by BeginFrame for an empty resolution.
	ErrBadExtent = errors.New("raytrace: frame extent must be non-zero")
)

// temporalHistoryWeight is the history blend weight uploaded on warm frames.
// Cold-start frames upload zero so the current sample passes through while
// history is still written for the next frame.
const temporalHistoryWeight = 0.9

// FrameInputs are the external render targets and matrices consumed for one
// frame. Texture handles are owned by the caller.
type FrameInputs struct {
	// Extent is the full render resolution.
	Extent Extent

	// ViewProj is the current view-projection matrix.
	ViewProj Mat4

	// Depth is the scene depth buffer.
	Depth gpucore.TextureID

	// RadianceFront is the pre-lighting screen radiance, front-facing.
	RadianceFront gpucore.TextureID

	// RadianceBack is the back-facing radiance, traced by refraction rays.
	RadianceBack gpucore.TextureID

	// NormalRoughness is the packed normal/roughness gbuffer layer driving
	// tile classification.
	NormalRoughness gpucore.TextureID

	// PlanarProbe, when valid, enables the planar-probe sub-step inside the
	// reflection trace stage.
	PlanarProbe gpucore.TextureID
}

// Module schedules the ray tracing and denoising pipeline. It owns the
// per-closure persistent denoise state, the shader set, and the transient
// resource pools. All methods must be called from a single goroutine.
type Module struct {
	dev     gpucore.Backend
	shaders *ShaderSet
	texPool *TexturePool
	bufPool *BufferPool
	passes  *passManager

	uniformShared  *Buffer
	uniformClosure [closureCount]*Buffer
	uniformHorizon *Buffer

	denoise [closureCount]*DenoiseBuffer

	// Frame state, valid between BeginFrame and EndFrame.
	inFrame       bool
	opts          Options
	stages        stageSet
	inputs        FrameInputs
	scale         int
	tracingExtent Extent
	horizonExtent Extent
	grid          Extent
	frameIndex    uint32

	tiles      *frameTiles
	horizon    *horizonFrame
	enc        gpucore.ComputePassEncoder
	classified bool
	horizonOn  bool
}

// New creates a Module over a compute backend.
func New(dev gpucore.Backend) (*Module, error) {
	if !dev.SupportsCompute() {
		return nil, ErrNoCompute
	}

	shaders, err := NewShaderSet(dev)
	if err != nil {
		return nil, err
	}

	m := &Module{
		dev:     dev,
		shaders: shaders,
		texPool: NewTexturePool(dev),
		bufPool: NewBufferPool(dev),
	}
	m.passes = newPassManager(dev, shaders)

	uniformDesc := gpucore.BufferDesc{
		Size:  frameUniformSize,
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	}
	newUniform := func(label string) (*Buffer, error) {
		d := uniformDesc
		d.Label = label
		return newBuffer(dev, d)
	}

	if m.uniformShared, err = newUniform("uniforms.frame"); err != nil {
		m.Close()
		return nil, err
	}
	for kind := ClosureKind(0); kind < closureCount; kind++ {
		if m.uniformClosure[kind], err = newUniform("uniforms." + kind.String()); err != nil {
			m.Close()
			return nil, err
		}
		m.denoise[kind] = newDenoiseBuffer(dev)
	}
	if m.uniformHorizon, err = newUniform("uniforms.horizon"); err != nil {
		m.Close()
		return nil, err
	}

	return m, nil
}

// DenoiseState returns the persistent denoise buffer of a closure. Exposed
// for tests and debug capture.
func (m *Module) DenoiseState(kind ClosureKind) *DenoiseBuffer {
	checkClosure(kind)
	return m.denoise[kind]
}

// BeginFrame snapshots the configuration and render inputs for one frame.
func (m *Module) BeginFrame(opts Options, in FrameInputs) error {
	if in.Extent.IsZero() {
		return ErrBadExtent
	}
	if m.inFrame {
		m.EndFrame()
	}

	m.opts = opts
	m.stages = opts.stages()
	m.inputs = in
	m.scale = opts.resolutionScale()
	m.tracingExtent = in.Extent.Scale(m.scale)
	m.horizonExtent = in.Extent.Scale(opts.horizonResolutionScale())
	m.grid = in.Extent.Tiles()
	m.frameIndex++

	m.inFrame = true
	m.classified = false
	m.horizonOn = false
	m.tiles = nil
	m.horizon = nil

	slogger().Debug("frame begin",
		"extent", in.Extent,
		"tracing", m.tracingExtent,
		"scale", m.scale,
		"spatial", m.stages.spatial,
		"temporal", m.stages.temporal,
		"bilateral", m.stages.bilateral)
	return nil
}

// Trace runs the pipeline for one closure and returns its result handle.
//
// A closure absent from active performs no GPU work beyond a cheap 1x1
// placeholder; its persistent history is freed so a usage gap does not
// retain stale state. The first active closure of a frame also runs the
// shared tile classification, compaction, and (when enabled) the horizon
// scan.
func (m *Module) Trace(kind ClosureKind, active ClosureMask) (*Result, error) {
	checkClosure(kind)
	if !m.inFrame {
		return nil, ErrNoFrame
	}

	if !active.Has(kind) {
		return m.placeholderResult(kind)
	}

	db := m.denoise[kind]
	reallocated, err := db.ensure(m.inputs.Extent, m.grid)
	if err != nil {
		return nil, err
	}
	if reallocated {
		slogger().Debug("history invalidated", "closure", kind.String(), "reason", "resize")
	}

	if err := m.ensureClassified(active); err != nil {
		return nil, err
	}

	u := m.closureUniforms(kind, db)
	m.dev.WriteBuffer(m.uniformClosure[kind].ID(), 0, u.pack())

	rays, err := acquireRayBuffers(m.texPool, m.tracingExtent)
	if err != nil {
		return nil, err
	}

	enc := m.encoder()

	if err := m.submitGenerate(enc, kind, rays); err != nil {
		return nil, err
	}
	if err := m.submitTrace(enc, kind, rays); err != nil {
		return nil, err
	}

	if !m.stages.spatial {
		// Denoising disabled: the raw hit radiance is the result, at
		// tracing resolution. History cannot carry over such a frame.
		db.invalidate()
		m.texPool.Release(rays.data)
		m.texPool.Release(rays.time)
		radiance := rays.radiance
		return &Result{
			tex:     radiance,
			closure: kind,
			finalize: func() {
				m.texPool.Release(radiance)
			},
		}, nil
	}

	frame, err := m.acquireDenoiseFrame()
	if err != nil {
		rays.release(m.texPool)
		return nil, err
	}

	if err := m.submitSpatial(enc, kind, rays, frame); err != nil {
		return nil, err
	}
	rays.release(m.texPool)

	final := frame.radiance
	if m.stages.temporal {
		if err := m.submitTemporal(enc, kind, db, frame); err != nil {
			return nil, err
		}
		// The temporal stage consumed the previous mask history; record the
		// current mask for the next frame. This is the pipeline's only
		// texture copy; radiance and variance swap handles instead.
		if err := m.copyTileMaskHistory(db); err != nil {
			return nil, err
		}
		final = db.radiance
	}

	var bilateralOut *Texture
	if m.stages.bilateral {
		bilateralOut, err = m.texPool.Acquire(gpucore.TextureDesc{
			Label:  "denoise.bilateral",
			Width:  m.inputs.Extent.Width,
			Height: m.inputs.Extent.Height,
			Format: gpucore.TextureFormatRGBA16Float,
			Usage:  gpucore.TextureUsageReadWrite,
		})
		if err != nil {
			frame.release(m.texPool)
			return nil, err
		}
		if err := m.submitBilateral(enc, kind, db, bilateralOut); err != nil {
			return nil, err
		}
		final = bilateralOut
	}

	useTemporal := m.stages.temporal
	viewProj := m.inputs.ViewProj
	return &Result{
		tex:     final,
		closure: kind,
		finalize: func() {
			frame.release(m.texPool)
			m.texPool.Release(bilateralOut)
			if useTemporal {
				db.swapHistory(viewProj)
			} else {
				db.invalidate()
			}
			slogger().Debug("closure finalized",
				"closure", kind.String(), "validHistory", db.validHistory)
		},
	}, nil
}

// EndFrame submits the recorded GPU work and reclaims frame-scoped state.
func (m *Module) EndFrame() {
	if !m.inFrame {
		return
	}
	if m.enc != nil {
		m.enc.End()
		m.enc = nil
	}
	m.dev.Submit()
	m.passes.reclaim()

	m.horizon.release(m.texPool)
	m.horizon = nil
	m.tiles.release(m.texPool, m.bufPool)
	m.tiles = nil

	m.texPool.EndFrame()
	m.bufPool.EndFrame()

	m.inFrame = false
	m.classified = false
}

// Close releases everything the module owns. The module is unusable
// afterwards.
func (m *Module) Close() {
	if m.inFrame {
		m.EndFrame()
	}
	m.dev.WaitIdle()

	for kind := ClosureKind(0); kind < closureCount; kind++ {
		if m.denoise[kind] != nil {
			m.denoise[kind].free()
		}
		if m.uniformClosure[kind] != nil {
			m.dev.DestroyBuffer(m.uniformClosure[kind].ID())
			m.uniformClosure[kind] = nil
		}
	}
	if m.uniformShared != nil {
		m.dev.DestroyBuffer(m.uniformShared.ID())
		m.uniformShared = nil
	}
	if m.uniformHorizon != nil {
		m.dev.DestroyBuffer(m.uniformHorizon.ID())
		m.uniformHorizon = nil
	}
	if m.texPool != nil {
		m.texPool.Destroy()
	}
	if m.bufPool != nil {
		m.bufPool.Destroy()
	}
	if m.shaders != nil {
		m.shaders.Destroy()
	}
}

// === frame plumbing ===

func (m *Module) encoder() gpucore.ComputePassEncoder {
	if m.enc == nil {
		m.enc = m.dev.BeginComputePass()
	}
	return m.enc
}

// breakPass ends the open compute pass so encoder-level work (texture
// copies) can be ordered against it. The next encoder() call reopens one.
func (m *Module) breakPass() {
	if m.enc != nil {
		m.enc.End()
		m.enc = nil
	}
}

// placeholderResult is the inactive-closure path: free history, return a 1x1
// cleared output. Idempotent and cheap.
func (m *Module) placeholderResult(kind ClosureKind) (*Result, error) {
	m.denoise[kind].free()

	tex, err := m.texPool.Acquire(gpucore.TextureDesc{
		Label:  "placeholder",
		Width:  1,
		Height: 1,
		Format: gpucore.TextureFormatRGBA16Float,
		Usage:  gpucore.TextureUsageReadWrite,
	})
	if err != nil {
		return nil, err
	}
	m.dev.ClearTexture(tex.ID())

	slogger().Debug("closure inactive", "closure", kind.String())
	return &Result{
		tex:     tex,
		closure: kind,
		finalize: func() {
			m.texPool.Release(tex)
		},
	}, nil
}

// sharedUniforms builds the frame-level uniform block used by the classify,
// compact, and horizon kernels.
func (m *Module) sharedUniforms() frameUniforms {
	scale, bias := m.opts.roughnessFade()
	u := frameUniforms{
		ViewProj:        m.inputs.ViewProj,
		HistoryViewProj: m.inputs.ViewProj,
		FullExtent:      m.inputs.Extent,
		TracingExtent:   m.tracingExtent,
		TileCount:       m.grid,
		TraceTileCount:  m.tracingExtent.Tiles(),
		ResolutionScale: uint32(m.scale),
		RNGOffset:       m.frameIndex,
		RoughnessScale:  scale,
		RoughnessBias:   bias,
		SampleClamp:     m.opts.radianceClamp(),
		TraceQuality:    m.opts.TraceQuality,
		TraceThickness:  m.opts.TraceThickness,
		HorizonBias:     m.opts.HorizonBias,
	}
	if m.horizonOn {
		u.Flags |= uniformFlagHorizon
	}
	return u
}

// closureUniforms specializes the frame block for one closure's stages.
func (m *Module) closureUniforms(kind ClosureKind, db *DenoiseBuffer) frameUniforms {
	u := m.sharedUniforms()
	u.ClosureIndex = uint32(kind)
	u.HistoryViewProj = db.historyViewProj

	if m.opts.Method == MethodNone {
		u.Flags |= uniformFlagFallbackTrace
	}
	if kind == ClosureRefraction {
		u.Flags |= uniformFlagBackfaceRadiance
	}
	if db.validHistory {
		u.Flags |= uniformFlagValidHistory
		u.HistoryWeight = temporalHistoryWeight
	}
	return u
}

// ensureClassified runs the shared per-frame work on first use: tile
// classification, compaction into the device-resident work lists, and the
// horizon pipeline when its heuristic enables it.
func (m *Module) ensureClassified(active ClosureMask) error {
	if m.classified {
		return nil
	}

	var err error
	m.tiles, err = acquireFrameTiles(m.texPool, m.bufPool, m.grid)
	if err != nil {
		return err
	}
	m.tiles.reset(m.dev)
	m.horizonOn = m.opts.horizonEnabled(active)

	shared := m.sharedUniforms()
	m.dev.WriteBuffer(m.uniformShared.ID(), 0, shared.pack())

	enc := m.encoder()

	classify := Pass{
		Label:   "tile.classify",
		Kind:    ShaderTileClassify,
		Closure: ClosureDiffuse,
		Bind: func() []gpucore.BindGroupEntry {
			return []gpucore.BindGroupEntry{
				bufBind(0, m.uniformShared),
				texBind(1, m.tiles.mask.ID()),
				texBind(2, m.inputs.NormalRoughness),
			}
		},
		Groups:  func() gpucore.DispatchArgs { return groupsFor(m.grid) },
		Barrier: gpucore.BarrierImageAccess | gpucore.BarrierTextureFetch,
	}
	if err := m.passes.submit(enc, &classify); err != nil {
		return err
	}

	compact := Pass{
		Label:   "tile.compact",
		Kind:    ShaderTileCompact,
		Closure: ClosureDiffuse,
		Bind: func() []gpucore.BindGroupEntry {
			return []gpucore.BindGroupEntry{
				bufBind(0, m.uniformShared),
				texBind(1, m.tiles.mask.ID()),
				bufBind(2, m.tiles.traceList),
				bufBind(3, m.tiles.denoiseList),
				bufBind(4, m.tiles.traceDispatch),
				bufBind(5, m.tiles.denoiseDispatch),
				bufBind(6, m.tiles.horizonList),
				bufBind(7, m.tiles.horizonDenoiseList),
				bufBind(8, m.tiles.horizonDispatch),
				bufBind(9, m.tiles.horizonDenoiseDispatch),
			}
		},
		Groups:  func() gpucore.DispatchArgs { return groupsFor(m.grid) },
		Barrier: gpucore.BarrierStorage | gpucore.BarrierIndirectArgs,
	}
	if err := m.passes.submit(enc, &compact); err != nil {
		return err
	}

	if m.horizonOn {
		if err := m.runHorizon(enc); err != nil {
			return err
		}
	}

	m.classified = true
	return nil
}

// denoiseFrame bundles the pooled per-closure denoise scratch of one frame.
// Variance and hit depth are real only when the temporal stage consumes
// them; otherwise 1x1 dummies keep the kernel binding contract intact
// without wasting memory.
type denoiseFrame struct {
	radiance *Texture
	variance *Texture
	hitDepth *Texture
}

func (f *denoiseFrame) release(pool *TexturePool) {
	pool.Release(f.radiance)
	pool.Release(f.variance)
	pool.Release(f.hitDepth)
}

func (m *Module) acquireDenoiseFrame() (*denoiseFrame, error) {
	f := &denoiseFrame{}
	var err error

	acquire := func(label string, e Extent, format gpucore.TextureFormat) *Texture {
		if err != nil {
			return nil
		}
		var t *Texture
		t, err = m.texPool.Acquire(gpucore.TextureDesc{
			Label:  label,
			Width:  e.Width,
			Height: e.Height,
			Format: format,
			Usage:  gpucore.TextureUsageReadWrite,
		})
		return t
	}

	full := m.inputs.Extent
	dummy := Extent{Width: 1, Height: 1}
	varianceExtent, depthExtent := dummy, dummy
	if m.stages.temporal {
		varianceExtent, depthExtent = full, full
	}

	f.radiance = acquire("denoise.spatial", full, gpucore.TextureFormatRGBA16Float)
	f.variance = acquire("denoise.spatial_variance", varianceExtent, gpucore.TextureFormatR32Float)
	f.hitDepth = acquire("denoise.hit_depth", depthExtent, gpucore.TextureFormatR32Float)
	if err != nil {
		f.release(m.texPool)
		return nil, err
	}
	return f, nil
}

// === per-stage submission ===

func (m *Module) submitGenerate(enc gpucore.ComputePassEncoder, kind ClosureKind, rays *rayBuffers) error {
	pass := Pass{
		Label:   "raytrace.generate." + kind.String(),
		Kind:    ShaderRayGenerate,
		Closure: kind,
		Bind: func() []gpucore.BindGroupEntry {
			return []gpucore.BindGroupEntry{
				bufBind(0, m.uniformClosure[kind]),
				bufBind(1, m.tiles.traceList),
				texBind(2, m.tiles.mask.ID()),
				texBind(3, rays.data.ID()),
			}
		},
		Indirect: m.tiles.traceDispatch,
		Barrier:  gpucore.BarrierImageAccess | gpucore.BarrierTextureFetch,
	}
	return m.passes.submit(enc, &pass)
}

func (m *Module) submitTrace(enc gpucore.ComputePassEncoder, kind ClosureKind, rays *rayBuffers) error {
	radianceSrc := m.inputs.RadianceFront
	if kind == ClosureRefraction {
		radianceSrc = m.inputs.RadianceBack
	}

	if m.opts.Method == MethodNone {
		pass := Pass{
			Label:   "raytrace.trace_fallback." + kind.String(),
			Kind:    ShaderTraceFallback,
			Closure: kind,
			Bind: func() []gpucore.BindGroupEntry {
				return []gpucore.BindGroupEntry{
					bufBind(0, m.uniformClosure[kind]),
					bufBind(1, m.tiles.traceList),
					texBind(2, rays.data.ID()),
					texBind(3, rays.time.ID()),
					texBind(4, rays.radiance.ID()),
				}
			},
			Indirect: m.tiles.traceDispatch,
			Barrier:  gpucore.BarrierImageAccess | gpucore.BarrierTextureFetch,
		}
		return m.passes.submit(enc, &pass)
	}

	pass := Pass{
		Label:   "raytrace.trace." + kind.String(),
		Kind:    ShaderTraceScreen,
		Closure: kind,
		Bind: func() []gpucore.BindGroupEntry {
			return []gpucore.BindGroupEntry{
				bufBind(0, m.uniformClosure[kind]),
				bufBind(1, m.tiles.traceList),
				texBind(2, m.inputs.Depth),
				texBind(3, radianceSrc),
				texBind(4, rays.data.ID()),
				texBind(5, rays.time.ID()),
				texBind(6, rays.radiance.ID()),
			}
		},
		Indirect: m.tiles.traceDispatch,
		Barrier:  gpucore.BarrierImageAccess | gpucore.BarrierTextureFetch,
		Steps: []SubStep{
			{
				// Planar probes refine reflections when a probe plane is
				// available this frame.
				Label:   "raytrace.trace_planar." + kind.String(),
				Kind:    ShaderTracePlanar,
				Closure: kind,
				When: func() bool {
					return kind == ClosureReflection && m.inputs.PlanarProbe != gpucore.InvalidID
				},
				Bind: func() []gpucore.BindGroupEntry {
					return []gpucore.BindGroupEntry{
						bufBind(0, m.uniformClosure[kind]),
						bufBind(1, m.tiles.traceList),
						texBind(2, m.inputs.Depth),
						texBind(3, m.inputs.PlanarProbe),
						texBind(4, rays.data.ID()),
						texBind(5, rays.time.ID()),
						texBind(6, rays.radiance.ID()),
					}
				},
				Indirect: m.tiles.traceDispatch,
			},
		},
	}
	return m.passes.submit(enc, &pass)
}

func (m *Module) submitSpatial(enc gpucore.ComputePassEncoder, kind ClosureKind, rays *rayBuffers, frame *denoiseFrame) error {
	pass := Pass{
		Label:   "denoise.spatial." + kind.String(),
		Kind:    ShaderDenoiseSpatial,
		Closure: kind,
		Bind: func() []gpucore.BindGroupEntry {
			return []gpucore.BindGroupEntry{
				bufBind(0, m.uniformClosure[kind]),
				bufBind(1, m.tiles.denoiseList),
				texBind(2, m.tiles.mask.ID()),
				texBind(3, rays.data.ID()),
				texBind(4, rays.time.ID()),
				texBind(5, rays.radiance.ID()),
				texBind(6, frame.radiance.ID()),
				texBind(7, frame.variance.ID()),
				texBind(8, frame.hitDepth.ID()),
			}
		},
		Indirect: m.tiles.denoiseDispatch,
		Barrier:  gpucore.BarrierImageAccess | gpucore.BarrierTextureFetch,
	}
	return m.passes.submit(enc, &pass)
}

func (m *Module) submitTemporal(enc gpucore.ComputePassEncoder, kind ClosureKind, db *DenoiseBuffer, frame *denoiseFrame) error {
	pass := Pass{
		Label:   "denoise.temporal." + kind.String(),
		Kind:    ShaderDenoiseTemporal,
		Closure: kind,
		Bind: func() []gpucore.BindGroupEntry {
			return []gpucore.BindGroupEntry{
				bufBind(0, m.uniformClosure[kind]),
				texBind(1, db.radianceHistory.ID()),
				texBind(2, db.varianceHistory.ID()),
				texBind(3, db.tilemaskHistory.ID()),
				texBind(4, frame.radiance.ID()),
				texBind(5, frame.variance.ID()),
				texBind(6, frame.hitDepth.ID()),
				texBind(7, db.radiance.ID()),
				texBind(8, db.variance.ID()),
			}
		},
		// Reprojection is screen-wide; inactive pixels settle their own
		// history, so this stage is a fixed full-resolution dispatch.
		Groups:  func() gpucore.DispatchArgs { return groupsFor(m.inputs.Extent) },
		Barrier: gpucore.BarrierImageAccess | gpucore.BarrierTextureFetch,
	}
	return m.passes.submit(enc, &pass)
}

func (m *Module) copyTileMaskHistory(db *DenoiseBuffer) error {
	m.breakPass()
	if err := m.dev.CopyTexture(db.tilemaskHistory.ID(), m.tiles.mask.ID()); err != nil {
		return fmt.Errorf("raytrace: tile mask history copy: %w", err)
	}
	m.encoder()
	return nil
}

func (m *Module) submitBilateral(enc gpucore.ComputePassEncoder, kind ClosureKind, db *DenoiseBuffer, out *Texture) error {
	// The encoder may have been reopened by the mask-history copy.
	enc = m.encoder()
	pass := Pass{
		Label:   "denoise.bilateral." + kind.String(),
		Kind:    ShaderDenoiseBilateral,
		Closure: kind,
		Bind: func() []gpucore.BindGroupEntry {
			return []gpucore.BindGroupEntry{
				bufBind(0, m.uniformClosure[kind]),
				bufBind(1, m.tiles.denoiseList),
				texBind(2, m.tiles.mask.ID()),
				texBind(3, db.radiance.ID()),
				texBind(4, db.variance.ID()),
				texBind(5, out.ID()),
			}
		},
		Indirect: m.tiles.denoiseDispatch,
		Barrier:  gpucore.BarrierTextureFetch,
	}
	return m.passes.submit(enc, &pass)
}

// === small helpers ===

func bufBind(binding uint32, b *Buffer) gpucore.BindGroupEntry {
	return gpucore.BindGroupEntry{Binding: binding, Buffer: b.ID()}
}

func texBind(binding uint32, id gpucore.TextureID) gpucore.BindGroupEntry {
	return gpucore.BindGroupEntry{Binding: binding, Texture: id}
}

// groupsFor covers an extent with TileSize workgroups.
func groupsFor(e Extent) gpucore.DispatchArgs {
	return gpucore.DispatchArgs{
		X: uint32(CeilDiv(e.Width, TileSize)),
		Y: uint32(CeilDiv(e.Height, TileSize)),
		Z: 1,
	}
}
