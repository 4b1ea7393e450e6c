package raytrace

import (
	"github.com/AGOOT/blender/gpucore"
)

// horizonFrame holds the horizon-scan pipeline's transient textures for one
// frame, at horizon tracing resolution. The pipeline shares the frame's tile
// classification but owns its buffers and its denoise pass; it never touches
// closure history.
type horizonFrame struct {
	extent Extent

	radiance *Texture // downsampled screen radiance
	normal   *Texture // downsampled normal

	occlusion    *Texture
	scanRadiance *Texture

	occlusionOut *Texture
	radianceOut  *Texture
}

func acquireHorizonFrame(pool *TexturePool, extent Extent) (*horizonFrame, error) {
	h := &horizonFrame{extent: extent}
	var err error

	acquire := func(label string, format gpucore.TextureFormat) *Texture {
		if err != nil {
			return nil
		}
		var t *Texture
		t, err = pool.Acquire(gpucore.TextureDesc{
			Label:  label,
			Width:  extent.Width,
			Height: extent.Height,
			Format: format,
			Usage:  gpucore.TextureUsageReadWrite,
		})
		return t
	}

	h.radiance = acquire("horizon.radiance", gpucore.TextureFormatRGBA16Float)
	h.normal = acquire("horizon.normal", gpucore.TextureFormatRGBA16Float)
	h.occlusion = acquire("horizon.occlusion", gpucore.TextureFormatR32Float)
	h.scanRadiance = acquire("horizon.scan_radiance", gpucore.TextureFormatRGBA16Float)
	h.occlusionOut = acquire("horizon.occlusion_out", gpucore.TextureFormatR32Float)
	h.radianceOut = acquire("horizon.radiance_out", gpucore.TextureFormatRGBA16Float)
	if err != nil {
		h.release(pool)
		return nil, err
	}
	return h, nil
}

func (h *horizonFrame) release(pool *TexturePool) {
	if h == nil {
		return
	}
	for _, t := range []*Texture{
		h.radiance, h.normal, h.occlusion, h.scanRadiance, h.occlusionOut, h.radianceOut,
	} {
		pool.Release(t)
	}
}

// runHorizon encodes the horizon-scan chain: downsample setup, the scan over
// active horizon tiles, and the dedicated denoise pass. Called once per
// frame, right after tile compaction, when the heuristic enables it.
func (m *Module) runHorizon(enc gpucore.ComputePassEncoder) error {
	h, err := acquireHorizonFrame(m.texPool, m.horizonExtent)
	if err != nil {
		return err
	}
	m.horizon = h

	u := m.sharedUniforms()
	u.TracingExtent = h.extent
	m.dev.WriteBuffer(m.uniformHorizon.ID(), 0, u.pack())

	setup := Pass{
		Label:   "horizon.setup",
		Kind:    ShaderHorizonSetup,
		Closure: ClosureDiffuse,
		Bind: func() []gpucore.BindGroupEntry {
			return []gpucore.BindGroupEntry{
				bufBind(0, m.uniformHorizon),
				texBind(1, m.inputs.Depth),
				texBind(2, m.inputs.RadianceFront),
				texBind(3, h.radiance.ID()),
				texBind(4, h.normal.ID()),
			}
		},
		Groups:  func() gpucore.DispatchArgs { return groupsFor(h.extent) },
		Barrier: gpucore.BarrierImageAccess | gpucore.BarrierTextureFetch,
	}
	if err := m.passes.submit(enc, &setup); err != nil {
		return err
	}

	scan := Pass{
		Label:   "horizon.scan",
		Kind:    ShaderHorizonScan,
		Closure: ClosureDiffuse,
		Bind: func() []gpucore.BindGroupEntry {
			return []gpucore.BindGroupEntry{
				bufBind(0, m.uniformHorizon),
				bufBind(1, m.tiles.horizonList),
				texBind(2, h.radiance.ID()),
				texBind(3, h.normal.ID()),
				texBind(4, h.occlusion.ID()),
				texBind(5, h.scanRadiance.ID()),
			}
		},
		Indirect: m.tiles.horizonDispatch,
		Barrier:  gpucore.BarrierImageAccess | gpucore.BarrierTextureFetch,
	}
	if err := m.passes.submit(enc, &scan); err != nil {
		return err
	}

	denoise := Pass{
		Label:   "horizon.denoise",
		Kind:    ShaderHorizonDenoise,
		Closure: ClosureDiffuse,
		Bind: func() []gpucore.BindGroupEntry {
			return []gpucore.BindGroupEntry{
				bufBind(0, m.uniformHorizon),
				bufBind(1, m.tiles.horizonDenoiseList),
				texBind(2, h.occlusion.ID()),
				texBind(3, h.scanRadiance.ID()),
				texBind(4, m.inputs.Depth),
				texBind(5, h.occlusionOut.ID()),
				texBind(6, h.radianceOut.ID()),
			}
		},
		Indirect: m.tiles.horizonDenoiseDispatch,
		Barrier:  gpucore.BarrierTextureFetch,
	}
	return m.passes.submit(enc, &denoise)
}

// HorizonOcclusion returns the denoised horizon occlusion texture of the
// current frame, or nil when the horizon pipeline did not run. Valid until
// EndFrame.
func (m *Module) HorizonOcclusion() *Texture {
	if m.horizon == nil {
		return nil
	}
	return m.horizon.occlusionOut
}

// HorizonRadiance returns the denoised horizon radiance of the current
// frame, or nil when the pipeline did not run. Valid until EndFrame.
func (m *Module) HorizonRadiance() *Texture {
	if m.horizon == nil {
		return nil
	}
	return m.horizon.radianceOut
}
