package raytrace

import (
	"github.com/AGOOT/blender/gpucore"
)

// rayBuffers are the transient per-pixel ray textures of one closure's
// trace, at tracing resolution. They live between ray generation and
// spatial denoising.
type rayBuffers struct {
	data     *Texture // origin/direction, packed
	time     *Texture // hit time
	radiance *Texture // hit radiance
}

func acquireRayBuffers(pool *TexturePool, extent Extent) (*rayBuffers, error) {
	r := &rayBuffers{}
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

	r.data = acquire("ray_data", gpucore.TextureFormatRGBA16Float)
	r.time = acquire("ray_time", gpucore.TextureFormatR32Float)
	r.radiance = acquire("ray_radiance", gpucore.TextureFormatRGBA16Float)
	if err != nil {
		r.release(pool)
		return nil, err
	}
	return r, nil
}

func (r *rayBuffers) release(pool *TexturePool) {
	if r == nil {
		return
	}
	pool.Release(r.data)
	pool.Release(r.time)
	pool.Release(r.radiance)
	r.data, r.time, r.radiance = nil, nil, nil
}

// DenoiseBuffer is the persistent per-closure denoising state. The radiance
// and variance pairs ping-pong between a current and a history role by
// handle swap at frame end; the tile-mask history is the one texture that is
// copied, right after the temporal stage consumed the previous copy.
type DenoiseBuffer struct {
	dev gpucore.Backend

	radiance        *Texture // temporal output of the current frame
	radianceHistory *Texture
	variance        *Texture // temporal variance output
	varianceHistory *Texture
	tilemaskHistory *Texture

	historyViewProj Mat4
	validHistory    bool

	extent Extent
}

func newDenoiseBuffer(dev gpucore.Backend) *DenoiseBuffer {
	return &DenoiseBuffer{dev: dev}
}

// ValidHistory reports whether the next temporal stage may reproject from
// the history slots.
func (d *DenoiseBuffer) ValidHistory() bool { return d.validHistory }

// HistoryRadiance returns the current history radiance texture, nil before
// the first allocation. Exposed for tests and debug capture.
func (d *DenoiseBuffer) HistoryRadiance() *Texture { return d.radianceHistory }

// ensure sizes the persistent slots for the given full-resolution extent and
// tile grid. Any reallocation invalidates all co-dependent history for this
// closure: fresh radiance must never be blended against stale variance or a
// stale mask.
func (d *DenoiseBuffer) ensure(extent, grid Extent) (reallocated bool, err error) {
	if d.radiance != nil && d.extent == extent {
		return false, nil
	}

	d.freeTextures()

	radianceDesc := gpucore.TextureDesc{
		Label:  "denoise.radiance",
		Width:  extent.Width,
		Height: extent.Height,
		Format: gpucore.TextureFormatRGBA16Float,
		Usage:  gpucore.TextureUsageReadWrite,
	}
	varianceDesc := gpucore.TextureDesc{
		Label:  "denoise.variance",
		Width:  extent.Width,
		Height: extent.Height,
		Format: gpucore.TextureFormatR32Float,
		Usage:  gpucore.TextureUsageReadWrite,
	}
	maskDesc := gpucore.TextureDesc{
		Label:  "denoise.tilemask_history",
		Width:  grid.Width,
		Height: grid.Height,
		Layers: int(closureCount) * tileMaskKinds,
		Format: gpucore.TextureFormatR32Uint,
		Usage:  gpucore.TextureUsageReadWrite | gpucore.TextureUsageCopyDst,
	}

	if d.radiance, err = newTexture(d.dev, radianceDesc); err != nil {
		return true, err
	}
	radianceDesc.Label = "denoise.radiance_history"
	if d.radianceHistory, err = newTexture(d.dev, radianceDesc); err != nil {
		return true, err
	}
	if d.variance, err = newTexture(d.dev, varianceDesc); err != nil {
		return true, err
	}
	varianceDesc.Label = "denoise.variance_history"
	if d.varianceHistory, err = newTexture(d.dev, varianceDesc); err != nil {
		return true, err
	}
	if d.tilemaskHistory, err = newTexture(d.dev, maskDesc); err != nil {
		return true, err
	}

	// History content is garbage until a temporal frame writes it.
	d.dev.ClearTexture(d.radianceHistory.id)
	d.dev.ClearTexture(d.varianceHistory.id)
	d.dev.ClearTexture(d.tilemaskHistory.id)

	d.extent = extent
	d.validHistory = false
	return true, nil
}

// swapHistory exchanges the current and history roles. This is a handle
// swap, never a content copy.
func (d *DenoiseBuffer) swapHistory(viewProj Mat4) {
	d.radiance, d.radianceHistory = d.radianceHistory, d.radiance
	d.variance, d.varianceHistory = d.varianceHistory, d.variance
	d.historyViewProj = viewProj
	d.validHistory = true
}

// invalidate marks the history unusable without freeing it. Called when a
// frame skips the temporal stage.
func (d *DenoiseBuffer) invalidate() {
	d.validHistory = false
}

// free releases all persistent slots. Used when the closure drops out of the
// active set, so a gap in usage does not retain obsolete history memory.
// Safe to call repeatedly.
func (d *DenoiseBuffer) free() {
	d.freeTextures()
	d.extent = Extent{}
	d.validHistory = false
}

func (d *DenoiseBuffer) freeTextures() {
	for _, t := range []*Texture{
		d.radiance, d.radianceHistory, d.variance, d.varianceHistory, d.tilemaskHistory,
	} {
		if t != nil {
			d.dev.DestroyTexture(t.id)
		}
	}
	d.radiance, d.radianceHistory = nil, nil
	d.variance, d.varianceHistory = nil, nil
	d.tilemaskHistory = nil
}

// Result is the per-closure output handle returned by Trace. The texture
// stays valid for the remainder of the frame; Release finalizes the frame
// for this closure, performing the history role swap when the temporal stage
// ran instead of freeing the persistent memory.
type Result struct {
	tex      *Texture
	closure  ClosureKind
	released bool
	finalize func()
}

// Texture returns the final denoised radiance texture (or the 1x1
// placeholder for an inactive closure).
func (r *Result) Texture() *Texture { return r.tex }

// Closure returns the closure kind this result belongs to.
func (r *Result) Closure() ClosureKind { return r.closure }

// Release finalizes the result. Calling it more than once is a no-op.
func (r *Result) Release() {
	if r.released {
		return
	}
	r.released = true
	if r.finalize != nil {
		r.finalize()
	}
}
