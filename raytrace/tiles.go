package raytrace

import (
	"encoding/binary"

	"github.com/AGOOT/blender/gpucore"
)

// Tile mask slots. Each closure owns four mask layers: ray tracing and
// denoising for the trace pipeline, then the same pair for the horizon scan.
const (
	tileSlotTrace = iota
	tileSlotDenoise
	tileSlotHorizonTrace
	tileSlotHorizonDenoise

	tileMaskKinds
)

// tileMaskLayer returns the texture-array layer of a closure's mask slot.
func tileMaskLayer(kind ClosureKind, slot int) int {
	return int(kind)*tileMaskKinds + slot
}

// tileEntrySize is the byte stride of one packed tile-list entry:
// vec4<u32>(tile.x, tile.y, closure, 0).
const tileEntrySize = 16

// dispatchBufferSize holds a DispatchArgs record plus the packed entry
// count written during compaction.
const dispatchBufferSize = gpucore.DispatchArgsSize + 4

// frameTiles is the per-frame tile classification state shared by every
// closure and by the horizon pipeline. All resources come from the pools and
// return there at frame end.
type frameTiles struct {
	grid     Extent // denoise-resolution tile grid
	capacity int    // entries per tile list

	mask *Texture // R32Uint array, closureCount*tileMaskKinds layers

	traceList          *Buffer
	denoiseList        *Buffer
	horizonList        *Buffer
	horizonDenoiseList *Buffer

	traceDispatch          *Buffer
	denoiseDispatch        *Buffer
	horizonDispatch        *Buffer
	horizonDenoiseDispatch *Buffer
}

// tileListCapacity returns the entry capacity for a tile grid. Every closure
// can contribute every tile, and the result is rounded up to the list
// alignment so the pool can reuse buffers across resolutions.
func tileListCapacity(grid Extent) int {
	return ceilToMultiple(grid.Area()*int(closureCount), tileListAlignment)
}

func acquireFrameTiles(texPool *TexturePool, bufPool *BufferPool, grid Extent) (*frameTiles, error) {
	t := &frameTiles{
		grid:     grid,
		capacity: tileListCapacity(grid),
	}

	var err error
	t.mask, err = texPool.Acquire(gpucore.TextureDesc{
		Label:  "tile_mask",
		Width:  grid.Width,
		Height: grid.Height,
		Layers: int(closureCount) * tileMaskKinds,
		Format: gpucore.TextureFormatR32Uint,
		Usage:  gpucore.TextureUsageReadWrite | gpucore.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, err
	}

	listDesc := gpucore.BufferDesc{
		Size:  t.capacity * tileEntrySize,
		Usage: gpucore.BufferUsageStorage,
	}
	dispatchDesc := gpucore.BufferDesc{
		Size:  dispatchBufferSize,
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageIndirect | gpucore.BufferUsageCopyDst,
	}

	acquireList := func(label string) *Buffer {
		if err != nil {
			return nil
		}
		d := listDesc
		d.Label = label
		var b *Buffer
		b, err = bufPool.Acquire(d)
		return b
	}
	acquireDispatch := func(label string) *Buffer {
		if err != nil {
			return nil
		}
		d := dispatchDesc
		d.Label = label
		var b *Buffer
		b, err = bufPool.Acquire(d)
		return b
	}

	t.traceList = acquireList("tiles.trace")
	t.denoiseList = acquireList("tiles.denoise")
	t.horizonList = acquireList("tiles.horizon_trace")
	t.horizonDenoiseList = acquireList("tiles.horizon_denoise")
	t.traceDispatch = acquireDispatch("dispatch.trace")
	t.denoiseDispatch = acquireDispatch("dispatch.denoise")
	t.horizonDispatch = acquireDispatch("dispatch.horizon_trace")
	t.horizonDenoiseDispatch = acquireDispatch("dispatch.horizon_denoise")
	if err != nil {
		t.release(texPool, bufPool)
		return nil, err
	}
	return t, nil
}

// reset initializes the dispatch argument records to an empty dispatch
// (0 groups, y=z=1, count 0) before compaction increments them.
func (t *frameTiles) reset(dev gpucore.Backend) {
	var init [dispatchBufferSize]byte
	binary.LittleEndian.PutUint32(init[4:], 1)
	binary.LittleEndian.PutUint32(init[8:], 1)

	for _, b := range []*Buffer{
		t.traceDispatch, t.denoiseDispatch, t.horizonDispatch, t.horizonDenoiseDispatch,
	} {
		dev.WriteBuffer(b.ID(), 0, init[:])
	}
}

func (t *frameTiles) release(texPool *TexturePool, bufPool *BufferPool) {
	if t == nil {
		return
	}
	texPool.Release(t.mask)
	for _, b := range []*Buffer{
		t.traceList, t.denoiseList, t.horizonList, t.horizonDenoiseList,
		t.traceDispatch, t.denoiseDispatch, t.horizonDispatch, t.horizonDenoiseDispatch,
	} {
		bufPool.Release(b)
	}
}
