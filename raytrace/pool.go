package raytrace

import (
	"errors"
	"fmt"

	"github.com/AGOOT/blender/gpucore"
)

// ErrAllocation wraps backend resource-allocation failures. There is no
// retry or fallback path; the frame is lost.
var ErrAllocation = errors.New("raytrace: resource allocation failed")

// poolKeepFrames is how many frames an unused pooled resource survives
// before its memory is returned to the backend.
const poolKeepFrames = 2

// Texture wraps a backend texture with its descriptor.
//
// Pooled textures are only valid between Acquire and Release. Persistent
// textures (history buffers) are owned by their DenoiseBuffer.
type Texture struct {
	id   gpucore.TextureID
	desc gpucore.TextureDesc
}

// ID returns the backend handle.
func (t *Texture) ID() gpucore.TextureID { return t.id }

// Desc returns the creation descriptor.
func (t *Texture) Desc() gpucore.TextureDesc { return t.desc }

// Extent returns the texture size.
func (t *Texture) Extent() Extent {
	return Extent{Width: t.desc.Width, Height: t.desc.Height}
}

// Buffer wraps a backend buffer with its descriptor.
type Buffer struct {
	id   gpucore.BufferID
	desc gpucore.BufferDesc
}

// ID returns the backend handle.
func (b *Buffer) ID() gpucore.BufferID { return b.id }

// Desc returns the creation descriptor.
func (b *Buffer) Desc() gpucore.BufferDesc { return b.desc }

// newTexture allocates a texture outside the pool.
func newTexture(dev gpucore.Backend, desc gpucore.TextureDesc) (*Texture, error) {
	id, err := dev.CreateTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: texture %q: %w", ErrAllocation, desc.Label, err)
	}
	return &Texture{id: id, desc: desc}, nil
}

// newBuffer allocates a buffer outside the pool.
func newBuffer(dev gpucore.Backend, desc gpucore.BufferDesc) (*Buffer, error) {
	id, err := dev.CreateBuffer(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: buffer %q: %w", ErrAllocation, desc.Label, err)
	}
	return &Buffer{id: id, desc: desc}, nil
}

// freeTexture is a released texture waiting for reuse.
type freeTexture struct {
	tex      *Texture
	lastUsed uint64
}

// TexturePool recycles transient textures within and across frames.
//
// Acquire matches on the full descriptor except the label, so a release
// followed by an acquire of a compatible description returns the same
// underlying resource. Content after reuse is undefined.
type TexturePool struct {
	dev   gpucore.Backend
	free  map[gpucore.TextureDesc][]freeTexture
	frame uint64
}

// NewTexturePool creates an empty pool over dev.
func NewTexturePool(dev gpucore.Backend) *TexturePool {
	return &TexturePool{
		dev:  dev,
		free: make(map[gpucore.TextureDesc][]freeTexture),
	}
}

// poolTextureKey strips the label so it does not fragment the pool.
func poolTextureKey(desc gpucore.TextureDesc) gpucore.TextureDesc {
	desc.Label = ""
	return desc
}

// Acquire returns a texture matching desc, reusing a released one if a
// compatible entry exists.
func (p *TexturePool) Acquire(desc gpucore.TextureDesc) (*Texture, error) {
	key := poolTextureKey(desc)
	if list := p.free[key]; len(list) > 0 {
		entry := list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		return entry.tex, nil
	}
	return newTexture(p.dev, desc)
}

// Release returns a texture to the pool. The texture must not be used
// afterwards.
func (p *TexturePool) Release(t *Texture) {
	if t == nil {
		return
	}
	key := poolTextureKey(t.desc)
	p.free[key] = append(p.free[key], freeTexture{tex: t, lastUsed: p.frame})
}

// EndFrame ages the free lists and destroys entries that sat unused for
// poolKeepFrames frames.
func (p *TexturePool) EndFrame() {
	p.frame++
	for key, list := range p.free {
		kept := list[:0]
		for _, entry := range list {
			if p.frame-entry.lastUsed > poolKeepFrames {
				p.dev.DestroyTexture(entry.tex.id)
			} else {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			delete(p.free, key)
		} else {
			p.free[key] = kept
		}
	}
}

// Destroy releases every pooled texture.
func (p *TexturePool) Destroy() {
	for _, list := range p.free {
		for _, entry := range list {
			p.dev.DestroyTexture(entry.tex.id)
		}
	}
	p.free = make(map[gpucore.TextureDesc][]freeTexture)
}

// freeBuffer is a released buffer waiting for reuse.
type freeBuffer struct {
	buf      *Buffer
	lastUsed uint64
}

// BufferPool recycles transient buffers, mirroring TexturePool.
type BufferPool struct {
	dev   gpucore.Backend
	free  map[gpucore.BufferDesc][]freeBuffer
	frame uint64
}

// NewBufferPool creates an empty pool over dev.
func NewBufferPool(dev gpucore.Backend) *BufferPool {
	return &BufferPool{
		dev:  dev,
		free: make(map[gpucore.BufferDesc][]freeBuffer),
	}
}

func poolBufferKey(desc gpucore.BufferDesc) gpucore.BufferDesc {
	desc.Label = ""
	return desc
}

// Acquire returns a buffer matching desc, reusing a released one if
// possible.
func (p *BufferPool) Acquire(desc gpucore.BufferDesc) (*Buffer, error) {
	key := poolBufferKey(desc)
	if list := p.free[key]; len(list) > 0 {
		entry := list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		return entry.buf, nil
	}
	return newBuffer(p.dev, desc)
}

// Release returns a buffer to the pool.
func (p *BufferPool) Release(b *Buffer) {
	if b == nil {
		return
	}
	key := poolBufferKey(b.desc)
	p.free[key] = append(p.free[key], freeBuffer{buf: b, lastUsed: p.frame})
}

// EndFrame ages the free lists like TexturePool.EndFrame.
func (p *BufferPool) EndFrame() {
	p.frame++
	for key, list := range p.free {
		kept := list[:0]
		for _, entry := range list {
			if p.frame-entry.lastUsed > poolKeepFrames {
				p.dev.DestroyBuffer(entry.buf.id)
			} else {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			delete(p.free, key)
		} else {
			p.free[key] = kept
		}
	}
}

// Destroy releases every pooled buffer.
func (p *BufferPool) Destroy() {
	for _, list := range p.free {
		for _, entry := range list {
			p.dev.DestroyBuffer(entry.buf.id)
		}
	}
	p.free = make(map[gpucore.BufferDesc][]freeBuffer)
}
