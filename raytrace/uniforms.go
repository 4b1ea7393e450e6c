package raytrace

import (
	"encoding/binary"
	"math"
)

// frameUniformSize is the byte size of the uniform block shared by every
// kernel. It must stay in sync with struct FrameData in the WGSL sources.
const frameUniformSize = 208

// Uniform flag bits, mirrored in the WGSL sources.
const (
	uniformFlagFallbackTrace    = 1 << 0 // substitute probe fallback for ray marching
	uniformFlagValidHistory     = 1 << 1 // temporal history may be reprojected
	uniformFlagHorizon          = 1 << 2 // horizon pipeline active this frame
	uniformFlagBackfaceRadiance = 1 << 3 // trace against back-facing radiance
)

// frameUniforms is the host-side mirror of the kernel uniform block.
type frameUniforms struct {
	ViewProj        Mat4
	HistoryViewProj Mat4

	FullExtent     Extent
	TracingExtent  Extent
	TileCount      Extent // denoise-resolution tile grid
	TraceTileCount Extent // tracing-resolution tile grid

	ResolutionScale uint32
	ClosureIndex    uint32
	RNGOffset       uint32
	Flags           uint32

	RoughnessScale float32
	RoughnessBias  float32
	SampleClamp    float32
	TraceQuality   float32
	TraceThickness float32
	HorizonBias    float32
	HistoryWeight  float32
}

// pack serializes the block in the std140-compatible layout the kernels
// declare: two mat4x4, four vec2<u32>, then scalars, padded to 16 bytes.
func (u *frameUniforms) pack() []byte {
	buf := make([]byte, frameUniformSize)
	off := 0

	putMat4 := func(m Mat4) {
		for _, f := range m {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
			off += 4
		}
	}
	putUint2 := func(e Extent) {
		binary.LittleEndian.PutUint32(buf[off:], uint32(e.Width))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(e.Height))
		off += 8
	}
	putUint := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	putFloat := func(f float32) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}

	putMat4(u.ViewProj)
	putMat4(u.HistoryViewProj)
	putUint2(u.FullExtent)
	putUint2(u.TracingExtent)
	putUint2(u.TileCount)
	putUint2(u.TraceTileCount)
	putUint(u.ResolutionScale)
	putUint(u.ClosureIndex)
	putUint(u.RNGOffset)
	putUint(u.Flags)
	putFloat(u.RoughnessScale)
	putFloat(u.RoughnessBias)
	putFloat(u.SampleClamp)
	putFloat(u.TraceQuality)
	putFloat(u.TraceThickness)
	putFloat(u.HorizonBias)
	putFloat(u.HistoryWeight)
	// Trailing pad keeps the block a multiple of 16 bytes.

	return buf
}
