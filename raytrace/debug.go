package raytrace

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/AGOOT/blender/gpucore"
)

// WriteTextureSnapshot reads a texture back from the device and writes it as
// a PNG, upscaled by scale with nearest-neighbor filtering so individual
// texels stay visible. Intended for debugging on backends that support
// readback; the capture stalls the device.
func WriteTextureSnapshot(w io.Writer, dev gpucore.Backend, tex *Texture, scale int) error {
	if tex == nil {
		return fmt.Errorf("raytrace: snapshot of nil texture")
	}
	if scale < 1 {
		scale = 1
	}

	data, err := dev.ReadTexture(tex.ID())
	if err != nil {
		return fmt.Errorf("raytrace: texture readback: %w", err)
	}

	desc := tex.Desc()
	img, err := texelsToImage(data, desc)
	if err != nil {
		return err
	}

	if scale > 1 {
		dst := image.NewRGBA(image.Rect(0, 0, desc.Width*scale, desc.Height*scale))
		xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		img = dst
	}
	return png.Encode(w, img)
}

// DebugTileMask captures the current frame's tile classification mask.
// Only valid between the first Trace call and EndFrame.
func (m *Module) DebugTileMask(w io.Writer, scale int) error {
	if !m.inFrame || m.tiles == nil {
		return ErrNoFrame
	}
	return WriteTextureSnapshot(w, m.dev, m.tiles.mask, scale)
}

func texelsToImage(data []byte, desc gpucore.TextureDesc) (image.Image, error) {
	stride := desc.Format.BytesPerPixel()
	if len(data) < desc.Width*desc.Height*stride {
		return nil, fmt.Errorf("raytrace: short readback: %d bytes for %dx%d", len(data), desc.Width, desc.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, desc.Width, desc.Height))
	for y := 0; y < desc.Height; y++ {
		for x := 0; x < desc.Width; x++ {
			px := data[(y*desc.Width+x)*stride:]
			var r, g, b uint8
			switch desc.Format {
			case gpucore.TextureFormatR32Uint:
				// Classification masks: any nonzero tile renders white.
				if px[0]|px[1]|px[2]|px[3] != 0 {
					r, g, b = 255, 255, 255
				}
			case gpucore.TextureFormatR32Float:
				v := math.Float32frombits(leUint32(px))
				r = floatToByte(v)
				g, b = r, r
			case gpucore.TextureFormatRGBA16Float:
				r = floatToByte(halfToFloat(leUint16(px[0:])))
				g = floatToByte(halfToFloat(leUint16(px[2:])))
				b = floatToByte(halfToFloat(leUint16(px[4:])))
			default:
				return nil, fmt.Errorf("raytrace: snapshot of unsupported format %d", desc.Format)
			}
			i := img.PixOffset(x, y)
			img.Pix[i+0] = r
			img.Pix[i+1] = g
			img.Pix[i+2] = b
			img.Pix[i+3] = 255
		}
	}
	return img, nil
}

func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func floatToByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// halfToFloat expands an IEEE 754 binary16 value.
func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: renormalize.
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
		return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
	case 0x1f:
		return math.Float32frombits(sign | 0xff<<23 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
	}
}
