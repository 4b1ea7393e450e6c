package raytrace

// Extent is a 2D size in pixels.
type Extent struct {
	Width  int
	Height int
}

// Scale divides both dimensions by s, rounding up. s must be >= 1.
func (e Extent) Scale(s int) Extent {
	return Extent{
		Width:  CeilDiv(e.Width, s),
		Height: CeilDiv(e.Height, s),
	}
}

// Tiles returns the tile grid covering the extent.
func (e Extent) Tiles() Extent {
	return e.Scale(TileSize)
}

// Area returns Width * Height.
func (e Extent) Area() int {
	return e.Width * e.Height
}

// IsZero reports whether either dimension is zero.
func (e Extent) IsZero() bool {
	return e.Width <= 0 || e.Height <= 0
}

// Mat4 is a 4x4 float32 matrix in column-major order, matching the layout
// uploaded to shader uniform blocks.
type Mat4 [16]float32

// Mat4Identity returns the identity matrix.
func Mat4Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}
