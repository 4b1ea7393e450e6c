package raytrace

import "math/bits"

// TileSize is the screen-tile edge length in pixels. It is also the compute
// workgroup edge, so one workgroup processes exactly one tile.
const TileSize = 8

// tileListAlignment is the allocation granularity of tile coordinate lists.
// Rounding capacities up to this multiple lets the pool reuse list buffers
// across small resolution changes.
const tileListAlignment = 512

// NextPowerOfTwo returns the smallest power of two >= n, with a floor of 1.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// CeilDiv returns ceil(a / b) for positive b.
func CeilDiv(a, b int) int {
	return (a + b - 1) / b
}

// ceilToMultiple rounds n up to the next multiple of m.
func ceilToMultiple(n, m int) int {
	return CeilDiv(n, m) * m
}
