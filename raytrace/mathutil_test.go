package raytrace

import "testing"

func TestNextPowerOfTwo(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{"zero floors to one", 0, 1},
		{"negative floors to one", -4, 1},
		{"one", 1, 1},
		{"two", 2, 2},
		{"three rounds up", 3, 4},
		{"four stays", 4, 4},
		{"five rounds up", 5, 8},
		{"large", 1000, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextPowerOfTwo(tt.n); got != tt.want {
				t.Errorf("NextPowerOfTwo(%d) = %d, want %d", tt.n, got, tt.want)
			}
		})
	}
}

func TestCeilDiv(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{0, 8, 0},
		{1, 8, 1},
		{8, 8, 1},
		{9, 8, 2},
		{1920, 2, 960},
		{1080, 2, 540},
		{1081, 2, 541},
	}
	for _, tt := range tests {
		if got := CeilDiv(tt.a, tt.b); got != tt.want {
			t.Errorf("CeilDiv(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCeilToMultiple(t *testing.T) {
	tests := []struct {
		n, m, want int
	}{
		{0, 512, 0},
		{1, 512, 512},
		{512, 512, 512},
		{513, 512, 1024},
		{100, 8, 104},
	}
	for _, tt := range tests {
		if got := ceilToMultiple(tt.n, tt.m); got != tt.want {
			t.Errorf("ceilToMultiple(%d, %d) = %d, want %d", tt.n, tt.m, got, tt.want)
		}
	}
}

func TestExtentScale(t *testing.T) {
	full := Extent{Width: 1920, Height: 1080}

	half := full.Scale(2)
	if half.Width != 960 || half.Height != 540 {
		t.Errorf("Scale(2) = %dx%d, want 960x540", half.Width, half.Height)
	}

	// Odd extents round up so no pixel is dropped.
	odd := Extent{Width: 1921, Height: 1081}.Scale(2)
	if odd.Width != 961 || odd.Height != 541 {
		t.Errorf("odd Scale(2) = %dx%d, want 961x541", odd.Width, odd.Height)
	}

	tiles := full.Tiles()
	if tiles.Width != 240 || tiles.Height != 135 {
		t.Errorf("Tiles() = %dx%d, want 240x135", tiles.Width, tiles.Height)
	}
}

func TestTileListCapacityAlignment(t *testing.T) {
	grids := []Extent{
		{Width: 1, Height: 1},
		{Width: 240, Height: 135},
		{Width: 17, Height: 3},
	}
	for _, grid := range grids {
		capacity := tileListCapacity(grid)
		if capacity%tileListAlignment != 0 {
			t.Errorf("tileListCapacity(%dx%d) = %d, not a multiple of %d",
				grid.Width, grid.Height, capacity, tileListAlignment)
		}
		if capacity < grid.Area()*int(closureCount) {
			t.Errorf("tileListCapacity(%dx%d) = %d, below worst case %d",
				grid.Width, grid.Height, capacity, grid.Area()*int(closureCount))
		}
	}
}
