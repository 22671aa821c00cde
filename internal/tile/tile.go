package tile

import (
	"fmt"
	"math"
)

// Tile holds one mosaic tile's pixel data: the flux image, its weight
// (inverse-variance) map, and the coordinate transform. Pixel grids are
// row-major with index y*Width+x. A Tile is loaded for the duration of
// cutout generation and released afterwards; only one tile's pixel data
// is expected to be resident at a time.
type Tile struct {
	Name   string
	Width  int
	Height int
	Flux   []float32
	Weight []float32
	WCS    *WCS
}

// New constructs a tile from pixel grids, validating dimensions.
func New(name string, width, height int, flux, weight []float32, wcs *WCS) (*Tile, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("tile: invalid dimensions %dx%d for %s", width, height, name)
	}
	if len(flux) != width*height || len(weight) != width*height {
		return nil, fmt.Errorf("tile: %s pixel grids have %d/%d values, want %d",
			name, len(flux), len(weight), width*height)
	}
	if wcs == nil {
		return nil, fmt.Errorf("tile: %s has no coordinate transform", name)
	}
	if err := wcs.Validate(); err != nil {
		return nil, err
	}
	return &Tile{Name: name, Width: width, Height: height, Flux: flux, Weight: weight, WCS: wcs}, nil
}

// FluxAt returns the flux value at pixel (x, y).
func (t *Tile) FluxAt(x, y int) float32 {
	return t.Flux[y*t.Width+x]
}

// WeightAt returns the weight value at pixel (x, y).
func (t *Tile) WeightAt(x, y int) float32 {
	return t.Weight[y*t.Width+x]
}

// Masked reports whether pixel (x, y) is unusable: weight is zero or
// negative, or the flux value is NaN.
func (t *Tile) Masked(x, y int) bool {
	if x < 0 || x >= t.Width || y < 0 || y >= t.Height {
		return true
	}
	w := t.WeightAt(x, y)
	f := t.FluxAt(x, y)
	return w <= 0 || math.IsNaN(float64(w)) || math.IsNaN(float64(f))
}

// Footprint returns the tile's on-sky footprint.
func (t *Tile) Footprint() Footprint {
	return Footprint{Tile: t.Name, Width: t.Width, Height: t.Height, WCS: t.WCS}
}
