package tile

// Footprint is a tile's on-sky boundary, derived from its coordinate
// transform and pixel dimensions. It carries no pixel data, so footprints
// for every tile can be held at once while pixel grids are loaded lazily.
type Footprint struct {
	Tile   string
	Width  int
	Height int
	WCS    *WCS
}

// Contains reports whether the sky position (degrees) falls inside the
// tile's pixel grid.
func (f Footprint) Contains(ra, dec float64) bool {
	x, y, ok := f.WCS.SkyToPix(ra, dec)
	if !ok {
		return false
	}
	return x >= 0 && x < float64(f.Width) && y >= 0 && y < float64(f.Height)
}
