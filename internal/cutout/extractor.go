// Package cutout extracts fixed-size flux and inverse-variance image
// patches around target sky positions. Extraction is a pure function:
// positions that cannot produce a usable cutout are reported as
// rejections, never as errors, so batch processing continues past them.
package cutout

import (
	"fmt"
	"math"

	"github.com/starcut/starcut/internal/errors"
	"github.com/starcut/starcut/internal/tile"
)

// Params configures cutout extraction.
type Params struct {
	// Size is the cutout side length in pixels
	Size int

	// NaNTolerance is the allowed fraction of NaN pixels in the flux
	// window. 1.0 disables the check; 0.0 rejects any occurrence.
	NaNTolerance float64

	// ZeroTolerance is the allowed fraction of exactly-zero pixels in
	// the flux window, with the same 1.0/0.0 semantics.
	ZeroTolerance float64

	// DarkCurrent is the detector dark-current rate in e-/s/pixel
	DarkCurrent float64

	// NumExposures is the number of co-added exposures in the mosaic
	NumExposures int
}

// Validate checks extraction parameters.
func (p Params) Validate() error {
	if p.Size <= 0 {
		return errors.NewCutoutError(errors.CodeInvalidCutoutSize,
			fmt.Sprintf("cutout size must be positive, got %d", p.Size))
	}
	if p.NaNTolerance < 0 || p.NaNTolerance > 1 {
		return errors.NewCutoutError(errors.CodeInvalidTolerance,
			fmt.Sprintf("nan tolerance %v out of [0, 1]", p.NaNTolerance))
	}
	if p.ZeroTolerance < 0 || p.ZeroTolerance > 1 {
		return errors.NewCutoutError(errors.CodeInvalidTolerance,
			fmt.Sprintf("zero tolerance %v out of [0, 1]", p.ZeroTolerance))
	}
	if p.NumExposures <= 0 {
		return errors.NewCutoutError(errors.CodeInvalidTolerance,
			fmt.Sprintf("number of exposures must be positive, got %d", p.NumExposures))
	}
	return nil
}

// Reason explains why a cutout was rejected.
type Reason int

const (
	// Accepted means a cutout was produced
	Accepted Reason = iota

	// RejectOffTile means the position has no projection onto the tile
	RejectOffTile

	// RejectOutOfBounds means the pixel window extends beyond the tile
	RejectOutOfBounds

	// RejectNaN means the NaN-pixel fraction exceeded the tolerance
	RejectNaN

	// RejectZero means the zero-pixel fraction exceeded the tolerance
	RejectZero
)

// String returns a short label for the rejection reason.
func (r Reason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectOffTile:
		return "off-tile"
	case RejectOutOfBounds:
		return "out-of-bounds"
	case RejectNaN:
		return "nan-fraction"
	case RejectZero:
		return "zero-fraction"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Cutout is a square flux patch with its co-registered inverse-variance
// patch, both Side*Side row-major float32 arrays.
type Cutout struct {
	Side int
	Flux []float32
	Ivar []float32
}

// Extract produces the cutout centered on the given sky position, or a
// rejection reason. The window center is the nearest integer pixel to
// the projected position; windows that would extend beyond the tile are
// rejected rather than padded.
func Extract(t *tile.Tile, ra, dec float64, p Params) (*Cutout, Reason) {
	x, y, ok := t.WCS.SkyToPix(ra, dec)
	if !ok {
		return nil, RejectOffTile
	}

	cx := int(math.Round(x))
	cy := int(math.Round(y))
	half := p.Size / 2
	x0, y0 := cx-half, cy-half
	x1, y1 := x0+p.Size, y0+p.Size
	if x0 < 0 || y0 < 0 || x1 > t.Width || y1 > t.Height {
		return nil, RejectOutOfBounds
	}

	n := p.Size * p.Size
	out := &Cutout{
		Side: p.Size,
		Flux: make([]float32, n),
		Ivar: make([]float32, n),
	}

	nanCount, zeroCount := 0, 0
	for wy := 0; wy < p.Size; wy++ {
		for wx := 0; wx < p.Size; wx++ {
			flux := t.FluxAt(x0+wx, y0+wy)
			weight := t.WeightAt(x0+wx, y0+wy)
			i := wy*p.Size + wx
			out.Flux[i] = flux
			out.Ivar[i] = inverseVariance(flux, weight, p)

			f64 := float64(flux)
			if math.IsNaN(f64) {
				nanCount++
			} else if f64 == 0 {
				zeroCount++
			}
		}
	}

	total := float64(n)
	if float64(nanCount)/total > p.NaNTolerance {
		return nil, RejectNaN
	}
	if float64(zeroCount)/total > p.ZeroTolerance {
		return nil, RejectZero
	}
	return out, Accepted
}

// inverseVariance combines the background variance carried by the weight
// map with the Poisson-like contribution of the source counts and dark
// current, averaged over the co-added exposures. Zero or negative weight
// yields zero inverse variance; NaN inputs propagate to NaN. No branch
// divides by zero.
func inverseVariance(flux, weight float32, p Params) float32 {
	f := float64(flux)
	w := float64(weight)
	if math.IsNaN(w) || math.IsNaN(f) {
		return float32(math.NaN())
	}
	if w <= 0 {
		return 0
	}
	nexp := float64(p.NumExposures)
	variance := 1/w + (math.Max(f, 0)+p.DarkCurrent*nexp)/nexp
	return float32(1 / variance)
}
