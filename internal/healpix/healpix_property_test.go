package healpix

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_PixelRange validates that every sky position maps to a
// pixel index inside [0, 12*nside^2) for all supported resolutions.
func TestProperty_PixelRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("pixel index stays within the key space", prop.ForAll(
		func(ra, dec float64, orderPick int) bool {
			nside := 1 << (orderPick % 10)
			p, err := New(nside)
			if err != nil {
				return false
			}
			pix := p.PixelOf(ra, dec)
			return pix >= 0 && pix < p.NumPixels()
		},
		gen.Float64Range(0, 360),
		gen.Float64Range(-90, 90),
		gen.IntRange(0, 9),
	))

	properties.TestingRun(t)
}

// TestProperty_Idempotent validates that bucketing is a pure function:
// calling it twice on the same position yields the same key.
func TestProperty_Idempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	p, err := New(16)
	if err != nil {
		t.Fatal(err)
	}

	properties.Property("same position always yields the same key", prop.ForAll(
		func(ra, dec float64) bool {
			return p.PixelOf(ra, dec) == p.PixelOf(ra, dec)
		},
		gen.Float64Range(0, 360),
		gen.Float64Range(-90, 90),
	))

	properties.Property("sub-pixel perturbation keeps the key", prop.ForAll(
		func(ra, dec float64) bool {
			// A perturbation far below the pixel scale must not move the
			// position across a pixel boundary except on a measure-zero set.
			const eps = 1e-12
			return p.PixelOf(ra, dec) == p.PixelOf(ra+eps, dec+eps)
		},
		gen.Float64Range(1, 359),
		gen.Float64Range(-89, 89),
	))

	properties.TestingRun(t)
}
