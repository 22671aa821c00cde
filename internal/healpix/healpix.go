// Package healpix maps sky positions to equal-area sky pixels in the
// NESTED ordering scheme. It implements the standard HEALPix ang2pix
// bucketing used to route records to spatial partitions; the resolution
// is fixed once per dataset.
package healpix

import (
	"fmt"
	"math"
	"math/bits"
)

// MaxOrder bounds the supported resolution. 2*order+4 bits must fit in
// an int64 pixel index.
const MaxOrder = 29

// Partitioner assigns sky positions to HEALPix pixels at a fixed nside.
type Partitioner struct {
	nside int64
	order uint
}

// New creates a partitioner for the given nside, which must be a power
// of two in [1, 2^29].
func New(nside int) (*Partitioner, error) {
	if nside < 1 || nside&(nside-1) != 0 {
		return nil, fmt.Errorf("healpix: nside must be a power of two, got %d", nside)
	}
	order := uint(bits.TrailingZeros64(uint64(nside)))
	if order > MaxOrder {
		return nil, fmt.Errorf("healpix: nside %d exceeds maximum order %d", nside, MaxOrder)
	}
	return &Partitioner{nside: int64(nside), order: order}, nil
}

// NSide returns the configured resolution parameter.
func (p *Partitioner) NSide() int {
	return int(p.nside)
}

// NumPixels returns the number of pixels on the sphere at this resolution.
func (p *Partitioner) NumPixels() int64 {
	return 12 * p.nside * p.nside
}

// PixelOf returns the NESTED pixel index containing the given sky
// position (degrees). Deterministic: equal positions map to equal pixels.
func (p *Partitioner) PixelOf(ra, dec float64) int64 {
	phi := ra * math.Pi / 180
	z := math.Sin(dec * math.Pi / 180)
	za := math.Abs(z)

	// tt in [0,4): longitude in units of pi/2
	tt := math.Mod(phi, 2*math.Pi)
	if tt < 0 {
		tt += 2 * math.Pi
	}
	tt /= math.Pi / 2

	ns := p.nside
	var face, ix, iy int64

	if za <= 2.0/3.0 {
		// Equatorial region: find the ascending and descending edge lines
		temp1 := float64(ns) * (0.5 + tt)
		temp2 := float64(ns) * (z * 0.75)
		jp := int64(temp1 - temp2)
		jm := int64(temp1 + temp2)

		ifp := jp >> p.order
		ifm := jm >> p.order
		switch {
		case ifp == ifm:
			face = (ifp & 3) + 4
		case ifp < ifm:
			face = ifp & 3
		default:
			face = (ifm & 3) + 8
		}
		ix = jm & (ns - 1)
		iy = ns - (jp & (ns - 1)) - 1
	} else {
		// Polar caps
		ntt := int64(tt)
		if ntt >= 4 {
			ntt = 3
		}
		tp := tt - float64(ntt)
		tmp := float64(ns) * math.Sqrt(3*(1-za))
		jp := int64(tp * tmp)
		jm := int64((1.0 - tp) * tmp)
		if jp >= ns {
			jp = ns - 1
		}
		if jm >= ns {
			jm = ns - 1
		}
		if z >= 0 {
			face = ntt
			ix = ns - jm - 1
			iy = ns - jp - 1
		} else {
			face = ntt + 8
			ix = jp
			iy = jm
		}
	}

	return face<<(2*p.order) | spreadBits(ix) | spreadBits(iy)<<1
}

// spreadBits interleaves zeroes between the bits of v so that bit i of v
// lands at bit 2i of the result.
func spreadBits(v int64) int64 {
	x := uint64(v) & 0x00000000ffffffff
	x = (x | x<<16) & 0x0000ffff0000ffff
	x = (x | x<<8) & 0x00ff00ff00ff00ff
	x = (x | x<<4) & 0x0f0f0f0f0f0f0f0f
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return int64(x)
}
