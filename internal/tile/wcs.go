// Package tile provides access to survey mosaic tiles: pixel grids, their
// world-coordinate transforms, and on-sky footprints.
package tile

import (
	"fmt"
	"math"
)

const degToRad = math.Pi / 180

// WCS is a gnomonic (TAN) world-coordinate transform between sky
// positions in degrees and zero-based pixel coordinates.
type WCS struct {
	// CRVal1, CRVal2 are the sky coordinates of the reference point (deg)
	CRVal1 float64
	CRVal2 float64

	// CRPix1, CRPix2 are the reference pixel coordinates (FITS 1-based)
	CRPix1 float64
	CRPix2 float64

	// CD11..CD22 form the linearized transform matrix (deg/pixel)
	CD11 float64
	CD12 float64
	CD21 float64
	CD22 float64
}

// Validate checks that the transform is invertible.
func (w *WCS) Validate() error {
	if w.det() == 0 {
		return fmt.Errorf("tile: WCS CD matrix is singular")
	}
	if w.CRVal2 < -90 || w.CRVal2 > 90 {
		return fmt.Errorf("tile: WCS reference declination %v out of range", w.CRVal2)
	}
	return nil
}

func (w *WCS) det() float64 {
	return w.CD11*w.CD22 - w.CD12*w.CD21
}

// SkyToPix converts a sky position (degrees) to zero-based pixel
// coordinates. ok is false when the position lies on the far side of the
// tangent plane and has no projection.
func (w *WCS) SkyToPix(ra, dec float64) (x, y float64, ok bool) {
	ra0 := w.CRVal1 * degToRad
	dec0 := w.CRVal2 * degToRad
	a := ra * degToRad
	d := dec * degToRad

	sinD, cosD := math.Sincos(d)
	sinD0, cosD0 := math.Sincos(dec0)
	cosDA := math.Cos(a - ra0)

	cosc := sinD0*sinD + cosD0*cosD*cosDA
	if cosc <= 0 {
		return 0, 0, false
	}

	// Native projection-plane coordinates, in degrees
	xi := cosD * math.Sin(a-ra0) / cosc / degToRad
	eta := (cosD0*sinD - sinD0*cosD*cosDA) / cosc / degToRad

	// Invert the CD matrix to recover pixel offsets from the reference
	det := w.det()
	dx := (w.CD22*xi - w.CD12*eta) / det
	dy := (-w.CD21*xi + w.CD11*eta) / det

	// Convert from FITS 1-based reference to zero-based pixel coordinates
	return dx + w.CRPix1 - 1, dy + w.CRPix2 - 1, true
}

// PixToSky converts zero-based pixel coordinates to a sky position in
// degrees, with RA normalized to [0, 360).
func (w *WCS) PixToSky(x, y float64) (ra, dec float64) {
	dx := x - (w.CRPix1 - 1)
	dy := y - (w.CRPix2 - 1)

	// Projection-plane coordinates in radians
	xi := (w.CD11*dx + w.CD12*dy) * degToRad
	eta := (w.CD21*dx + w.CD22*dy) * degToRad

	ra0 := w.CRVal1 * degToRad
	dec0 := w.CRVal2 * degToRad
	sinD0, cosD0 := math.Sincos(dec0)

	rho := math.Hypot(xi, eta)
	if rho == 0 {
		return w.CRVal1, w.CRVal2
	}
	c := math.Atan(rho)
	sinC, cosC := math.Sincos(c)

	dec = math.Asin(cosC*sinD0 + eta*sinC*cosD0/rho)
	ra = ra0 + math.Atan2(xi*sinC, rho*cosD0*cosC-eta*sinD0*sinC)

	ra /= degToRad
	dec /= degToRad
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return ra, dec
}
