package cutout

import (
	"math"
	"testing"

	"github.com/starcut/starcut/internal/tile"
)

func testTile(t *testing.T, width, height int) *tile.Tile {
	t.Helper()
	flux := make([]float32, width*height)
	weight := make([]float32, width*height)
	for i := range flux {
		flux[i] = 2.5
		weight[i] = 4.0
	}
	const scale = 0.05 / 3600
	wcs := &tile.WCS{
		CRVal1: 150.0,
		CRVal2: 2.0,
		CRPix1: float64(width)/2 + 0.5,
		CRPix2: float64(height)/2 + 0.5,
		CD11:   -scale,
		CD22:   scale,
	}
	tl, err := tile.New("test", width, height, flux, weight, wcs)
	if err != nil {
		t.Fatal(err)
	}
	return tl
}

func cleanParams(size int) Params {
	return Params{
		Size:          size,
		NaNTolerance:  1.0,
		ZeroTolerance: 1.0,
		DarkCurrent:   0.0168,
		NumExposures:  4,
	}
}

func TestExtract_ExactSize(t *testing.T) {
	tl := testTile(t, 64, 64)
	ra, dec := tl.WCS.PixToSky(32, 32)

	for _, size := range []int{4, 5, 16, 21} {
		c, reason := Extract(tl, ra, dec, cleanParams(size))
		if reason != Accepted {
			t.Fatalf("size %d: rejected with %v", size, reason)
		}
		if c.Side != size || len(c.Flux) != size*size || len(c.Ivar) != size*size {
			t.Errorf("size %d: got side %d, flux %d, ivar %d", size, c.Side, len(c.Flux), len(c.Ivar))
		}
	}
}

func TestExtract_OutOfBounds(t *testing.T) {
	tl := testTile(t, 32, 32)

	// Window centered near the edge extends beyond the tile
	ra, dec := tl.WCS.PixToSky(1, 16)
	if _, reason := Extract(tl, ra, dec, cleanParams(8)); reason != RejectOutOfBounds {
		t.Errorf("edge window: got %v, want %v", reason, RejectOutOfBounds)
	}

	// Position with no projection at all
	if _, reason := Extract(tl, math.Mod(tl.WCS.CRVal1+180, 360), -tl.WCS.CRVal2, cleanParams(8)); reason != RejectOffTile {
		t.Errorf("antipodal target: got reason != %v", RejectOffTile)
	}
}

func TestExtract_ZeroTolerance(t *testing.T) {
	tl := testTile(t, 32, 32)
	ra, dec := tl.WCS.PixToSky(16, 16)

	// Zero out half the window
	size := 4
	for wy := 0; wy < size; wy++ {
		for wx := 0; wx < size/2; wx++ {
			tl.Flux[(14+wy)*32+(14+wx)] = 0
		}
	}

	p := cleanParams(size)
	p.ZeroTolerance = 0.5
	if _, reason := Extract(tl, ra, dec, p); reason != Accepted {
		t.Errorf("zero fraction at tolerance: got %v, want accepted", reason)
	}

	// Any tolerance below the actual fraction rejects
	p.ZeroTolerance = 0.49
	if _, reason := Extract(tl, ra, dec, p); reason != RejectZero {
		t.Errorf("zero fraction above tolerance: got %v, want %v", reason, RejectZero)
	}

	// Tolerance zero rejects any occurrence
	p.ZeroTolerance = 0
	if _, reason := Extract(tl, ra, dec, p); reason != RejectZero {
		t.Errorf("zero tolerance 0: got %v, want %v", reason, RejectZero)
	}
}

func TestExtract_NaNTolerance(t *testing.T) {
	tl := testTile(t, 32, 32)
	ra, dec := tl.WCS.PixToSky(16, 16)

	tl.Flux[16*32+16] = float32(math.NaN())

	p := cleanParams(4)
	p.NaNTolerance = 0
	if _, reason := Extract(tl, ra, dec, p); reason != RejectNaN {
		t.Errorf("single NaN at tolerance 0: got %v, want %v", reason, RejectNaN)
	}

	// Tolerance 1.0 means no check
	p.NaNTolerance = 1.0
	c, reason := Extract(tl, ra, dec, p)
	if reason != Accepted {
		t.Fatalf("tolerance 1.0: got %v, want accepted", reason)
	}
	// NaN flux propagates to NaN inverse variance
	found := false
	for i := range c.Flux {
		if math.IsNaN(float64(c.Flux[i])) {
			found = true
			if !math.IsNaN(float64(c.Ivar[i])) {
				t.Error("NaN flux did not propagate to NaN ivar")
			}
		}
	}
	if !found {
		t.Error("NaN pixel not present in extracted window")
	}
}

func TestExtract_InverseVariance(t *testing.T) {
	tl := testTile(t, 32, 32)
	ra, dec := tl.WCS.PixToSky(16, 16)

	// Zero-weight pixels yield zero inverse variance, not a division error
	tl.Weight[16*32+16] = 0

	c, reason := Extract(tl, ra, dec, cleanParams(4))
	if reason != Accepted {
		t.Fatalf("rejected: %v", reason)
	}

	sawZero := false
	for i, iv := range c.Ivar {
		v := float64(iv)
		if math.IsInf(v, 0) {
			t.Fatalf("infinite ivar at pixel %d", i)
		}
		if v == 0 {
			sawZero = true
			continue
		}
		if v < 0 {
			t.Fatalf("negative ivar at pixel %d", i)
		}
		// Background-only variance bounds the total from below
		if v > 4.0 {
			t.Errorf("ivar %v exceeds weight-only bound", v)
		}
	}
	if !sawZero {
		t.Error("zero-weight pixel did not yield zero ivar")
	}
}

func TestParams_Validate(t *testing.T) {
	if err := cleanParams(4).Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
	bad := []Params{
		{Size: 0, NaNTolerance: 1, ZeroTolerance: 1, NumExposures: 4},
		{Size: 4, NaNTolerance: -0.1, ZeroTolerance: 1, NumExposures: 4},
		{Size: 4, NaNTolerance: 1, ZeroTolerance: 1.5, NumExposures: 4},
		{Size: 4, NaNTolerance: 1, ZeroTolerance: 1, NumExposures: 0},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: invalid params accepted", i)
		}
	}
}
