package randoms

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
		flux[i] = 1.0
		weight[i] = 2.0
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
	tl, err := tile.New("rand-test", width, height, flux, weight, wcs)
	if err != nil {
		t.Fatal(err)
	}
	return tl
}

func TestSample_CountAndFootprint(t *testing.T) {
	tl := testTile(t, 128, 128)
	fp := tl.Footprint()

	s := NewSampler(42)
	records := s.Sample(tl, 50)

	if len(records) != 50 {
		t.Fatalf("got %d records, want 50", len(records))
	}
	for _, rec := range records {
		if !fp.Contains(rec.RA, rec.Dec) {
			t.Errorf("random position (%v, %v) outside footprint", rec.RA, rec.Dec)
		}
		if err := rec.Validate(); err != nil {
			t.Errorf("invalid random record: %v", err)
		}
	}
}

func TestSample_IDsDisjointAndUnique(t *testing.T) {
	tl := testTile(t, 64, 64)
	s := NewSampler(7)

	seen := make(map[int64]bool)
	for batch := 0; batch < 3; batch++ {
		for _, rec := range s.Sample(tl, 20) {
			if rec.ObjectID < IDNamespace {
				t.Errorf("identifier %d below reserved namespace", rec.ObjectID)
			}
			if seen[rec.ObjectID] {
				t.Errorf("duplicate identifier %d", rec.ObjectID)
			}
			seen[rec.ObjectID] = true
		}
	}
	if len(seen) != 60 {
		t.Errorf("expected 60 unique identifiers, got %d", len(seen))
	}
}

func TestSample_AvoidsMaskedRegions(t *testing.T) {
	tl := testTile(t, 64, 64)
	// Mask the left half of the tile
	for y := 0; y < 64; y++ {
		for x := 0; x < 32; x++ {
			tl.Weight[y*64+x] = 0
		}
	}

	s := NewSampler(3)
	records := s.Sample(tl, 100)

	for _, rec := range records {
		x, y, ok := tl.WCS.SkyToPix(rec.RA, rec.Dec)
		if !ok {
			t.Fatal("sample not projectable back onto tile")
		}
		if tl.Masked(int(x), int(y)) {
			t.Errorf("sample at pixel (%v, %v) is in a masked region", x, y)
		}
	}
}

func TestSample_Reproducible(t *testing.T) {
	tl := testTile(t, 64, 64)

	a := NewSampler(99).Sample(tl, 10)
	b := NewSampler(99).Sample(tl, 10)

	for i := range a {
		if math.Abs(a[i].RA-b[i].RA) > 0 || math.Abs(a[i].Dec-b[i].Dec) > 0 {
			t.Fatalf("sample %d differs across identically seeded samplers", i)
		}
	}
}
