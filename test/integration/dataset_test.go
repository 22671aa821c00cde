// Package integration provides end-to-end tests for the cutout dataset
// flow: catalog → assignment → extraction → partitioned archive.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/starcut/starcut/internal/archive"
	"github.com/starcut/starcut/internal/assign"
	"github.com/starcut/starcut/internal/catalog"
	"github.com/starcut/starcut/internal/cutout"
	"github.com/starcut/starcut/internal/healpix"
	"github.com/starcut/starcut/internal/manifest"
	"github.com/starcut/starcut/internal/tile"
	"github.com/starcut/starcut/pkg/types"
)

const pixScale = 0.05 / 3600 // degrees per pixel

func testTile(t *testing.T, name string, side int, ra0, dec0 float64) *tile.Tile {
	t.Helper()
	wcs := &tile.WCS{
		CRVal1: ra0, CRVal2: dec0,
		CRPix1: float64(side) / 2, CRPix2: float64(side) / 2,
		CD11: -pixScale, CD12: 0, CD21: 0, CD22: pixScale,
	}
	flux := make([]float32, side*side)
	weight := make([]float32, side*side)
	for i := range flux {
		flux[i] = 2.0
		weight[i] = 1.0
	}
	tl, err := tile.New(name, side, side, flux, weight, wcs)
	if err != nil {
		t.Fatalf("tile.New: %v", err)
	}
	return tl
}

// buildBatch runs assignment and extraction for a catalog against one
// tile and assembles the archive batch.
func buildBatch(t *testing.T, cat *catalog.Catalog, tl *tile.Tile, params cutout.Params, part *healpix.Partitioner) *types.Batch {
	t.Helper()

	assignment := assign.Assign(cat.Records, []tile.Footprint{tl.Footprint()})
	sub := cat.Select(assignment.ObjectsForTile(tl.Name))

	batch := &types.Batch{Side: params.Size}
	var accepted []int
	for i, rec := range sub.Records {
		c, reason := cutout.Extract(tl, rec.RA, rec.Dec, params)
		if reason != cutout.Accepted {
			continue
		}
		accepted = append(accepted, i)
		batch.Flux = append(batch.Flux, c.Flux)
		batch.Ivar = append(batch.Ivar, c.Ivar)
		batch.ObjectID = append(batch.ObjectID, rec.ObjectID)
		batch.RA = append(batch.RA, rec.RA)
		batch.Dec = append(batch.Dec, rec.Dec)
		batch.Healpix = append(batch.Healpix, part.PixelOf(rec.RA, rec.Dec))
	}
	for _, col := range sub.Scalars {
		batch.Scalars = append(batch.Scalars, col.Take(accepted))
	}
	return batch
}

// TestDatasetFlow builds a three-object dataset, verifies the stored
// rows and schema, and checks that a re-run appends rather than
// replaces.
func TestDatasetFlow(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()

	catalogPath := filepath.Join(tempDir, "catalog.csv")
	csv := "object_id,RA,DEC,mag\n" +
		"11,150.0,2.0,22.5\n" +
		"12,150.0004,2.0002,21.0\n" +
		"13,149.9996,1.9998,20.0\n"
	if err := os.WriteFile(catalogPath, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := catalog.Load(catalogPath, catalog.DefaultOptions())
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}

	tl := testTile(t, "cosmos-0", 128, 150.0, 2.0)
	part, err := healpix.New(16)
	if err != nil {
		t.Fatalf("healpix.New: %v", err)
	}
	params := cutout.Params{
		Size: 4, NaNTolerance: 1.0, ZeroTolerance: 1.0,
		DarkCurrent: 0.0168, NumExposures: 4,
	}

	batch := buildBatch(t, cat, tl, params, part)
	if batch.Len() != 3 {
		t.Fatalf("expected 3 extracted cutouts, got %d", batch.Len())
	}

	archiveRoot := filepath.Join(tempDir, "galaxy_cutouts")
	journal, err := manifest.Open(filepath.Join(tempDir, "manifest.db"))
	if err != nil {
		t.Fatalf("manifest.Open: %v", err)
	}
	defer journal.Close()

	w := archive.NewWriter(archiveRoot, archive.WithJournal(journal))
	if _, err := w.Append(ctx, batch); err != nil {
		t.Fatalf("Append: %v", err)
	}

	r := archive.NewReader(archiveRoot)
	total, err := r.TotalRows(ctx)
	if err != nil {
		t.Fatalf("TotalRows: %v", err)
	}
	if total != 3 {
		t.Fatalf("archive holds %d rows, want 3", total)
	}

	// Every stored row carries the full column set.
	keys, err := r.Partitions()
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	for _, key := range keys {
		rows, err := r.ReadPartition(ctx, key)
		if err != nil {
			t.Fatalf("ReadPartition(%d): %v", key, err)
		}
		for _, ex := range rows {
			if len(ex.Flux) != 16 || len(ex.Ivar) != 16 {
				t.Errorf("object %d images truncated: %d/%d px", ex.ObjectID, len(ex.Flux), len(ex.Ivar))
			}
			if ex.Healpix != key {
				t.Errorf("object %d stored under key %d but carries %d", ex.ObjectID, key, ex.Healpix)
			}
			if _, ok := ex.Scalars["mag"]; !ok {
				t.Errorf("object %d lost its mag column", ex.ObjectID)
			}
		}
	}

	// Re-running the same batch doubles the dataset.
	if _, err := w.Append(ctx, batch); err != nil {
		t.Fatalf("second Append: %v", err)
	}
	total, err = r.TotalRows(ctx)
	if err != nil {
		t.Fatalf("TotalRows: %v", err)
	}
	if total != 6 {
		t.Fatalf("re-run should append: %d rows, want 6", total)
	}

	// The journal agrees the archive is clean.
	report, err := archive.Verify(ctx, archiveRoot, journal)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.Clean() || len(report.Suspects) != 0 {
		t.Errorf("archive should be clean: %+v", report)
	}
	if report.Rows != 6 {
		t.Errorf("verify counted %d rows, want 6", report.Rows)
	}
}
