package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/starcut/starcut/internal/archive"
	"github.com/starcut/starcut/internal/config"
	"github.com/starcut/starcut/internal/storage"
	"github.com/starcut/starcut/internal/tile"
)

const pixScale = 0.05 / 3600 // degrees per pixel

// syntheticTile builds an in-memory tile centered on (ra0, dec0).
func syntheticTile(name string, side int, ra0, dec0 float64) *tile.Tile {
	wcs := &tile.WCS{
		CRVal1: ra0, CRVal2: dec0,
		CRPix1: float64(side) / 2, CRPix2: float64(side) / 2,
		CD11: -pixScale, CD12: 0, CD21: 0, CD22: pixScale,
	}
	flux := make([]float32, side*side)
	weight := make([]float32, side*side)
	for i := range flux {
		flux[i] = 1.5
		weight[i] = 4.0
	}
	t, err := tile.New(name, side, side, flux, weight, wcs)
	if err != nil {
		panic(err)
	}
	return t
}

// testEnv wires a pipeline against synthetic tiles and a scratch
// archive.
func testEnv(t *testing.T, catalogCSV string, tiles map[string]*tile.Tile, mutate func(*config.Config)) (*Pipeline, *config.Config) {
	t.Helper()
	dataDir := t.TempDir()

	tileDir := filepath.Join(dataDir, "store")
	if err := os.MkdirAll(tileDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name := range tiles {
		// Content is irrelevant; the opener seam returns the synthetic
		// tile for the matching name.
		if err := os.WriteFile(filepath.Join(tileDir, name+".fits"), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	catalogPath := filepath.Join(dataDir, "catalog.csv")
	if err := os.WriteFile(catalogPath, []byte(catalogCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Catalog.Path = catalogPath
	cfg.Tiles.Path = tileDir
	cfg.Cutout.Size = 4
	cfg.Randoms.PerTile = -1
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Resolve()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	store, err := storage.NewLocalStore(tileDir)
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(cfg, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	p.openTile = func(name, path string) (*tile.Tile, error) {
		tl, ok := tiles[name]
		if !ok {
			return nil, fmt.Errorf("no synthetic tile %q", name)
		}
		return tl, nil
	}
	p.openFootprint = func(name, path string) (tile.Footprint, error) {
		tl, ok := tiles[name]
		if !ok {
			return tile.Footprint{}, fmt.Errorf("no synthetic tile %q", name)
		}
		return tl.Footprint(), nil
	}
	return p, cfg
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	tiles := map[string]*tile.Tile{
		"t1": syntheticTile("t1", 64, 150.0, 2.0),
		"t2": syntheticTile("t2", 64, 180.0, -30.0),
	}
	// Two objects on t1, one on t2, one matching nothing.
	csv := "object_id,RA,DEC,mag\n" +
		"1,150.0,2.0,22.0\n" +
		fmt.Sprintf("2,%v,2.0,21.0\n", 150.0+3*pixScale) +
		"3,180.0,-30.0,20.0\n" +
		"4,10.0,10.0,19.0\n"

	p, cfg := testEnv(t, csv, tiles, nil)
	report, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.CatalogSize != 4 || report.Matched != 3 {
		t.Errorf("report = %+v, want 4 records / 3 matched", report)
	}
	if report.HitRate != 0.75 {
		t.Errorf("hit rate = %v, want 0.75", report.HitRate)
	}
	if report.GalaxyRows != 3 || report.FailedTiles() != 0 {
		t.Errorf("report = %+v, want 3 galaxy rows and no failures", report)
	}

	total, err := archive.NewReader(cfg.Archive.GalaxyDir).TotalRows(ctx)
	if err != nil {
		t.Fatalf("TotalRows: %v", err)
	}
	if total != 3 {
		t.Errorf("archive holds %d rows, want 3", total)
	}

	// Scalars survive into the archive rows.
	rows, err := archive.NewReader(cfg.Archive.GalaxyDir).Find(ctx, 3)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if v, ok := rows[0].Scalars["mag"].(float64); !ok || v != 20.0 {
		t.Errorf("mag = %v, want 20.0", rows[0].Scalars["mag"])
	}
}

func TestRunSecondPassAppends(t *testing.T) {
	ctx := context.Background()
	tiles := map[string]*tile.Tile{"t1": syntheticTile("t1", 64, 150.0, 2.0)}
	csv := "object_id,RA,DEC\n1,150.0,2.0\n"

	p, cfg := testEnv(t, csv, tiles, nil)
	if _, err := p.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := p.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	total, err := archive.NewReader(cfg.Archive.GalaxyDir).TotalRows(ctx)
	if err != nil {
		t.Fatalf("TotalRows: %v", err)
	}
	if total != 2 {
		t.Errorf("re-run should append, not replace: %d rows", total)
	}
}

func TestRunGeneratesRandoms(t *testing.T) {
	ctx := context.Background()
	tiles := map[string]*tile.Tile{"t1": syntheticTile("t1", 64, 150.0, 2.0)}
	csv := "object_id,RA,DEC\n1,150.0,2.0\n"

	p, cfg := testEnv(t, csv, tiles, func(c *config.Config) {
		c.Randoms.PerTile = 25
	})
	report, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.RandomRows == 0 {
		t.Fatal("no random rows produced")
	}

	total, err := archive.NewReader(cfg.Archive.RandomsDir).TotalRows(ctx)
	if err != nil {
		t.Fatalf("TotalRows: %v", err)
	}
	if total != int64(report.RandomRows) {
		t.Errorf("randoms archive holds %d rows, report says %d", total, report.RandomRows)
	}

	galaxies, err := archive.NewReader(cfg.Archive.GalaxyDir).TotalRows(ctx)
	if err != nil {
		t.Fatalf("TotalRows: %v", err)
	}
	if galaxies != 1 {
		t.Errorf("galaxy archive holds %d rows, want 1", galaxies)
	}
}

func TestRandomCountFollowsMatchedGalaxies(t *testing.T) {
	ctx := context.Background()
	tiles := map[string]*tile.Tile{
		"t1": syntheticTile("t1", 64, 150.0, 2.0),
		"t2": syntheticTile("t2", 64, 180.0, -30.0),
	}
	// Eight objects on t1, one on t2: the control catalogs should be
	// sized per tile, not drawn from a fixed quota.
	csv := "object_id,RA,DEC\n"
	for i := 0; i < 8; i++ {
		csv += fmt.Sprintf("%d,%v,2.0\n", i+1, 150.0+float64(i)*pixScale)
	}
	csv += "9,180.0,-30.0\n"

	p, cfg := testEnv(t, csv, tiles, func(c *config.Config) {
		c.Randoms.PerTile = 0
	})
	report, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.RandomRows == 0 {
		t.Fatal("no random rows produced")
	}
	if report.RandomRows > report.Matched {
		t.Errorf("randoms = %d exceed matched galaxies = %d", report.RandomRows, report.Matched)
	}
	for _, tr := range report.Tiles {
		if tr.RandomsAccepted > tr.Objects {
			t.Errorf("tile %s: %d randoms for %d galaxies", tr.Tile, tr.RandomsAccepted, tr.Objects)
		}
	}

	total, err := archive.NewReader(cfg.Archive.RandomsDir).TotalRows(ctx)
	if err != nil {
		t.Fatalf("TotalRows: %v", err)
	}
	if total != int64(report.RandomRows) {
		t.Errorf("randoms archive holds %d rows, report says %d", total, report.RandomRows)
	}
}

func TestRandomCountSettings(t *testing.T) {
	tiles := map[string]*tile.Tile{"t1": syntheticTile("t1", 64, 150.0, 2.0)}
	csv := "object_id,RA,DEC\n1,150.0,2.0\n"

	cases := []struct {
		perTile int
		matched int
		want    int
	}{
		{0, 7, 7},
		{0, 0, 0},
		{25, 7, 25},
		{-1, 7, 0},
	}
	for _, tc := range cases {
		p, _ := testEnv(t, csv, tiles, func(c *config.Config) {
			c.Randoms.PerTile = tc.perTile
		})
		if got := p.randomCount(tc.matched); got != tc.want {
			t.Errorf("randomCount(%d) with per_tile=%d = %d, want %d",
				tc.matched, tc.perTile, got, tc.want)
		}
	}
}

func TestRunIsolatesTileFailures(t *testing.T) {
	ctx := context.Background()
	tiles := map[string]*tile.Tile{
		"t1": syntheticTile("t1", 64, 150.0, 2.0),
		"t2": syntheticTile("t2", 64, 180.0, -30.0),
	}
	csv := "object_id,RA,DEC\n1,150.0,2.0\n2,180.0,-30.0\n"

	p, cfg := testEnv(t, csv, tiles, nil)
	healthyOpen := p.openTile
	p.openTile = func(name, path string) (*tile.Tile, error) {
		if name == "t1" {
			return nil, fmt.Errorf("simulated read failure")
		}
		return healthyOpen(name, path)
	}

	report, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.FailedTiles() != 1 {
		t.Fatalf("expected one failed tile, got %d", report.FailedTiles())
	}
	if report.GalaxyRows != 1 {
		t.Errorf("healthy tile should still produce rows: %+v", report)
	}

	total, err := archive.NewReader(cfg.Archive.GalaxyDir).TotalRows(ctx)
	if err != nil {
		t.Fatalf("TotalRows: %v", err)
	}
	if total != 1 {
		t.Errorf("archive holds %d rows, want 1", total)
	}
}
