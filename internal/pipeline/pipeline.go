// Package pipeline orchestrates a dataset build: load the catalog,
// fetch survey tiles, assign objects to tiles, extract cutouts, and
// append the results to the partitioned archives.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/starcut/starcut/internal/archive"
	"github.com/starcut/starcut/internal/assign"
	"github.com/starcut/starcut/internal/catalog"
	"github.com/starcut/starcut/internal/config"
	"github.com/starcut/starcut/internal/cutout"
	"github.com/starcut/starcut/internal/healpix"
	"github.com/starcut/starcut/internal/manifest"
	"github.com/starcut/starcut/internal/randoms"
	"github.com/starcut/starcut/internal/storage"
	"github.com/starcut/starcut/internal/tile"
	"github.com/starcut/starcut/pkg/types"
)

// TileReport summarizes one tile's processing.
type TileReport struct {
	Tile     string
	Objects  int
	Accepted int

	// Rejected counts objects per rejection reason
	Rejected map[string]int

	RandomsAccepted int

	// Err is set when the tile failed wholesale; other tiles still run
	Err error
}

// RunReport summarizes a full pipeline run.
type RunReport struct {
	CatalogSize int
	Matched     int
	HitRate     float64
	GalaxyRows  int
	RandomRows  int
	Tiles       []TileReport
}

// FailedTiles counts tiles that failed wholesale.
func (r *RunReport) FailedTiles() int {
	n := 0
	for _, t := range r.Tiles {
		if t.Err != nil {
			n++
		}
	}
	return n
}

// Pipeline is a configured dataset build.
type Pipeline struct {
	cfg     *config.Config
	store   storage.TileStore
	journal *manifest.Journal

	part   *healpix.Partitioner
	params cutout.Params

	// tile loading indirection, replaced in tests with synthetic tiles
	openTile      func(name, path string) (*tile.Tile, error)
	openFootprint func(name, path string) (tile.Footprint, error)
}

// New assembles a pipeline from configuration. The tile store is
// injected so tests can run against a local directory. journal may be
// nil to skip append journaling.
func New(cfg *config.Config, store storage.TileStore, journal *manifest.Journal) (*Pipeline, error) {
	part, err := healpix.New(cfg.Partition.NSide)
	if err != nil {
		return nil, err
	}
	params := cutout.Params{
		Size:          cfg.Cutout.Size,
		NaNTolerance:  cfg.Cutout.NaNTolerance,
		ZeroTolerance: cfg.Cutout.ZeroTolerance,
		DarkCurrent:   cfg.Cutout.DarkCurrent,
		NumExposures:  cfg.Cutout.NumExposures,
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:           cfg,
		store:         store,
		journal:       journal,
		part:          part,
		params:        params,
		openTile:      tile.Open,
		openFootprint: tile.OpenFootprint,
	}, nil
}

// Run executes the build end to end.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	cat, err := p.loadCatalog()
	if err != nil {
		return nil, err
	}
	slog.Info("catalog loaded", "records", cat.Len(), "scalar_columns", len(cat.Scalars))

	tiles, err := p.fetchTiles(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("tiles ready", "count", len(tiles))

	footprints := make([]tile.Footprint, 0, len(tiles))
	for _, t := range tiles {
		fp, err := p.openFootprint(t.name, t.localPath)
		if err != nil {
			slog.Error("tile footprint unreadable, skipping", "tile", t.name, "error", err)
			continue
		}
		footprints = append(footprints, fp)
	}

	assignment := assign.Assign(cat.Records, footprints)
	report := &RunReport{
		CatalogSize: cat.Len(),
		Matched:     assignment.Matched(),
		HitRate:     assignment.HitRate(),
	}
	slog.Info("objects assigned",
		"matched", assignment.Matched(), "hit_rate", fmt.Sprintf("%.3f", assignment.HitRate()))

	policy, err := archive.ParseSchemaPolicy(p.cfg.Archive.SchemaPolicy)
	if err != nil {
		return nil, err
	}
	writerOpts := []archive.WriterOption{
		archive.WithSchemaPolicy(policy),
		archive.WithLockTimeout(p.cfg.Archive.LockTimeout),
	}
	if p.journal != nil {
		writerOpts = append(writerOpts, archive.WithJournal(p.journal))
	}
	galaxyWriter := archive.NewWriter(p.cfg.Archive.GalaxyDir, writerOpts...)
	randomWriter := archive.NewWriter(p.cfg.Archive.RandomsDir, writerOpts...)
	sampler := randoms.NewSampler(p.cfg.Randoms.Seed)
	if p.cfg.Randoms.MaxRetries > 0 {
		sampler.SetMaxRetries(p.cfg.Randoms.MaxRetries)
	}

	for _, t := range tiles {
		tr := p.processTile(ctx, t, cat, assignment, galaxyWriter, randomWriter, sampler)
		if tr.Err != nil {
			slog.Error("tile failed", "tile", t.name, "error", tr.Err)
		}
		report.GalaxyRows += tr.Accepted
		report.RandomRows += tr.RandomsAccepted
		report.Tiles = append(report.Tiles, tr)
	}

	slog.Info("run complete",
		"galaxy_rows", report.GalaxyRows,
		"random_rows", report.RandomRows,
		"failed_tiles", report.FailedTiles())
	return report, nil
}

// loadCatalog reads the source catalog and applies the optional
// morphology merge and artifact filter.
func (p *Pipeline) loadCatalog() (*catalog.Catalog, error) {
	opts := catalog.DefaultOptions()
	if p.cfg.Catalog.IDColumn != "" {
		opts.IDColumn = p.cfg.Catalog.IDColumn
	}
	if p.cfg.Catalog.RAColumn != "" {
		opts.RAColumn = p.cfg.Catalog.RAColumn
	}
	if p.cfg.Catalog.DecColumn != "" {
		opts.DecColumn = p.cfg.Catalog.DecColumn
	}

	cat, err := catalog.Load(p.cfg.Catalog.Path, opts)
	if err != nil {
		return nil, err
	}
	if p.cfg.Catalog.MorphologyPath != "" {
		morph, err := catalog.Load(p.cfg.Catalog.MorphologyPath, opts)
		if err != nil {
			return nil, err
		}
		cat.MergeScalars(morph)
	}
	if p.cfg.Catalog.ArtifactColumn != "" {
		before := cat.Len()
		cat = cat.FilterFlagged(p.cfg.Catalog.ArtifactColumn)
		slog.Info("artifact filter applied",
			"column", p.cfg.Catalog.ArtifactColumn, "dropped", before-cat.Len())
	}
	return cat, nil
}

// localTile pairs a tile name with its fetched file.
type localTile struct {
	name      string
	localPath string
}

// fetchTiles lists the store's FITS tiles and downloads them through
// the cache.
func (p *Pipeline) fetchTiles(ctx context.Context) ([]localTile, error) {
	names, err := p.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var fitsNames []string
	for _, n := range names {
		if strings.HasSuffix(n, ".fits") || strings.HasSuffix(n, ".fits.gz") {
			fitsNames = append(fitsNames, n)
		}
	}
	sort.Strings(fitsNames)

	fetcher, err := storage.NewFetcher(p.store, p.cfg.Tiles.Concurrency, p.cfg.Tiles.CacheDir)
	if err != nil {
		return nil, err
	}
	res, err := fetcher.FetchAll(ctx, fitsNames)
	if err != nil {
		return nil, err
	}
	for name, ferr := range res.Errors {
		slog.Error("tile fetch failed, skipping", "tile", name, "error", ferr)
	}
	slog.Info("tile fetch finished",
		"downloads", res.Downloads, "cache_hits", res.CacheHits, "failures", len(res.Errors))

	tiles := make([]localTile, 0, len(res.LocalPaths))
	for _, name := range fitsNames {
		if local, ok := res.LocalPaths[name]; ok {
			tiles = append(tiles, localTile{name: tileName(name), localPath: local})
		}
	}
	return tiles, nil
}

// tileName strips directory and extension from an object path.
func tileName(objectPath string) string {
	base := objectPath
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".fits")
	return base
}

// processTile loads one tile's pixels, extracts galaxy and random
// cutouts, and appends both batches. Failures are contained to the
// tile.
func (p *Pipeline) processTile(ctx context.Context, lt localTile, cat *catalog.Catalog,
	assignment *assign.Assignment, galaxyWriter, randomWriter *archive.Writer,
	sampler *randoms.Sampler) TileReport {

	tr := TileReport{Tile: lt.name, Rejected: make(map[string]int)}

	objects := assignment.ObjectsForTile(lt.name)
	tr.Objects = len(objects)
	randomCount := p.randomCount(len(objects))
	if len(objects) == 0 && randomCount == 0 {
		return tr
	}

	t, err := p.openTile(lt.name, lt.localPath)
	if err != nil {
		tr.Err = err
		return tr
	}

	if len(objects) > 0 {
		sub := cat.Select(objects)
		batch, rejected := p.extractBatch(t, sub.Records, sub.Scalars)
		for reason, n := range rejected {
			tr.Rejected[reason] += n
		}
		tr.Accepted = batch.Len()
		if batch.Len() > 0 {
			if _, err := galaxyWriter.Append(ctx, batch); err != nil {
				tr.Err = err
				return tr
			}
		}
	}

	if randomCount > 0 {
		points := sampler.Sample(t, randomCount)
		batch, _ := p.extractBatch(t, points, nil)
		tr.RandomsAccepted = batch.Len()
		if batch.Len() > 0 {
			if _, err := randomWriter.Append(ctx, batch); err != nil {
				tr.Err = err
				return tr
			}
		}
	}

	slog.Info("tile processed", "tile", lt.name,
		"objects", tr.Objects, "accepted", tr.Accepted, "randoms", tr.RandomsAccepted)
	return tr
}

// randomCount sizes a tile's random sample. By default the control
// catalog matches the tile's galaxy count; a positive per_tile setting
// fixes the count, a negative one disables randoms.
func (p *Pipeline) randomCount(matched int) int {
	switch {
	case p.cfg.Randoms.PerTile > 0:
		return p.cfg.Randoms.PerTile
	case p.cfg.Randoms.PerTile < 0:
		return 0
	default:
		return matched
	}
}

// extractBatch extracts cutouts for a set of records on one tile and
// assembles the accepted ones into an archive batch. Scalar columns,
// when given, are subset to the accepted rows.
func (p *Pipeline) extractBatch(t *tile.Tile, records []types.Record, scalars []types.Column) (*types.Batch, map[string]int) {
	rejected := make(map[string]int)
	batch := &types.Batch{Side: p.params.Size}
	var accepted []int

	for i, rec := range records {
		c, reason := cutout.Extract(t, rec.RA, rec.Dec, p.params)
		if reason != cutout.Accepted {
			rejected[reason.String()]++
			continue
		}
		accepted = append(accepted, i)
		batch.Flux = append(batch.Flux, c.Flux)
		batch.Ivar = append(batch.Ivar, c.Ivar)
		batch.ObjectID = append(batch.ObjectID, rec.ObjectID)
		batch.RA = append(batch.RA, rec.RA)
		batch.Dec = append(batch.Dec, rec.Dec)
		batch.Healpix = append(batch.Healpix, p.part.PixelOf(rec.RA, rec.Dec))
	}
	for _, col := range scalars {
		batch.Scalars = append(batch.Scalars, col.Take(accepted))
	}
	return batch, rejected
}
