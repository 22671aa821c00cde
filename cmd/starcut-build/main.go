// Command starcut-build runs the full dataset construction pipeline:
// catalog loading, tile fetching, cutout extraction and archive writes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/starcut/starcut/internal/config"
	"github.com/starcut/starcut/internal/logging"
	"github.com/starcut/starcut/internal/manifest"
	"github.com/starcut/starcut/internal/pipeline"
	"github.com/starcut/starcut/internal/storage"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML or JSON config file")
		catalog    = flag.String("catalog", "", "source catalog CSV (overrides config)")
		tiles      = flag.String("tiles", "", "tile directory for the local store (overrides config)")
		dataDir    = flag.String("data-dir", "", "output directory (overrides config)")
		size       = flag.Int("size", 0, "cutout side length in pixels (overrides config)")
		randomsPer = flag.Int("randoms", 0, "random points per tile: 0 matches each tile's galaxy count, negative disables (overrides config)")
		noJournal  = flag.Bool("no-journal", false, "skip the append journal")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *catalog != "" {
		cfg.Catalog.Path = *catalog
	}
	if *tiles != "" {
		cfg.Tiles.Store = "local"
		cfg.Tiles.Path = *tiles
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *size > 0 {
		cfg.Cutout.Size = *size
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "randoms" {
			cfg.Randoms.PerTile = *randomsPer
		}
	})

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logging.Init(cfg.DataDir, logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		log.Fatalf("logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var journal *manifest.Journal
	if !*noJournal {
		if journal, err = manifest.Open(cfg.ManifestPath()); err != nil {
			log.Fatalf("manifest: %v", err)
		}
		defer journal.Close()
	}

	p, err := pipeline.New(cfg, store, journal)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	report, err := p.Run(ctx)
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}

	fmt.Printf("catalog records: %d\n", report.CatalogSize)
	fmt.Printf("matched to tiles: %d (%.1f%%)\n", report.Matched, 100*report.HitRate)
	fmt.Printf("galaxy rows written: %d\n", report.GalaxyRows)
	fmt.Printf("random rows written: %d\n", report.RandomRows)
	for _, tr := range report.Tiles {
		if tr.Err != nil {
			fmt.Printf("tile %s FAILED: %v\n", tr.Tile, tr.Err)
		}
	}
	if report.FailedTiles() > 0 {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func newStore(ctx context.Context, cfg *config.Config) (storage.TileStore, error) {
	switch cfg.Tiles.Store {
	case "s3":
		return storage.NewS3Store(ctx, cfg.Tiles.S3.Bucket, storage.S3Config{
			Region:   cfg.Tiles.S3.Region,
			Endpoint: cfg.Tiles.S3.Endpoint,
		})
	default:
		return storage.NewLocalStore(cfg.Tiles.Path)
	}
}
