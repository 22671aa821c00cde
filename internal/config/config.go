// Package config provides unified configuration for the cutout
// pipeline tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full pipeline configuration.
type Config struct {
	// DataDir is the base directory for pipeline outputs
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Tiles configuration
	Tiles TilesConfig `json:"tiles" yaml:"tiles"`

	// Cutout extraction parameters
	Cutout CutoutConfig `json:"cutout" yaml:"cutout"`

	// Partition configuration
	Partition PartitionConfig `json:"partition" yaml:"partition"`

	// Archive writer configuration
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Random catalog generation
	Randoms RandomsConfig `json:"randoms" yaml:"randoms"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// CatalogConfig names the input catalogs.
type CatalogConfig struct {
	// Path is the source catalog CSV file
	Path string `json:"path" yaml:"path"`

	// MorphologyPath is an optional morphology table merged in by
	// object identifier
	MorphologyPath string `json:"morphology_path" yaml:"morphology_path"`

	// ArtifactColumn names a flag column whose truthy rows are dropped
	ArtifactColumn string `json:"artifact_column" yaml:"artifact_column"`

	// IDColumn, RAColumn and DecColumn override the well-known
	// column names
	IDColumn  string `json:"id_column" yaml:"id_column"`
	RAColumn  string `json:"ra_column" yaml:"ra_column"`
	DecColumn string `json:"dec_column" yaml:"dec_column"`
}

// TilesConfig locates the survey tile images.
type TilesConfig struct {
	// Store is the tile source type: local, s3
	Store string `json:"store" yaml:"store"`

	// Path is the tile directory (for local store)
	Path string `json:"path" yaml:"path"`

	// CacheDir holds downloaded tiles; defaults under DataDir
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// Concurrency is the number of parallel tile downloads
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// S3 configuration (for s3 store)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 tile store settings.
type S3Config struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// CutoutConfig holds extraction parameters.
type CutoutConfig struct {
	// Size is the cutout side length in pixels
	Size int `json:"size" yaml:"size"`

	// NaNTolerance and ZeroTolerance are the rejection thresholds in
	// [0,1]; 1 disables the check
	NaNTolerance  float64 `json:"nan_tolerance" yaml:"nan_tolerance"`
	ZeroTolerance float64 `json:"zero_tolerance" yaml:"zero_tolerance"`

	// DarkCurrent and NumExposures feed the variance model
	DarkCurrent  float64 `json:"dark_current" yaml:"dark_current"`
	NumExposures int     `json:"num_exposures" yaml:"num_exposures"`
}

// PartitionConfig controls the spatial partitioning.
type PartitionConfig struct {
	// NSide is the healpix resolution (power of two)
	NSide int `json:"nside" yaml:"nside"`
}

// ArchiveConfig controls the archive writer.
type ArchiveConfig struct {
	// GalaxyDir and RandomsDir are the two archive roots; both default
	// under DataDir
	GalaxyDir  string `json:"galaxy_dir" yaml:"galaxy_dir"`
	RandomsDir string `json:"randoms_dir" yaml:"randoms_dir"`

	// SchemaPolicy is warn-drop or fail-closed
	SchemaPolicy string `json:"schema_policy" yaml:"schema_policy"`

	// LockTimeout bounds the wait for a partition lock
	LockTimeout time.Duration `json:"lock_timeout" yaml:"lock_timeout"`
}

// RandomsConfig controls random catalog generation.
type RandomsConfig struct {
	// PerTile fixes the number of random points drawn per tile. Zero
	// sizes each tile's randoms to its matched galaxy count; a negative
	// value disables random generation.
	PerTile int `json:"per_tile" yaml:"per_tile"`

	// Seed makes random generation reproducible
	Seed int64 `json:"seed" yaml:"seed"`

	// MaxRetries bounds masked-region resampling per point
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the defaults for a local run.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/starcut",
		Tiles: TilesConfig{
			Store:       "local",
			Concurrency: 5,
		},
		Cutout: CutoutConfig{
			Size:          100,
			NaNTolerance:  1.0,
			ZeroTolerance: 1.0,
			DarkCurrent:   0.0168,
			NumExposures:  4,
		},
		Partition: PartitionConfig{
			NSide: 16,
		},
		Archive: ArchiveConfig{
			SchemaPolicy: "warn-drop",
			LockTimeout:  30 * time.Second,
		},
		Randoms: RandomsConfig{
			Seed:       1,
			MaxRetries: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve fills in paths derived from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/starcut"
	}
	if c.Tiles.CacheDir == "" {
		c.Tiles.CacheDir = filepath.Join(c.DataDir, "tiles")
	}
	if c.Archive.GalaxyDir == "" {
		c.Archive.GalaxyDir = filepath.Join(c.DataDir, "galaxy_cutouts")
	}
	if c.Archive.RandomsDir == "" {
		c.Archive.RandomsDir = filepath.Join(c.DataDir, "random_cutouts")
	}
}

// ManifestPath returns the path of the append journal database.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.DataDir, "manifest.db")
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	switch c.Tiles.Store {
	case "local":
		if c.Tiles.Path == "" {
			return fmt.Errorf("tiles.path is required for the local store")
		}
	case "s3":
		if c.Tiles.S3.Bucket == "" {
			return fmt.Errorf("tiles.s3.bucket is required for the s3 store")
		}
	default:
		return fmt.Errorf("invalid tiles.store: %s (must be local or s3)", c.Tiles.Store)
	}

	if c.Cutout.Size <= 0 {
		return fmt.Errorf("cutout.size must be positive, got %d", c.Cutout.Size)
	}
	if c.Cutout.NaNTolerance < 0 || c.Cutout.NaNTolerance > 1 {
		return fmt.Errorf("cutout.nan_tolerance must be in [0,1], got %g", c.Cutout.NaNTolerance)
	}
	if c.Cutout.ZeroTolerance < 0 || c.Cutout.ZeroTolerance > 1 {
		return fmt.Errorf("cutout.zero_tolerance must be in [0,1], got %g", c.Cutout.ZeroTolerance)
	}
	if c.Cutout.NumExposures <= 0 {
		return fmt.Errorf("cutout.num_exposures must be positive, got %d", c.Cutout.NumExposures)
	}

	if n := c.Partition.NSide; n <= 0 || n&(n-1) != 0 {
		return fmt.Errorf("partition.nside must be a power of two, got %d", n)
	}

	switch c.Archive.SchemaPolicy {
	case "", "warn-drop", "fail-closed":
	default:
		return fmt.Errorf("invalid archive.schema_policy: %s", c.Archive.SchemaPolicy)
	}
	if c.Archive.LockTimeout <= 0 {
		return fmt.Errorf("archive.lock_timeout must be positive")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, layered
// over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}
	return cfg, nil
}

// LoadFromEnv overrides configuration from STARCUT_ environment
// variables. A .env file in the working directory is read first when
// present.
func LoadFromEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("STARCUT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STARCUT_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("STARCUT_MORPHOLOGY_PATH"); v != "" {
		cfg.Catalog.MorphologyPath = v
	}
	if v := os.Getenv("STARCUT_TILES_STORE"); v != "" {
		cfg.Tiles.Store = v
	}
	if v := os.Getenv("STARCUT_TILES_PATH"); v != "" {
		cfg.Tiles.Path = v
	}
	if v := os.Getenv("STARCUT_TILES_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Tiles.Concurrency)
	}
	if v := os.Getenv("STARCUT_S3_BUCKET"); v != "" {
		cfg.Tiles.S3.Bucket = v
	}
	if v := os.Getenv("STARCUT_S3_REGION"); v != "" {
		cfg.Tiles.S3.Region = v
	}
	if v := os.Getenv("STARCUT_S3_ENDPOINT"); v != "" {
		cfg.Tiles.S3.Endpoint = v
	}
	if v := os.Getenv("STARCUT_CUTOUT_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Cutout.Size)
	}
	if v := os.Getenv("STARCUT_NSIDE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Partition.NSide)
	}
	if v := os.Getenv("STARCUT_SCHEMA_POLICY"); v != "" {
		cfg.Archive.SchemaPolicy = v
	}
	if v := os.Getenv("STARCUT_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Archive.LockTimeout = d
		}
	}
	if v := os.Getenv("STARCUT_RANDOMS_SEED"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Randoms.Seed)
	}
	if v := os.Getenv("STARCUT_RANDOMS_PER_TILE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Randoms.PerTile)
	}
	if v := os.Getenv("STARCUT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STARCUT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// EnsureDirectories creates the output directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Tiles.CacheDir,
		c.Archive.GalaxyDir,
		c.Archive.RandomsDir,
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
