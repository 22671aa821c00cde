package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Catalog.Path = "catalog.csv"
	cfg.Tiles.Path = "/tiles"
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Cutout.Size != 100 || cfg.Partition.NSide != 16 {
		t.Errorf("unexpected defaults: size=%d nside=%d", cfg.Cutout.Size, cfg.Partition.NSide)
	}
	if cfg.Cutout.NaNTolerance != 1.0 || cfg.Cutout.ZeroTolerance != 1.0 {
		t.Errorf("tolerances should default to disabled: %+v", cfg.Cutout)
	}
}

func TestResolveDerivesPaths(t *testing.T) {
	cfg := validConfig()
	cfg.DataDir = "/data/run1"
	cfg.Resolve()

	if cfg.Archive.GalaxyDir != filepath.Join("/data/run1", "galaxy_cutouts") {
		t.Errorf("GalaxyDir = %s", cfg.Archive.GalaxyDir)
	}
	if cfg.Archive.RandomsDir != filepath.Join("/data/run1", "random_cutouts") {
		t.Errorf("RandomsDir = %s", cfg.Archive.RandomsDir)
	}
	if cfg.Tiles.CacheDir != filepath.Join("/data/run1", "tiles") {
		t.Errorf("CacheDir = %s", cfg.Tiles.CacheDir)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing catalog", func(c *Config) { c.Catalog.Path = "" }},
		{"bad store", func(c *Config) { c.Tiles.Store = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Tiles.Store = "s3"; c.Tiles.S3.Bucket = "" }},
		{"zero cutout size", func(c *Config) { c.Cutout.Size = 0 }},
		{"tolerance above one", func(c *Config) { c.Cutout.NaNTolerance = 1.5 }},
		{"negative tolerance", func(c *Config) { c.Cutout.ZeroTolerance = -0.1 }},
		{"nside not power of two", func(c *Config) { c.Partition.NSide = 12 }},
		{"bad schema policy", func(c *Config) { c.Archive.SchemaPolicy = "maybe" }},
		{"zero lock timeout", func(c *Config) { c.Archive.LockTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation failure")
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "starcut.yaml")
	content := `
data_dir: /data/run2
catalog:
  path: cat.csv
tiles:
  store: local
  path: /tiles
cutout:
  size: 64
  zero_tolerance: 0.2
archive:
  schema_policy: fail-closed
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Cutout.Size != 64 || cfg.Cutout.ZeroTolerance != 0.2 {
		t.Errorf("yaml values not applied: %+v", cfg.Cutout)
	}
	if cfg.Archive.SchemaPolicy != "fail-closed" {
		t.Errorf("archive settings not applied: %+v", cfg.Archive)
	}
	// Untouched keys keep their defaults.
	if cfg.Cutout.DarkCurrent != 0.0168 || cfg.Partition.NSide != 16 {
		t.Errorf("defaults clobbered: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadFromFileRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "starcut.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("STARCUT_DATA_DIR", "/env/data")
	t.Setenv("STARCUT_CUTOUT_SIZE", "32")
	t.Setenv("STARCUT_SCHEMA_POLICY", "fail-closed")
	t.Setenv("STARCUT_LOCK_TIMEOUT", "5s")

	cfg := validConfig()
	LoadFromEnv(cfg)

	if cfg.DataDir != "/env/data" {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
	if cfg.Cutout.Size != 32 {
		t.Errorf("Size = %d", cfg.Cutout.Size)
	}
	if cfg.Archive.SchemaPolicy != "fail-closed" || cfg.Archive.LockTimeout != 5*time.Second {
		t.Errorf("archive env overrides not applied: %+v", cfg.Archive)
	}
}
