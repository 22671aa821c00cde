// Package storage fetches survey tile files from wherever they live.
// Tiles are large FITS images, so stores hand back local file paths and
// the fetcher layers a download cache plus bounded parallelism on top.
package storage

import "context"

// TileStore abstracts the remote side holding tile files.
// Implementations cover S3 and a local directory for development.
type TileStore interface {
	// Fetch downloads one tile object to localPath.
	Fetch(ctx context.Context, objectPath, localPath string) error

	// Exists reports whether the tile object is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// List returns all object paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// DefaultConcurrency is the number of tiles fetched in parallel.
const DefaultConcurrency = 5
