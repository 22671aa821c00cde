package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Fetcher downloads batches of tiles in parallel, skipping tiles
// already in the cache directory.
type Fetcher struct {
	store       TileStore
	concurrency int
	cacheDir    string
}

// FetchResult is the outcome of a batch fetch.
type FetchResult struct {
	// LocalPaths maps each requested object path to its local file
	LocalPaths map[string]string

	// Errors maps failed object paths to their errors
	Errors map[string]error

	CacheHits int
	Downloads int
}

// NewFetcher creates a fetcher downloading at most concurrency tiles at
// once into cacheDir. The cache directory is required so downloads
// never land in the working directory.
func NewFetcher(store TileStore, concurrency int, cacheDir string) (*Fetcher, error) {
	if cacheDir == "" {
		return nil, fmt.Errorf("storage: cache directory is required")
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Fetcher{store: store, concurrency: concurrency, cacheDir: cacheDir}, nil
}

// FetchAll downloads the named tiles. Tiles whose cached copy already
// exists are not downloaded again. Per-tile failures are collected in
// the result rather than aborting the batch.
func (f *Fetcher) FetchAll(ctx context.Context, objectPaths []string) (*FetchResult, error) {
	result := &FetchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}
	if len(objectPaths) == 0 {
		return result, nil
	}
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: cannot create cache directory: %w", err)
	}

	var queue []string
	for _, p := range objectPaths {
		local := f.localPath(p)
		if _, err := os.Stat(local); err == nil {
			result.LocalPaths[p] = local
			result.CacheHits++
			continue
		}
		queue = append(queue, p)
	}

	sem := semaphore.NewWeighted(int64(f.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, p := range queue {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[p] = err
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(objectPath string) {
			defer sem.Release(1)
			defer wg.Done()

			local := f.localPath(objectPath)
			if err := f.store.Fetch(ctx, objectPath, local); err != nil {
				mu.Lock()
				result.Errors[objectPath] = err
				mu.Unlock()
				return
			}
			mu.Lock()
			result.LocalPaths[objectPath] = local
			result.Downloads++
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	return result, nil
}

// localPath maps an object path to its cache location. Only the file
// name is kept, so tile names must be unique across the survey.
func (f *Fetcher) localPath(objectPath string) string {
	return filepath.Join(f.cacheDir, filepath.Base(filepath.FromSlash(objectPath)))
}
