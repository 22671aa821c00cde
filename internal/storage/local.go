package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/starcut/starcut/internal/errors"
)

// LocalStore serves tiles from a directory on the local filesystem.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a store rooted at basePath.
func NewLocalStore(basePath string) (*LocalStore, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeObjectNotFound,
			fmt.Sprintf("tile directory %s not accessible", basePath), err)
	}
	if !info.IsDir() {
		return nil, errors.NewStorageError(errors.CodeObjectNotFound,
			fmt.Sprintf("tile path %s is not a directory", basePath), nil)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) fullPath(objectPath string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}

// Fetch copies a tile file out of the store.
func (l *LocalStore) Fetch(ctx context.Context, objectPath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcPath := l.fullPath(objectPath)
	if _, err := os.Stat(srcPath); os.IsNotExist(err) {
		return errors.NewStorageError(errors.CodeObjectNotFound,
			fmt.Sprintf("tile %s not in store", objectPath), err)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("cannot create destination for %s", objectPath), err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("cannot open tile %s", objectPath), err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("cannot write tile %s", objectPath), err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("copy of tile %s failed", objectPath), err)
	}
	return nil
}

// Exists checks whether a tile file is present in the store.
func (l *LocalStore) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns every object path under the prefix, relative to the
// store root.
func (l *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var objects []string
	err := filepath.Walk(l.fullPath(prefix), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			rel, err := filepath.Rel(l.basePath, path)
			if err != nil {
				return err
			}
			objects = append(objects, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("cannot list tiles under %s", prefix), err)
	}
	return objects, nil
}
