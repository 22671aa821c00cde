package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starcut/starcut/internal/bloom"
	"github.com/starcut/starcut/internal/errors"
)

// Example is one stored cutout row read back from the archive.
type Example struct {
	ObjectID int64
	RA       float64
	Dec      float64
	Healpix  int64
	Side     int
	Flux     []float32
	Ivar     []float32
	Scalars  map[string]interface{}
}

// Reader reads cutout rows back from a partitioned archive.
type Reader struct {
	root string
}

// NewReader creates a reader for the archive rooted at root.
func NewReader(root string) *Reader {
	return &Reader{root: root}
}

// Partitions lists the archive's partition files as healpix keys mapped
// to paths relative to the root, sorted by key.
func (r *Reader) Partitions() ([]int64, error) {
	matches, err := filepath.Glob(filepath.Join(r.root, "healpix=*", PartitionFileName))
	if err != nil {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot scan archive layout", err)
	}
	keys := make([]int64, 0, len(matches))
	for _, m := range matches {
		dir := filepath.Base(filepath.Dir(m))
		raw := strings.TrimPrefix(dir, "healpix=")
		key, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
				fmt.Sprintf("unparseable partition directory %q", dir), err)
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func (r *Reader) partitionAbs(healpix int64) string {
	return filepath.Join(r.root, PartitionPath(healpix))
}

func openReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("partition %s not readable", path), err)
	}
	db, err := sql.Open("sqlite3", path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("cannot open partition %s", path), err)
	}
	return db, nil
}

// RowCount returns the number of rows in one partition.
func (r *Reader) RowCount(ctx context.Context, healpix int64) (int64, error) {
	db, err := openReadOnly(r.partitionAbs(healpix))
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cutouts").Scan(&n); err != nil {
		return 0, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("cannot count partition %d", healpix), err)
	}
	return n, nil
}

// TotalRows sums row counts across every partition.
func (r *Reader) TotalRows(ctx context.Context) (int64, error) {
	keys, err := r.Partitions()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range keys {
		n, err := r.RowCount(ctx, key)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Schema returns the fixed schema of one partition.
func (r *Reader) Schema(ctx context.Context, healpix int64) (Schema, error) {
	db, err := openReadOnly(r.partitionAbs(healpix))
	if err != nil {
		return Schema{}, err
	}
	defer db.Close()
	return loadSchema(ctx, db)
}

// ReadPartition returns every row of one partition in append order.
func (r *Reader) ReadPartition(ctx context.Context, healpix int64) ([]Example, error) {
	db, err := openReadOnly(r.partitionAbs(healpix))
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return r.scan(ctx, db, "")
}

// Find returns every stored row for an object identifier, searching
// each partition's bloom filter first so only candidate files are
// opened. Appending the same catalog twice yields two rows per object.
func (r *Reader) Find(ctx context.Context, objectID int64) ([]Example, error) {
	keys, err := r.Partitions()
	if err != nil {
		return nil, err
	}

	var out []Example
	for _, key := range keys {
		db, err := openReadOnly(r.partitionAbs(key))
		if err != nil {
			return nil, err
		}

		hit, err := mightContain(ctx, db, objectID)
		if err != nil {
			db.Close()
			return nil, err
		}
		if !hit {
			db.Close()
			continue
		}

		rows, err := r.scan(ctx, db, "WHERE object_id = ?", objectID)
		db.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	if len(out) == 0 {
		return nil, errors.NewArchiveError(errors.CodeObjectNotFound,
			fmt.Sprintf("object %d not in archive", objectID), nil)
	}
	return out, nil
}

// mightContain consults the partition's bloom filter. Partitions
// without a stored filter are treated as candidates.
func mightContain(ctx context.Context, db *sql.DB, objectID int64) (bool, error) {
	var blob []byte
	err := db.QueryRowContext(ctx,
		"SELECT value FROM _starcut_meta WHERE key = ?", metaKeyBloom).Scan(&blob)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot read bloom filter", err)
	}
	f, err := bloom.Unmarshal(blob)
	if err != nil {
		return false, err
	}
	return f.MightContain(objectID), nil
}

// scan reads cutout rows, decoding image blobs and collecting scalar
// columns by name. where is an optional WHERE clause with ? binds
// filled from args.
func (r *Reader) scan(ctx context.Context, db *sql.DB, where string, args ...interface{}) ([]Example, error) {
	schema, err := loadSchema(ctx, db)
	if err != nil {
		return nil, err
	}
	side, err := loadSide(ctx, db)
	if err != nil {
		return nil, err
	}

	query := "SELECT * FROM cutouts"
	if where != "" {
		query += " " + where
	}
	query += " ORDER BY rowid"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot read cutout rows", err)
	}
	defer rows.Close()

	scalarDefs := schema.Columns[len(coreColumns):]
	var out []Example
	for rows.Next() {
		var (
			ex        Example
			fluxBlob  []byte
			ivarBlob  []byte
			scalarPtr = make([]interface{}, len(scalarDefs))
			scalars   = make([]interface{}, len(scalarDefs))
		)
		for i := range scalars {
			scalarPtr[i] = &scalars[i]
		}
		dest := append([]interface{}{&ex.ObjectID, &ex.RA, &ex.Dec, &ex.Healpix, &fluxBlob, &ivarBlob}, scalarPtr...)
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
				"cannot decode cutout row", err)
		}

		ex.Side = side
		if ex.Flux, err = decodeImage(fluxBlob, side*side); err != nil {
			return nil, err
		}
		if ex.Ivar, err = decodeImage(ivarBlob, side*side); err != nil {
			return nil, err
		}
		ex.Scalars = make(map[string]interface{}, len(scalarDefs))
		for i, def := range scalarDefs {
			ex.Scalars[def.Name] = scalars[i]
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}
