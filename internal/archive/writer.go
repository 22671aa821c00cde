// Package archive stores cutout batches in an append-only partitioned
// layout: one SQLite file per healpix key under the archive root, named
// healpix=<key>/001-of-001.sqlite. Appends are transactional, guarded
// by an exclusive sibling lock file, and journaled before any row is
// written so interrupted runs can be detected.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starcut/starcut/internal/bloom"
	"github.com/starcut/starcut/internal/errors"
	"github.com/starcut/starcut/internal/manifest"
	"github.com/starcut/starcut/pkg/types"
)

// PartitionFileName is the single shard every partition directory holds.
const PartitionFileName = "001-of-001.sqlite"

// PartitionPath returns the partition file path for a healpix key,
// relative to the archive root.
func PartitionPath(healpix int64) string {
	return filepath.Join(fmt.Sprintf("healpix=%d", healpix), PartitionFileName)
}

// Writer appends cutout batches to a partitioned archive rooted at a
// directory. A Writer is safe for use from one goroutine; concurrent
// writers (goroutines or processes) are serialized per partition file
// by the lock protocol.
type Writer struct {
	root        string
	policy      SchemaPolicy
	lockTimeout time.Duration
	lockPoll    time.Duration
	journal     *manifest.Journal
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithSchemaPolicy sets the unknown-column policy.
func WithSchemaPolicy(p SchemaPolicy) WriterOption {
	return func(w *Writer) { w.policy = p }
}

// WithLockTimeout bounds how long an append waits for a partition lock.
func WithLockTimeout(d time.Duration) WriterOption {
	return func(w *Writer) { w.lockTimeout = d }
}

// WithLockPoll sets the interval between lock acquisition attempts.
func WithLockPoll(d time.Duration) WriterOption {
	return func(w *Writer) { w.lockPoll = d }
}

// WithJournal records every partition append in the given journal
// before rows are written.
func WithJournal(j *manifest.Journal) WriterOption {
	return func(w *Writer) { w.journal = j }
}

// NewWriter creates a writer for the archive rooted at root.
func NewWriter(root string, opts ...WriterOption) *Writer {
	w := &Writer{
		root:        root,
		policy:      PolicyWarnDrop,
		lockTimeout: DefaultLockTimeout,
		lockPoll:    DefaultLockPoll,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AppendReport summarizes one Append call.
type AppendReport struct {
	// Rows is the total number of rows written
	Rows int

	// Groups maps each healpix key to the rows appended to its partition
	Groups map[int64]int

	// DroppedColumns names batch columns discarded under PolicyWarnDrop
	DroppedColumns []string
}

// Append writes a batch to the archive, splitting it across partition
// files by healpix key. Each partition append is a single transaction:
// a crash leaves the partition either without the group or with all of
// it. Partitions are processed in ascending key order so two writers
// appending overlapping key sets cannot deadlock on each other's locks.
func (w *Writer) Append(ctx context.Context, batch *types.Batch) (*AppendReport, error) {
	if batch.Len() == 0 {
		return nil, errors.NewArchiveError(errors.CodeEmptyBatch,
			"cannot append an empty batch", nil)
	}
	if err := batch.Validate(); err != nil {
		return nil, errors.NewArchiveError(errors.CodeSchemaMismatch,
			"batch failed validation", err)
	}

	groups := batch.GroupByHealpix()
	keys := make([]int64, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	report := &AppendReport{Groups: make(map[int64]int, len(groups))}
	dropped := make(map[string]struct{})
	for _, key := range keys {
		group := groups[key]
		groupDropped, err := w.appendGroup(ctx, key, group)
		if err != nil {
			return nil, err
		}
		report.Rows += group.Len()
		report.Groups[key] = group.Len()
		for _, name := range groupDropped {
			dropped[name] = struct{}{}
		}
	}
	for name := range dropped {
		report.DroppedColumns = append(report.DroppedColumns, name)
	}
	sort.Strings(report.DroppedColumns)
	return report, nil
}

// appendGroup writes one healpix group to its partition file under the
// lock protocol.
func (w *Writer) appendGroup(ctx context.Context, key int64, group *types.Batch) ([]string, error) {
	relPath := PartitionPath(key)
	absPath := filepath.Join(w.root, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("cannot create partition directory for key %d", key), err)
	}

	lock, err := acquireLock(ctx, absPath, w.lockTimeout, w.lockPoll)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			slog.Error("lock release failed", "partition", relPath, "error", err)
		}
	}()

	_, statErr := os.Stat(absPath)
	fresh := os.IsNotExist(statErr)

	db, err := sql.Open("sqlite3", absPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("cannot open partition %s", relPath), err)
	}
	defer db.Close()

	var schema Schema
	if fresh {
		schema = schemaForBatch(group)
		if err := createPartition(ctx, db, schema, group.Side); err != nil {
			return nil, err
		}
	} else {
		if schema, err = loadSchema(ctx, db); err != nil {
			return nil, err
		}
		side, err := loadSide(ctx, db)
		if err != nil {
			return nil, err
		}
		if side != group.Side {
			return nil, errors.NewArchiveError(errors.CodeSchemaMismatch,
				fmt.Sprintf("partition %s holds %dpx cutouts, batch has %dpx", relPath, side, group.Side), nil)
		}
	}

	scalarOrder, dropped, err := reconcile(schema, group, w.policy)
	if err != nil {
		return nil, err
	}

	var rowsBefore int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cutouts").Scan(&rowsBefore); err != nil {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("cannot count rows in %s", relPath), err)
	}

	var runID string
	if w.journal != nil {
		// Journal the root-qualified path so one journal can serve
		// several archive roots.
		if runID, err = w.journal.Begin(ctx, absPath, rowsBefore, int64(group.Len())); err != nil {
			return nil, err
		}
	}

	if err := w.writeRows(ctx, db, schema, scalarOrder, group); err != nil {
		return nil, err
	}

	if w.journal != nil {
		if err := w.journal.Complete(ctx, runID); err != nil {
			return nil, err
		}
	}

	slog.Info("appended group",
		"partition", relPath, "rows", group.Len(), "rows_before", rowsBefore)
	return dropped, nil
}

// writeRows inserts the group and updates the partition's bloom filter
// in one transaction.
func (w *Writer) writeRows(ctx context.Context, db *sql.DB, schema Schema, scalarOrder []int, group *types.Batch) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot begin append transaction", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	insertSQL := "INSERT INTO cutouts VALUES (?, ?, ?, ?, ?, ?"
	for range scalarOrder {
		insertSQL += ", ?"
	}
	insertSQL += ")"
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot prepare append statement", err)
	}
	defer stmt.Close()

	filter, err := loadOrCreateFilter(ctx, tx, group.Len())
	if err != nil {
		return err
	}

	args := make([]interface{}, len(schema.Columns))
	for i := 0; i < group.Len(); i++ {
		args[0] = group.ObjectID[i]
		args[1] = group.RA[i]
		args[2] = group.Dec[i]
		args[3] = group.Healpix[i]
		args[4] = encodeImage(group.Flux[i])
		args[5] = encodeImage(group.Ivar[i])
		for j, si := range scalarOrder {
			args[6+j] = group.Scalars[si].Value(i)
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return errors.NewArchiveError(errors.CodeCorruptGroup,
				fmt.Sprintf("cannot insert row for object %d", group.ObjectID[i]), err)
		}
		filter.Add(group.ObjectID[i])
	}

	if _, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO _starcut_meta (key, value) VALUES (?, ?)",
		metaKeyBloom, filter.Marshal()); err != nil {
		return errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot store bloom filter", err)
	}

	if err = tx.Commit(); err != nil {
		return errors.NewArchiveError(errors.CodeCorruptGroup,
			"append transaction failed to commit", err)
	}
	return nil
}

// loadOrCreateFilter reads the partition's bloom filter, or sizes a new
// one when the partition has none yet.
func loadOrCreateFilter(ctx context.Context, tx *sql.Tx, incoming int) (*bloom.Filter, error) {
	var blob []byte
	err := tx.QueryRowContext(ctx,
		"SELECT value FROM _starcut_meta WHERE key = ?", metaKeyBloom).Scan(&blob)
	switch {
	case err == sql.ErrNoRows:
		expected := incoming * 16
		if expected < 1024 {
			expected = 1024
		}
		return bloom.NewWithEstimates(expected, bloom.DefaultFPR), nil
	case err != nil:
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot read bloom filter", err)
	}
	f, err := bloom.Unmarshal(blob)
	if err != nil {
		return nil, err
	}
	return f, nil
}
