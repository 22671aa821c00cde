// Package manifest keeps an append journal for the cutout archive. Each
// partition append is recorded before any rows are written and marked
// complete afterwards, so a crash mid-append leaves an open entry that
// names the affected partition file and its expected row counts.
package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starcut/starcut/internal/errors"
)

// Status values for journal entries.
const (
	StatusBegun    = "begun"
	StatusComplete = "complete"
)

// Entry is one recorded append.
type Entry struct {
	RunID         string
	PartitionPath string
	RowsBefore    int64
	BatchRows     int64
	Status        string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// Journal is a SQLite-backed append journal.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("cannot open append journal %s", path), err)
	}

	createSQL := `
		CREATE TABLE IF NOT EXISTS appends (
			run_id TEXT PRIMARY KEY,
			partition_path TEXT NOT NULL,
			rows_before INTEGER NOT NULL,
			batch_rows INTEGER NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER
		)
	`
	if _, err := db.Exec(createSQL); err != nil {
		db.Close()
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("cannot initialize append journal %s", path), err)
	}

	return &Journal{db: db}, nil
}

// Begin records an append that is about to start and returns its run ID.
// rowsBefore is the partition's row count before any rows are written.
func (j *Journal) Begin(ctx context.Context, partitionPath string, rowsBefore, batchRows int64) (string, error) {
	runID := uuid.New().String()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO appends (run_id, partition_path, rows_before, batch_rows, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, partitionPath, rowsBefore, batchRows, StatusBegun, time.Now().UnixMilli())
	if err != nil {
		return "", errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("cannot journal append to %s", partitionPath), err)
	}
	return runID, nil
}

// Complete marks a previously begun append as finished.
func (j *Journal) Complete(ctx context.Context, runID string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE appends SET status = ?, completed_at = ? WHERE run_id = ? AND status = ?`,
		StatusComplete, time.Now().UnixMilli(), runID, StatusBegun)
	if err != nil {
		return errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("cannot complete journal entry %s", runID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewInternalError("journal update result unavailable", err)
	}
	if n != 1 {
		return errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("journal entry %s not open", runID), nil)
	}
	return nil
}

// Incomplete returns all entries that were begun but never completed.
// After a crash these name the partition files whose tail rows are
// suspect.
func (j *Journal) Incomplete(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, partition_path, rows_before, batch_rows, status, started_at
		 FROM appends WHERE status = ? ORDER BY started_at, rowid`,
		StatusBegun)
	if err != nil {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot scan append journal", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var startedAt int64
		if err := rows.Scan(&e.RunID, &e.PartitionPath, &e.RowsBefore, &e.BatchRows, &e.Status, &startedAt); err != nil {
			return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
				"cannot decode append journal entry", err)
		}
		e.StartedAt = time.UnixMilli(startedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// History returns every entry for a partition path, oldest first.
func (j *Journal) History(ctx context.Context, partitionPath string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, partition_path, rows_before, batch_rows, status, started_at, completed_at
		 FROM appends WHERE partition_path = ? ORDER BY started_at, rowid`,
		partitionPath)
	if err != nil {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			"cannot read append journal", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var startedAt int64
		var completedAt sql.NullInt64
		if err := rows.Scan(&e.RunID, &e.PartitionPath, &e.RowsBefore, &e.BatchRows, &e.Status, &startedAt, &completedAt); err != nil {
			return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
				"cannot decode append journal entry", err)
		}
		e.StartedAt = time.UnixMilli(startedAt)
		if completedAt.Valid {
			t := time.UnixMilli(completedAt.Int64)
			e.CompletedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
