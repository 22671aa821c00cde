package manifest

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestBeginComplete(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	runID, err := j.Begin(ctx, "healpix=42/001-of-001.sqlite", 0, 10)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if runID == "" {
		t.Fatal("empty run ID")
	}

	open, err := j.Incomplete(ctx)
	if err != nil {
		t.Fatalf("Incomplete: %v", err)
	}
	if len(open) != 1 || open[0].RunID != runID {
		t.Fatalf("expected one open entry for %s, got %+v", runID, open)
	}
	if open[0].RowsBefore != 0 || open[0].BatchRows != 10 {
		t.Errorf("entry counts wrong: %+v", open[0])
	}

	if err := j.Complete(ctx, runID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	open, err = j.Incomplete(ctx)
	if err != nil {
		t.Fatalf("Incomplete after complete: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open entries, got %+v", open)
	}
}

func TestCompleteUnknownRun(t *testing.T) {
	j := openTestJournal(t)
	if err := j.Complete(context.Background(), "no-such-run"); err == nil {
		t.Fatal("expected error completing an unknown run")
	}
}

func TestHistoryOrdersByStart(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	path := "healpix=7/001-of-001.sqlite"

	first, err := j.Begin(ctx, path, 0, 3)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := j.Complete(ctx, first); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	second, err := j.Begin(ctx, path, 3, 5)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	hist, err := j.History(ctx, path)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hist))
	}
	if hist[0].RunID != first || hist[1].RunID != second {
		t.Errorf("history out of order: %+v", hist)
	}
	if hist[0].Status != StatusComplete || hist[0].CompletedAt == nil {
		t.Errorf("first entry should be complete: %+v", hist[0])
	}
	if hist[1].Status != StatusBegun || hist[1].CompletedAt != nil {
		t.Errorf("second entry should still be open: %+v", hist[1])
	}
}
