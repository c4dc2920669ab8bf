package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRun(id string, started time.Time) core.RunRecord {
	return core.RunRecord{
		ID:            id,
		ContentTypeID: "product",
		SpreadsheetID: "sheet-1",
		Range:         "Sheet1!A1:Z",
		Status:        core.PhaseComplete,
		TotalRecords:  3,
		Imported:      2,
		Created:       1,
		Updated:       1,
		Failures:      []core.RecordFailure{{Row: 4, Slug: "broken", Reason: "validationfailed"}},
		UserAgent:     "sheetimport-cli",
		StartedAt:     started,
		DurationMS:    1500,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 500, time.UTC)

	if err := store.SaveRun(ctx, sampleRun("run-1", started)); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != core.PhaseComplete || got.Imported != 2 || got.DurationMS != 1500 {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if len(got.Failures) != 1 || got.Failures[0].Row != 4 {
		t.Errorf("Failures = %+v", got.Failures)
	}
	if got.IPAddress != "" || got.UserAgent != "sheetimport-cli" {
		t.Errorf("requester = %q/%q", got.IPAddress, got.UserAgent)
	}

	// Saving the same id again updates in place.
	updated := sampleRun("run-1", started)
	updated.Status = core.PhaseAborted
	updated.Error = "unrecoverable store error"
	if err := store.SaveRun(ctx, updated); err != nil {
		t.Fatalf("SaveRun() update error = %v", err)
	}
	got, _ = store.GetRun(ctx, "run-1")
	if got.Status != core.PhaseAborted || got.Error != "unrecoverable store error" {
		t.Errorf("updated run = %+v", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetRun(context.Background(), "nope")
	if !errors.Is(err, core.ErrRunNotFound) {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestStore_ListAndPurge(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		// Half-second offsets check that fractional timestamps sort correctly.
		started := base.Add(time.Duration(i) * 500 * time.Millisecond)
		if err := store.SaveRun(ctx, sampleRun(fmt.Sprintf("run-%d", i), started)); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 3)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	wantIDs := []string{"run-3", "run-2", "run-1"}
	if len(runs) != len(wantIDs) {
		t.Fatalf("len(runs) = %d, want %d", len(runs), len(wantIDs))
	}
	for i, id := range wantIDs {
		if runs[i].ID != id {
			t.Errorf("runs[%d].ID = %q, want %q", i, runs[i].ID, id)
		}
	}

	purged, err := store.PurgeRuns(ctx, base.Add(time.Second))
	if err != nil {
		t.Fatalf("PurgeRuns() error = %v", err)
	}
	if purged != 2 {
		t.Errorf("purged = %d, want 2", purged)
	}
	runs, _ = store.ListRuns(ctx, 0)
	if len(runs) != 2 {
		t.Errorf("remaining runs = %d, want 2", len(runs))
	}
}

func TestOpen_ReopensExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := first.SaveRun(ctx, sampleRun("keep", time.Now())); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	_ = first.Close()

	second, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer second.Close()
	if _, err := second.GetRun(ctx, "keep"); err != nil {
		t.Errorf("GetRun() after reopen error = %v", err)
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("SQLITE_BUSY: retry"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := isSQLiteBusy(tt.err); got != tt.want {
			t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("retryOnBusy() = %v after %d calls, want nil after 3", err, calls)
	}
}
