package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = fmt.Errorf("%w: run not found", ErrNotFound)

// RunRecord is a finished run as kept in history.
type RunRecord struct {
	ID            string          `json:"id"`
	ContentTypeID string          `json:"contentTypeId"`
	SpreadsheetID string          `json:"spreadsheetId"`
	Range         string          `json:"range"`
	Status        RunPhase        `json:"status"`
	DryRun        bool            `json:"dryRun"`
	TotalRecords  int             `json:"totalRecords"`
	Imported      int             `json:"imported"`
	Created       int             `json:"created"`
	Updated       int             `json:"updated"`
	Skipped       int             `json:"skipped"`
	Failures      []RecordFailure `json:"failures"`
	Error         string          `json:"error,omitempty"`
	IPAddress     string          `json:"ipAddress,omitempty"`
	UserAgent     string          `json:"userAgent,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
	DurationMS    int64           `json:"durationMs"`
}

// NewRunRecord builds a history record from a run result. Requester
// metadata is read from ctx.
func NewRunRecord(ctx context.Context, res *RunResult) RunRecord {
	failures := res.Failures
	if failures == nil {
		failures = []RecordFailure{}
	}
	return RunRecord{
		ID:            res.RunID,
		ContentTypeID: res.ContentTypeID,
		SpreadsheetID: res.SpreadsheetID,
		Range:         res.Range,
		Status:        res.Status,
		DryRun:        res.DryRun,
		TotalRecords:  res.TotalRecords,
		Imported:      res.Imported,
		Created:       res.Created,
		Updated:       res.Updated,
		Skipped:       res.Skipped,
		Failures:      failures,
		Error:         res.Error,
		IPAddress:     GetIPAddressFromContext(ctx),
		UserAgent:     GetUserAgentFromContext(ctx),
		StartedAt:     res.StartedAt,
		DurationMS:    res.DurationMS,
	}
}

// HistoryStore persists finished runs.
type HistoryStore interface {
	SaveRun(ctx context.Context, rec RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	PurgeRuns(ctx context.Context, before time.Time) (int64, error)
}

// DefaultHistoryLimit caps list queries that do not set a limit.
const DefaultHistoryLimit = 50

// MemoryHistory is a HistoryStore that keeps the most recent runs in memory.
type MemoryHistory struct {
	mu       sync.RWMutex
	runs     []RunRecord
	capacity int
}

// NewMemoryHistory keeps at most capacity runs; older ones are dropped.
func NewMemoryHistory(capacity int) *MemoryHistory {
	if capacity <= 0 {
		capacity = 200
	}
	return &MemoryHistory{capacity: capacity}
}

func (h *MemoryHistory) SaveRun(_ context.Context, rec RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.runs {
		if h.runs[i].ID == rec.ID {
			h.runs[i] = rec
			return nil
		}
	}
	h.runs = append(h.runs, rec)
	if over := len(h.runs) - h.capacity; over > 0 {
		h.runs = append([]RunRecord(nil), h.runs[over:]...)
	}
	return nil
}

// ListRuns returns runs newest first.
func (h *MemoryHistory) ListRuns(_ context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	h.mu.RLock()
	out := make([]RunRecord, len(h.runs))
	copy(out, h.runs)
	h.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (h *MemoryHistory) GetRun(_ context.Context, id string) (*RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := range h.runs {
		if h.runs[i].ID == id {
			rec := h.runs[i]
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
}

func (h *MemoryHistory) PurgeRuns(_ context.Context, before time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.runs[:0]
	var purged int64
	for _, r := range h.runs {
		if r.StartedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, r)
	}
	h.runs = kept
	return purged, nil
}
