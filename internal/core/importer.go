package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default rate-limiting policy for import runs.
const (
	DefaultBatchSize   = 500
	DefaultRecordDelay = 200 * time.Millisecond
	DefaultBatchPause  = 5 * time.Second
)

// ImportOptions tunes the pacing of a run.
type ImportOptions struct {
	BatchSize   int
	RecordDelay time.Duration
	BatchPause  time.Duration
}

// DefaultImportOptions returns the default pacing.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		BatchSize:   DefaultBatchSize,
		RecordDelay: DefaultRecordDelay,
		BatchPause:  DefaultBatchPause,
	}
}

func (o ImportOptions) withDefaults() ImportOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.RecordDelay < 0 {
		o.RecordDelay = 0
	}
	if o.BatchPause < 0 {
		o.BatchPause = 0
	}
	return o
}

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepWithContext waits for d, returning early with ctx.Err() if ctx ends.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Importer runs records through the mapper and upserts them into the
// entry store one at a time, in source order.
type Importer struct {
	source RecordSource
	store  EntryStore
	mapper *Mapper
	opts   ImportOptions
	sleep  SleepFunc
	logger *slog.Logger
}

// NewImporter creates an importer. source may be nil when records are
// always supplied through ImportRecords.
func NewImporter(source RecordSource, store EntryStore, mapper *Mapper, opts ImportOptions) *Importer {
	if mapper == nil {
		mapper = NewMapper(nil, "")
	}
	return &Importer{
		source: source,
		store:  store,
		mapper: mapper,
		opts:   opts.withDefaults(),
		sleep:  SleepWithContext,
		logger: slog.Default(),
	}
}

// SetSleeper replaces the delay function. Tests use it to observe pacing
// without waiting.
func (im *Importer) SetSleeper(fn SleepFunc) {
	if fn != nil {
		im.sleep = fn
	}
}

// SetLogger sets the logger used for per-record events.
func (im *Importer) SetLogger(l *slog.Logger) {
	if l != nil {
		im.logger = l
	}
}

// Options returns the pacing in effect.
func (im *Importer) Options() ImportOptions { return im.opts }

// Mapper returns the importer's mapper.
func (im *Importer) Mapper() *Mapper { return im.mapper }

// Validate performs the pre-flight checks of a run. It makes no remote calls.
func (im *Importer) Validate(req RunRequest) error {
	if req.SpreadsheetID == "" {
		return fmt.Errorf("%w: invalid spreadsheet reference: empty", ErrValidation)
	}
	if req.ContentTypeID == "" {
		return fmt.Errorf("%w: content type id is required", ErrValidation)
	}
	return im.mapper.CheckMapping(req.Mapping)
}

// Fetch validates req and reads its records from the source.
func (im *Importer) Fetch(ctx context.Context, req RunRequest) ([]Record, error) {
	if err := im.Validate(req); err != nil {
		return nil, err
	}
	if im.source == nil {
		return nil, fmt.Errorf("%w: no record source", ErrConfiguration)
	}
	records, err := im.source.FetchRecords(ctx, req.SpreadsheetID, req.Range)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: range %q", ErrEmptySource, req.Range)
	}
	return records, nil
}

// Run fetches the records for req and imports them.
func (im *Importer) Run(ctx context.Context, req RunRequest, onProgress ProgressCallback) (*RunResult, error) {
	records, err := im.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return im.ImportRecords(ctx, req, records, onProgress)
}

// ImportRecords imports records in batches. A failing record is logged in
// the result and the run continues. An ErrUnrecoverable failure stops the
// run with status aborted; cancellation of ctx stops it with status
// cancelled. In both cases the partial result is returned with the error.
func (im *Importer) ImportRecords(ctx context.Context, req RunRequest, records []Record, onProgress ProgressCallback) (*RunResult, error) {
	if err := im.Validate(req); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: range %q", ErrEmptySource, req.Range)
	}

	run := newBatchRun(req, len(records), im.opts.BatchSize, onProgress)
	log := im.logger.With("content_type", req.ContentTypeID, "dry_run", req.DryRun)
	log.Info("import started",
		"records", run.result.TotalRecords,
		"batches", run.progress.TotalBatches,
		"batch_size", im.opts.BatchSize,
	)

	err := im.importBatches(ctx, req, records, run, log)
	result := run.finish(err)

	log.Info("import finished",
		"status", result.Status,
		"imported", result.Imported,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", len(result.Failures),
		"duration", result.Duration,
	)
	return result, err
}

func (im *Importer) importBatches(ctx context.Context, req RunRequest, records []Record, run *batchRun, log *slog.Logger) error {
	size := im.opts.BatchSize
	total := len(records)

	for b := 0; b < run.progress.TotalBatches; b++ {
		start := b * size
		end := min(start+size, total)
		run.progress.BatchIndex = b + 1
		log.Debug("processing batch", "batch", b+1, "of", run.progress.TotalBatches, "records", end-start)

		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			row := i + 2

			mapped, err := im.mapper.MapRecord(req.Mapping, records[i])
			if errors.Is(err, ErrNoSlug) {
				log.Warn("record skipped: slug column is empty", "row", row)
				run.skip(i)
				continue
			}

			if req.DryRun {
				run.preview(i, row, mapped)
				if req.PreviewLimit > 0 && len(run.result.Previews) >= req.PreviewLimit {
					return nil
				}
				continue
			}

			created, err := im.upsert(ctx, req.ContentTypeID, mapped)
			switch {
			case err == nil:
				run.imported(i, created)
				log.Debug("entry published", "slug", mapped.Slug, "created", created)
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				run.fail(i, row, mapped.Slug, err)
				log.Error("import failed", "row", row, "slug", mapped.Slug, "error", err)
				if errors.Is(err, ErrUnrecoverable) {
					return err
				}
			}

			if err := im.sleep(ctx, im.opts.RecordDelay); err != nil {
				return err
			}
		}

		if b < run.progress.TotalBatches-1 {
			run.setPhase(PhasePausing)
			log.Debug("pausing between batches", "pause", im.opts.BatchPause)
			if err := im.sleep(ctx, im.opts.BatchPause); err != nil {
				return err
			}
			run.setPhase(PhaseImporting)
		}
	}
	return nil
}

// upsert finds the entry by slug, merges into it or creates it, and then
// publishes the result. It reports whether a new entry was created.
func (im *Importer) upsert(ctx context.Context, contentTypeID string, mapped *MappedRecord) (bool, error) {
	slugField := im.mapper.Rules().SlugField

	existing, err := im.store.FindEntryBySlug(ctx, contentTypeID, slugField, mapped.Slug)
	if err != nil {
		return false, fmt.Errorf("find entry: %w", err)
	}

	var entry *Entry
	created := existing == nil
	if created {
		entry, err = im.store.CreateEntry(ctx, contentTypeID, mapped.EntryID, mapped.Fields)
		if err != nil {
			return false, fmt.Errorf("create entry %s: %w", mapped.EntryID, err)
		}
	} else {
		existing.Fields = MergeFields(existing.Fields, mapped.Fields)
		entry, err = im.store.UpdateEntry(ctx, existing)
		if err != nil {
			return false, fmt.Errorf("update entry %s: %w", existing.ID, err)
		}
	}

	if _, err := im.store.PublishEntry(ctx, entry); err != nil {
		return false, fmt.Errorf("publish entry %s: %w", entry.ID, err)
	}
	return created, nil
}

// MergeFields returns existing with every locale value in updates written
// over it. Fields and locales absent from updates are preserved.
func MergeFields(existing, updates EntryFields) EntryFields {
	out := make(EntryFields, len(existing)+len(updates))
	for id, byLocale := range existing {
		cp := make(map[string]any, len(byLocale))
		for loc, v := range byLocale {
			cp[loc] = v
		}
		out[id] = cp
	}
	for id, byLocale := range updates {
		dst, ok := out[id]
		if !ok {
			dst = make(map[string]any, len(byLocale))
			out[id] = dst
		}
		for loc, v := range byLocale {
			dst[loc] = v
		}
	}
	return out
}

// batchRun is the transient state of one run.
type batchRun struct {
	result     *RunResult
	progress   RunProgress
	onProgress ProgressCallback
	started    time.Time
}

func newBatchRun(req RunRequest, total, batchSize int, onProgress ProgressCallback) *batchRun {
	started := time.Now()
	return &batchRun{
		result: &RunResult{
			ContentTypeID: req.ContentTypeID,
			SpreadsheetID: req.SpreadsheetID,
			Range:         req.Range,
			TotalRecords:  total,
			Failures:      []RecordFailure{},
			DryRun:        req.DryRun,
			StartedAt:     started,
		},
		progress: RunProgress{
			ContentTypeID: req.ContentTypeID,
			Phase:         PhaseImporting,
			TotalRecords:  total,
			BatchSize:     batchSize,
			TotalBatches:  (total + batchSize - 1) / batchSize,
		},
		onProgress: onProgress,
		started:    started,
	}
}

func (r *batchRun) notify() {
	if r.onProgress != nil {
		r.onProgress(r.progress)
	}
}

func (r *batchRun) setPhase(p RunPhase) {
	r.progress.Phase = p
	r.notify()
}

func (r *batchRun) advance(i int) {
	r.progress.RecordIndex = i + 1
	r.progress.Imported = r.result.Imported
	r.progress.Skipped = r.result.Skipped
	r.progress.Failed = len(r.result.Failures)
	r.notify()
}

func (r *batchRun) skip(i int) {
	r.result.Skipped++
	r.advance(i)
}

func (r *batchRun) imported(i int, created bool) {
	r.result.Imported++
	if created {
		r.result.Created++
	} else {
		r.result.Updated++
	}
	r.advance(i)
}

func (r *batchRun) fail(i, row int, slug string, err error) {
	r.result.Failures = append(r.result.Failures, RecordFailure{
		Row:    row,
		Slug:   slug,
		Reason: err.Error(),
	})
	r.advance(i)
}

func (r *batchRun) preview(i, row int, mapped *MappedRecord) {
	r.result.Previews = append(r.result.Previews, RecordPreview{
		Row:     row,
		Slug:    mapped.Slug,
		EntryID: mapped.EntryID,
		Fields:  mapped.Fields,
	})
	r.advance(i)
}

// finish stamps the terminal status and emits the final progress snapshot.
func (r *batchRun) finish(err error) *RunResult {
	res := r.result
	switch {
	case err == nil:
		res.Status = PhaseComplete
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		res.Status = PhaseCancelled
		res.Error = err.Error()
	case errors.Is(err, ErrUnrecoverable):
		res.Status = PhaseAborted
		res.Error = err.Error()
	default:
		res.Status = PhaseFailed
		res.Error = err.Error()
	}
	res.Duration = time.Since(r.started)
	res.DurationMS = res.Duration.Milliseconds()

	r.progress.Phase = res.Status
	r.progress.Error = res.Error
	r.progress.Imported = res.Imported
	r.progress.Skipped = res.Skipped
	r.progress.Failed = len(res.Failures)
	r.notify()
	return res
}

// WithMapper returns a copy of the importer that maps records with m.
func (im *Importer) WithMapper(m *Mapper) *Importer {
	cp := *im
	cp.mapper = m
	return &cp
}
