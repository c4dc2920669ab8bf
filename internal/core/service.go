package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRunTimeout bounds a single import run.
const DefaultRunTimeout = 2 * time.Hour

// finishedRunTTL is how long a finished run stays subscribable.
const finishedRunTTL = 5 * time.Minute

// ServiceOptions wires the optional collaborators of a Service.
type ServiceOptions struct {
	Schema      SchemaSource
	History     HistoryStore
	Templates   TemplateStore
	Limiter     *RunLimiter
	RunTimeout  time.Duration
	SchemaRules bool // derive field kinds from the content type schema
	Logger      *slog.Logger
}

// Service runs imports and tracks them while they are in flight.
type Service struct {
	importer    *Importer
	schema      SchemaSource
	history     HistoryStore
	templates   TemplateStore
	limiter     *RunLimiter
	runTimeout  time.Duration
	schemaRules bool
	logger      *slog.Logger

	mu   sync.RWMutex
	runs map[string]*activeRun
}

type activeRun struct {
	ID            string
	ContentTypeID string
	Cancel        context.CancelFunc
	Done          chan struct{}

	mu        sync.Mutex
	progress  RunProgress
	result    *RunResult
	err       error
	listeners []chan RunProgress
	finished  bool
}

// NewService creates a Service. History defaults to an in-memory store and
// the limiter to one run at a time.
func NewService(importer *Importer, opts ServiceOptions) *Service {
	if opts.History == nil {
		opts.History = NewMemoryHistory(0)
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRunLimiter(DefaultMaxConcurrentRuns, DefaultRunWait)
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		importer:    importer,
		schema:      opts.Schema,
		history:     opts.History,
		templates:   opts.Templates,
		limiter:     opts.Limiter,
		runTimeout:  opts.RunTimeout,
		schemaRules: opts.SchemaRules,
		logger:      opts.Logger,
		runs:        make(map[string]*activeRun),
	}
}

// Importer returns the service's importer.
func (s *Service) Importer() *Importer { return s.importer }

// History returns the history store.
func (s *Service) History() HistoryStore { return s.history }

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() RunLimiterStatus { return s.limiter.Status() }

// RunImport validates req, runs it to completion and returns the result.
// The run is cancelled if ctx ends. A partial result accompanies the error
// for runs that were cancelled or aborted.
func (s *Service) RunImport(ctx context.Context, req RunRequest) (*RunResult, error) {
	run, runCtx, err := s.begin(ctx, ctx, req)
	if err != nil {
		return nil, err
	}
	s.execute(runCtx, run, req)
	return run.outcome()
}

// StartRun validates req and runs it in the background. Returns the run id
// immediately; use SubscribeProgress or WaitRun to follow it.
func (s *Service) StartRun(ctx context.Context, req RunRequest) (string, error) {
	run, runCtx, err := s.begin(ctx, detach(ctx), req)
	if err != nil {
		return "", err
	}
	go s.execute(runCtx, run, req)
	return run.ID, nil
}

// begin performs pre-flight validation, takes a run slot and registers the
// run. parent is the context the run itself derives from.
func (s *Service) begin(ctx, parent context.Context, req RunRequest) (*activeRun, context.Context, error) {
	if err := s.importer.Validate(req); err != nil {
		return nil, nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, nil, err
	}

	runCtx, cancel := context.WithTimeout(parent, s.runTimeout)
	run := &activeRun{
		ID:            uuid.New().String(),
		ContentTypeID: req.ContentTypeID,
		Cancel:        cancel,
		Done:          make(chan struct{}),
	}
	run.progress = RunProgress{
		RunID:         run.ID,
		ContentTypeID: req.ContentTypeID,
		Phase:         PhaseStarting,
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	return run, runCtx, nil
}

// execute drives one registered run and always releases its slot.
func (s *Service) execute(ctx context.Context, run *activeRun, req RunRequest) {
	log := s.logger.With("run_id", run.ID, "content_type", req.ContentTypeID)
	var (
		result *RunResult
		err    error
	)

	defer s.limiter.Release()
	defer run.Cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in import run", "panic", r)
			err = fmt.Errorf("internal error: %v", r)
			result = s.failedResult(run, req, err)
		}
		s.record(ctx, log, result)
		run.finish(result, err)
		s.cleanup(run.ID, finishedRunTTL)
	}()

	run.update(RunProgress{Phase: PhaseFetching})
	records, err := s.importer.Fetch(ctx, req)
	if err != nil {
		log.Warn("import could not start", "error", err)
		result = s.failedResult(run, req, err)
		return
	}

	importer := s.importer.WithMapper(s.mapperFor(ctx, req.ContentTypeID, log))
	importer.SetLogger(log)
	result, err = importer.ImportRecords(ctx, req, records, run.update)
	if result == nil {
		result = s.failedResult(run, req, err)
		return
	}
	result.RunID = run.ID
}

// mapperFor returns the importer's mapper, or one whose rules are derived
// from the content type schema when schema rules are enabled.
func (s *Service) mapperFor(ctx context.Context, contentTypeID string, log *slog.Logger) *Mapper {
	base := s.importer.Mapper()
	if !s.schemaRules || s.schema == nil {
		return base
	}
	ct, err := s.schema.GetContentType(ctx, contentTypeID)
	if err != nil {
		log.Warn("schema rules unavailable, using configured rules", "error", err)
		return base
	}
	return NewMapper(RulesFromContentType(base.Rules(), ct), base.Locale())
}

func (s *Service) failedResult(run *activeRun, req RunRequest, err error) *RunResult {
	res := &RunResult{
		RunID:         run.ID,
		ContentTypeID: req.ContentTypeID,
		SpreadsheetID: req.SpreadsheetID,
		Range:         req.Range,
		Status:        PhaseFailed,
		Failures:      []RecordFailure{},
		DryRun:        req.DryRun,
		StartedAt:     time.Now(),
	}
	if err != nil {
		res.Error = err.Error()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.Status = PhaseCancelled
		}
	}
	return res
}

// record saves a finished run to history. Dry runs are not recorded.
func (s *Service) record(ctx context.Context, log *slog.Logger, result *RunResult) {
	if result == nil || result.DryRun {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.history.SaveRun(saveCtx, NewRunRecord(ctx, result)); err != nil {
		log.Error("failed to record run history", "error", err)
	}
}

// SubscribeProgress returns a channel of progress snapshots for a run. The
// channel is closed when the run finishes.
func (s *Service) SubscribeProgress(runID string) (<-chan RunProgress, error) {
	run, err := s.activeRun(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan RunProgress, 16)

	run.mu.Lock()
	defer run.mu.Unlock()
	ch <- run.progress
	if run.finished {
		close(ch)
		return ch, nil
	}
	run.listeners = append(run.listeners, ch)
	return ch, nil
}

// CancelRun cancels an in-flight run.
func (s *Service) CancelRun(runID string) error {
	run, err := s.activeRun(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// WaitRun blocks until the run finishes or ctx ends.
func (s *Service) WaitRun(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.activeRun(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done:
		return run.outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetRunProgress returns the latest snapshot of a tracked run.
func (s *Service) GetRunProgress(runID string) (RunProgress, error) {
	run, err := s.activeRun(runID)
	if err != nil {
		return RunProgress{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, nil
}

// ActiveRuns returns progress for every run that has not finished.
func (s *Service) ActiveRuns() []RunProgress {
	s.mu.RLock()
	runs := make([]*activeRun, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	out := make([]RunProgress, 0, len(runs))
	for _, r := range runs {
		r.mu.Lock()
		if !r.finished {
			out = append(out, r.progress)
		}
		r.mu.Unlock()
	}
	return out
}

// ListRuns returns recent runs from history, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	return s.history.ListRuns(ctx, limit)
}

// GetRun returns a run from history.
func (s *Service) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	return s.history.GetRun(ctx, runID)
}

// ContentTypeFields returns the field summaries of a content type.
func (s *Service) ContentTypeFields(ctx context.Context, contentTypeID string) ([]FieldSummary, error) {
	if contentTypeID == "" {
		return nil, fmt.Errorf("%w: content type id is required", ErrValidation)
	}
	if s.schema == nil {
		return nil, fmt.Errorf("%w: no schema source", ErrConfiguration)
	}
	ct, err := s.schema.GetContentType(ctx, contentTypeID)
	if err != nil {
		return nil, err
	}
	return ct.Summaries(), nil
}

// Drain waits until in-flight runs release their slots or ctx ends.
func (s *Service) Drain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CancelAll cancels every in-flight run.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		r.Cancel()
	}
}

func (s *Service) activeRun(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// cleanup stops tracking a run after a delay.
func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

// update stores a snapshot and sends it to listeners. Slow listeners miss
// intermediate snapshots.
func (r *activeRun) update(p RunProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.RunID = r.ID
	p.ContentTypeID = r.ContentTypeID
	if p.Phase == PhaseFetching {
		// Counts are not known yet; keep the rest of the snapshot.
		r.progress.Phase = p.Phase
	} else {
		r.progress = p
	}
	for _, ch := range r.listeners {
		select {
		case ch <- r.progress:
		default:
		}
	}
}

// finish stores the outcome, closes listeners and releases waiters.
func (r *activeRun) finish(result *RunResult, err error) {
	r.mu.Lock()
	r.result = result
	r.err = err
	r.finished = true
	if result != nil {
		r.progress.Phase = result.Status
		r.progress.Error = result.Error
	}
	for _, ch := range r.listeners {
		select {
		case ch <- r.progress:
		default:
		}
		close(ch)
	}
	r.listeners = nil
	r.mu.Unlock()

	close(r.Done)
}

func (r *activeRun) outcome() (*RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// detach returns a context that keeps ctx's values but not its deadline or
// cancellation, for runs that outlive the request that started them.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
