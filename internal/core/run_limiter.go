package core

// run_limiter.go serializes import runs.
//
// Two runs against the same content type can race on an unseen slug and
// create duplicate entries, so runs hold a slot for their whole duration.
// The default capacity is one. Callers that cannot get a slot within maxWait
// fail with ErrTooManyRuns.

import (
	"context"
	"errors"
	"time"
)

// ErrTooManyRuns is returned when every run slot stays occupied for longer
// than the limiter's wait time.
var ErrTooManyRuns = errors.New("too many concurrent import runs, please try again later")

// DefaultMaxConcurrentRuns is the default number of runs allowed at once.
const DefaultMaxConcurrentRuns = 1

// DefaultRunWait is how long Acquire waits for a slot.
const DefaultRunWait = 5 * time.Second

// RunLimiter is a semaphore over import runs.
type RunLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
}

// NewRunLimiter creates a limiter allowing maxConcurrent simultaneous runs.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultRunWait
	}
	return &RunLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a run slot. The caller MUST call Release when the run ends.
func (l *RunLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyRuns
	}
}

// TryAcquire takes a slot without waiting.
func (l *RunLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *RunLimiter) Release() {
	<-l.slots
}

// Active returns the number of runs holding a slot.
func (l *RunLimiter) Active() int { return len(l.slots) }

// Capacity returns the maximum number of concurrent runs.
func (l *RunLimiter) Capacity() int { return cap(l.slots) }

// WaitForDrain blocks until no run holds a slot or ctx ends. Used on
// shutdown so in-flight runs can record their results.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunLimiterStatus is a snapshot of limiter state.
type RunLimiterStatus struct {
	Active    int `json:"active"`
	Available int `json:"available"`
	Capacity  int `json:"capacity"`
}

// Status returns the current limiter state.
func (l *RunLimiter) Status() RunLimiterStatus {
	active := l.Active()
	return RunLimiterStatus{
		Active:    active,
		Available: l.Capacity() - active,
		Capacity:  l.Capacity(),
	}
}
