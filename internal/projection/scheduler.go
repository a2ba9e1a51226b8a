// Package projection owns the contract between the hub and the external
// filesystem projection, plus the debounced scheduler that drives it. The
// projection rules themselves (instance tree to files and back) live in the
// collaborating process; the hub only tells it when and how far to catch up.
package projection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// DefaultWindow is the quiet period after the last commit before the
// projection is invoked. Rapid command bursts coalesce into one callback.
const DefaultWindow = 250 * time.Millisecond

// DefaultRetryMaxElapsed bounds how long a single projection invocation is
// retried before giving up; the next commit re-triggers regardless.
const DefaultRetryMaxElapsed = 10 * time.Second

// Target is implemented by the external filesystem projection.
type Target interface {
	// SyncToFilesystem projects the scene graph at least up to revision.
	// Called out of band after commits, never while graph or path locks are
	// held. Must tolerate being called with an already-projected revision.
	SyncToFilesystem(ctx context.Context, revision uint64) error
}

// Stats is a point-in-time view of scheduler activity.
type Stats struct {
	Scheduled     int64  `json:"scheduled"`
	Invocations   int64  `json:"invocations"`
	Retries       int64  `json:"retries"`
	Failures      int64  `json:"failures"`
	Skipped       int64  `json:"skipped"`
	LastProjected uint64 `json:"lastProjected"`
	PendingRev    uint64 `json:"pendingRevision,omitempty"`
}

// Scheduler batches commit notifications into a single projection callback
// after a quiet period. It satisfies the command executor's Notifier
// interface so it can sit directly on the post-commit fan-out.
type Scheduler struct {
	mu    sync.Mutex
	timer *time.Timer
	seq   uint64
	wg    sync.WaitGroup

	target     Target
	window     time.Duration
	maxElapsed time.Duration
	log        *slog.Logger

	pendingRev    uint64
	lastProjected uint64
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc

	scheduled   int64
	invocations int64
	retries     int64
	failures    int64
	skipped     int64
}

// NewScheduler creates a scheduler around the given target. A nil target
// turns notifications into counted no-ops, which lets the hub run without a
// projection attached.
func NewScheduler(target Target, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		target:     target,
		window:     DefaultWindow,
		maxElapsed: DefaultRetryMaxElapsed,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetWindow overrides the debounce window. Call before the first commit.
func (s *Scheduler) SetWindow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.window = d
	}
}

// MutationsCommitted implements the post-commit notification contract for
// individually committed changes.
func (s *Scheduler) MutationsCommitted(revision uint64, changes []types.Change) {
	s.Notify(revision)
}

// FullSyncCommitted implements the post-commit notification contract for
// transactional batches.
func (s *Scheduler) FullSyncCommitted(revision uint64) {
	s.Notify(revision)
}

// Notify records that the graph reached revision and schedules a projection
// after the debounce window. Later notifications extend the window and raise
// the target revision; the callback fires once per quiet period.
func (s *Scheduler) Notify(revision uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.target == nil {
		s.skipped++
		return
	}
	if revision > s.pendingRev {
		s.pendingRev = revision
	}
	if s.pendingRev <= s.lastProjected {
		s.skipped++
		return
	}
	s.scheduled++
	s.triggerLocked(s.window)
}

// Flush runs any pending projection immediately and waits for it. Used at
// shutdown and by the debug endpoints.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.target == nil || s.pendingRev <= s.lastProjected {
		s.mu.Unlock()
		return nil
	}
	s.cancelTimerLocked()
	rev := s.pendingRev
	s.mu.Unlock()

	err := s.invoke(ctx, rev)
	s.finishInvocation(rev, err)
	return err
}

// Close stops the scheduler and waits for any in-flight callback.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancelTimerLocked()
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Scheduled:     s.scheduled,
		Invocations:   s.invocations,
		Retries:       s.retries,
		Failures:      s.failures,
		Skipped:       s.skipped,
		LastProjected: s.lastProjected,
	}
	if s.pendingRev > s.lastProjected {
		st.PendingRev = s.pendingRev
	}
	return st
}

// triggerLocked resets the debounce timer. The sequence number invalidates
// timers that were already in flight when a newer trigger arrived.
func (s *Scheduler) triggerLocked(window time.Duration) {
	s.cancelTimerLocked()

	s.seq++
	currentSeq := s.seq

	s.wg.Add(1)
	s.timer = time.AfterFunc(window, func() {
		defer s.wg.Done()

		s.mu.Lock()
		if s.seq != currentSeq || s.closed {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		rev := s.pendingRev
		s.mu.Unlock()

		err := s.invoke(s.ctx, rev)
		s.finishInvocation(rev, err)
	})
}

func (s *Scheduler) cancelTimerLocked() {
	if s.timer != nil {
		if s.timer.Stop() {
			s.wg.Done()
		}
		s.timer = nil
	}
}

// invoke calls the target with exponential retry. Every error is treated as
// transient up to the elapsed budget; the projection is a local collaborator
// and its failures are expected to be momentary (file watcher races, editor
// restarts).
func (s *Scheduler) invoke(ctx context.Context, revision uint64) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = s.maxElapsed

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			s.mu.Lock()
			s.retries++
			s.mu.Unlock()
		}
		return s.target.SyncToFilesystem(ctx, revision)
	}, backoff.WithContext(bo, ctx))

	s.mu.Lock()
	s.invocations++
	s.mu.Unlock()
	return err
}

// finishInvocation records the outcome and re-arms the timer if commits
// landed while the callback was running.
func (s *Scheduler) finishInvocation(revision uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.failures++
		s.log.Warn("filesystem projection failed", "revision", revision, "error", err)
		return
	}
	if revision > s.lastProjected {
		s.lastProjected = revision
	}
	if !s.closed && s.pendingRev > s.lastProjected {
		s.triggerLocked(s.window)
	}
}
