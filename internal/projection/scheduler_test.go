package projection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeTarget struct {
	mu       sync.Mutex
	calls    []uint64
	failures int // fail this many invocations before succeeding
	done     chan uint64
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{done: make(chan uint64, 16)}
}

func (f *fakeTarget) SyncToFilesystem(ctx context.Context, revision uint64) error {
	f.mu.Lock()
	f.calls = append(f.calls, revision)
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("projection busy")
	}
	f.done <- revision
	return nil
}

func (f *fakeTarget) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestScheduler(t *testing.T, target Target) *Scheduler {
	t.Helper()
	s := NewScheduler(target, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.SetWindow(30 * time.Millisecond)
	t.Cleanup(s.Close)
	return s
}

func waitProjection(t *testing.T, target *fakeTarget, within time.Duration) uint64 {
	t.Helper()
	select {
	case rev := <-target.done:
		return rev
	case <-time.After(within):
		t.Fatalf("no projection within %v", within)
		return 0
	}
}

func TestDebounceCoalescesCommits(t *testing.T) {
	target := newFakeTarget()
	s := newTestScheduler(t, target)

	s.Notify(1)
	s.Notify(2)
	s.MutationsCommitted(3, nil)

	if rev := waitProjection(t, target, time.Second); rev != 3 {
		t.Errorf("projected revision = %d, want 3 (highest of the burst)", rev)
	}
	if n := target.callCount(); n != 1 {
		t.Errorf("invocations = %d, want 1 after the burst settles", n)
	}

	stats := s.Stats()
	if stats.LastProjected != 3 {
		t.Errorf("lastProjected = %d, want 3", stats.LastProjected)
	}
	if stats.PendingRev != 0 {
		t.Errorf("pendingRevision = %d, want nothing pending", stats.PendingRev)
	}
}

func TestSequentialCommitsProjectSeparately(t *testing.T) {
	target := newFakeTarget()
	s := newTestScheduler(t, target)

	s.Notify(1)
	if rev := waitProjection(t, target, time.Second); rev != 1 {
		t.Fatalf("first projection = %d, want 1", rev)
	}
	s.FullSyncCommitted(2)
	if rev := waitProjection(t, target, time.Second); rev != 2 {
		t.Fatalf("second projection = %d, want 2", rev)
	}
}

func TestRetryOnTransientFailure(t *testing.T) {
	target := newFakeTarget()
	target.failures = 2
	s := newTestScheduler(t, target)

	s.Notify(5)
	if rev := waitProjection(t, target, 3*time.Second); rev != 5 {
		t.Fatalf("projected revision = %d, want 5", rev)
	}
	if n := target.callCount(); n != 3 {
		t.Errorf("target calls = %d, want 3 (two failures then success)", n)
	}

	stats := s.Stats()
	if stats.Retries != 2 {
		t.Errorf("retries = %d, want 2", stats.Retries)
	}
	if stats.Failures != 0 {
		t.Errorf("failures = %d, want 0 (the invocation eventually succeeded)", stats.Failures)
	}
	if stats.LastProjected != 5 {
		t.Errorf("lastProjected = %d, want 5", stats.LastProjected)
	}
}

func TestFlushProjectsImmediately(t *testing.T) {
	target := newFakeTarget()
	s := newTestScheduler(t, target)
	s.SetWindow(10 * time.Second) // far enough that only Flush can fire

	s.Notify(4)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if rev := waitProjection(t, target, time.Second); rev != 4 {
		t.Errorf("flushed revision = %d, want 4", rev)
	}
	if got := s.Stats().LastProjected; got != 4 {
		t.Errorf("lastProjected = %d, want 4", got)
	}

	// Nothing pending: flush is a no-op.
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("idle flush: %v", err)
	}
	if n := target.callCount(); n != 1 {
		t.Errorf("idle flush invoked the target (calls = %d)", n)
	}
}

func TestAlreadyProjectedRevisionSkipped(t *testing.T) {
	target := newFakeTarget()
	s := newTestScheduler(t, target)

	s.Notify(5)
	waitProjection(t, target, time.Second)

	s.Notify(5)
	time.Sleep(100 * time.Millisecond)
	if n := target.callCount(); n != 1 {
		t.Errorf("stale notify reprojected (calls = %d)", n)
	}
	if got := s.Stats().Skipped; got == 0 {
		t.Error("stale notify not counted as skipped")
	}
}

func TestCloseStopsScheduling(t *testing.T) {
	target := newFakeTarget()
	s := newTestScheduler(t, target)

	s.Notify(1)
	s.Close()
	time.Sleep(100 * time.Millisecond)
	calls := target.callCount()

	s.Notify(2)
	time.Sleep(100 * time.Millisecond)
	if target.callCount() != calls {
		t.Error("notify after close reached the target")
	}
}

func TestNilTargetIsNoop(t *testing.T) {
	s := newTestScheduler(t, nil)
	s.Notify(1)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush with nil target: %v", err)
	}
	if got := s.Stats().Skipped; got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
}
