// Package locks implements the TTL path-prefix lock manager. A lock on a
// path excludes every other owner from that path, its ancestors, and its
// descendants until released or expired. Acquisition is all-or-nothing and
// never blocks: a denial returns the blocking lock's metadata immediately.
package locks

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

const (
	// DefaultTTL bounds a lock's lifetime when the caller does not choose
	// one. TTL expiry is the liveness story: a crashed owner's locks clear
	// on their own.
	DefaultTTL = 15 * time.Second

	// DefaultContentionLog is how many rejected acquisitions the manager
	// retains for diagnostics.
	DefaultContentionLog = 500
)

// Lock is one active path exclusion.
type Lock struct {
	Path       []string
	Owner      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// ActiveLock is the listing form of a lock, with remaining TTL precomputed.
type ActiveLock struct {
	Path        []string  `json:"path"`
	PathString  string    `json:"pathString"`
	Owner       string    `json:"owner"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RemainingMs int64     `json:"remainingMs"`
}

// Denial reports why an acquisition was rejected: the first requested path
// that overlapped a live lock held by another owner.
type Denial struct {
	At            time.Time `json:"at"`
	Owner         string    `json:"owner"`
	RequestedPath []string  `json:"requestedPath"`
	BlockingPath  []string  `json:"blockingPath"`
	BlockingOwner string    `json:"blockingOwner"`
	ExpiresAt     time.Time `json:"blockingExpiresAt"`
}

// Conflict converts the denial into the locked conflict handed back to the
// command caller.
func (d *Denial) Conflict() *types.Conflict {
	return types.NewLocked(
		types.PathString(d.BlockingPath),
		d.BlockingOwner,
		d.ExpiresAt.UTC().Format(time.RFC3339Nano),
		[]string{types.PathString(d.RequestedPath)},
	)
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Active  int    `json:"active"`
	Granted uint64 `json:"granted"`
	Denied  uint64 `json:"denied"`
	Expired uint64 `json:"expired"`
}

// Manager holds the active lock table and the contention log. Safe for
// concurrent use.
type Manager struct {
	mu         sync.Mutex
	locks      []*Lock
	defaultTTL time.Duration

	contention    []Denial
	maxContention int

	granted atomic.Uint64
	denied  atomic.Uint64
	expired atomic.Uint64

	now func() time.Time
}

// NewManager creates a lock manager with the default TTL and contention log
// size.
func NewManager() *Manager {
	return &Manager{
		defaultTTL:    DefaultTTL,
		maxContention: DefaultContentionLog,
		now:           time.Now,
	}
}

// SetClock replaces the time source for tests.
func (m *Manager) SetClock(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = fn
}

// SetDefaultTTL changes the TTL applied when callers pass zero. Used by the
// config hot-reload path.
func (m *Manager) SetDefaultTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultTTL = ttl
}

// DefaultTTLValue returns the currently configured default TTL.
func (m *Manager) DefaultTTLValue() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultTTL
}

// Acquire locks every path in paths for owner, all with the same expiry.
// ttl <= 0 selects the default. Returns nil on success; on any overlap with
// another owner's live lock, nothing is inserted and the denial describes
// the first blocking lock found. Zero-length paths are ignored. A path the
// owner already holds has its expiry refreshed rather than duplicated.
func (m *Manager) Acquire(owner string, paths [][]string, ttl time.Duration) *Denial {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	expiresAt := now.Add(ttl)

	for _, path := range paths {
		if len(path) == 0 {
			continue
		}
		for _, held := range m.locks {
			if held.Owner == owner {
				continue
			}
			if pathsOverlap(path, held.Path) {
				d := Denial{
					At:            now,
					Owner:         owner,
					RequestedPath: clonePath(path),
					BlockingPath:  clonePath(held.Path),
					BlockingOwner: held.Owner,
					ExpiresAt:     held.ExpiresAt,
				}
				m.recordContentionLocked(d)
				m.denied.Add(1)
				return &d
			}
		}
	}

	for _, path := range paths {
		if len(path) == 0 {
			continue
		}
		if held := m.ownedExactLocked(owner, path); held != nil {
			held.ExpiresAt = expiresAt
			continue
		}
		m.locks = append(m.locks, &Lock{
			Path:       clonePath(path),
			Owner:      owner,
			AcquiredAt: now,
			ExpiresAt:  expiresAt,
		})
	}
	m.granted.Add(1)
	return nil
}

// Release drops every lock held by owner and returns how many dropped.
func (m *Manager) Release(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.locks[:0]
	dropped := 0
	for _, l := range m.locks {
		if l.Owner == owner {
			dropped++
			continue
		}
		kept = append(kept, l)
	}
	m.locks = kept
	return dropped
}

// Active returns the live lock set sorted by path, expired entries pruned.
func (m *Manager) Active() []ActiveLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)

	out := make([]ActiveLock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, ActiveLock{
			Path:        clonePath(l.Path),
			PathString:  types.PathString(l.Path),
			Owner:       l.Owner,
			AcquiredAt:  l.AcquiredAt,
			ExpiresAt:   l.ExpiresAt,
			RemainingMs: l.ExpiresAt.Sub(now).Milliseconds(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PathString < out[j].PathString })
	return out
}

// RecentContention returns up to limit rejected acquisitions, newest first.
// limit <= 0 returns all retained entries.
func (m *Manager) RecentContention(limit int) []Denial {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.contention)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Denial, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.contention[i])
	}
	return out
}

// Snapshot returns the counter snapshot alongside the live lock count.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	m.pruneLocked(m.now())
	active := len(m.locks)
	m.mu.Unlock()

	return Stats{
		Active:  active,
		Granted: m.granted.Load(),
		Denied:  m.denied.Load(),
		Expired: m.expired.Load(),
	}
}

func (m *Manager) pruneLocked(now time.Time) {
	kept := m.locks[:0]
	for _, l := range m.locks {
		if !l.ExpiresAt.After(now) {
			m.expired.Add(1)
			continue
		}
		kept = append(kept, l)
	}
	m.locks = kept
}

func (m *Manager) ownedExactLocked(owner string, path []string) *Lock {
	for _, l := range m.locks {
		if l.Owner != owner || len(l.Path) != len(path) {
			continue
		}
		match := true
		for i := range path {
			if l.Path[i] != path[i] {
				match = false
				break
			}
		}
		if match {
			return l
		}
	}
	return nil
}

func (m *Manager) recordContentionLocked(d Denial) {
	if len(m.contention) >= m.maxContention {
		// Drop oldest entry
		m.contention = m.contention[1:]
	}
	m.contention = append(m.contention, d)
}

// pathsOverlap reports whether one path equals or is a segment-prefix of
// the other. ["Workspace"] overlaps ["Workspace","Base"] in both directions;
// ["Workspace","A"] and ["Workspace","B"] do not.
func pathsOverlap(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clonePath(path []string) []string {
	return append([]string(nil), path...)
}
