// Package scenegraph maintains the canonical in-memory scene graph: an
// arena of instances keyed by stable id with a dual path/id index, a
// monotone revision counter, delta detection against full editor pushes,
// snapshot/restore for transactional rollback, and the pending-change
// buffer awaiting editor acknowledgement.
//
// All mutations, editor deltas and agent commands alike, funnel through
// one write path so invariant enforcement and revision accounting are
// uniform (see mutate.go).
package scenegraph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/idgen"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// Graph is the canonical scene graph. A single writer mutates it under mu;
// readers take the read lock and copy out what they need. Parent links are
// ids, never pointers, so snapshotting is a map copy.
type Graph struct {
	mu sync.RWMutex

	arena    map[string]*types.Instance
	pathToID map[string]string   // dotted path → id
	idToPath map[string][]string // id → path segments
	rootIDs  []string            // ordered roots (services)

	revision uint64

	pending        []*types.PendingChange
	pendingByID    map[string]*types.PendingChange
	nextPendingSeq uint64

	// now and newID are hooks for tests; defaults are the wall clock and
	// the idgen-backed instance id generator.
	now   func() time.Time
	newID func() string
}

// New creates an empty scene graph at revision 0.
func New() *Graph {
	g := &Graph{
		arena:       make(map[string]*types.Instance),
		pathToID:    make(map[string]string),
		idToPath:    make(map[string][]string),
		pendingByID: make(map[string]*types.PendingChange),
		now:         time.Now,
	}
	g.newID = func() string { return idgen.NewInstanceID(g.now()) }
	return g
}

// Revision returns the current revision. A read observing revision R sees
// every mutation committed at or before R.
func (g *Graph) Revision() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.revision
}

// Len returns the number of instances.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.arena)
}

// GetInstanceByID returns a deep copy of the instance with the given id.
func (g *Graph) GetInstanceByID(id string) (*types.Instance, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	in, ok := g.arena[id]
	if !ok {
		return nil, false
	}
	return in.Clone(), true
}

// GetInstanceByPath returns a deep copy of the instance at the given path.
func (g *Graph) GetInstanceByPath(path []string) (*types.Instance, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.pathToID[types.PathString(path)]
	if !ok {
		return nil, false
	}
	in, ok := g.arena[id]
	if !ok {
		return nil, false
	}
	return in.Clone(), true
}

// GetPathByID returns the current path of an instance.
func (g *Graph) GetPathByID(id string) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	path, ok := g.idToPath[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), path...), true
}

// GetIDByPath resolves a path to a stable id.
func (g *Graph) GetIDByPath(path []string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.pathToID[types.PathString(path)]
	return id, ok
}

// IndexedInstance is one row of the ordered flat listing: the instance plus
// its derived path.
type IndexedInstance struct {
	Instance *types.Instance
	Path     []string
}

// IndexedInstances returns the flat ordered listing: parents before
// children, roots and siblings in child-list order. Instances are deep
// copies.
func (g *Graph) IndexedInstances() []IndexedInstance {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.indexedLocked()
}

// IndexedWithRevision returns the listing together with the revision it
// reflects, under one read lock. The derived cache keys its memos on this
// pair so a concurrent writer cannot tear them apart.
func (g *Graph) IndexedWithRevision() (uint64, []IndexedInstance) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.revision, g.indexedLocked()
}

func (g *Graph) indexedLocked() []IndexedInstance {
	out := make([]IndexedInstance, 0, len(g.arena))
	var walk func(id string)
	walk = func(id string) {
		in, ok := g.arena[id]
		if !ok {
			return
		}
		path := g.idToPath[id]
		out = append(out, IndexedInstance{
			Instance: in.Clone(),
			Path:     append([]string(nil), path...),
		})
		for _, childID := range in.Children {
			walk(childID)
		}
	}
	for _, rootID := range g.rootIDs {
		walk(rootID)
	}
	return out
}

// Snapshot is an immutable capture of the graph at a revision: the arena
// plus both indexes. Used for derived-cache keys, transactional rollback,
// and agent-visible state.
type Snapshot struct {
	Revision uint64
	Arena    map[string]*types.Instance
	PathToID map[string]string
	IDToPath map[string][]string
	RootIDs  []string
	TakenAt  time.Time
}

// CreateSnapshot deep-copies the current state.
func (g *Graph) CreateSnapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshotLocked()
}

func (g *Graph) snapshotLocked() *Snapshot {
	s := &Snapshot{
		Revision: g.revision,
		Arena:    make(map[string]*types.Instance, len(g.arena)),
		PathToID: make(map[string]string, len(g.pathToID)),
		IDToPath: make(map[string][]string, len(g.idToPath)),
		RootIDs:  append([]string(nil), g.rootIDs...),
		TakenAt:  g.now(),
	}
	for id, in := range g.arena {
		s.Arena[id] = in.Clone()
	}
	for p, id := range g.pathToID {
		s.PathToID[p] = id
	}
	for id, path := range g.idToPath {
		s.IDToPath[id] = append([]string(nil), path...)
	}
	return s
}

// RestoreSnapshot replaces the tree with the snapshot's state. The revision
// is bumped, not rewound: a restore is itself an observable mutation, and
// revisions only move forward. (Transactional rollback bypasses this via
// Tx.Rollback, which restores without a bump because nothing was committed.)
func (g *Graph) RestoreSnapshot(s *Snapshot) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.restoreLocked(s)
	g.revision++
	return g.revision
}

func (g *Graph) restoreLocked(s *Snapshot) {
	g.arena = make(map[string]*types.Instance, len(s.Arena))
	for id, in := range s.Arena {
		g.arena[id] = in.Clone()
	}
	g.pathToID = make(map[string]string, len(s.PathToID))
	for p, id := range s.PathToID {
		g.pathToID[p] = id
	}
	g.idToPath = make(map[string][]string, len(s.IDToPath))
	for id, path := range s.IDToPath {
		g.idToPath[id] = append([]string(nil), path...)
	}
	g.rootIDs = append([]string(nil), s.RootIDs...)
}

// pathOfLocked derives the path of an instance by walking parent links.
// Only used while (re)building indexes; steady-state lookups hit idToPath.
func (g *Graph) pathOfLocked(id string) ([]string, error) {
	var segs []string
	seen := make(map[string]bool)
	for cur := id; cur != ""; {
		if seen[cur] {
			return nil, fmt.Errorf("parent cycle at instance %s", cur)
		}
		seen[cur] = true
		in, ok := g.arena[cur]
		if !ok {
			return nil, fmt.Errorf("dangling parent link at instance %s", cur)
		}
		segs = append(segs, in.Name)
		cur = in.ParentID
	}
	// Reverse into root-first order.
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return segs, nil
}

// reindexSubtreeLocked recomputes idToPath/pathToID for id and all its
// descendants in one pass. Stale path keys must already be removed.
func (g *Graph) reindexSubtreeLocked(id string, parentPath []string) {
	in, ok := g.arena[id]
	if !ok {
		return
	}
	path := append(append([]string(nil), parentPath...), in.Name)
	g.idToPath[id] = path
	g.pathToID[types.PathString(path)] = id
	for _, childID := range in.Children {
		g.reindexSubtreeLocked(childID, path)
	}
}

// dropSubtreeIndexLocked removes index entries for id and descendants
// without touching the arena.
func (g *Graph) dropSubtreeIndexLocked(id string) {
	in, ok := g.arena[id]
	if !ok {
		return
	}
	if path, ok := g.idToPath[id]; ok {
		delete(g.pathToID, types.PathString(path))
		delete(g.idToPath, id)
	}
	for _, childID := range in.Children {
		g.dropSubtreeIndexLocked(childID)
	}
}

// uniqueSiblingNameLocked returns base if no sibling of parentID (other
// than excludeID) carries it, else the smallest base_N with N >= 2 that is
// free. Deterministic by construction.
func (g *Graph) uniqueSiblingNameLocked(parentID, base, excludeID string) string {
	taken := make(map[string]bool)
	for _, sibID := range g.siblingIDsLocked(parentID) {
		if sibID == excludeID {
			continue
		}
		if sib, ok := g.arena[sibID]; ok {
			taken[sib.Name] = true
		}
	}
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

func (g *Graph) siblingIDsLocked(parentID string) []string {
	if parentID == "" {
		return g.rootIDs
	}
	if parent, ok := g.arena[parentID]; ok {
		return parent.Children
	}
	return nil
}

// classCounts returns instance counts per class, sorted by class name.
// Used by the health endpoint and the debug bundle.
func (g *Graph) ClassCounts() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	counts := make(map[string]int)
	for _, in := range g.arena {
		counts[in.ClassName]++
	}
	return counts
}

// RootIDs returns the ordered root ids.
func (g *Graph) RootIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.rootIDs...)
}

// sortedPathKeys is a test/debug helper: all indexed dotted paths, sorted.
func (g *Graph) sortedPathKeys() []string {
	keys := make([]string, 0, len(g.pathToID))
	for k := range g.pathToID {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DebugDump renders a compact one-line-per-instance view for debug bundles.
func (g *Graph) DebugDump() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	lines := make([]string, 0, len(g.arena))
	for _, row := range g.indexedLocked() {
		lines = append(lines, fmt.Sprintf("%s [%s] id=%s props=%d",
			strings.Join(row.Path, "."), row.Instance.ClassName, row.Instance.ID, len(row.Instance.Properties)))
	}
	return lines
}
