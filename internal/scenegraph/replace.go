package scenegraph

import (
	"fmt"
	"sort"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// ReplaceOutcome reports what a full editor push changed: the observed diff
// against the previous tree plus the post-swap revision.
type ReplaceOutcome struct {
	Revision uint64         `json:"revision"`
	Changes  []types.Change `json:"changes,omitempty"`
	Created  int            `json:"created"`
	Updated  int            `json:"updated"`
	Deleted  int            `json:"deleted"`
}

// ChangesApplied is the total number of observed mutations.
func (o *ReplaceOutcome) ChangesApplied() int {
	return o.Created + o.Updated + o.Deleted
}

// ReplaceFull swaps in a complete tree from the editor and returns the diff
// against the previous state. Total over well-formed input: instances with a
// parent id missing from the push are rooted rather than rejected, and
// malformed records are the only error source. The revision bumps once for
// the whole push, and only when something actually changed.
//
// The diff is path-keyed: a create for every path only in the new tree, a
// delete for every path only in the old, and property updates (deep compare
// over the Value union, missing-in-new surfaced as update-to-null) for paths
// in both. A rename therefore shows up as delete+create with the same id; id
// continuity is preserved because the arena is keyed by id, not path.
func (g *Graph) ReplaceFull(instances []*types.Instance) (*ReplaceOutcome, error) {
	next, err := buildState(instances)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	changes := diffStates(g.arena, g.idToPath, next)

	g.arena = next.arena
	g.pathToID = next.pathToID
	g.idToPath = next.idToPath
	g.rootIDs = next.rootIDs

	out := &ReplaceOutcome{Changes: changes}
	for _, c := range changes {
		switch c.Kind {
		case types.ChangeCreate:
			out.Created++
		case types.ChangeUpdate:
			out.Updated++
		case types.ChangeDelete:
			out.Deleted++
		}
	}
	if len(changes) > 0 {
		g.revision++
	}
	out.Revision = g.revision
	return out, nil
}

// builtState is a fully-indexed candidate tree, assembled off-lock.
type builtState struct {
	arena    map[string]*types.Instance
	pathToID map[string]string
	idToPath map[string][]string
	rootIDs  []string
}

// buildState assembles and indexes a candidate tree from a flat instance
// list. Child order follows input order. Sibling name collisions are
// resolved with the same _N suffix rule commands use, so the indexed tree
// always satisfies the unique-sibling-name invariant regardless of what the
// editor sent.
func buildState(instances []*types.Instance) (*builtState, error) {
	st := &builtState{
		arena:    make(map[string]*types.Instance, len(instances)),
		pathToID: make(map[string]string, len(instances)),
		idToPath: make(map[string][]string, len(instances)),
	}

	for i, in := range instances {
		if in == nil {
			return nil, fmt.Errorf("instance %d is null", i)
		}
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		if _, dup := st.arena[in.ID]; dup {
			return nil, fmt.Errorf("duplicate instance id %s", in.ID)
		}
		clone := in.Clone()
		clone.Children = nil // rebuilt from parent links below
		st.arena[in.ID] = clone
	}

	// Attach children in input order; unknown parents root the instance so
	// a partial push still indexes.
	for _, in := range instances {
		node := st.arena[in.ID]
		if node.ParentID == "" {
			st.rootIDs = append(st.rootIDs, in.ID)
			continue
		}
		parent, ok := st.arena[node.ParentID]
		if !ok {
			node.ParentID = ""
			st.rootIDs = append(st.rootIDs, in.ID)
			continue
		}
		parent.Children = append(parent.Children, in.ID)
	}

	// Index depth-first, deduplicating sibling names as we go.
	var walk func(id string, parentPath []string, taken map[string]bool)
	walk = func(id string, parentPath []string, taken map[string]bool) {
		node := st.arena[id]
		node.Name = uniqueName(node.Name, taken)
		taken[node.Name] = true

		path := append(append([]string(nil), parentPath...), node.Name)
		st.idToPath[id] = path
		st.pathToID[types.PathString(path)] = id

		childTaken := make(map[string]bool, len(node.Children))
		for _, childID := range node.Children {
			walk(childID, path, childTaken)
		}
	}
	rootTaken := make(map[string]bool, len(st.rootIDs))
	for _, rootID := range st.rootIDs {
		walk(rootID, nil, rootTaken)
	}

	return st, nil
}

// uniqueName returns base if free in taken, else the smallest base_N, N >= 2.
func uniqueName(base string, taken map[string]bool) string {
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

// diffStates computes the path-keyed diff between the current tree and a
// candidate. Identity or class changes at the same path surface as
// delete+create; in-place property differences surface as updates.
func diffStates(oldArena map[string]*types.Instance, oldIDToPath map[string][]string, next *builtState) []types.Change {
	oldPathToID := make(map[string]string, len(oldIDToPath))
	for id, path := range oldIDToPath {
		oldPathToID[types.PathString(path)] = id
	}

	var changes []types.Change

	// Deletes first, sorted by path for deterministic output.
	var deletedKeys []string
	for pathKey, oldID := range oldPathToID {
		newID, ok := next.pathToID[pathKey]
		if ok && newID == oldID && sameClass(oldArena[oldID], next.arena[newID]) {
			continue
		}
		deletedKeys = append(deletedKeys, pathKey)
	}
	sort.Strings(deletedKeys)
	for _, pathKey := range deletedKeys {
		oldID := oldPathToID[pathKey]
		changes = append(changes, types.Change{
			Kind: types.ChangeDelete,
			ID:   oldID,
			Path: append([]string(nil), oldIDToPath[oldID]...),
		})
	}

	// Creates and updates in traversal order (parents before children).
	var walk func(id string)
	walk = func(id string) {
		node := next.arena[id]
		path := next.idToPath[id]
		pathKey := types.PathString(path)

		oldID, existed := oldPathToID[pathKey]
		if !existed || oldID != id || !sameClass(oldArena[oldID], node) {
			changes = append(changes, types.Change{
				Kind:       types.ChangeCreate,
				ID:         id,
				Path:       append([]string(nil), path...),
				ClassName:  node.ClassName,
				Name:       node.Name,
				ParentID:   node.ParentID,
				Properties: node.Properties,
			})
		} else if diff := diffProperties(oldArena[oldID], node); len(diff) > 0 {
			changes = append(changes, types.Change{
				Kind:       types.ChangeUpdate,
				ID:         id,
				Path:       append([]string(nil), path...),
				Properties: diff,
			})
		}

		for _, childID := range node.Children {
			walk(childID)
		}
	}
	for _, rootID := range next.rootIDs {
		walk(rootID)
	}

	return changes
}

func sameClass(a, b *types.Instance) bool {
	return a != nil && b != nil && a.ClassName == b.ClassName
}

// diffProperties returns the properties whose values differ, deep-compared.
// A property present in old but absent in cur maps to explicit null.
func diffProperties(old, cur *types.Instance) map[string]types.Value {
	diff := make(map[string]types.Value)
	for name, nv := range cur.Properties {
		ov, had := old.Properties[name]
		if !had || !ov.Equal(nv) {
			diff[name] = nv
		}
	}
	for name := range old.Properties {
		if _, still := cur.Properties[name]; !still {
			diff[name] = types.NullValue()
		}
	}
	if len(diff) == 0 {
		return nil
	}
	return diff
}
