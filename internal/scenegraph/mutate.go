package scenegraph

import (
	"fmt"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// SetIDFunc overrides the generator used for ids of instances created on the
// agent path. Editor-created instances keep the ids the plugin assigned.
func (g *Graph) SetIDFunc(fn func() string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.newID = fn
}

// SetClock overrides the time source. Tests use this to drive the
// pending-change grace window deterministically.
func (g *Graph) SetClock(fn func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = fn
}

// MutationResult reports a committed agent mutation: the affected instance,
// its resolved path (after any name suffixing), the post-commit revision, and
// the normalized change record used for pending-change buffering and
// live-stream broadcast.
type MutationResult struct {
	Revision uint64       `json:"revision"`
	ID       string       `json:"id"`
	Path     []string     `json:"resolvedPath"`
	Name     string       `json:"resolvedName,omitempty"`
	Change   types.Change `json:"-"`
}

// ApplyCommand applies a single agent-path mutation, bumping the revision
// exactly once on success. Failures return a structured conflict and leave
// the graph untouched. Equivalent to a transaction of one.
func (g *Graph) ApplyCommand(change types.Change) (*MutationResult, *types.Conflict) {
	tx := g.Begin()
	res, conflict := tx.Apply(change)
	if conflict != nil {
		tx.Rollback()
		return nil, conflict
	}
	tx.Commit()
	return res, nil
}

// Tx is an open transactional batch. It holds the graph's write lock from
// Begin until Commit or Rollback, so the batch is invisible to readers until
// it commits as a single revision bump. Batch commands never block on I/O
// while the lock is held, so the critical section stays short.
type Tx struct {
	g       *Graph
	saved   *Snapshot
	applied []*MutationResult
	done    bool
}

// Begin opens a transactional batch. The caller must finish with exactly one
// of Commit or Rollback.
func (g *Graph) Begin() *Tx {
	g.mu.Lock()
	return &Tx{g: g, saved: g.snapshotLocked()}
}

// Apply runs one mutation inside the transaction. No revision bump happens
// until Commit. On conflict the transaction remains open; the caller decides
// whether to roll back.
func (tx *Tx) Apply(change types.Change) (*MutationResult, *types.Conflict) {
	if tx.done {
		return nil, types.NewValidationFailed("transaction already finished", nil, nil)
	}
	res, conflict := tx.g.applyStrictLocked(change)
	if conflict != nil {
		return nil, conflict
	}
	tx.applied = append(tx.applied, res)
	return res, nil
}

// ResolveID resolves a ref (id or path) against the in-transaction state.
// Used by the executor to compute lock sets for commands that depend on
// earlier commands in the same batch.
func (tx *Tx) ResolveID(id string, path []string) (string, []string, bool) {
	if tx.done {
		return "", nil, false
	}
	return tx.g.resolveRefLocked(id, path)
}

// Instance returns a deep copy of an instance as it exists inside the
// transaction, so later batch entries can validate against the effects of
// earlier ones.
func (tx *Tx) Instance(id string) (*types.Instance, bool) {
	if tx.done {
		return nil, false
	}
	in, ok := tx.g.arena[id]
	if !ok {
		return nil, false
	}
	return in.Clone(), true
}

// Revision returns the revision the transaction is based on.
func (tx *Tx) Revision() uint64 {
	return tx.saved.Revision
}

// Commit bumps the revision once for the whole batch, records pending
// changes for every applied mutation, and releases the write lock. Returns
// the committed revision.
func (tx *Tx) Commit() uint64 {
	if tx.done {
		return tx.g.revision
	}
	tx.done = true
	if len(tx.applied) > 0 {
		tx.g.revision++
		for _, res := range tx.applied {
			res.Revision = tx.g.revision
			tx.g.recordPendingLocked(res.Change)
		}
	}
	rev := tx.g.revision
	tx.g.mu.Unlock()
	return rev
}

// Rollback restores the entry snapshot and releases the write lock. No
// revision bump: nothing was committed, so nothing was observable.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.g.restoreLocked(tx.saved)
	tx.g.revision = tx.saved.Revision
	tx.g.mu.Unlock()
}

// Applied returns the results accumulated so far. Revisions are zero until
// Commit fills them in.
func (tx *Tx) Applied() []*MutationResult {
	return tx.applied
}

// applyStrictLocked dispatches one agent-path mutation. Strict: unresolvable
// refs and invalid payloads come back as conflicts, never partial state.
func (g *Graph) applyStrictLocked(change types.Change) (*MutationResult, *types.Conflict) {
	if err := change.Validate(); err != nil {
		return nil, types.NewValidationFailed(err.Error(), expectedOf(change), nil)
	}
	switch change.Kind {
	case types.ChangeCreate:
		return g.applyCreateLocked(change)
	case types.ChangeUpdate:
		return g.applyUpdateLocked(change)
	case types.ChangeDelete:
		return g.applyDeleteLocked(change)
	case types.ChangeReparent:
		return g.applyReparentLocked(change)
	}
	return nil, types.NewValidationFailed(fmt.Sprintf("unsupported change kind %q", change.Kind), expectedOf(change), nil)
}

// expectedOf builds the "expected" diagnostic block from the refs a change
// carries.
func expectedOf(change types.Change) map[string]any {
	expected := map[string]any{"op": string(change.Kind)}
	if change.ID != "" {
		expected["id"] = change.ID
	}
	if len(change.Path) > 0 {
		expected["path"] = change.Path
	}
	if change.ParentID != "" {
		expected["parentId"] = change.ParentID
	}
	if len(change.ParentPath) > 0 {
		expected["parentPath"] = change.ParentPath
	}
	if change.Name != "" {
		expected["name"] = change.Name
	}
	if change.ClassName != "" {
		expected["className"] = change.ClassName
	}
	return expected
}

// ResolveRef resolves an (id, path) ref against the live graph.
func (g *Graph) ResolveRef(id string, path []string) (string, []string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveRefLocked(id, path)
}

// resolveRefLocked maps an (id, path) ref to (id, currentPath). Id wins when
// both are supplied; the two forms share one resolution rule everywhere.
func (g *Graph) resolveRefLocked(id string, path []string) (string, []string, bool) {
	if id != "" {
		p, ok := g.idToPath[id]
		if !ok {
			return "", nil, false
		}
		return id, append([]string(nil), p...), true
	}
	if len(path) > 0 {
		resolved, ok := g.pathToID[types.PathString(path)]
		if !ok {
			return "", nil, false
		}
		return resolved, append([]string(nil), path...), true
	}
	return "", nil, false
}

func (g *Graph) applyCreateLocked(change types.Change) (*MutationResult, *types.Conflict) {
	if change.Name == "" && len(change.Path) > 0 {
		change.Name = change.Path[len(change.Path)-1]
	}
	if change.ParentID == "" && len(change.ParentPath) == 0 {
		return nil, types.NewValidationFailed("create requires a parent ref", expectedOf(change), nil)
	}
	parentID, parentPath, ok := g.resolveRefLocked(change.ParentID, change.ParentPath)
	if !ok {
		return nil, types.NewNotFound("parent not found", expectedOf(change))
	}
	if err := types.ValidateName(change.Name); err != nil {
		return nil, types.NewValidationFailed(err.Error(), expectedOf(change),
			map[string]any{"field": "name"})
	}
	for prop, v := range change.Properties {
		if err := v.Validate(); err != nil {
			return nil, types.NewValidationFailed(fmt.Sprintf("property %s: %v", prop, err),
				expectedOf(change), map[string]any{"field": prop})
		}
	}

	id := change.ID
	if id == "" {
		id = g.newID()
	}
	if _, exists := g.arena[id]; exists {
		return nil, types.NewValidationFailed(fmt.Sprintf("instance id %s already exists", id),
			expectedOf(change), map[string]any{"id": id})
	}

	name := g.uniqueSiblingNameLocked(parentID, change.Name, "")
	in := &types.Instance{
		ID:        id,
		ClassName: change.ClassName,
		Name:      name,
		ParentID:  parentID,
	}
	if len(change.Properties) > 0 {
		in.Properties = make(map[string]types.Value, len(change.Properties))
		for k, v := range change.Properties {
			if v.IsNullValue() {
				continue
			}
			in.Properties[k] = v.Clone()
		}
	}

	g.arena[id] = in
	parent := g.arena[parentID]
	parent.Children = append(parent.Children, id)
	g.reindexSubtreeLocked(id, parentPath)

	path := append(append([]string(nil), parentPath...), name)
	committed := change
	committed.ID = id
	committed.Name = name
	committed.Path = path
	committed.ParentID = parentID
	return &MutationResult{ID: id, Path: path, Name: name, Change: committed}, nil
}

func (g *Graph) applyUpdateLocked(change types.Change) (*MutationResult, *types.Conflict) {
	id, _, ok := g.resolveRefLocked(change.ID, change.Path)
	if !ok {
		return nil, types.NewNotFound("target not found", expectedOf(change))
	}
	in := g.arena[id]

	// Rename: the Name field travels on the same update record the editor
	// delta path uses.
	if change.Name != "" {
		return g.renameLocked(in, change)
	}

	props := change.Properties
	if props == nil {
		props = map[string]types.Value{}
	}
	if change.Property != "" {
		v := types.NullValue()
		if change.Value != nil {
			v = *change.Value
		}
		props = map[string]types.Value{change.Property: v}
	}
	for prop, v := range props {
		if err := v.Validate(); err != nil {
			return nil, types.NewValidationFailed(fmt.Sprintf("property %s: %v", prop, err),
				expectedOf(change), map[string]any{"field": prop})
		}
	}

	if in.Properties == nil {
		in.Properties = make(map[string]types.Value, len(props))
	}
	for prop, v := range props {
		if v.IsNullValue() {
			delete(in.Properties, prop)
			continue
		}
		in.Properties[prop] = v.Clone()
	}

	path := append([]string(nil), g.idToPath[id]...)
	committed := change
	committed.ID = id
	committed.Path = path
	committed.Properties = props
	committed.Property = ""
	committed.Value = nil
	return &MutationResult{ID: id, Path: path, Name: in.Name, Change: committed}, nil
}

func (g *Graph) renameLocked(in *types.Instance, change types.Change) (*MutationResult, *types.Conflict) {
	if err := types.ValidateName(change.Name); err != nil {
		return nil, types.NewValidationFailed(err.Error(), expectedOf(change),
			map[string]any{"field": "name"})
	}
	name := g.uniqueSiblingNameLocked(in.ParentID, change.Name, in.ID)
	if name == in.Name {
		// No-op rename still commits (revision accounting is the caller's).
		path := append([]string(nil), g.idToPath[in.ID]...)
		committed := change
		committed.ID = in.ID
		committed.Name = name
		committed.Path = path
		return &MutationResult{ID: in.ID, Path: path, Name: name, Change: committed}, nil
	}

	g.dropSubtreeIndexLocked(in.ID)
	in.Name = name
	parentPath := g.parentPathLocked(in.ParentID)
	g.reindexSubtreeLocked(in.ID, parentPath)

	path := append([]string(nil), g.idToPath[in.ID]...)
	committed := change
	committed.ID = in.ID
	committed.Name = name
	committed.Path = path
	return &MutationResult{ID: in.ID, Path: path, Name: name, Change: committed}, nil
}

func (g *Graph) applyDeleteLocked(change types.Change) (*MutationResult, *types.Conflict) {
	id, path, ok := g.resolveRefLocked(change.ID, change.Path)
	if !ok {
		return nil, types.NewNotFound("target not found", expectedOf(change))
	}
	in := g.arena[id]

	g.dropSubtreeIndexLocked(id)
	g.deleteSubtreeArenaLocked(id)

	if in.ParentID == "" {
		g.rootIDs = removeID(g.rootIDs, id)
	} else if parent, ok := g.arena[in.ParentID]; ok {
		parent.Children = removeID(parent.Children, id)
	}

	committed := change
	committed.ID = id
	committed.Path = path
	return &MutationResult{ID: id, Path: path, Name: in.Name, Change: committed}, nil
}

func (g *Graph) applyReparentLocked(change types.Change) (*MutationResult, *types.Conflict) {
	id, _, ok := g.resolveRefLocked(change.ID, change.Path)
	if !ok {
		return nil, types.NewNotFound("target not found", expectedOf(change))
	}
	parentID, parentPath, ok := g.resolveRefLocked(change.ParentID, change.ParentPath)
	if !ok {
		return nil, types.NewNotFound("new parent not found", expectedOf(change))
	}
	if parentID == id {
		return nil, types.NewValidationFailed("cannot reparent an instance under itself",
			expectedOf(change), map[string]any{"id": id})
	}
	// Walk up from the new parent; hitting the target would form a cycle.
	for cur := parentID; cur != ""; {
		in, ok := g.arena[cur]
		if !ok {
			break
		}
		if in.ParentID == id {
			return nil, types.NewValidationFailed("cannot reparent an instance under its own descendant",
				expectedOf(change), map[string]any{"id": id, "newParentId": parentID})
		}
		cur = in.ParentID
	}

	in := g.arena[id]
	if in.ParentID == parentID {
		path := append([]string(nil), g.idToPath[id]...)
		committed := change
		committed.ID = id
		committed.ParentID = parentID
		committed.Path = path
		return &MutationResult{ID: id, Path: path, Name: in.Name, Change: committed}, nil
	}

	g.dropSubtreeIndexLocked(id)
	if in.ParentID == "" {
		g.rootIDs = removeID(g.rootIDs, id)
	} else if oldParent, ok := g.arena[in.ParentID]; ok {
		oldParent.Children = removeID(oldParent.Children, id)
	}

	in.ParentID = parentID
	in.Name = g.uniqueSiblingNameLocked(parentID, in.Name, id)
	newParent := g.arena[parentID]
	newParent.Children = append(newParent.Children, id)
	g.reindexSubtreeLocked(id, parentPath)

	path := append([]string(nil), g.idToPath[id]...)
	committed := change
	committed.ID = id
	committed.ParentID = parentID
	committed.Name = in.Name
	committed.Path = path
	return &MutationResult{ID: id, Path: path, Name: in.Name, Change: committed}, nil
}

// deleteSubtreeArenaLocked removes id and all descendants from the arena.
// Index entries must already be dropped.
func (g *Graph) deleteSubtreeArenaLocked(id string) {
	in, ok := g.arena[id]
	if !ok {
		return
	}
	for _, childID := range in.Children {
		g.deleteSubtreeArenaLocked(childID)
	}
	delete(g.arena, id)
}

// parentPathLocked returns the path of a parent id, or nil for root level.
func (g *Graph) parentPathLocked(parentID string) []string {
	if parentID == "" {
		return nil
	}
	return g.idToPath[parentID]
}

func removeID(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// DeltaOutcome summarizes an editor delta batch. The editor path is lenient:
// changes that no longer resolve (the agent may have deleted the target a
// moment earlier) are skipped and counted, never fatal.
type DeltaOutcome struct {
	Revision uint64          `json:"revision"`
	Applied  int             `json:"applied"`
	Skipped  []SkippedChange `json:"skipped,omitempty"`
}

// SkippedChange names a delta entry that could not be applied and why.
type SkippedChange struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// ApplyDelta applies an ordered batch of editor mutations under one write
// lock and one revision bump. Editor-applied changes do not enter the
// pending buffer; the editor already has them.
func (g *Graph) ApplyDelta(changes []types.Change) *DeltaOutcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := &DeltaOutcome{}
	for i, change := range changes {
		if _, conflict := g.applyEditorChangeLocked(change); conflict != nil {
			out.Skipped = append(out.Skipped, SkippedChange{Index: i, Reason: conflict.Error()})
			continue
		}
		out.Applied++
	}
	if out.Applied > 0 {
		g.revision++
	}
	out.Revision = g.revision
	return out
}

// applyEditorChangeLocked is the editor-side twin of applyStrictLocked.
// Creates may address by path alone (parent derived from the path prefix),
// and a parentless create roots the instance, matching replaceFull's
// totality; everything else shares the strict core.
func (g *Graph) applyEditorChangeLocked(change types.Change) (*MutationResult, *types.Conflict) {
	if change.Kind == types.ChangeCreate && change.ParentID == "" && len(change.ParentPath) == 0 {
		if len(change.Path) > 1 {
			change.ParentPath = change.Path[:len(change.Path)-1]
			return g.applyStrictLocked(change)
		}
		return g.createRootLocked(change)
	}
	return g.applyStrictLocked(change)
}

// createRootLocked inserts a root-level instance (service). Editor-only:
// agents must always supply a parent.
func (g *Graph) createRootLocked(change types.Change) (*MutationResult, *types.Conflict) {
	if change.Name == "" && len(change.Path) == 1 {
		change.Name = change.Path[0]
	}
	if err := types.ValidateName(change.Name); err != nil {
		return nil, types.NewValidationFailed(err.Error(), expectedOf(change),
			map[string]any{"field": "name"})
	}
	id := change.ID
	if id == "" {
		id = g.newID()
	}
	if _, exists := g.arena[id]; exists {
		return nil, types.NewValidationFailed(fmt.Sprintf("instance id %s already exists", id),
			expectedOf(change), map[string]any{"id": id})
	}
	name := g.uniqueSiblingNameLocked("", change.Name, "")
	in := &types.Instance{ID: id, ClassName: change.ClassName, Name: name}
	if len(change.Properties) > 0 {
		in.Properties = make(map[string]types.Value, len(change.Properties))
		for k, v := range change.Properties {
			if v.IsNullValue() {
				continue
			}
			in.Properties[k] = v.Clone()
		}
	}
	g.arena[id] = in
	g.rootIDs = append(g.rootIDs, id)
	g.reindexSubtreeLocked(id, nil)

	committed := change
	committed.ID = id
	committed.Name = name
	committed.Path = []string{name}
	return &MutationResult{ID: id, Path: []string{name}, Name: name, Change: committed}, nil
}
