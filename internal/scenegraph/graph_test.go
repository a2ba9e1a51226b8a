package scenegraph

import (
	"fmt"
	"testing"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// seedGraph builds a graph with the canonical two-service tree used across
// these tests:
//
//	Workspace (Folder)
//	  Base (Part)  [Transparency=0.5]
//	ReplicatedStorage (Folder)
func seedGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	seq := 0
	g.SetIDFunc(func() string {
		seq++
		return fmt.Sprintf("gen-%d", seq)
	})

	out, err := g.ReplaceFull([]*types.Instance{
		{ID: "ws", ClassName: "Workspace", Name: "Workspace"},
		{ID: "base", ClassName: "Part", Name: "Base", ParentID: "ws",
			Properties: map[string]types.Value{"Transparency": types.NumberValue(0.5)}},
		{ID: "rs", ClassName: "ReplicatedStorage", Name: "ReplicatedStorage"},
	})
	if err != nil {
		t.Fatalf("seed ReplaceFull failed: %v", err)
	}
	if out.Created != 3 {
		t.Fatalf("seed expected 3 creates, got %d", out.Created)
	}
	return g
}

func mustApply(t *testing.T, g *Graph, change types.Change) *MutationResult {
	t.Helper()
	res, conflict := g.ApplyCommand(change)
	if conflict != nil {
		t.Fatalf("ApplyCommand(%s) failed: %v", change.Kind, conflict)
	}
	return res
}

func pathOf(t *testing.T, g *Graph, id string) string {
	t.Helper()
	path, ok := g.GetPathByID(id)
	if !ok {
		t.Fatalf("no path for id %s", id)
	}
	return types.PathString(path)
}

func TestReplaceFullRoundTrip(t *testing.T) {
	g := seedGraph(t)

	listing := g.IndexedInstances()
	if len(listing) != 3 {
		t.Fatalf("expected 3 indexed instances, got %d", len(listing))
	}

	// Parent-before-child, siblings in push order.
	wantPaths := []string{"Workspace", "Workspace.Base", "ReplicatedStorage"}
	for i, row := range listing {
		if got := types.PathString(row.Path); got != wantPaths[i] {
			t.Errorf("listing[%d] path = %q, want %q", i, got, wantPaths[i])
		}
	}

	base, ok := g.GetInstanceByPath([]string{"Workspace", "Base"})
	if !ok {
		t.Fatal("Workspace.Base not found")
	}
	if v := base.Properties["Transparency"]; !v.Equal(types.NumberValue(0.5)) {
		t.Errorf("Transparency = %+v, want 0.5", v)
	}
}

func TestReplaceFullDiff(t *testing.T) {
	g := seedGraph(t)
	rev := g.Revision()

	// Second push: Base's Transparency changes, a new Part appears, the
	// ReplicatedStorage service disappears.
	out, err := g.ReplaceFull([]*types.Instance{
		{ID: "ws", ClassName: "Workspace", Name: "Workspace"},
		{ID: "base", ClassName: "Part", Name: "Base", ParentID: "ws",
			Properties: map[string]types.Value{"Transparency": types.NumberValue(1)}},
		{ID: "spawn", ClassName: "SpawnLocation", Name: "Spawn", ParentID: "ws"},
	})
	if err != nil {
		t.Fatalf("ReplaceFull: %v", err)
	}

	if out.Created != 1 || out.Updated != 1 || out.Deleted != 1 {
		t.Errorf("diff counts = %d/%d/%d (c/u/d), want 1/1/1", out.Created, out.Updated, out.Deleted)
	}
	if out.Revision != rev+1 {
		t.Errorf("revision = %d, want %d (one bump per push)", out.Revision, rev+1)
	}

	kinds := map[types.ChangeKind]types.Change{}
	for _, c := range out.Changes {
		kinds[c.Kind] = c
	}
	if c := kinds[types.ChangeCreate]; c.ID != "spawn" {
		t.Errorf("create change targets %q, want spawn", c.ID)
	}
	if c := kinds[types.ChangeDelete]; c.ID != "rs" {
		t.Errorf("delete change targets %q, want rs", c.ID)
	}
	if c := kinds[types.ChangeUpdate]; !c.Properties["Transparency"].Equal(types.NumberValue(1)) {
		t.Errorf("update change Transparency = %+v, want 1", c.Properties["Transparency"])
	}
}

func TestReplaceFullMissingPropertyBecomesNull(t *testing.T) {
	g := seedGraph(t)

	out, err := g.ReplaceFull([]*types.Instance{
		{ID: "ws", ClassName: "Workspace", Name: "Workspace"},
		{ID: "base", ClassName: "Part", Name: "Base", ParentID: "ws"}, // Transparency gone
		{ID: "rs", ClassName: "ReplicatedStorage", Name: "ReplicatedStorage"},
	})
	if err != nil {
		t.Fatalf("ReplaceFull: %v", err)
	}
	if out.Updated != 1 {
		t.Fatalf("expected 1 update, got %d (changes: %+v)", out.Updated, out.Changes)
	}
	var upd types.Change
	for _, c := range out.Changes {
		if c.Kind == types.ChangeUpdate {
			upd = c
		}
	}
	v, ok := upd.Properties["Transparency"]
	if !ok || !v.IsNullValue() {
		t.Errorf("missing property should surface as update-to-null, got %+v", upd.Properties)
	}
}

func TestReplaceFullRenameIsDeleteCreateWithSameID(t *testing.T) {
	g := seedGraph(t)

	out, err := g.ReplaceFull([]*types.Instance{
		{ID: "ws", ClassName: "Workspace", Name: "Workspace"},
		{ID: "base", ClassName: "Part", Name: "Floor", ParentID: "ws",
			Properties: map[string]types.Value{"Transparency": types.NumberValue(0.5)}},
		{ID: "rs", ClassName: "ReplicatedStorage", Name: "ReplicatedStorage"},
	})
	if err != nil {
		t.Fatalf("ReplaceFull: %v", err)
	}

	var del, cre *types.Change
	for i := range out.Changes {
		switch out.Changes[i].Kind {
		case types.ChangeDelete:
			del = &out.Changes[i]
		case types.ChangeCreate:
			cre = &out.Changes[i]
		}
	}
	if del == nil || cre == nil {
		t.Fatalf("rename should diff as delete+create, got %+v", out.Changes)
	}
	if del.ID != cre.ID || del.ID != "base" {
		t.Errorf("delete id %q / create id %q, want both \"base\"", del.ID, cre.ID)
	}
	if types.PathString(del.Path) != "Workspace.Base" || types.PathString(cre.Path) != "Workspace.Floor" {
		t.Errorf("paths = %q -> %q, want Workspace.Base -> Workspace.Floor",
			types.PathString(del.Path), types.PathString(cre.Path))
	}
	// Id continuity: same id still resolves, at the new path.
	if got := pathOf(t, g, "base"); got != "Workspace.Floor" {
		t.Errorf("id \"base\" now at %q, want Workspace.Floor", got)
	}
}

func TestReplaceFullNoChangesNoBump(t *testing.T) {
	g := seedGraph(t)
	rev := g.Revision()

	out, err := g.ReplaceFull([]*types.Instance{
		{ID: "ws", ClassName: "Workspace", Name: "Workspace"},
		{ID: "base", ClassName: "Part", Name: "Base", ParentID: "ws",
			Properties: map[string]types.Value{"Transparency": types.NumberValue(0.5)}},
		{ID: "rs", ClassName: "ReplicatedStorage", Name: "ReplicatedStorage"},
	})
	if err != nil {
		t.Fatalf("ReplaceFull: %v", err)
	}
	if out.ChangesApplied() != 0 {
		t.Errorf("identical push produced %d changes", out.ChangesApplied())
	}
	if g.Revision() != rev {
		t.Errorf("identical push bumped revision %d -> %d", rev, g.Revision())
	}
}

func TestApplyCommandCreate(t *testing.T) {
	g := seedGraph(t)
	rev := g.Revision()

	res := mustApply(t, g, types.Change{
		Kind:       types.ChangeCreate,
		ParentPath: []string{"ReplicatedStorage"},
		ClassName:  "Folder",
		Name:       "Gameplay",
	})

	if res.Revision != rev+1 {
		t.Errorf("revision = %d, want %d", res.Revision, rev+1)
	}
	if types.PathString(res.Path) != "ReplicatedStorage.Gameplay" {
		t.Errorf("resolved path = %q", types.PathString(res.Path))
	}
	if res.ID == "" {
		t.Error("create did not assign an id")
	}
	if _, ok := g.GetInstanceByPath([]string{"ReplicatedStorage", "Gameplay"}); !ok {
		t.Error("created instance not indexed by path")
	}
}

func TestCreateNameCollisionSuffixes(t *testing.T) {
	g := seedGraph(t)

	first := mustApply(t, g, types.Change{
		Kind: types.ChangeCreate, ParentPath: []string{"ReplicatedStorage"},
		ClassName: "Folder", Name: "Gameplay",
	})
	second := mustApply(t, g, types.Change{
		Kind: types.ChangeCreate, ParentPath: []string{"ReplicatedStorage"},
		ClassName: "Folder", Name: "Gameplay",
	})
	third := mustApply(t, g, types.Change{
		Kind: types.ChangeCreate, ParentPath: []string{"ReplicatedStorage"},
		ClassName: "Folder", Name: "Gameplay",
	})

	if first.Name != "Gameplay" || second.Name != "Gameplay_2" || third.Name != "Gameplay_3" {
		t.Errorf("suffix sequence = %q, %q, %q; want Gameplay, Gameplay_2, Gameplay_3",
			first.Name, second.Name, third.Name)
	}

	// Freeing _2 makes it the smallest available again.
	mustApply(t, g, types.Change{Kind: types.ChangeDelete, ID: second.ID})
	fourth := mustApply(t, g, types.Change{
		Kind: types.ChangeCreate, ParentPath: []string{"ReplicatedStorage"},
		ClassName: "Folder", Name: "Gameplay",
	})
	if fourth.Name != "Gameplay_2" {
		t.Errorf("after freeing _2, new sibling named %q, want Gameplay_2", fourth.Name)
	}
}

func TestCreateThenDeleteRevisionAndCount(t *testing.T) {
	g := seedGraph(t)
	rev := g.Revision()
	count := g.Len()

	res := mustApply(t, g, types.Change{
		Kind: types.ChangeCreate, ParentPath: []string{"ReplicatedStorage"},
		ClassName: "Folder", Name: "Temp",
	})
	mustApply(t, g, types.Change{Kind: types.ChangeDelete, ID: res.ID})

	if g.Revision() != rev+2 {
		t.Errorf("revision = %d, want %d (+2)", g.Revision(), rev+2)
	}
	if g.Len() != count {
		t.Errorf("instance count = %d, want %d", g.Len(), count)
	}
}

func TestUpdateProperty(t *testing.T) {
	g := seedGraph(t)

	v := types.NumberValue(0.25)
	mustApply(t, g, types.Change{
		Kind: types.ChangeUpdate, Path: []string{"Workspace", "Base"},
		Property: "Transparency", Value: &v,
	})

	base, _ := g.GetInstanceByPath([]string{"Workspace", "Base"})
	if got := base.Properties["Transparency"]; !got.Equal(v) {
		t.Errorf("Transparency = %+v, want 0.25", got)
	}

	// Explicit null removes the property.
	null := types.NullValue()
	mustApply(t, g, types.Change{
		Kind: types.ChangeUpdate, ID: "base",
		Property: "Transparency", Value: &null,
	})
	base, _ = g.GetInstanceByID("base")
	if _, still := base.Properties["Transparency"]; still {
		t.Error("null update should remove the property")
	}
}

func TestRenameReindexesDescendants(t *testing.T) {
	g := seedGraph(t)

	child := mustApply(t, g, types.Change{
		Kind: types.ChangeCreate, ParentID: "base",
		ClassName: "Attachment", Name: "Anchor",
	})

	mustApply(t, g, types.Change{
		Kind: types.ChangeUpdate, ID: "base", Name: "Floor",
	})

	if got := pathOf(t, g, "base"); got != "Workspace.Floor" {
		t.Errorf("renamed path = %q", got)
	}
	if got := pathOf(t, g, child.ID); got != "Workspace.Floor.Anchor" {
		t.Errorf("descendant path = %q, want Workspace.Floor.Anchor", got)
	}
	if _, stale := g.GetInstanceByPath([]string{"Workspace", "Base"}); stale {
		t.Error("old path still resolves after rename")
	}
}

func TestReparent(t *testing.T) {
	g := seedGraph(t)

	mustApply(t, g, types.Change{
		Kind: types.ChangeReparent, ID: "base", ParentPath: []string{"ReplicatedStorage"},
	})

	if got := pathOf(t, g, "base"); got != "ReplicatedStorage.Base" {
		t.Errorf("reparented path = %q", got)
	}
	ws, _ := g.GetInstanceByID("ws")
	if len(ws.Children) != 0 {
		t.Errorf("old parent still lists children: %v", ws.Children)
	}
	rs, _ := g.GetInstanceByID("rs")
	if len(rs.Children) != 1 || rs.Children[0] != "base" {
		t.Errorf("new parent children = %v", rs.Children)
	}
}

func TestReparentCycleRejected(t *testing.T) {
	g := seedGraph(t)
	child := mustApply(t, g, types.Change{
		Kind: types.ChangeCreate, ParentID: "base", ClassName: "Folder", Name: "Inner",
	})

	_, conflict := g.ApplyCommand(types.Change{
		Kind: types.ChangeReparent, ID: "base", ParentID: child.ID,
	})
	if conflict == nil || conflict.Reason != types.ReasonValidationFailed {
		t.Fatalf("reparent under own descendant: conflict = %+v, want validation_failed", conflict)
	}

	_, conflict = g.ApplyCommand(types.Change{
		Kind: types.ChangeReparent, ID: "base", ParentID: "base",
	})
	if conflict == nil || conflict.Reason != types.ReasonValidationFailed {
		t.Fatalf("reparent under self: conflict = %+v, want validation_failed", conflict)
	}
}

func TestDeleteCascades(t *testing.T) {
	g := seedGraph(t)
	child := mustApply(t, g, types.Change{
		Kind: types.ChangeCreate, ParentID: "base", ClassName: "Folder", Name: "Inner",
	})

	mustApply(t, g, types.Change{Kind: types.ChangeDelete, ID: "base"})

	if _, ok := g.GetInstanceByID("base"); ok {
		t.Error("deleted instance still in arena")
	}
	if _, ok := g.GetInstanceByID(child.ID); ok {
		t.Error("descendant survived cascade delete")
	}
	if _, ok := g.GetPathByID(child.ID); ok {
		t.Error("descendant path survived cascade delete")
	}
}

func TestCommandConflicts(t *testing.T) {
	g := seedGraph(t)

	tests := []struct {
		name   string
		change types.Change
		reason types.ConflictReason
	}{
		{"missing target", types.Change{Kind: types.ChangeDelete, Path: []string{"Nope"}}, types.ReasonNotFound},
		{"missing parent", types.Change{Kind: types.ChangeCreate, ParentPath: []string{"Nope"}, ClassName: "Folder", Name: "X"}, types.ReasonNotFound},
		{"dotted name", types.Change{Kind: types.ChangeCreate, ParentID: "ws", ClassName: "Folder", Name: "a.b"}, types.ReasonValidationFailed},
		{"empty create name", types.Change{Kind: types.ChangeCreate, ParentID: "ws", ClassName: "Folder"}, types.ReasonValidationFailed},
		{"agent root create", types.Change{Kind: types.ChangeCreate, ClassName: "Folder", Name: "Loose", Path: []string{"Loose"}}, types.ReasonValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev := g.Revision()
			_, conflict := g.ApplyCommand(tt.change)
			if conflict == nil {
				t.Fatal("expected a conflict")
			}
			if conflict.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", conflict.Reason, tt.reason)
			}
			if g.Revision() != rev {
				t.Errorf("failed command bumped revision %d -> %d", rev, g.Revision())
			}
		})
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	g := seedGraph(t)
	before := g.IndexedInstances()
	snap := g.CreateSnapshot()

	mustApply(t, g, types.Change{
		Kind: types.ChangeCreate, ParentID: "ws", ClassName: "Folder", Name: "Scratch",
	})
	v := types.NumberValue(0)
	mustApply(t, g, types.Change{
		Kind: types.ChangeUpdate, ID: "base", Property: "Transparency", Value: &v,
	})

	g.RestoreSnapshot(snap)

	after := g.IndexedInstances()
	if len(after) != len(before) {
		t.Fatalf("listing length %d after restore, want %d", len(after), len(before))
	}
	for i := range before {
		if types.PathString(before[i].Path) != types.PathString(after[i].Path) {
			t.Errorf("row %d path %q != %q", i, types.PathString(after[i].Path), types.PathString(before[i].Path))
		}
		bp := before[i].Instance.Properties
		ap := after[i].Instance.Properties
		if len(bp) != len(ap) {
			t.Errorf("row %d property count %d != %d", i, len(ap), len(bp))
			continue
		}
		for name, bv := range bp {
			if av, ok := ap[name]; !ok || !av.Equal(bv) {
				t.Errorf("row %d property %s = %+v, want %+v", i, name, av, bv)
			}
		}
	}
}

func TestTransactionCommitSingleBump(t *testing.T) {
	g := seedGraph(t)
	rev := g.Revision()

	tx := g.Begin()
	if _, conflict := tx.Apply(types.Change{
		Kind: types.ChangeCreate, ParentID: "ws", ClassName: "Folder", Name: "A",
	}); conflict != nil {
		tx.Rollback()
		t.Fatalf("tx apply 1: %v", conflict)
	}
	if _, conflict := tx.Apply(types.Change{
		Kind: types.ChangeCreate, ParentPath: []string{"Workspace", "A"}, ClassName: "Folder", Name: "B",
	}); conflict != nil {
		tx.Rollback()
		t.Fatalf("tx apply 2: %v", conflict)
	}
	committed := tx.Commit()

	if committed != rev+1 {
		t.Errorf("transactional batch committed revision %d, want %d (single bump)", committed, rev+1)
	}
	if _, ok := g.GetInstanceByPath([]string{"Workspace", "A", "B"}); !ok {
		t.Error("intra-batch dependent create not visible after commit")
	}
}

func TestTransactionRollback(t *testing.T) {
	g := seedGraph(t)
	rev := g.Revision()
	count := g.Len()

	tx := g.Begin()
	if _, conflict := tx.Apply(types.Change{
		Kind: types.ChangeCreate, ParentID: "ws", ClassName: "Folder", Name: "A",
	}); conflict != nil {
		tx.Rollback()
		t.Fatalf("tx apply: %v", conflict)
	}
	// A later command failed; the caller rolls the whole batch back.
	tx.Rollback()

	if g.Revision() != rev {
		t.Errorf("revision after rollback = %d, want %d", g.Revision(), rev)
	}
	if g.Len() != count {
		t.Errorf("instance count after rollback = %d, want %d", g.Len(), count)
	}
	if _, ok := g.GetInstanceByPath([]string{"Workspace", "A"}); ok {
		t.Error("rolled-back create still resolves")
	}
}

func TestApplyDeltaLenient(t *testing.T) {
	g := seedGraph(t)
	rev := g.Revision()

	v := types.NumberValue(1)
	out := g.ApplyDelta([]types.Change{
		{Kind: types.ChangeUpdate, ID: "base", Property: "Transparency", Value: &v},
		{Kind: types.ChangeDelete, ID: "ghost"}, // unknown id: skipped, not fatal
		{Kind: types.ChangeCreate, ID: "svc", ClassName: "Lighting", Name: "Lighting"}, // editor root create
	})

	if out.Applied != 2 {
		t.Errorf("applied = %d, want 2", out.Applied)
	}
	if len(out.Skipped) != 1 || out.Skipped[0].Index != 1 {
		t.Errorf("skipped = %+v, want index 1", out.Skipped)
	}
	if out.Revision != rev+1 {
		t.Errorf("delta batch revision = %d, want %d (one bump per batch)", out.Revision, rev+1)
	}
	if _, ok := g.GetInstanceByPath([]string{"Lighting"}); !ok {
		t.Error("editor root create not applied")
	}

	// Editor deltas never enter the pending buffer.
	if un, _ := g.PendingCount(); un != 0 {
		t.Errorf("editor delta produced %d pending changes", un)
	}
}

func TestPendingChangeLifecycle(t *testing.T) {
	g := seedGraph(t)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	mustApply(t, g, types.Change{
		Kind: types.ChangeCreate, ParentID: "ws", ClassName: "Folder", Name: "FromAgent",
	})

	first := g.PendingChangesForPlugin()
	if len(first) != 1 {
		t.Fatalf("pending deliveries = %d, want 1", len(first))
	}
	if first[0].Redelivered {
		t.Error("first delivery flagged redelivered")
	}

	// Unconfirmed entries re-deliver with the flag set: a failed push must
	// not lose the mutation.
	second := g.PendingChangesForPlugin()
	if len(second) != 1 || !second[0].Redelivered {
		t.Errorf("second delivery = %+v, want redelivered=true", second)
	}

	confirmed, unknown := g.ConfirmChanges([]string{first[0].ID, "chg-bogus"})
	if confirmed != 1 || unknown != 1 {
		t.Errorf("confirm = (%d, %d), want (1, 1)", confirmed, unknown)
	}
	if got := g.PendingChangesForPlugin(); len(got) != 0 {
		t.Errorf("confirmed change still delivered: %+v", got)
	}

	// Confirmed entries survive within the grace window, then GC.
	if _, conf := g.PendingCount(); conf != 1 {
		t.Errorf("confirmed-in-grace count = %d, want 1", conf)
	}
	now = now.Add(types.PendingGracePeriod + time.Second)
	if un, conf := g.PendingCount(); un != 0 || conf != 0 {
		t.Errorf("after grace: pending = (%d, %d), want (0, 0)", un, conf)
	}
}

func TestRevisionMonotoneAcrossMixedWriters(t *testing.T) {
	g := seedGraph(t)
	last := g.Revision()

	check := func(label string) {
		t.Helper()
		cur := g.Revision()
		if cur <= last {
			t.Fatalf("%s: revision %d not greater than %d", label, cur, last)
		}
		last = cur
	}

	mustApply(t, g, types.Change{Kind: types.ChangeCreate, ParentID: "ws", ClassName: "Folder", Name: "A"})
	check("command")

	v := types.NumberValue(0.75)
	g.ApplyDelta([]types.Change{{Kind: types.ChangeUpdate, ID: "base", Property: "Transparency", Value: &v}})
	check("delta")

	if _, err := g.ReplaceFull([]*types.Instance{
		{ID: "ws", ClassName: "Workspace", Name: "Workspace"},
	}); err != nil {
		t.Fatalf("ReplaceFull: %v", err)
	}
	check("replaceFull")
}
