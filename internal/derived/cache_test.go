package derived

import (
	"testing"

	"github.com/UXPLIMA/uxrcoder-hub/internal/scenegraph"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

func seedGraph(t *testing.T) *scenegraph.Graph {
	t.Helper()
	g := scenegraph.New()
	out := g.ApplyDelta([]types.Change{
		{Kind: types.ChangeCreate, ID: "ws", Path: []string{"Workspace"}, ClassName: "Workspace", Name: "Workspace"},
		{Kind: types.ChangeCreate, ID: "p1", ParentID: "ws", ClassName: "Part", Name: "Alpha",
			Properties: map[string]types.Value{"Transparency": types.NumberValue(0.25)}},
		{Kind: types.ChangeCreate, ID: "p2", ParentID: "ws", ClassName: "Part", Name: "Beta"},
		{Kind: types.ChangeCreate, ID: "f1", ParentID: "ws", ClassName: "Folder", Name: "Stuff"},
	})
	if len(out.Skipped) != 0 {
		t.Fatalf("seed skipped: %+v", out.Skipped)
	}
	return g
}

func TestSnapshotMemoization(t *testing.T) {
	g := seedGraph(t)
	c := New(g)

	s1 := c.Snapshot("")
	s2 := c.Snapshot("")
	if s1 != s2 {
		t.Error("same-revision snapshots not memoized")
	}
	if s1.Count != 4 || len(s1.Instances) != 4 {
		t.Errorf("count = %d, instances = %d", s1.Count, len(s1.Instances))
	}
	if s1.Revision != g.Revision() {
		t.Errorf("revision = %d, want %d", s1.Revision, g.Revision())
	}
	if c.Stats().SnapshotBuilds != 1 {
		t.Errorf("snapshotBuilds = %d, want 1", c.Stats().SnapshotBuilds)
	}

	// Class filters memoize independently.
	parts := c.Snapshot("Part")
	if parts.Count != 2 {
		t.Errorf("Part count = %d, want 2", parts.Count)
	}
	if c.Stats().SnapshotEntries != 2 {
		t.Errorf("snapshotEntries = %d, want 2", c.Stats().SnapshotEntries)
	}
}

func TestSnapshotPayloadShape(t *testing.T) {
	g := seedGraph(t)
	c := New(g)

	s := c.Snapshot("")
	byID := map[string]InstancePayload{}
	for _, in := range s.Instances {
		byID[in.ID] = in
	}
	alpha := byID["p1"]
	if alpha.PathString != "Workspace.Alpha" {
		t.Errorf("pathString = %q", alpha.PathString)
	}
	if alpha.ParentID != "ws" {
		t.Errorf("parentId = %q", alpha.ParentID)
	}
	if v, ok := alpha.Properties["Transparency"]; !ok || v.Num != 0.25 {
		t.Errorf("properties = %+v", alpha.Properties)
	}
	if len(byID["ws"].ChildIDs) != 3 {
		t.Errorf("root childIds = %v", byID["ws"].ChildIDs)
	}
}

func TestInvalidationOnRevisionChange(t *testing.T) {
	g := seedGraph(t)
	c := New(g)

	before := c.Snapshot("")
	if _, conflict := g.ApplyCommand(types.Change{
		Kind: types.ChangeUpdate, ID: "p1", Property: "Transparency",
		Value: func() *types.Value { v := types.NumberValue(0.9); return &v }(),
	}); conflict != nil {
		t.Fatalf("mutation: %+v", conflict)
	}

	after := c.Snapshot("")
	if after == before {
		t.Error("snapshot not invalidated by revision change")
	}
	if after.Revision != g.Revision() {
		t.Errorf("revision = %d, want %d", after.Revision, g.Revision())
	}

	st := c.Stats()
	if st.Invalidations != 2 { // initial build + post-mutation rebuild
		t.Errorf("invalidations = %d, want 2", st.Invalidations)
	}
}

func TestSchemasMemoized(t *testing.T) {
	g := seedGraph(t)
	c := New(g)

	s1 := c.Schemas()
	s2 := c.Schemas()
	if c.Stats().SchemaBuilds != 1 {
		t.Errorf("schemaBuilds = %d, want 1", c.Stats().SchemaBuilds)
	}
	if len(s1) != 3 { // Workspace, Part, Folder
		t.Errorf("classes = %d: %v", len(s1), classNames(s1))
	}
	if s1["Part"] != s2["Part"] {
		t.Error("schema map rebuilt at same revision")
	}
	if c.Schema("Part") == nil {
		t.Error("Schema(Part) = nil")
	}
	if c.Schema("Nonexistent") != nil {
		t.Error("Schema(Nonexistent) != nil")
	}

	// Transparency envelope observed from the single Part carrying it.
	ps := s1["Part"].Properties["Transparency"]
	if ps == nil || ps.Kind != types.KindPrimitive {
		t.Fatalf("Transparency schema = %+v", ps)
	}
}

func TestListingRevision(t *testing.T) {
	g := seedGraph(t)
	c := New(g)

	rev, listing := c.Listing()
	if rev != g.Revision() {
		t.Errorf("rev = %d, want %d", rev, g.Revision())
	}
	if len(listing) != 4 {
		t.Errorf("listing = %d rows", len(listing))
	}
	// Depth-first order puts the root first.
	if listing[0].Instance.ID != "ws" {
		t.Errorf("first row = %s", listing[0].Instance.ID)
	}
}

func classNames[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
