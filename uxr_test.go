package uxr_test

import (
	"testing"

	uxr "github.com/UXPLIMA/uxrcoder-hub"
)

func TestNewGraph(t *testing.T) {
	g := uxr.NewGraph()
	if g == nil {
		t.Fatal("expected non-nil graph")
	}
	if g.Revision() != 0 {
		t.Errorf("fresh graph revision = %d, want 0", g.Revision())
	}
	if g.Len() != 0 {
		t.Errorf("fresh graph len = %d, want 0", g.Len())
	}
}

func TestGraphMutationThroughAlias(t *testing.T) {
	g := uxr.NewGraph()

	// Seed a root service the way the editor plugin does, then mutate under
	// it through the agent command path.
	if _, err := g.ReplaceFull([]*uxr.Instance{
		{ID: "uxi-root", ClassName: "Workspace", Name: "Workspace"},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	res, conflict := g.ApplyCommand(uxr.Change{
		Kind:      uxr.ChangeCreate,
		ClassName: "Folder",
		Name:      "Props",
		ParentID:  "uxi-root",
	})
	if conflict != nil {
		t.Fatalf("create failed: %v", conflict)
	}
	if res.Name != "Props" {
		t.Fatalf("resolved name = %q, want Props", res.Name)
	}
	if got, ok := g.GetInstanceByPath([]string{"Workspace", "Props"}); !ok || got.ClassName != "Folder" {
		t.Errorf("created instance not resolvable by path (ok=%v, got=%+v)", ok, got)
	}

	_, conflict = g.ApplyCommand(uxr.Change{Kind: uxr.ChangeDelete, ID: "uxi-missing"})
	if conflict == nil || conflict.Reason != uxr.ReasonNotFound {
		t.Errorf("expected not_found conflict, got %+v", conflict)
	}
}

// Exported constants must match the wire spellings handlers emit.
func TestConstants(t *testing.T) {
	if uxr.ChangeCreate != "create" {
		t.Errorf("ChangeCreate = %q, want %q", uxr.ChangeCreate, "create")
	}
	if uxr.ChangeReparent != "reparent" {
		t.Errorf("ChangeReparent = %q, want %q", uxr.ChangeReparent, "reparent")
	}
	if uxr.ReasonRevisionMismatch != "revision_mismatch" {
		t.Errorf("ReasonRevisionMismatch = %q, want %q", uxr.ReasonRevisionMismatch, "revision_mismatch")
	}
	if uxr.RunDispatching != "dispatching" {
		t.Errorf("RunDispatching = %q, want %q", uxr.RunDispatching, "dispatching")
	}
	if uxr.RunPassed != "passed" {
		t.Errorf("RunPassed = %q, want %q", uxr.RunPassed, "passed")
	}
}
