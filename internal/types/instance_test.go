package types

import (
	"math"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"simple", "Workspace", ""},
		{"spaces allowed", "Spawn Point", ""},
		{"unicode allowed", "Überteil", ""},
		{"max length ok", strings.Repeat("a", MaxNameLength), ""},
		{"empty", "", "must not be empty"},
		{"too long", strings.Repeat("a", MaxNameLength+1), "characters or less"},
		{"dot rejected", "Folder.Part", "must not contain"},
		{"leading dot rejected", ".hidden", "must not contain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateName(%q) = %v, want nil", tt.input, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ValidateName(%q) = %v, want error containing %q", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestInstanceValidate(t *testing.T) {
	valid := func() *Instance {
		return &Instance{
			ID:        "uxi-a1",
			ClassName: "Part",
			Name:      "SpawnPad",
			ParentID:  "uxi-root",
			Properties: map[string]Value{
				"Anchored": BoolValue(true),
				"Size":     Vector3Value(4, 1, 4),
			},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid instance rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Instance)
	}{
		{"missing id", func(in *Instance) { in.ID = "" }},
		{"missing class", func(in *Instance) { in.ClassName = "" }},
		{"empty name", func(in *Instance) { in.Name = "" }},
		{"dotted name", func(in *Instance) { in.Name = "a.b" }},
		{"non-finite property", func(in *Instance) { in.Properties["Mass"] = NumberValue(math.NaN()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(in)
			if err := in.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestInstanceClone(t *testing.T) {
	orig := &Instance{
		ID:        "uxi-a1",
		ClassName: "Model",
		Name:      "Rig",
		Properties: map[string]Value{
			"Pivot": Vector3Value(0, 5, 0),
		},
		Children: []string{"uxi-b2", "uxi-c3"},
	}

	c := orig.Clone()
	c.Name = "Renamed"
	c.Properties["Pivot"].Struct.Components["y"] = 99
	c.Properties["Extra"] = BoolValue(true)
	c.Children[0] = "uxi-z9"

	if orig.Name != "Rig" {
		t.Error("clone shares Name with original")
	}
	if orig.Properties["Pivot"].Struct.Components["y"] != 5 {
		t.Error("clone shares property payloads with original")
	}
	if _, ok := orig.Properties["Extra"]; ok {
		t.Error("clone shares property map with original")
	}
	if orig.Children[0] != "uxi-b2" {
		t.Error("clone shares child slice with original")
	}

	// Nil maps stay nil rather than becoming empty.
	bare := &Instance{ID: "uxi-x", ClassName: "Folder", Name: "F"}
	bc := bare.Clone()
	if bc.Properties != nil || bc.Children != nil {
		t.Error("clone of bare instance should keep nil maps and slices")
	}
}

func TestPathString(t *testing.T) {
	if got := PathString([]string{"game", "Workspace", "Part"}); got != "game.Workspace.Part" {
		t.Errorf("PathString = %q", got)
	}
	if got := PathString(nil); got != "" {
		t.Errorf("PathString(nil) = %q, want empty", got)
	}
}

func TestChangeKindIsValid(t *testing.T) {
	for _, k := range []ChangeKind{ChangeCreate, ChangeUpdate, ChangeDelete, ChangeReparent} {
		if !k.IsValid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if ChangeKind("rename").IsValid() {
		t.Error("rename is not a change kind; renames travel as updates")
	}
}

func TestChangeValidate(t *testing.T) {
	v := StringValue("x")
	tests := []struct {
		name    string
		change  Change
		wantErr string
	}{
		{
			"create with parent and name",
			Change{Kind: ChangeCreate, ClassName: "Part", Name: "P", ParentID: "uxi-root"},
			"",
		},
		{
			"create addressed by path",
			Change{Kind: ChangeCreate, ClassName: "Folder", Path: []string{"game", "Workspace", "F"}},
			"",
		},
		{
			"create missing class",
			Change{Kind: ChangeCreate, Name: "P"},
			"missing className",
		},
		{
			"create missing name",
			Change{Kind: ChangeCreate, ClassName: "Part"},
			"missing name",
		},
		{
			"update single property",
			Change{Kind: ChangeUpdate, ID: "uxi-a", Property: "Name", Value: &v},
			"",
		},
		{
			"update property map",
			Change{Kind: ChangeUpdate, Path: []string{"game", "A"}, Properties: map[string]Value{"Anchored": BoolValue(true)}},
			"",
		},
		{
			"update rename only",
			Change{Kind: ChangeUpdate, ID: "uxi-a", Name: "NewName"},
			"",
		},
		{
			"update without target",
			Change{Kind: ChangeUpdate, Property: "Name"},
			"id or a path",
		},
		{
			"update without payload",
			Change{Kind: ChangeUpdate, ID: "uxi-a"},
			"no property",
		},
		{
			"delete by id",
			Change{Kind: ChangeDelete, ID: "uxi-a"},
			"",
		},
		{
			"delete without target",
			Change{Kind: ChangeDelete},
			"id or a path",
		},
		{
			"reparent ok",
			Change{Kind: ChangeReparent, ID: "uxi-a", ParentID: "uxi-b"},
			"",
		},
		{
			"reparent by paths",
			Change{Kind: ChangeReparent, Path: []string{"game", "A"}, ParentPath: []string{"game", "B"}},
			"",
		},
		{
			"reparent missing parent",
			Change{Kind: ChangeReparent, ID: "uxi-a"},
			"missing target parent",
		},
		{
			"invalid kind",
			Change{Kind: ChangeKind("merge")},
			"invalid change kind",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.change.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
