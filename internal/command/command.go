// Package command implements the agent command executor: parsing the wire
// command union, the single and batch execution flows (revision guard,
// idempotent replay, path locking, schema validation, mutation), and the
// machine-readable command schema agents discover at runtime.
package command

import (
	"fmt"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// Op names accepted on the wire.
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpRename   = "rename"
	OpDelete   = "delete"
	OpReparent = "reparent"
)

// Input is the wire form of one command. Single requests carry these fields
// at the top level of the body; batch requests carry an array of them under
// "commands". Target and parent refs each accept an id, a path, or both
// (id wins).
type Input struct {
	Op string `json:"op"`

	ID   string   `json:"id,omitempty"`
	Path []string `json:"path,omitempty"`

	ParentID   string   `json:"parentId,omitempty"`
	ParentPath []string `json:"parentPath,omitempty"`

	ClassName string `json:"className,omitempty"`
	Name      string `json:"name,omitempty"`

	Property   string                 `json:"property,omitempty"`
	Value      *types.Value           `json:"value,omitempty"`
	Properties map[string]types.Value `json:"properties,omitempty"`
}

// SingleRequest is the body of POST /agent/command: one command plus
// envelope fields. The idempotency key may arrive here or in the
// x-idempotency-key header; the header wins.
type SingleRequest struct {
	Input
	BaseRevision   *uint64 `json:"baseRevision,omitempty"`
	IdempotencyKey string  `json:"idempotencyKey,omitempty"`
}

// BatchRequest is the body of POST /agent/commands.
type BatchRequest struct {
	Commands        []Input `json:"commands"`
	Transactional   bool    `json:"transactional,omitempty"`
	ContinueOnError bool    `json:"continueOnError,omitempty"`
	BaseRevision    *uint64 `json:"baseRevision,omitempty"`
	IdempotencyKey  string  `json:"idempotencyKey,omitempty"`
}

// toChange normalizes the wire command into the mutation record the scene
// graph applies. Renames travel as updates carrying a Name, matching the
// editor delta shape; an update of the "Name" property is folded into the
// same form.
func (in *Input) toChange() (types.Change, *types.Conflict) {
	change := types.Change{
		ID:         in.ID,
		Path:       in.Path,
		ParentID:   in.ParentID,
		ParentPath: in.ParentPath,
		ClassName:  in.ClassName,
	}

	switch in.Op {
	case OpCreate:
		change.Kind = types.ChangeCreate
		change.Name = in.Name
		change.Properties = in.Properties

	case OpUpdate:
		change.Kind = types.ChangeUpdate
		if in.Property == "Name" {
			if in.Value == nil || in.Value.Type != types.TypeString {
				return change, types.NewValidationFailed(
					"updating Name requires a string value", in.expected(), nil)
			}
			change.Name = in.Value.Str
			break
		}
		if _, ok := in.Properties["Name"]; ok {
			return change, types.NewValidationFailed(
				"use the rename op (or property: \"Name\") to change names", in.expected(), nil)
		}
		change.Property = in.Property
		change.Value = in.Value
		change.Properties = in.Properties

	case OpRename:
		change.Kind = types.ChangeUpdate
		if in.Name == "" {
			return change, types.NewValidationFailed("rename requires a name", in.expected(), nil)
		}
		change.Name = in.Name

	case OpDelete:
		change.Kind = types.ChangeDelete

	case OpReparent:
		change.Kind = types.ChangeReparent

	default:
		return change, types.NewValidationFailed(
			fmt.Sprintf("unknown op %q", in.Op), in.expected(), nil)
	}

	if err := change.Validate(); err != nil {
		return change, types.NewValidationFailed(err.Error(), in.expected(), nil)
	}
	return change, nil
}

// expected builds the "expected" conflict block from the refs the caller
// supplied, before any resolution.
func (in *Input) expected() map[string]any {
	expected := map[string]any{"op": in.Op}
	if in.ID != "" {
		expected["id"] = in.ID
	}
	if len(in.Path) > 0 {
		expected["path"] = in.Path
	}
	if in.ParentID != "" {
		expected["parentId"] = in.ParentID
	}
	if len(in.ParentPath) > 0 {
		expected["parentPath"] = in.ParentPath
	}
	if in.Name != "" {
		expected["name"] = in.Name
	}
	if in.ClassName != "" {
		expected["className"] = in.ClassName
	}
	if in.Property != "" {
		expected["property"] = in.Property
	}
	return expected
}
