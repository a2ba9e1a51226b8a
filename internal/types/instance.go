package types

import (
	"fmt"
	"strings"
	"time"
)

// Instance is a node in the scene graph. Instances live in an arena keyed by
// id; the parent link is an id, never a pointer, so snapshots are cheap map
// copies and cycles cannot form.
type Instance struct {
	ID         string           `json:"id"`
	ClassName  string           `json:"className"`
	Name       string           `json:"name"`
	ParentID   string           `json:"parentId,omitempty"` // empty only for root services
	Properties map[string]Value `json:"properties,omitempty"`
	Children   []string         `json:"children,omitempty"` // ordered child ids
}

// MaxNameLength bounds instance names; the editor enforces the same limit.
const MaxNameLength = 100

// ValidateName checks a prospective instance name. Dots are rejected because
// paths are dot-joined without escaping.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name must be %d characters or less (got %d)", MaxNameLength, len(name))
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("name must not contain %q (paths are dot-joined)", ".")
	}
	return nil
}

// Validate checks structural invariants of a single instance record.
func (in *Instance) Validate() error {
	if in.ID == "" {
		return fmt.Errorf("id is required")
	}
	if in.ClassName == "" {
		return fmt.Errorf("className is required")
	}
	if err := ValidateName(in.Name); err != nil {
		return fmt.Errorf("instance %s: %w", in.ID, err)
	}
	for prop, v := range in.Properties {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("instance %s property %s: %w", in.ID, prop, err)
		}
	}
	return nil
}

// Clone deep-copies the instance, including its property map and child list.
func (in *Instance) Clone() *Instance {
	out := &Instance{
		ID:        in.ID,
		ClassName: in.ClassName,
		Name:      in.Name,
		ParentID:  in.ParentID,
	}
	if in.Properties != nil {
		out.Properties = make(map[string]Value, len(in.Properties))
		for k, v := range in.Properties {
			out.Properties[k] = v.Clone()
		}
	}
	if in.Children != nil {
		out.Children = append([]string(nil), in.Children...)
	}
	return out
}

// PathString renders a segment path in the dotted form used throughout the
// API. Segments never contain dots (enforced by ValidateName).
func PathString(path []string) string {
	return strings.Join(path, ".")
}

// ChangeKind discriminates mutation records.
type ChangeKind string

// Mutation record kinds. Renames travel as updates to the Name field on the
// editor path and as explicit rename commands on the agent path; both settle
// into the same record shape.
const (
	ChangeCreate   ChangeKind = "create"
	ChangeUpdate   ChangeKind = "update"
	ChangeDelete   ChangeKind = "delete"
	ChangeReparent ChangeKind = "reparent"
)

// IsValid reports whether the change kind is one of the known constants.
func (k ChangeKind) IsValid() bool {
	switch k {
	case ChangeCreate, ChangeUpdate, ChangeDelete, ChangeReparent:
		return true
	}
	return false
}

// Change is one mutation record. It is the shared currency of the delta
// endpoint, the pending-change buffer, and the live-stream frames: all three
// paths produce and consume the same shape.
type Change struct {
	Kind ChangeKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
	Path []string   `json:"path,omitempty"`

	// Create fields.
	ClassName string `json:"className,omitempty"`

	// Create / rename fields.
	Name string `json:"name,omitempty"`

	// Reparent fields.
	ParentID   string   `json:"parentId,omitempty"`
	ParentPath []string `json:"parentPath,omitempty"`

	// Update fields: either a single property or a map.
	Property   string           `json:"property,omitempty"`
	Value      *Value           `json:"value,omitempty"`
	Properties map[string]Value `json:"properties,omitempty"`
}

// Validate checks that the record carries the fields its kind requires.
// Creates are addressed by parent ref plus name; everything else needs a
// target ref (id or path).
func (c *Change) Validate() error {
	if !c.Kind.IsValid() {
		return fmt.Errorf("invalid change kind: %q", c.Kind)
	}
	switch c.Kind {
	case ChangeCreate:
		if c.ClassName == "" {
			return fmt.Errorf("create change missing className")
		}
		if c.Name == "" && len(c.Path) == 0 {
			return fmt.Errorf("create change missing name")
		}
	case ChangeUpdate:
		if c.ID == "" && len(c.Path) == 0 {
			return fmt.Errorf("update change must carry an id or a path")
		}
		if c.Property == "" && len(c.Properties) == 0 && c.Name == "" {
			return fmt.Errorf("update change carries no property, properties map, or name")
		}
	case ChangeDelete:
		if c.ID == "" && len(c.Path) == 0 {
			return fmt.Errorf("delete change must carry an id or a path")
		}
	case ChangeReparent:
		if c.ID == "" && len(c.Path) == 0 {
			return fmt.Errorf("reparent change must carry an id or a path")
		}
		if c.ParentID == "" && len(c.ParentPath) == 0 {
			return fmt.Errorf("reparent change missing target parent")
		}
	}
	return nil
}

// PendingChange is a committed mutation not yet acknowledged by the editor
// plugin. Confirmed entries linger for a grace window so a crashed plugin
// can re-read them, then get garbage-collected.
type PendingChange struct {
	ID          string    `json:"id"`
	Change      Change    `json:"change"`
	Confirmed   bool      `json:"confirmed"`
	CommittedAt time.Time `json:"committedAt"`
	ConfirmedAt time.Time `json:"confirmedAt,omitzero"`
	// Deliveries counts how many times the entry was returned to the
	// plugin; entries returned more than once are flagged redelivered so a
	// failed push is visible to the caller.
	Deliveries int `json:"-"`
}

// PendingGracePeriod is how long confirmed changes are retained before GC.
const PendingGracePeriod = 60 * time.Second
