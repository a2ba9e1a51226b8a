// Package schema infers per-class property shapes from observed instances
// and validates prospective property writes against them. The hub has no
// class catalog of its own (the editor is the source of truth), so the
// schema is whatever the current scene demonstrates, tightened by a small
// built-in table of constraints that hold regardless of observations.
package schema

import (
	"math"
	"sort"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// PropertySchema aggregates everything observed about one property across
// all instances of a class.
type PropertySchema struct {
	Name string `json:"name"`
	// Kind is the canonical kind when observations mix, by precedence
	// enum > reference > struct > primitive > readonly > unknown.
	Kind types.ValueKind `json:"kind"`
	// ValueTypes is the sorted set of observed type tags
	// (e.g. "number", "Vector3", "Enum").
	ValueTypes []string `json:"valueTypes"`
	Writable   bool     `json:"writable"`
	Nullable   bool     `json:"nullable"`
	Observed   int      `json:"observed"`

	Numeric *NumericConstraint `json:"numeric,omitempty"`
	String  *StringConstraint  `json:"string,omitempty"`
	Enum    *EnumConstraint    `json:"enum,omitempty"`
}

// NumericConstraint captures the observed numeric envelope. Min/Max/Integer
// describe what was seen; Strict marks bounds that came from the built-in
// table and are enforced on writes.
type NumericConstraint struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Integer bool    `json:"integer"`
	Strict  bool    `json:"strict,omitempty"`
}

// StringConstraint captures the observed length envelope plus the built-in
// non-empty rule where it applies.
type StringConstraint struct {
	MinLength int  `json:"minLength"`
	MaxLength int  `json:"maxLength"`
	NonEmpty  bool `json:"nonEmpty,omitempty"`
}

// EnumConstraint captures the observed enum type and items plus any strict
// built-in allowlist.
type EnumConstraint struct {
	EnumType string    `json:"enumType"`
	Names    []string  `json:"names"`
	Values   []float64 `json:"values"`
	Strict   bool      `json:"strict,omitempty"`
}

// ClassSchema is the inferred shape of one class.
type ClassSchema struct {
	ClassName  string                     `json:"className"`
	Instances  int                        `json:"instances"`
	Properties map[string]*PropertySchema `json:"properties"`
}

// Infer scans a set of instances and aggregates a schema per class.
func Infer(instances []*types.Instance) map[string]*ClassSchema {
	out := make(map[string]*ClassSchema)
	for _, in := range instances {
		cs := out[in.ClassName]
		if cs == nil {
			cs = &ClassSchema{
				ClassName:  in.ClassName,
				Properties: make(map[string]*PropertySchema),
			}
			out[in.ClassName] = cs
		}
		cs.Instances++
		for name, v := range in.Properties {
			observe(cs, name, v)
		}
	}

	// Finalize: sorted type sets and strict built-ins merged in.
	for _, cs := range out {
		for name, ps := range cs.Properties {
			sort.Strings(ps.ValueTypes)
			applyBuiltins(name, ps)
		}
	}
	return out
}

func observe(cs *ClassSchema, name string, v types.Value) {
	ps := cs.Properties[name]
	if ps == nil {
		ps = &PropertySchema{
			Name:     name,
			Kind:     types.KindUnknown,
			Writable: !readonlyByName[name],
		}
		cs.Properties[name] = ps
	}
	ps.Observed++

	if v.Kind.Precedence() > ps.Kind.Precedence() {
		ps.Kind = v.Kind
	}
	if v.Kind == types.KindReadonly {
		ps.Writable = false
	}
	if v.IsNullValue() {
		ps.Nullable = true
	}
	addValueType(ps, v.Type)

	switch v.Kind {
	case types.KindPrimitive:
		switch v.Type {
		case types.TypeNumber:
			observeNumber(ps, v.Num)
		case types.TypeString:
			observeString(ps, v.Str)
		}
	case types.KindEnum:
		if v.Enum != nil {
			observeEnum(ps, v.Enum)
		}
	}
}

func addValueType(ps *PropertySchema, tag string) {
	for _, existing := range ps.ValueTypes {
		if existing == tag {
			return
		}
	}
	ps.ValueTypes = append(ps.ValueTypes, tag)
}

func observeNumber(ps *PropertySchema, n float64) {
	if ps.Numeric == nil {
		ps.Numeric = &NumericConstraint{Min: n, Max: n, Integer: isIntegral(n)}
		return
	}
	nc := ps.Numeric
	if nc.Strict {
		// Built-in bounds already applied on a prior pass; keep them.
		return
	}
	if n < nc.Min {
		nc.Min = n
	}
	if n > nc.Max {
		nc.Max = n
	}
	if !isIntegral(n) {
		nc.Integer = false
	}
}

func observeString(ps *PropertySchema, s string) {
	l := len(s)
	if ps.String == nil {
		ps.String = &StringConstraint{MinLength: l, MaxLength: l}
		return
	}
	sc := ps.String
	if l < sc.MinLength {
		sc.MinLength = l
	}
	if l > sc.MaxLength {
		sc.MaxLength = l
	}
}

func observeEnum(ps *PropertySchema, e *types.EnumValue) {
	if ps.Enum == nil {
		ps.Enum = &EnumConstraint{EnumType: e.EnumType}
	}
	ec := ps.Enum
	for _, existing := range ec.Names {
		if existing == e.Name {
			return
		}
	}
	ec.Names = append(ec.Names, e.Name)
	ec.Values = append(ec.Values, e.Value)
}

func isIntegral(n float64) bool {
	return n == math.Trunc(n)
}
