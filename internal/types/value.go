// Package types defines core data structures for the uxrcoder sync hub:
// the property Value union, scene-graph instances, mutation records,
// structured conflicts, and test-run lifecycle types.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ValueKind is the coarse classification of a property value.
type ValueKind string

// Value kind constants, ordered by schema-inference precedence
// (enum > reference > struct > primitive > readonly > unknown).
const (
	KindEnum      ValueKind = "enum"
	KindReference ValueKind = "reference"
	KindStruct    ValueKind = "struct"
	KindPrimitive ValueKind = "primitive"
	KindReadonly  ValueKind = "readonly"
	KindUnknown   ValueKind = "unknown"
)

// Precedence returns the inference precedence of the kind (higher wins when
// a property is observed with mixed kinds).
func (k ValueKind) Precedence() int {
	switch k {
	case KindEnum:
		return 5
	case KindReference:
		return 4
	case KindStruct:
		return 3
	case KindPrimitive:
		return 2
	case KindReadonly:
		return 1
	}
	return 0
}

// Type tag constants for the wire encoding. Primitives are sent as bare JSON
// scalars; everything else is a tagged object {"type": ..., ...}.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBool    = "boolean"
	TypeNull    = "null"

	TypeVector2     = "Vector2"
	TypeVector3     = "Vector3"
	TypeCFrame      = "CFrame"
	TypeColor3      = "Color3"
	TypeUDim        = "UDim"
	TypeUDim2       = "UDim2"
	TypeBrickColor  = "BrickColor"
	TypeNumberRange = "NumberRange"
	TypeRect        = "Rect"

	TypeEnum        = "Enum"
	TypeRef         = "Ref"
	TypeUnsupported = "Unsupported"
)

// structShapes maps a struct type tag to its ordered numeric component names.
// BrickColor additionally carries a Name string next to its palette number.
var structShapes = map[string][]string{
	TypeVector2:     {"x", "y"},
	TypeVector3:     {"x", "y", "z"},
	TypeCFrame:      {"x", "y", "z", "r00", "r01", "r02", "r10", "r11", "r12", "r20", "r21", "r22"},
	TypeColor3:      {"r", "g", "b"},
	TypeUDim:        {"scale", "offset"},
	TypeUDim2:       {"xScale", "xOffset", "yScale", "yOffset"},
	TypeNumberRange: {"min", "max"},
	TypeRect:        {"minX", "minY", "maxX", "maxY"},
	TypeBrickColor:  {"number"},
}

// IsStructType reports whether tag names one of the fixed struct shapes.
func IsStructType(tag string) bool {
	_, ok := structShapes[tag]
	return ok
}

// StructShape returns the ordered component names for a struct type tag.
func StructShape(tag string) []string {
	return structShapes[tag]
}

// Value is the tagged union for instance property values.
// Exactly one variant pointer is set for non-primitive kinds; primitives
// store their payload inline.
type Value struct {
	Kind ValueKind
	// Type is the concrete tag: "string", "number", "boolean", "null" for
	// primitives, a struct shape name, "Enum", "Ref", or "Unsupported".
	Type string

	// Primitive payloads (Kind == KindPrimitive).
	Str    string
	Num    float64
	Bool   bool
	IsNull bool

	Struct *StructValue
	Enum   *EnumValue
	Ref    *RefValue
	// ReadonlyHint carries the original type name of an opaque value
	// (e.g. "BinaryString"); informational only.
	ReadonlyHint string
}

// StructValue holds the numeric components of a fixed-shape struct value.
type StructValue struct {
	Components map[string]float64
	// Name is set only for color-name pairs (BrickColor).
	Name string
}

// EnumValue is a typed enum: the enum type name, numeric value, and the
// symbolic item name.
type EnumValue struct {
	EnumType string
	Value    float64
	Name     string
}

// RefValue points at another instance, by stable id or by path.
// Exactly one of ID / Path is set.
type RefValue struct {
	ID   string
	Path []string
}

// Constructors for the common variants.

func StringValue(s string) Value {
	return Value{Kind: KindPrimitive, Type: TypeString, Str: s}
}

func NumberValue(n float64) Value {
	return Value{Kind: KindPrimitive, Type: TypeNumber, Num: n}
}

func BoolValue(b bool) Value {
	return Value{Kind: KindPrimitive, Type: TypeBool, Bool: b}
}

func NullValue() Value {
	return Value{Kind: KindPrimitive, Type: TypeNull, IsNull: true}
}

// StructValueOf builds a struct value from a shape tag and components.
// Unknown components are dropped; missing ones default to zero.
func StructValueOf(tag string, components map[string]float64) Value {
	shape := structShapes[tag]
	filled := make(map[string]float64, len(shape))
	for _, name := range shape {
		filled[name] = components[name]
	}
	return Value{Kind: KindStruct, Type: tag, Struct: &StructValue{Components: filled}}
}

// Vector3Value is a convenience constructor used widely in tests.
func Vector3Value(x, y, z float64) Value {
	return StructValueOf(TypeVector3, map[string]float64{"x": x, "y": y, "z": z})
}

func EnumValueOf(enumType string, value float64, name string) Value {
	return Value{Kind: KindEnum, Type: TypeEnum, Enum: &EnumValue{EnumType: enumType, Value: value, Name: name}}
}

func RefByID(id string) Value {
	return Value{Kind: KindReference, Type: TypeRef, Ref: &RefValue{ID: id}}
}

func RefByPath(path []string) Value {
	return Value{Kind: KindReference, Type: TypeRef, Ref: &RefValue{Path: append([]string(nil), path...)}}
}

func UnsupportedValue(hint string) Value {
	return Value{Kind: KindReadonly, Type: TypeUnsupported, ReadonlyHint: hint}
}

// IsNullValue reports whether v is the null primitive.
func (v Value) IsNullValue() bool {
	return v.Kind == KindPrimitive && v.IsNull
}

// Equal is structural deep equality over the union. NaN components are never
// equal, matching the finite-number constraint on primitives.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || v.Type != o.Type {
		return false
	}
	switch v.Kind {
	case KindPrimitive:
		if v.IsNull != o.IsNull {
			return false
		}
		if v.IsNull {
			return true
		}
		return v.Str == o.Str && v.Num == o.Num && v.Bool == o.Bool
	case KindStruct:
		if v.Struct == nil || o.Struct == nil {
			return v.Struct == o.Struct
		}
		if v.Struct.Name != o.Struct.Name {
			return false
		}
		if len(v.Struct.Components) != len(o.Struct.Components) {
			return false
		}
		for name, a := range v.Struct.Components {
			b, ok := o.Struct.Components[name]
			if !ok || a != b {
				return false
			}
		}
		return true
	case KindEnum:
		if v.Enum == nil || o.Enum == nil {
			return v.Enum == o.Enum
		}
		return *v.Enum == *o.Enum
	case KindReference:
		if v.Ref == nil || o.Ref == nil {
			return v.Ref == o.Ref
		}
		if v.Ref.ID != o.Ref.ID || len(v.Ref.Path) != len(o.Ref.Path) {
			return false
		}
		for i := range v.Ref.Path {
			if v.Ref.Path[i] != o.Ref.Path[i] {
				return false
			}
		}
		return true
	case KindReadonly:
		return true
	}
	return true
}

// Clone returns a deep copy; safe to hand to callers that may mutate.
func (v Value) Clone() Value {
	out := v
	if v.Struct != nil {
		comps := make(map[string]float64, len(v.Struct.Components))
		for k, c := range v.Struct.Components {
			comps[k] = c
		}
		out.Struct = &StructValue{Components: comps, Name: v.Struct.Name}
	}
	if v.Enum != nil {
		e := *v.Enum
		out.Enum = &e
	}
	if v.Ref != nil {
		out.Ref = &RefValue{ID: v.Ref.ID, Path: append([]string(nil), v.Ref.Path...)}
	}
	return out
}

// Validate checks union consistency: the variant matching Kind is populated
// and numeric payloads are finite.
func (v Value) Validate() error {
	switch v.Kind {
	case KindPrimitive:
		switch v.Type {
		case TypeString, TypeBool, TypeNull:
		case TypeNumber:
			if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
				return fmt.Errorf("number value must be finite")
			}
		default:
			return fmt.Errorf("invalid primitive type tag: %s", v.Type)
		}
	case KindStruct:
		if v.Struct == nil {
			return fmt.Errorf("struct value missing payload")
		}
		shape, ok := structShapes[v.Type]
		if !ok {
			return fmt.Errorf("unknown struct type: %s", v.Type)
		}
		for _, name := range shape {
			c, ok := v.Struct.Components[name]
			if !ok {
				return fmt.Errorf("struct %s missing component %s", v.Type, name)
			}
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return fmt.Errorf("struct %s component %s must be finite", v.Type, name)
			}
		}
	case KindEnum:
		if v.Enum == nil || v.Enum.EnumType == "" {
			return fmt.Errorf("enum value missing type name")
		}
	case KindReference:
		if v.Ref == nil || (v.Ref.ID == "" && len(v.Ref.Path) == 0) {
			return fmt.Errorf("reference value must carry an id or a path")
		}
	case KindReadonly, KindUnknown:
	default:
		return fmt.Errorf("invalid value kind: %s", v.Kind)
	}
	return nil
}

// MarshalJSON encodes the wire form: primitives as bare scalars, everything
// else as a tagged object.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindPrimitive:
		switch v.Type {
		case TypeString:
			return json.Marshal(v.Str)
		case TypeNumber:
			if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
				return nil, fmt.Errorf("cannot encode non-finite number")
			}
			return json.Marshal(v.Num)
		case TypeBool:
			return json.Marshal(v.Bool)
		case TypeNull:
			return []byte("null"), nil
		}
		return nil, fmt.Errorf("invalid primitive type tag: %s", v.Type)
	case KindStruct:
		if v.Struct == nil {
			return nil, fmt.Errorf("struct value missing payload")
		}
		payload := make(map[string]any, len(v.Struct.Components)+1)
		// Emit components in shape order for stable output.
		for _, name := range structShapes[v.Type] {
			payload[name] = v.Struct.Components[name]
		}
		if v.Struct.Name != "" {
			payload["name"] = v.Struct.Name
		}
		return json.Marshal(taggedWire{Type: v.Type, Value: payload})
	case KindEnum:
		if v.Enum == nil {
			return nil, fmt.Errorf("enum value missing payload")
		}
		return json.Marshal(map[string]any{
			"type":     TypeEnum,
			"enumType": v.Enum.EnumType,
			"value":    v.Enum.Value,
			"name":     v.Enum.Name,
		})
	case KindReference:
		if v.Ref == nil {
			return nil, fmt.Errorf("reference value missing payload")
		}
		wire := map[string]any{"type": TypeRef}
		if v.Ref.ID != "" {
			wire["id"] = v.Ref.ID
		} else {
			wire["path"] = v.Ref.Path
		}
		return json.Marshal(wire)
	case KindReadonly:
		wire := map[string]any{"type": TypeUnsupported}
		if v.ReadonlyHint != "" {
			wire["valueType"] = v.ReadonlyHint
		}
		return json.Marshal(wire)
	}
	return []byte("null"), nil
}

type taggedWire struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

// UnmarshalJSON decodes the wire form. Bare scalars become primitives;
// objects must carry a recognized "type" tag. Unrecognized tags decode as
// readonly markers so a newer plugin never breaks the hub.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := valueFromRaw(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// valueFromRaw converts a decoded JSON value (json.Number for numerics) into
// a Value. Total over well-formed JSON.
func valueFromRaw(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("number must be finite")
		}
		return NumberValue(f), nil
	case float64:
		return NumberValue(t), nil
	case map[string]any:
		return valueFromTagged(t)
	case []any:
		return Value{}, fmt.Errorf("bare arrays are not valid property values")
	}
	return Value{}, fmt.Errorf("unsupported JSON value %T", raw)
}

func valueFromTagged(obj map[string]any) (Value, error) {
	tagRaw, ok := obj["type"]
	if !ok {
		return Value{}, fmt.Errorf("tagged value missing \"type\" field")
	}
	tag, ok := tagRaw.(string)
	if !ok {
		return Value{}, fmt.Errorf("tagged value \"type\" must be a string")
	}

	switch {
	case IsStructType(tag):
		payload, _ := obj["value"].(map[string]any)
		if payload == nil {
			return Value{}, fmt.Errorf("%s value missing \"value\" object", tag)
		}
		comps := make(map[string]float64)
		for _, name := range structShapes[tag] {
			f, err := rawNumber(payload[name])
			if err != nil {
				return Value{}, fmt.Errorf("%s component %s: %w", tag, name, err)
			}
			comps[name] = f
		}
		sv := &StructValue{Components: comps}
		if name, ok := payload["name"].(string); ok {
			sv.Name = name
		}
		return Value{Kind: KindStruct, Type: tag, Struct: sv}, nil

	case tag == TypeEnum:
		enumType, _ := obj["enumType"].(string)
		name, _ := obj["name"].(string)
		val, err := rawNumber(obj["value"])
		if err != nil {
			return Value{}, fmt.Errorf("enum value: %w", err)
		}
		if enumType == "" {
			return Value{}, fmt.Errorf("enum value missing \"enumType\"")
		}
		return EnumValueOf(enumType, val, name), nil

	case tag == TypeRef:
		if id, ok := obj["id"].(string); ok && id != "" {
			return RefByID(id), nil
		}
		if rawPath, ok := obj["path"].([]any); ok {
			path := make([]string, 0, len(rawPath))
			for _, seg := range rawPath {
				s, ok := seg.(string)
				if !ok {
					return Value{}, fmt.Errorf("reference path segments must be strings")
				}
				path = append(path, s)
			}
			if len(path) > 0 {
				return RefByPath(path), nil
			}
		}
		return Value{}, fmt.Errorf("reference value must carry an id or a path")

	case tag == TypeUnsupported:
		hint, _ := obj["valueType"].(string)
		return UnsupportedValue(hint), nil

	// Tagged primitives are tolerated on input for plugin convenience.
	case tag == TypeString:
		s, _ := obj["value"].(string)
		return StringValue(s), nil
	case tag == TypeNumber:
		f, err := rawNumber(obj["value"])
		if err != nil {
			return Value{}, fmt.Errorf("number value: %w", err)
		}
		return NumberValue(f), nil
	case tag == TypeBool:
		b, _ := obj["value"].(bool)
		return BoolValue(b), nil
	case tag == TypeNull:
		return NullValue(), nil
	}

	// Unknown tag: preserve as an opaque readonly marker rather than failing
	// the whole sync.
	return UnsupportedValue(tag), nil
}

func rawNumber(raw any) (float64, error) {
	switch n := raw.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", n.String())
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("number must be finite")
		}
		return f, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("number must be finite")
		}
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case nil:
		return 0, fmt.Errorf("missing numeric field")
	}
	return 0, fmt.Errorf("expected number, got %T", raw)
}

// SortedComponentNames returns a struct value's component names in stable
// order (shape order when known, lexicographic otherwise).
func (s *StructValue) SortedComponentNames(tag string) []string {
	if shape, ok := structShapes[tag]; ok {
		return shape
	}
	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
