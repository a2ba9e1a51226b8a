package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// ValidateUpdate checks a prospective property write against the target
// instance and its class schema. Returns nil when the write is acceptable,
// otherwise a validation_failed conflict naming the property, the expected
// kind/types, and the offending actual value.
//
// Unknown property names are rejected on update: the instance exists, so its
// class has an inferred schema, and a name appearing in neither the schema,
// the built-in table, nor the instance itself is a typo far more often than
// a new property. Creates introduce properties through ValidateNew instead.
func ValidateUpdate(cs *ClassSchema, in *types.Instance, name string, v types.Value) *types.Conflict {
	if c := checkReadonly(cs, in, name); c != nil {
		return c
	}
	// Null clears the property; always acceptable on a writable name.
	if v.IsNullValue() {
		return nil
	}
	if err := v.Validate(); err != nil {
		return conflict(in, name, fmt.Sprintf("invalid value: %v", err), nil, describeValue(v))
	}

	var ps *PropertySchema
	if cs != nil {
		ps = cs.Properties[name]
	}
	_, onInstance := in.Properties[name]
	if ps == nil && !onInstance && !builtinPropertyKnown(name) {
		return conflict(in, name,
			fmt.Sprintf("unknown property %q on class %s", name, in.ClassName),
			map[string]any{"knownProperties": knownNames(cs)}, describeValue(v))
	}

	if ps != nil {
		if c := checkKind(in, name, ps, v); c != nil {
			return c
		}
	}
	return checkConstraints(in, name, ps, v)
}

// ValidateNew checks an initial property on a create command. The property
// set is the agent's to choose (unknown names are fine), but readonly names
// and built-in constraints still apply.
func ValidateNew(className, name string, v types.Value) *types.Conflict {
	if readonlyByName[name] {
		return &types.Conflict{
			Reason:   types.ReasonValidationFailed,
			Message:  fmt.Sprintf("property %s is read-only", name),
			Expected: map[string]any{"property": name, "writable": false},
		}
	}
	if v.IsNullValue() {
		return nil
	}
	if err := v.Validate(); err != nil {
		return &types.Conflict{
			Reason:   types.ReasonValidationFailed,
			Message:  fmt.Sprintf("property %s: invalid value: %v", name, err),
			Expected: map[string]any{"property": name, "className": className},
			Actual:   describeValue(v),
		}
	}
	return checkConstraints(&types.Instance{ClassName: className}, name, nil, v)
}

func checkReadonly(cs *ClassSchema, in *types.Instance, name string) *types.Conflict {
	if readonlyByName[name] {
		return conflict(in, name, fmt.Sprintf("property %s is read-only", name),
			map[string]any{"writable": false}, nil)
	}
	if cs != nil {
		if ps := cs.Properties[name]; ps != nil && !ps.Writable {
			return conflict(in, name,
				fmt.Sprintf("property %s was observed as read-only (%s)", name, strings.Join(ps.ValueTypes, ", ")),
				map[string]any{"writable": false, "valueTypes": ps.ValueTypes}, nil)
		}
	}
	return nil
}

// checkKind verifies the incoming value's shape against what the class has
// shown: the concrete type tag must be one already observed, or at least the
// value's kind must match the canonical kind.
func checkKind(in *types.Instance, name string, ps *PropertySchema, v types.Value) *types.Conflict {
	for _, tag := range ps.ValueTypes {
		if tag == v.Type {
			return nil
		}
	}
	if v.Kind == ps.Kind {
		return nil
	}
	return conflict(in, name,
		fmt.Sprintf("property %s expects %s (%s), got %s", name, ps.Kind, strings.Join(ps.ValueTypes, "|"), v.Type),
		map[string]any{"kind": ps.Kind, "valueTypes": ps.ValueTypes}, describeValue(v))
}

// checkConstraints enforces the strict constraint set: built-in numeric
// bounds, built-in string rules, and closed enum allowlists. Observed
// envelopes (min/max seen so far) are advisory and not enforced; the scene
// growing a new extreme is normal, the built-ins are not negotiable.
func checkConstraints(in *types.Instance, name string, ps *PropertySchema, v types.Value) *types.Conflict {
	switch v.Kind {
	case types.KindPrimitive:
		switch v.Type {
		case types.TypeNumber:
			if nc, ok := builtinNumericFor(name); ok {
				if v.Num < nc.Min || v.Num > nc.Max {
					return conflict(in, name,
						fmt.Sprintf("property %s must be in [%g, %g], got %g", name, nc.Min, nc.Max, v.Num),
						map[string]any{"min": nc.Min, "max": nc.Max}, describeValue(v))
				}
				if nc.Integer && !isIntegral(v.Num) {
					return conflict(in, name,
						fmt.Sprintf("property %s must be an integer, got %g", name, v.Num),
						map[string]any{"integer": true}, describeValue(v))
				}
			}
		case types.TypeString:
			if sc, ok := builtinStringFor(name); ok {
				if sc.NonEmpty && v.Str == "" {
					return conflict(in, name,
						fmt.Sprintf("property %s must not be empty", name),
						map[string]any{"nonEmpty": true}, describeValue(v))
				}
				if sc.MaxLength > 0 && len(v.Str) > sc.MaxLength {
					return conflict(in, name,
						fmt.Sprintf("property %s exceeds max length %d", name, sc.MaxLength),
						map[string]any{"maxLength": sc.MaxLength}, describeValue(v))
				}
			}
		}
	case types.KindEnum:
		if v.Enum == nil {
			return nil
		}
		// Cross-check the enum type against observations first.
		if ps != nil && ps.Enum != nil && ps.Enum.EnumType != v.Enum.EnumType {
			return conflict(in, name,
				fmt.Sprintf("property %s expects enum %s, got %s", name, ps.Enum.EnumType, v.Enum.EnumType),
				map[string]any{"enumType": ps.Enum.EnumType}, describeValue(v))
		}
		if allow, ok := builtinEnumAllowlist(v.Enum.EnumType); ok {
			for _, item := range allow {
				if item == v.Enum.Name {
					return nil
				}
			}
			return conflict(in, name,
				fmt.Sprintf("enum %s has no item %q", v.Enum.EnumType, v.Enum.Name),
				map[string]any{"enumType": v.Enum.EnumType, "allowed": allow}, describeValue(v))
		}
	}
	return nil
}

func conflict(in *types.Instance, name, message string, expected, actual map[string]any) *types.Conflict {
	exp := map[string]any{"property": name}
	if in != nil {
		exp["className"] = in.ClassName
		if in.ID != "" {
			exp["id"] = in.ID
		}
	}
	for k, v := range expected {
		exp[k] = v
	}
	return &types.Conflict{
		Reason:   types.ReasonValidationFailed,
		Message:  message,
		Expected: exp,
		Actual:   actual,
	}
}

func describeValue(v types.Value) map[string]any {
	actual := map[string]any{"kind": v.Kind, "type": v.Type}
	switch v.Kind {
	case types.KindPrimitive:
		switch v.Type {
		case types.TypeNumber:
			actual["value"] = v.Num
		case types.TypeString:
			actual["value"] = v.Str
		case types.TypeBool:
			actual["value"] = v.Bool
		}
	case types.KindEnum:
		if v.Enum != nil {
			actual["enumType"] = v.Enum.EnumType
			actual["name"] = v.Enum.Name
			actual["value"] = v.Enum.Value
		}
	}
	return actual
}

func knownNames(cs *ClassSchema) []string {
	if cs == nil {
		return nil
	}
	names := make([]string, 0, len(cs.Properties))
	for name := range cs.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
