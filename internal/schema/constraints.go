package schema

// readonlyByName lists properties that are never writable through the
// command path regardless of what was observed: identity and topology fields
// mutate through their dedicated operations, not property updates.
var readonlyByName = map[string]bool{
	"ClassName": true,
	"Parent":    true,
	"Children":  true,
}

// IsReadonlyName reports whether the property name is in the fixed readonly
// set.
func IsReadonlyName(name string) bool {
	return readonlyByName[name]
}

// strictNumericByName holds numeric bounds that hold by construction in the
// editor, keyed by property name. These are enforced on writes even when the
// property has never been observed.
var strictNumericByName = map[string]NumericConstraint{
	"Transparency": {Min: 0, Max: 1, Strict: true},
	"Reflectance":  {Min: 0, Max: 1, Strict: true},
}

// strictStringByName holds string rules enforced on writes.
var strictStringByName = map[string]StringConstraint{
	"Name": {MinLength: 1, NonEmpty: true},
}

// strictEnumAllowlists maps enum type names to their closed item sets. Only
// enums whose full item lists are stable across editor versions belong here;
// open-ended enums stay observation-driven.
var strictEnumAllowlists = map[string][]string{
	"PartType": {"Ball", "Block", "Cylinder", "Wedge", "CornerWedge"},
	"NormalId": {"Top", "Bottom", "Back", "Front", "Right", "Left"},
}

// applyBuiltins overlays the built-in table onto an inferred property
// schema. Strict bounds replace observed ones; observation-only fields stay.
func applyBuiltins(name string, ps *PropertySchema) {
	if readonlyByName[name] {
		ps.Writable = false
	}
	if nc, ok := strictNumericByName[name]; ok {
		strict := nc
		ps.Numeric = &strict
	}
	if sc, ok := strictStringByName[name]; ok {
		if ps.String == nil {
			ps.String = &StringConstraint{}
		}
		if sc.NonEmpty {
			ps.String.NonEmpty = true
			if ps.String.MinLength < 1 {
				ps.String.MinLength = 1
			}
		}
	}
	if ps.Enum != nil {
		if allow, ok := strictEnumAllowlists[ps.Enum.EnumType]; ok {
			ps.Enum.Strict = true
			ps.Enum.Names = append([]string(nil), allow...)
			ps.Enum.Values = nil
		}
	}
}

// builtinNumericFor returns the strict numeric constraint for a property
// name, if one exists.
func builtinNumericFor(name string) (NumericConstraint, bool) {
	nc, ok := strictNumericByName[name]
	return nc, ok
}

// builtinStringFor returns the strict string constraint for a property
// name, if one exists.
func builtinStringFor(name string) (StringConstraint, bool) {
	sc, ok := strictStringByName[name]
	return sc, ok
}

// builtinEnumAllowlist returns the closed item set for an enum type, if one
// exists.
func builtinEnumAllowlist(enumType string) ([]string, bool) {
	allow, ok := strictEnumAllowlists[enumType]
	return allow, ok
}

// builtinPropertyKnown reports whether the name carries any built-in rule;
// validation accepts such names even on classes that have not shown them yet.
func builtinPropertyKnown(name string) bool {
	if _, ok := strictNumericByName[name]; ok {
		return true
	}
	if _, ok := strictStringByName[name]; ok {
		return true
	}
	return false
}
