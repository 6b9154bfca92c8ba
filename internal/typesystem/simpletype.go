package typesystem

import (
	"sort"

	"github.com/g2p/systems/internal/diagnostics"
)

// SimpleType maps attribute names to AttrTypes. It validates a value-dict:
// rejects unknown keys, fills in defaults, requires a value where no
// default exists, and validates each value through its AttrType.
type SimpleType struct {
	attrs map[string]*AttrType
	names []string // sorted, for deterministic iteration
}

// NewSimpleType builds a SimpleType from a name -> AttrType mapping.
func NewSimpleType(attrs map[string]*AttrType) *SimpleType {
	names := make([]string, 0, len(attrs))
	cp := make(map[string]*AttrType, len(attrs))
	for n, a := range attrs {
		names = append(names, n)
		cp[n] = a
	}
	sort.Strings(names)
	return &SimpleType{attrs: cp, names: names}
}

// Names returns the attribute names in a stable, deterministic order.
func (t *SimpleType) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// AttrType returns the schema for the named attribute, or nil if unknown.
func (t *SimpleType) AttrType(name string) *AttrType {
	return t.attrs[name]
}

// Has reports whether name is declared by this type.
func (t *SimpleType) Has(name string) bool {
	_, ok := t.attrs[name]
	return ok
}

// PrepareValueDict validates vals against the schema. When partial is
// false, every declared attribute must end up with a value (defaulted or
// provided) and the result is a complete value-dict; when partial is true,
// only the provided keys are validated and no defaulting occurs.
func (t *SimpleType) PrepareValueDict(vals map[string]Value, partial bool) (map[string]Value, diagnostics.Diagnostics) {
	var diags diagnostics.Diagnostics

	for k := range vals {
		if !t.Has(k) {
			diags = diags.Append(diagnostics.NewUnknownAttribute(k))
		}
	}

	out := make(map[string]Value, len(t.attrs))
	for _, name := range t.names {
		at := t.attrs[name]
		v, provided := vals[name]
		if !provided {
			if partial {
				continue
			}
			if !at.HasDefault() {
				diags = diags.Append(diagnostics.NewMissingAttribute(name))
				continue
			}
			out[name] = at.DefaultValue()
			continue
		}
		if err := at.RequireValid(v); err != nil {
			diags = diags.Append(asValidationFailure(name, err))
			continue
		}
		out[name] = v
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return out, nil
}

func asValidationFailure(attr string, err error) diagnostics.Diagnostic {
	if vf, ok := err.(*diagnostics.ValidationFailure); ok {
		vf.Attribute = attr
		return vf
	}
	return diagnostics.NewValidationFailure(attr, nil, err.Error())
}
