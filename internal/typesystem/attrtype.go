package typesystem

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
)

// AttrType is the schema for one attribute: an optional default, whether
// the value may be absent, an optional enumerated value set, an optional
// native type constraint, an optional resource-type name constraint (for
// reference attributes), an optional validator predicate, and an optional
// reader that discovers the current value from the host.
//
// An AttrType is immutable once constructed by NewAttrType.
type AttrType struct {
	// Default is the attribute's default value, or nil for none.
	Default *Value
	// Optional allows the value to be entirely absent (null); an absent
	// value bypasses further validation and is the attribute's default.
	Optional bool
	// Enum, if non-empty, restricts the value to this set.
	Enum []Value
	// CtyType, if not cty.NilType, constrains a plain (non-reference)
	// value's go-cty type. Ignored for reference attributes.
	CtyType cty.Type
	// RefType, if non-empty, marks this as a reference attribute and
	// constrains the referenced resource's type name.
	RefType string
	// Validate, if set, is an additional predicate on the value.
	Validate func(Value) error
	// Reader, if set, discovers the attribute's current value on the host
	// given the owning resource's identity attributes.
	Reader func(id Attrs) (Value, error)
}

// NewAttrType validates the invariants on at (Default must itself satisfy
// the schema it describes, Optional and Default are mutually exclusive)
// and returns it unchanged on success.
func NewAttrType(at AttrType) (*AttrType, error) {
	if at.Optional && at.Default != nil {
		return nil, fmt.Errorf("typesystem: AttrType cannot set both Optional and Default")
	}
	a := &at
	if at.Default != nil {
		if err := a.RequireValid(*at.Default); err != nil {
			return nil, fmt.Errorf("typesystem: default value invalid: %w", err)
		}
	}
	return a, nil
}

// HasDefault reports whether the attribute may be left unset in a
// value-dict: either it defaults to null (Optional) or it has an explicit
// Default.
func (a *AttrType) HasDefault() bool {
	return a.Optional || a.Default != nil
}

// DefaultValue returns the attribute's default, or the null value if
// Optional and no explicit Default was given.
func (a *AttrType) DefaultValue() Value {
	if a.Default != nil {
		return *a.Default
	}
	if a.Optional {
		t := a.CtyType
		if t == cty.NilType {
			t = cty.DynamicPseudoType
		}
		return Null(t)
	}
	return NilValue
}

// RequireValid checks v against the schema, returning a *diagnostics.ValidationFailure
// (as a plain error) on mismatch.
func (a *AttrType) RequireValid(v Value) error {
	if a.Optional && v.IsNull() {
		return nil
	}

	if a.RefType != "" {
		if !v.IsRef() {
			return diagnostics.NewValidationFailure("", v.GoString(), "expected a reference to a "+a.RefType+" resource")
		}
		if got := v.RefVal().Type().Name; got != a.RefType {
			return diagnostics.NewValidationFailure("", v.GoString(), fmt.Sprintf("expected a reference to %s, got %s", a.RefType, got))
		}
	} else if v.IsRef() {
		return diagnostics.NewValidationFailure("", v.GoString(), "did not expect a reference value here")
	} else if a.CtyType != cty.NilType && a.CtyType != cty.DynamicPseudoType {
		if !v.zero() && !v.Cty().IsNull() {
			_, err := convertTo(v.Cty(), a.CtyType)
			if err != nil {
				return diagnostics.NewValidationFailure("", v.GoString(), fmt.Sprintf("expected type %s: %s", a.CtyType.FriendlyName(), err))
			}
		}
	}

	if len(a.Enum) > 0 {
		ok := false
		for _, allowed := range a.Enum {
			if allowed.Equal(v) {
				ok = true
				break
			}
		}
		if !ok {
			return diagnostics.NewValidationFailure("", v.GoString(), "value is not one of the allowed values")
		}
	}

	if a.Validate != nil {
		if err := a.Validate(v); err != nil {
			return diagnostics.NewValidationFailure("", v.GoString(), err.Error())
		}
	}

	return nil
}

// ReadValue discovers the attribute's current value on the host via
// Reader, then validates it just like any other value.
func (a *AttrType) ReadValue(id Attrs) (Value, error) {
	if a.Reader == nil {
		return NilValue, fmt.Errorf("typesystem: attribute has no reader")
	}
	v, err := a.Reader(id)
	if err != nil {
		return NilValue, err
	}
	if err := a.RequireValid(v); err != nil {
		return NilValue, err
	}
	return v, nil
}
