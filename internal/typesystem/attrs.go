package typesystem

import (
	"sort"
	"strings"

	"github.com/g2p/systems/internal/diagnostics"
)

// Attrs is a validated, immutable attribute bag tagged with its SimpleType.
// Two Attrs are equal iff their types and value maps are equal.
type Attrs struct {
	stype *SimpleType
	vals  map[string]Value
}

// NewAttrs validates vals against stype (full validation, defaults filled
// in) and returns the resulting Attrs.
func NewAttrs(stype *SimpleType, vals map[string]Value) (Attrs, diagnostics.Diagnostics) {
	out, diags := stype.PrepareValueDict(vals, false)
	if diags.HasErrors() {
		return Attrs{}, diags
	}
	return Attrs{stype: stype, vals: out}, nil
}

// NewPartialAttrs validates only the provided keys, without defaulting.
// Used when passing through values destined for another SimpleType's
// validation, e.g. during Resource construction before identity/state are
// split apart.
func NewPartialAttrs(stype *SimpleType, vals map[string]Value) (Attrs, diagnostics.Diagnostics) {
	out, diags := stype.PrepareValueDict(vals, true)
	if diags.HasErrors() {
		return Attrs{}, diags
	}
	return Attrs{stype: stype, vals: out}, nil
}

// Type returns the SimpleType this bag was validated against.
func (a Attrs) Type() *SimpleType { return a.stype }

// Get returns the named attribute's value and whether it was present.
func (a Attrs) Get(name string) (Value, bool) {
	v, ok := a.vals[name]
	return v, ok
}

// MustGet returns the named attribute's value, panicking if absent. Only
// safe for names known to be declared on a.Type().
func (a Attrs) MustGet(name string) Value {
	v, ok := a.vals[name]
	if !ok {
		panic("typesystem: Attrs.MustGet: no such attribute " + name)
	}
	return v
}

// Equal reports whether a and o share a type and every value.
func (a Attrs) Equal(o Attrs) bool {
	if a.stype != o.stype {
		return false
	}
	if len(a.vals) != len(o.vals) {
		return false
	}
	for k, v := range a.vals {
		ov, ok := o.vals[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Key returns a deterministic, hashable encoding of this bag, suitable for
// resource identity deduplication.
func (a Attrs) Key() string {
	names := make([]string, 0, len(a.vals))
	for n := range a.vals {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(a.vals[n].canonicalKey())
		b.WriteByte('\x1f')
	}
	return b.String()
}

// NonDefault iterates the attributes whose value differs from their
// AttrType's default, for compact presentation.
func (a Attrs) NonDefault(yield func(name string, v Value) bool) {
	for _, name := range a.stype.names {
		at := a.stype.attrs[name]
		v := a.vals[name]
		if at.HasDefault() && v.Equal(at.DefaultValue()) {
			continue
		}
		if !yield(name, v) {
			return
		}
	}
}

// References iterates the reference-typed attributes.
func (a Attrs) References(yield func(name string, ref *ResourceRef) bool) {
	for _, name := range a.stype.names {
		at := a.stype.attrs[name]
		if at.RefType == "" {
			continue
		}
		v := a.vals[name]
		if v.IsNull() || !v.IsRef() {
			continue
		}
		if !yield(name, v.RefVal()) {
			return
		}
	}
}

// Map returns a shallow copy of the underlying value-dict.
func (a Attrs) Map() map[string]Value {
	out := make(map[string]Value, len(a.vals))
	for k, v := range a.vals {
		out[k] = v
	}
	return out
}
