package typesystem

import (
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Value is one attribute value. Most attributes hold a plain go-cty value;
// reference-typed attributes instead hold a pointer to a ResourceRef, since
// a live reference to another graph node cannot be represented as inert
// cty data. Exactly one of the two is set.
type Value struct {
	cty cty.Value
	ref *ResourceRef
}

// NilValue is the zero Value; it is distinct from an explicit null.
var NilValue = Value{}

// Plain wraps a go-cty value as an attribute Value.
func Plain(v cty.Value) Value { return Value{cty: v} }

// Ref wraps a reference to another resource as an attribute Value.
func Ref(r *ResourceRef) Value { return Value{ref: r} }

// Null returns the null value of the given cty type.
func Null(t cty.Type) Value { return Value{cty: cty.NullVal(t)} }

func (v Value) IsRef() bool { return v.ref != nil }

// Cty returns the underlying go-cty value. Panics if IsRef.
func (v Value) Cty() cty.Value {
	if v.ref != nil {
		panic("typesystem: Cty called on a reference Value")
	}
	return v.cty
}

// RefVal returns the underlying reference. Panics unless IsRef.
func (v Value) RefVal() *ResourceRef {
	if v.ref == nil {
		panic("typesystem: RefVal called on a non-reference Value")
	}
	return v.ref
}

func (v Value) zero() bool { return v.ref == nil && v.cty == cty.NilVal }

// IsNull reports whether this value is empty/absent.
func (v Value) IsNull() bool {
	if v.ref != nil {
		return false
	}
	return v.zero() || v.cty.IsNull()
}

// Equal reports deep, structural equality: two references are equal iff
// they target the same resource identity; two plain values are equal iff
// go-cty considers them RawEquals.
func (v Value) Equal(o Value) bool {
	if v.IsRef() != o.IsRef() {
		return false
	}
	if v.IsRef() {
		return v.ref.TargetKey() == o.ref.TargetKey()
	}
	if v.zero() || o.zero() {
		return v.zero() == o.zero()
	}
	if !v.cty.Type().Equals(o.cty.Type()) {
		return false
	}
	return v.cty.RawEquals(o.cty)
}

// canonicalKey returns a deterministic string encoding suitable for use as
// a Go map key (and thus for resource identity deduplication).
func (v Value) canonicalKey() string {
	if v.IsRef() {
		return "ref\x00" + v.ref.TargetKey()
	}
	if v.zero() {
		return "nil"
	}
	b, err := ctyjson.Marshal(v.cty, v.cty.Type())
	if err != nil {
		// go-cty can only fail to marshal unknown/non-serializable values,
		// which planning never produces for attribute values; surface
		// something stable rather than a Go value the caller can't use.
		return "unmarshalable:" + v.cty.GoString()
	}
	return string(b)
}

func (v Value) GoString() string {
	if v.IsRef() {
		return "ref(" + v.ref.TargetKey() + ")"
	}
	if v.zero() {
		return "<nil value>"
	}
	return v.cty.GoString()
}
