// Package serialize implements the loss-less YAML-style textual
// representation for resources and transitions: a one-key mapping from
// type name to a body of sub-maps, with only non-default attributes
// emitted. Individual attribute values round-trip through go-cty-yaml so
// that go-cty's type system (not a second ad hoc decoder) governs what a
// valid value looks like; the envelope around them is plain
// map[string]any, marshaled with go.yaml.in/yaml/v3, so a document can
// hold a list of such entries without forcing every caller through cty
// first.
package serialize

import (
	"fmt"

	ctyyaml "github.com/zclconf/go-cty-yaml"
	yaml "go.yaml.in/yaml/v3"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/typesystem"
)

// EncodeResource renders r as {typeName: {id: {...}, wanted: {...}}},
// omitting attributes equal to their schema default.
func EncodeResource(r typesystem.Resource) (map[string]any, error) {
	id, err := attrsToGeneric(r.IdentityAttrs())
	if err != nil {
		return nil, fmt.Errorf("serialize: encoding %s identity: %w", r.Identity(), err)
	}
	wanted, err := attrsToGeneric(r.WantedAttrs())
	if err != nil {
		return nil, fmt.Errorf("serialize: encoding %s state: %w", r.Identity(), err)
	}
	return map[string]any{
		r.Type().Name: map[string]any{
			"id":     id,
			"wanted": wanted,
		},
	}, nil
}

// EncodeTransition renders t as {typeName: {instr: {...}}}. Results are
// run-time state, not declared configuration, and are never serialized.
func EncodeTransition(t typesystem.Transition) (map[string]any, error) {
	instr, err := attrsToGeneric(t.InstrAttrs())
	if err != nil {
		return nil, fmt.Errorf("serialize: encoding %s instructions: %w", t.Type().Name, err)
	}
	return map[string]any{
		t.Type().Name: map[string]any{
			"instr": instr,
		},
	}, nil
}

// DecodeResource reconstructs a Resource from a single-key envelope,
// looking the type name up in reg.
func DecodeResource(reg *registry.Registry, doc map[string]any) (typesystem.Resource, diagnostics.Diagnostics) {
	typeName, body, derr := soleEntry(doc)
	if derr != nil {
		return nil, diagnostics.Diagnostics{derr}
	}
	rt, ok := reg.ResourceType(typeName)
	if !ok {
		return nil, diagnostics.Diagnostics{diagnostics.NewUnknownType("resource", typeName)}
	}
	bodyMap, ok := body.(map[string]any)
	if !ok {
		return nil, diagnostics.Diagnostics{diagnostics.NewValidationFailure(typeName, body, "expected a mapping with id/wanted keys")}
	}

	merged := map[string]typesystem.Value{}
	if idVals, err := genericToValues(rt.IdentityType, reg, asMap(bodyMap["id"])); err != nil {
		return nil, diagnostics.Diagnostics{diagnostics.NewValidationFailure(typeName+".id", bodyMap["id"], err.Error())}
	} else {
		for k, v := range idVals {
			merged[k] = v
		}
	}
	if wantedVals, err := genericToValues(rt.StateType, reg, asMap(bodyMap["wanted"])); err != nil {
		return nil, diagnostics.Diagnostics{diagnostics.NewValidationFailure(typeName+".wanted", bodyMap["wanted"], err.Error())}
	} else {
		for k, v := range wantedVals {
			merged[k] = v
		}
	}
	return reg.MakeResource(typeName, merged)
}

// DecodeTransition reconstructs a Transition from a single-key envelope.
func DecodeTransition(reg *registry.Registry, doc map[string]any) (typesystem.Transition, diagnostics.Diagnostics) {
	typeName, body, derr := soleEntry(doc)
	if derr != nil {
		return nil, diagnostics.Diagnostics{derr}
	}
	tt, ok := reg.TransitionType(typeName)
	if !ok {
		return nil, diagnostics.Diagnostics{diagnostics.NewUnknownType("transition", typeName)}
	}
	bodyMap, ok := body.(map[string]any)
	if !ok {
		return nil, diagnostics.Diagnostics{diagnostics.NewValidationFailure(typeName, body, "expected a mapping with an instr key")}
	}
	instrVals, err := genericToValues(tt.InstrType, reg, asMap(bodyMap["instr"]))
	if err != nil {
		return nil, diagnostics.Diagnostics{diagnostics.NewValidationFailure(typeName+".instr", bodyMap["instr"], err.Error())}
	}
	return reg.MakeTransition(typeName, instrVals)
}

func soleEntry(doc map[string]any) (string, any, diagnostics.Diagnostic) {
	if len(doc) != 1 {
		return "", nil, diagnostics.NewValidationFailure("", doc, "expected exactly one type-keyed entry")
	}
	for k, v := range doc {
		return k, v, nil
	}
	panic("unreachable")
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// attrsToGeneric converts the attributes of a that differ from their
// default (via NonDefault), for the top-level id/wanted/instr bodies.
// A reference's identity goes through attrsToGenericFull instead, which
// keeps defaults.
func attrsToGeneric(a typesystem.Attrs) (map[string]any, error) {
	out := map[string]any{}
	var outerErr error
	a.NonDefault(func(name string, v typesystem.Value) bool {
		g, err := valueToGeneric(v)
		if err != nil {
			outerErr = fmt.Errorf("attribute %q: %w", name, err)
			return false
		}
		out[name] = g
		return true
	})
	if outerErr != nil {
		return nil, outerErr
	}
	return out, nil
}

func attrsToGenericFull(a typesystem.Attrs) (map[string]any, error) {
	out := map[string]any{}
	for name, v := range a.Map() {
		g, err := valueToGeneric(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out[name] = g
	}
	return out, nil
}

func valueToGeneric(v typesystem.Value) (any, error) {
	if v.IsRef() {
		ref := v.RefVal()
		idGeneric, err := attrsToGenericFull(ref.IDAttrs())
		if err != nil {
			return nil, err
		}
		return map[string]any{"ref": map[string]any{
			"type": ref.Type().Name,
			"id":   idGeneric,
		}}, nil
	}
	if v.IsNull() {
		return nil, nil
	}
	raw, err := ctyyaml.Marshal(v.Cty())
	if err != nil {
		return nil, err
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

func genericToValues(st *typesystem.SimpleType, reg *registry.Registry, body map[string]any) (map[string]typesystem.Value, error) {
	out := map[string]typesystem.Value{}
	for name, raw := range body {
		at := st.AttrType(name)
		if at == nil {
			return nil, fmt.Errorf("unknown attribute %q", name)
		}
		v, err := genericToValue(at, reg, raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func genericToValue(at *typesystem.AttrType, reg *registry.Registry, raw any) (typesystem.Value, error) {
	if raw == nil {
		return typesystem.Null(at.CtyType), nil
	}
	if at.RefType != "" {
		m, ok := raw.(map[string]any)
		if !ok {
			return typesystem.Value{}, fmt.Errorf("expected a reference mapping")
		}
		refBody := asMap(m["ref"])
		typeName, _ := refBody["type"].(string)
		rt, ok := reg.ResourceType(typeName)
		if !ok {
			return typesystem.Value{}, fmt.Errorf("unknown resource type %q", typeName)
		}
		idVals, err := genericToValues(rt.IdentityType, reg, asMap(refBody["id"]))
		if err != nil {
			return typesystem.Value{}, err
		}
		ref, diags := rt.MakeRef(idVals)
		if diags.HasErrors() {
			return typesystem.Value{}, diags.Err()
		}
		return typesystem.Ref(ref), nil
	}
	raw2, err := yaml.Marshal(raw)
	if err != nil {
		return typesystem.Value{}, err
	}
	cv, err := ctyyaml.Unmarshal(raw2, at.CtyType)
	if err != nil {
		return typesystem.Value{}, err
	}
	return typesystem.Plain(cv), nil
}
