package typesystem_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/typesystem"
)

func mustAttrType(t *testing.T, at typesystem.AttrType) *typesystem.AttrType {
	t.Helper()
	out, err := typesystem.NewAttrType(at)
	require.NoError(t, err)
	return out
}

func TestNewAttrType_RejectsOptionalWithDefault(t *testing.T) {
	def := typesystem.Plain(cty.StringVal("x"))
	_, err := typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String, Optional: true, Default: &def})
	assert.Error(t, err)
}

func TestAttrType_DefaultValue(t *testing.T) {
	def := typesystem.Plain(cty.NumberIntVal(7))
	withDefault := mustAttrType(t, typesystem.AttrType{CtyType: cty.Number, Default: &def})
	assert.True(t, withDefault.DefaultValue().Equal(def))

	optional := mustAttrType(t, typesystem.AttrType{CtyType: cty.String, Optional: true})
	assert.True(t, optional.DefaultValue().IsNull())
}

func TestSimpleType_PrepareValueDict_FillsDefaultsAndRejectsUnknown(t *testing.T) {
	def := typesystem.Plain(cty.NumberIntVal(22))
	st := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": mustAttrType(t, typesystem.AttrType{CtyType: cty.String}),
		"port": mustAttrType(t, typesystem.AttrType{CtyType: cty.Number, Default: &def}),
	})

	out, diags := st.PrepareValueDict(map[string]typesystem.Value{
		"name": typesystem.Plain(cty.StringVal("svc")),
	}, false)
	require.Empty(t, diags)
	assert.True(t, out["port"].Equal(def))

	_, diags = st.PrepareValueDict(map[string]typesystem.Value{
		"name":    typesystem.Plain(cty.StringVal("svc")),
		"bogus":   typesystem.Plain(cty.True),
		"missing": typesystem.NilValue,
	}, false)
	require.True(t, diags.HasErrors())
	var unknown *diagnostics.UnknownAttribute
	found := false
	for _, d := range diags {
		if u, ok := d.(*diagnostics.UnknownAttribute); ok {
			unknown = u
			found = true
		}
	}
	require.True(t, found)
	assert.Equal(t, "bogus", unknown.Attribute)
}

func TestSimpleType_PrepareValueDict_MissingRequiredAttribute(t *testing.T) {
	st := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": mustAttrType(t, typesystem.AttrType{CtyType: cty.String}),
	})
	_, diags := st.PrepareValueDict(map[string]typesystem.Value{}, false)
	require.Len(t, diags, 1)
	assert.IsType(t, &diagnostics.MissingAttribute{}, diags[0])
}

func TestSimpleType_PrepareValueDict_Partial(t *testing.T) {
	st := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": mustAttrType(t, typesystem.AttrType{CtyType: cty.String}),
		"port": mustAttrType(t, typesystem.AttrType{CtyType: cty.Number, Optional: true}),
	})
	out, diags := st.PrepareValueDict(map[string]typesystem.Value{
		"name": typesystem.Plain(cty.StringVal("svc")),
	}, true)
	require.Empty(t, diags)
	_, hasPort := out["port"]
	assert.False(t, hasPort, "partial validation must not fill in defaults for unmentioned keys")
}

func TestAttrs_EqualIgnoresAttributeOrderButNotValue(t *testing.T) {
	st := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"a": mustAttrType(t, typesystem.AttrType{CtyType: cty.String}),
		"b": mustAttrType(t, typesystem.AttrType{CtyType: cty.Number}),
	})
	one, diags := typesystem.NewAttrs(st, map[string]typesystem.Value{
		"a": typesystem.Plain(cty.StringVal("x")),
		"b": typesystem.Plain(cty.NumberIntVal(1)),
	})
	require.Empty(t, diags)
	two, diags := typesystem.NewAttrs(st, map[string]typesystem.Value{
		"b": typesystem.Plain(cty.NumberIntVal(1)),
		"a": typesystem.Plain(cty.StringVal("x")),
	})
	require.Empty(t, diags)
	assert.True(t, one.Equal(two))

	three, diags := typesystem.NewAttrs(st, map[string]typesystem.Value{
		"a": typesystem.Plain(cty.StringVal("x")),
		"b": typesystem.Plain(cty.NumberIntVal(2)),
	})
	require.Empty(t, diags)
	assert.False(t, one.Equal(three))
}

func TestAttrs_KeyIsStableAcrossConstructionOrder(t *testing.T) {
	st := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"a": mustAttrType(t, typesystem.AttrType{CtyType: cty.String}),
		"b": mustAttrType(t, typesystem.AttrType{CtyType: cty.Number}),
	})
	one, diags := typesystem.NewAttrs(st, map[string]typesystem.Value{
		"a": typesystem.Plain(cty.StringVal("x")),
		"b": typesystem.Plain(cty.NumberIntVal(1)),
	})
	require.Empty(t, diags)
	two, diags := typesystem.NewAttrs(st, map[string]typesystem.Value{
		"b": typesystem.Plain(cty.NumberIntVal(1)),
		"a": typesystem.Plain(cty.StringVal("x")),
	})
	require.Empty(t, diags)
	assert.Equal(t, one.Key(), two.Key())
}

func TestAttrs_NonDefaultSkipsDefaultedAttributes(t *testing.T) {
	def := typesystem.Plain(cty.NumberIntVal(5))
	st := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": mustAttrType(t, typesystem.AttrType{CtyType: cty.String}),
		"port": mustAttrType(t, typesystem.AttrType{CtyType: cty.Number, Default: &def}),
	})
	a, diags := typesystem.NewAttrs(st, map[string]typesystem.Value{
		"name": typesystem.Plain(cty.StringVal("svc")),
	})
	require.Empty(t, diags)

	seen := map[string]typesystem.Value{}
	a.NonDefault(func(name string, v typesystem.Value) bool {
		seen[name] = v
		return true
	})
	_, hasPort := seen["port"]
	assert.False(t, hasPort, "an attribute left at its default must not appear in NonDefault")
	_, hasName := seen["name"]
	assert.True(t, hasName)
}

var pingType *typesystem.ResourceType

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"host": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{})
	rt, err := typesystem.NewResourceType("testPing", identity, state,
		func(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
			return &pingResource{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
		})
	if err != nil {
		panic(err)
	}
	pingType = rt
}

func must(at *typesystem.AttrType, err error) *typesystem.AttrType {
	if err != nil {
		panic(err)
	}
	return at
}

type pingResource struct {
	typesystem.ResourceBase
}

func (p *pingResource) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics { return nil }

func TestResourceType_RejectsOverlappingIdentityAndState(t *testing.T) {
	shared := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
	})
	_, err := typesystem.NewResourceType("testOverlap", shared, shared,
		func(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
			return &pingResource{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
		})
	assert.Error(t, err)
}

func TestResourceType_MakeRef_UnboundUntilBindTo(t *testing.T) {
	ref, diags := pingType.MakeRef(map[string]typesystem.Value{"host": typesystem.Plain(cty.StringVal("db1"))})
	require.Empty(t, diags)
	assert.False(t, ref.Bound())

	id, diags := typesystem.NewAttrs(pingType.IdentityType, map[string]typesystem.Value{"host": typesystem.Plain(cty.StringVal("db1"))})
	require.Empty(t, diags)
	wanted, diags := typesystem.NewAttrs(pingType.StateType, map[string]typesystem.Value{})
	require.Empty(t, diags)
	res := pingType.New(pingType, id, wanted)

	require.NoError(t, ref.BindTo(res))
	assert.True(t, ref.Bound())
	assert.Same(t, res, ref.Deref())
}

func TestResourceType_MakeRef_RejectsMismatchedIdentity(t *testing.T) {
	ref, diags := pingType.MakeRef(map[string]typesystem.Value{"host": typesystem.Plain(cty.StringVal("db1"))})
	require.Empty(t, diags)

	id, diags := typesystem.NewAttrs(pingType.IdentityType, map[string]typesystem.Value{"host": typesystem.Plain(cty.StringVal("db2"))})
	require.Empty(t, diags)
	wanted, diags := typesystem.NewAttrs(pingType.StateType, map[string]typesystem.Value{})
	require.Empty(t, diags)
	res := pingType.New(pingType, id, wanted)

	assert.Error(t, ref.BindTo(res))
	assert.False(t, ref.Bound())
}

func TestValue_EqualDistinguishesRefFromPlainAndTrackIdentity(t *testing.T) {
	refA, diags := pingType.MakeRef(map[string]typesystem.Value{"host": typesystem.Plain(cty.StringVal("db1"))})
	require.Empty(t, diags)
	refB, diags := pingType.MakeRef(map[string]typesystem.Value{"host": typesystem.Plain(cty.StringVal("db1"))})
	require.Empty(t, diags)
	refC, diags := pingType.MakeRef(map[string]typesystem.Value{"host": typesystem.Plain(cty.StringVal("db2"))})
	require.Empty(t, diags)

	assert.True(t, typesystem.Ref(refA).Equal(typesystem.Ref(refB)), "two unbound refs to the same identity must compare equal")
	assert.False(t, typesystem.Ref(refA).Equal(typesystem.Ref(refC)))
	assert.False(t, typesystem.Ref(refA).Equal(typesystem.Plain(cty.StringVal("db1"))))
}
