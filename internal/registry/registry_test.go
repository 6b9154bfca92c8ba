package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/collector"
	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/typesystem"
)

func testResourceType(t *testing.T, name string) *typesystem.ResourceType {
	t.Helper()
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": mustAttrType(t, typesystem.AttrType{CtyType: cty.String}),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{})
	rt, err := typesystem.NewResourceType(name, identity, state,
		func(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
			return &stub{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
		})
	require.NoError(t, err)
	return rt
}

func mustAttrType(t *testing.T, at typesystem.AttrType) *typesystem.AttrType {
	t.Helper()
	out, err := typesystem.NewAttrType(at)
	require.NoError(t, err)
	return out
}

type stub struct {
	typesystem.ResourceBase
}

func (s *stub) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics { return nil }

func TestRegistry_RegisterResourceTypeRejectsDuplicateName(t *testing.T) {
	reg := registry.New()
	rt := testResourceType(t, "testStub")
	require.NoError(t, reg.RegisterResourceType(rt))
	assert.Error(t, reg.RegisterResourceType(rt))
}

func TestRegistry_SealBlocksFurtherRegistration(t *testing.T) {
	reg := registry.New()
	reg.Seal()
	assert.Error(t, reg.RegisterResourceType(testResourceType(t, "testAfterSeal")))
}

func TestRegistry_ResourceTypeLookup(t *testing.T) {
	reg := registry.New()
	rt := testResourceType(t, "testLookup")
	require.NoError(t, reg.RegisterResourceType(rt))

	got, ok := reg.ResourceType("testLookup")
	require.True(t, ok)
	assert.Same(t, rt, got)

	_, ok = reg.ResourceType("missing")
	assert.False(t, ok)
}

func TestRegistry_MakeResourceUsesRegisteredType(t *testing.T) {
	reg := registry.New()
	rt := testResourceType(t, "testMake")
	require.NoError(t, reg.RegisterResourceType(rt))
	reg.Seal()

	res, diags := reg.MakeResource("testMake", map[string]typesystem.Value{
		"name": typesystem.Plain(cty.StringVal("a")),
	})
	require.Empty(t, diags)
	require.NotNil(t, res)
	assert.Equal(t, "testMake", res.Type().Name)

	_, diags = reg.MakeResource("nope", map[string]typesystem.Value{})
	require.Len(t, diags, 1)
	assert.IsType(t, &diagnostics.UnknownType{}, diags[0])
}

func TestRegistry_CollectorsPreserveRegistrationOrder(t *testing.T) {
	reg := registry.New()
	first := namedCollector{name: "first"}
	second := namedCollector{name: "second"}
	require.NoError(t, reg.RegisterCollector(first))
	require.NoError(t, reg.RegisterCollector(second))

	got := reg.Collectors()
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Name())
	assert.Equal(t, "second", got[1].Name())

	assert.Error(t, reg.RegisterCollector(namedCollector{name: "first"}))
}

type namedCollector struct{ name string }

func (c namedCollector) Name() string                     { return c.name }
func (c namedCollector) Filter(r typesystem.Resource) bool { return false }
func (c namedCollector) Partition(resources []typesystem.Resource) [][]typesystem.Resource {
	return collector.SinglePartition(resources)
}
func (c namedCollector) Collect(group []typesystem.Resource) (typesystem.Aggregate, diagnostics.Diagnostics) {
	return nil, nil
}
