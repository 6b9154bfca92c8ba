package serialize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/graph"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/serialize"
	"github.com/g2p/systems/internal/transitions/command"
	"github.com/g2p/systems/internal/typesystem"
)

func sealedRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, command.Register(reg))
	require.NoError(t, reg.RegisterResourceType(hostType))
	require.NoError(t, reg.RegisterResourceType(mountType))
	reg.Seal()
	return reg
}

// mount models a composite whose cross-resource reference lives in its
// identity attrs rather than its state, like PgUser's cluster or
// RailsApp's location.
type mount struct {
	typesystem.ResourceBase
}

func (m *mount) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics { return nil }

var mountType *typesystem.ResourceType

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"host": must(typesystem.NewAttrType(typesystem.AttrType{RefType: "testHost"})),
		"path": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{})
	rt, err := typesystem.NewResourceType("testMount", identity, state,
		func(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
			return &mount{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
		})
	if err != nil {
		panic(err)
	}
	mountType = rt
}

type host struct {
	typesystem.ResourceBase
}

func (h *host) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics { return nil }

var hostType *typesystem.ResourceType

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"port": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.Number, Optional: true})),
	})
	rt, err := typesystem.NewResourceType("testHost", identity, state,
		func(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
			return &host{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
		})
	if err != nil {
		panic(err)
	}
	hostType = rt
}

func must(at *typesystem.AttrType, err error) *typesystem.AttrType {
	if err != nil {
		panic(err)
	}
	return at
}

func TestEncodeDecodeResource_RoundTripsNonDefaultAttributes(t *testing.T) {
	reg := sealedRegistry(t)

	id, diags := typesystem.NewAttrs(hostType.IdentityType, map[string]typesystem.Value{"name": typesystem.Plain(cty.StringVal("db1"))})
	require.Empty(t, diags)
	wanted, diags := typesystem.NewAttrs(hostType.StateType, map[string]typesystem.Value{"port": typesystem.Plain(cty.NumberIntVal(5432))})
	require.Empty(t, diags)
	r := hostType.New(hostType, id, wanted)

	doc, err := serialize.EncodeResource(r)
	require.NoError(t, err)

	body, ok := doc["testHost"].(map[string]any)
	require.True(t, ok)
	wantedBody, ok := body["wanted"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, wantedBody, "port")

	decoded, diags := serialize.DecodeResource(reg, doc)
	require.Empty(t, diags)
	assert.True(t, decoded.IdentityAttrs().Equal(r.IdentityAttrs()))
	assert.True(t, decoded.WantedAttrs().Equal(r.WantedAttrs()))
}

func TestEncodeDecodeTransition_RoundTripsInstructions(t *testing.T) {
	reg := sealedRegistry(t)

	tr, diags := command.New([]string{"echo", "hi"}, command.WithUsername("deploy"))
	require.Empty(t, diags)

	doc, err := serialize.EncodeTransition(tr)
	require.NoError(t, err)

	decoded, diags := serialize.DecodeTransition(reg, doc)
	require.Empty(t, diags)
	assert.True(t, decoded.InstrAttrs().Equal(tr.InstrAttrs()))
}

func TestDecodeResource_UnknownTypeNameFails(t *testing.T) {
	reg := sealedRegistry(t)
	_, diags := serialize.DecodeResource(reg, map[string]any{"testBogus": map[string]any{"id": map[string]any{}, "wanted": map[string]any{}}})
	require.Len(t, diags, 1)
	assert.IsType(t, &diagnostics.UnknownType{}, diags[0])
}

func TestDecodeResource_RejectsMultiKeyEnvelope(t *testing.T) {
	reg := sealedRegistry(t)
	_, diags := serialize.DecodeResource(reg, map[string]any{
		"testHost": map[string]any{},
		"extra":    map[string]any{},
	})
	require.Len(t, diags, 1)
	assert.IsType(t, &diagnostics.ValidationFailure{}, diags[0])
}

// A composite decoded from YAML with its cross-resource reference carried
// as an identity attr (not state) must still resolve once its target is
// added to the same graph: AddResource has to track identity-attr
// references exactly like state-attr ones, not just whichever Graph.MakeRef
// happened to bind synchronously at construction time.
func TestDecodeResource_IdentityAttrReferenceResolvesThroughGraph(t *testing.T) {
	reg := sealedRegistry(t)

	hostID, diags := typesystem.NewAttrs(hostType.IdentityType, map[string]typesystem.Value{"name": typesystem.Plain(cty.StringVal("db1"))})
	require.Empty(t, diags)
	ref, diags := hostType.MakeRef(hostID.Map())
	require.Empty(t, diags)

	mountID, diags := typesystem.NewAttrs(mountType.IdentityType, map[string]typesystem.Value{
		"host": typesystem.Ref(ref),
		"path": typesystem.Plain(cty.StringVal("/srv")),
	})
	require.Empty(t, diags)
	mountWanted, diags := typesystem.NewAttrs(mountType.StateType, map[string]typesystem.Value{})
	require.Empty(t, diags)
	m := mountType.New(mountType, mountID, mountWanted)

	mountDoc, err := serialize.EncodeResource(m)
	require.NoError(t, err)
	decodedMount, diags := serialize.DecodeResource(reg, mountDoc)
	require.Empty(t, diags)

	hostWanted, diags := typesystem.NewAttrs(hostType.StateType, map[string]typesystem.Value{})
	require.Empty(t, diags)
	h := hostType.New(hostType, hostID, hostWanted)
	hostDoc, err := serialize.EncodeResource(h)
	require.NoError(t, err)
	decodedHost, diags := serialize.DecodeResource(reg, hostDoc)
	require.Empty(t, diags)

	decodedRef := decodedMount.IdentityAttrs().MustGet("host").RefVal()
	require.False(t, decodedRef.Bound(), "a ref decoded from YAML starts out unbound")

	g := graph.New()
	_, diags = g.AddResource(decodedMount)
	require.Empty(t, diags)
	assert.True(t, g.HasUnresolvedReferences(), "the host reference has no target in the graph yet")

	_, diags = g.AddResource(decodedHost)
	require.Empty(t, diags)

	assert.True(t, decodedRef.Bound(), "adding the referenced host must resolve the decoded identity-attr reference")
	assert.False(t, g.HasUnresolvedReferences())
}
