package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/graph"
	"github.com/g2p/systems/internal/typesystem"
)

func realizeAll(t *testing.T, g *graph.Graph) {
	t.Helper()
	order, diags := g.SortedTransitions()
	require.Empty(t, diags)
	for _, tr := range order {
		_, err := tr.Realize()
		require.NoError(t, err)
	}
}

func TestExpandInto_CreatesDirectoryWithRequestedMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub")
	d, diags := New(path, WithMode(0700))
	require.Empty(t, diags)

	g := graph.New()
	_, diags = g.AddResource(d)
	require.Empty(t, diags)
	require.Empty(t, g.ExpandResource(d))
	realizeAll(t, g)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
	require.Equal(t, os.FileMode(0700), fi.Mode().Perm())
}

func TestExpandInto_AbsentRemovesExistingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub")
	require.NoError(t, os.Mkdir(path, 0755))

	d, diags := New(path, WithPresent(false))
	require.Empty(t, diags)

	g := graph.New()
	_, diags = g.AddResource(d)
	require.Empty(t, diags)
	require.Empty(t, g.ExpandResource(d))
	realizeAll(t, g)

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestExpandInto_AbsentOnMissingDirectoryIsANoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-created")
	d, diags := New(path, WithPresent(false))
	require.Empty(t, diags)

	g := graph.New()
	_, diags = g.AddResource(d)
	require.Empty(t, diags)
	require.Empty(t, g.ExpandResource(d))
	realizeAll(t, g)
}

func TestExpandInto_ChownsThroughResolvedOwnerReference(t *testing.T) {
	prev := uidOf
	defer func() { uidOf = prev }()

	var sawOwnerName string
	uidOf = func(res typesystem.Resource) (int, error) {
		sawOwnerName = res.IdentityAttrs().MustGet("name").Cty().AsString()
		return os.Getuid(), nil
	}

	userType := ownerFixtureType(t)
	ownerID, diags := typesystem.NewAttrs(userType.IdentityType, map[string]typesystem.Value{"name": typesystem.Plain(cty.StringVal("deploy"))})
	require.Empty(t, diags)
	ownerWanted, diags := typesystem.NewAttrs(userType.StateType, map[string]typesystem.Value{})
	require.Empty(t, diags)
	owner := userType.New(userType, ownerID, ownerWanted)

	g := graph.New()
	addedOwner, diags := g.AddResource(owner)
	require.Empty(t, diags)
	ref, diags := g.MakeRef(addedOwner)
	require.Empty(t, diags)

	path := filepath.Join(t.TempDir(), "owned")
	d, diags := New(path, WithOwner(ref))
	require.Empty(t, diags)
	_, diags = g.AddResource(d)
	require.Empty(t, diags)

	require.Empty(t, g.ExpandResource(owner))
	require.Empty(t, g.ExpandResource(d))
	realizeAll(t, g)

	require.Equal(t, "deploy", sawOwnerName)
}

type ownerFixture struct {
	typesystem.ResourceBase
}

func (o *ownerFixture) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics { return nil }

func ownerFixtureType(t *testing.T) *typesystem.ResourceType {
	t.Helper()
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": mustAttrType(t, typesystem.AttrType{CtyType: cty.String}),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{})
	rt, err := typesystem.NewResourceType("User", identity, state,
		func(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
			return &ownerFixture{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
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
