package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/graph"
	"github.com/g2p/systems/internal/transitions/command"
	"github.com/g2p/systems/internal/typesystem"
)

// probe is a minimal identity-only resource, used wherever a test needs a
// resource node but doesn't care about its expansion.
type probe struct {
	typesystem.ResourceBase
}

var probeType *typesystem.ResourceType

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": mustAttr(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"label": mustAttr(typesystem.NewAttrType(typesystem.AttrType{Optional: true, CtyType: cty.String})),
	})
	rt, err := typesystem.NewResourceType("testProbe", identity, state, newProbe)
	if err != nil {
		panic(err)
	}
	probeType = rt
}

func mustAttr(at *typesystem.AttrType, err error) *typesystem.AttrType {
	if err != nil {
		panic(err)
	}
	return at
}

func newProbe(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &probe{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

func newProbeResource(t *testing.T, name string, label string) *probe {
	t.Helper()
	id, diags := typesystem.NewAttrs(probeType.IdentityType, map[string]typesystem.Value{"name": typesystem.Plain(cty.StringVal(name))})
	require.Empty(t, diags)
	stateVals := map[string]typesystem.Value{}
	if label != "" {
		stateVals["label"] = typesystem.Plain(cty.StringVal(label))
	}
	wanted, diags := typesystem.NewAttrs(probeType.StateType, stateVals)
	require.Empty(t, diags)
	return newProbe(probeType, id, wanted).(*probe)
}

func (p *probe) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics { return nil }

// outerFixture and compositeFixture model Scenario D: a Composite resource
// whose expansion depends, through a reference held since construction, on
// a resource living one scope further out.
type outerFixture struct {
	typesystem.ResourceBase
}

type compositeFixture struct {
	typesystem.ResourceBase
}

var (
	outerFixtureType     *typesystem.ResourceType
	compositeFixtureType *typesystem.ResourceType
)

func init() {
	outerIdentity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": mustAttr(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
	})
	outerState := typesystem.NewSimpleType(map[string]*typesystem.AttrType{})
	ot, err := typesystem.NewResourceType("testOuter", outerIdentity, outerState,
		func(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
			return &outerFixture{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
		})
	if err != nil {
		panic(err)
	}
	outerFixtureType = ot

	compositeIdentity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": mustAttr(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
	})
	compositeState := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"outer": mustAttr(typesystem.NewAttrType(typesystem.AttrType{RefType: "testOuter"})),
	})
	ct, err := typesystem.NewResourceType("testComposite", compositeIdentity, compositeState,
		func(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
			return &compositeFixture{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
		})
	if err != nil {
		panic(err)
	}
	compositeFixtureType = ct
}

func newOuterFixture(t *testing.T, name string) *outerFixture {
	t.Helper()
	id, diags := typesystem.NewAttrs(outerFixtureType.IdentityType, map[string]typesystem.Value{"name": typesystem.Plain(cty.StringVal(name))})
	require.Empty(t, diags)
	wanted, diags := typesystem.NewAttrs(outerFixtureType.StateType, map[string]typesystem.Value{})
	require.Empty(t, diags)
	return outerFixtureType.New(outerFixtureType, id, wanted).(*outerFixture)
}

func (o *outerFixture) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	cmd, diags := command.New([]string{"echo", "outer-" + o.IdentityAttrs().MustGet("name").Cty().AsString()})
	if diags.HasErrors() {
		return diags
	}
	_, diags = sub.AddTransition(cmd)
	return diags
}

func newCompositeFixture(t *testing.T, name string, outerRef *typesystem.ResourceRef) *compositeFixture {
	t.Helper()
	id, diags := typesystem.NewAttrs(compositeFixtureType.IdentityType, map[string]typesystem.Value{"name": typesystem.Plain(cty.StringVal(name))})
	require.Empty(t, diags)
	wanted, diags := typesystem.NewAttrs(compositeFixtureType.StateType, map[string]typesystem.Value{"outer": typesystem.Ref(outerRef)})
	require.Empty(t, diags)
	return compositeFixtureType.New(compositeFixtureType, id, wanted).(*compositeFixture)
}

func (c *compositeFixture) outerRef() *typesystem.ResourceRef {
	return c.WantedAttrs().MustGet("outer").RefVal()
}

func (c *compositeFixture) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	ref := c.outerRef()
	if !ref.Bound() {
		return diagnostics.Diagnostics{diagnostics.NewReferenceUnresolved(ref.TargetKey())}
	}
	cmd, diags := command.New([]string{"echo", "composite-" + c.IdentityAttrs().MustGet("name").Cty().AsString()})
	if diags.HasErrors() {
		return diags
	}
	_, diags = sub.AddTransition(cmd, ref)
	return diags
}

func newCommand(t *testing.T, argv ...string) *command.Transition {
	t.Helper()
	c, diags := command.New(argv)
	require.Empty(t, diags)
	return c
}

// Invariant 4: identity-dedup round trip.
func TestAddResource_IdentityDedup(t *testing.T) {
	g := graph.New()
	r1 := newProbeResource(t, "a", "")
	added1, diags := g.AddResource(r1)
	require.Empty(t, diags)

	r2 := newProbeResource(t, "a", "")
	added2, diags := g.AddResource(r2)
	require.Empty(t, diags)
	assert.Same(t, added1, added2, "adding an equal resource twice must return the same logical node")

	r3 := newProbeResource(t, "a", "different")
	_, diags = g.AddResource(r3)
	require.True(t, diags.HasErrors())
	require.Len(t, diags, 1)
	assert.IsType(t, &diagnostics.IdentityConflict{}, diags[0])
}

// Scenario A: a linear dependency orders R1's transitions before R2's.
func TestSortedTransitions_LinearDependency(t *testing.T) {
	g := graph.New()
	t1 := newCommand(t, "echo", "a")
	t2 := newCommand(t, "echo", "b")

	added1, diags := g.AddTransition(t1)
	require.Empty(t, diags)
	_, diags = g.AddTransition(t2, added1)
	require.Empty(t, diags)

	order, diags := g.SortedTransitions()
	require.Empty(t, diags)
	require.Len(t, order, 2)
	assert.Equal(t, t1.DependencyKey(), order[0].DependencyKey())
	assert.Equal(t, t2.DependencyKey(), order[1].DependencyKey())
}

// Scenario E + invariant 6: a reverse edge that would close a cycle is
// rejected and leaves the graph exactly as it was.
func TestAddDependency_CycleRejectedLeavesGraphUnchanged(t *testing.T) {
	g := graph.New()
	r1, diags := g.AddResource(newProbeResource(t, "r1", ""))
	require.Empty(t, diags)
	r2, diags := g.AddResource(newProbeResource(t, "r2", ""))
	require.Empty(t, diags)

	require.Empty(t, g.AddDependency(r1, r2))

	diags = g.AddDependency(r2, r1)
	require.True(t, diags.HasErrors())
	require.Len(t, diags, 1)
	assert.IsType(t, &diagnostics.Cycle{}, diags[0])

	t1 := newCommand(t, "echo", "one")
	t2 := newCommand(t, "echo", "two")
	added1, diags := g.AddTransition(t1, r1)
	require.Empty(t, diags)
	_, diags = g.AddTransition(t2, r2)
	require.Empty(t, diags)
	require.Empty(t, g.AddDependency(added1, t2))

	order, diags := g.SortedTransitions()
	require.Empty(t, diags, "the rejected edge must not have left the graph with a residual cycle")
	require.Len(t, order, 2)
	assert.Equal(t, t1.DependencyKey(), order[0].DependencyKey())
	assert.Equal(t, t2.DependencyKey(), order[1].DependencyKey())
}

// Scenario D: a nested expansion that depends, through a reference made in
// the enclosing scope, on a resource expanded in that same outer scope.
// Every transition from Composite's own expansion must land after every
// transition Outer's expansion produced.
func TestExpandResource_NestedReference(t *testing.T) {
	g := graph.New()

	outer := newOuterFixture(t, "db")
	addedOuter, diags := g.AddResource(outer)
	require.Empty(t, diags)

	ref, diags := g.MakeRef(addedOuter)
	require.Empty(t, diags)
	require.True(t, ref.Bound(), "outer is already present, so MakeRef should resolve immediately")

	composite := newCompositeFixture(t, "app", ref)
	_, diags = g.AddResource(composite)
	require.Empty(t, diags)

	require.Empty(t, g.ExpandResource(outer))
	require.Empty(t, g.ExpandResource(composite))

	order, diags := g.SortedTransitions()
	require.Empty(t, diags)
	require.Len(t, order, 2)
	assert.Equal(t, "transition-echo-outer-first", classify(order[0]))
	assert.Equal(t, "transition-echo-composite-second", classify(order[1]))
}

func classify(tr typesystem.Transition) string {
	cmd, ok := tr.(*command.Transition)
	if !ok {
		return "unknown"
	}
	argv := cmd.InstrAttrs().MustGet("cmdline").Cty()
	var last string
	for it := argv.ElementIterator(); it.Next(); {
		_, v := it.Element()
		last = v.AsString()
	}
	if last == "outer-db" {
		return "transition-echo-outer-first"
	}
	return "transition-echo-composite-second"
}

// Invariant 1: every public operation that succeeds leaves a DAG, i.e.
// SortedTransitions never errors after a sequence of successful calls.
func TestGraph_StaysAcyclicAcrossOperations(t *testing.T) {
	g := graph.New()
	var prev typesystem.Dependency
	for i := 0; i < 5; i++ {
		c := newCommand(t, "echo", string(rune('a'+i)))
		added, diags := g.AddTransition(c, collectDeps(prev)...)
		require.Empty(t, diags)
		prev = added

		_, diags = g.SortedTransitions()
		require.Empty(t, diags, "graph must remain a DAG after every successful operation")
	}
}

func collectDeps(d typesystem.Dependency) []typesystem.Dependency {
	if d == nil {
		return nil
	}
	return []typesystem.Dependency{d}
}

// spec invariant: mutation is rejected once a graph is frozen.
func TestFreeze_RejectsFurtherMutation(t *testing.T) {
	g := graph.New()
	added, diags := g.AddResource(newProbeResource(t, "r1", ""))
	require.Empty(t, diags)
	ref, diags := g.MakeRef(added)
	require.Empty(t, diags)

	g.Freeze()

	_, diags = g.AddResource(newProbeResource(t, "r2", ""))
	require.True(t, diags.HasErrors())
	require.Len(t, diags, 1)
	assert.IsType(t, &diagnostics.StateViolation{}, diags[0])

	_, diags = g.AddTransition(newCommand(t, "echo", "late"))
	require.True(t, diags.HasErrors())
	assert.IsType(t, &diagnostics.StateViolation{}, diags[0])

	diags = g.AddDependency(added, added)
	require.True(t, diags.HasErrors())
	assert.IsType(t, &diagnostics.StateViolation{}, diags[0])

	_, diags = g.MakeRef(added)
	require.True(t, diags.HasErrors())
	assert.IsType(t, &diagnostics.StateViolation{}, diags[0])

	_, diags = g.AddToTop(newProbeResource(t, "r3", ""))
	require.True(t, diags.HasErrors())
	assert.IsType(t, &diagnostics.StateViolation{}, diags[0])

	require.NotNil(t, ref, "the ref made before freezing must remain usable for reads")
}
