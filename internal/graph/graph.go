// Package graph implements ResourceGraph: the mixed DAG of resources,
// transitions, sentinels, and references that the realization engine plans
// and executes over.
package graph

import (
	"fmt"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/typesystem"
)

type nodeKind int

const (
	kindFirst nodeKind = iota
	kindLast
	kindCheckpoint
	kindBefore
	kindAfter
	kindTransition
	kindRef
)

type node struct {
	kind       nodeKind
	resource   typesystem.Resource   // kindBefore, kindAfter
	transition typesystem.Transition // kindTransition
	ref        *typesystem.ResourceRef
}

// Checkpoint is a user-insertable ordering barrier: a sentinel with
// incoming edges from whatever must complete first, and nothing else.
type Checkpoint struct {
	key string
}

// DependencyKey satisfies typesystem.Dependency.
func (c Checkpoint) DependencyKey() string { return c.key }

type expandableEntry struct {
	res       typesystem.Resource
	before    string
	after     string
	processed bool
}

// Graph is a ResourceGraph: it implements typesystem.Expander so that
// Resource.ExpandInto can populate a fresh sub-graph the same way it
// populates the root.
type Graph struct {
	nodes map[string]*node
	fwd   map[string]map[string]struct{}
	rev   map[string]map[string]struct{}

	first string
	last  string

	checkpointSeq int

	// expandables indexes resources/aggregates by identity key.
	expandables map[string]*expandableEntry

	// refsByTarget holds every reference whose target identity has not yet
	// been resolved (or has, it is re-checked and removed from here once
	// bound), keyed by target identity.
	refsByTarget map[string][]*typesystem.ResourceRef
	refNodeKeys  map[*typesystem.ResourceRef]string

	// parent is the enclosing graph when this Graph was created as a
	// sub-graph by ExpandResource; AddToTop walks it to find the root.
	parent *Graph

	// id distinguishes this graph instance's sentinel/checkpoint keys from
	// every other graph's, so splicing a sub-graph's loose nodes into a
	// parent can never collide with the parent's own sentinels.
	id int

	// frozen is set once the owning Realizer's EnsureFrozen has completed
	// all three phases. A frozen graph rejects further mutation through its
	// public API; the engine's own internal splicing (ExpandResource,
	// CollectResources) happens before frozen is set and is unaffected.
	frozen bool
}

var graphSeq int

// New creates an empty graph: just the First/Last sentinel pair and an
// edge between them.
func New() *Graph {
	graphSeq++
	g := &Graph{
		nodes:        map[string]*node{},
		fwd:          map[string]map[string]struct{}{},
		rev:          map[string]map[string]struct{}{},
		expandables:  map[string]*expandableEntry{},
		refsByTarget: map[string][]*typesystem.ResourceRef{},
		refNodeKeys:  map[*typesystem.ResourceRef]string{},
		id:           graphSeq,
	}
	g.first = fmt.Sprintf("\x00first\x00%d", g.id)
	g.last = fmt.Sprintf("\x00last\x00%d", g.id)
	g.nodes[g.first] = &node{kind: kindFirst}
	g.nodes[g.last] = &node{kind: kindLast}
	g.addEdge(g.first, g.last)
	return g
}

// newSub creates a fresh graph to be populated by a Resource's ExpandInto,
// recording parent so AddToTop can find the outermost graph.
func newSub(parent *Graph) *Graph {
	g := New()
	g.parent = parent
	return g
}

// Freeze marks the graph as no longer open to mutation through AddResource,
// AddTransition, AddDependency, AddToTop, or MakeRef. Called once by the
// owning Realizer when EnsureFrozen completes successfully; has no effect
// on sub-graphs, which are always discarded or spliced away before their
// parent ever reaches Frozen.
func (g *Graph) Freeze() { g.frozen = true }

func (g *Graph) checkMutable(operation string) diagnostics.Diagnostics {
	if g.frozen {
		return diagnostics.Diagnostics{diagnostics.NewStateViolation("frozen", operation)}
	}
	return nil
}

func (g *Graph) addEdge(from, to string) {
	if g.fwd[from] == nil {
		g.fwd[from] = map[string]struct{}{}
	}
	g.fwd[from][to] = struct{}{}
	if g.rev[to] == nil {
		g.rev[to] = map[string]struct{}{}
	}
	g.rev[to][from] = struct{}{}
}

func (g *Graph) removeEdge(from, to string) {
	delete(g.fwd[from], to)
	delete(g.rev[to], from)
}

func (g *Graph) hasEdge(from, to string) bool {
	_, ok := g.fwd[from][to]
	return ok
}

// reachable reports whether to is reachable from from via forward edges.
func (g *Graph) reachable(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for succ := range g.fwd[n] {
			if succ == to {
				return true
			}
			if !visited[succ] {
				visited[succ] = true
				queue = append(queue, succ)
			}
		}
	}
	return false
}

// reversePath returns a from->to path (inclusive) if one exists, else nil.
// Used only to build a Cycle diagnostic's Path field.
func (g *Graph) reversePath(from, to string) []string {
	type frame struct {
		node string
		prev *frame
	}
	visited := map[string]bool{from: true}
	queue := []*frame{{node: from}}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if f.node == to {
			var path []string
			for c := f; c != nil; c = c.prev {
				path = append([]string{c.node}, path...)
			}
			return path
		}
		for succ := range g.fwd[f.node] {
			if !visited[succ] {
				visited[succ] = true
				queue = append(queue, &frame{node: succ, prev: f})
			}
		}
	}
	return nil
}

func (g *Graph) addNode(key string, n *node, depends []typesystem.Dependency) diagnostics.Diagnostics {
	g.nodes[key] = n
	g.addEdge(g.first, key)
	g.addEdge(key, g.last)
	var diags diagnostics.Diagnostics
	for _, d := range depends {
		if err := g.addDependencyEdge(d, directDependency{key}); err != nil {
			diags = diags.Append(err)
		}
	}
	return diags
}

// directDependency wraps a raw node key so it can be passed through the
// same edge-resolution path as a typesystem.Dependency.
type directDependency struct{ key string }

func (d directDependency) DependencyKey() string { return d.key }

// sourceKey resolves dep to the node key to use when dep is the source of
// a new edge: a Resource/Aggregate contributes its After sentinel (anyone
// depending on it must wait for its whole expansion), everything else
// resolves to its own node.
func (g *Graph) sourceKey(dep typesystem.Dependency) (string, error) {
	if r, ok := dep.(typesystem.Resource); ok {
		e, ok := g.expandables[r.Identity().Key()]
		if !ok {
			return "", diagnostics.NewNotInGraph(r.Identity().String())
		}
		return e.after, nil
	}
	return g.plainKey(dep)
}

// targetKey resolves dep to the node key to use when dep is the target of
// a new edge: a Resource/Aggregate contributes its Before sentinel.
func (g *Graph) targetKey(dep typesystem.Dependency) (string, error) {
	if r, ok := dep.(typesystem.Resource); ok {
		e, ok := g.expandables[r.Identity().Key()]
		if !ok {
			return "", diagnostics.NewNotInGraph(r.Identity().String())
		}
		return e.before, nil
	}
	return g.plainKey(dep)
}

func (g *Graph) plainKey(dep typesystem.Dependency) (string, error) {
	if dd, ok := dep.(directDependency); ok {
		if _, exists := g.nodes[dd.key]; !exists {
			return "", diagnostics.NewNotInGraph(dd.key)
		}
		return dd.key, nil
	}
	if ref, ok := dep.(*typesystem.ResourceRef); ok {
		// A reference node is only ever added to the refNodeKeys of the
		// graph scope that called MakeRef for it; a resource's own
		// ExpandInto runs in a freshly nested sub-graph, so a ref it
		// received from its constructor (made by an enclosing scope) has
		// to be looked up through the parent chain rather than only here.
		// addRawEdge tolerates an endpoint that isn't in g.nodes yet, so the
		// edge this resolves still lands correctly once ExpandResource
		// splices the sub-graph's edges into the scope that owns the ref.
		for cur := g; cur != nil; cur = cur.parent {
			if key, exists := cur.refNodeKeys[ref]; exists {
				return key, nil
			}
		}
		return "", diagnostics.NewNotInGraph(ref.TargetKey())
	}
	key := dep.DependencyKey()
	if _, exists := g.nodes[key]; !exists {
		return "", diagnostics.NewNotInGraph(key)
	}
	return key, nil
}

func (g *Graph) addDependencyEdge(a, b typesystem.Dependency) diagnostics.Diagnostic {
	from, err := g.sourceKey(a)
	if err != nil {
		return err.(diagnostics.Diagnostic)
	}
	to, err := g.targetKey(b)
	if err != nil {
		return err.(diagnostics.Diagnostic)
	}
	return g.addRawEdge(from, to)
}

func (g *Graph) addRawEdge(from, to string) diagnostics.Diagnostic {
	if from == to {
		return diagnostics.NewCycle([]string{from, to})
	}
	if g.hasEdge(from, to) {
		return nil
	}
	if path := g.reversePath(to, from); path != nil {
		return diagnostics.NewCycle(path)
	}
	g.addEdge(from, to)
	return nil
}

// AddTransition inserts t as a node that depends on each element of
// depends (an edge d -> t for every d), and on nothing else but first/last
// until AddDependency says otherwise.
func (g *Graph) AddTransition(t typesystem.Transition, depends ...typesystem.Dependency) (typesystem.Transition, diagnostics.Diagnostics) {
	if diags := g.checkMutable("add transition " + t.DependencyKey()); diags.HasErrors() {
		return nil, diags
	}
	key := t.DependencyKey()
	if _, exists := g.nodes[key]; exists {
		return t, nil
	}
	diags := g.addNode(key, &node{kind: kindTransition, transition: t}, depends)
	if diags.HasErrors() {
		return nil, diags
	}
	return t, nil
}

// AddResource adds r as a Before/After sentinel pair. If an equal resource
// with the same identity already exists, that existing resource is
// returned instead; if a structurally different resource shares the
// identity, IdentityConflict is returned. Reference-typed attributes,
// whether carried as identity or as state, are wired so that expansion can
// depend on the resources they name (§4.3).
func (g *Graph) AddResource(r typesystem.Resource, depends ...typesystem.Dependency) (typesystem.Resource, diagnostics.Diagnostics) {
	if diags := g.checkMutable("add resource " + r.Identity().String()); diags.HasErrors() {
		return nil, diags
	}
	idKey := r.Identity().Key()
	if e, exists := g.expandables[idKey]; exists {
		if attrsEqual(e.res, r) {
			return e.res, nil
		}
		return nil, diagnostics.Diagnostics{diagnostics.NewIdentityConflict(r.Identity().TypeName, r.Identity().String())}
	}

	beforeKey := "\x00before\x00" + idKey
	afterKey := "\x00after\x00" + idKey
	diags := g.addNode(beforeKey, &node{kind: kindBefore, resource: r}, depends)
	if diags.HasErrors() {
		return nil, diags
	}
	g.addNode(afterKey, &node{kind: kindAfter, resource: r}, nil)
	g.addRawEdge(beforeKey, afterKey)

	g.expandables[idKey] = &expandableEntry{res: r, before: beforeKey, after: afterKey}

	for name, ref := range r.IdentityAttrs().References {
		_ = name
		g.bindOrTrackRef(ref)
	}
	for name, ref := range r.WantedAttrs().References {
		_ = name
		g.bindOrTrackRef(ref)
	}
	g.maybeResolveRefs(idKey)
	return r, nil
}

func attrsEqual(a, b typesystem.Resource) bool {
	return a.IdentityAttrs().Equal(b.IdentityAttrs()) && a.WantedAttrs().Equal(b.WantedAttrs())
}

// AddCheckpoint inserts a sentinel that depends on each element of depends
// and on which later nodes can depend, expressing "all of these must
// finish first."
func (g *Graph) AddCheckpoint(depends ...typesystem.Dependency) typesystem.Dependency {
	g.checkpointSeq++
	key := fmt.Sprintf("\x00checkpoint\x00%d\x00%d", g.id, g.checkpointSeq)
	g.addNode(key, &node{kind: kindCheckpoint}, depends)
	return Checkpoint{key: key}
}

// AddDependency adds edge a -> b, failing with Cycle if the reverse path
// already exists.
func (g *Graph) AddDependency(a, b typesystem.Dependency) diagnostics.Diagnostics {
	if diags := g.checkMutable("add dependency"); diags.HasErrors() {
		return diags
	}
	if d := g.addDependencyEdge(a, b); d != nil {
		return diagnostics.Diagnostics{d}
	}
	return nil
}

// MakeRef creates a reference node to r (already present, or expected to
// appear later in this or an ancestor graph). Anything depending on the
// returned reference also depends on r once it resolves.
func (g *Graph) MakeRef(r typesystem.Resource, depends ...typesystem.Dependency) (*typesystem.ResourceRef, diagnostics.Diagnostics) {
	if diags := g.checkMutable("make ref to " + r.Identity().String()); diags.HasErrors() {
		return nil, diags
	}
	ref, diags := r.Type().MakeRef(r.IdentityAttrs().Map())
	if diags.HasErrors() {
		return nil, diags
	}
	key := fmt.Sprintf("\x00ref\x00%p", ref)
	nd := g.addNode(key, &node{kind: kindRef, ref: ref}, depends)
	if nd.HasErrors() {
		return nil, nd
	}
	g.refNodeKeys[ref] = key
	g.bindOrTrackRef(ref)
	g.maybeResolveRefs(r.Identity().Key())
	return ref, nil
}

// bindOrTrackRef binds ref immediately if its target is already present,
// otherwise parks it for maybeResolveRefs to pick up later.
func (g *Graph) bindOrTrackRef(ref *typesystem.ResourceRef) {
	if ref.Bound() {
		return
	}
	g.refsByTarget[ref.TargetKey()] = append(g.refsByTarget[ref.TargetKey()], ref)
	g.maybeResolveRefs(ref.TargetKey())
}

func (g *Graph) maybeResolveRefs(idKey string) {
	e, ok := g.expandables[idKey]
	if !ok {
		return
	}
	for _, ref := range g.refsByTarget[idKey] {
		if ref.Bound() {
			continue
		}
		if err := ref.BindTo(e.res); err != nil {
			continue
		}
		if key, ok := g.refNodeKeys[ref]; ok {
			g.addRawEdge(e.after, key)
		}
	}
}

// HasUnresolvedReferences reports whether any tracked reference has no
// bound target yet.
func (g *Graph) HasUnresolvedReferences() bool {
	for _, refs := range g.refsByTarget {
		for _, ref := range refs {
			if !ref.Bound() {
				return true
			}
		}
	}
	return false
}

// UnresolvedReferenceTargets lists the target keys of every reference that
// never resolved, for ReferenceUnresolved diagnostics at freeze time.
func (g *Graph) UnresolvedReferenceTargets() []string {
	var out []string
	for target, refs := range g.refsByTarget {
		for _, ref := range refs {
			if !ref.Bound() {
				out = append(out, target)
				break
			}
		}
	}
	return out
}

// AddToTop adds r to top (the outermost graph in a nested expansion) and
// returns a reference to it usable in the current graph. When g is itself
// the top-level graph, this degenerates to AddResource plus MakeRef.
func (g *Graph) AddToTop(r typesystem.Resource) (typesystem.Resource, diagnostics.Diagnostics) {
	if diags := g.checkMutable("add to top " + r.Identity().String()); diags.HasErrors() {
		return nil, diags
	}
	top := g
	for top.parent != nil {
		top = top.parent
	}
	added, diags := top.AddResource(r)
	if diags.HasErrors() {
		return nil, diags
	}
	if top == g {
		return added, nil
	}
	if _, diags := g.MakeRef(added); diags.HasErrors() {
		return nil, diags
	}
	return added, nil
}
