package graph

import (
	"sort"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/typesystem"
)

// ExpandResource replaces res by a freshly built sub-graph: res.ExpandInto
// populates it, then the sub-graph is spliced between res's Before and
// After sentinels. Because Before/After node keys are derived only from a
// resource's identity, a resource the sub-graph shares with the parent (or
// with a sibling sub-graph spliced earlier) unifies automatically — no
// separate merge step is needed beyond skipping the duplicate node.
func (g *Graph) ExpandResource(res typesystem.Resource) diagnostics.Diagnostics {
	idKey := res.Identity().Key()
	entry, ok := g.expandables[idKey]
	if !ok {
		return diagnostics.Diagnostics{diagnostics.NewNotInGraph(res.Identity().String())}
	}
	if entry.processed {
		return diagnostics.Diagnostics{diagnostics.NewStateViolation("processed", "expand "+res.Identity().String())}
	}

	sub := newSub(g)
	diags := res.ExpandInto(sub)
	if diags.HasErrors() {
		return diags
	}

	for key, n := range sub.nodes {
		if _, exists := g.nodes[key]; exists {
			continue
		}
		g.nodes[key] = n
		g.addEdge(g.first, key)
		g.addEdge(key, g.last)
	}
	for from, tos := range sub.fwd {
		for to := range tos {
			g.addRawEdge(from, to)
		}
	}
	for ref, key := range sub.refNodeKeys {
		g.refNodeKeys[ref] = key
	}
	for target, refs := range sub.refsByTarget {
		g.refsByTarget[target] = append(g.refsByTarget[target], refs...)
	}
	for subIDKey, e := range sub.expandables {
		if _, exists := g.expandables[subIDKey]; !exists {
			g.expandables[subIDKey] = e
		}
	}
	for target := range sub.refsByTarget {
		g.maybeResolveRefs(target)
	}

	g.moveEdges(sub.first, entry.before)
	g.moveEdges(sub.last, entry.after)
	entry.processed = true
	return nil
}

// moveEdges redirects every edge touching n0 onto n1 and discards n0. Used
// to dissolve a spliced sub-graph's own First/Last sentinels into the
// parent resource's Before/After nodes, and to fold a collected resource's
// sentinels into its aggregate's.
func (g *Graph) moveEdges(n0, n1 string) {
	if n0 == n1 {
		return
	}
	for _, pred := range keysOf(g.rev[n0]) {
		g.removeEdge(pred, n0)
		g.addRawEdge(pred, n1)
	}
	for _, succ := range keysOf(g.fwd[n0]) {
		g.removeEdge(n0, succ)
		g.addRawEdge(n1, succ)
	}
	delete(g.nodes, n0)
	delete(g.fwd, n0)
	delete(g.rev, n0)
}

func keysOf(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// CollectResources replaces group with agg: agg is added as a new
// resource, then every member of group has its incoming edges re-parented
// onto agg's Before node and its outgoing edges onto agg's After node, and
// is marked processed. Precondition (enforced by the caller, collector.
// Refine): no member of group has a path to any other member.
func (g *Graph) CollectResources(group []typesystem.Resource, agg typesystem.Aggregate) diagnostics.Diagnostics {
	aggIDKey := agg.Identity().Key()
	if _, exists := g.expandables[aggIDKey]; exists {
		return diagnostics.Diagnostics{diagnostics.NewIdentityConflict(agg.Identity().TypeName, agg.Identity().String())}
	}
	if _, diags := g.AddResource(agg); diags.HasErrors() {
		return diags
	}
	aggEntry := g.expandables[aggIDKey]

	for _, r0 := range group {
		idKey := r0.Identity().Key()
		e0, ok := g.expandables[idKey]
		if !ok {
			return diagnostics.Diagnostics{diagnostics.NewNotInGraph(r0.Identity().String())}
		}
		if e0.processed {
			return diagnostics.Diagnostics{diagnostics.NewStateViolation("processed", "collect "+r0.Identity().String())}
		}
		g.moveEdges(e0.before, aggEntry.before)
		g.moveEdges(e0.after, aggEntry.after)
		e0.processed = true
	}
	return nil
}

// Connected implements collector.Reachability: it reports whether a and b
// are linked by a dependency path in either direction, using the full
// current graph (not merely whatever part a collector is considering).
func (g *Graph) Connected(a, b typesystem.Resource) bool {
	ea, ok1 := g.expandables[a.Identity().Key()]
	eb, ok2 := g.expandables[b.Identity().Key()]
	if !ok1 || !ok2 {
		return false
	}
	return g.reachable(ea.after, eb.before) || g.reachable(eb.after, ea.before)
}

// SortedTransitions returns every transition in a topological order of the
// graph; sentinels and references are excluded. Ties among transitions
// with no mutual constraint are broken by node key, which is stable within
// a call but unspecified in meaning (see spec's sibling-order Open
// Question).
func (g *Graph) SortedTransitions() ([]typesystem.Transition, diagnostics.Diagnostics) {
	order, diag := g.topoSort()
	if diag != nil {
		return nil, diagnostics.Diagnostics{diag}
	}
	var out []typesystem.Transition
	for _, key := range order {
		if n := g.nodes[key]; n.kind == kindTransition {
			out = append(out, n.transition)
		}
	}
	return out, nil
}

// topoSort runs Kahn's algorithm, breaking ties by sorting the ready
// queue on each step so results are reproducible across runs.
func (g *Graph) topoSort() ([]string, diagnostics.Diagnostic) {
	indeg := make(map[string]int, len(g.nodes))
	for k := range g.nodes {
		indeg[k] = 0
	}
	for _, tos := range g.fwd {
		for to := range tos {
			indeg[to]++
		}
	}
	var ready []string
	for k, d := range indeg {
		if d == 0 {
			ready = append(ready, k)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		var freed []string
		for succ := range g.fwd[n] {
			indeg[succ]--
			if indeg[succ] == 0 {
				freed = append(freed, succ)
			}
		}
		sort.Strings(freed)
		ready = append(ready, freed...)
		sort.Strings(ready)
	}
	if len(order) != len(g.nodes) {
		return nil, diagnostics.NewCycle([]string{"topological sort found a residual cycle"})
	}
	return order, nil
}

// IterUnexpandedResources returns every unprocessed, non-aggregate
// resource, ordered by identity key for reproducibility.
func (g *Graph) IterUnexpandedResources() []typesystem.Resource {
	var out []typesystem.Resource
	for _, e := range g.expandables {
		if e.processed {
			continue
		}
		if _, isAgg := e.res.(typesystem.Aggregate); isAgg {
			continue
		}
		out = append(out, e.res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity().Key() < out[j].Identity().Key() })
	return out
}

// IterUnexpandedAggregates returns every unprocessed aggregate, ordered by
// identity key.
func (g *Graph) IterUnexpandedAggregates() []typesystem.Aggregate {
	var out []typesystem.Aggregate
	for _, e := range g.expandables {
		if e.processed {
			continue
		}
		if agg, ok := e.res.(typesystem.Aggregate); ok {
			out = append(out, agg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity().Key() < out[j].Identity().Key() })
	return out
}

// IterUncollectedResources returns every unexpanded, non-aggregate
// resource for which filter reports true.
func (g *Graph) IterUncollectedResources(filter func(typesystem.Resource) bool) []typesystem.Resource {
	var out []typesystem.Resource
	for _, r := range g.IterUnexpandedResources() {
		if filter(r) {
			out = append(out, r)
		}
	}
	return out
}

// HasUnprocessed reports whether any resource or aggregate remains
// unprocessed.
func (g *Graph) HasUnprocessed() bool {
	for _, e := range g.expandables {
		if !e.processed {
			return true
		}
	}
	return false
}
