// Package engine implements the Realizer: the state machine that drives a
// ResourceGraph from freshly authored to fully expanded and collected,
// then executes the resulting transition plan.
package engine

import (
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/g2p/systems/internal/collector"
	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/graph"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/typesystem"
)

// State is one of the Realizer's three monotonically advancing states.
type State int

const (
	Init State = iota
	Frozen
	Realized
)

func (s State) String() string {
	switch s {
	case Frozen:
		return "frozen"
	case Realized:
		return "realized"
	default:
		return "init"
	}
}

// Realizer drives one ResourceGraph through EnsureFrozen's three-phase
// fixed point, then Realize's topological execution. It owns its graph
// exclusively; once Frozen, no further graph mutation is permitted.
type Realizer struct {
	graph    *graph.Graph
	registry *registry.Registry
	logger   hclog.Logger
	state    State
}

// Option configures a Realizer at construction.
type Option func(*Realizer)

// WithLogger injects a structured logger; the default discards everything.
func WithLogger(l hclog.Logger) Option {
	return func(r *Realizer) { r.logger = l }
}

// New builds a Realizer over g, looking up resource types, transition
// types, and collectors in reg.
func New(g *graph.Graph, reg *registry.Registry, opts ...Option) *Realizer {
	r := &Realizer{
		graph:    g,
		registry: reg,
		logger:   hclog.NewNullLogger(),
		state:    Init,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the Realizer's current state.
func (r *Realizer) State() State { return r.state }

// Graph returns the underlying ResourceGraph, for callers that need to add
// resources/transitions/dependencies before freezing.
func (r *Realizer) Graph() *graph.Graph { return r.graph }

// EnsureFrozen runs expand, collect, and expand-aggregates in order, each
// to completion, then transitions to Frozen. Calling it again once Frozen
// or Realized is a no-op.
func (r *Realizer) EnsureFrozen() diagnostics.Diagnostics {
	switch r.state {
	case Frozen, Realized:
		return nil
	}
	r.logger.Debug("ensure_frozen: expand phase starting")
	if diags := r.expand(); diags.HasErrors() {
		return diags
	}
	r.logger.Debug("ensure_frozen: collect phase starting")
	if diags := r.collect(); diags.HasErrors() {
		return diags
	}
	r.logger.Debug("ensure_frozen: expand-aggregates phase starting")
	if diags := r.expandAggregates(); diags.HasErrors() {
		return diags
	}
	r.graph.Freeze()
	r.state = Frozen
	r.logger.Debug("ensure_frozen: frozen")
	return nil
}

// expand repeatedly snapshots and expands the unprocessed, non-aggregate
// resources that no registered Collector selects, until none remain; the
// ones a Collector selects are left for the collect phase. Expanding one
// resource may introduce new ones (its sub-graph's own resources), so each
// pass re-snapshots rather than iterating the graph's live state.
func (r *Realizer) expand() diagnostics.Diagnostics {
	for {
		var fresh []typesystem.Resource
	candidates:
		for _, res := range r.graph.IterUnexpandedResources() {
			for _, c := range r.registry.Collectors() {
				if c.Filter(res) {
					continue candidates
				}
			}
			fresh = append(fresh, res)
		}
		if len(fresh) == 0 {
			break
		}
		for _, res := range fresh {
			if r.graph.HasUnresolvedReferences() {
				return diagnostics.Diagnostics{diagnostics.NewReferenceUnresolved(strings.Join(r.graph.UnresolvedReferenceTargets(), ", "))}
			}
			r.logger.Debug("expanding resource", "identity", res.Identity().String())
			if diags := r.graph.ExpandResource(res); diags.HasErrors() {
				return diags
			}
		}
	}
	if r.graph.HasUnresolvedReferences() {
		return diagnostics.Diagnostics{diagnostics.NewReferenceUnresolved(strings.Join(r.graph.UnresolvedReferenceTargets(), ", "))}
	}
	return nil
}

// collect runs every registered Collector once, in registration order,
// over the resources it selects among those not yet processed.
func (r *Realizer) collect() diagnostics.Diagnostics {
	for _, c := range r.registry.Collectors() {
		filtered := r.graph.IterUncollectedResources(c.Filter)
		for _, part := range c.Partition(filtered) {
			groups := collector.Refine(part, r.graph)
			for _, group := range groups {
				if len(group) == 0 {
					continue
				}
				agg, diags := c.Collect(group)
				if diags.HasErrors() {
					return diags
				}
				if diags := r.graph.CollectResources(group, agg); diags.HasErrors() {
					return diags
				}
				r.logger.Debug("collected resources", "collector", c.Name(), "count", len(group), "aggregate", agg.Identity().String())
			}
		}
	}
	return nil
}

// expandAggregates expands every aggregate produced by collect. Aggregates
// may only expand into transitions; an aggregate whose expansion leaves
// any resource unprocessed is an ill-formed plan.
func (r *Realizer) expandAggregates() diagnostics.Diagnostics {
	for _, agg := range r.graph.IterUnexpandedAggregates() {
		r.logger.Debug("expanding aggregate", "identity", agg.Identity().String())
		if diags := r.graph.ExpandResource(agg); diags.HasErrors() {
			return diags
		}
		if leftover := r.graph.IterUnexpandedResources(); len(leftover) > 0 {
			return diagnostics.Diagnostics{diagnostics.NewAggregateProducedResource(agg.Identity().String(), leftover[0].Identity().String())}
		}
	}
	if r.graph.HasUnprocessed() {
		remaining := r.graph.IterUnexpandedAggregates()
		if len(remaining) > 0 {
			return diagnostics.Diagnostics{diagnostics.NewAggregateProducedResource(remaining[0].Identity().String(), remaining[0].Identity().String())}
		}
	}
	return nil
}

// Realize freezes the graph if necessary, then executes every transition
// in topological order. It halts on the first failure without rolling
// back already-realized transitions.
func (r *Realizer) Realize() diagnostics.Diagnostics {
	if diags := r.EnsureFrozen(); diags.HasErrors() {
		return diags
	}
	transitions, diags := r.graph.SortedTransitions()
	if diags.HasErrors() {
		return diags
	}
	for _, t := range transitions {
		r.logger.Debug("realizing transition", "transition", t.DependencyKey())
		if _, err := t.Realize(); err != nil {
			r.logger.Error("transition failed", "transition", t.DependencyKey(), "error", err)
			if d, ok := err.(diagnostics.Diagnostic); ok {
				return diagnostics.Diagnostics{d}
			}
			return diagnostics.Diagnostics{diagnostics.NewTransitionFailed(t.DependencyKey(), err)}
		}
	}
	r.state = Realized
	r.logger.Debug("realize: complete")
	return nil
}

var _ typesystem.Expander = (*graph.Graph)(nil)
