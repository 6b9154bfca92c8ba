// Package collector defines the Collector extension point: a way for a
// plugin to gather every resource of interest across a whole graph into one
// or more Aggregate resources, once expansion reaches a fixed point.
package collector

import (
	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/typesystem"
)

// Collector picks out resources of interest anywhere in the graph, splits
// them into dependency-compatible groups, and turns each group into a
// single Aggregate that expands into the transitions the group needs as a
// whole (batched package installs, one rendered config file for many
// fragments, and so on).
type Collector interface {
	// Name identifies the collector for diagnostics and registry bookkeeping.
	Name() string
	// Filter reports whether r is of interest to this collector.
	Filter(r typesystem.Resource) bool
	// Partition splits the filtered resources into coarse groups before
	// Refine's dependency-compatible merge runs within each: a collector
	// that can never merge across some boundary of its own (one aggregate
	// per config file, per database cluster, ...) expresses that here.
	// Refine is never asked to merge across a partition this returns, so a
	// Collector with no such boundary can satisfy this with SinglePartition.
	Partition(resources []typesystem.Resource) [][]typesystem.Resource
	// Collect turns one group of filtered resources into an Aggregate. The
	// group has already been confirmed dependency-compatible: no member is
	// reachable from any other member.
	Collect(group []typesystem.Resource) (typesystem.Aggregate, diagnostics.Diagnostics)
}

// SinglePartition is the trivial Partition implementation for a Collector
// with no coarse grouping of its own: everything it filtered is eligible
// to merge with everything else, subject only to Refine's dependency check.
func SinglePartition(resources []typesystem.Resource) [][]typesystem.Resource {
	if len(resources) == 0 {
		return nil
	}
	return [][]typesystem.Resource{resources}
}

// Reachability answers whether two resources are connected by a dependency
// path in either direction, within the graph currently being collected.
// *graph.Graph implements this; it is declared here, rather than imported,
// to keep collector free of a dependency on the package that depends on it.
type Reachability interface {
	Connected(a, b typesystem.Resource) bool
}

// Refine partitions a flat set of filtered resources into the maximal
// dependency-compatible groups: starting from the trivial partition (one
// resource per group), it repeatedly merges any two groups so long as no
// member of one is reachable from any member of the other, until no further
// merge is possible. The result is deterministic given a deterministic
// input order and Reachability.
func Refine(resources []typesystem.Resource, reach Reachability) [][]typesystem.Resource {
	groups := make([][]typesystem.Resource, len(resources))
	for i, r := range resources {
		groups[i] = []typesystem.Resource{r}
	}

	for {
		merged := false
		for i := 0; i < len(groups); i++ {
			for j := i + 1; j < len(groups); j++ {
				if canMerge(groups[i], groups[j], reach) {
					groups[i] = append(groups[i], groups[j]...)
					groups = append(groups[:j], groups[j+1:]...)
					merged = true
					break
				}
			}
			if merged {
				break
			}
		}
		if !merged {
			break
		}
	}
	return groups
}

func canMerge(a, b []typesystem.Resource, reach Reachability) bool {
	for _, ra := range a {
		for _, rb := range b {
			if reach.Connected(ra, rb) {
				return false
			}
		}
	}
	return true
}
