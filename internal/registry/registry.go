// Package registry holds the process-wide name -> type and name -> collector
// lookup tables. It is populated only at module/plugin load time; Seal makes
// it read-only for the remainder of the process's life, matching the
// concurrency model in spec.md §5.
package registry

import (
	"fmt"
	"sync"

	"github.com/g2p/systems/internal/collector"
	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/typesystem"
)

// Registry is a registry for resource types, transition types, and
// collectors, indexed by name.
type Registry struct {
	mu     sync.RWMutex
	sealed bool

	resourceTypes   map[string]*typesystem.ResourceType
	transitionTypes map[string]*typesystem.TransitionType

	collectorNames map[string]bool
	collectors     []collector.Collector // registration order
}

// New creates an empty, unsealed Registry.
func New() *Registry {
	return &Registry{
		resourceTypes:   map[string]*typesystem.ResourceType{},
		transitionTypes: map[string]*typesystem.TransitionType{},
		collectorNames:  map[string]bool{},
	}
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide Registry instance, creating it on first
// use.
func Global() *Registry {
	globalOnce.Do(func() { global = New() })
	return global
}

func (r *Registry) requireUnsealed(op string) error {
	if r.sealed {
		return fmt.Errorf("registry: cannot %s after Seal", op)
	}
	return nil
}

// RegisterResourceType adds rt under rt.Name. Registering a name twice is
// an error.
func (r *Registry) RegisterResourceType(rt *typesystem.ResourceType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireUnsealed("register resource type " + rt.Name); err != nil {
		return err
	}
	if _, exists := r.resourceTypes[rt.Name]; exists {
		return fmt.Errorf("registry: resource type %q already registered", rt.Name)
	}
	r.resourceTypes[rt.Name] = rt
	return nil
}

// RegisterTransitionType adds tt under tt.Name.
func (r *Registry) RegisterTransitionType(tt *typesystem.TransitionType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireUnsealed("register transition type " + tt.Name); err != nil {
		return err
	}
	if _, exists := r.transitionTypes[tt.Name]; exists {
		return fmt.Errorf("registry: transition type %q already registered", tt.Name)
	}
	r.transitionTypes[tt.Name] = tt
	return nil
}

// RegisterCollector adds c, preserving registration order for the Collect
// phase.
func (r *Registry) RegisterCollector(c collector.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireUnsealed("register collector " + c.Name()); err != nil {
		return err
	}
	if r.collectorNames[c.Name()] {
		return fmt.Errorf("registry: collector %q already registered", c.Name())
	}
	r.collectorNames[c.Name()] = true
	r.collectors = append(r.collectors, c)
	return nil
}

// Seal marks the registry read-only. Subsequent Register* calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// ResourceType looks up a resource type by name.
func (r *Registry) ResourceType(name string) (*typesystem.ResourceType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.resourceTypes[name]
	return rt, ok
}

// TransitionType looks up a transition type by name.
func (r *Registry) TransitionType(name string) (*typesystem.TransitionType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tt, ok := r.transitionTypes[name]
	return tt, ok
}

// Collectors returns the registered collectors in registration order.
func (r *Registry) Collectors() []collector.Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]collector.Collector, len(r.collectors))
	copy(out, r.collectors)
	return out
}

// MakeResource looks up typeName and constructs a Resource from vals.
func (r *Registry) MakeResource(typeName string, vals map[string]typesystem.Value) (typesystem.Resource, diagnostics.Diagnostics) {
	rt, ok := r.ResourceType(typeName)
	if !ok {
		return nil, diagnostics.Diagnostics{diagnostics.NewUnknownType("resource", typeName)}
	}
	return rt.MakeInstance(vals)
}

// MakeTransition looks up typeName and constructs a Transition from vals.
func (r *Registry) MakeTransition(typeName string, vals map[string]typesystem.Value) (typesystem.Transition, diagnostics.Diagnostics) {
	tt, ok := r.TransitionType(typeName)
	if !ok {
		return nil, diagnostics.Diagnostics{diagnostics.NewUnknownType("transition", typeName)}
	}
	return tt.MakeInstance(vals)
}
