package typesystem

import (
	"fmt"

	"github.com/g2p/systems/internal/diagnostics"
)

// Dependency is anything that can appear on either end of a ResourceGraph
// dependency edge: a Resource, a Transition, a ResourceRef, or a graph
// sentinel such as a checkpoint. Implementations live in whichever package
// owns the concrete node kind; the graph package never needs a reference
// back into this package to accept one.
type Dependency interface {
	// DependencyKey uniquely identifies this node within one ResourceGraph.
	DependencyKey() string
}

// Expander is the subset of ResourceGraph operations a Resource's
// ExpandInto needs. It is implemented by *graph.Graph; defining it here
// (rather than importing the graph package) keeps typesystem free of a
// dependency on the package that depends on it.
type Expander interface {
	AddResource(r Resource, depends ...Dependency) (Resource, diagnostics.Diagnostics)
	AddTransition(t Transition, depends ...Dependency) (Transition, diagnostics.Diagnostics)
	AddCheckpoint(depends ...Dependency) Dependency
	AddDependency(a, b Dependency) diagnostics.Diagnostics
	MakeRef(r Resource, depends ...Dependency) (*ResourceRef, diagnostics.Diagnostics)
	AddToTop(r Resource) (Resource, diagnostics.Diagnostics)
}

// ResourceType is a named entity composed of an identity SimpleType and a
// state SimpleType with disjoint key sets.
type ResourceType struct {
	Name         string
	IdentityType *SimpleType
	StateType    *SimpleType
	// Reader, if set, reads the resource's whole state at once; it takes
	// precedence over per-attribute AttrType readers.
	Reader func(id Attrs) (Attrs, error)
	// New constructs the concrete Resource implementation from its split
	// identity/state Attrs.
	New func(rt *ResourceType, id, wanted Attrs) Resource
}

// NewResourceType validates that identity and state key sets are disjoint.
func NewResourceType(name string, identity, state *SimpleType, newFn func(rt *ResourceType, id, wanted Attrs) Resource) (*ResourceType, error) {
	if err := requireDisjoint(identity, state); err != nil {
		return nil, fmt.Errorf("typesystem: resource type %q: %w", name, err)
	}
	return &ResourceType{Name: name, IdentityType: identity, StateType: state, New: newFn}, nil
}

func requireDisjoint(a, b *SimpleType) error {
	for _, n := range a.names {
		if b.Has(n) {
			return fmt.Errorf("attribute %q appears in both identity and state", n)
		}
	}
	return nil
}

// MakeInstance splits a combined value-dict into identity/state and
// constructs a Resource instance.
func (rt *ResourceType) MakeInstance(vals map[string]Value) (Resource, diagnostics.Diagnostics) {
	idVals := map[string]Value{}
	stateVals := map[string]Value{}
	var diags diagnostics.Diagnostics
	for k, v := range vals {
		switch {
		case rt.IdentityType.Has(k):
			idVals[k] = v
		case rt.StateType.Has(k):
			stateVals[k] = v
		default:
			diags = diags.Append(diagnostics.NewUnknownAttribute(k))
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}
	idAttrs, idDiags := NewAttrs(rt.IdentityType, idVals)
	diags = append(diags, idDiags...)
	wantedAttrs, stateDiags := NewAttrs(rt.StateType, stateVals)
	diags = append(diags, stateDiags...)
	if diags.HasErrors() {
		return nil, diags
	}
	return rt.New(rt, idAttrs, wantedAttrs), nil
}

// MakeRef builds a reference from a (usually partial) identity value-dict.
func (rt *ResourceType) MakeRef(idVals map[string]Value) (*ResourceRef, diagnostics.Diagnostics) {
	idAttrs, diags := NewAttrs(rt.IdentityType, idVals)
	if diags.HasErrors() {
		return nil, diags
	}
	return &ResourceRef{rtype: rt, id: idAttrs}, nil
}

// Identity is the unique key of a Resource: its type name plus identity
// attributes.
type Identity struct {
	TypeName string
	IDAttrs  Attrs
}

func (id Identity) Key() string {
	return id.TypeName + "\x00" + id.IDAttrs.Key()
}

func (id Identity) String() string {
	return fmt.Sprintf("%s(%s)", id.TypeName, id.IDAttrs.Key())
}

// Resource is a declarative statement of desired sub-state, identified by
// type + identity attributes. Concrete resource kinds implement this
// interface; ResourceBase supplies the bookkeeping.
type Resource interface {
	Dependency
	Type() *ResourceType
	IdentityAttrs() Attrs
	WantedAttrs() Attrs
	Identity() Identity
	// ReadAttrs lazily reads live state through AttrType readers, or the
	// type-level whole-state reader when present.
	ReadAttrs() (Attrs, error)
	// ExpandInto populates sub with the transitions (and optionally
	// further resources) needed to reach the wanted state.
	ExpandInto(sub Expander) diagnostics.Diagnostics
}

// ResourceBase implements the bookkeeping common to every Resource:
// identity derivation, attribute access, and the default ReadAttrs. A
// concrete resource type embeds this and implements ExpandInto.
type ResourceBase struct {
	rtype  *ResourceType
	id     Attrs
	wanted Attrs
}

// NewResourceBase constructs the embeddable base. Concrete resource
// constructors (the ResourceType.New callback) call this.
func NewResourceBase(rt *ResourceType, id, wanted Attrs) ResourceBase {
	return ResourceBase{rtype: rt, id: id, wanted: wanted}
}

func (b ResourceBase) Type() *ResourceType    { return b.rtype }
func (b ResourceBase) IdentityAttrs() Attrs   { return b.id }
func (b ResourceBase) WantedAttrs() Attrs     { return b.wanted }
func (b ResourceBase) Identity() Identity     { return Identity{TypeName: b.rtype.Name, IDAttrs: b.id} }
func (b ResourceBase) DependencyKey() string  { return "resource\x00" + b.Identity().Key() }

// ReadAttrs reads current state one attribute at a time through each
// AttrType's Reader, or all at once via the ResourceType's whole-state
// Reader when one is configured. Concrete resources whose state is cheaper
// to read as a unit should override this by shadowing the method on the
// embedding type.
func (b ResourceBase) ReadAttrs() (Attrs, error) {
	if b.rtype.Reader != nil {
		a, err := b.rtype.Reader(b.id)
		if err != nil {
			return Attrs{}, err
		}
		return a, nil
	}
	vals := make(map[string]Value, len(b.rtype.StateType.names))
	var diags diagnostics.Diagnostics
	for _, name := range b.rtype.StateType.names {
		at := b.rtype.StateType.attrs[name]
		if at.RefType != "" {
			// A reference names a graph-time binding, not a fact observable
			// on the host; there is nothing to read back, so the wanted
			// value stands in unchanged.
			vals[name] = b.wanted.MustGet(name)
			continue
		}
		if at.Reader == nil {
			diags = diags.Append(diagnostics.NewValidationFailure(name, nil, "attribute has no reader and the resource type has no whole-state reader"))
			continue
		}
		v, err := at.ReadValue(b.id)
		if err != nil {
			diags = diags.Append(diagnostics.NewValidationFailure(name, nil, err.Error()))
			continue
		}
		vals[name] = v
	}
	if diags.HasErrors() {
		return Attrs{}, diags.Err()
	}
	a, aDiags := NewAttrs(b.rtype.StateType, vals)
	if aDiags.HasErrors() {
		return Attrs{}, aDiags.Err()
	}
	return a, nil
}

// ResourceRef is a proxy carrying a Resource that lives in a containing
// graph scope. It is not itself Expandable.
type ResourceRef struct {
	rtype *ResourceType
	id    Attrs
	bound Resource
}

func (r *ResourceRef) Type() *ResourceType { return r.rtype }
func (r *ResourceRef) IDAttrs() Attrs      { return r.id }

// TargetKey identifies the resource this reference points at, independent
// of whether it has been bound yet.
func (r *ResourceRef) TargetKey() string {
	return Identity{TypeName: r.rtype.Name, IDAttrs: r.id}.Key()
}

// Bound reports whether BindTo has resolved this reference to a concrete
// Resource.
func (r *ResourceRef) Bound() bool { return r.bound != nil }

// BindTo resolves the reference. It may only be called once.
func (r *ResourceRef) BindTo(res Resource) error {
	if r.bound != nil {
		return fmt.Errorf("typesystem: reference to %s already bound", r.TargetKey())
	}
	if res.Type() != r.rtype {
		return fmt.Errorf("typesystem: reference to %s cannot bind to a %s", r.TargetKey(), res.Type().Name)
	}
	if res.Identity().Key() != r.TargetKey() {
		return fmt.Errorf("typesystem: reference to %s cannot bind to %s", r.TargetKey(), res.Identity())
	}
	r.bound = res
	return nil
}

// Deref returns the bound resource, panicking if the reference is still
// unresolved.
func (r *ResourceRef) Deref() Resource {
	if r.bound == nil {
		panic("typesystem: ResourceRef.Deref on an unresolved reference to " + r.TargetKey())
	}
	return r.bound
}

// Unref dereferences if bound, otherwise returns nil; callers that can
// tolerate an unresolved reference (e.g. diagnostics) use this instead of
// Deref.
func (r *ResourceRef) Unref() Resource { return r.bound }

// DependencyKey satisfies Dependency so a reference obtained from one of a
// resource's own identity/state attrs can be passed straight to
// Expander.AddDependency or as a depends argument. Graph resolves a
// *ResourceRef through its own ref-node bookkeeping rather than this key;
// it exists only so the type-check on Dependency passes.
func (r *ResourceRef) DependencyKey() string { return "resource\x00" + r.TargetKey() }

// Aggregate marks a resource-like value produced by a Collector. Aggregates
// must expand only into transitions; they never emit further resources.
// Embed AggregateBase (which itself embeds ResourceBase) to satisfy this
// marker.
type Aggregate interface {
	Resource
	isAggregate()
}

// AggregateBase embeds ResourceBase and implements the Aggregate marker.
type AggregateBase struct {
	ResourceBase
}

func (AggregateBase) isAggregate() {}
