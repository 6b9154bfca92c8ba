// Package diagnostics defines the typed, severity-tagged error values the
// planning engine reports, and a way to accumulate several of them before
// giving up.
package diagnostics

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Severity classifies how serious a Diagnostic is. The engine currently
// only ever produces errors, but the type exists so collaborators can
// surface warnings through the same channel without a breaking change.
type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	default:
		return "error"
	}
}

// Diagnostic is a single structured planning or realization failure.
type Diagnostic interface {
	error
	Severity() Severity
}

// Diagnostics is an ordered collection of Diagnostic values.
type Diagnostics []Diagnostic

// Append adds d to the end of the collection.
func (ds Diagnostics) Append(d Diagnostic) Diagnostics {
	return append(ds, d)
}

// HasErrors reports whether any diagnostic in the set is at Error severity.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity() == Error {
			return true
		}
	}
	return false
}

// Err collapses the set into a single error via go-multierror, or nil if
// the set contains no diagnostics. Non-error severities are still included
// in the aggregate message; callers that only care about failure should
// check HasErrors first.
func (ds Diagnostics) Err() error {
	if len(ds) == 0 {
		return nil
	}
	merr := &multierror.Error{
		ErrorFormat: func(errs []error) string {
			points := make([]string, len(errs))
			for i, e := range errs {
				points[i] = e.Error()
			}
			return fmt.Sprintf("%d diagnostic(s):\n\t%s", len(errs), strings.Join(points, "\n\t"))
		},
	}
	for _, d := range ds {
		merr = multierror.Append(merr, d)
	}
	return merr.ErrorOrNil()
}

type base struct {
	severity Severity
}

func (b base) Severity() Severity { return b.severity }

// ValidationFailure reports that a value did not satisfy its AttrType.
type ValidationFailure struct {
	base
	Attribute string
	Value     any
	Reason    string
}

func NewValidationFailure(attribute string, value any, reason string) *ValidationFailure {
	return &ValidationFailure{Attribute: attribute, Value: value, Reason: reason}
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("attribute %q: invalid value %v: %s", e.Attribute, e.Value, e.Reason)
}

// MissingAttribute reports a required, defaultless attribute left unset.
type MissingAttribute struct {
	base
	Attribute string
}

func NewMissingAttribute(attribute string) *MissingAttribute {
	return &MissingAttribute{Attribute: attribute}
}

func (e *MissingAttribute) Error() string {
	return fmt.Sprintf("attribute %q is required and has no default", e.Attribute)
}

// UnknownAttribute reports a value-dict key not declared by its SimpleType.
type UnknownAttribute struct {
	base
	Attribute string
}

func NewUnknownAttribute(attribute string) *UnknownAttribute {
	return &UnknownAttribute{Attribute: attribute}
}

func (e *UnknownAttribute) Error() string {
	return fmt.Sprintf("unknown attribute %q", e.Attribute)
}

// UnknownType reports a Registry lookup miss.
type UnknownType struct {
	base
	Kind string // "resource", "transition", or "collector"
	Name string
}

func NewUnknownType(kind, name string) *UnknownType {
	return &UnknownType{Kind: kind, Name: name}
}

func (e *UnknownType) Error() string {
	return fmt.Sprintf("unknown %s type %q", e.Kind, e.Name)
}

// IdentityConflict reports two distinct resources sharing an identity.
type IdentityConflict struct {
	base
	TypeName string
	Identity string
}

func NewIdentityConflict(typeName, identity string) *IdentityConflict {
	return &IdentityConflict{TypeName: typeName, Identity: identity}
}

func (e *IdentityConflict) Error() string {
	return fmt.Sprintf("identity conflict for %s %s: a distinct resource with equal identity already exists", e.TypeName, e.Identity)
}

// NotInGraph reports a dependency that refers to a foreign node.
type NotInGraph struct {
	base
	Node string
}

func NewNotInGraph(node string) *NotInGraph {
	return &NotInGraph{Node: node}
}

func (e *NotInGraph) Error() string {
	return fmt.Sprintf("node %s is not a member of this graph", e.Node)
}

// Cycle reports that an edge addition would create a cycle; Path is the
// reverse path already present from the edge's target to its source.
type Cycle struct {
	base
	Path []string
}

func NewCycle(path []string) *Cycle {
	return &Cycle{Path: path}
}

func (e *Cycle) Error() string {
	return fmt.Sprintf("adding this edge would create a cycle: %s", strings.Join(e.Path, " -> "))
}

// StateViolation reports a graph edit attempted outside the Init state.
type StateViolation struct {
	base
	State     string
	Operation string
}

func NewStateViolation(state, operation string) *StateViolation {
	return &StateViolation{State: state, Operation: operation}
}

func (e *StateViolation) Error() string {
	return fmt.Sprintf("cannot %s while realizer is %s", e.Operation, e.State)
}

// AlreadyRealized reports a second Realize call on one Transition.
type AlreadyRealized struct {
	base
	Transition string
}

func NewAlreadyRealized(transition string) *AlreadyRealized {
	return &AlreadyRealized{Transition: transition}
}

func (e *AlreadyRealized) Error() string {
	return fmt.Sprintf("transition %s already realized", e.Transition)
}

// AggregateProducedResource reports an aggregate whose ExpandInto emitted a
// resource, violating the aggregate contract.
type AggregateProducedResource struct {
	base
	Aggregate string
	Resource  string
}

func NewAggregateProducedResource(aggregate, resource string) *AggregateProducedResource {
	return &AggregateProducedResource{Aggregate: aggregate, Resource: resource}
}

func (e *AggregateProducedResource) Error() string {
	return fmt.Sprintf("aggregate %s expanded into resource %s; aggregates may only expand into transitions", e.Aggregate, e.Resource)
}

// TransitionFailed reports a transition's RealizeImpl returning an error.
type TransitionFailed struct {
	base
	Transition string
	Underlying error
}

func NewTransitionFailed(transition string, underlying error) *TransitionFailed {
	return &TransitionFailed{Transition: transition, Underlying: underlying}
}

func (e *TransitionFailed) Error() string {
	return fmt.Sprintf("transition %s failed: %s", e.Transition, e.Underlying)
}

func (e *TransitionFailed) Unwrap() error { return e.Underlying }

// ReferenceUnresolved reports a reference whose target never appeared in
// the same or an ancestor graph by freeze time.
type ReferenceUnresolved struct {
	base
	Target string
}

func NewReferenceUnresolved(target string) *ReferenceUnresolved {
	return &ReferenceUnresolved{Target: target}
}

func (e *ReferenceUnresolved) Error() string {
	return fmt.Sprintf("reference to %s was never resolved", e.Target)
}
