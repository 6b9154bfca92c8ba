// Package gofunc implements a transition whose side effect is an arbitrary
// Go closure rather than an external command. It plays the role the
// reference stack's PythonCode transition plays: an escape hatch for
// resources (File, Directory) whose realization is cheaper done in-process
// than by shelling out.
//
// A GoFunc transition's closure is not representable as a go-cty value, so
// unlike Command it cannot round-trip through serialize; it is meant for
// immediate realization within the same process that built the plan.
package gofunc

import (
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/typesystem"
)

// TypeName is the registered name of this transition type.
const TypeName = "GoFunc"

// Type is the schema every GoFunc transition is validated against: no
// instructions or results are carried as attributes, since the closure
// itself is the payload.
var Type *typesystem.TransitionType

func init() {
	empty := typesystem.NewSimpleType(map[string]*typesystem.AttrType{})
	tt, err := typesystem.NewTransitionType(TypeName, empty, empty, newTransition)
	if err != nil {
		panic(err)
	}
	Type = tt
}

// Transition runs fn exactly once.
type Transition struct {
	typesystem.TransitionBase
	label string
	fn    func() error
}

func newTransition(tt *typesystem.TransitionType, instr typesystem.Attrs) typesystem.Transition {
	return &Transition{TransitionBase: typesystem.NewTransitionBase(tt, instr)}
}

// New builds a GoFunc transition that runs fn on Realize. label is used
// only for logging/diagnostics; it is not an identifying attribute (two
// GoFunc transitions are never deduplicated, like every transition).
func New(label string, fn func() error) *Transition {
	empty, _ := typesystem.NewAttrs(Type.InstrType, map[string]typesystem.Value{})
	t := newTransition(Type, empty).(*Transition)
	t.label = label
	t.fn = fn
	return t
}

func (t *Transition) Realize() (typesystem.Attrs, error) {
	return t.RealizeOnce(t.RealizeImpl)
}

func (t *Transition) RealizeImpl() (map[string]typesystem.Value, error) {
	if err := t.fn(); err != nil {
		return nil, err
	}
	return map[string]typesystem.Value{}, nil
}

// Label returns the diagnostic label passed to New.
func (t *Transition) Label() string { return t.label }

// Register adds the GoFunc transition type to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterTransitionType(Type)
}
