package typesystem

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/g2p/systems/internal/diagnostics"
)

// TransitionType is a named entity composed of an instruction SimpleType
// and a results SimpleType, with disjoint key sets.
type TransitionType struct {
	Name         string
	InstrType    *SimpleType
	ResultsType  *SimpleType
	New          func(tt *TransitionType, instr Attrs) Transition
}

// NewTransitionType validates that instruction and results key sets are
// disjoint.
func NewTransitionType(name string, instr, results *SimpleType, newFn func(tt *TransitionType, instr Attrs) Transition) (*TransitionType, error) {
	if err := requireDisjoint(instr, results); err != nil {
		return nil, fmt.Errorf("typesystem: transition type %q: %w", name, err)
	}
	return &TransitionType{Name: name, InstrType: instr, ResultsType: results, New: newFn}, nil
}

// MakeInstance validates instrVals and constructs a Transition instance.
func (tt *TransitionType) MakeInstance(instrVals map[string]Value) (Transition, diagnostics.Diagnostics) {
	instr, diags := NewAttrs(tt.InstrType, instrVals)
	if diags.HasErrors() {
		return nil, diags
	}
	return tt.New(tt, instr), nil
}

// Transition is an imperative side-effecting operation with instruction
// attributes in and results attributes out, executed exactly once.
// Concrete transition kinds implement this interface; TransitionBase
// supplies the once-only bookkeeping.
type Transition interface {
	Dependency
	Type() *TransitionType
	InstrAttrs() Attrs
	// ResultsAttrs returns the results of a completed realization, or an
	// error if Realize has not yet succeeded.
	ResultsAttrs() (Attrs, error)
	// Realize performs the side effect exactly once via RealizeImpl, then
	// validates and stores the results.
	Realize() (Attrs, error)
	// RealizeImpl performs the host side effect and returns a raw
	// value-dict satisfying the results type.
	RealizeImpl() (map[string]Value, error)
}

// TransitionBase implements identity and the realize-once guarantee.
// Concrete transition types embed this and implement RealizeImpl;
// Realize() on the embedding type should call RealizeOnce.
type TransitionBase struct {
	ttype *TransitionType
	instr Attrs
	id    string

	mu       sync.Mutex
	realized bool
	results  Attrs
}

// NewTransitionBase constructs the embeddable base, assigning a fresh
// graph-node identity (transitions, unlike resources, are not identity
// deduplicated: the same declared operation added twice yields two nodes).
func NewTransitionBase(tt *TransitionType, instr Attrs) TransitionBase {
	return TransitionBase{ttype: tt, instr: instr, id: uuid.NewString()}
}

func (b *TransitionBase) Type() *TransitionType { return b.ttype }
func (b *TransitionBase) InstrAttrs() Attrs      { return b.instr }
func (b *TransitionBase) DependencyKey() string  { return "transition\x00" + b.id }

func (b *TransitionBase) ResultsAttrs() (Attrs, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.realized {
		return Attrs{}, fmt.Errorf("typesystem: realize hasn't been called yet for %s", b.DependencyKey())
	}
	return b.results, nil
}

// RealizeOnce runs impl exactly once, validates its results against the
// TransitionBase's results type, and stores them. A second call returns
// AlreadyRealized.
func (b *TransitionBase) RealizeOnce(impl func() (map[string]Value, error)) (Attrs, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.realized {
		return Attrs{}, diagnostics.NewAlreadyRealized(b.DependencyKey())
	}
	raw, err := impl()
	if err != nil {
		return Attrs{}, diagnostics.NewTransitionFailed(b.DependencyKey(), err)
	}
	results, diags := NewAttrs(b.ttype.ResultsType, raw)
	if diags.HasErrors() {
		return Attrs{}, diags.Err()
	}
	b.results = results
	b.realized = true
	return results, nil
}
