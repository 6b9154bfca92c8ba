// Package command implements the Command transition type: a single
// external program invocation, optionally run as another user, optionally
// skipped entirely when an "unless" probe command succeeds. It is the one
// transition almost every resource family in this module eventually
// bottoms out in.
package command

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/typesystem"
)

// TypeName is the registered name of this transition type.
const TypeName = "Command"

// Type is the schema every Command transition is validated against. Built
// once at package init since it depends on nothing but go-cty primitives.
var Type *typesystem.TransitionType

func init() {
	instr := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"cmdline":           must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.List(cty.String)})),
		"username":          must(typesystem.NewAttrType(typesystem.AttrType{Optional: true, CtyType: cty.String})),
		"cwd":               must(typesystem.NewAttrType(typesystem.AttrType{Optional: true, CtyType: cty.String})),
		"input":             must(typesystem.NewAttrType(typesystem.AttrType{Optional: true, CtyType: cty.String})),
		"unless":            must(typesystem.NewAttrType(typesystem.AttrType{Optional: true, CtyType: cty.List(cty.String)})),
		"extra_env":         must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.MapValEmpty(cty.String)), CtyType: cty.Map(cty.String)})),
		"expected_retcodes": must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.ListVal([]cty.Value{cty.NumberIntVal(0)})), CtyType: cty.List(cty.Number)})),
	})
	results := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"stdout":    must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
		"exit_code": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.Number})),
	})
	tt, err := typesystem.NewTransitionType(TypeName, instr, results, newTransition)
	if err != nil {
		panic(err)
	}
	Type = tt
}

func must(at *typesystem.AttrType, err error) *typesystem.AttrType {
	if err != nil {
		panic(err)
	}
	return at
}

func defaultValue(v cty.Value) *typesystem.Value {
	pv := typesystem.Plain(v)
	return &pv
}

// Transition is one external command invocation.
type Transition struct {
	typesystem.TransitionBase
}

func newTransition(tt *typesystem.TransitionType, instr typesystem.Attrs) typesystem.Transition {
	return &Transition{TransitionBase: typesystem.NewTransitionBase(tt, instr)}
}

// Option configures a Command transition built through New.
type Option func(map[string]typesystem.Value)

func WithUsername(u string) Option {
	return func(m map[string]typesystem.Value) { m["username"] = typesystem.Plain(cty.StringVal(u)) }
}

func WithCwd(dir string) Option {
	return func(m map[string]typesystem.Value) { m["cwd"] = typesystem.Plain(cty.StringVal(dir)) }
}

func WithInput(s string) Option {
	return func(m map[string]typesystem.Value) { m["input"] = typesystem.Plain(cty.StringVal(s)) }
}

func WithUnless(argv []string) Option {
	return func(m map[string]typesystem.Value) { m["unless"] = typesystem.Plain(stringsToCty(argv)) }
}

func WithExtraEnv(env map[string]string) Option {
	return func(m map[string]typesystem.Value) {
		vals := map[string]cty.Value{}
		for k, v := range env {
			vals[k] = cty.StringVal(v)
		}
		if len(vals) == 0 {
			m["extra_env"] = typesystem.Plain(cty.MapValEmpty(cty.String))
			return
		}
		m["extra_env"] = typesystem.Plain(cty.MapVal(vals))
	}
}

func WithExpectedRetcodes(codes ...int) Option {
	return func(m map[string]typesystem.Value) {
		vals := make([]cty.Value, len(codes))
		for i, c := range codes {
			vals[i] = cty.NumberIntVal(int64(c))
		}
		m["expected_retcodes"] = typesystem.Plain(cty.ListVal(vals))
	}
}

// New builds a Command transition directly, without going through a
// Registry lookup. Resource ExpandInto implementations call this: the
// Expander interface has no registry access, by design (see typesystem's
// Expander doc).
func New(argv []string, opts ...Option) (*Transition, diagnostics.Diagnostics) {
	vals := map[string]typesystem.Value{"cmdline": typesystem.Plain(stringsToCty(argv))}
	for _, opt := range opts {
		opt(vals)
	}
	attrs, diags := typesystem.NewAttrs(Type.InstrType, vals)
	if diags.HasErrors() {
		return nil, diags
	}
	return newTransition(Type, attrs).(*Transition), nil
}

func stringsToCty(ss []string) cty.Value {
	if len(ss) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(ss))
	for i, s := range ss {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}

func ctyToStrings(v cty.Value) []string {
	if v.IsNull() || !v.IsKnown() {
		return nil
	}
	out := make([]string, 0, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		out = append(out, ev.AsString())
	}
	return out
}

// Realize satisfies typesystem.Transition by running RealizeImpl exactly
// once via the TransitionBase guarantee.
func (t *Transition) Realize() (typesystem.Attrs, error) {
	return t.RealizeOnce(t.RealizeImpl)
}

// RealizeImpl runs the command, honoring unless/username/cwd/extra_env,
// and fails unless the exit code is one of expected_retcodes.
func (t *Transition) RealizeImpl() (map[string]typesystem.Value, error) {
	instr := t.InstrAttrs()

	if unlessV, ok := instr.Get("unless"); ok && !unlessV.IsNull() {
		unless := ctyToStrings(unlessV.Cty())
		if len(unless) > 0 {
			probe := t.buildCmd(unless, "")
			if err := probe.Run(); err == nil {
				return map[string]typesystem.Value{
					"stdout":    typesystem.Plain(cty.StringVal("")),
					"exit_code": typesystem.Plain(cty.NumberIntVal(0)),
				}, nil
			}
		}
	}

	argv := ctyToStrings(instr.MustGet("cmdline").Cty())
	input := ""
	if v, ok := instr.Get("input"); ok && !v.IsNull() {
		input = v.Cty().AsString()
	}
	cmd := t.buildCmd(argv, input)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); !ok {
			return nil, fmt.Errorf("command: running %s: %w", strings.Join(argv, " "), err)
		}
		exitCode = exitErr.ExitCode()
	}

	expected := ctyToNumbers(instr.MustGet("expected_retcodes").Cty())
	if !contains(expected, exitCode) {
		return nil, fmt.Errorf("command: %s exited %d, expected one of %v", strings.Join(argv, " "), exitCode, expected)
	}

	return map[string]typesystem.Value{
		"stdout":    typesystem.Plain(cty.StringVal(stdout.String())),
		"exit_code": typesystem.Plain(cty.NumberIntVal(int64(exitCode))),
	}, nil
}

func (t *Transition) buildCmd(argv []string, input string) *exec.Cmd {
	instr := t.InstrAttrs()
	args := argv
	if v, ok := instr.Get("username"); ok && !v.IsNull() {
		u := v.Cty().AsString()
		args = append([]string{"sudo", "-u", u, "--"}, args...)
	}
	cmd := exec.Command(args[0], args[1:]...)
	if v, ok := instr.Get("cwd"); ok && !v.IsNull() {
		cmd.Dir = v.Cty().AsString()
	}
	env := os.Environ()
	if v, ok := instr.Get("extra_env"); ok && !v.IsNull() {
		for k, ev := range v.Cty().AsValueMap() {
			env = append(env, k+"="+ev.AsString())
		}
	}
	cmd.Env = env
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	return cmd
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func ctyToNumbers(v cty.Value) []int {
	out := make([]int, 0, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		f, _ := ev.AsBigFloat().Int64()
		out = append(out, int(f))
	}
	return out
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Register adds the Command transition type to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterTransitionType(Type)
}
