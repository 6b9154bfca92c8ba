// Package user implements the User resource: a system account managed via
// adduser/usermod/deluser, identified by username.
package user

import (
	"fmt"
	"os/user"
	"regexp"

	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/transitions/command"
	"github.com/g2p/systems/internal/typesystem"
)

const TypeName = "User"

var Type *typesystem.ResourceType

var validName = regexp.MustCompile(`^[a-z_][a-z0-9_-]*\$?$`)

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String, Validate: validUsername})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"state": must(typesystem.NewAttrType(typesystem.AttrType{
			Default: defaultValue(cty.StringVal("present")), CtyType: cty.String,
			Enum:   []typesystem.Value{typesystem.Plain(cty.StringVal("present")), typesystem.Plain(cty.StringVal("absent"))},
			Reader: readState,
		})),
		"home":  must(typesystem.NewAttrType(typesystem.AttrType{Optional: true, CtyType: cty.String, Reader: readHome})),
		"shell": must(typesystem.NewAttrType(typesystem.AttrType{Optional: true, CtyType: cty.String, Reader: readShell})),
	})
	rt, err := typesystem.NewResourceType(TypeName, identity, state, newResource)
	if err != nil {
		panic(err)
	}
	Type = rt
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

func validUsername(v typesystem.Value) error {
	if !validName.MatchString(v.Cty().AsString()) {
		return fmt.Errorf("invalid username %q", v.Cty().AsString())
	}
	return nil
}

func lookup(name string) (*user.User, bool) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, false
	}
	return u, true
}

func readState(id typesystem.Attrs) (typesystem.Value, error) {
	name := id.MustGet("name").Cty().AsString()
	if _, ok := lookup(name); ok {
		return typesystem.Plain(cty.StringVal("present")), nil
	}
	return typesystem.Plain(cty.StringVal("absent")), nil
}

func readHome(id typesystem.Attrs) (typesystem.Value, error) {
	name := id.MustGet("name").Cty().AsString()
	if u, ok := lookup(name); ok {
		return typesystem.Plain(cty.StringVal(u.HomeDir)), nil
	}
	return typesystem.Null(cty.String), nil
}

func readShell(id typesystem.Attrs) (typesystem.Value, error) {
	// os/user does not expose the login shell portably; callers that need
	// an authoritative read should configure a ResourceType.Reader backed
	// by getent(1) for their platform. Absent that, the shell reads as
	// null, so a wanted shell always differs from the read state and is
	// passed to adduser/usermod.
	return typesystem.Null(cty.String), nil
}

// User is a managed system account.
type User struct {
	typesystem.ResourceBase
}

func newResource(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &User{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

// New builds a User resource directly.
func New(name string, opts ...Option) (*User, diagnostics.Diagnostics) {
	idVals := map[string]typesystem.Value{"name": typesystem.Plain(cty.StringVal(name))}
	id, diags := typesystem.NewAttrs(Type.IdentityType, idVals)
	if diags.HasErrors() {
		return nil, diags
	}
	stateVals := map[string]typesystem.Value{}
	for _, o := range opts {
		o(stateVals)
	}
	wanted, diags := typesystem.NewAttrs(Type.StateType, stateVals)
	if diags.HasErrors() {
		return nil, diags
	}
	return newResource(Type, id, wanted).(*User), nil
}

// Option configures a User's state attrs.
type Option func(map[string]typesystem.Value)

func WithState(state string) Option {
	return func(m map[string]typesystem.Value) { m["state"] = typesystem.Plain(cty.StringVal(state)) }
}

func WithHome(home string) Option {
	return func(m map[string]typesystem.Value) { m["home"] = typesystem.Plain(cty.StringVal(home)) }
}

func WithShell(shell string) Option {
	return func(m map[string]typesystem.Value) { m["shell"] = typesystem.Plain(cty.StringVal(shell)) }
}

// Name returns this user's identifying username.
func (u *User) Name() string { return u.IdentityAttrs().MustGet("name").Cty().AsString() }

// ExpandInto diffs read vs. wanted state and emits the adduser/usermod/
// deluser Command transition needed to reconcile them, if any.
func (u *User) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	read, err := u.ReadAttrs()
	if err != nil {
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("state", nil, err.Error())}
	}
	wanted := u.WantedAttrs()
	if read.Equal(wanted) {
		return nil
	}

	s0 := read.MustGet("state").Cty().AsString()
	s1 := wanted.MustGet("state").Cty().AsString()
	if s0 == "absent" && s1 == "absent" {
		return nil
	}

	var argv []string
	switch {
	case s0 == "present" && s1 == "present":
		argv = []string{"/usr/sbin/usermod"}
	case s0 == "absent" && s1 == "present":
		argv = []string{"/usr/sbin/adduser", "--system", "--disabled-password"}
	case s0 == "present" && s1 == "absent":
		argv = []string{"/usr/sbin/deluser"}
	default:
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("state", s1, "unreachable state transition")}
	}

	if s1 == "present" {
		if home, ok := wanted.Get("home"); ok && !home.IsNull() {
			argv = append(argv, "--home", home.Cty().AsString())
		}
		if shell, ok := wanted.Get("shell"); ok && !shell.IsNull() {
			argv = append(argv, "--shell", shell.Cty().AsString())
		}
	}
	argv = append(argv, "--", u.Name())

	cmd, diags := command.New(argv)
	if diags.HasErrors() {
		return diags
	}
	_, diags = sub.AddTransition(cmd)
	return diags
}

// Register adds the User resource type to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterResourceType(Type)
}
