// Package directory implements the Directory resource: a filesystem
// directory identified by its absolute path, with a desired presence, mode,
// and optional owning user.
package directory

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/transitions/gofunc"
	"github.com/g2p/systems/internal/typesystem"
)

const TypeName = "Directory"

var Type *typesystem.ResourceType

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"path": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String, Validate: validPath})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"present": must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.True), CtyType: cty.Bool, Reader: readPresent})),
		"mode":    must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.NumberIntVal(0755)), CtyType: cty.Number, Reader: readMode})),
		"owner":   must(typesystem.NewAttrType(typesystem.AttrType{Optional: true, RefType: "User"})),
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

func validPath(v typesystem.Value) error {
	p := v.Cty().AsString()
	if !filepath.IsAbs(p) {
		return fmt.Errorf("directory path %q must be absolute", p)
	}
	return nil
}

func readPresent(id typesystem.Attrs) (typesystem.Value, error) {
	path := id.MustGet("path").Cty().AsString()
	fi, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return typesystem.Plain(cty.False), nil
	}
	if err != nil {
		return typesystem.Value{}, err
	}
	return typesystem.Plain(cty.BoolVal(fi.IsDir())), nil
}

func readMode(id typesystem.Attrs) (typesystem.Value, error) {
	path := id.MustGet("path").Cty().AsString()
	fi, err := os.Lstat(path)
	if err != nil {
		return typesystem.Plain(cty.NumberIntVal(0755)), nil
	}
	return typesystem.Plain(cty.NumberIntVal(int64(fi.Mode().Perm()))), nil
}

// Directory is a managed filesystem directory.
type Directory struct {
	typesystem.ResourceBase
}

func newResource(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &Directory{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

// New builds a Directory resource directly; ExpandInto implementations use
// this instead of going through a Registry (Expander carries no registry
// reference by design).
func New(path string, opts ...Option) (*Directory, diagnostics.Diagnostics) {
	idVals := map[string]typesystem.Value{"path": typesystem.Plain(cty.StringVal(path))}
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
	return newResource(Type, id, wanted).(*Directory), nil
}

// Option configures a Directory's state attrs.
type Option func(map[string]typesystem.Value)

func WithPresent(present bool) Option {
	return func(m map[string]typesystem.Value) { m["present"] = typesystem.Plain(cty.BoolVal(present)) }
}

func WithMode(mode int) Option {
	return func(m map[string]typesystem.Value) { m["mode"] = typesystem.Plain(cty.NumberIntVal(int64(mode))) }
}

func WithOwner(ref *typesystem.ResourceRef) Option {
	return func(m map[string]typesystem.Value) { m["owner"] = typesystem.Ref(ref) }
}

// Path returns this directory's identifying path.
func (d *Directory) Path() string {
	return d.IdentityAttrs().MustGet("path").Cty().AsString()
}

// ExpandInto emits a single GoFunc transition that creates, chmods,
// chowns, or removes the directory to reach the wanted state.
func (d *Directory) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	path := d.Path()
	present1 := d.WantedAttrs().MustGet("present").Cty().True()
	mode := int(mustInt(d.WantedAttrs().MustGet("mode")))

	var ownerUID func() (int, error)
	if ov, ok := d.WantedAttrs().Get("owner"); ok && !ov.IsNull() {
		ref := ov.RefVal()
		ownerUID = func() (int, error) {
			if !ref.Bound() {
				return 0, fmt.Errorf("directory %s: owner reference unresolved", path)
			}
			return uidOf(ref.Deref())
		}
	}

	fn := func() error {
		_, err := os.Lstat(path)
		exists := err == nil
		if present1 {
			if !exists {
				if err := os.MkdirAll(path, os.FileMode(mode)); err != nil {
					return err
				}
			}
			if err := os.Chmod(path, os.FileMode(mode)); err != nil {
				return err
			}
			if ownerUID != nil {
				uid, err := ownerUID()
				if err != nil {
					return err
				}
				if err := os.Chown(path, uid, -1); err != nil {
					return err
				}
			}
			return nil
		}
		if exists {
			return os.Remove(path)
		}
		return nil
	}

	_, diags := sub.AddTransition(gofunc.New("directory:"+path, fn))
	return diags
}

func mustInt(v typesystem.Value) int64 {
	f, _ := v.Cty().AsBigFloat().Int64()
	return f
}

// uidOf is overridden in tests; production resolves a User resource's
// identity name through the host's user database.
var uidOf = func(res typesystem.Resource) (int, error) {
	name := res.IdentityAttrs().MustGet("name").Cty().AsString()
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

// Register adds the Directory resource type to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterResourceType(Type)
}
