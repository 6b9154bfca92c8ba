// Package file implements the File resource: a plain file identified by
// its absolute path, with desired presence, contents, and mode.
package file

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/transitions/gofunc"
	"github.com/g2p/systems/internal/typesystem"
)

const TypeName = "File"

var Type *typesystem.ResourceType

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"path": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String, Validate: validPath})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"present":  must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.True), CtyType: cty.Bool, Reader: readPresent})),
		"contents": must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.StringVal("")), CtyType: cty.String, Reader: readContents})),
		"mode":     must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.NumberIntVal(0600)), CtyType: cty.Number, Reader: readMode})),
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
		return fmt.Errorf("file path %q must be absolute", p)
	}
	return nil
}

func readPresent(id typesystem.Attrs) (typesystem.Value, error) {
	path := id.MustGet("path").Cty().AsString()
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return typesystem.Plain(cty.False), nil
	} else if err != nil {
		return typesystem.Value{}, err
	}
	return typesystem.Plain(cty.True), nil
}

func readContents(id typesystem.Attrs) (typesystem.Value, error) {
	path := id.MustGet("path").Cty().AsString()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return typesystem.Plain(cty.StringVal("")), nil
	}
	if err != nil {
		return typesystem.Value{}, err
	}
	return typesystem.Plain(cty.StringVal(string(b))), nil
}

func readMode(id typesystem.Attrs) (typesystem.Value, error) {
	path := id.MustGet("path").Cty().AsString()
	fi, err := os.Lstat(path)
	if err != nil {
		return typesystem.Plain(cty.NumberIntVal(0600)), nil
	}
	return typesystem.Plain(cty.NumberIntVal(int64(fi.Mode().Perm()))), nil
}

// File is a managed plain file.
type File struct {
	typesystem.ResourceBase
}

func newResource(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &File{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

// New builds a File resource directly, for use from other resources'
// ExpandInto (which has no Registry access).
func New(path string, opts ...Option) (*File, diagnostics.Diagnostics) {
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
	return newResource(Type, id, wanted).(*File), nil
}

// Option configures a File's state attrs.
type Option func(map[string]typesystem.Value)

func WithPresent(present bool) Option {
	return func(m map[string]typesystem.Value) { m["present"] = typesystem.Plain(cty.BoolVal(present)) }
}

func WithContents(s string) Option {
	return func(m map[string]typesystem.Value) { m["contents"] = typesystem.Plain(cty.StringVal(s)) }
}

func WithMode(mode int) Option {
	return func(m map[string]typesystem.Value) { m["mode"] = typesystem.Plain(cty.NumberIntVal(int64(mode))) }
}

// Path returns this file's identifying path.
func (f *File) Path() string { return f.IdentityAttrs().MustGet("path").Cty().AsString() }

// ExpandInto emits a single GoFunc transition that writes or removes the
// file to reach the wanted state. Contents between creation and permission
// setting are kept private via a restrictive umask, matching the
// reference implementation's caution around secrets left in config files.
func (f *File) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	path := f.Path()
	present1 := f.WantedAttrs().MustGet("present").Cty().True()
	contents := f.WantedAttrs().MustGet("contents").Cty().AsString()
	mode := int(mustInt(f.WantedAttrs().MustGet("mode")))

	fn := func() error {
		prevMask := umask(0077)
		defer umask(prevMask)
		if present1 {
			if err := os.WriteFile(path, []byte(contents), os.FileMode(mode)); err != nil {
				return err
			}
			// WriteFile's mode is still subject to the umask just set above;
			// an explicit Chmod bypasses it so the requested mode lands
			// exactly, not just its intersection with 0700.
			return os.Chmod(path, os.FileMode(mode))
		}
		if _, err := os.Lstat(path); err == nil {
			return os.Remove(path)
		}
		return nil
	}

	_, diags := sub.AddTransition(gofunc.New("file:"+path, fn))
	return diags
}

func mustInt(v typesystem.Value) int64 {
	n, _ := v.Cty().AsBigFloat().Int64()
	return n
}

// Register adds the File resource type to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterResourceType(Type)
}
