// Package svnworkingcopy implements the SvnWorkingCopy resource: a
// directory kept in sync with a Subversion repository via checkout/update.
package svnworkingcopy

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/resources/aptpackage"
	"github.com/g2p/systems/internal/resources/directory"
	"github.com/g2p/systems/internal/transitions/command"
	"github.com/g2p/systems/internal/typesystem"
)

const TypeName = "SvnWorkingCopy"

var Type *typesystem.ResourceType

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"location": must(typesystem.NewAttrType(typesystem.AttrType{RefType: directory.TypeName})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"url": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
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

// WorkingCopy is a directory checked out from, and kept current with, a
// Subversion repository. Local modifications are overwritten on every
// realize: there is no attempt to reconcile divergent history.
type WorkingCopy struct {
	typesystem.ResourceBase
}

func newResource(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &WorkingCopy{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

// New builds a SvnWorkingCopy resource directly, referencing an
// already-added Directory via locationRef.
func New(locationRef *typesystem.ResourceRef, url string) (*WorkingCopy, diagnostics.Diagnostics) {
	id, diags := typesystem.NewAttrs(Type.IdentityType, map[string]typesystem.Value{
		"location": typesystem.Ref(locationRef),
	})
	if diags.HasErrors() {
		return nil, diags
	}
	wanted, diags := typesystem.NewAttrs(Type.StateType, map[string]typesystem.Value{
		"url": typesystem.Plain(cty.StringVal(url)),
	})
	if diags.HasErrors() {
		return nil, diags
	}
	return newResource(Type, id, wanted).(*WorkingCopy), nil
}

func (w *WorkingCopy) locationRef() *typesystem.ResourceRef {
	return w.IdentityAttrs().MustGet("location").RefVal()
}

// ExpandInto checks out (or updates) the working copy as the directory's
// owner, after ensuring subversion itself is installed. The checkout and
// update commands run unconditionally on every realize: svn itself is
// idempotent about an already-current checkout.
func (w *WorkingCopy) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	ref := w.locationRef()
	if !ref.Bound() {
		return diagnostics.Diagnostics{diagnostics.NewReferenceUnresolved(ref.TargetKey())}
	}
	loc := ref.Deref().(*directory.Directory)
	if !loc.WantedAttrs().MustGet("present").Cty().True() {
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("location", nil, "cannot check out into a directory that is not present")}
	}

	pkg, diags := aptpackage.New("subversion")
	if diags.HasErrors() {
		return diags
	}
	pkgRef, diags := sub.AddToTop(pkg)
	if diags.HasErrors() {
		return diags
	}

	path := loc.Path()
	url := w.WantedAttrs().MustGet("url").Cty().AsString()
	var owner string
	if ov, ok := loc.WantedAttrs().Get("owner"); ok && !ov.IsNull() {
		owner = ov.RefVal().Deref().IdentityAttrs().MustGet("name").Cty().AsString()
	}

	var opts []command.Option
	if owner != "" {
		opts = append(opts, command.WithUsername(owner))
	}

	co, diags := command.New(
		[]string{"/usr/bin/svn", "checkout", "--non-interactive", "--force", "--", url, path},
		opts...,
	)
	if diags.HasErrors() {
		return diags
	}
	coAdded, diags := sub.AddTransition(co, pkgRef, ref)
	if diags.HasErrors() {
		return diags
	}

	up, diags := command.New(
		[]string{"/usr/bin/svn", "update", "--non-interactive", "--force", "--", path},
		opts...,
	)
	if diags.HasErrors() {
		return diags
	}
	_, diags = sub.AddTransition(up, coAdded)
	return diags
}

// Register adds the SvnWorkingCopy resource type to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterResourceType(Type)
}
