// Package pguser implements the PgUser resource: a PostgreSQL role scoped
// to one PgCluster.
package pguser

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/resources/pgcluster"
	"github.com/g2p/systems/internal/typesystem"
)

const TypeName = "PgUser"

var Type *typesystem.ResourceType

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"cluster": must(typesystem.NewAttrType(typesystem.AttrType{RefType: pgcluster.TypeName})),
		"name":    must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"present": must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.True), CtyType: cty.Bool})),
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

// PgUser is a role within one PgCluster.
type PgUser struct {
	typesystem.ResourceBase
}

func newResource(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &PgUser{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

// New builds a PgUser resource directly, referencing an already-added
// PgCluster via clusterRef (typically returned by sub.AddResource or
// sub.MakeRef on a pgcluster.PgCluster).
func New(clusterRef *typesystem.ResourceRef, name string, opts ...Option) (*PgUser, diagnostics.Diagnostics) {
	idVals := map[string]typesystem.Value{
		"cluster": typesystem.Ref(clusterRef),
		"name":    typesystem.Plain(cty.StringVal(name)),
	}
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
	return newResource(Type, id, wanted).(*PgUser), nil
}

// Option configures a PgUser's state attrs.
type Option func(map[string]typesystem.Value)

func WithPresent(present bool) Option {
	return func(m map[string]typesystem.Value) { m["present"] = typesystem.Plain(cty.BoolVal(present)) }
}

func (u *PgUser) Name() string { return u.IdentityAttrs().MustGet("name").Cty().AsString() }

func (u *PgUser) clusterRef() *typesystem.ResourceRef {
	return u.IdentityAttrs().MustGet("cluster").RefVal()
}

// ReadAttrs probes the cluster for an existing role of this name. It
// requires the cluster reference to already be bound: PgUser's identity
// depends on PgCluster appearing first in the same or an ancestor graph.
func (u *PgUser) ReadAttrs() (typesystem.Attrs, error) {
	ref := u.clusterRef()
	if !ref.Bound() {
		return typesystem.Attrs{}, diagnostics.NewReferenceUnresolved(ref.TargetKey())
	}
	cluster := ref.Deref().(*pgcluster.PgCluster)
	present, err := cluster.CheckExistence("pg_roles", "rolname", u.Name())
	if err != nil {
		return typesystem.Attrs{}, err
	}
	return typesystem.NewAttrs(Type.StateType, map[string]typesystem.Value{
		"present": typesystem.Plain(cty.BoolVal(present)),
	})
}

// ExpandInto creates or drops the role, depending on it and its cluster.
func (u *PgUser) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	read, err := u.ReadAttrs()
	if err != nil {
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("present", nil, err.Error())}
	}
	p0 := read.MustGet("present").Cty().True()
	p1 := u.WantedAttrs().MustGet("present").Cty().True()
	if p0 == p1 {
		return nil
	}

	ref := u.clusterRef()
	cluster := ref.Deref().(*pgcluster.PgCluster)
	if p1 && !cluster.WantedAttrs().MustGet("present").Cty().True() {
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("cluster", nil, "cannot create a user in a cluster that is not present")}
	}

	name := u.Name()
	var trans typesystem.Transition
	if !p0 && p1 {
		c, diags := cluster.CommandTrans([]string{"/usr/bin/createuser", "-e", "-S", "-D", "-R", "-l", "-i", "--", name})
		if diags.HasErrors() {
			return diags
		}
		trans = c
	} else {
		c, diags := cluster.CommandTrans([]string{"/usr/bin/dropuser", "-e", "--", name})
		if diags.HasErrors() {
			return diags
		}
		trans = c
	}

	added, diags := sub.AddTransition(trans)
	if diags.HasErrors() {
		return diags
	}
	return sub.AddDependency(ref, added)
}

// Register adds the PgUser resource type to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterResourceType(Type)
}
