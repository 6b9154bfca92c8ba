// Package pgdatabase implements the PgDatabase resource: a PostgreSQL
// database owned by a PgUser, with an optional nightly pg_dump backup cron
// entry.
package pgdatabase

import (
	"fmt"
	"regexp"

	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/resources/file"
	"github.com/g2p/systems/internal/resources/pgcluster"
	"github.com/g2p/systems/internal/resources/pguser"
	"github.com/g2p/systems/internal/typesystem"
)

const TypeName = "PgDatabase"

var Type *typesystem.ResourceType

var validDBName = regexp.MustCompile(`^[a-z0-9-]*$`)

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"owner": must(typesystem.NewAttrType(typesystem.AttrType{RefType: pguser.TypeName})),
		"name":  must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String, Validate: validateDBName})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"present":        must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.True), CtyType: cty.Bool})),
		"enable_backups": must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.True), CtyType: cty.Bool})),
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

func validateDBName(v typesystem.Value) error {
	// Matches /etc/cron.daily filename restrictions (see run-parts(8)):
	// database names double as the backup cron job's filename suffix.
	if !validDBName.MatchString(v.Cty().AsString()) {
		return fmt.Errorf("invalid database name %q", v.Cty().AsString())
	}
	return nil
}

// Database is a PostgreSQL database owned by a PgUser.
type Database struct {
	typesystem.ResourceBase
}

func newResource(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &Database{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

// New builds a PgDatabase resource directly.
func New(ownerRef *typesystem.ResourceRef, name string, opts ...Option) (*Database, diagnostics.Diagnostics) {
	idVals := map[string]typesystem.Value{
		"owner": typesystem.Ref(ownerRef),
		"name":  typesystem.Plain(cty.StringVal(name)),
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
	return newResource(Type, id, wanted).(*Database), nil
}

// Option configures a PgDatabase's state attrs.
type Option func(map[string]typesystem.Value)

func WithPresent(present bool) Option {
	return func(m map[string]typesystem.Value) { m["present"] = typesystem.Plain(cty.BoolVal(present)) }
}

func WithBackups(enabled bool) Option {
	return func(m map[string]typesystem.Value) { m["enable_backups"] = typesystem.Plain(cty.BoolVal(enabled)) }
}

func (d *Database) Name() string { return d.IdentityAttrs().MustGet("name").Cty().AsString() }

func (d *Database) ownerRef() *typesystem.ResourceRef {
	return d.IdentityAttrs().MustGet("owner").RefVal()
}

// ExpandInto wires the nightly backup File alongside the create/drop
// Command for this database; both depend on the owning PgUser.
func (d *Database) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	ownerRef := d.ownerRef()
	if !ownerRef.Bound() {
		return diagnostics.Diagnostics{diagnostics.NewReferenceUnresolved(ownerRef.TargetKey())}
	}
	owner := ownerRef.Deref().(*pguser.PgUser)
	clusterRef := owner.IdentityAttrs().MustGet("cluster").RefVal()
	cluster := clusterRef.Deref().(*pgcluster.PgCluster)

	name := d.Name()
	enableBackups := d.WantedAttrs().MustGet("enable_backups").Cty().True()
	backupPath := "/etc/cron.daily/db-backup-" + name
	script := fmt.Sprintf("#!/bin/sh\nset -e\n[ -e /usr/bin/pg_dump ] || exit 0\nexec /usr/bin/pg_dump -Fc -f /var/backups/postgresql/%s-$(/bin/date --rfc-3339=date) -- %s\n", name, name)
	cronFile, diags := file.New(backupPath, file.WithPresent(enableBackups), file.WithMode(0700), file.WithContents(script))
	if diags.HasErrors() {
		return diags
	}
	if _, diags := sub.AddResource(cronFile, ownerRef); diags.HasErrors() {
		return diags
	}

	present1 := d.WantedAttrs().MustGet("present").Cty().True()
	present0, err := cluster.CheckExistence("pg_database", "datname", name)
	if err != nil {
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("present", nil, err.Error())}
	}
	if present0 == present1 {
		return nil
	}

	var trans typesystem.Transition
	if !present0 && present1 {
		c, diags := cluster.CommandTrans([]string{"/usr/bin/createdb", "-e", "--encoding", "UTF8", "--owner", owner.Name(), "--", name})
		if diags.HasErrors() {
			return diags
		}
		trans = c
	} else {
		c, diags := cluster.CommandTrans([]string{"/usr/bin/dropdb", "-e", "--", name})
		if diags.HasErrors() {
			return diags
		}
		trans = c
	}
	added, diags := sub.AddTransition(trans)
	if diags.HasErrors() {
		return diags
	}
	return sub.AddDependency(ownerRef, added)
}

// Register adds the PgDatabase resource type to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterResourceType(Type)
}
