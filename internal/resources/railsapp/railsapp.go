// Package railsapp implements the RailsApp resource: a Rails application
// tree served under runit, with one PostgreSQL database per environment.
//
// The reference composite also manages a RubyGem pin, an Apache
// PassengerSite vhost, and SSL/ruby-pgsql system packages; none of those
// families exist in this module (see the design notes for why), so this
// version covers the application/database/process-supervision slice and
// leaves web-server wiring to whatever vhost mechanism the caller already
// manages.
package railsapp

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"go.yaml.in/yaml/v3"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/resources/aptpackage"
	"github.com/g2p/systems/internal/resources/directory"
	"github.com/g2p/systems/internal/resources/file"
	"github.com/g2p/systems/internal/resources/pgcluster"
	"github.com/g2p/systems/internal/resources/pgdatabase"
	"github.com/g2p/systems/internal/resources/pguser"
	"github.com/g2p/systems/internal/resources/runit"
	"github.com/g2p/systems/internal/resources/user"
	"github.com/g2p/systems/internal/transitions/command"
	"github.com/g2p/systems/internal/typesystem"
)

const TypeName = "RailsApp"

var Type *typesystem.ResourceType

// environments mirrors the reference implementation's fixed env/port
// table; a real deployment would size this to what it actually runs.
var environments = []struct {
	name string
	port int
}{
	{"production", 4334},
	{"test", 5434},
	{"development", 6534},
}

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name":     must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
		"location": must(typesystem.NewAttrType(typesystem.AttrType{RefType: directory.TypeName})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"maint_user": must(typesystem.NewAttrType(typesystem.AttrType{RefType: user.TypeName})),
		"run_user":   must(typesystem.NewAttrType(typesystem.AttrType{RefType: user.TypeName})),
		"hostname":   must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.StringVal("localhost")), CtyType: cty.String})),
		"cluster":    must(typesystem.NewAttrType(typesystem.AttrType{RefType: pgcluster.TypeName})),
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

// App is a Rails application tree, its per-environment databases, and the
// runit service that runs it.
type App struct {
	typesystem.ResourceBase
}

func newResource(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &App{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

// New builds a RailsApp resource directly.
func New(name string, locationRef *typesystem.ResourceRef, maintUserRef, runUserRef, clusterRef *typesystem.ResourceRef, opts ...Option) (*App, diagnostics.Diagnostics) {
	id, diags := typesystem.NewAttrs(Type.IdentityType, map[string]typesystem.Value{
		"name":     typesystem.Plain(cty.StringVal(name)),
		"location": typesystem.Ref(locationRef),
	})
	if diags.HasErrors() {
		return nil, diags
	}
	stateVals := map[string]typesystem.Value{
		"maint_user": typesystem.Ref(maintUserRef),
		"run_user":   typesystem.Ref(runUserRef),
		"cluster":    typesystem.Ref(clusterRef),
	}
	for _, o := range opts {
		o(stateVals)
	}
	wanted, diags := typesystem.NewAttrs(Type.StateType, stateVals)
	if diags.HasErrors() {
		return nil, diags
	}
	return newResource(Type, id, wanted).(*App), nil
}

// Option configures a RailsApp's state attrs.
type Option func(map[string]typesystem.Value)

func WithHostname(h string) Option {
	return func(m map[string]typesystem.Value) { m["hostname"] = typesystem.Plain(cty.StringVal(h)) }
}

func (a *App) Name() string { return a.IdentityAttrs().MustGet("name").Cty().AsString() }

func (a *App) locationRef() *typesystem.ResourceRef {
	return a.IdentityAttrs().MustGet("location").RefVal()
}

// ExpandInto wires the system packages, the per-environment PgUser/
// PgDatabase pair, the runit-supervised app servers, and the generated
// database.yml, in the same dependency shape as the reference composite.
func (a *App) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	locRef := a.locationRef()
	if !locRef.Bound() {
		return diagnostics.Diagnostics{diagnostics.NewReferenceUnresolved(locRef.TargetKey())}
	}
	loc := locRef.Deref().(*directory.Directory)
	if !loc.WantedAttrs().MustGet("present").Cty().True() {
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("location", nil, "cannot deploy into a directory that is not present")}
	}
	locPath := loc.Path()

	wanted := a.WantedAttrs()
	maintUserRef := wanted.MustGet("maint_user").RefVal()
	runUserRef := wanted.MustGet("run_user").RefVal()
	clusterRef := wanted.MustGet("cluster").RefVal()
	if !maintUserRef.Bound() || !runUserRef.Bound() || !clusterRef.Bound() {
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("maint_user/run_user/cluster", nil, "railsapp requires maint_user, run_user, and cluster already resolved")}
	}
	maintUser := maintUserRef.Deref().(*user.User)
	runUser := runUserRef.Deref().(*user.User)
	if !maintUser.WantedAttrs().MustGet("state").Cty().RawEquals(cty.StringVal("present")) {
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("maint_user", nil, "maint_user must be a present User")}
	}
	if !runUser.WantedAttrs().MustGet("state").Cty().RawEquals(cty.StringVal("present")) {
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("run_user", nil, "run_user must be a present User")}
	}
	maintUserName := maintUser.Name()

	name := a.Name()

	var pkgDeps []typesystem.Dependency
	for _, pkgName := range []string{"rake", "ruby-pg"} {
		pkg, diags := aptpackage.New(pkgName)
		if diags.HasErrors() {
			return diags
		}
		added, diags := sub.AddToTop(pkg)
		if diags.HasErrors() {
			return diags
		}
		pkgDeps = append(pkgDeps, added)
	}
	pkgs := sub.AddCheckpoint(pkgDeps...)

	dbMaintUser, diags := pguser.New(clusterRef, maintUserName)
	if diags.HasErrors() {
		return diags
	}
	dbMaintAdded, diags := sub.AddResource(dbMaintUser, clusterRef)
	if diags.HasErrors() {
		return diags
	}
	dbMaintRef, diags := sub.MakeRef(dbMaintAdded)
	if diags.HasErrors() {
		return diags
	}

	svcDirLoc, diags := directory.New(locPath+"/service", directory.WithMode(0755))
	if diags.HasErrors() {
		return diags
	}
	svcDirAdded, diags := sub.AddResource(svcDirLoc, locRef)
	if diags.HasErrors() {
		return diags
	}
	svcDirRef, diags := sub.MakeRef(svcDirAdded)
	if diags.HasErrors() {
		return diags
	}

	svcDirServLoc, diags := directory.New("/etc/service/"+name, directory.WithMode(0755))
	if diags.HasErrors() {
		return diags
	}
	svcDirServAdded, diags := sub.AddResource(svcDirServLoc)
	if diags.HasErrors() {
		return diags
	}
	svcDirServRef, diags := sub.MakeRef(svcDirServAdded)
	if diags.HasErrors() {
		return diags
	}

	dirSvc, diags := runit.NewDirService(svcDirServRef, svcDirRef)
	if diags.HasErrors() {
		return diags
	}
	if _, diags := sub.AddResource(dirSvc, svcDirServRef, svcDirRef); diags.HasErrors() {
		return diags
	}

	dbConf := map[string]map[string]any{}
	var migs []typesystem.Dependency
	for _, env := range environments {
		dbName := fmt.Sprintf("rails-%s-%s", name, env.name)
		dbConf[env.name] = map[string]any{
			"adapter":  "postgresql",
			"database": dbName,
			"username": maintUserName,
		}

		db, diags := pgdatabase.New(dbMaintRef, dbName)
		if diags.HasErrors() {
			return diags
		}
		dbAdded, diags := sub.AddResource(db, dbMaintRef)
		if diags.HasErrors() {
			return diags
		}

		mig, diags := command.New(
			[]string{"/usr/bin/rake", "db:migrate"},
			command.WithUsername(maintUserName),
			command.WithExtraEnv(map[string]string{"RAILS_ENV": env.name}),
			command.WithCwd(locPath),
		)
		if diags.HasErrors() {
			return diags
		}
		migAdded, diags := sub.AddTransition(mig, maintUserRef, locRef, pkgs, dbAdded)
		if diags.HasErrors() {
			return diags
		}
		migs = append(migs, migAdded)

		svLocPath := fmt.Sprintf("%s/service/%s", locPath, env.name)
		svLoc, diags := directory.New(svLocPath, directory.WithMode(0755))
		if diags.HasErrors() {
			return diags
		}
		svLocAdded, diags := sub.AddResource(svLoc, svcDirAdded)
		if diags.HasErrors() {
			return diags
		}
		svLocRef, diags := sub.MakeRef(svLocAdded)
		if diags.HasErrors() {
			return diags
		}

		svContents := fmt.Sprintf(`#!/bin/sh
cd ../..
exec 2>&1
exec chpst -u %s ./script/server webrick --environment %s --binding 127.0.0.1 --port %d
`, maintUserName, env.name, env.port)
		sv, diags := runit.NewService(svLocRef, svContents, runit.WithStatus("down"))
		if diags.HasErrors() {
			return diags
		}
		if _, diags := sub.AddResource(sv, svLocRef); diags.HasErrors() {
			return diags
		}
	}

	tmpDirs, diags := command.New(
		[]string{"/usr/bin/rake", "tmp:create"},
		command.WithUsername(maintUserName),
		command.WithCwd(locPath),
	)
	if diags.HasErrors() {
		return diags
	}
	if _, diags := sub.AddTransition(tmpDirs, maintUserRef, locRef, pkgs); diags.HasErrors() {
		return diags
	}

	dbConfBytes, err := yaml.Marshal(dbConf)
	if err != nil {
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("database.yml", nil, err.Error())}
	}
	dbConfFile, diags := file.New(locPath+"/config/database.yml", file.WithContents(string(dbConfBytes)), file.WithMode(0644))
	if diags.HasErrors() {
		return diags
	}
	dbConfAdded, diags := sub.AddResource(dbConfFile, locRef)
	if diags.HasErrors() {
		return diags
	}
	for _, mig := range migs {
		if diags := sub.AddDependency(dbConfAdded, mig); diags.HasErrors() {
			return diags
		}
	}

	return nil
}

// Register adds the RailsApp resource type to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterResourceType(Type)
}
