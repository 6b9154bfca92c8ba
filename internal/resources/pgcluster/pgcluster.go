// Package pgcluster implements the PgCluster resource: a PostgreSQL
// cluster identified by the host/port pair its server listens on, plus the
// psql-invoking helpers PgUser, PgDatabase, and RailsApp build on.
package pgcluster

import (
	"fmt"
	"strconv"

	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/resources/aptpackage"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/transitions/command"
	"github.com/g2p/systems/internal/typesystem"
)

const TypeName = "PgCluster"

var Type *typesystem.ResourceType

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"pg_host": must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.StringVal("/var/run/postgresql")), CtyType: cty.String})),
		"pg_port": must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.NumberIntVal(5432)), CtyType: cty.Number})),
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

// PgCluster is a PostgreSQL server instance, named by the host/port pair
// clients connect through. Host and port are deliberately not parsed as a
// strict hostname/port: pg_host is frequently a unix socket directory.
type PgCluster struct {
	typesystem.ResourceBase
}

func newResource(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &PgCluster{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

// New builds a PgCluster resource directly.
func New(opts ...Option) (*PgCluster, diagnostics.Diagnostics) {
	idVals := map[string]typesystem.Value{}
	for _, o := range opts {
		o(idVals)
	}
	id, diags := typesystem.NewAttrs(Type.IdentityType, idVals)
	if diags.HasErrors() {
		return nil, diags
	}
	wanted, diags := typesystem.NewAttrs(Type.StateType, map[string]typesystem.Value{})
	if diags.HasErrors() {
		return nil, diags
	}
	return newResource(Type, id, wanted).(*PgCluster), nil
}

// Option configures a PgCluster's identity attrs.
type Option func(map[string]typesystem.Value)

func WithHost(host string) Option {
	return func(m map[string]typesystem.Value) { m["pg_host"] = typesystem.Plain(cty.StringVal(host)) }
}

func WithPort(port int) Option {
	return func(m map[string]typesystem.Value) { m["pg_port"] = typesystem.Plain(cty.NumberIntVal(int64(port))) }
}

func (c *PgCluster) Host() string { return c.IdentityAttrs().MustGet("pg_host").Cty().AsString() }

func (c *PgCluster) Port() int {
	n, _ := c.IdentityAttrs().MustGet("pg_port").Cty().AsBigFloat().Int64()
	return int(n)
}

func (c *PgCluster) extraEnv() map[string]string {
	return map[string]string{"PGHOST": c.Host(), "PGPORT": strconv.Itoa(c.Port())}
}

// CommandTrans builds a Command transition run as the cluster's default
// admin role (postgres) with PGHOST/PGPORT set to reach this cluster.
func (c *PgCluster) CommandTrans(argv []string, opts ...command.Option) (*command.Transition, diagnostics.Diagnostics) {
	allOpts := append([]command.Option{command.WithUsername("postgres"), command.WithExtraEnv(c.extraEnv())}, opts...)
	return command.New(argv, allOpts...)
}

// PsqlEvalTrans builds a Command transition piping sql into psql. Callers
// are responsible for the SQL being injection-free: there is no prepared
// statement here.
func (c *PgCluster) PsqlEvalTrans(sql string, opts ...command.Option) (*command.Transition, diagnostics.Diagnostics) {
	allOpts := append([]command.Option{command.WithInput(sql)}, opts...)
	return c.CommandTrans([]string{"/usr/bin/psql", "-At1", "-f", "-"}, allOpts...)
}

// CheckExistence runs a SELECT EXISTS probe against table/column/value,
// realizing the psql command itself, and reports whether a matching row
// exists. It is a planning-time helper used by resources whose read-state
// depends on live cluster contents.
func (c *PgCluster) CheckExistence(table, column, value string) (bool, error) {
	sql := fmt.Sprintf(`SELECT EXISTS(SELECT * FROM "%s" WHERE "%s" = '%s')`, table, column, value)
	cmd, diags := c.PsqlEvalTrans(sql)
	if diags.HasErrors() {
		return false, diags.Err()
	}
	results, err := cmd.Realize()
	if err != nil {
		return false, err
	}
	stdout := results.MustGet("stdout").Cty().AsString()
	switch trimmed := trim(stdout); trimmed {
	case "t":
		return true, nil
	case "f":
		return false, nil
	default:
		return false, fmt.Errorf("pgcluster: unexpected psql output %q", stdout)
	}
}

func trim(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	for len(s) > 0 && (s[0] == '\n' || s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	return s
}

// ExpandInto ensures the postgresql package is installed. Cluster
// creation/deletion proper (pg_createcluster/pg_deletecluster) is out of
// scope, same as the reference implementation.
func (c *PgCluster) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	if !c.WantedAttrs().MustGet("present").Cty().True() {
		return nil
	}
	pkg, diags := aptpackage.New("postgresql")
	if diags.HasErrors() {
		return diags
	}
	_, diags = sub.AddResource(pkg)
	return diags
}

// Register adds the PgCluster resource type to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterResourceType(Type)
}
