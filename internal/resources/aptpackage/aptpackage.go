// Package aptpackage implements the AptPackage resource: a Debian package
// managed through aptitude(8), plus the collector that batches many
// package operations into a single aptitude invocation.
package aptpackage

import (
	"fmt"
	"regexp"

	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/collector"
	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/transitions/command"
	"github.com/g2p/systems/internal/typesystem"
)

const TypeName = "AptPackage"

var Type *typesystem.ResourceType

var (
	validPkgName = regexp.MustCompile(`^[a-z]([a-z0-9+.-]*[a-z0-9])?$`)
	validVersion = regexp.MustCompile(`^(\d+:)?([-.+~a-z0-9]+?)(-[.+~a-z0-9]+)?$`)
)

func init() {
	identity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"name": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String, Validate: validatePkgName})),
	})
	state := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"version": must(typesystem.NewAttrType(typesystem.AttrType{Optional: true, CtyType: cty.String, Validate: validateVersion})),
		"state": must(typesystem.NewAttrType(typesystem.AttrType{
			Default: defaultValue(cty.StringVal("installed")), CtyType: cty.String,
			Enum: []typesystem.Value{
				typesystem.Plain(cty.StringVal("installed")),
				typesystem.Plain(cty.StringVal("uninstalled")),
				typesystem.Plain(cty.StringVal("purged")),
			},
		})),
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

func validatePkgName(v typesystem.Value) error {
	if !validPkgName.MatchString(v.Cty().AsString()) {
		return fmt.Errorf("invalid package name %q", v.Cty().AsString())
	}
	return nil
}

func validateVersion(v typesystem.Value) error {
	if v.IsNull() {
		return nil
	}
	if !validVersion.MatchString(v.Cty().AsString()) {
		return fmt.Errorf("invalid package version %q", v.Cty().AsString())
	}
	return nil
}

// AptPackage is a Debian package managed by aptitude. Package dependencies
// are left to aptitude; this resource only states name/version/state.
type AptPackage struct {
	typesystem.ResourceBase
}

func newResource(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &AptPackage{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

// New builds an AptPackage resource directly.
func New(name string, opts ...Option) (*AptPackage, diagnostics.Diagnostics) {
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
	return newResource(Type, id, wanted).(*AptPackage), nil
}

// Option configures an AptPackage's state attrs.
type Option func(map[string]typesystem.Value)

func WithVersion(v string) Option {
	return func(m map[string]typesystem.Value) { m["version"] = typesystem.Plain(cty.StringVal(v)) }
}

func WithState(s string) Option {
	return func(m map[string]typesystem.Value) { m["state"] = typesystem.Plain(cty.StringVal(s)) }
}

// AptitudeString renders the name[=version]<suffix> token aptitude(8)
// expects on its command line.
func (p *AptPackage) AptitudeString() string {
	name := p.IdentityAttrs().MustGet("name").Cty().AsString()
	state := p.WantedAttrs().MustGet("state").Cty().AsString()
	r := name
	if v, ok := p.WantedAttrs().Get("version"); ok && !v.IsNull() && state == "installed" {
		r += "=" + v.Cty().AsString()
	}
	switch state {
	case "installed":
		r += "+"
	case "purged":
		r += "_"
	case "uninstalled":
		r += "-"
	}
	return r
}

// ExpandInto is never reached for a package under ordinary operation: the
// AptPackageCollector claims every AptPackage before the expand phase gets
// to it. It is defined so AptPackage still satisfies Resource when used
// standalone (e.g. in a test building a graph without the collector).
func (p *AptPackage) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	cmd, diags := command.New(
		[]string{"/usr/bin/aptitude", "install", "-y", "--", p.AptitudeString()},
		command.WithExtraEnv(map[string]string{"DEBIAN_FRONTEND": "noninteractive"}),
	)
	if diags.HasErrors() {
		return diags
	}
	_, diags = sub.AddTransition(cmd)
	return diags
}

// Batch is the Aggregate produced by AptPackageCollector: every grouped
// package is installed in a single aptitude invocation.
type Batch struct {
	typesystem.AggregateBase
	packages []*AptPackage
}

var batchSeq int

func newBatch(packages []*AptPackage) *Batch {
	batchSeq++
	idVals := map[string]typesystem.Value{"batch": typesystem.Plain(cty.NumberIntVal(int64(batchSeq)))}
	id, _ := typesystem.NewAttrs(batchIdentityType, idVals)
	wanted, _ := typesystem.NewAttrs(batchStateType, map[string]typesystem.Value{})
	return &Batch{AggregateBase: typesystem.AggregateBase{ResourceBase: typesystem.NewResourceBase(batchType, id, wanted)}, packages: packages}
}

var (
	batchIdentityType = typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"batch": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.Number})),
	})
	batchStateType = typesystem.NewSimpleType(map[string]*typesystem.AttrType{})
	batchType       *typesystem.ResourceType
)

func init() {
	rt, err := typesystem.NewResourceType("AptPackageBatch", batchIdentityType, batchStateType,
		func(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
			return &Batch{AggregateBase: typesystem.AggregateBase{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}}
		})
	if err != nil {
		panic(err)
	}
	batchType = rt
}

// ExpandInto installs every batched package in one aptitude call.
func (b *Batch) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	argv := []string{"/usr/bin/aptitude", "install", "-y", "--"}
	for _, p := range b.packages {
		argv = append(argv, p.AptitudeString())
	}
	cmd, diags := command.New(argv, command.WithExtraEnv(map[string]string{"DEBIAN_FRONTEND": "noninteractive"}))
	if diags.HasErrors() {
		return diags
	}
	_, diags = sub.AddTransition(cmd)
	return diags
}

// Collector groups every AptPackage not yet processed into a single Batch
// aggregate, provided none of them are connected by a dependency path (the
// Refine algorithm enforces that).
type Collector struct{}

func (Collector) Name() string { return "AptPackageCollector" }

func (Collector) Filter(r typesystem.Resource) bool {
	_, ok := r.(*AptPackage)
	return ok
}

// Partition has no boundary of its own: every AptPackage aptitude sees can
// merge into the same batch, subject to Refine's dependency check.
func (Collector) Partition(resources []typesystem.Resource) [][]typesystem.Resource {
	return collector.SinglePartition(resources)
}

func (Collector) Collect(group []typesystem.Resource) (typesystem.Aggregate, diagnostics.Diagnostics) {
	packages := make([]*AptPackage, 0, len(group))
	for _, r := range group {
		p, ok := r.(*AptPackage)
		if !ok {
			return nil, diagnostics.Diagnostics{diagnostics.NewValidationFailure("", r, "AptPackageCollector received a non-AptPackage resource")}
		}
		packages = append(packages, p)
	}
	return newBatch(packages), nil
}

var _ collector.Collector = Collector{}

// Register adds the AptPackage resource type and its collector to reg.
func Register(reg *registry.Registry) error {
	if err := reg.RegisterResourceType(Type); err != nil {
		return err
	}
	if err := reg.RegisterResourceType(batchType); err != nil {
		return err
	}
	return reg.RegisterCollector(Collector{})
}
