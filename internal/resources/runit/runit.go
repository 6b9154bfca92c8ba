// Package runit implements the Service and DirService resources:
// runit-supervised services, identified by the Directory holding their
// run script, plus the runsvdir companion that supervises a whole
// directory of such services.
package runit

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/resources/directory"
	"github.com/g2p/systems/internal/resources/file"
	"github.com/g2p/systems/internal/transitions/command"
	"github.com/g2p/systems/internal/typesystem"
)

const (
	ServiceTypeName    = "Service"
	DirServiceTypeName = "DirService"
)

var (
	ServiceType    *typesystem.ResourceType
	DirServiceType *typesystem.ResourceType
)

var statusEnum = []typesystem.Value{
	typesystem.Plain(cty.StringVal("up")),
	typesystem.Plain(cty.StringVal("down")),
}

func init() {
	serviceIdentity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"location": must(typesystem.NewAttrType(typesystem.AttrType{RefType: directory.TypeName})),
	})
	serviceState := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"status":   must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.StringVal("up")), CtyType: cty.String, Enum: statusEnum})),
		"present":  must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.True), CtyType: cty.Bool})),
		"contents": must(typesystem.NewAttrType(typesystem.AttrType{CtyType: cty.String})),
	})
	rt, err := typesystem.NewResourceType(ServiceTypeName, serviceIdentity, serviceState, newService)
	if err != nil {
		panic(err)
	}
	ServiceType = rt

	dirServiceIdentity := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"location": must(typesystem.NewAttrType(typesystem.AttrType{RefType: directory.TypeName})),
	})
	dirServiceState := typesystem.NewSimpleType(map[string]*typesystem.AttrType{
		"status":     must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.StringVal("up")), CtyType: cty.String, Enum: statusEnum})),
		"present":    must(typesystem.NewAttrType(typesystem.AttrType{Default: defaultValue(cty.True), CtyType: cty.Bool})),
		"target_dir": must(typesystem.NewAttrType(typesystem.AttrType{RefType: directory.TypeName})),
	})
	rt2, err := typesystem.NewResourceType(DirServiceTypeName, dirServiceIdentity, dirServiceState, newDirService)
	if err != nil {
		panic(err)
	}
	DirServiceType = rt2
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

// Service is a single runit-supervised service directory: a run script,
// a down file controlling its auto-start, and the sv command to apply
// the wanted status immediately.
type Service struct {
	typesystem.ResourceBase
}

func newService(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &Service{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

// NewService builds a Service resource directly.
func NewService(locationRef *typesystem.ResourceRef, contents string, opts ...ServiceOption) (*Service, diagnostics.Diagnostics) {
	id, diags := typesystem.NewAttrs(ServiceType.IdentityType, map[string]typesystem.Value{
		"location": typesystem.Ref(locationRef),
	})
	if diags.HasErrors() {
		return nil, diags
	}
	stateVals := map[string]typesystem.Value{"contents": typesystem.Plain(cty.StringVal(contents))}
	for _, o := range opts {
		o(stateVals)
	}
	wanted, diags := typesystem.NewAttrs(ServiceType.StateType, stateVals)
	if diags.HasErrors() {
		return nil, diags
	}
	return newService(ServiceType, id, wanted).(*Service), nil
}

// ServiceOption configures a Service's state attrs.
type ServiceOption func(map[string]typesystem.Value)

func WithStatus(status string) ServiceOption {
	return func(m map[string]typesystem.Value) { m["status"] = typesystem.Plain(cty.StringVal(status)) }
}

func WithPresent(present bool) ServiceOption {
	return func(m map[string]typesystem.Value) { m["present"] = typesystem.Plain(cty.BoolVal(present)) }
}

func (s *Service) locationRef() *typesystem.ResourceRef {
	return s.IdentityAttrs().MustGet("location").RefVal()
}

// ExpandInto lays down the down file and run script, then applies the
// wanted status through sv, tolerating the case where no runsv supervises
// this directory yet.
func (s *Service) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	ref := s.locationRef()
	if !ref.Bound() {
		return diagnostics.Diagnostics{diagnostics.NewReferenceUnresolved(ref.TargetKey())}
	}
	loc := ref.Deref().(*directory.Directory)
	locPath := loc.Path()

	present := s.WantedAttrs().MustGet("present").Cty().True()
	status := s.WantedAttrs().MustGet("status").Cty().AsString()
	contents := s.WantedAttrs().MustGet("contents").Cty().AsString()
	if !present && status != "down" {
		return diagnostics.Diagnostics{diagnostics.NewValidationFailure("status", status, "a service being removed must also be stopped")}
	}

	downFilePresent := present && status == "down"
	downFile, diags := file.New(locPath+"/down", file.WithPresent(downFilePresent), file.WithMode(0644))
	if diags.HasErrors() {
		return diags
	}
	downAdded, diags := sub.AddResource(downFile, ref)
	if diags.HasErrors() {
		return diags
	}

	runFile, diags := file.New(locPath+"/run", file.WithPresent(present), file.WithContents(contents), file.WithMode(0755))
	if diags.HasErrors() {
		return diags
	}
	runAdded, diags := sub.AddResource(runFile, downAdded)
	if diags.HasErrors() {
		return diags
	}

	if !present {
		return nil
	}

	svCmd := map[string]string{"up": "start", "down": "force-shutdown"}[status]
	cmd, diags := command.New(
		[]string{"/usr/bin/sv", svCmd, locPath},
		command.WithExpectedRetcodes(0, 1),
	)
	if diags.HasErrors() {
		return diags
	}
	_, diags = sub.AddTransition(cmd, runAdded)
	return diags
}

// RegisterService adds the Service resource type to reg.
func RegisterService(reg *registry.Registry) error {
	return reg.RegisterResourceType(ServiceType)
}

// DirService supervises a whole directory of Service directories via
// runsvdir.
type DirService struct {
	typesystem.ResourceBase
}

func newDirService(rt *typesystem.ResourceType, id, wanted typesystem.Attrs) typesystem.Resource {
	return &DirService{ResourceBase: typesystem.NewResourceBase(rt, id, wanted)}
}

// NewDirService builds a DirService resource directly.
func NewDirService(locationRef, targetDirRef *typesystem.ResourceRef, opts ...ServiceOption) (*DirService, diagnostics.Diagnostics) {
	id, diags := typesystem.NewAttrs(DirServiceType.IdentityType, map[string]typesystem.Value{
		"location": typesystem.Ref(locationRef),
	})
	if diags.HasErrors() {
		return nil, diags
	}
	stateVals := map[string]typesystem.Value{"target_dir": typesystem.Ref(targetDirRef)}
	for _, o := range opts {
		o(stateVals)
	}
	wanted, diags := typesystem.NewAttrs(DirServiceType.StateType, stateVals)
	if diags.HasErrors() {
		return nil, diags
	}
	return newDirService(DirServiceType, id, wanted).(*DirService), nil
}

func (d *DirService) locationRef() *typesystem.ResourceRef {
	return d.IdentityAttrs().MustGet("location").RefVal()
}

// ExpandInto renders a run script invoking runsvdir against target_dir and
// delegates the rest to a nested Service.
func (d *DirService) ExpandInto(sub typesystem.Expander) diagnostics.Diagnostics {
	locRef := d.locationRef()
	targetRef := d.WantedAttrs().MustGet("target_dir").RefVal()
	if !targetRef.Bound() {
		return diagnostics.Diagnostics{diagnostics.NewReferenceUnresolved(targetRef.TargetKey())}
	}
	targetDir := targetRef.Deref().(*directory.Directory)
	contents := fmt.Sprintf("#!/bin/sh\nexec 2>&1\nexec runsvdir %s\n", targetDir.Path())

	present := d.WantedAttrs().MustGet("present").Cty().True()
	status := d.WantedAttrs().MustGet("status").Cty().AsString()
	svc, diags := NewService(locRef, contents, WithPresent(present), WithStatus(status))
	if diags.HasErrors() {
		return diags
	}
	_, diags = sub.AddResource(svc, locRef, targetRef)
	return diags
}

// RegisterDirService adds the DirService resource type to reg.
func RegisterDirService(reg *registry.Registry) error {
	return reg.RegisterResourceType(DirServiceType)
}

// Register adds both the Service and DirService resource types to reg.
func Register(reg *registry.Registry) error {
	if err := RegisterService(reg); err != nil {
		return err
	}
	return RegisterDirService(reg)
}
