package main

import (
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"

	"github.com/g2p/systems/internal/diagnostics"
	"github.com/g2p/systems/internal/registry"
	"github.com/g2p/systems/internal/serialize"
	"github.com/g2p/systems/internal/typesystem"
)

// loadDocument reads path as a YAML sequence of single-key resource
// envelopes, the same shape serialize.EncodeResource produces.
func loadDocument(path string) ([]map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var docs []map[string]any
	if err := yaml.Unmarshal(b, &docs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return docs, nil
}

func decodeResource(reg *registry.Registry, doc map[string]any) (typesystem.Resource, diagnostics.Diagnostics) {
	return serialize.DecodeResource(reg, doc)
}
