// Package pluginloader invokes each plugin's register entry point against
// a Registry in a deterministic order. Unlike the reference
// implementation, which locates plugins by dynamically importing a named
// package and calling its register function (runpy.run_module), this
// module has no dynamic-loading story a compiled Go binary can use safely;
// the caller supplies the ordered list of plugins explicitly (typically
// the full set a `cmd/systemsctl`-style binary was built against), and the
// loader's only job is to apply them in that order and stop at the first
// failure.
package pluginloader

import (
	"fmt"

	"github.com/g2p/systems/internal/registry"
)

// Plugin is a single registration entry point taking the Registry to
// populate as its one argument, matching the `Register(reg)` function
// every resource/transition/collector family exposes.
type Plugin func(reg *registry.Registry) error

// Load invokes each plugin's entry point against reg, in order, stopping
// at the first error. It does not seal reg; callers that load every
// plugin up front should call reg.Seal() once Load returns successfully.
func Load(reg *registry.Registry, plugins ...Plugin) error {
	for i, p := range plugins {
		if err := p(reg); err != nil {
			return fmt.Errorf("pluginloader: plugin %d: %w", i, err)
		}
	}
	return nil
}
