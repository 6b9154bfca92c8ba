// Command systemsctl is a thin demonstration CLI: it wires every bundled
// resource/transition plugin into a registry, loads a declared document of
// resources, and either plans or realizes it.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/g2p/systems/internal/engine"
	"github.com/g2p/systems/internal/graph"
	"github.com/g2p/systems/internal/pluginloader"
	"github.com/g2p/systems/internal/registry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "systemsctl",
		Short:         "Plan and realize declared system state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	logger := func() hclog.Logger {
		level := hclog.Warn
		if verbose {
			level = hclog.Debug
		}
		return hclog.New(&hclog.LoggerOptions{Name: "systemsctl", Level: level, Output: os.Stderr})
	}

	root.AddCommand(newPlanCmd(logger), newApplyCmd(logger))
	return root
}

func newPlanCmd(logger func() hclog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <file.yaml>",
		Short: "Expand a document of resources and print the transition plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := buildRealizer(args[0], logger())
			if err != nil {
				return err
			}
			if diags := r.EnsureFrozen(); diags.HasErrors() {
				return diags.Err()
			}
			transitions, diags := r.Graph().SortedTransitions()
			if diags.HasErrors() {
				return diags.Err()
			}
			for i, t := range transitions {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d. %s\n", i+1, t.DependencyKey())
			}
			return nil
		},
	}
}

func newApplyCmd(logger func() hclog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file.yaml>",
		Short: "Expand a document of resources and realize the resulting plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := buildRealizer(args[0], logger())
			if err != nil {
				return err
			}
			if diags := r.Realize(); diags.HasErrors() {
				return diags.Err()
			}
			fmt.Fprintln(cmd.OutOrStdout(), "apply complete")
			return nil
		},
	}
}

// buildRealizer loads every bundled plugin into a fresh registry, reads
// path as a document of resource envelopes, and adds each to a fresh
// graph's top level.
func buildRealizer(path string, logger hclog.Logger) (*engine.Realizer, error) {
	reg := registry.New()
	if err := pluginloader.Load(reg, bundledPlugins...); err != nil {
		return nil, err
	}
	reg.Seal()

	docs, err := loadDocument(path)
	if err != nil {
		return nil, err
	}

	g := graph.New()
	for _, doc := range docs {
		res, diags := decodeResource(reg, doc)
		if diags.HasErrors() {
			return nil, diags.Err()
		}
		if _, diags := g.AddResource(res); diags.HasErrors() {
			return nil, diags.Err()
		}
	}

	return engine.New(g, reg, engine.WithLogger(logger)), nil
}
