package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solaius/trigger-registry/pkg/registry"
)

var applyCmd = &cobra.Command{
	Use:   "apply <manifest>",
	Short: "Register the triggers in a manifest",
	Long: `Registers every trigger in the manifest. New triggers are registered
disabled; enable them explicitly once verified. Triggers whose checksum
matches an existing entry are left untouched; changed triggers update
their registry entry.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func runApply(cmd *cobra.Command, args []string) error {
	entries, err := registry.LoadManifest(args[0])
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}

	result, err := registry.ApplyManifest(cmd.Context(), a.store, entries)
	if err != nil {
		return err
	}
	fmt.Printf("registered %d, updated %d, unchanged %d\n",
		len(result.Registered), len(result.Updated), len(result.Unchanged))
	return nil
}
