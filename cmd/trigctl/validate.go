package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solaius/trigger-registry/pkg/harness"
	"github.com/solaius/trigger-registry/pkg/registry"
)

var structuralOnly bool

var validateCmd = &cobra.Command{
	Use:   "validate <manifest>",
	Short: "Validate the triggers in a manifest without committing anything",
	Long: `Checks every trigger in the manifest: structural rules, condition
rules (e.g. INSERT-only triggers cannot reference OLD), and, unless
--structural-only is set, a database round trip of the function body and
condition inside an always-rolled-back transaction.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var dryrunCmd = &cobra.Command{
	Use:   "dryrun <manifest>",
	Short: "Render the SQL a manifest would execute, without executing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runDryrun,
}

func init() {
	validateCmd.Flags().BoolVar(&structuralOnly, "structural-only", false, "Skip database probes; check structure and condition rules only")
}

func runValidate(cmd *cobra.Command, args []string) error {
	entries, err := registry.LoadManifest(args[0])
	if err != nil {
		return err
	}

	validator := harness.NewValidator(nil)
	if !structuralOnly {
		a, err := newApp()
		if err != nil {
			return err
		}
		validator = a.validator
	}
	ctx := cmd.Context()

	failed := 0
	for i := range entries {
		entry := &entries[i]
		checks := map[string]harness.CheckResult{
			"definition": harness.ValidateDefinition(entry.Definition),
			"condition":  validator.ValidateCondition(ctx, entry.Definition.Condition, entry.Definition.Events),
		}
		if entry.FunctionBody != "" && !structuralOnly {
			checks["function_body"] = validator.ValidateFunctionBody(ctx, entry.FunctionBody)
		}

		for check, result := range checks {
			if result.Valid {
				continue
			}
			failed++
			fmt.Printf("%s: %s: %s\n", entry.TriggerName, check, result.Error)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d validation failure(s)", failed)
	}
	fmt.Printf("%d trigger(s) valid\n", len(entries))
	return nil
}

func runDryrun(cmd *cobra.Command, args []string) error {
	entries, err := registry.LoadManifest(args[0])
	if err != nil {
		return err
	}

	for i := range entries {
		entry := &entries[i]
		rendered, impact, err := harness.DryRun(entry.Definition, entry.FunctionBody)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.TriggerName, err)
		}
		if outputFmt != "table" {
			if err := printOutput(map[string]any{
				"trigger": entry.TriggerName,
				"sql":     rendered,
				"impact":  impact,
			}); err != nil {
				return err
			}
			continue
		}
		fmt.Printf("-- trigger %s (table %s, function %s)\n",
			impact.TriggerName, impact.TableName, impact.FunctionName)
		fmt.Println(rendered.FunctionSQL)
		fmt.Println(rendered.TriggerSQL)
		fmt.Println()
	}
	return nil
}
