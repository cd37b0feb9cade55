package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/solaius/trigger-registry/pkg/registry"
)

var (
	lifecycleReason  string
	lifecycleConfirm string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List registered triggers and their drift state",
	RunE:  runStatus,
}

var enableCmd = &cobra.Command{
	Use:   "enable <trigger>",
	Short: "Enable a registered trigger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd.Context(), args[0], "enabled",
			func(a *app, ctx context.Context, name string, req registry.Request) error {
				return a.service.Enable(ctx, name, req)
			})
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <trigger>",
	Short: "Disable a registered trigger without dropping it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd.Context(), args[0], "disabled",
			func(a *app, ctx context.Context, name string, req registry.Request) error {
				return a.service.Disable(ctx, name, req)
			})
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <trigger>",
	Short: "Drop a trigger from the database and the registry (requires --reason)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd.Context(), args[0], "dropped",
			func(a *app, ctx context.Context, name string, req registry.Request) error {
				return a.service.Drop(ctx, name, req)
			})
	},
}

var reexecCmd = &cobra.Command{
	Use:   "reexec <trigger>",
	Short: "Re-execute a trigger's stored definition against the database (requires --reason)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd.Context(), args[0], "re-executed",
			func(a *app, ctx context.Context, name string, req registry.Request) error {
				return a.service.ReExecute(ctx, name, req)
			})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{enableCmd, disableCmd, dropCmd, reexecCmd} {
		cmd.Flags().StringVar(&lifecycleReason, "reason", "", "Reason recorded in the audit log")
		cmd.Flags().StringVar(&lifecycleConfirm, "confirm", "", "Kill switch confirmation phrase (e.g. \"EXECUTE DROP_TRIGGER\")")
	}
}

func runLifecycle(ctx context.Context, name, verb string,
	op func(*app, context.Context, string, registry.Request) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	req := registry.Request{
		Actor:        resolvedActor(),
		Reason:       lifecycleReason,
		Confirmation: lifecycleConfirm,
	}
	if err := op(a, ctx, name, req); err != nil {
		if s, ok := err.(interface{ Suggestion() string }); ok {
			return fmt.Errorf("%w\n  hint: %s", err, s.Suggestion())
		}
		return err
	}
	fmt.Printf("trigger %q %s\n", name, verb)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	entries, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	results, err := a.detector.DetectAll(ctx)
	if err != nil {
		return err
	}
	states := make(map[string]string, len(results))
	for _, r := range results {
		states[r.TriggerName] = string(r.State)
	}

	if outputFmt != "table" {
		return printOutput(map[string]any{"triggers": entries, "drift": results})
	}

	headers := []string{"Trigger", "Table", "Version", "Enabled", "State", "Checksum"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.TriggerName,
			e.Table,
			strconv.Itoa(e.Version),
			strconv.FormatBool(e.Enabled),
			states[e.TriggerName],
			truncate(e.Checksum, 12),
		})
	}
	printTable(headers, rows)
	return nil
}
