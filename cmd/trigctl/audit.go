package main

import (
	"github.com/spf13/cobra"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit <trigger>",
	Short: "Show recent audit events for a trigger",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum number of events to show")
}

func runAudit(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	records, err := a.auditStore.ListByTrigger(cmd.Context(), args[0], auditLimit)
	if err != nil {
		return err
	}

	if outputFmt != "table" {
		return printOutput(map[string]any{"events": records})
	}

	headers := []string{"Time", "Operation", "Actor", "Outcome", "Reason"}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			rec.Operation,
			rec.Actor,
			rec.Outcome,
			truncate(rec.Reason, 40),
		})
	}
	printTable(headers, rows)
	return nil
}
