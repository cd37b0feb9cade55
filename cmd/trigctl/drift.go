package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var driftCmd = &cobra.Command{
	Use:   "drift [trigger]",
	Short: "Report drift between the registry and the live database",
	Long: `Without arguments, summarizes drift across every registered trigger.
With a trigger name, prints a detailed report including the expected and
actual SQL when they differ.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDrift,
}

func runDrift(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if len(args) == 1 {
		report, err := a.reporter.Report(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(report)
		return nil
	}

	summary, err := a.reporter.Summarize(ctx)
	if err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(summary)
	}

	headers := []string{"State", "Count"}
	rows := make([][]string, 0, len(summary.Counts))
	for state, count := range summary.Counts {
		rows = append(rows, []string{string(state), fmt.Sprint(count)})
	}
	printTable(headers, rows)
	fmt.Printf("\n%d trigger(s) total\n", summary.Total)
	return nil
}
