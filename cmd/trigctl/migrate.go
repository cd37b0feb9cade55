package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/solaius/trigger-registry/pkg/migration"
)

var (
	migrationsDir     string
	migrateConfirm    string
	allowIrreversible bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply, roll back, or redo trigger migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up [version]",
	Short: "Apply all pending migrations in order, or a single named version",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [target-version]",
	Short: "Roll back the newest migration, or everything above a target version",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMigrateDown,
}

var migrateRedoCmd = &cobra.Command{
	Use:   "redo [version]",
	Short: "Roll back to a version and re-apply it (defaults to the current version)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMigrateRedo,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every migration with its applied state",
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "migrations", "Directory of <version>_<name>.up.sql / .down.sql files")
	migrateCmd.PersistentFlags().StringVar(&migrateConfirm, "confirm", "", "Kill switch confirmation phrase (e.g. \"EXECUTE MIGRATION_UP\")")
	migrateDownCmd.Flags().BoolVar(&allowIrreversible, "allow-irreversible", false, "Skip the rollback action of irreversible migrations instead of failing")
	migrateRedoCmd.Flags().BoolVar(&allowIrreversible, "allow-irreversible", false, "Skip the rollback action of irreversible migrations instead of failing")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateRedoCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func newMigrationRunner() (*migration.Runner, migration.Locker, error) {
	a, err := newApp()
	if err != nil {
		return nil, nil, err
	}
	runner, err := a.newRunner(migrationsDir, allowIrreversible)
	if err != nil {
		return nil, nil, err
	}
	return runner, migration.NewLocker(a.db), nil
}

func migrationRequest() migration.Request {
	return migration.Request{Actor: resolvedActor(), Confirmation: migrateConfirm}
}

func parseVersionArg(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, nil
	}
	v, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", args[0], err)
	}
	return v, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	version, err := parseVersionArg(args)
	if err != nil {
		return err
	}
	runner, locker, err := newMigrationRunner()
	if err != nil {
		return err
	}
	err = locker.WithLock(cmd.Context(), func() error {
		if version > 0 {
			return runner.ApplyVersion(cmd.Context(), version, migrationRequest())
		}
		return runner.Up(cmd.Context(), migrationRequest())
	})
	if err != nil {
		return migrationError(err)
	}
	current, err := runner.CurrentVersion(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("migrated up to version %d\n", current)
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	target, err := parseVersionArg(args)
	if err != nil {
		return err
	}
	runner, locker, err := newMigrationRunner()
	if err != nil {
		return err
	}
	err = locker.WithLock(cmd.Context(), func() error {
		if len(args) == 0 {
			return runner.Down(cmd.Context(), migrationRequest())
		}
		return runner.DownTo(cmd.Context(), target, migrationRequest())
	})
	if err != nil {
		return migrationError(err)
	}
	current, err := runner.CurrentVersion(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("rolled back to version %d\n", current)
	return nil
}

func runMigrateRedo(cmd *cobra.Command, args []string) error {
	target, err := parseVersionArg(args)
	if err != nil {
		return err
	}
	runner, locker, err := newMigrationRunner()
	if err != nil {
		return err
	}
	err = locker.WithLock(cmd.Context(), func() error {
		return runner.Redo(cmd.Context(), target, migrationRequest())
	})
	if err != nil {
		return migrationError(err)
	}
	fmt.Println("redo complete")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	runner, _, err := newMigrationRunner()
	if err != nil {
		return err
	}
	status, err := runner.Status(cmd.Context())
	if err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(map[string]any{"migrations": status})
	}

	headers := []string{"Version", "Name", "Applied", "Applied At"}
	rows := make([][]string, 0, len(status))
	for _, row := range status {
		appliedAt := ""
		if row.AppliedAt != nil {
			appliedAt = row.AppliedAt.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{
			strconv.FormatInt(row.Version, 10),
			row.Name,
			strconv.FormatBool(row.Applied),
			appliedAt,
		})
	}
	printTable(headers, rows)
	return nil
}

func migrationError(err error) error {
	if s, ok := err.(interface{ Suggestion() string }); ok {
		return fmt.Errorf("%w\n  hint: %s", err, s.Suggestion())
	}
	return err
}
