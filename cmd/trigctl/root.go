package main

import (
	"os"
	"os/user"

	"github.com/spf13/cobra"
)

var (
	databaseDSN string
	environment string
	actor       string
	outputFmt   string
)

var rootCmd = &cobra.Command{
	Use:   "trigctl",
	Short: "CLI for the trigger registry",
	Long: `trigctl manages database triggers as versioned, auditable artifacts.

It connects directly to the database, so every command needs a DSN
(--dsn flag or TRIGGER_REGISTRY_DATABASE_DSN env var). Mutating commands
are gated by the kill switch in protected environments and recorded in
the audit log under the acting user.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseDSN, "dsn", "", "Database connection string (default: TRIGGER_REGISTRY_DATABASE_DSN)")
	rootCmd.PersistentFlags().StringVar(&environment, "environment", "", "Deployment environment (default: TRIGGER_REGISTRY_ENVIRONMENT or \"development\")")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Acting user recorded in the audit log (default: OS user)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(driftCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(reexecCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(dryrunCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(auditCmd)
}

// resolvedActor returns the effective actor.
// Priority: --actor flag > TRIGGER_REGISTRY_ACTOR env var > OS user.
func resolvedActor() string {
	if actor != "" {
		return actor
	}
	if a := os.Getenv("TRIGGER_REGISTRY_ACTOR"); a != "" {
		return a
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func resolvedEnvironment() string {
	if environment != "" {
		return environment
	}
	if e := os.Getenv("TRIGGER_REGISTRY_ENVIRONMENT"); e != "" {
		return e
	}
	return "development"
}
