// Package harness validates and exercises candidate trigger definitions
// without committing anything. Syntax checks and test executions run
// inside transactions whose only exit path is a rollback.
package harness

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/solaius/trigger-registry/pkg/registry"
)

// RenderedSQL is the exact DDL a definition would execute.
type RenderedSQL struct {
	FunctionSQL string `json:"function_sql"`
	TriggerSQL  string `json:"trigger_sql"`
}

// Impact summarizes what applying a definition would touch, for human
// review before commit.
type Impact struct {
	TableName    string   `json:"table_name"`
	FunctionName string   `json:"function_name"`
	TriggerName  string   `json:"trigger_name"`
	Events       []string `json:"events"`
}

// DryRun renders the CREATE FUNCTION and CREATE TRIGGER statements for a
// definition without executing them. When functionBody is empty a
// RETURN-NEW skeleton is generated for the named function.
func DryRun(def registry.Definition, functionBody string) (*RenderedSQL, *Impact, error) {
	if result := ValidateDefinition(def); !result.Valid {
		return nil, nil, fmt.Errorf("invalid definition: %s", result.Error)
	}

	functionSQL := functionBody
	if strings.TrimSpace(functionSQL) == "" {
		functionSQL = fmt.Sprintf(
			"CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$\nBEGIN\n  RETURN NEW;\nEND;\n$$ LANGUAGE plpgsql;",
			pq.QuoteIdentifier(def.FunctionName))
	}

	rendered := &RenderedSQL{
		FunctionSQL: functionSQL,
		TriggerSQL:  TriggerSQL(def),
	}
	impact := &Impact{
		TableName:    def.TableName,
		FunctionName: def.FunctionName,
		TriggerName:  def.TriggerName,
		Events:       def.Events,
	}
	return rendered, impact, nil
}

// TriggerSQL renders the CREATE TRIGGER statement for a definition,
// including the WHEN clause when a condition is present. Identifiers are
// quoted; the condition is operator-supplied SQL and passed through.
func TriggerSQL(def registry.Definition) string {
	timing := strings.ToUpper(def.Timing)
	if timing == "" {
		timing = "AFTER"
	}
	events := make([]string, len(def.Events))
	for i, e := range def.Events {
		events[i] = strings.ToUpper(e)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER %s %s %s ON %s\nFOR EACH ROW",
		pq.QuoteIdentifier(def.TriggerName),
		timing,
		strings.Join(events, " OR "),
		pq.QuoteIdentifier(def.TableName))
	if def.Condition != "" {
		fmt.Fprintf(&b, "\nWHEN (%s)", def.Condition)
	}
	fmt.Fprintf(&b, "\nEXECUTE FUNCTION %s();", pq.QuoteIdentifier(def.FunctionName))
	return b.String()
}
