// Package introspect answers read-only questions about the live PostgreSQL
// catalog: does a trigger exist, what is its effective definition, which
// tables carry triggers. It never mutates anything.
package introspect

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/solaius/trigger-registry/pkg/checksum"
)

// LiveTrigger is the catalog-derived view of one trigger.
type LiveTrigger struct {
	Name         string `gorm:"column:name"`
	Table        string `gorm:"column:table_name"`
	EnabledFlag  string `gorm:"column:enabled_flag"`
	FunctionName string `gorm:"column:function_name"`
	FunctionBody string `gorm:"column:function_body"`
	Definition   string `gorm:"column:definition"`
}

// Enabled reports whether the trigger fires. pg_trigger.tgenabled is 'D'
// for disabled; every other flag ('O', 'R', 'A') fires in some session mode.
func (t *LiveTrigger) Enabled() bool {
	return t.EnabledFlag != "D"
}

// Condition returns the WHEN clause expression from the trigger
// definition, or "" when the trigger is unconditional.
func (t *LiveTrigger) Condition() string {
	return conditionFromDefinition(t.Definition)
}

// Checksum fingerprints the trigger as the catalog reports it: prosrc as
// the function body and the normalized WHEN expression as the condition.
// Two reads of an unchanged trigger always produce the same value, so a
// recorded checksum can later be compared against a fresh one.
func (t *LiveTrigger) Checksum(version int) string {
	return checksum.Compute(t.Name, t.Table, version, t.FunctionBody, t.Condition())
}

// Column describes one column of a table.
type Column struct {
	Name     string `gorm:"column:column_name"`
	DataType string `gorm:"column:data_type"`
	Nullable string `gorm:"column:is_nullable"`
}

// Introspector wraps catalog queries over a live connection.
type Introspector struct {
	db *gorm.DB
}

// New creates an Introspector over db.
func New(db *gorm.DB) *Introspector {
	return &Introspector{db: db}
}

const liveTriggerSelect = `
SELECT t.tgname AS name,
       c.relname AS table_name,
       t.tgenabled AS enabled_flag,
       p.proname AS function_name,
       p.prosrc AS function_body,
       pg_get_triggerdef(t.oid) AS definition
FROM pg_trigger t
JOIN pg_class c ON c.oid = t.tgrelid
JOIN pg_proc p ON p.oid = t.tgfoid
WHERE NOT t.tgisinternal`

// TriggerExists reports whether a non-internal trigger with the given name
// exists in the catalog.
func (i *Introspector) TriggerExists(ctx context.Context, name string) (bool, error) {
	var count int64
	err := i.db.WithContext(ctx).
		Raw("SELECT count(*) FROM pg_trigger WHERE tgname = ? AND NOT tgisinternal", name).
		Scan(&count).Error
	if err != nil {
		return false, fmt.Errorf("check trigger existence: %w", err)
	}
	return count > 0, nil
}

// FunctionExists reports whether a function with the given name exists.
func (i *Introspector) FunctionExists(ctx context.Context, name string) (bool, error) {
	var count int64
	err := i.db.WithContext(ctx).
		Raw("SELECT count(*) FROM pg_proc WHERE proname = ?", name).
		Scan(&count).Error
	if err != nil {
		return false, fmt.Errorf("check function existence: %w", err)
	}
	return count > 0, nil
}

// FetchTrigger returns the live view of a trigger, or nil, nil when no
// trigger with that name exists.
func (i *Introspector) FetchTrigger(ctx context.Context, name string) (*LiveTrigger, error) {
	var rows []LiveTrigger
	err := i.db.WithContext(ctx).
		Raw(liveTriggerSelect+" AND t.tgname = ?", name).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch trigger %q: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// TriggersForTable returns the live triggers attached to a table.
func (i *Introspector) TriggersForTable(ctx context.Context, table string) ([]LiveTrigger, error) {
	var rows []LiveTrigger
	err := i.db.WithContext(ctx).
		Raw(liveTriggerSelect+" AND c.relname = ? ORDER BY t.tgname", table).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list triggers for table %q: %w", table, err)
	}
	return rows, nil
}

// TablesWithTriggers returns the names of tables carrying at least one
// non-internal trigger, sorted.
func (i *Introspector) TablesWithTriggers(ctx context.Context) ([]string, error) {
	var tables []string
	err := i.db.WithContext(ctx).
		Raw(`SELECT DISTINCT c.relname
		     FROM pg_trigger t
		     JOIN pg_class c ON c.oid = t.tgrelid
		     WHERE NOT t.tgisinternal
		     ORDER BY c.relname`).
		Scan(&tables).Error
	if err != nil {
		return nil, fmt.Errorf("list tables with triggers: %w", err)
	}
	return tables, nil
}

// ColumnsForTable returns column metadata for a table from
// information_schema, ordered by ordinal position.
func (i *Introspector) ColumnsForTable(ctx context.Context, table string) ([]Column, error) {
	var cols []Column
	err := i.db.WithContext(ctx).
		Raw(`SELECT column_name, data_type, is_nullable
		     FROM information_schema.columns
		     WHERE table_name = ?
		     ORDER BY ordinal_position`, table).
		Scan(&cols).Error
	if err != nil {
		return nil, fmt.Errorf("list columns for table %q: %w", table, err)
	}
	return cols, nil
}

// conditionFromDefinition extracts the WHEN clause expression from a
// pg_get_triggerdef string. The clause appears as "WHEN ((expr)) EXECUTE"
// with the catalog's own parenthesization preserved.
func conditionFromDefinition(def string) string {
	start := strings.Index(def, " WHEN (")
	if start < 0 {
		return ""
	}
	rest := def[start+len(" WHEN ("):]
	end := strings.LastIndex(rest, ") EXECUTE")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
