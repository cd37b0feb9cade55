// Package registry manages the durable records of PostgreSQL triggers and
// their lifecycle: registration, enable/disable, drop, and re-execution,
// each gated by permission checks and the kill switch and written through
// to the live database inside a transaction.
package registry

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solaius/trigger-registry/pkg/checksum"
)

// Source records how a registry entry came to exist.
type Source string

const (
	// SourceDSL entries are compiled from declarative trigger manifests.
	SourceDSL Source = "dsl"
	// SourceGenerated entries come from the dry-run generator.
	SourceGenerated Source = "generated"
	// SourceManualSQL entries are ad hoc SQL capsules tracked for audit.
	SourceManualSQL Source = "manual_sql"
)

func (s Source) valid() bool {
	switch s {
	case SourceDSL, SourceGenerated, SourceManualSQL:
		return true
	}
	return false
}

// Definition is the structured metadata of a trigger: which table it
// watches, the function it calls, and when it fires. Stored as JSON on the
// registry entry.
type Definition struct {
	TriggerName  string   `json:"trigger_name" yaml:"trigger_name"`
	TableName    string   `json:"table_name" yaml:"table_name"`
	FunctionName string   `json:"function_name" yaml:"function_name"`
	Events       []string `json:"events" yaml:"events"`
	Timing       string   `json:"timing,omitempty" yaml:"timing,omitempty"`
	Condition    string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	Version      int      `json:"version" yaml:"version"`
}

// Scan implements the sql.Scanner interface for Definition.
func (d *Definition) Scan(value any) error {
	if value == nil {
		*d = Definition{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for Definition: %T", value)
	}
	return json.Unmarshal(bytes, d)
}

// Value implements the driver.Valuer interface for Definition.
func (d Definition) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Entry is the durable record of one managed trigger. The watched table
// lives in the Table field; the gorm table name is claimed by the
// TableName override below.
type Entry struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TriggerName    string     `gorm:"column:trigger_name;uniqueIndex;not null" json:"trigger_name"`
	Table          string     `gorm:"column:table_name;not null" json:"table_name"`
	Version        int        `gorm:"column:version;not null" json:"version"`
	Enabled        bool       `gorm:"column:enabled" json:"enabled"`
	Source         Source     `gorm:"column:source" json:"source"`
	Checksum       string     `gorm:"column:checksum;not null" json:"checksum"`
	LiveChecksum   string     `gorm:"column:live_checksum" json:"live_checksum,omitempty"`
	Definition     Definition `gorm:"column:definition;type:text" json:"definition"`
	FunctionBody   string     `gorm:"column:function_body" json:"function_body"`
	Condition      string     `gorm:"column:condition" json:"condition,omitempty"`
	Environment    string     `gorm:"column:environment" json:"environment,omitempty"`
	InstalledAt    *time.Time `gorm:"column:installed_at" json:"installed_at,omitempty"`
	LastVerifiedAt *time.Time `gorm:"column:last_verified_at" json:"last_verified_at,omitempty"`
	LastExecutedAt *time.Time `gorm:"column:last_executed_at" json:"last_executed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName overrides the default table name.
func (Entry) TableName() string { return "trigger_registry_entries" }

// ComputeChecksum returns the fingerprint of the entry's defining
// attributes. It must match the stored Checksum for a well-formed entry.
func (e *Entry) ComputeChecksum() string {
	return checksum.Compute(e.TriggerName, e.Table, e.Version, e.FunctionBody, e.Condition)
}

// Snapshot returns the entry's state for audit before/after records.
func (e *Entry) Snapshot() map[string]any {
	if e == nil {
		return nil
	}
	return map[string]any{
		"trigger_name": e.TriggerName,
		"table_name":   e.Table,
		"version":      e.Version,
		"enabled":      e.Enabled,
		"source":       string(e.Source),
		"checksum":     e.Checksum,
	}
}

// Validate checks the entry's structural invariants.
func (e *Entry) Validate() error {
	if e.TriggerName == "" {
		return &ValidationError{Field: "trigger_name", Message: "trigger_name is required"}
	}
	if e.Table == "" {
		return &ValidationError{Field: "table_name", Message: "table_name is required"}
	}
	if e.Version < 1 {
		return &ValidationError{Field: "version", Message: "version must be a positive integer"}
	}
	if !e.Source.valid() {
		return &ValidationError{Field: "source", Message: fmt.Sprintf("unknown source %q", e.Source)}
	}
	return nil
}
