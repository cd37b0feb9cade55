package harness

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/solaius/trigger-registry/pkg/registry"
)

// CheckResult is the outcome of one validation.
type CheckResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func valid() CheckResult { return CheckResult{Valid: true} }

func invalid(format string, args ...any) CheckResult {
	return CheckResult{Valid: false, Error: fmt.Sprintf(format, args...)}
}

// oldReference matches a reference to the OLD row in a condition.
var oldReference = regexp.MustCompile(`(?i)\bOLD\b`)

// ValidateDefinition checks the structural completeness of a definition
// without touching the database.
func ValidateDefinition(def registry.Definition) CheckResult {
	switch {
	case def.TriggerName == "":
		return invalid("trigger_name is required")
	case def.TableName == "":
		return invalid("table_name is required")
	case def.FunctionName == "":
		return invalid("function_name is required")
	case len(def.Events) == 0:
		return invalid("events list must not be empty")
	case def.Version < 1:
		return invalid("version must be a positive integer")
	}
	return valid()
}

// Validator checks candidate SQL against the database without committing
// anything: every statement runs in a transaction that is always rolled
// back.
type Validator struct {
	db *gorm.DB
}

// NewValidator creates a Validator over db. A nil db limits validation to
// the structural checks.
func NewValidator(db *gorm.DB) *Validator {
	return &Validator{db: db}
}

// ValidateFunctionBody checks function-body SQL by executing it inside an
// always-rolled-back transaction and capturing any database-reported
// syntax error.
func (v *Validator) ValidateFunctionBody(ctx context.Context, body string) CheckResult {
	if strings.TrimSpace(body) == "" {
		return invalid("function body must not be blank")
	}
	if v.db == nil {
		return valid()
	}
	if err := withRollback(ctx, v.db, func(tx *gorm.DB) error {
		return tx.Exec(body).Error
	}); err != nil {
		return invalid("function body rejected: %v", err)
	}
	return valid()
}

// ValidateCondition checks a WHEN condition. Conditions on insert-only
// triggers must not reference OLD, which PostgreSQL rejects at fire time;
// update and delete triggers may. The condition's SQL validity is then
// checked against the database inside an always-rolled-back transaction.
func (v *Validator) ValidateCondition(ctx context.Context, condition string, events []string) CheckResult {
	if strings.TrimSpace(condition) == "" {
		return valid()
	}
	if insertOnly(events) && oldReference.MatchString(condition) {
		return invalid("condition cannot reference OLD values for INSERT triggers")
	}
	if v.db == nil {
		return valid()
	}

	// Embed the condition in a throwaway function so the database parses
	// it with OLD/NEW in scope. Rolled back either way.
	probe := fmt.Sprintf(`CREATE FUNCTION __trigger_registry_condition_check() RETURNS trigger AS $$
BEGIN
  IF %s THEN RETURN NEW; END IF;
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;`, condition)
	if err := withRollback(ctx, v.db, func(tx *gorm.DB) error {
		return tx.Exec(probe).Error
	}); err != nil {
		return invalid("condition rejected: %v", err)
	}
	return valid()
}

func insertOnly(events []string) bool {
	if len(events) == 0 {
		return false
	}
	for _, e := range events {
		if !strings.EqualFold(e, "insert") {
			return false
		}
	}
	return true
}

// errAlwaysRollback forces the transaction wrapper to roll back on the
// success path too.
var errAlwaysRollback = errors.New("harness: intentional rollback")

// withRollback runs fn inside a transaction whose only terminal action is
// a rollback, regardless of fn's outcome. Nested calls use savepoints, so
// the harness is safe inside an outer transaction. The returned error is
// fn's own error, never the rollback sentinel.
func withRollback(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var fnErr error
	txErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(tx)
		return errAlwaysRollback
	})
	if txErr != nil && !errors.Is(txErr, errAlwaysRollback) {
		return txErr
	}
	return fnErr
}
