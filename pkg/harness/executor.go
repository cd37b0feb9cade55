package harness

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/solaius/trigger-registry/pkg/registry"
)

// TestOutcome reports what a safe execution did before rolling back.
type TestOutcome struct {
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
	FunctionCreated bool   `json:"function_created"`
	TriggerCreated  bool   `json:"trigger_created"`
	RowInserted     bool   `json:"row_inserted"`
}

// SafeExecutor creates a candidate function and trigger inside a
// transaction, optionally exercises them with a caller-supplied sample
// insert, and always rolls back. No outcome leaves committed side effects.
type SafeExecutor struct {
	db *gorm.DB
}

// NewSafeExecutor creates a SafeExecutor over db.
func NewSafeExecutor(db *gorm.DB) *SafeExecutor {
	return &SafeExecutor{db: db}
}

// Test runs the definition's function and trigger DDL and the optional
// sampleInsert, capturing the first failure. The transaction is rolled
// back regardless of outcome; only the returned TestOutcome survives.
func (e *SafeExecutor) Test(ctx context.Context, def registry.Definition, functionBody, sampleInsert string) *TestOutcome {
	rendered, _, err := DryRun(def, functionBody)
	if err != nil {
		return &TestOutcome{Error: err.Error()}
	}

	outcome := &TestOutcome{}
	err = withRollback(ctx, e.db, func(tx *gorm.DB) error {
		if err := tx.Exec(rendered.FunctionSQL).Error; err != nil {
			return err
		}
		outcome.FunctionCreated = true

		if err := tx.Exec(rendered.TriggerSQL).Error; err != nil {
			return err
		}
		outcome.TriggerCreated = true

		if strings.TrimSpace(sampleInsert) != "" {
			if err := tx.Exec(sampleInsert).Error; err != nil {
				return err
			}
			outcome.RowInserted = true
		}
		return nil
	})
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Success = true
	return outcome
}
