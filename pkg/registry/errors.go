package registry

import "fmt"

// ValidationError reports malformed input: a missing reason, a missing
// function body, or an invalid entry shape. Raised before any transaction
// opens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError reports that a named trigger is absent from the registry.
type NotFoundError struct {
	TriggerName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("trigger %q is not registered", e.TriggerName)
}

// Suggestion returns a recovery hint for display alongside the error.
func (e *NotFoundError) Suggestion() string {
	return "list registered triggers to find the intended name"
}

// ExecutionError reports that the database rejected DDL or DML during a
// lifecycle operation. The wrapping transaction has been rolled back and
// an audit failure event recorded by the time the caller sees this.
type ExecutionError struct {
	Operation   string
	TriggerName string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed for trigger %q: %v", e.Operation, e.TriggerName, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Suggestion returns a recovery hint for display alongside the error.
func (e *ExecutionError) Suggestion() string {
	return "inspect the database error, fix the definition, and retry; no partial state was committed"
}
