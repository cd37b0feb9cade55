// Package audit records every trigger lifecycle operation as an immutable
// event. Writes are best-effort from the caller's perspective: a failure
// to persist an audit event must never abort the operation being audited.
package audit

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Outcome of an audited operation.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// JSONMap is a custom GORM type for map[string]any stored as JSON.
type JSONMap map[string]any

// Scan implements the sql.Scanner interface for JSONMap.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONMap: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONMap.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Event describes one audited operation.
type Event struct {
	Operation        string
	TriggerName      string
	Actor            string
	Reason           string
	ConfirmationText string
	BeforeState      JSONMap
	AfterState       JSONMap
	Diff             string
	ErrorMessage     string
}

// Sink receives audit events. Implementations must be safe to call with a
// context that is already cancelled; the caller ignores returned errors
// beyond logging them.
type Sink interface {
	LogSuccess(ctx context.Context, event Event) error
	LogFailure(ctx context.Context, event Event) error
}
