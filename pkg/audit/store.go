package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Record is the persisted form of an Event.
type Record struct {
	ID               string  `gorm:"primaryKey;column:id"`
	Outcome          string  `gorm:"column:outcome;index"`
	Operation        string  `gorm:"column:operation"`
	TriggerName      string  `gorm:"column:trigger_name;index"`
	Actor            string  `gorm:"column:actor"`
	Reason           string  `gorm:"column:reason"`
	ConfirmationText string  `gorm:"column:confirmation_text"`
	BeforeState      JSONMap `gorm:"column:before_state;type:text"`
	AfterState       JSONMap `gorm:"column:after_state;type:text"`
	Diff             string  `gorm:"column:diff"`
	ErrorMessage     string  `gorm:"column:error_message"`
	CreatedAt        time.Time
}

// TableName overrides the default table name.
func (Record) TableName() string { return "trigger_audit_events" }

// Store is an append-only gorm-backed Sink.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the audit table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("auto-migrate trigger_audit_events: %w", err)
	}
	return nil
}

// LogSuccess appends a success record.
func (s *Store) LogSuccess(ctx context.Context, event Event) error {
	return s.append(ctx, OutcomeSuccess, event)
}

// LogFailure appends a failure record.
func (s *Store) LogFailure(ctx context.Context, event Event) error {
	return s.append(ctx, OutcomeFailure, event)
}

func (s *Store) append(ctx context.Context, outcome string, event Event) error {
	record := &Record{
		ID:               uuid.New().String(),
		Outcome:          outcome,
		Operation:        event.Operation,
		TriggerName:      event.TriggerName,
		Actor:            event.Actor,
		Reason:           event.Reason,
		ConfirmationText: event.ConfirmationText,
		BeforeState:      event.BeforeState,
		AfterState:       event.AfterState,
		Diff:             event.Diff,
		ErrorMessage:     event.ErrorMessage,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListByTrigger returns audit records for one trigger, newest first.
func (s *Store) ListByTrigger(ctx context.Context, triggerName string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []Record
	err := s.db.WithContext(ctx).
		Where("trigger_name = ?", triggerName).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list audit events for %q: %w", triggerName, err)
	}
	return records, nil
}

// DeleteOlderThan deletes audit records created before cutoff and returns
// the number removed. Used by retention sweeps.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Record{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SlogSink writes audit events to a structured logger. Used by the CLI
// when no audit database is configured.
type SlogSink struct {
	Logger *slog.Logger
}

// LogSuccess logs a success event at info level.
func (s *SlogSink) LogSuccess(_ context.Context, event Event) error {
	s.logger().Info("audit",
		"outcome", OutcomeSuccess,
		"operation", event.Operation,
		"trigger", event.TriggerName,
		"actor", event.Actor,
		"reason", event.Reason)
	return nil
}

// LogFailure logs a failure event at error level.
func (s *SlogSink) LogFailure(_ context.Context, event Event) error {
	s.logger().Error("audit",
		"outcome", OutcomeFailure,
		"operation", event.Operation,
		"trigger", event.TriggerName,
		"actor", event.Actor,
		"error", event.ErrorMessage)
	return nil
}

func (s *SlogSink) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
