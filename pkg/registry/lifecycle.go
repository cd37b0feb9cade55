package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/solaius/trigger-registry/pkg/audit"
	"github.com/solaius/trigger-registry/pkg/introspect"
	"github.com/solaius/trigger-registry/pkg/killswitch"
	"github.com/solaius/trigger-registry/pkg/permission"
)

// Operation names as seen by the kill switch and the audit log.
const (
	OpEnable    = "enable_trigger"
	OpDisable   = "disable_trigger"
	OpDrop      = "drop_trigger"
	OpReExecute = "re_execute_trigger"
)

// ErrMissingFunctionBody is returned by ReExecute when the entry carries
// no stored function body to replay.
var ErrMissingFunctionBody = errors.New("trigger has no stored function body to re-execute")

// Request carries the caller-supplied context of one lifecycle operation.
type Request struct {
	Actor        string
	Reason       string
	Confirmation string
}

// Service executes trigger lifecycle operations. Every mutation runs the
// same gauntlet: input validation, permission check, kill switch, then a
// single transaction wrapping the DDL and the registry update, with an
// audit event on both outcomes.
type Service struct {
	db          *gorm.DB
	store       *Store
	checker     permission.Checker
	ks          *killswitch.Switch
	sink        audit.Sink
	environment string
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig collects the collaborators of a Service. Checker may be
// nil (allow all); Sink may be nil (audit skipped); Logger may be nil.
type ServiceConfig struct {
	Store       *Store
	Checker     permission.Checker
	KillSwitch  *killswitch.Switch
	Sink        audit.Sink
	Environment string
	Logger      *slog.Logger
}

// NewService creates a Service over db.
func NewService(db *gorm.DB, cfg ServiceConfig) *Service {
	store := cfg.Store
	if store == nil {
		store = NewStore(db)
	}
	ks := cfg.KillSwitch
	if ks == nil {
		ks = killswitch.New(nil, cfg.Logger)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:          db,
		store:       store,
		checker:     cfg.Checker,
		ks:          ks,
		sink:        cfg.Sink,
		environment: cfg.Environment,
		logger:      logger,
		now:         time.Now,
	}
}

// Store returns the registry store backing the service.
func (s *Service) Store() *Store { return s.store }

// Enable turns a trigger on: ALTER TABLE ... ENABLE TRIGGER when the live
// trigger exists, and the registry's desired state is updated either way.
func (s *Service) Enable(ctx context.Context, triggerName string, req Request) error {
	return s.run(ctx, OpEnable, permission.ActionEnableTrigger, triggerName, req, false, s.setEnabled(true))
}

// Disable turns a trigger off, mirroring Enable.
func (s *Service) Disable(ctx context.Context, triggerName string, req Request) error {
	return s.run(ctx, OpDisable, permission.ActionDisableTrigger, triggerName, req, false, s.setEnabled(false))
}

// Drop removes the live trigger (if present) and deletes the registry
// entry. A DDL failure rolls back the whole transaction, keeping the row.
// A non-blank reason is required.
func (s *Service) Drop(ctx context.Context, triggerName string, req Request) error {
	return s.run(ctx, OpDrop, permission.ActionDropTrigger, triggerName, req, true, s.dropTrigger)
}

// ReExecute replays the entry's stored function body to recreate the
// function and trigger, dropping any live trigger first (best effort).
// A non-blank reason is required.
func (s *Service) ReExecute(ctx context.Context, triggerName string, req Request) error {
	if strings.TrimSpace(req.Reason) == "" {
		return &ValidationError{Field: "reason", Message: fmt.Sprintf("%s requires a non-blank reason", OpReExecute)}
	}
	entry, err := s.store.GetByName(ctx, triggerName)
	if err != nil {
		return err
	}
	if entry != nil && strings.TrimSpace(entry.FunctionBody) == "" {
		return ErrMissingFunctionBody
	}
	return s.run(ctx, OpReExecute, permission.ActionExecuteSQL, triggerName, req, true, s.reExecuteTrigger)
}

// mutation performs the operation-specific work inside the transaction and
// returns the after-state snapshot plus a human-readable diff.
type mutation func(tx *gorm.DB, entry *Entry) (after map[string]any, diff string, err error)

func (s *Service) run(ctx context.Context, op string, action permission.Action, triggerName string, req Request, requireReason bool, mutate mutation) error {
	if requireReason && strings.TrimSpace(req.Reason) == "" {
		return &ValidationError{Field: "reason", Message: fmt.Sprintf("%s requires a non-blank reason", op)}
	}

	entry, err := s.store.GetByName(ctx, triggerName)
	if err != nil {
		return err
	}
	if entry == nil {
		return &NotFoundError{TriggerName: triggerName}
	}

	if err := permission.Check(s.checker, req.Actor, action, s.environment); err != nil {
		return err
	}

	// Kill switch denials are a distinct pre-empted path: no transaction,
	// no audit failure event.
	if err := s.ks.Check(ctx, op, s.environment, req.Confirmation, req.Actor); err != nil {
		return err
	}

	before := entry.Snapshot()
	var after map[string]any
	var diff string

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		after, diff, err = mutate(tx, entry)
		return err
	})
	if txErr != nil {
		s.logger.Error("lifecycle operation failed",
			"operation", op, "trigger", triggerName, "error", txErr)
		s.auditFailure(ctx, audit.Event{
			Operation:        op,
			TriggerName:      triggerName,
			Actor:            req.Actor,
			Reason:           req.Reason,
			ConfirmationText: req.Confirmation,
			BeforeState:      before,
			ErrorMessage:     txErr.Error(),
		})
		return &ExecutionError{Operation: op, TriggerName: triggerName, Err: txErr}
	}

	s.auditSuccess(ctx, audit.Event{
		Operation:        op,
		TriggerName:      triggerName,
		Actor:            req.Actor,
		Reason:           req.Reason,
		ConfirmationText: req.Confirmation,
		BeforeState:      before,
		AfterState:       after,
		Diff:             diff,
	})
	return nil
}

// probeOutcome is the typed result of a best-effort introspection step.
// A probe error is logged and never fatal; the operation continues as if
// the object were absent.
type probeOutcome struct {
	Exists bool
	Err    error
}

// probeTrigger runs the existence probe under a savepoint. A failed
// statement aborts the enclosing PostgreSQL transaction, so the probe
// must be rolled back on error to keep the registry update runnable.
func (s *Service) probeTrigger(ctx context.Context, tx *gorm.DB, op, triggerName string) probeOutcome {
	if err := tx.SavePoint("probe").Error; err != nil {
		s.logger.Warn("trigger existence probe failed, continuing",
			"operation", op, "trigger", triggerName, "error", err)
		return probeOutcome{Err: err}
	}
	exists, err := introspect.New(tx).TriggerExists(ctx, triggerName)
	if err != nil {
		_ = tx.RollbackTo("probe").Error
		s.logger.Warn("trigger existence probe failed, continuing",
			"operation", op, "trigger", triggerName, "error", err)
		return probeOutcome{Err: err}
	}
	return probeOutcome{Exists: exists}
}

// probeLive fetches the catalog view of a trigger under a savepoint,
// returning nil when the fetch fails or nothing is found.
func (s *Service) probeLive(ctx context.Context, tx *gorm.DB, triggerName string) *introspect.LiveTrigger {
	if err := tx.SavePoint("probe_live").Error; err != nil {
		s.logger.Warn("live trigger probe failed, continuing",
			"trigger", triggerName, "error", err)
		return nil
	}
	live, err := introspect.New(tx).FetchTrigger(ctx, triggerName)
	if err != nil {
		_ = tx.RollbackTo("probe_live").Error
		s.logger.Warn("live trigger probe failed, continuing",
			"trigger", triggerName, "error", err)
		return nil
	}
	return live
}

func (s *Service) setEnabled(enabled bool) mutation {
	op := OpDisable
	verb := "DISABLE"
	if enabled {
		op = OpEnable
		verb = "ENABLE"
	}
	return func(tx *gorm.DB, entry *Entry) (map[string]any, string, error) {
		probe := s.probeTrigger(tx.Statement.Context, tx, op, entry.TriggerName)
		if probe.Exists {
			ddl := fmt.Sprintf("ALTER TABLE %s %s TRIGGER %s",
				pq.QuoteIdentifier(entry.Table), verb, pq.QuoteIdentifier(entry.TriggerName))
			if err := tx.Exec(ddl).Error; err != nil {
				return nil, "", fmt.Errorf("%s: %w", ddl, err)
			}
		}

		// The desired state persists even when no live trigger exists.
		if err := tx.Model(&Entry{}).Where("trigger_name = ?", entry.TriggerName).
			Update("enabled", enabled).Error; err != nil {
			return nil, "", err
		}
		diff := fmt.Sprintf("enabled: %t -> %t", entry.Enabled, enabled)
		entry.Enabled = enabled
		return entry.Snapshot(), diff, nil
	}
}

func (s *Service) dropTrigger(tx *gorm.DB, entry *Entry) (map[string]any, string, error) {
	probe := s.probeTrigger(tx.Statement.Context, tx, OpDrop, entry.TriggerName)
	if probe.Exists {
		ddl := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s",
			pq.QuoteIdentifier(entry.TriggerName), pq.QuoteIdentifier(entry.Table))
		if err := tx.Exec(ddl).Error; err != nil {
			return nil, "", fmt.Errorf("%s: %w", ddl, err)
		}
	}

	// The registry row goes regardless of whether anything live was
	// dropped; a DDL failure above has already aborted the transaction.
	if err := tx.Where("trigger_name = ?", entry.TriggerName).Delete(&Entry{}).Error; err != nil {
		return nil, "", err
	}
	return nil, fmt.Sprintf("dropped trigger %s on %s", entry.TriggerName, entry.Table), nil
}

func (s *Service) reExecuteTrigger(tx *gorm.DB, entry *Entry) (map[string]any, string, error) {
	ctx := tx.Statement.Context
	probe := s.probeTrigger(ctx, tx, OpReExecute, entry.TriggerName)
	if probe.Exists {
		// Best effort: a failed drop is rolled back to its savepoint and
		// warned about; CREATE OR REPLACE handles most collisions.
		ddl := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s",
			pq.QuoteIdentifier(entry.TriggerName), pq.QuoteIdentifier(entry.Table))
		if err := tx.SavePoint("pre_drop").Error; err == nil {
			if err := tx.Exec(ddl).Error; err != nil {
				_ = tx.RollbackTo("pre_drop").Error
				s.logger.Warn("pre-recreate drop failed, continuing",
					"trigger", entry.TriggerName, "error", err)
			}
		}
	}

	if err := tx.Exec(entry.FunctionBody).Error; err != nil {
		return nil, "", fmt.Errorf("re-execute function body: %w", err)
	}

	executedAt := s.now()
	updates := map[string]any{
		"enabled":          true,
		"last_executed_at": executedAt,
	}
	// The freshly installed catalog state is the drift baseline for this
	// entry until its definition changes again.
	if live := s.probeLive(ctx, tx, entry.TriggerName); live != nil {
		entry.LiveChecksum = live.Checksum(entry.Version)
		updates["live_checksum"] = entry.LiveChecksum
	}
	if err := tx.Model(&Entry{}).Where("trigger_name = ?", entry.TriggerName).
		Updates(updates).Error; err != nil {
		return nil, "", err
	}
	entry.Enabled = true
	entry.LastExecutedAt = &executedAt
	return entry.Snapshot(), "re-executed stored function body", nil
}

func (s *Service) auditSuccess(ctx context.Context, event audit.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.LogSuccess(ctx, event); err != nil {
		s.logger.Warn("audit success write failed", "operation", event.Operation, "error", err)
	}
}

func (s *Service) auditFailure(ctx context.Context, event audit.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.LogFailure(ctx, event); err != nil {
		s.logger.Warn("audit failure write failed", "operation", event.Operation, "error", err)
	}
}
