// Package migration applies ordered, reversible DDL units against the
// database, tracking applied versions in a persisted table. Units commonly
// install or remove triggers and functions; each unit's up/down runs in
// its own transaction, and every mutating entry point is gated by the
// kill switch.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/solaius/trigger-registry/pkg/killswitch"
)

// Kill switch operation names for migration entry points.
const (
	OpUp   = "migration_up"
	OpDown = "migration_down"
	OpRedo = "migration_redo"
)

// Unit is one ordered block of DDL with paired apply/rollback actions.
// Version is a timestamp-derived integer (e.g. 20240115120000) that fixes
// the unit's position in the sequence.
type Unit struct {
	Version int64
	Name    string
	Up      func(tx *gorm.DB) error
	Down    func(tx *gorm.DB) error // nil marks the unit irreversible
}

// SQLUnit builds a Unit from raw DDL strings. An empty downSQL marks the
// unit irreversible.
func SQLUnit(version int64, name, upSQL, downSQL string) Unit {
	unit := Unit{
		Version: version,
		Name:    name,
		Up: func(tx *gorm.DB) error {
			return tx.Exec(upSQL).Error
		},
	}
	if downSQL != "" {
		unit.Down = func(tx *gorm.DB) error {
			return tx.Exec(downSQL).Error
		}
	}
	return unit
}

// UnsafeMigrationError reports an attempt to roll back an irreversible
// unit without explicit allowance.
type UnsafeMigrationError struct {
	Version int64
	Name    string
}

func (e *UnsafeMigrationError) Error() string {
	return fmt.Sprintf("migration %d (%s) is irreversible and cannot be rolled back", e.Version, e.Name)
}

// Suggestion returns a recovery hint for display alongside the error.
func (e *UnsafeMigrationError) Suggestion() string {
	return "set AllowIrreversible on the runner to skip the rollback action, or restore from backup"
}

// appliedVersion is one row of the version-tracking table.
type appliedVersion struct {
	Version   int64 `gorm:"primaryKey;autoIncrement:false"`
	AppliedAt time.Time
}

// TableName overrides the default table name.
func (appliedVersion) TableName() string { return "trigger_schema_migrations" }

// Request carries the caller context handed to the kill switch.
type Request struct {
	Actor        string
	Confirmation string
}

// StatusRow combines a registered unit with its applied state.
type StatusRow struct {
	Version   int64      `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// RunnerConfig collects the Runner's collaborators.
type RunnerConfig struct {
	KillSwitch  *killswitch.Switch
	Environment string
	Logger      *slog.Logger

	// AllowIrreversible lets rollback skip a nil Down action (removing
	// the version row without undoing the DDL) instead of failing.
	AllowIrreversible bool
}

// Runner executes registered units in version order.
type Runner struct {
	db                *gorm.DB
	units             []Unit
	ks                *killswitch.Switch
	environment       string
	logger            *slog.Logger
	allowIrreversible bool
}

// NewRunner creates a Runner. Units are sorted by version; duplicate
// versions are rejected.
func NewRunner(db *gorm.DB, units []Unit, cfg RunnerConfig) (*Runner, error) {
	sorted := slices.Clone(units)
	slices.SortFunc(sorted, func(a, b Unit) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version == sorted[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", sorted[i].Version)
		}
	}

	ks := cfg.KillSwitch
	if ks == nil {
		ks = killswitch.New(nil, cfg.Logger)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		db:                db,
		units:             sorted,
		ks:                ks,
		environment:       cfg.Environment,
		logger:            logger,
		allowIrreversible: cfg.AllowIrreversible,
	}, nil
}

// AutoMigrate creates or updates the version-tracking table.
func (r *Runner) AutoMigrate() error {
	if err := r.db.AutoMigrate(&appliedVersion{}); err != nil {
		return fmt.Errorf("auto-migrate trigger_schema_migrations: %w", err)
	}
	return nil
}

// CurrentVersion returns the maximum applied version, or 0 when nothing
// has been applied.
func (r *Runner) CurrentVersion(ctx context.Context) (int64, error) {
	var version *int64
	err := r.db.WithContext(ctx).Model(&appliedVersion{}).
		Select("MAX(version)").Scan(&version).Error
	if err != nil {
		return 0, fmt.Errorf("current migration version: %w", err)
	}
	if version == nil {
		return 0, nil
	}
	return *version, nil
}

// Pending returns registered units not yet applied, ascending.
func (r *Runner) Pending(ctx context.Context) ([]Unit, error) {
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Unit
	for _, unit := range r.units {
		if !applied[unit.Version] {
			pending = append(pending, unit)
		}
	}
	return pending, nil
}

// Status returns every registered unit with its applied state, ascending.
func (r *Runner) Status(ctx context.Context) ([]StatusRow, error) {
	var rows []appliedVersion
	if err := r.db.WithContext(ctx).Order("version ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	appliedAt := make(map[int64]time.Time, len(rows))
	for _, row := range rows {
		appliedAt[row.Version] = row.AppliedAt
	}

	status := make([]StatusRow, 0, len(r.units))
	for _, unit := range r.units {
		row := StatusRow{Version: unit.Version, Name: unit.Name}
		if at, ok := appliedAt[unit.Version]; ok {
			row.Applied = true
			row.AppliedAt = &at
		}
		status = append(status, row)
	}
	return status, nil
}

// Up applies every pending unit in ascending order. A failure stops the
// run at that unit; earlier units stay applied.
func (r *Runner) Up(ctx context.Context, req Request) error {
	if err := r.ks.Check(ctx, OpUp, r.environment, req.Confirmation, req.Actor); err != nil {
		return err
	}
	pending, err := r.Pending(ctx)
	if err != nil {
		return err
	}
	for _, unit := range pending {
		if err := r.applyUnit(ctx, unit); err != nil {
			return err
		}
	}
	return nil
}

// ApplyVersion applies (or re-applies) a single named version.
func (r *Runner) ApplyVersion(ctx context.Context, version int64, req Request) error {
	if err := r.ks.Check(ctx, OpUp, r.environment, req.Confirmation, req.Actor); err != nil {
		return err
	}
	unit, err := r.findUnit(version)
	if err != nil {
		return err
	}
	return r.applyUnit(ctx, unit)
}

// Down rolls back the most recent applied version.
func (r *Runner) Down(ctx context.Context, req Request) error {
	if err := r.ks.Check(ctx, OpDown, r.environment, req.Confirmation, req.Actor); err != nil {
		return err
	}
	current, err := r.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return nil
	}
	unit, err := r.findUnit(current)
	if err != nil {
		return err
	}
	return r.revertUnit(ctx, unit)
}

// DownTo rolls back every applied unit above the target version,
// newest first. DownTo(0) rolls back everything.
func (r *Runner) DownTo(ctx context.Context, target int64, req Request) error {
	if err := r.ks.Check(ctx, OpDown, r.environment, req.Confirmation, req.Actor); err != nil {
		return err
	}
	return r.rollbackAbove(ctx, target)
}

// Redo rolls back and re-applies. With target equal to the current
// version, just that unit is cycled. With target below current, every
// unit from current down through target is rolled back and target is
// re-applied. A target above current is simply applied. target 0 means
// the current version.
func (r *Runner) Redo(ctx context.Context, target int64, req Request) error {
	if err := r.ks.Check(ctx, OpRedo, r.environment, req.Confirmation, req.Actor); err != nil {
		return err
	}
	current, err := r.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if target == 0 {
		target = current
	}
	if target == 0 {
		return nil
	}
	unit, err := r.findUnit(target)
	if err != nil {
		return err
	}

	if target <= current {
		// Roll back everything above the target, then the target itself.
		if err := r.rollbackAbove(ctx, target-1); err != nil {
			return err
		}
	}
	return r.applyUnit(ctx, unit)
}

func (r *Runner) rollbackAbove(ctx context.Context, target int64) error {
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return err
	}
	for i := len(r.units) - 1; i >= 0; i-- {
		unit := r.units[i]
		if unit.Version <= target || !applied[unit.Version] {
			continue
		}
		if err := r.revertUnit(ctx, unit); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) applyUnit(ctx context.Context, unit Unit) error {
	r.logger.Info("applying migration", "version", unit.Version, "name", unit.Name)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := unit.Up(tx); err != nil {
			return err
		}
		// Re-applying a version must not duplicate its row.
		if err := tx.Where("version = ?", unit.Version).Delete(&appliedVersion{}).Error; err != nil {
			return err
		}
		return tx.Create(&appliedVersion{Version: unit.Version, AppliedAt: time.Now()}).Error
	})
	if err != nil {
		return fmt.Errorf("migration %d (%s) up failed: %w", unit.Version, unit.Name, err)
	}
	return nil
}

func (r *Runner) revertUnit(ctx context.Context, unit Unit) error {
	if unit.Down == nil && !r.allowIrreversible {
		return &UnsafeMigrationError{Version: unit.Version, Name: unit.Name}
	}
	r.logger.Info("rolling back migration", "version", unit.Version, "name", unit.Name)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if unit.Down != nil {
			if err := unit.Down(tx); err != nil {
				return err
			}
		} else {
			r.logger.Warn("skipping irreversible rollback action",
				"version", unit.Version, "name", unit.Name)
		}
		return tx.Where("version = ?", unit.Version).Delete(&appliedVersion{}).Error
	})
	if err != nil {
		return fmt.Errorf("migration %d (%s) down failed: %w", unit.Version, unit.Name, err)
	}
	return nil
}

func (r *Runner) findUnit(version int64) (Unit, error) {
	for _, unit := range r.units {
		if unit.Version == version {
			return unit, nil
		}
	}
	return Unit{}, fmt.Errorf("migration version %d is not registered", version)
}

func (r *Runner) appliedSet(ctx context.Context) (map[int64]bool, error) {
	var versions []int64
	err := r.db.WithContext(ctx).Model(&appliedVersion{}).
		Pluck("version", &versions).Error
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	applied := make(map[int64]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}
