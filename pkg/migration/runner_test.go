package migration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/solaius/trigger-registry/pkg/killswitch"
)

const (
	v1 int64 = 20240101120000
	v2 int64 = 20240201120000
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, units []Unit, cfg RunnerConfig) (*Runner, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	if cfg.KillSwitch == nil {
		cfg.KillSwitch = killswitch.New(&killswitch.Config{Enabled: false}, cfg.Logger)
	}
	runner, err := NewRunner(db, units, cfg)
	require.NoError(t, err)
	require.NoError(t, runner.AutoMigrate())
	return runner, db
}

// countingUnits tracks up/down invocations to observe ordering.
func countingUnits(calls *[]string) []Unit {
	record := func(tag string) func(*gorm.DB) error {
		return func(*gorm.DB) error {
			*calls = append(*calls, tag)
			return nil
		}
	}
	return []Unit{
		{Version: v2, Name: "add_orders_trigger", Up: record("up2"), Down: record("down2")},
		{Version: v1, Name: "add_users_trigger", Up: record("up1"), Down: record("down1")},
	}
}

func TestUp_AppliesPendingInOrder(t *testing.T) {
	var calls []string
	runner, _ := newTestRunner(t, countingUnits(&calls), RunnerConfig{})
	ctx := context.Background()

	current, err := runner.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, current)

	require.NoError(t, runner.Up(ctx, Request{Actor: "alice"}))
	assert.Equal(t, []string{"up1", "up2"}, calls)

	current, err = runner.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2, current)

	pending, err := runner.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Up is idempotent once everything is applied.
	require.NoError(t, runner.Up(ctx, Request{Actor: "alice"}))
	assert.Equal(t, []string{"up1", "up2"}, calls)
}

func TestDown_RollsBackNewestOnly(t *testing.T) {
	var calls []string
	runner, _ := newTestRunner(t, countingUnits(&calls), RunnerConfig{})
	ctx := context.Background()

	require.NoError(t, runner.Up(ctx, Request{Actor: "alice"}))
	calls = nil

	require.NoError(t, runner.Down(ctx, Request{Actor: "alice"}))
	assert.Equal(t, []string{"down2"}, calls)

	current, err := runner.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1, current)
}

func TestRedo_TargetBelowCurrent(t *testing.T) {
	var calls []string
	runner, _ := newTestRunner(t, countingUnits(&calls), RunnerConfig{})
	ctx := context.Background()

	require.NoError(t, runner.Up(ctx, Request{Actor: "alice"}))
	calls = nil

	// redo(v1) with current == v2: roll back v2, roll back v1, reapply v1.
	require.NoError(t, runner.Redo(ctx, v1, Request{Actor: "alice"}))
	assert.Equal(t, []string{"down2", "down1", "up1"}, calls)

	current, err := runner.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1, current)
}

func TestRedo_CurrentVersion(t *testing.T) {
	var calls []string
	runner, _ := newTestRunner(t, countingUnits(&calls), RunnerConfig{})
	ctx := context.Background()

	require.NoError(t, runner.Up(ctx, Request{Actor: "alice"}))
	calls = nil

	// redo with no explicit target cycles only the current version.
	require.NoError(t, runner.Redo(ctx, 0, Request{Actor: "alice"}))
	assert.Equal(t, []string{"down2", "up2"}, calls)
}

func TestRedo_TargetAboveCurrent(t *testing.T) {
	var calls []string
	runner, _ := newTestRunner(t, countingUnits(&calls), RunnerConfig{})
	ctx := context.Background()

	require.NoError(t, runner.ApplyVersion(ctx, v1, Request{Actor: "alice"}))
	calls = nil

	// A not-yet-applied target is simply applied.
	require.NoError(t, runner.Redo(ctx, v2, Request{Actor: "alice"}))
	assert.Equal(t, []string{"up2"}, calls)
}

func TestUp_FailureStopsRun(t *testing.T) {
	boom := errors.New("syntax error at or near")
	units := []Unit{
		{Version: v1, Name: "ok", Up: func(*gorm.DB) error { return nil }, Down: func(*gorm.DB) error { return nil }},
		{Version: v2, Name: "broken", Up: func(*gorm.DB) error { return boom }},
	}
	runner, _ := newTestRunner(t, units, RunnerConfig{})
	ctx := context.Background()

	err := runner.Up(ctx, Request{Actor: "alice"})
	require.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "broken")

	// The failing unit left the database unmigrated past v1.
	current, cerr := runner.CurrentVersion(ctx)
	require.NoError(t, cerr)
	assert.Equal(t, v1, current)
}

func TestUp_FailedUnitRollsBackItsDDL(t *testing.T) {
	units := []Unit{
		SQLUnit(v1, "create_then_break",
			"CREATE TABLE half_done (id integer)", "DROP TABLE half_done"),
	}
	// Make the unit fail after its DDL by wrapping Up.
	broken := units[0]
	origUp := broken.Up
	broken.Up = func(tx *gorm.DB) error {
		if err := origUp(tx); err != nil {
			return err
		}
		return errors.New("constraint violation")
	}
	runner, db := newTestRunner(t, []Unit{broken}, RunnerConfig{})

	err := runner.Up(context.Background(), Request{Actor: "alice"})
	require.Error(t, err)

	// The unit's transaction rolled back: the table does not exist.
	assert.False(t, db.Migrator().HasTable("half_done"))
}

func TestDown_IrreversibleUnit(t *testing.T) {
	units := []Unit{SQLUnit(v1, "drop_legacy", "CREATE TABLE legacy (id integer)", "")}
	runner, _ := newTestRunner(t, units, RunnerConfig{})
	ctx := context.Background()

	require.NoError(t, runner.Up(ctx, Request{Actor: "alice"}))

	err := runner.Down(ctx, Request{Actor: "alice"})
	var uerr *UnsafeMigrationError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, v1, uerr.Version)

	// With explicit allowance the version row is removed without DDL.
	allowed, _ := newTestRunner(t, units, RunnerConfig{AllowIrreversible: true})
	require.NoError(t, allowed.Up(ctx, Request{Actor: "alice"}))
	require.NoError(t, allowed.Down(ctx, Request{Actor: "alice"}))
	current, err := allowed.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestStatus(t *testing.T) {
	var calls []string
	runner, _ := newTestRunner(t, countingUnits(&calls), RunnerConfig{})
	ctx := context.Background()

	require.NoError(t, runner.ApplyVersion(ctx, v1, Request{Actor: "alice"}))

	status, err := runner.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, v1, status[0].Version)
	assert.True(t, status[0].Applied)
	assert.NotNil(t, status[0].AppliedAt)
	assert.False(t, status[1].Applied)
}

func TestKillSwitchGatesMigrations(t *testing.T) {
	ks := killswitch.New(&killswitch.Config{
		Enabled:               true,
		ProtectedEnvironments: []string{"production"},
		ConfirmationRequired:  true,
		ConfirmationPattern:   "EXECUTE %s",
	}, quietLogger())

	var calls []string
	runner, _ := newTestRunner(t, countingUnits(&calls), RunnerConfig{
		KillSwitch:  ks,
		Environment: "production",
	})
	ctx := context.Background()

	err := runner.Up(ctx, Request{Actor: "alice"})
	var kerr *killswitch.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, OpUp, kerr.Operation)
	assert.Empty(t, calls)

	require.NoError(t, runner.Up(ctx, Request{Actor: "alice", Confirmation: "EXECUTE MIGRATION_UP"}))
	assert.Equal(t, []string{"up1", "up2"}, calls)
}

func TestNewRunner_DuplicateVersions(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	_, err = NewRunner(db, []Unit{
		{Version: v1, Name: "a", Up: func(*gorm.DB) error { return nil }},
		{Version: v1, Name: "b", Up: func(*gorm.DB) error { return nil }},
	}, RunnerConfig{Logger: quietLogger()})
	assert.ErrorContains(t, err, "duplicate migration version")
}
