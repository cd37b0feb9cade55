package harness

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/solaius/trigger-registry/pkg/registry"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func sampleDefinition() registry.Definition {
	return registry.Definition{
		TriggerName:  "audit_users",
		TableName:    "users",
		FunctionName: "audit_users_fn",
		Events:       []string{"update"},
		Timing:       "AFTER",
		Version:      1,
	}
}

func TestValidateDefinition(t *testing.T) {
	assert.True(t, ValidateDefinition(sampleDefinition()).Valid)

	def := sampleDefinition()
	def.TriggerName = ""
	result := ValidateDefinition(def)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "trigger_name")

	def = sampleDefinition()
	def.Events = nil
	result = ValidateDefinition(def)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "events")

	def = sampleDefinition()
	def.Version = 0
	result = ValidateDefinition(def)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "version")
}

func TestValidateCondition_OldForInsert(t *testing.T) {
	v := NewValidator(nil)
	ctx := context.Background()

	result := v.ValidateCondition(ctx, "OLD.status != NEW.status", []string{"insert"})
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "OLD values for INSERT")

	// The same condition is fine for update triggers.
	assert.True(t, v.ValidateCondition(ctx, "OLD.status != NEW.status", []string{"update"}).Valid)
	assert.True(t, v.ValidateCondition(ctx, "OLD.status IS NOT NULL", []string{"delete"}).Valid)

	// Mixed events include a row image for OLD, so the reference stands.
	assert.True(t, v.ValidateCondition(ctx, "OLD.status != NEW.status", []string{"insert", "update"}).Valid)

	// Case-insensitive and word-bounded: "folder" is not OLD.
	assert.False(t, v.ValidateCondition(ctx, "old.status IS NULL", []string{"insert"}).Valid)
	assert.True(t, v.ValidateCondition(ctx, "NEW.folder_id IS NULL", []string{"insert"}).Valid)

	// Empty conditions are trivially valid.
	assert.True(t, v.ValidateCondition(ctx, "", []string{"insert"}).Valid)
}

func TestValidateFunctionBody_AlwaysRollsBack(t *testing.T) {
	db := newTestDB(t)
	v := NewValidator(db)
	ctx := context.Background()

	result := v.ValidateFunctionBody(ctx, "CREATE TABLE harness_probe (id integer)")
	assert.True(t, result.Valid)

	// The probe table was rolled back, not committed.
	assert.False(t, db.Migrator().HasTable("harness_probe"))
}

func TestValidateFunctionBody_CapturesSyntaxError(t *testing.T) {
	v := NewValidator(newTestDB(t))

	result := v.ValidateFunctionBody(context.Background(), "CREATE TABEL broken (id integer)")
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "function body rejected")

	result = v.ValidateFunctionBody(context.Background(), "   ")
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "blank")
}

func TestDryRun(t *testing.T) {
	def := sampleDefinition()
	def.Condition = "OLD.status IS DISTINCT FROM NEW.status"
	def.Events = []string{"insert", "update"}

	rendered, impact, err := DryRun(def, "")
	require.NoError(t, err)

	assert.Contains(t, rendered.FunctionSQL, `CREATE OR REPLACE FUNCTION "audit_users_fn"()`)
	assert.Contains(t, rendered.TriggerSQL, `CREATE TRIGGER "audit_users" AFTER INSERT OR UPDATE ON "users"`)
	assert.Contains(t, rendered.TriggerSQL, "WHEN (OLD.status IS DISTINCT FROM NEW.status)")
	assert.Contains(t, rendered.TriggerSQL, `EXECUTE FUNCTION "audit_users_fn"();`)

	assert.Equal(t, "users", impact.TableName)
	assert.Equal(t, "audit_users_fn", impact.FunctionName)
	assert.Equal(t, "audit_users", impact.TriggerName)
	assert.Equal(t, []string{"insert", "update"}, impact.Events)
}

func TestDryRun_CustomBodyAndNoCondition(t *testing.T) {
	def := sampleDefinition()
	body := "CREATE OR REPLACE FUNCTION audit_users_fn() RETURNS trigger AS $$ BEGIN RETURN NEW; END $$ LANGUAGE plpgsql;"

	rendered, _, err := DryRun(def, body)
	require.NoError(t, err)
	assert.Equal(t, body, rendered.FunctionSQL)
	assert.NotContains(t, rendered.TriggerSQL, "WHEN")
}

func TestDryRun_InvalidDefinition(t *testing.T) {
	def := sampleDefinition()
	def.TableName = ""
	_, _, err := DryRun(def, "")
	assert.ErrorContains(t, err, "table_name")
}

func newMockExecutor(t *testing.T) (*SafeExecutor, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewSafeExecutor(db), mock
}

func TestSafeExecutor_SuccessStillRollsBack(t *testing.T) {
	e, mock := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE OR REPLACE FUNCTION").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TRIGGER").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	outcome := e.Test(context.Background(), sampleDefinition(), "",
		"INSERT INTO users (status) VALUES ('active')")

	assert.True(t, outcome.Success)
	assert.True(t, outcome.FunctionCreated)
	assert.True(t, outcome.TriggerCreated)
	assert.True(t, outcome.RowInserted)
	require.NoError(t, mock.ExpectationsWereMet(), "the transaction must end in rollback, never commit")
}

func TestSafeExecutor_FailureCapturedAndRolledBack(t *testing.T) {
	e, mock := newMockExecutor(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE OR REPLACE FUNCTION").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TRIGGER").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	outcome := e.Test(context.Background(), sampleDefinition(), "", "")

	assert.False(t, outcome.Success)
	assert.True(t, outcome.FunctionCreated)
	assert.False(t, outcome.TriggerCreated)
	assert.NotEmpty(t, outcome.Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSafeExecutor_InvalidDefinition(t *testing.T) {
	e, _ := newMockExecutor(t)

	def := sampleDefinition()
	def.FunctionName = ""
	outcome := e.Test(context.Background(), def, "", "")
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "function_name")
}
