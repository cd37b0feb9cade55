package introspect

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestTriggerExists(t *testing.T) {
	db, mock := newMockDB(t)
	i := New(db)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM pg_trigger").
		WithArgs("audit_users").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := i.TriggerExists(context.Background(), "audit_users")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM pg_trigger").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	exists, err = i.TriggerExists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerExists_QueryError(t *testing.T) {
	db, mock := newMockDB(t)
	i := New(db)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM pg_trigger").
		WillReturnError(assert.AnError)

	_, err := i.TriggerExists(context.Background(), "audit_users")
	assert.ErrorContains(t, err, "check trigger existence")
}

func TestFetchTrigger(t *testing.T) {
	db, mock := newMockDB(t)
	i := New(db)

	rows := sqlmock.NewRows([]string{"name", "table_name", "enabled_flag", "function_name", "function_body", "definition"}).
		AddRow("audit_users", "users", "O", "audit_users_fn", "BEGIN RETURN NEW; END;",
			"CREATE TRIGGER audit_users AFTER UPDATE ON public.users FOR EACH ROW WHEN ((old.status <> new.status)) EXECUTE FUNCTION audit_users_fn()")
	mock.ExpectQuery("SELECT t.tgname AS name").
		WithArgs("audit_users").
		WillReturnRows(rows)

	live, err := i.FetchTrigger(context.Background(), "audit_users")
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, "users", live.Table)
	assert.True(t, live.Enabled())
	assert.Equal(t, "(old.status <> new.status)", live.Condition())
}

func TestFetchTrigger_Absent(t *testing.T) {
	db, mock := newMockDB(t)
	i := New(db)

	mock.ExpectQuery("SELECT t.tgname AS name").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"name", "table_name", "enabled_flag", "function_name", "function_body", "definition"}))

	live, err := i.FetchTrigger(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, live)
}

func TestLiveTriggerEnabled(t *testing.T) {
	assert.True(t, (&LiveTrigger{EnabledFlag: "O"}).Enabled())
	assert.True(t, (&LiveTrigger{EnabledFlag: "A"}).Enabled())
	assert.False(t, (&LiveTrigger{EnabledFlag: "D"}).Enabled())
}

func TestConditionFromDefinition(t *testing.T) {
	assert.Equal(t, "",
		conditionFromDefinition("CREATE TRIGGER t AFTER INSERT ON users FOR EACH ROW EXECUTE FUNCTION f()"))
	assert.Equal(t, "(old.a <> new.a)",
		conditionFromDefinition("CREATE TRIGGER t AFTER UPDATE ON users FOR EACH ROW WHEN ((old.a <> new.a)) EXECUTE FUNCTION f()"))
}

func TestColumnsForTable(t *testing.T) {
	db, mock := newMockDB(t)
	i := New(db)

	rows := sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
		AddRow("id", "bigint", "NO").
		AddRow("status", "text", "YES")
	mock.ExpectQuery("SELECT column_name, data_type, is_nullable").
		WithArgs("users").
		WillReturnRows(rows)

	cols, err := i.ColumnsForTable(context.Background(), "users")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "status", cols[1].Name)
	assert.Equal(t, "YES", cols[1].Nullable)
}
