package migration

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

func TestNewLocker_NilDB(t *testing.T) {
	called := false
	err := NewLocker(nil).WithLock(context.Background(), func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestFallbackLock_AcquiresAndReleases(t *testing.T) {
	_, db := newTestRunner(t, nil, RunnerConfig{})
	locker := NewLocker(db)

	require.NoError(t, locker.WithLock(context.Background(), func() error {
		var count int64
		require.NoError(t, db.Model(&lockRecord{}).Count(&count).Error)
		assert.EqualValues(t, 1, count, "lock row held during fn")
		return nil
	}))

	var count int64
	require.NoError(t, db.Model(&lockRecord{}).Count(&count).Error)
	assert.Zero(t, count, "lock row released after fn")
}

func TestFallbackLock_ReleasesOnError(t *testing.T) {
	_, db := newTestRunner(t, nil, RunnerConfig{})
	locker := NewLocker(db)

	err := locker.WithLock(context.Background(), func() error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var count int64
	require.NoError(t, db.Model(&lockRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestFallbackLock_ReleasesAfterCancel(t *testing.T) {
	_, db := newTestRunner(t, nil, RunnerConfig{})
	locker := NewLocker(db)

	ctx, cancel := context.WithCancel(context.Background())
	err := locker.WithLock(ctx, func() error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)

	var count int64
	require.NoError(t, db.Model(&lockRecord{}).Count(&count).Error)
	assert.Zero(t, count, "lock row released despite cancelled context")
}

func TestAdvisoryLock_WrapsFn(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectExec("SELECT pg_advisory_lock").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WillReturnResult(sqlmock.NewResult(0, 0))

	called := false
	require.NoError(t, NewLocker(db).WithLock(context.Background(), func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}
