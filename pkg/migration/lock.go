package migration

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// Locker serializes migration runs across replicas so concurrent
// `migrate up` invocations cannot interleave units.
type Locker interface {
	// WithLock executes fn while holding the migration lock. It blocks
	// until the lock is acquired and releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewLocker creates a Locker appropriate for the database dialect.
// PostgreSQL uses advisory locks; other databases use a table-based
// fallback whose lock table is created immediately.
func NewLocker(db *gorm.DB) Locker {
	if db == nil {
		return &noopLock{}
	}
	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte("trigger-registry-migration"))),
		}
	}
	lock := &fallbackLock{db: db}
	// Create the lock table up front so concurrent callers never hit
	// "no such table" on their first WithLock call.
	_ = db.AutoMigrate(&lockRecord{})
	return lock
}

type noopLock struct{}

func (n *noopLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// pgAdvisoryLock uses PostgreSQL advisory locks for serialization.
type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

// lockRecord is the table-based lock row for non-PostgreSQL databases.
type lockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (lockRecord) TableName() string { return "trigger_migration_lock" }

// fallbackLock uses INSERT-or-fail semantics on a lock table, with stale
// lock cleanup for crash recovery.
type fallbackLock struct {
	db *gorm.DB
}

const (
	lockRowID         = "migration"
	lockRetryInterval = time.Second
	lockWaitLimit     = 30 * time.Second
	staleLockAge      = 5 * time.Minute
)

func (l *fallbackLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release(ctx)
	return fn()
}

func (l *fallbackLock) acquire(ctx context.Context) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	deadline := time.Now().Add(lockWaitLimit)
	for {
		// Delete stale locks left behind by a crashed holder.
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", lockRowID, time.Now().Add(-staleLockAge)).
			Delete(&lockRecord{})

		row := lockRecord{ID: lockRowID, LockedAt: time.Now(), LockedBy: hostname}
		result := l.db.WithContext(ctx).Create(&row)
		if result.Error == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("acquire migration lock: held elsewhere for over %s: %w", lockWaitLimit, result.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// release drops the lock row even when the caller's context is already
// cancelled, so a failed run never leaves the lock held.
func (l *fallbackLock) release(ctx context.Context) {
	l.db.WithContext(context.WithoutCancel(ctx)).
		Where("id = ?", lockRowID).
		Delete(&lockRecord{})
}
