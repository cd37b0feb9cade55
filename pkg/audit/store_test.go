package audit

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestStore_AppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.LogSuccess(ctx, Event{
		Operation:   "enable_trigger",
		TriggerName: "audit_users",
		Actor:       "alice",
		Reason:      "rollout",
		BeforeState: JSONMap{"enabled": false},
		AfterState:  JSONMap{"enabled": true},
	})
	require.NoError(t, err)

	err = store.LogFailure(ctx, Event{
		Operation:    "drop_trigger",
		TriggerName:  "audit_users",
		Actor:        "bob",
		ErrorMessage: "permission denied for table users",
		BeforeState:  JSONMap{"enabled": true},
	})
	require.NoError(t, err)

	records, err := store.ListByTrigger(ctx, "audit_users", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	outcomes := []string{records[0].Outcome, records[1].Outcome}
	assert.Contains(t, outcomes, OutcomeSuccess)
	assert.Contains(t, outcomes, OutcomeFailure)

	for _, r := range records {
		assert.NotEmpty(t, r.ID)
		if r.Outcome == OutcomeSuccess {
			assert.Equal(t, JSONMap{"enabled": true}, r.AfterState)
		} else {
			assert.Equal(t, "permission denied for table users", r.ErrorMessage)
		}
	}
}

func TestStore_DeleteOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.LogSuccess(ctx, Event{Operation: "enable_trigger", TriggerName: "t1", Actor: "alice"}))

	// Nothing is older than a cutoff in the past.
	deleted, err := store.DeleteOlderThan(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = store.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	records, err := store.ListByTrigger(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}
