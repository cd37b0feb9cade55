package registry

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Store provides CRUD operations for trigger registry entries.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the registry table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("auto-migrate trigger_registry_entries: %w", err)
	}
	return nil
}

// Register validates and creates a new entry. The checksum is always
// recomputed from the defining attributes; entries start disabled.
func (s *Store) Register(ctx context.Context, entry *Entry) error {
	entry.Enabled = false
	entry.Checksum = entry.ComputeChecksum()
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("register trigger %q: %w", entry.TriggerName, err)
	}
	return nil
}

// GetByName retrieves an entry by trigger name.
// Returns nil, nil if no entry exists.
func (s *Store) GetByName(ctx context.Context, triggerName string) (*Entry, error) {
	var entry Entry
	err := s.db.WithContext(ctx).Where("trigger_name = ?", triggerName).First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get trigger %q: %w", triggerName, err)
	}
	return &entry, nil
}

// List returns all entries ordered by trigger name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).Order("trigger_name ASC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	return entries, nil
}

// ListForTable returns entries for one table ordered by trigger name.
func (s *Store) ListForTable(ctx context.Context, tableName string) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("table_name = ?", tableName).
		Order("trigger_name ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list triggers for table %q: %w", tableName, err)
	}
	return entries, nil
}

// TouchVerified stamps last_verified_at on an entry after a drift check.
func (s *Store) TouchVerified(ctx context.Context, triggerName string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Entry{}).
		Where("trigger_name = ?", triggerName).
		Update("last_verified_at", at).Error
}
