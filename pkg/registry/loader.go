package registry

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// manifest is the structure of a declarative trigger manifest file.
type manifest struct {
	Triggers []manifestTrigger `yaml:"triggers"`
}

type manifestTrigger struct {
	Definition   `yaml:",inline"`
	FunctionBody string `yaml:"function_body"`
	Environment  string `yaml:"environment,omitempty"`
}

// ApplyResult summarizes a manifest application.
type ApplyResult struct {
	Registered []string
	Updated    []string
	Unchanged  []string
}

// LoadManifest parses and structurally validates a trigger manifest file.
func LoadManifest(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest bytes into registry entries with
// source dsl. Every entry is validated before any is returned.
func ParseManifest(data []byte) ([]Entry, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse trigger manifest: %w", err)
	}

	entries := make([]Entry, 0, len(m.Triggers))
	for i, t := range m.Triggers {
		entry := Entry{
			TriggerName:  t.TriggerName,
			Table:        t.TableName,
			Version:      t.Version,
			Source:       SourceDSL,
			Definition:   t.Definition,
			FunctionBody: t.FunctionBody,
			Condition:    t.Condition,
			Environment:  t.Environment,
		}
		entry.Checksum = entry.ComputeChecksum()
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("manifest entry %d (%s): %w", i, t.TriggerName, err)
		}
		if len(t.Events) == 0 {
			return nil, fmt.Errorf("manifest entry %d (%s): events list must not be empty", i, t.TriggerName)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ApplyManifest registers new entries and refreshes changed ones. Existing
// entries whose checksum already matches are left untouched, preserving
// their lifecycle state.
func ApplyManifest(ctx context.Context, store *Store, entries []Entry) (*ApplyResult, error) {
	result := &ApplyResult{}
	for i := range entries {
		entry := entries[i]
		existing, err := store.GetByName(ctx, entry.TriggerName)
		if err != nil {
			return result, err
		}
		switch {
		case existing == nil:
			if err := store.Register(ctx, &entry); err != nil {
				return result, err
			}
			result.Registered = append(result.Registered, entry.TriggerName)
		case existing.Checksum == entry.Checksum:
			result.Unchanged = append(result.Unchanged, entry.TriggerName)
		default:
			updates := map[string]any{
				"table_name":    entry.Table,
				"version":       entry.Version,
				"definition":    entry.Definition,
				"function_body": entry.FunctionBody,
				"condition":     entry.Condition,
				"environment":   entry.Environment,
				"checksum":      entry.Checksum,
				// The new definition has not been installed yet, so the
				// recorded live baseline no longer applies.
				"live_checksum": "",
			}
			err := store.db.WithContext(ctx).Model(&Entry{}).
				Where("trigger_name = ?", entry.TriggerName).
				Updates(updates).Error
			if err != nil {
				return result, fmt.Errorf("update trigger %q: %w", entry.TriggerName, err)
			}
			result.Updated = append(result.Updated, entry.TriggerName)
		}
	}
	return result, nil
}
