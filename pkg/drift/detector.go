// Package drift compares the registry's intended trigger state against the
// live PostgreSQL catalog and classifies each trigger's condition. The
// classification is a pure function of (registry entry, live state) at the
// moment of evaluation; nothing is cached and nothing is mutated.
package drift

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solaius/trigger-registry/pkg/introspect"
	"github.com/solaius/trigger-registry/pkg/registry"
)

// State classifies one trigger's drift condition.
type State string

const (
	// StateInSync means the live trigger matches the registry checksum.
	StateInSync State = "in_sync"
	// StateDrifted means the live trigger exists but its effective
	// definition differs from the registry's.
	StateDrifted State = "drifted"
	// StateDisabled means the registry entry is disabled and the live
	// trigger is disabled or absent, which is expected consistency.
	StateDisabled State = "disabled"
	// StateDropped means the registry expects a trigger that is absent
	// from the live catalog.
	StateDropped State = "dropped"
	// StateUnknown means introspection failed or returned ambiguous data.
	StateUnknown State = "unknown"
	// StateManualOverride flags a live trigger the registry never
	// registered, i.e. one entirely outside registry control.
	StateManualOverride State = "manual_override"
)

// States lists every reachable classification.
var States = []State{StateInSync, StateDrifted, StateDisabled, StateDropped, StateUnknown, StateManualOverride}

// Result is the comparison outcome for one trigger.
type Result struct {
	TriggerName string `json:"trigger_name"`
	State       State  `json:"state"`
	ExpectedSQL string `json:"expected_sql,omitempty"`
	ActualSQL   string `json:"actual_sql,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Detector classifies registry entries against live catalog state.
type Detector struct {
	store  *registry.Store
	intro  *introspect.Introspector
	logger *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(store *registry.Store, intro *introspect.Introspector, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: store, intro: intro, logger: logger}
}

// Detect classifies one trigger by name. An absent live trigger is a
// classification, never an error; introspection failures classify as
// unknown. The returned error covers registry read failures only.
func (d *Detector) Detect(ctx context.Context, triggerName string) (Result, error) {
	entry, err := d.store.GetByName(ctx, triggerName)
	if err != nil {
		return Result{}, err
	}

	live, introErr := d.intro.FetchTrigger(ctx, triggerName)
	if introErr != nil {
		d.logger.Warn("introspection failed during drift detection",
			"trigger", triggerName, "error", introErr)
		return Result{
			TriggerName: triggerName,
			State:       StateUnknown,
			Detail:      fmt.Sprintf("introspection failed: %v", introErr),
		}, nil
	}

	if entry == nil {
		if live != nil {
			return Result{
				TriggerName: triggerName,
				State:       StateManualOverride,
				ActualSQL:   live.Definition,
				Detail:      "live trigger exists but was never registered",
			}, nil
		}
		return Result{
			TriggerName: triggerName,
			State:       StateUnknown,
			Detail:      "trigger is neither registered nor present in the catalog",
		}, nil
	}

	return d.classify(entry, live), nil
}

// DetectAll classifies every registry entry.
func (d *Detector) DetectAll(ctx context.Context) ([]Result, error) {
	entries, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		live, introErr := d.intro.FetchTrigger(ctx, entry.TriggerName)
		if introErr != nil {
			d.logger.Warn("introspection failed during drift detection",
				"trigger", entry.TriggerName, "error", introErr)
			results = append(results, Result{
				TriggerName: entry.TriggerName,
				State:       StateUnknown,
				Detail:      fmt.Sprintf("introspection failed: %v", introErr),
			})
			continue
		}
		results = append(results, d.classify(entry, live))
	}
	return results, nil
}

// classify is the pure (entry, live) -> state function.
func (d *Detector) classify(entry *registry.Entry, live *introspect.LiveTrigger) Result {
	result := Result{TriggerName: entry.TriggerName}

	if live == nil {
		// Absence yields dropped, except an entry that is disabled in the
		// registry too: that is expected consistency.
		if !entry.Enabled {
			result.State = StateDisabled
			result.Detail = "registry entry disabled and no live trigger present"
		} else {
			result.State = StateDropped
			result.ExpectedSQL = entry.FunctionBody
			result.Detail = "registry expects a live trigger but none exists"
		}
		return result
	}

	if !entry.Enabled && !live.Enabled() {
		result.State = StateDisabled
		result.Detail = "disabled in both registry and catalog"
		return result
	}

	// The catalog reports the function as prosrc and the WHEN clause in
	// its normalized form, so the live fingerprint is compared against the
	// baseline recorded when the trigger was last installed through the
	// registry. Entries never installed this way fall back to the raw
	// checksum, which only matches when they were registered straight from
	// catalog state.
	baseline := entry.LiveChecksum
	if baseline == "" {
		baseline = entry.Checksum
	}
	if live.Checksum(entry.Version) == baseline {
		result.State = StateInSync
		return result
	}

	result.State = StateDrifted
	result.ExpectedSQL = expectedSQL(entry)
	result.ActualSQL = actualSQL(live)
	result.Detail = "live definition differs from recorded state"
	return result
}

func expectedSQL(entry *registry.Entry) string {
	sql := entry.FunctionBody
	if entry.Condition != "" {
		sql += "\n-- WHEN " + entry.Condition
	}
	return sql
}

func actualSQL(live *introspect.LiveTrigger) string {
	return live.Definition + "\n" + live.FunctionBody
}
