package drift

import (
	"context"
	"fmt"
	"strings"
)

// Summary aggregates detection results per state.
type Summary struct {
	Total  int           `json:"total"`
	Counts map[State]int `json:"counts"`
}

// Reporter renders detection results for humans.
type Reporter struct {
	detector *Detector
}

// NewReporter creates a Reporter over a Detector.
func NewReporter(detector *Detector) *Reporter {
	return &Reporter{detector: detector}
}

// Summarize counts every registry entry's state.
func (r *Reporter) Summarize(ctx context.Context) (*Summary, error) {
	results, err := r.detector.DetectAll(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Counts: make(map[State]int, len(States))}
	for _, result := range results {
		summary.Total++
		summary.Counts[result.State]++
	}
	return summary, nil
}

// Report renders a human-readable drift report for one trigger, including
// an expected/actual diff when the trigger has drifted.
func (r *Reporter) Report(ctx context.Context, triggerName string) (string, error) {
	result, err := r.detector.Detect(ctx, triggerName)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "trigger: %s\n", result.TriggerName)
	fmt.Fprintf(&b, "state:   %s\n", result.State)
	if result.Detail != "" {
		fmt.Fprintf(&b, "detail:  %s\n", result.Detail)
	}
	if result.State == StateDrifted {
		b.WriteString("\n--- expected (registry) ---\n")
		b.WriteString(result.ExpectedSQL)
		b.WriteString("\n--- actual (live) ---\n")
		b.WriteString(result.ActualSQL)
		b.WriteString("\n")
	}
	return b.String(), nil
}
