package drift

import (
	"context"
	"log/slog"
	"time"

	"github.com/solaius/trigger-registry/pkg/registry"
)

// Scanner periodically detects drift across every registered trigger,
// logging anything that is not in sync and stamping verified entries.
type Scanner struct {
	detector *Detector
	store    *registry.Store
	interval time.Duration
	logger   *slog.Logger
}

// NewScanner creates a Scanner. A non-positive interval disables it.
func NewScanner(detector *Detector, store *registry.Store, interval time.Duration, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		detector: detector,
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Run starts the scanner. It runs until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("drift scanner disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("drift scanner started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("drift scanner stopped")
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan performs one detection pass. Results that are not in sync are
// logged at warn level; in-sync entries get their verification stamp.
func (s *Scanner) Scan(ctx context.Context) {
	results, err := s.detector.DetectAll(ctx)
	if err != nil {
		s.logger.Error("drift scan failed", "error", err)
		return
	}

	now := time.Now()
	drifted := 0
	for _, result := range results {
		switch result.State {
		case StateInSync:
			if err := s.store.TouchVerified(ctx, result.TriggerName, now); err != nil {
				s.logger.Error("failed to stamp verified trigger",
					"trigger", result.TriggerName, "error", err)
			}
		case StateDisabled:
			// Disabled on both sides is expected consistency, not drift.
		default:
			drifted++
			s.logger.Warn("trigger out of sync",
				"trigger", result.TriggerName,
				"state", result.State,
				"detail", result.Detail)
		}
	}
	s.logger.Info("drift scan completed",
		"scanned", len(results),
		"out_of_sync", drifted)
}
