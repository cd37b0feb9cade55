// Package killswitch guards mutating trigger operations in protected
// environments. When the switch is active for an environment, an operation
// only proceeds if the caller supplies the exact confirmation phrase for
// that operation; overrides are logged, blocks raise a typed error.
//
// The switch carries no global mutable state: it is an explicit Switch
// value injected into every component that mutates the database, and the
// console/test bypass is a context value that vanishes when the calling
// scope exits.
package killswitch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Config controls the kill switch.
type Config struct {
	// Enabled turns the switch on globally. When false the switch never
	// blocks anything.
	Enabled bool

	// ProtectedEnvironments lists environments in which mutating
	// operations are gated.
	ProtectedEnvironments []string

	// ConfirmationRequired selects hard mode: active operations must be
	// confirmed with the expected phrase. When false the switch is in
	// soft mode and only environment membership is checked.
	ConfirmationRequired bool

	// ConfirmationPattern is a fmt pattern producing the expected phrase
	// from the uppercased operation name. Defaults to "EXECUTE %s".
	ConfirmationPattern string
}

// DefaultConfig protects production with confirmation required.
func DefaultConfig() *Config {
	return &Config{
		Enabled:               true,
		ProtectedEnvironments: []string{"production"},
		ConfirmationRequired:  true,
		ConfirmationPattern:   "EXECUTE %s",
	}
}

// ConfigFromEnv loads config from environment variables:
// TRIGGER_REGISTRY_KILL_SWITCH_ENABLED, TRIGGER_REGISTRY_PROTECTED_ENVS
// (comma-separated), TRIGGER_REGISTRY_KILL_SWITCH_CONFIRM.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("TRIGGER_REGISTRY_KILL_SWITCH_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("TRIGGER_REGISTRY_PROTECTED_ENVS"); v != "" {
		cfg.ProtectedEnvironments = nil
		for _, env := range strings.Split(v, ",") {
			if env = strings.TrimSpace(env); env != "" {
				cfg.ProtectedEnvironments = append(cfg.ProtectedEnvironments, env)
			}
		}
	}
	if v := os.Getenv("TRIGGER_REGISTRY_KILL_SWITCH_CONFIRM"); v != "" {
		cfg.ConfirmationRequired, _ = strconv.ParseBool(v)
	}

	return cfg
}

// Error is returned when the switch blocks an operation. The blocked
// operation never mutates anything. Expected carries the phrase the
// blocking switch would have accepted.
type Error struct {
	Operation   string
	Environment string
	Expected    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("kill switch blocked %s in protected environment %q", e.Operation, e.Environment)
}

// Suggestion returns a recovery hint for display alongside the error.
func (e *Error) Suggestion() string {
	expected := e.Expected
	if expected == "" {
		expected = ExpectedConfirmation("", e.Operation)
	}
	return fmt.Sprintf("supply the confirmation phrase %q to proceed", expected)
}

// Switch gates mutating operations per its Config.
type Switch struct {
	cfg    *Config
	logger *slog.Logger
}

// New creates a Switch. A nil config uses DefaultConfig; a nil logger
// uses slog.Default.
func New(cfg *Config, logger *slog.Logger) *Switch {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Switch{cfg: cfg, logger: logger}
}

// Active reports whether the switch gates operations in environment.
func (s *Switch) Active(environment string) bool {
	return s.cfg.Enabled && slices.Contains(s.cfg.ProtectedEnvironments, environment)
}

// ExpectedConfirmation renders the phrase that confirms operation under
// pattern ("" uses the default "EXECUTE %s").
func ExpectedConfirmation(pattern, operation string) string {
	if pattern == "" {
		pattern = "EXECUTE %s"
	}
	return fmt.Sprintf(pattern, strings.ToUpper(operation))
}

// Check gates one operation. It returns nil when the switch is inactive
// for the environment, when the context carries an override, when the
// switch is in soft mode, or when the supplied confirmation matches the
// expected phrase exactly (logged as OVERRIDDEN). Otherwise it logs
// BLOCKED and returns an *Error.
func (s *Switch) Check(ctx context.Context, operation, environment, confirmation, actor string) error {
	if !s.Active(environment) {
		return nil
	}
	if Overridden(ctx) {
		s.logger.Warn("kill switch OVERRIDDEN by scoped override",
			"operation", operation, "environment", environment, "actor", actor)
		return nil
	}
	if !s.cfg.ConfirmationRequired {
		return nil
	}
	expected := ExpectedConfirmation(s.cfg.ConfirmationPattern, operation)
	if confirmation == expected {
		s.logger.Warn("kill switch OVERRIDDEN",
			"operation", operation, "environment", environment, "actor", actor)
		return nil
	}
	s.logger.Error("kill switch BLOCKED",
		"operation", operation, "environment", environment, "actor", actor)
	return &Error{Operation: operation, Environment: environment, Expected: expected}
}

type overrideKey struct{}

// WithOverride returns a context whose scope bypasses the kill switch.
// The override ends with the context: it cannot leak across unrelated
// operations the way a thread-local flag can.
func WithOverride(ctx context.Context) context.Context {
	return context.WithValue(ctx, overrideKey{}, true)
}

// Overridden reports whether ctx carries a kill switch override.
func Overridden(ctx context.Context) bool {
	v, _ := ctx.Value(overrideKey{}).(bool)
	return v
}
