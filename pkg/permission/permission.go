// Package permission provides the pluggable authorization gate consulted
// before every viewing or mutating trigger operation. Hosts plug in their
// own Checker; when none is configured the registry allows everything.
package permission

import "fmt"

// Action identifies an operation subject to an authorization check.
type Action string

const (
	ActionViewTriggers    Action = "view_triggers"
	ActionEnableTrigger   Action = "enable_trigger"
	ActionDisableTrigger  Action = "disable_trigger"
	ActionDropTrigger     Action = "drop_trigger"
	ActionGenerateTrigger Action = "generate_trigger"
	ActionApplyTrigger    Action = "apply_trigger"
	ActionExecuteSQL      Action = "execute_sql"
)

// Role represents an actor's access level.
type Role string

const (
	// RoleViewer has read-only access (list triggers, view drift reports).
	RoleViewer Role = "viewer"

	// RoleOperator can additionally enable/disable triggers and apply
	// manifests.
	RoleOperator Role = "operator"

	// RoleAdmin can additionally drop and re-execute triggers and run
	// ad hoc SQL capsules.
	RoleAdmin Role = "admin"
)

// RequiredRole returns the minimum role for an action.
func RequiredRole(action Action) Role {
	switch action {
	case ActionViewTriggers:
		return RoleViewer
	case ActionEnableTrigger, ActionDisableTrigger, ActionGenerateTrigger, ActionApplyTrigger:
		return RoleOperator
	default:
		return RoleAdmin
	}
}

// Satisfies reports whether role meets the required level.
// Admin can do everything Operator can; Operator everything Viewer can.
func (r Role) Satisfies(required Role) bool {
	return r.level() >= required.level()
}

func (r Role) level() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleOperator:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// Checker decides whether an actor may perform an action in an environment.
type Checker interface {
	Can(actor string, action Action, environment string) bool
}

// Error is returned when an actor is denied an action. The denied
// operation never mutates anything.
type Error struct {
	Actor       string
	Action      Action
	Environment string
}

func (e *Error) Error() string {
	return fmt.Sprintf("actor %q is not permitted to %s in environment %q", e.Actor, e.Action, e.Environment)
}

// Suggestion returns a recovery hint for display alongside the error.
func (e *Error) Suggestion() string {
	return fmt.Sprintf("request the %s role or have an authorized actor perform %s", RequiredRole(e.Action), e.Action)
}

// Check consults the checker and converts a denial into an *Error.
// A nil checker allows everything.
func Check(c Checker, actor string, action Action, environment string) error {
	if c == nil {
		return nil
	}
	if c.Can(actor, action, environment) {
		return nil
	}
	return &Error{Actor: actor, Action: action, Environment: environment}
}

// AllowAll permits every action. Used when no checker is configured.
type AllowAll struct{}

// Can always returns true.
func (AllowAll) Can(string, Action, string) bool { return true }

// RoleChecker authorizes by looking up each actor's role in a static map.
// Unknown actors get the fallback role (viewer unless configured otherwise).
type RoleChecker struct {
	Roles    map[string]Role
	Fallback Role
}

// Can reports whether the actor's role satisfies the action's required role.
func (c *RoleChecker) Can(actor string, action Action, _ string) bool {
	role, ok := c.Roles[actor]
	if !ok {
		role = c.Fallback
	}
	return role.Satisfies(RequiredRole(action))
}
