package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredRole(t *testing.T) {
	assert.Equal(t, RoleViewer, RequiredRole(ActionViewTriggers))
	assert.Equal(t, RoleOperator, RequiredRole(ActionEnableTrigger))
	assert.Equal(t, RoleOperator, RequiredRole(ActionDisableTrigger))
	assert.Equal(t, RoleOperator, RequiredRole(ActionApplyTrigger))
	assert.Equal(t, RoleAdmin, RequiredRole(ActionDropTrigger))
	assert.Equal(t, RoleAdmin, RequiredRole(ActionExecuteSQL))
}

func TestRoleSatisfies(t *testing.T) {
	assert.True(t, RoleAdmin.Satisfies(RoleViewer))
	assert.True(t, RoleAdmin.Satisfies(RoleAdmin))
	assert.True(t, RoleOperator.Satisfies(RoleViewer))
	assert.False(t, RoleOperator.Satisfies(RoleAdmin))
	assert.False(t, RoleViewer.Satisfies(RoleOperator))
	assert.False(t, Role("bogus").Satisfies(RoleViewer))
}

func TestCheck_NilCheckerAllowsAll(t *testing.T) {
	assert.NoError(t, Check(nil, "anyone", ActionDropTrigger, "production"))
}

func TestCheck_AllowAll(t *testing.T) {
	assert.NoError(t, Check(AllowAll{}, "anyone", ActionDropTrigger, "production"))
}

func TestCheck_RoleChecker(t *testing.T) {
	checker := &RoleChecker{
		Roles:    map[string]Role{"alice": RoleAdmin, "bob": RoleOperator},
		Fallback: RoleViewer,
	}

	assert.NoError(t, Check(checker, "alice", ActionDropTrigger, "staging"))
	assert.NoError(t, Check(checker, "bob", ActionEnableTrigger, "staging"))

	err := Check(checker, "bob", ActionDropTrigger, "staging")
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "bob", perr.Actor)
	assert.Equal(t, ActionDropTrigger, perr.Action)
	assert.Contains(t, perr.Suggestion(), "admin")

	// Unknown actors fall back to viewer.
	assert.NoError(t, Check(checker, "mallory", ActionViewTriggers, "staging"))
	assert.Error(t, Check(checker, "mallory", ActionEnableTrigger, "staging"))
}
