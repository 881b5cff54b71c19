package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasAnyRole(t *testing.T) {
	c := &Claims{Roles: []string{"manager", "member"}}

	assert.True(t, c.HasAnyRole("admin", "manager"))
	assert.False(t, c.HasAnyRole("admin", "service"))
}

func TestHasAnyRoleNilClaims(t *testing.T) {
	var c *Claims
	assert.False(t, c.HasAnyRole("admin"))
}

func TestOwnsUnit(t *testing.T) {
	c := &Claims{UserID: "user-1"}

	assert.True(t, c.OwnsUnit([]string{"user-0", "user-1"}))
	assert.False(t, c.OwnsUnit([]string{"user-0", "user-2"}))
}

func TestOwnsUnitNilClaims(t *testing.T) {
	var c *Claims
	assert.False(t, c.OwnsUnit([]string{"user-1"}))
}

func TestAdmitByRole(t *testing.T) {
	c := &Claims{Roles: []string{"admin"}}
	assert.True(t, Admit(c, []string{"admin", "manager"}, []string{"user-2"}))
}

func TestAdmitByUnitOwnership(t *testing.T) {
	c := &Claims{UserID: "user-1", Roles: []string{"member"}}
	assert.True(t, Admit(c, []string{"admin", "manager"}, []string{"user-1", "user-3"}))
}

func TestAdmitDeniesWhenNeitherRoleNorOwnership(t *testing.T) {
	c := &Claims{UserID: "user-1", Roles: []string{"member"}}
	assert.False(t, Admit(c, []string{"admin", "manager"}, []string{"user-2"}))
}

func TestAdmitDeniesWhenEndpointNotUnitScoped(t *testing.T) {
	c := &Claims{UserID: "user-1", Roles: []string{"member"}}
	assert.False(t, Admit(c, []string{"admin"}, nil))
}
