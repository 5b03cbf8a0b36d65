package accesscontrol

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRules_AdminBypasses(t *testing.T) {
	r := NewRules(AdminUser).Deny(ZoneAuthorizables, "bob", CanAnything)
	assert.True(t, r.IsAdmin())
	assert.NoError(t, r.Check(context.Background(), ZoneAuthorizables, "bob", CanDelete))
}

func TestRules_CustomAdmins(t *testing.T) {
	assert.True(t, NewRules("root", "root", "ops").IsAdmin())
	assert.False(t, NewRules(AdminUser, "root").IsAdmin())
}

func TestRules_DefaultDenies(t *testing.T) {
	r := NewRules("alice")
	err := r.Check(context.Background(), ZoneAuthorizables, "bob", CanRead)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))
	assert.True(t, IsAccessDenied(fmt.Errorf("find: %w", err)))

	var de *DeniedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "alice", de.User)
	assert.Equal(t, "bob", de.ID)
	assert.Equal(t, CanRead, de.Permission)
}

func TestRules_SelfAccess(t *testing.T) {
	r := NewRules("alice")
	ctx := context.Background()
	assert.NoError(t, r.Check(ctx, ZoneAuthorizables, "alice", CanRead|CanWrite))
	assert.Error(t, r.Check(ctx, ZoneAuthorizables, "alice", CanDelete))

	r.Deny(ZoneAuthorizables, "alice", CanWrite)
	assert.Error(t, r.Check(ctx, ZoneAuthorizables, "alice", CanWrite))
}

func TestRules_GrantsAndDenials(t *testing.T) {
	ctx := context.Background()
	r := NewRules("alice").
		Grant(ZoneAuthorizables, Any, CanRead).
		Grant(ZoneAuthorizables, "staff", CanWrite).
		Deny(ZoneAuthorizables, "secret", CanRead)

	assert.NoError(t, r.Check(ctx, ZoneAuthorizables, "bob", CanRead))
	assert.NoError(t, r.Check(ctx, ZoneAuthorizables, "staff", CanRead|CanWrite))
	assert.Error(t, r.Check(ctx, ZoneAuthorizables, "bob", CanWrite))
	assert.Error(t, r.Check(ctx, ZoneAuthorizables, "secret", CanRead))
	assert.Error(t, r.Check(ctx, ZoneAdmin, AdminUsers, CanWrite))
}

func TestRules_AnonymousDefault(t *testing.T) {
	assert.Equal(t, Anonymous, NewRules("").CurrentUserID())
}

func TestPermission_String(t *testing.T) {
	assert.Equal(t, "none", Permission(0).String())
	assert.Equal(t, "read|write", (CanRead | CanWrite).String())
	assert.Equal(t, "read|write|delete", CanAnything.String())
}
