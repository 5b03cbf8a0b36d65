// Package accesscontrol decides whether the current user may act on an
// object in a zone.
//
// The identity layer depends only on the Manager interface. Rules is the
// in-process implementation used by the CLI and by tests.
package accesscontrol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Permission is a set of access bits.
type Permission uint8

const (
	CanRead Permission = 1 << iota
	CanWrite
	CanDelete

	CanAnything = CanRead | CanWrite | CanDelete
)

func (p Permission) String() string {
	if p == 0 {
		return "none"
	}
	var parts []string
	if p&CanRead != 0 {
		parts = append(parts, "read")
	}
	if p&CanWrite != 0 {
		parts = append(parts, "write")
	}
	if p&CanDelete != 0 {
		parts = append(parts, "delete")
	}
	return strings.Join(parts, "|")
}

// Zones and well-known object ids.
const (
	ZoneAuthorizables = "authorizables"
	ZoneAdmin         = "admin"

	// AdminUsers and AdminGroups are the ZoneAdmin objects that gate
	// creation of users and groups.
	AdminUsers  = "users"
	AdminGroups = "groups"

	// Any matches every object id in a zone.
	Any = "*"

	AdminUser = "admin"
	Anonymous = "anonymous"
)

// Manager checks permissions for one current user.
type Manager interface {
	// Check returns a *DeniedError when the current user lacks perm on id
	// in zone.
	Check(ctx context.Context, zone, id string, perm Permission) error

	// CurrentUserID returns the user the checks are made for.
	CurrentUserID() string
}

// DeniedError reports a failed permission check.
type DeniedError struct {
	Zone       string
	ID         string
	Permission Permission
	User       string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("ACCESS_DENIED: %s may not %s %s:%s", e.User, e.Permission, e.Zone, e.ID)
}

// IsAccessDenied reports whether err is or wraps a *DeniedError.
func IsAccessDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}

type ruleKey struct {
	zone string
	id   string
}

// Rules is a rule-table Manager.
//
// Evaluation order: admins are always allowed; an explicit denial on the
// object (or Any) refuses; users may read and write their own authorizable;
// otherwise every requested bit must be granted on the object or on Any.
//
// Thread-safety: safe for concurrent use.
type Rules struct {
	user  string
	admin bool

	mu      sync.RWMutex
	grants  map[ruleKey]Permission
	denials map[ruleKey]Permission
}

var _ Manager = (*Rules)(nil)

// NewRules returns an empty rule table for user. The user is an admin when
// listed in admins, or when admins is empty and the user is AdminUser.
func NewRules(user string, admins ...string) *Rules {
	if user == "" {
		user = Anonymous
	}
	if len(admins) == 0 {
		admins = []string{AdminUser}
	}
	r := &Rules{
		user:    user,
		grants:  make(map[ruleKey]Permission),
		denials: make(map[ruleKey]Permission),
	}
	for _, a := range admins {
		if a == user {
			r.admin = true
		}
	}
	return r
}

// Grant adds perm on (zone, id). It returns r for chaining.
func (r *Rules) Grant(zone, id string, perm Permission) *Rules {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[ruleKey{zone, id}] |= perm
	return r
}

// Deny refuses perm on (zone, id) regardless of grants. It returns r for
// chaining.
func (r *Rules) Deny(zone, id string, perm Permission) *Rules {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denials[ruleKey{zone, id}] |= perm
	return r
}

// IsAdmin reports whether the current user bypasses the rule table.
func (r *Rules) IsAdmin() bool {
	return r.admin
}

func (r *Rules) CurrentUserID() string {
	return r.user
}

func (r *Rules) Check(ctx context.Context, zone, id string, perm Permission) error {
	if r.admin {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	denied := r.denials[ruleKey{zone, id}] | r.denials[ruleKey{zone, Any}]
	if denied&perm != 0 {
		return r.denied(zone, id, perm)
	}
	if zone == ZoneAuthorizables && id == r.user && perm&^(CanRead|CanWrite) == 0 {
		return nil
	}
	granted := r.grants[ruleKey{zone, id}] | r.grants[ruleKey{zone, Any}]
	if granted&perm == perm {
		return nil
	}
	return r.denied(zone, id, perm)
}

func (r *Rules) denied(zone, id string, perm Permission) error {
	return &DeniedError{Zone: zone, ID: id, Permission: perm, User: r.user}
}
